package esl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

var ErrClosed = errors.New("esl: session closed")

// Config describes the switch endpoint and the event subscription.
type Config struct {
	Addr     string
	Password string
	Format   Format

	DialTimeout    time.Duration
	ReconnectDelay time.Duration

	// Events are subscribed by name; Subclasses are appended after CUSTOM.
	Events     []string
	Subclasses []string
}

func (c Config) withDefaults() Config {
	out := c
	if out.Format == "" {
		out.Format = FormatPlain
	}
	if out.DialTimeout <= 0 {
		out.DialTimeout = 5 * time.Second
	}
	if out.ReconnectDelay <= 0 {
		out.ReconnectDelay = 5 * time.Second
	}
	return out
}

// Session owns the control-channel connection to the switch. It reconnects
// until closed and delivers events in arrival order on Events().
type Session struct {
	cfg Config
	log *slog.Logger

	mu      sync.RWMutex
	cur     *conn
	onState func(connected bool)

	events    chan *Event
	closed    chan struct{}
	closeOnce sync.Once
}

func NewSession(cfg Config, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		cfg:    cfg.withDefaults(),
		log:    log.With("component", "esl"),
		events: make(chan *Event, eventBuffer),
		closed: make(chan struct{}),
	}
}

// OnStateChange registers a callback for connect/disconnect transitions.
// It must be set before Run.
func (s *Session) OnStateChange(fn func(connected bool)) { s.onState = fn }

// SetSubscriptions replaces the subscribed event names and CUSTOM
// subclasses. It must be called before Run.
func (s *Session) SetSubscriptions(events, subclasses []string) {
	s.cfg.Events = events
	s.cfg.Subclasses = subclasses
}

// Events returns the ordered inbound event stream. It is never closed.
func (s *Session) Events() <-chan *Event { return s.events }

func (s *Session) Connected() bool { return s.conn() != nil }

// Run connects and keeps the session alive until ctx is done or Close is
// called.
func (s *Session) Run(ctx context.Context) error {
	for {
		err := s.runOnce(ctx)
		if s.isClosed() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Warn("esl session ended", "err", err, "retry_in", s.cfg.ReconnectDelay.String())

		t := time.NewTimer(s.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-s.closed:
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (s *Session) runOnce(ctx context.Context) error {
	s.log.Info("connecting to FreeSWITCH ESL", "addr", s.cfg.Addr)
	c, err := dial(ctx, s.cfg.Addr, s.cfg.Password, s.cfg.DialTimeout, s.log)
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { c.close(ctx.Err()) })
	defer stop()

	subCtx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	m, err := c.command(subCtx, s.subscribeCommand())
	cancel()
	if err != nil {
		c.close(err)
		return fmt.Errorf("esl: subscribe: %w", err)
	}
	if reply := m.headers.Get("Reply-Text"); !strings.HasPrefix(reply, "+OK") {
		c.close(nil)
		return fmt.Errorf("esl: subscribe rejected: %s", reply)
	}

	if !s.setConn(c) {
		c.close(ErrClosed)
		return ErrClosed
	}
	defer s.clearConn(c)
	s.log.Info("esl connected", "addr", s.cfg.Addr, "format", string(s.cfg.Format))

	for ev := range c.events {
		select {
		case s.events <- ev:
		case <-s.closed:
			return ErrClosed
		}
	}
	return c.closedErr()
}

func (s *Session) subscribeCommand() string {
	parts := []string{"event", string(s.cfg.Format)}
	for _, name := range s.cfg.Events {
		if name != "CUSTOM" {
			parts = append(parts, name)
		}
	}
	if len(s.cfg.Subclasses) > 0 {
		parts = append(parts, "CUSTOM")
		parts = append(parts, s.cfg.Subclasses...)
	}
	if len(parts) == 2 {
		parts = append(parts, "ALL")
	}
	return strings.Join(parts, " ")
}

// Background issues "bgapi command" tagged with jobID. A nil Reply means the
// switch accepted the job and the result will arrive as a BACKGROUND_JOB
// event; a rejected job resolves immediately with an EventReply and a
// connection lost mid-command with a FailureReply.
func (s *Session) Background(ctx context.Context, command, jobID string) (Reply, error) {
	if !validCommandText(command) || !validCommandText(jobID) {
		return nil, ErrInvalidCommand
	}
	c := s.conn()
	if c == nil {
		return nil, ErrNotConnected
	}
	m, err := c.command(ctx, "bgapi "+command+"\nJob-UUID: "+jobID)
	if errors.Is(err, ErrDisconnected) {
		return FailureReply{Err: err}, nil
	}
	if err != nil {
		return nil, err
	}
	text := m.headers.Get("Reply-Text")
	if strings.HasPrefix(text, "+OK") {
		return nil, nil
	}
	return EventReply{JobID: jobID, Body: map[string]any{"response": text}}, nil
}

// validCommandText reports whether s fits on one command line.
func validCommandText(s string) bool {
	return strings.TrimSpace(s) != "" && !strings.ContainsAny(s, "\r\n")
}

// Close ends the session once. Later calls are no-ops.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		if c := s.conn(); c != nil {
			_ = c.write("exit")
			c.close(ErrClosed)
		}
		s.log.Info("esl connection closed")
	})
	return nil
}

func (s *Session) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *Session) conn() *conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

func (s *Session) setConn(c *conn) bool {
	s.mu.Lock()
	if s.isClosed() {
		s.mu.Unlock()
		return false
	}
	s.cur = c
	s.mu.Unlock()
	if s.onState != nil {
		s.onState(true)
	}
	return true
}

func (s *Session) clearConn(c *conn) {
	s.mu.Lock()
	if s.cur == c {
		s.cur = nil
	}
	s.mu.Unlock()
	if s.onState != nil {
		s.onState(false)
	}
}
