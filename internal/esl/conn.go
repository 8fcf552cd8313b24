package esl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

var (
	ErrAuthFailed   = errors.New("esl: authentication failed")
	ErrDisconnected = errors.New("esl: connection closed")
	ErrNotConnected = errors.New("esl: not connected")

	// ErrInvalidCommand rejects text that would end or split a frame.
	ErrInvalidCommand = errors.New("esl: invalid command")
)

const eventBuffer = 256

// conn is one authenticated event socket connection. Commands are
// serialized and at most one waits for a reply; a reply arriving with no
// waiter is dropped.
type conn struct {
	nc  net.Conn
	r   *bufio.Reader
	log *slog.Logger

	cmdMu  sync.Mutex
	mu     sync.Mutex
	waiter chan message
	events chan *Event

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

func dial(ctx context.Context, addr, password string, timeout time.Duration, log *slog.Logger) (*conn, error) {
	d := net.Dialer{Timeout: timeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("esl: dial %s: %w", addr, err)
	}
	c := newConn(nc, log)
	if err := c.authenticate(password, timeout); err != nil {
		_ = nc.Close()
		return nil, err
	}
	go c.readLoop()
	return c, nil
}

func newConn(nc net.Conn, log *slog.Logger) *conn {
	return &conn{
		nc:      nc,
		r:       bufio.NewReader(nc),
		log:     log,
		events: make(chan *Event, eventBuffer),
		done:   make(chan struct{}),
	}
}

func (c *conn) authenticate(password string, timeout time.Duration) error {
	if timeout > 0 {
		_ = c.nc.SetDeadline(time.Now().Add(timeout))
		defer func() { _ = c.nc.SetDeadline(time.Time{}) }()
	}

	m, err := readMessage(c.r)
	if err != nil {
		return fmt.Errorf("esl: read auth request: %w", err)
	}
	if m.contentType() != ctAuthRequest {
		return fmt.Errorf("esl: unexpected greeting %q", m.contentType())
	}
	if err := c.write("auth " + password); err != nil {
		return fmt.Errorf("esl: write auth: %w", err)
	}
	m, err = readMessage(c.r)
	if err != nil {
		return fmt.Errorf("esl: read auth reply: %w", err)
	}
	if !strings.HasPrefix(m.headers.Get("Reply-Text"), "+OK") {
		return ErrAuthFailed
	}
	return nil
}

func (c *conn) write(cmd string) error {
	_, err := io.WriteString(c.nc, cmd+"\n\n")
	return err
}

// command writes cmd and waits for its command/reply or api/response frame.
func (c *conn) command(ctx context.Context, cmd string) (message, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	if strings.Contains(cmd, "\n\n") || strings.ContainsRune(cmd, '\r') || strings.HasSuffix(cmd, "\n") {
		return message{}, ErrInvalidCommand
	}
	select {
	case <-c.done:
		return message{}, c.closedErr()
	default:
	}

	reply := make(chan message, 1)
	c.setWaiter(reply)
	defer c.clearWaiter(reply)

	if err := c.write(cmd); err != nil {
		c.close(err)
		return message{}, fmt.Errorf("esl: write command: %w", err)
	}
	select {
	case m := <-reply:
		return m, nil
	case <-c.done:
		return message{}, c.closedErr()
	case <-ctx.Done():
		// A late reply would be paired with the next command, so the
		// connection is no longer usable.
		c.close(ctx.Err())
		return message{}, ctx.Err()
	}
}

func (c *conn) readLoop() {
	defer close(c.events)
	for {
		m, err := readMessage(c.r)
		if err != nil {
			c.close(err)
			return
		}
		switch ct := m.contentType(); ct {
		case ctCommandReply, ctAPIResponse:
			w := c.takeWaiter()
			if w == nil {
				c.log.Warn("esl reply without pending command dropped",
					"content_type", ct, "reply_text", m.headers.Get("Reply-Text"))
				continue
			}
			w <- m
		case ctEventPlain, ctEventJSON:
			ev, err := decodeEvent(m)
			if err != nil {
				c.log.Warn("esl event decode failed", "err", err)
				continue
			}
			select {
			case c.events <- ev:
			case <-c.done:
				return
			}
		case ctDisconnectNotice, ctRudeRejection:
			c.close(fmt.Errorf("%w: %s", ErrDisconnected, ct))
			return
		default:
			c.log.Debug("esl frame ignored", "content_type", ct)
		}
	}
}

func (c *conn) setWaiter(ch chan message) {
	c.mu.Lock()
	c.waiter = ch
	c.mu.Unlock()
}

func (c *conn) clearWaiter(ch chan message) {
	c.mu.Lock()
	if c.waiter == ch {
		c.waiter = nil
	}
	c.mu.Unlock()
}

// takeWaiter hands the next reply to the waiting command, once.
func (c *conn) takeWaiter() chan message {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := c.waiter
	c.waiter = nil
	return w
}

func (c *conn) close(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		close(c.done)
		_ = c.nc.Close()
	})
}

func (c *conn) closedErr() error {
	<-c.done
	if c.err == nil {
		return ErrDisconnected
	}
	if errors.Is(c.err, ErrDisconnected) {
		return c.err
	}
	return fmt.Errorf("%w: %v", ErrDisconnected, c.err)
}
