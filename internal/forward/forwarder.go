package forward

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"esl-bridge/internal/events"
	"esl-bridge/internal/telemetry"
)

// Sink is one downstream destination. Send must honour ctx.
type Sink interface {
	Name() string
	Send(ctx context.Context, env Envelope, payload []byte) error
}

type Forwarder struct {
	sinks   []Sink
	timeout time.Duration
	log     *slog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

func NewForwarder(log *slog.Logger, m *telemetry.Metrics, timeout time.Duration, sinks ...Sink) *Forwarder {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Forwarder{
		sinks:   sinks,
		timeout: timeout,
		log:     log.With("component", "forwarder"),
		metrics: m,
		now:     time.Now,
	}
}

var _ events.Forwarder = (*Forwarder)(nil)

// Forward hands the event to every sink in the background and returns
// immediately. Failures are logged and dropped.
func (f *Forwarder) Forward(eventName string, ev events.NormalizedEvent, details any) {
	env := NewEnvelope(eventName, ev, details, f.now())
	payload, err := json.Marshal(env)
	if err != nil {
		f.log.Error("encode forward envelope", "event", eventName, "err", err)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		f.log.Debug("forwarder closed, dropping event", "event", eventName)
		return
	}
	for _, s := range f.sinks {
		f.wg.Add(1)
		go f.send(s, env, payload)
	}
}

func (f *Forwarder) send(s Sink, env Envelope, payload []byte) {
	defer f.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	if err := s.Send(ctx, env, payload); err != nil {
		f.metrics.Forwarded(s.Name(), "error")
		f.log.Error("forward failed", "sink", s.Name(), "event", env.EventName, "err", err)
		return
	}
	f.metrics.Forwarded(s.Name(), "ok")
}

// Close stops accepting events and waits for in-flight sends until ctx is
// done.
func (f *Forwarder) Close(ctx context.Context) error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
