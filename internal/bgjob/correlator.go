// Package bgjob pairs background commands with the replies the switch
// delivers later on the event stream.
package bgjob

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"esl-bridge/internal/esl"
	"esl-bridge/internal/telemetry"
)

// Transport issues a background command tagged with jobID. A nil Reply means
// the result will be delivered later through Correlator.Deliver.
type Transport interface {
	Background(ctx context.Context, command, jobID string) (esl.Reply, error)
}

// Limiter caps the number of commands in flight.
type Limiter interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context)
}

type Options struct {
	Log     *slog.Logger
	Metrics *telemetry.Metrics
	Limiter Limiter

	// NewJobID defaults to uuid.NewString.
	NewJobID func() string
}

type pending struct {
	command  string
	issuedAt time.Time
	deadline time.Time
	result   chan esl.Reply
}

// Correlator owns the pending-command registry. It is safe for concurrent
// use by request handlers and the dispatch loop.
type Correlator struct {
	transport Transport
	log       *slog.Logger
	metrics   *telemetry.Metrics
	limiter   Limiter
	newJobID  func() string

	mu      sync.Mutex
	pending map[string]*pending
}

func NewCorrelator(t Transport, opts Options) *Correlator {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	newID := opts.NewJobID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Correlator{
		transport: t,
		log:       log.With("component", "bgjob"),
		metrics:   opts.Metrics,
		limiter:   opts.Limiter,
		newJobID:  newID,
		pending:   make(map[string]*pending),
	}
}

// Execute sends command and waits for its correlated reply or for timeout to
// elapse. ctx scopes only the limiter round trip; once the command is sent
// the timeout is the sole cancellation.
func (c *Correlator) Execute(ctx context.Context, command string, timeout time.Duration) (string, error) {
	if c.limiter != nil {
		ok, err := c.limiter.Acquire(ctx)
		if err != nil {
			c.log.Warn("concurrency cap unavailable, continuing", "err", err)
		} else if !ok {
			c.metrics.CommandFinished("busy")
			return "", ErrBusy
		} else {
			defer c.limiter.Release(context.WithoutCancel(ctx))
		}
	}

	jobID := c.newJobID()
	now := time.Now()
	p := &pending{
		command:  command,
		issuedAt: now,
		deadline: now.Add(timeout),
		result:   make(chan esl.Reply, 1),
	}
	c.register(jobID, p)

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	ack, err := c.transport.Background(sendCtx, command, jobID)
	cancel()
	if err != nil {
		c.remove(jobID)
		c.metrics.CommandFinished("transport_error")
		return "", &TransportError{JobID: jobID, Err: err}
	}
	if ack != nil {
		c.Deliver(jobID, ack)
	}

	timer := time.NewTimer(time.Until(p.deadline))
	defer timer.Stop()

	var reply esl.Reply
	select {
	case reply = <-p.result:
	case <-timer.C:
		if !c.remove(jobID) {
			// Deliver won the race; its value is already buffered.
			reply = <-p.result
			break
		}
		c.metrics.CommandFinished("timeout")
		c.log.Warn("background command timed out", "job_uuid", jobID, "command", command, "timeout", timeout.String())
		return "", &TimeoutError{JobID: jobID, Command: command, After: timeout}
	}

	body, err := classify(jobID, reply)
	if err != nil {
		c.metrics.CommandFinished(outcomeOf(err))
		return "", err
	}
	c.metrics.CommandFinished("ok")
	c.log.Debug("background command resolved", "job_uuid", jobID, "elapsed", time.Since(p.issuedAt).String())
	return body, nil
}

// Deliver resolves the pending command for jobID. It reports whether a
// command was waiting; unknown or already resolved ids are ignored.
func (c *Correlator) Deliver(jobID string, reply esl.Reply) bool {
	c.mu.Lock()
	p, ok := c.pending[jobID]
	if ok {
		delete(c.pending, jobID)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	c.metrics.PendingAdd(-1)
	p.result <- reply
	return true
}

// Pending returns the number of commands awaiting a reply.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator) register(jobID string, p *pending) {
	c.mu.Lock()
	c.pending[jobID] = p
	c.mu.Unlock()
	c.metrics.PendingAdd(1)
}

func (c *Correlator) remove(jobID string) bool {
	c.mu.Lock()
	_, ok := c.pending[jobID]
	if ok {
		delete(c.pending, jobID)
	}
	c.mu.Unlock()
	if ok {
		c.metrics.PendingAdd(-1)
	}
	return ok
}

// classify extracts the reply body, checking the variants in priority order:
// a bare string, a "response" field, a nested data._body field, then a
// transport failure.
func classify(jobID string, reply esl.Reply) (string, error) {
	switch r := reply.(type) {
	case esl.RawReply:
		return string(r), nil
	case esl.EventReply:
		if s, ok := r.Body["response"].(string); ok {
			return s, nil
		}
		if data, ok := r.Body["data"].(map[string]any); ok {
			if s, ok := data["_body"].(string); ok {
				return s, nil
			}
		}
	case esl.FailureReply:
		return "", &TransportError{JobID: jobID, Err: r.Err}
	}
	return "", &ProtocolError{JobID: jobID, Reason: "unexpected response shape"}
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, ErrTransport):
		return "transport_error"
	case errors.Is(err, ErrProtocol):
		return "protocol_error"
	default:
		return "error"
	}
}
