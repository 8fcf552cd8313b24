// Package events routes inbound switch events to a static table of handlers.
package events

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"esl-bridge/internal/esl"
	"esl-bridge/internal/telemetry"
)

// Handler consumes one normalized event. It must not block on network I/O.
type Handler interface {
	Handle(ev NormalizedEvent)
}

type HandlerFunc func(ev NormalizedEvent)

func (f HandlerFunc) Handle(ev NormalizedEvent) { f(ev) }

// Dispatcher maps event keys to handlers. The table is an allow-list:
// events without a handler are dropped. Register is not safe to call once
// Run has started.
type Dispatcher struct {
	handlers map[Key]Handler
	log      *slog.Logger
	metrics  *telemetry.Metrics
	now      func() time.Time
}

func NewDispatcher(log *slog.Logger, m *telemetry.Metrics) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		handlers: make(map[Key]Handler),
		log:      log.With("component", "dispatcher"),
		metrics:  m,
		now:      time.Now,
	}
}

// Register binds key to h, replacing any previous handler.
func (d *Dispatcher) Register(key Key, h Handler) {
	d.handlers[key] = h
}

// Subscriptions lists the event names and CUSTOM subclasses the table
// needs from the switch.
func (d *Dispatcher) Subscriptions() (names, subclasses []string) {
	seen := map[string]bool{}
	for k := range d.handlers {
		if k.Name == EventCustom {
			if k.Subclass != "" {
				subclasses = append(subclasses, k.Subclass)
			}
			continue
		}
		if !seen[k.Name] {
			seen[k.Name] = true
			names = append(names, k.Name)
		}
	}
	sort.Strings(names)
	sort.Strings(subclasses)
	return names, subclasses
}

// Dispatch invokes the handler registered for raw, if any, and reports
// whether one ran.
func (d *Dispatcher) Dispatch(raw *esl.Event) bool {
	key := Key{Name: raw.Name()}
	if key.Name == EventCustom {
		key.Subclass = raw.Subclass()
	}
	h, ok := d.handlers[key]
	if !ok {
		d.metrics.EventDropped()
		return false
	}

	ev := Normalize(raw, d.now())
	d.invoke(key, h, ev)
	d.metrics.EventDispatched(key.String())
	return true
}

func (d *Dispatcher) invoke(key Key, h Handler, ev NormalizedEvent) {
	defer func() {
		if p := recover(); p != nil {
			d.log.Error("event handler panicked", "event", key.String(), "panic", p)
		}
	}()
	h.Handle(ev)
}

// Run dispatches events from in, one at a time and in order, until ctx is
// done or in is closed.
func (d *Dispatcher) Run(ctx context.Context, in <-chan *esl.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-in:
			if !ok {
				return
			}
			d.Dispatch(raw)
		}
	}
}
