package main

import (
	"context"
	"errors"
	"log/slog"

	"esl-bridge/internal/bgjob"
	"esl-bridge/internal/config"
	"esl-bridge/internal/esl"
	"esl-bridge/internal/events"
	"esl-bridge/internal/telemetry"
)

// core is the switch-facing half of the bridge: the ESL session, the
// background job correlator and the event dispatcher feeding it.
type core struct {
	log        *slog.Logger
	session    *esl.Session
	correlator *bgjob.Correlator
	dispatcher *events.Dispatcher
}

func newCore(cfg config.Config, log *slog.Logger, m *telemetry.Metrics, fwd events.Forwarder, limiter bgjob.Limiter) *core {
	sess := esl.NewSession(esl.Config{
		Addr:           cfg.ESLAddr(),
		Password:       cfg.ESL.Password,
		Format:         esl.Format(cfg.ESL.EventFormat),
		DialTimeout:    cfg.ESL.DialTimeout,
		ReconnectDelay: cfg.ESL.ReconnectDelay,
	}, log)
	sess.OnStateChange(m.SetConnected)

	correlator := bgjob.NewCorrelator(sess, bgjob.Options{Log: log, Metrics: m, Limiter: limiter})

	disp := events.NewDispatcher(log, m)
	events.RegisterDefaults(disp, events.Deps{
		Log:       log,
		Forwarder: fwd,
		Policy:    events.ParsePolicy(cfg.Webhook.ForwardEvents),
		Jobs:      correlator,
	})
	sess.SetSubscriptions(disp.Subscriptions())

	return &core{log: log, session: sess, correlator: correlator, dispatcher: disp}
}

// start runs the session and the dispatcher until ctx is cancelled.
func (c *core) start(ctx context.Context) {
	go func() {
		if err := c.session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.log.Error("esl session stopped", "err", err)
		}
	}()
	go c.dispatcher.Run(ctx, c.session.Events())
}
