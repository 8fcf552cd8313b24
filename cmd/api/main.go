package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"esl-bridge/internal/bgjob"
	"esl-bridge/internal/config"
	"esl-bridge/internal/forward"
	"esl-bridge/internal/httpapi"
	"esl-bridge/internal/registration"
	"esl-bridge/internal/telemetry"
	"esl-bridge/pkg/logger"
	"esl-bridge/pkg/utils"
)

const commandCapKey = "esl-bridge:commands:inflight"

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, cfg.App.LogLevel)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)

	// Forwarding sinks
	sinks := []forward.Sink{forward.NewWebhookSink(cfg.Webhook.URL, &http.Client{Timeout: cfg.Webhook.Timeout}, log)}
	var kafkaSink *forward.KafkaSink
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaSink = forward.NewKafkaSink(forward.KafkaConfig{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic, ClientID: "esl-bridge"})
		sinks = append(sinks, kafkaSink)
		log.Info("kafka mirror enabled", "topic", cfg.Kafka.Topic)
	}
	fwd := forward.NewForwarder(log, metrics, cfg.Webhook.Timeout, sinks...)

	var limiter bgjob.Limiter
	if cfg.RedisEnabled() {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		limiter = bgjob.NewRedisLimiter(rdb, commandCapKey, cfg.Commands.ConcurrencyLimit, 2*cfg.Commands.Timeout, log)
		log.Info("command concurrency cap enabled", "limit", cfg.Commands.ConcurrencyLimit)
	}

	// Transport, correlator and event routing
	bridge := newCore(cfg, log, metrics, fwd, limiter)
	bridge.start(rootCtx)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	registerRoutes(r, httpapi.Handlers{
		Session:        bridge.session,
		Registrations:  registration.NewService(bridge.correlator, cfg.Commands.Timeout, log),
		Commands:       bridge.correlator,
		CommandTimeout: cfg.Commands.Timeout,
	}, reg)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.Commands.Timeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logBanner(log, cfg)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	_ = bridge.session.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	if err := fwd.Close(shutdownCtx); err != nil {
		log.Warn("forwarder did not drain", "err", err)
	}
	if kafkaSink != nil {
		if err := kafkaSink.Close(); err != nil {
			log.Warn("kafka writer close failed", "err", err)
		}
	}
}

func logBanner(log *slog.Logger, cfg config.Config) {
	log.Info("api listening", "addr", cfg.HTTPAddr(), "env", cfg.App.Env, "esl", cfg.ESLAddr())
	ifaces, err := utils.ExternalIPv4()
	if err != nil {
		log.Warn("list network interfaces failed", "err", err)
		return
	}
	for name, ips := range ifaces {
		log.Info("reachable on", "interface", name, "ips", ips, "port", cfg.App.Port)
	}
}
