// Command gateway runs the WebSocket dispatch plane: it wires
// ConnectionRegistry, PresenceStore, TokenVerifier, OrderingService,
// ReplayControl, the AMQP Publisher and MetricsRegistry together and
// serves the WS and admin HTTP listeners described in spec.md §6,
// grounded on ws/main.go's load-config/build-server/wait-for-signal
// shape.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "go.uber.org/automaxprocs"

	"github.com/adred-codev/eventgate/internal/adminapi"
	"github.com/adred-codev/eventgate/internal/auth"
	"github.com/adred-codev/eventgate/internal/broker"
	"github.com/adred-codev/eventgate/internal/config"
	"github.com/adred-codev/eventgate/internal/dispatcher"
	"github.com/adred-codev/eventgate/internal/health"
	"github.com/adred-codev/eventgate/internal/logging"
	"github.com/adred-codev/eventgate/internal/metrics"
	"github.com/adred-codev/eventgate/internal/ordering"
	"github.com/adred-codev/eventgate/internal/presence"
	"github.com/adred-codev/eventgate/internal/registry"
	"github.com/adred-codev/eventgate/internal/replay"
)

func main() {
	cfg, err := config.Load(nil)
	if err != nil {
		panic(err)
	}

	logger := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	cfg.LogConfig(logger)

	verifier := auth.New(auth.Config{
		Algorithm: cfg.JWTAlg,
		Issuer:    cfg.JWTIssuer,
		Audience:  cfg.JWTAudience,
		Leeway:    time.Duration(cfg.JWTLeeway) * time.Second,
		JWKSURL:   cfg.JWTJWKSURL,
		PublicKey: cfg.JWTPublicKey,
	}, nil)

	reg := registry.New()

	presenceConfig := presence.Config{
		Strategy:                  cfg.PresenceStrategy,
		TTLSeconds:                cfg.PresenceTTLSeconds,
		HeartbeatSeconds:          cfg.PresenceHeartbeatSeconds,
		GraceSeconds:              cfg.PresenceGraceSeconds,
		RefreshMinIntervalSeconds: cfg.PresenceRefreshMinIntervalSecs,
		RefreshQueueSize:          cfg.PresenceRefreshQueueSize,
		Prefix:                    cfg.PresenceRedisPrefix,
	}
	var presenceStore *presence.Store
	if cfg.PresenceRedisDSN != "" {
		presenceStore = presence.New(presenceConfig, presence.NewRedisStore(cfg.PresenceRedisDSN), logger)
	} else {
		presenceStore = presence.New(presenceConfig, nil, logger)
	}

	orderingSvc := ordering.New()
	metricsRegistry := metrics.New(metrics.ModeCore)
	publisher := broker.NewAMQPPublisher(cfg.RabbitMQDSN)

	rateLimiter, err := buildReplayRateLimiter(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build replay rate limiter")
	}
	idempotencyStore, err := buildReplayIdempotencyStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build replay idempotency store")
	}

	replayControl := replay.New(replay.Config{
		RateLimitKey:           cfg.ReplayRateLimitKey,
		RateLimitPerMinute:     cfg.ReplayRateLimitPerMinute,
		RateLimitWindowSeconds: cfg.ReplayRateLimitWindowSeconds,
		IdempotencyTTLSeconds:  cfg.ReplayIdempotencyTTL,
		AuditLog:               cfg.ReplayAuditLog,
		DLQ: replay.DrainConfig{
			DLQExchange: cfg.RabbitMQDLQExchange,
			DLQQueue:    cfg.RabbitMQDLQQueue,
		},
	}, rateLimiter, idempotencyStore, replay.NewDialer(cfg.RabbitMQDSN), metricsRegistry, logger)

	d := dispatcher.New(dispatcher.Config{
		Ordering: ordering.Config{
			Strategy:        cfg.OrderingStrategy,
			TopicField:      cfg.OrderingTopicField,
			SubjectSource:   cfg.OrderingSubjectSource,
			PartitionMode:   cfg.OrderingPartitionMode,
			PartitionMaxLen: cfg.OrderingPartitionMaxLen,
		},
		RateLimitPerSec:       10,
		RateLimitBurst:        20,
		PresenceRefreshEveryN: 20,
		DefaultStream:         "events",
		DefaultRoutingKey:     "event",
	}, reg, presenceStore, verifier, orderingSvc, metricsRegistry, publisher, replayControl, logger)

	sampler := health.NewSampler()
	adminHandler := adminapi.New(d, metricsRegistry, sampler, logger)

	wsMux := http.NewServeMux()
	wsMux.Handle("/ws", newWSTransport(d, logger))
	wsServer := &http.Server{Addr: cfg.WSAddr, Handler: wsMux}

	adminRouter := chi.NewRouter()
	adminRouter.Use(middleware.Recoverer)
	adminHandler.Routes(adminRouter)
	adminServer := &http.Server{Addr: cfg.AdminAddr, Handler: adminRouter}

	go func() {
		logger.Info().Str("addr", cfg.WSAddr).Msg("websocket listener starting")
		if err := wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("websocket listener failed")
		}
	}()
	go func() {
		logger.Info().Str("addr", cfg.AdminAddr).Msg("admin listener starting")
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("admin listener failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutdown signal received")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = wsServer.Shutdown(ctx)
	_ = adminServer.Shutdown(ctx)
	_ = publisher.Close()
	presenceStore.Stop()
	logger.Info().Msg("shutdown complete")
}
