package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailbridge/internal/api"
	"github.com/ignite/mailbridge/internal/config"
	"github.com/ignite/mailbridge/internal/dispatch"
	"github.com/ignite/mailbridge/internal/email"
	"github.com/ignite/mailbridge/internal/pkg/logger"
	"github.com/ignite/mailbridge/internal/providers"
	"github.com/ignite/mailbridge/internal/relay"
	"github.com/ignite/mailbridge/internal/webhooks"
)

func main() {
	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		logger.Error("loading config failed", "path", configPath, "error", err.Error())
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry, err := providers.BuildRegistry(ctx, cfg)
	if err != nil {
		logger.Error("building provider registry failed", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("providers registered", "providers", fmt.Sprintf("%v", registry.Providers()))

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, event dedup disabled", "addr", cfg.Redis.Addr, "error", err.Error())
			rdb = nil
		}
	}

	dispatcher := dispatch.New(rdb)
	dispatcher.OnTracking(func(ctx context.Context, provider string, ev email.TrackingEvent) {
		logger.Info("tracking event",
			"provider", provider,
			"type", string(ev.Type),
			"recipient", ev.Recipient,
			"message_id", ev.MessageID)
	})
	dispatcher.OnInbound(func(ctx context.Context, provider string, ev email.InboundEvent) {
		logger.Info("inbound message",
			"provider", provider,
			"subject", ev.Message.Subject,
			"recipient", ev.Message.EnvelopeRecipient)
	})

	sender := relay.New(registry, cfg.Send.LocalRender, cfg.Send.Permissive)
	hooks := webhooks.NewServer(registry, dispatcher)
	server := api.NewServer(registry, sender, hooks, cfg.Webhooks.Secrets)

	addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", addr)
		errCh <- server.ListenAndServe(addr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("server stopped", "error", err.Error())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err.Error())
	}
}
