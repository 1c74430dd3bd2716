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

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"github.com/warden-auth/warden/adapters/events"
	"github.com/warden-auth/warden/adapters/store"
	"github.com/warden-auth/warden/challenge"
	"github.com/warden-auth/warden/config"
	"github.com/warden-auth/warden/ports"
	"github.com/warden-auth/warden/ratelimit"
	"github.com/warden-auth/warden/service"
	transport "github.com/warden-auth/warden/transport/http"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	users, creds, tokens, cleanup, err := buildStores(cfg)
	if err != nil {
		logger.Error("initialize store", "backend", cfg.Store, "error", err)
		os.Exit(1)
	}
	defer cleanup()

	publisher, err := buildPublisher(cfg)
	if err != nil {
		logger.Error("initialize event publisher", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()
	eventPub := events.NewWatermillPublisher(publisher)

	challenges := challenge.NewStore(cfg.ChallengeTTL)
	challenges.StartSweeper(cfg.SweepInterval)
	defer challenges.Stop()

	limiter := ratelimit.New(ratelimit.Config{
		Capacity:       cfg.RateCapacity,
		RefillInterval: cfg.RateRefill,
	})
	defer limiter.Stop()

	policy, err := service.NewOriginPolicy(cfg.AllowedOrigins)
	if err != nil {
		logger.Error("build origin policy", "error", err)
		os.Exit(1)
	}

	registration := service.NewRegistrationService(challenges, users, creds, eventPub, policy, logger)
	authentication := service.NewAuthenticationService(challenges, creds, users, policy, logger)
	sessions := service.NewSessionManager(tokens, users, eventPub, cfg.AccessTTL, cfg.RefreshTTL, logger)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go sweepExpiredTokens(sweepCtx, tokens, cfg.SweepInterval, logger)

	handlers := transport.NewAuthHandlers(challenges, registration, authentication, sessions, creds, logger, cfg.SecureCookies)
	router := transport.SetupRouter(handlers, limiter, sessions, cfg.SecureCookies)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr, "store", cfg.Store)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}

func buildStores(cfg config.Config) (ports.UserStore, ports.CredentialStore, ports.TokenStore, func(), error) {
	switch cfg.Store {
	case config.StoreRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		client := redis.NewClient(opts)
		s := store.NewRedisStore(client)
		return s, s, s, func() { client.Close() }, nil
	case config.StoreSQLite:
		s, err := store.OpenSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return s, s, s, func() { s.Close() }, nil
	default:
		s := store.NewMemoryStore()
		return s, s, s, func() {}, nil
	}
}

// buildPublisher uses a Redis stream when Redis is configured and an
// in-process channel otherwise, so event consumers see the same topics
// either way.
func buildPublisher(cfg config.Config) (message.Publisher, error) {
	wmLogger := watermill.NewStdLogger(false, false)
	if cfg.Store == config.StoreRedis {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return redisstream.NewPublisher(
			redisstream.PublisherConfig{Client: redis.NewClient(opts)},
			wmLogger,
		)
	}
	return gochannel.NewGoChannel(gochannel.Config{}, wmLogger), nil
}

func sweepExpiredTokens(ctx context.Context, tokens ports.TokenStore, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := tokens.DeleteExpired(ctx, time.Now()); err != nil {
				logger.Warn("token sweep", "error", err)
			}
		}
	}
}
