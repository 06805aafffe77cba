package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"postpilot/internal/api"
	"postpilot/internal/audit"
	"postpilot/internal/config"
	"postpilot/internal/lifecycle"
	"postpilot/internal/logging"
	"postpilot/internal/ratelimit"
	"postpilot/internal/secrets"
	"postpilot/internal/store"
)

func main() {
	cfg := config.Load()
	logger := logging.New("api", cfg.Env, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		logger.Fatal().Err(err).Msg("migrations")
	}

	cipher, err := secrets.NewAESCipher(cfg.SecretKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("init cipher")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	limiter := ratelimit.NewTokenBucket(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	sink := audit.NewSink(st.Logs(), logger)
	engine := lifecycle.NewEngine(st.Jobs(), st.Bots(), sink, cfg.DefaultMaxRetries, cfg.MaxContentLength, logger)

	server := api.New(cfg, engine, st.Bots(), st.Logs(), cipher, limiter, sink, logger)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	logger.Info().Str("port", cfg.HTTPPort).Msg("api listening")
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
