package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"postpilot/internal/artifact"
	"postpilot/internal/audit"
	"postpilot/internal/config"
	"postpilot/internal/executor"
	"postpilot/internal/lifecycle"
	"postpilot/internal/logging"
	"postpilot/internal/scheduler"
	"postpilot/internal/store"
	"postpilot/internal/telemetry"
)

func main() {
	cfg := config.Load()
	logger := logging.New("scheduler", cfg.Env, cfg.LogLevel)

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

	artifacts, err := artifact.New(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("init artifact store")
	}

	sink := audit.NewSink(st.Logs(), logger)
	engine := lifecycle.NewEngine(st.Jobs(), st.Bots(), sink, cfg.DefaultMaxRetries, cfg.MaxContentLength, logger)
	poster := executor.NewPoster(st.Bots(), artifacts, cfg.ExecuteTimeout, logger)
	sel := scheduler.New(engine, poster, st.Bots(), cfg.SelectorInterval, cfg.SelectorBatchSize, cfg.WorkerConcurrency, logger)

	retention := cron.New()
	if _, err := retention.AddFunc(cfg.LogRetentionCron, func() {
		sweepCtx, done := context.WithTimeout(context.Background(), time.Minute)
		defer done()
		cutoff := time.Now().Add(-cfg.LogRetentionAge)
		pruned, err := st.Logs().Prune(sweepCtx, cutoff)
		if err != nil {
			logger.Error().Err(err).Msg("log retention sweep failed")
			return
		}
		logger.Info().Int64("pruned", pruned).Time("cutoff", cutoff).Msg("log retention sweep")
	}); err != nil {
		logger.Fatal().Err(err).Str("cron", cfg.LogRetentionCron).Msg("invalid retention schedule")
	}
	retention.Start()
	defer retention.Stop()

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			logger.Warn().Err(err).Msg("metrics server stopped")
		}
	}()

	logger.Info().
		Dur("interval", cfg.SelectorInterval).
		Int("batch", cfg.SelectorBatchSize).
		Int("concurrency", cfg.WorkerConcurrency).
		Msg("scheduler started")
	if err := sel.Run(ctx); err != nil {
		logger.Info().Err(err).Msg("scheduler stopped")
	}
}
