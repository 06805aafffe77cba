// Package scheduler discovers due jobs and drives their execution. The
// selector never decides state transitions itself: claiming and finalizing go
// through the lifecycle engine, so a concurrent selector pass or an API-side
// cancel simply wins or loses the same compare-and-swap.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"postpilot/internal/lifecycle"
	"postpilot/internal/models"
	"postpilot/internal/telemetry"
)

// Lifecycle is the slice of the engine the selector drives.
type Lifecycle interface {
	DueJobs(ctx context.Context, limit int) ([]models.Job, error)
	Claim(ctx context.Context, id string) (models.Job, error)
	ReportSuccess(ctx context.Context, id string, result models.JobResult) error
	ReportFailure(ctx context.Context, id string, jobErr models.JobError, result *models.JobResult) error
}

// Adapter performs the side-effecting action for one claimed job. The
// selector calls back into the engine exactly once per claim with the
// adapter's outcome.
type Adapter interface {
	Execute(ctx context.Context, job models.Job) (models.JobResult, error)
}

// SettingsReader exposes the per-bot scheduling hints.
type SettingsReader interface {
	Settings(ctx context.Context, botID string) (models.BotSettings, error)
}

// Selector runs the periodic due-job sweep.
type Selector struct {
	engine  Lifecycle
	adapter Adapter
	bots    SettingsReader
	log     zerolog.Logger

	interval time.Duration
	batch    int

	sem chan struct{}
	wg  sync.WaitGroup

	mu   sync.Mutex
	pace map[string]*pacer

	now func() time.Time
}

// executeBudget bounds one detached execution plus its report.
const executeBudget = 2 * time.Minute

// paceTTL bounds how long a bot's cached pacing settings are trusted before
// they are re-read from the registry.
const paceTTL = time.Minute

// pacer holds a bot's rate limiter together with the delay it was built from,
// so a settings change can be detected on refresh.
type pacer struct {
	limiter *rate.Limiter
	delay   int
	fetched time.Time
}

func New(engine Lifecycle, adapter Adapter, bots SettingsReader, interval time.Duration, batch, concurrency int, logger zerolog.Logger) *Selector {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batch <= 0 {
		batch = 50
	}
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Selector{
		engine:   engine,
		adapter:  adapter,
		bots:     bots,
		log:      logger,
		interval: interval,
		batch:    batch,
		sem:      make(chan struct{}, concurrency),
		pace:     make(map[string]*pacer),
		now:      time.Now,
	}
}

// Run sweeps on a fixed interval until the context is cancelled, then drains
// in-flight executions.
func (s *Selector) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single selection pass and returns how many jobs were
// claimed and handed off. Execution itself is asynchronous; use Wait to drain.
func (s *Selector) RunOnce(ctx context.Context) int {
	due, err := s.engine.DueJobs(ctx, s.batch)
	if err != nil {
		s.log.Error().Err(err).Msg("due job query failed")
		return 0
	}
	telemetry.DueBacklogGauge.Set(float64(len(due)))

	dispatched := 0
	for _, job := range due {
		limiter := s.allowBot(ctx, job.BotID)
		if limiter == nil {
			continue
		}
		claimed, err := s.engine.Claim(ctx, job.ID)
		if err != nil {
			var terr *lifecycle.IllegalTransitionError
			if errors.As(err, &terr) {
				// Lost the claim to a concurrent pass or a cancel. The bot's
				// pacing token stays available for whichever job runs next.
				continue
			}
			s.log.Error().Err(err).Str("job_id", job.ID).Msg("claim failed")
			continue
		}

		// The pacing token is consumed only by the winning claim.
		limiter.Allow()
		dispatched++
		s.wg.Add(1)
		s.sem <- struct{}{}
		go s.execute(ctx, claimed)
	}
	return dispatched
}

// Wait blocks until all handed-off executions have reported.
func (s *Selector) Wait() {
	s.wg.Wait()
}

func (s *Selector) execute(ctx context.Context, job models.Job) {
	defer func() {
		<-s.sem
		s.wg.Done()
	}()
	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	// A claimed job must reach a terminal report or it is stranded in
	// processing, so the execution and its report detach from the sweep
	// context and shutdown drains them instead of aborting them.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), executeBudget)
	defer cancel()

	result, err := s.adapter.Execute(ctx, job)
	if err != nil {
		jobErr := models.JobError{Message: err.Error(), Code: "EXEC_FAILED"}
		var partial *models.JobResult
		if result.ResponseTimeMS > 0 || result.ArtifactKey != "" {
			partial = &result
		}
		if rerr := s.engine.ReportFailure(ctx, job.ID, jobErr, partial); rerr != nil {
			s.logReportError(rerr, job.ID, "failure")
		}
		return
	}
	if rerr := s.engine.ReportSuccess(ctx, job.ID, result); rerr != nil {
		s.logReportError(rerr, job.ID, "success")
	}
}

// logReportError demotes late reports against already-terminal jobs (e.g. a
// cancel that landed mid-execution) to debug noise.
func (s *Selector) logReportError(err error, jobID, kind string) {
	var terr *lifecycle.IllegalTransitionError
	if errors.As(err, &terr) {
		s.log.Debug().Err(err).Str("job_id", jobID).Msgf("late %s report dropped", kind)
		return
	}
	s.log.Error().Err(err).Str("job_id", jobID).Msgf("report %s failed", kind)
}

// allowBot applies the bot's delay-between-posts hint, returning the limiter
// to draw the token from once the claim is won, or nil when the bot has no
// token available. A bot without a token keeps its jobs in the due set for a
// later pass; ordering within the bot is preserved because due jobs arrive
// oldest-first. Cached settings are re-read after paceTTL so a delay change
// takes effect without a restart.
func (s *Selector) allowBot(ctx context.Context, botID string) *rate.Limiter {
	now := s.now()
	s.mu.Lock()
	p := s.pace[botID]
	stale := p == nil || now.Sub(p.fetched) > paceTTL
	s.mu.Unlock()

	if stale {
		settings, err := s.bots.Settings(ctx, botID)
		if err != nil {
			if p == nil {
				s.log.Warn().Err(err).Str("bot_id", botID).Msg("bot settings unavailable, skipping pacing")
				return rate.NewLimiter(rate.Inf, 1)
			}
			s.log.Warn().Err(err).Str("bot_id", botID).Msg("bot settings refresh failed, keeping stale pacing")
		} else {
			s.mu.Lock()
			if p == nil || p.delay != settings.DelayBetweenPosts {
				p = &pacer{limiter: newPaceLimiter(settings.DelayBetweenPosts), delay: settings.DelayBetweenPosts}
			}
			p.fetched = now
			s.pace[botID] = p
			s.mu.Unlock()
		}
	}

	if p.limiter.Tokens() < 1 {
		return nil
	}
	return p.limiter
}

func newPaceLimiter(delaySeconds int) *rate.Limiter {
	if delaySeconds <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Duration(delaySeconds)*time.Second), 1)
}
