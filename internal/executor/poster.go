// Package executor contains the default execution adapter: an HTTP poster
// that submits a job's content to its target URL. Driving a real browser is a
// different adapter behind the same interface.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"postpilot/internal/artifact"
	"postpilot/internal/models"
)

const maxSnapshotBytes = 1 << 20

// BotReader resolves the bot behind a job for its user-agent hint.
type BotReader interface {
	Get(ctx context.Context, id string) (models.Bot, error)
}

// Poster posts job content over HTTP and reports the outcome.
type Poster struct {
	client    *http.Client
	bots      BotReader
	artifacts *artifact.Store
	log       zerolog.Logger
}

func NewPoster(bots BotReader, artifacts *artifact.Store, timeout time.Duration, logger zerolog.Logger) *Poster {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Poster{
		client:    &http.Client{Timeout: timeout},
		bots:      bots,
		artifacts: artifacts,
		log:       logger,
	}
}

type postBody struct {
	Content string `json:"content"`
}

// Execute submits the job's content to its URL. A non-2xx response is an
// execution failure; the measured response time survives in the result either
// way.
func (p *Poster) Execute(ctx context.Context, job models.Job) (models.JobResult, error) {
	userAgent := models.DefaultBotSettings().UserAgent
	if bot, err := p.bots.Get(ctx, job.BotID); err == nil && bot.Settings.UserAgent != "" {
		userAgent = bot.Settings.UserAgent
	}

	payload, err := json.Marshal(postBody{Content: job.Content})
	if err != nil {
		return models.JobResult{}, fmt.Errorf("marshal post body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.URL, strings.NewReader(string(payload)))
	if err != nil {
		return models.JobResult{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := p.client.Do(req)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return models.JobResult{ResponseTimeMS: elapsed}, fmt.Errorf("post to target: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	result := models.JobResult{ResponseTimeMS: elapsed}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return result, fmt.Errorf("target responded %d", resp.StatusCode)
	}

	result.PostURL = resp.Header.Get("Location")
	if result.PostURL == "" {
		result.PostURL = job.URL
	}
	if p.artifacts != nil && len(body) > 0 {
		key, err := p.artifacts.SaveSnapshot(ctx, job.ID, body, resp.Header.Get("Content-Type"))
		if err != nil {
			// The post itself succeeded; losing the snapshot is not fatal.
			p.log.Warn().Err(err).Str("job_id", job.ID).Msg("snapshot not stored")
		} else {
			result.ArtifactKey = key
		}
	}
	return result, nil
}
