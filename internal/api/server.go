package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"postpilot/internal/config"
	"postpilot/internal/lifecycle"
	"postpilot/internal/models"
	"postpilot/internal/ratelimit"
	"postpilot/internal/secrets"
	"postpilot/internal/store"
	"postpilot/internal/telemetry"
)

// ownerHeader carries the authenticated account id. Authentication itself is
// a gateway concern; this service trusts the header.
const ownerHeader = "X-Owner-ID"

// LogStore is the slice of the audit log store the API serves.
type LogStore interface {
	List(ctx context.Context, f store.ListLogsFilter) ([]models.LogEntry, int, error)
	Clear(ctx context.Context, userID string, level models.LogLevel, category models.LogCategory, olderThan *time.Time) (int64, error)
}

// Server wires HTTP handlers for the owner-facing API.
type Server struct {
	cfg     config.Config
	engine  *lifecycle.Engine
	bots    *store.BotStore
	logs    LogStore
	cipher  secrets.Cipher
	limiter *ratelimit.TokenBucket
	audit   lifecycle.AuditSink
	log     zerolog.Logger
}

// New constructs the API server.
func New(cfg config.Config, engine *lifecycle.Engine, bots *store.BotStore, logs LogStore, cipher secrets.Cipher, limiter *ratelimit.TokenBucket, audit lifecycle.AuditSink, logger zerolog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		engine:  engine,
		bots:    bots,
		logs:    logs,
		cipher:  cipher,
		limiter: limiter,
		audit:   audit,
		log:     logger,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.requireOwner)

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleListJobs)
			r.Post("/", s.handleCreateJob)
			r.Get("/stats", s.handleJobStats)
			r.Put("/{id}", s.handleUpdateJob)
			r.Delete("/{id}", s.handleDeleteJob)
			r.Post("/{id}/retry", s.handleRetryJob)
			r.Post("/{id}/cancel", s.handleCancelJob)
		})

		r.Route("/bots", func(r chi.Router) {
			r.Get("/", s.handleListBots)
			r.Post("/", s.handleCreateBot)
			r.Put("/{id}", s.handleUpdateBot)
			r.Delete("/{id}", s.handleDeleteBot)
			r.Post("/{id}/test", s.handleTestBot)
			r.Get("/{id}/stats", s.handleBotStats)
		})

		r.Route("/logs", func(r chi.Router) {
			r.Get("/", s.handleListLogs)
			r.Delete("/clear", s.handleClearLogs)
		})
	})

	return r
}

// requireOwner rejects anonymous requests and applies the per-owner rate
// limit before any handler runs.
func (s *Server) requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := r.Header.Get(ownerHeader)
		if owner == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody("missing owner identity"))
			return
		}
		if s.limiter != nil {
			allowed, _, err := s.limiter.Allow(r.Context(), owner)
			if err != nil {
				s.log.Error().Err(err).Msg("rate limiter unavailable")
				writeJSON(w, http.StatusInternalServerError, errorBody("server error"))
				return
			}
			if !allowed {
				telemetry.RateLimitRejects.Inc()
				writeJSON(w, http.StatusTooManyRequests, errorBody("rate limited"))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func ownerID(r *http.Request) string {
	return r.Header.Get(ownerHeader)
}
