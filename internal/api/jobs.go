package api

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"postpilot/internal/lifecycle"
	"postpilot/internal/models"
	"postpilot/internal/store"
)

type createJobRequest struct {
	BotID       string    `json:"bot_id"`
	URL         string    `json:"url"`
	Content     string    `json:"content"`
	ScheduledAt time.Time `json:"scheduled_at"`
	MaxRetries  int       `json:"max_retries"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid json"))
		return
	}
	job, err := s.engine.Create(r.Context(), ownerID(r), lifecycle.CreateParams{
		BotID:       req.BotID,
		URL:         req.URL,
		Content:     req.Content,
		ScheduledAt: req.ScheduledAt,
		MaxRetries:  req.MaxRetries,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dataBody(job))
}

type updateJobRequest struct {
	URL         *string    `json:"url"`
	Content     *string    `json:"content"`
	ScheduledAt *time.Time `json:"scheduled_at"`
}

func (s *Server) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	var req updateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid json"))
		return
	}
	job, err := s.engine.Edit(r.Context(), ownerID(r), chi.URLParam(r, "id"), lifecycle.EditParams{
		URL:         req.URL,
		Content:     req.Content,
		ScheduledAt: req.ScheduledAt,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dataBody(job))
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Delete(r.Context(), ownerID(r), chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "job deleted"})
}

func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.engine.Retry(r.Context(), ownerID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dataBody(job))
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.engine.Cancel(r.Context(), ownerID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dataBody(job))
}

type pagination struct {
	Current int `json:"current"`
	Pages   int `json:"pages"`
	Total   int `json:"total"`
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := queryInt(q.Get("page"), 1)
	perPage := queryInt(q.Get("limit"), 20)

	status := models.JobStatus(q.Get("status"))
	if status != "" && !status.Valid() {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "unknown status", Field: "status"})
		return
	}

	jobs, total, err := s.engine.List(r.Context(), store.ListJobsFilter{
		OwnerID: ownerID(r),
		Status:  status,
		BotID:   q.Get("bot_id"),
		Page:    page,
		PerPage: perPage,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if jobs == nil {
		jobs = []models.Job{}
	}
	writeJSON(w, http.StatusOK, dataBody(map[string]any{
		"jobs":       jobs,
		"pagination": pagination{Current: page, Pages: pageCount(total, perPage), Total: total},
	}))
}

func (s *Server) handleJobStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats(r.Context(), ownerID(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dataBody(stats))
}

func queryInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	return n
}

func pageCount(total, perPage int) int {
	if perPage < 1 {
		return 0
	}
	return int(math.Ceil(float64(total) / float64(perPage)))
}
