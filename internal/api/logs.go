package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"postpilot/internal/models"
	"postpilot/internal/store"
)

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := queryInt(q.Get("page"), 1)
	perPage := queryInt(q.Get("limit"), 50)

	level := models.LogLevel(q.Get("level"))
	if level != "" && !level.Valid() {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "unknown level", Field: "level"})
		return
	}
	category := models.LogCategory(q.Get("category"))
	if category != "" && !category.Valid() {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "unknown category", Field: "category"})
		return
	}

	entries, total, err := s.logs.List(r.Context(), store.ListLogsFilter{
		UserID:   ownerID(r),
		Level:    level,
		Category: category,
		Page:     page,
		PerPage:  perPage,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []models.LogEntry{}
	}
	writeJSON(w, http.StatusOK, dataBody(map[string]any{
		"logs":       entries,
		"pagination": pagination{Current: page, Pages: pageCount(total, perPage), Total: total},
	}))
}

type clearLogsRequest struct {
	Level     models.LogLevel    `json:"level"`
	Category  models.LogCategory `json:"category"`
	OlderThan *time.Time         `json:"older_than"`
}

func (s *Server) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	var req clearLogsRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid json"))
			return
		}
	}
	if req.Level != "" && !req.Level.Valid() {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "unknown level", Field: "level"})
		return
	}
	if req.Category != "" && !req.Category.Valid() {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "unknown category", Field: "category"})
		return
	}

	deleted, err := s.logs.Clear(r.Context(), ownerID(r), req.Level, req.Category, req.OlderThan)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: fmt.Sprintf("%d logs cleared", deleted)})
}
