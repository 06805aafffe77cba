package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postpilot/internal/config"
	"postpilot/internal/lifecycle"
	"postpilot/internal/models"
	"postpilot/internal/store"
)

func newLogsServer(t *testing.T) (*Server, *store.MemoryLogStore) {
	t.Helper()
	logs := store.NewMemoryLogStore()
	jobs := store.NewMemoryJobStore()
	engine := lifecycle.NewEngine(jobs, stubRegistry{}, stubSink{}, 3, 1000, zerolog.Nop())
	srv := New(config.Load(), engine, nil, logs, nil, nil, stubSink{}, zerolog.Nop())
	return srv, logs
}

func seedLog(t *testing.T, logs *store.MemoryLogStore, userID string, level models.LogLevel, category models.LogCategory, age time.Duration) {
	t.Helper()
	require.NoError(t, logs.Append(context.Background(), models.LogEntry{
		ID:        uuid.New().String(),
		Level:     level,
		Category:  category,
		Message:   "entry",
		UserID:    userID,
		CreatedAt: time.Now().Add(-age),
	}))
}

type logsListResponse struct {
	Data struct {
		Logs       []models.LogEntry `json:"logs"`
		Pagination pagination        `json:"pagination"`
	} `json:"data"`
}

func decodeLogsList(t *testing.T, body []byte) logsListResponse {
	t.Helper()
	var resp logsListResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	return resp
}

func TestListLogsScopedToOwner(t *testing.T) {
	srv, logs := newLogsServer(t)
	router := srv.Router()

	seedLog(t, logs, "owner-1", models.LogInfo, models.CategoryJob, time.Minute)
	seedLog(t, logs, "owner-1", models.LogWarn, models.CategoryBot, 2*time.Minute)
	seedLog(t, logs, "owner-2", models.LogInfo, models.CategoryJob, time.Minute)

	rec := doJSON(t, router, http.MethodGet, "/logs", "owner-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeLogsList(t, rec.Body.Bytes())
	assert.Equal(t, 2, resp.Data.Pagination.Total)
	for _, entry := range resp.Data.Logs {
		assert.Equal(t, "owner-1", entry.UserID)
	}
}

func TestListLogsSystemCategoryUnscoped(t *testing.T) {
	srv, logs := newLogsServer(t)
	router := srv.Router()

	seedLog(t, logs, "", models.LogError, models.CategorySystem, time.Minute)
	seedLog(t, logs, "owner-2", models.LogInfo, models.CategorySystem, time.Minute)
	seedLog(t, logs, "owner-2", models.LogInfo, models.CategoryJob, time.Minute)

	rec := doJSON(t, router, http.MethodGet, "/logs?category=system", "owner-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeLogsList(t, rec.Body.Bytes())
	assert.Equal(t, 2, resp.Data.Pagination.Total)
	for _, entry := range resp.Data.Logs {
		assert.Equal(t, models.CategorySystem, entry.Category)
	}
}

func TestListLogsLevelFilterAndPagination(t *testing.T) {
	srv, logs := newLogsServer(t)
	router := srv.Router()

	for i := 0; i < 3; i++ {
		seedLog(t, logs, "owner-1", models.LogWarn, models.CategoryJob, time.Duration(i)*time.Minute)
	}
	seedLog(t, logs, "owner-1", models.LogInfo, models.CategoryJob, time.Minute)

	rec := doJSON(t, router, http.MethodGet, "/logs?level=warn&limit=2", "owner-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeLogsList(t, rec.Body.Bytes())
	assert.Len(t, resp.Data.Logs, 2)
	assert.Equal(t, 3, resp.Data.Pagination.Total)
	assert.Equal(t, 2, resp.Data.Pagination.Pages)
}

func TestListLogsRejectsUnknownLevel(t *testing.T) {
	srv, _ := newLogsServer(t)
	rec := doJSON(t, srv.Router(), http.MethodGet, "/logs?level=verbose", "owner-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClearLogsScopedToOwner(t *testing.T) {
	srv, logs := newLogsServer(t)
	router := srv.Router()
	ctx := context.Background()

	seedLog(t, logs, "owner-1", models.LogInfo, models.CategoryJob, time.Minute)
	seedLog(t, logs, "owner-1", models.LogWarn, models.CategoryBot, time.Minute)
	seedLog(t, logs, "owner-2", models.LogInfo, models.CategoryJob, time.Minute)

	rec := doJSON(t, router, http.MethodDelete, "/logs/clear", "owner-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2 logs cleared", resp.Message)

	_, mine, err := logs.List(ctx, store.ListLogsFilter{UserID: "owner-1"})
	require.NoError(t, err)
	assert.Equal(t, 0, mine)

	// The other owner's trail is untouched.
	_, theirs, err := logs.List(ctx, store.ListLogsFilter{UserID: "owner-2"})
	require.NoError(t, err)
	assert.Equal(t, 1, theirs)
}

func TestClearLogsFilters(t *testing.T) {
	srv, logs := newLogsServer(t)
	router := srv.Router()
	ctx := context.Background()

	seedLog(t, logs, "owner-1", models.LogInfo, models.CategoryJob, 48*time.Hour)
	seedLog(t, logs, "owner-1", models.LogInfo, models.CategoryJob, time.Minute)
	seedLog(t, logs, "owner-1", models.LogWarn, models.CategoryBot, 48*time.Hour)

	cutoff := time.Now().Add(-24 * time.Hour)
	rec := doJSON(t, router, http.MethodDelete, "/logs/clear", "owner-1", map[string]any{
		"level":      "info",
		"older_than": cutoff.Format(time.RFC3339),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "1 logs cleared", resp.Message)

	// The recent info entry and the warn entry survive.
	_, remaining, err := logs.List(ctx, store.ListLogsFilter{UserID: "owner-1"})
	require.NoError(t, err)
	assert.Equal(t, 2, remaining)
}

func TestClearLogsRejectsUnknownCategory(t *testing.T) {
	srv, _ := newLogsServer(t)
	rec := doJSON(t, srv.Router(), http.MethodDelete, "/logs/clear", "owner-1", map[string]any{
		"category": "billing",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
