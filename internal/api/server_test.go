package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postpilot/internal/config"
	"postpilot/internal/lifecycle"
	"postpilot/internal/models"
	"postpilot/internal/store"
)

type stubRegistry struct{}

func (stubRegistry) IsOwnedBy(_ context.Context, botID, ownerID string) (bool, error) {
	return botID == "bot-1" && ownerID == "owner-1", nil
}

func (stubRegistry) Settings(context.Context, string) (models.BotSettings, error) {
	return models.DefaultBotSettings(), nil
}

func (stubRegistry) IncrementSuccess(context.Context, string) error { return nil }
func (stubRegistry) IncrementFailure(context.Context, string) error { return nil }

type stubSink struct{}

func (stubSink) Record(context.Context, models.LogEntry) {}

func newTestServer(t *testing.T) (*Server, *lifecycle.Engine, *store.MemoryJobStore) {
	t.Helper()
	jobs := store.NewMemoryJobStore()
	engine := lifecycle.NewEngine(jobs, stubRegistry{}, stubSink{}, 3, 1000, zerolog.Nop())
	srv := New(config.Load(), engine, nil, nil, nil, nil, stubSink{}, zerolog.Nop())
	return srv, engine, jobs
}

func doJSON(t *testing.T, handler http.Handler, method, path, owner string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if owner != "" {
		req.Header.Set(ownerHeader, owner)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func createJobBody(at time.Time) map[string]any {
	return map[string]any{
		"bot_id":       "bot-1",
		"url":          "https://example.com/feed",
		"content":      "scheduled update",
		"scheduled_at": at.Format(time.RFC3339),
	}
}

func TestJobsRequireOwnerHeader(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), http.MethodGet, "/jobs", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateJobEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/jobs", "owner-1", createJobBody(time.Now().Add(time.Hour)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Success bool       `json:"success"`
		Data    models.Job `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, models.StatusPending, resp.Data.Status)
	assert.Equal(t, "owner-1", resp.Data.OwnerID)
}

func TestCreateJobValidationResponse(t *testing.T) {
	srv, _, _ := newTestServer(t)
	router := srv.Router()

	body := createJobBody(time.Now().Add(time.Hour))
	body["url"] = "ftp://nope"
	rec := doJSON(t, router, http.MethodPost, "/jobs", "owner-1", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "url", resp.Field)
}

func TestCreateJobPastSchedule(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), http.MethodPost, "/jobs", "owner-1", createJobBody(time.Now().Add(-time.Minute)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateJobForeignBot(t *testing.T) {
	srv, _, _ := newTestServer(t)
	body := createJobBody(time.Now().Add(time.Hour))
	body["bot_id"] = "bot-9"
	rec := doJSON(t, srv.Router(), http.MethodPost, "/jobs", "owner-1", body)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRetryPendingJobConflicts(t *testing.T) {
	srv, engine, _ := newTestServer(t)
	router := srv.Router()

	job, err := engine.Create(context.Background(), "owner-1", lifecycle.CreateParams{
		BotID:       "bot-1",
		URL:         "https://example.com/feed",
		Content:     "x",
		ScheduledAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodPost, fmt.Sprintf("/jobs/%s/retry", job.ID), "owner-1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelAndDeleteEndpoints(t *testing.T) {
	srv, engine, _ := newTestServer(t)
	router := srv.Router()
	ctx := context.Background()

	job, err := engine.Create(ctx, "owner-1", lifecycle.CreateParams{
		BotID:       "bot-1",
		URL:         "https://example.com/feed",
		Content:     "x",
		ScheduledAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodPost, fmt.Sprintf("/jobs/%s/cancel", job.ID), "owner-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Cancelled jobs cannot be deleted.
	rec = doJSON(t, router, http.MethodDelete, "/jobs/"+job.ID, "owner-1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	pending, err := engine.Create(ctx, "owner-1", lifecycle.CreateParams{
		BotID:       "bot-1",
		URL:         "https://example.com/feed",
		Content:     "x",
		ScheduledAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	rec = doJSON(t, router, http.MethodDelete, "/jobs/"+pending.ID, "owner-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, router, http.MethodDelete, "/jobs/"+pending.ID, "owner-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobsAreOwnerScoped(t *testing.T) {
	srv, engine, _ := newTestServer(t)
	router := srv.Router()

	job, err := engine.Create(context.Background(), "owner-1", lifecycle.CreateParams{
		BotID:       "bot-1",
		URL:         "https://example.com/feed",
		Content:     "x",
		ScheduledAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodPost, fmt.Sprintf("/jobs/%s/cancel", job.ID), "owner-2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListJobsAndStats(t *testing.T) {
	srv, engine, _ := newTestServer(t)
	router := srv.Router()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := engine.Create(ctx, "owner-1", lifecycle.CreateParams{
			BotID:       "bot-1",
			URL:         "https://example.com/feed",
			Content:     fmt.Sprintf("post %d", i),
			ScheduledAt: time.Now().Add(time.Hour),
		})
		require.NoError(t, err)
	}

	rec := doJSON(t, router, http.MethodGet, "/jobs?limit=2", "owner-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listResp struct {
		Data struct {
			Jobs       []models.Job `json:"jobs"`
			Pagination pagination   `json:"pagination"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listResp))
	assert.Len(t, listResp.Data.Jobs, 2)
	assert.Equal(t, 3, listResp.Data.Pagination.Total)
	assert.Equal(t, 2, listResp.Data.Pagination.Pages)

	rec = doJSON(t, router, http.MethodGet, "/jobs/stats", "owner-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var statsResp struct {
		Data models.JobStats `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &statsResp))
	assert.Equal(t, 3, statsResp.Data.Pending)
	assert.Equal(t, 3, statsResp.Data.Total)
	assert.Equal(t, 0, statsResp.Data.SuccessRate)
}

func TestListJobsRejectsUnknownStatus(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), http.MethodGet, "/jobs?status=archived", "owner-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
