package executor

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postpilot/internal/artifact"
	"postpilot/internal/config"
	"postpilot/internal/models"
)

type staticBots struct {
	bot models.Bot
}

func (s staticBots) Get(context.Context, string) (models.Bot, error) {
	return s.bot, nil
}

func testJob(url string) models.Job {
	return models.Job{
		ID:      "job-1",
		BotID:   "bot-1",
		OwnerID: "owner-1",
		URL:     url,
		Content: "scheduled update",
		Status:  models.StatusProcessing,
	}
}

func TestExecutePostsContent(t *testing.T) {
	var gotAgent, gotContentType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.Header.Get("User-Agent")
		gotContentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("Location", "https://target.test/posts/99")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	bots := staticBots{bot: models.Bot{Settings: models.BotSettings{UserAgent: "postpilot-test"}}}
	poster := NewPoster(bots, nil, 2*time.Second, zerolog.Nop())

	result, err := poster.Execute(context.Background(), testJob(srv.URL))
	require.NoError(t, err)
	assert.Equal(t, "postpilot-test", gotAgent)
	assert.Equal(t, "application/json", gotContentType)
	assert.JSONEq(t, `{"content":"scheduled update"}`, gotBody)
	assert.Equal(t, "https://target.test/posts/99", result.PostURL)
	assert.GreaterOrEqual(t, result.ResponseTimeMS, int64(0))
}

func TestExecuteFailsOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	poster := NewPoster(staticBots{}, nil, 2*time.Second, zerolog.Nop())
	_, err := poster.Execute(context.Background(), testJob(srv.URL))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestExecuteStoresSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>posted</html>"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	artifacts, err := artifact.New(context.Background(), config.Config{ArtifactDir: dir})
	require.NoError(t, err)

	poster := NewPoster(staticBots{}, artifacts, 2*time.Second, zerolog.Nop())
	result, err := poster.Execute(context.Background(), testJob(srv.URL))
	require.NoError(t, err)
	require.Equal(t, "jobs/job-1/response", result.ArtifactKey)

	data, err := os.ReadFile(filepath.Join(dir, result.ArtifactKey))
	require.NoError(t, err)
	assert.Equal(t, "<html>posted</html>", string(data))
}

func TestExecuteUnreachableTarget(t *testing.T) {
	poster := NewPoster(staticBots{}, nil, 500*time.Millisecond, zerolog.Nop())
	_, err := poster.Execute(context.Background(), testJob("http://127.0.0.1:1/unreachable"))
	assert.Error(t, err)
}
