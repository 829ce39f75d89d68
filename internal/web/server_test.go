package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rlmd/internal/config"
	"rlmd/internal/engine"
	"rlmd/internal/jobs"
	"rlmd/internal/model"
)

func newTestServer(t *testing.T) (*Server, *jobs.Store) {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.go"),
		[]byte("package app\n\nvar password = \"hunter2\"\n"), 0o644))

	cfg := config.Default()
	cfg.Search.RepoRoot = dir
	cfg.Engine.JobTimeout = "10s"

	store := jobs.NewStore()
	eng := engine.New(model.NoopClient{}, cfg)
	return NewServer(eng, store, cfg), store
}

func postJSON(t *testing.T, srv *Server, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func getPath(srv *Server, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func awaitTerminal(t *testing.T, store *jobs.Store, jobID string) jobs.Snapshot {
	t.Helper()
	var snap jobs.Snapshot
	require.Eventually(t, func() bool {
		s, ok := store.Get(jobID)
		if !ok {
			return false
		}
		snap = s
		return s.Status.Terminal()
	}, 15*time.Second, 20*time.Millisecond)
	return snap
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	w := getPath(srv, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok"`)
}

func TestStartAuditUnknownScenario(t *testing.T) {
	srv, _ := newTestServer(t)
	w := postJSON(t, srv, "/audit/start", map[string]string{"scenario": "coffee_audit"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unknown scenario")
}

func TestStartAuditMalformedBody(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/audit/start", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusUnknownJob(t *testing.T) {
	srv, _ := newTestServer(t)
	w := getPath(srv, "/audit/status/no-such-job")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "job not found")
}

func TestCodeAuditLifecycle(t *testing.T) {
	srv, store := newTestServer(t)

	w := postJSON(t, srv, "/audit/start", map[string]string{"scenario": "code_audit"})
	require.Equal(t, http.StatusAccepted, w.Code)

	var started struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))
	require.NotEmpty(t, started.JobID)
	assert.Equal(t, "queued", started.Status)

	snap := awaitTerminal(t, store, started.JobID)
	require.Equal(t, jobs.StatusCompleted, snap.Status)
	assert.Equal(t, 100, snap.ProgressPercent)
	require.NotNil(t, snap.Result)
	assert.EqualValues(t, 1, snap.Result["count"])

	// The scan narrates its own progress into the job log.
	logs := strings.Join(snap.Logs, "\n")
	assert.Contains(t, logs, "Starting code audit")
	assert.Contains(t, logs, "found 1 matches")

	// The status endpoint serves the same snapshot.
	w = getPath(srv, "/audit/status/"+started.JobID)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"completed"`)
}

// brokenClient simulates an unreachable backend: every call fails outright,
// which is fatal to the session (unlike the not-configured noop path).
type brokenClient struct{}

func (brokenClient) Complete(ctx context.Context, prompt string) (string, error) {
	return "", errors.New("backend unreachable")
}

func (brokenClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return "", errors.New("backend unreachable")
}

func (brokenClient) CompleteChat(ctx context.Context, systemPrompt string, turns []model.Turn) (string, error) {
	return "", errors.New("backend unreachable")
}

func TestQueryAuditFailureLeavesResultUnset(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.JobTimeout = "10s"
	store := jobs.NewStore()
	srv := NewServer(engine.New(brokenClient{}, cfg), store, cfg)

	w := postJSON(t, srv, "/audit/start", map[string]string{"scenario": "invoice_audit"})
	require.Equal(t, http.StatusAccepted, w.Code)

	var started struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))

	snap := awaitTerminal(t, store, started.JobID)
	require.Equal(t, jobs.StatusFailed, snap.Status)
	assert.Nil(t, snap.Result, "failed jobs expose no result payload")
	assert.Contains(t, snap.Message, "audit failed")
}

func TestInvoiceAuditDegradedBackend(t *testing.T) {
	srv, store := newTestServer(t)

	// Empty body: defaults to invoice_audit with the built-in mock docs.
	w := postJSON(t, srv, "/audit/start", nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	var started struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))

	snap := awaitTerminal(t, store, started.JobID)
	require.Equal(t, jobs.StatusCompleted, snap.Status)
	require.NotNil(t, snap.Result)
	assert.Contains(t, snap.Result["result"], "no model backend configured")
}
