package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ember-llm/tune-server/internal/app"
	"github.com/ember-llm/tune-server/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, disableAuth bool) *Server {
	t.Helper()

	cfg := &config.Config{
		Host:        "127.0.0.1",
		Port:        0,
		Environment: "test",
		DisableAuth: disableAuth,
		RunsDir:     t.TempDir(),
		ModelsDir:   t.TempDir(),
	}

	a, err := app.NewApp(cfg, app.WithMQ(), app.WithGeneration())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	srv, err := NewServer(cfg)
	require.NoError(t, err)
	srv.SetupRoutes(a)

	return srv
}

func doRequest(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, true)

	w := doRequest(srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status": "ok"}`, w.Body.String())
}

func TestRunEndpointsRejectInvalidID(t *testing.T) {
	srv := newTestServer(t, true)

	for _, path := range []string{
		"/api/v1/runs/not-a-uuid",
		"/api/v1/runs/not-a-uuid/status",
		"/api/v1/runs/not-a-uuid/stream",
	} {
		w := doRequest(srv, http.MethodGet, path, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}
}

func TestSubmitFinetuneRejectsUnknownTrainerKind(t *testing.T) {
	srv := newTestServer(t, true)

	w := doRequest(srv, http.MethodPost, "/api/v1/finetune",
		`{"trainer_kind": "dpo", "data_paths": ["corpus.txt"]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unknown trainer kind")
}

func TestSubmitFinetuneRequiresDataPaths(t *testing.T) {
	srv := newTestServer(t, true)

	w := doRequest(srv, http.MethodPost, "/api/v1/finetune", `{"trainer_kind": "causal"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "dataset path")
}

func TestSubmitFinetuneRejectsUnsupportedContentType(t *testing.T) {
	srv := newTestServer(t, true)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/finetune", strings.NewReader("x"))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unsupported content type")
}

func TestGenerateRejectsMalformedBody(t *testing.T) {
	srv := newTestServer(t, true)

	w := doRequest(srv, http.MethodPost, "/api/v1/generate", "{")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPIRequiresAuthWhenEnabled(t *testing.T) {
	srv := newTestServer(t, false)

	w := doRequest(srv, http.MethodGet, "/api/v1/models", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// healthz stays open
	w = doRequest(srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListBaseModelsWithoutDB(t *testing.T) {
	srv := newTestServer(t, true)

	w := doRequest(srv, http.MethodGet, "/api/v1/models", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data": []}`, w.Body.String())
}
