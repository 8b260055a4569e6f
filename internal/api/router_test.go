package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/threadpost/internal/api"
	mw "github.com/kiranshivaraju/threadpost/internal/api/middleware"
	"github.com/kiranshivaraju/threadpost/internal/cache"
	"github.com/kiranshivaraju/threadpost/internal/metrics"
	"github.com/kiranshivaraju/threadpost/internal/store"
	"github.com/kiranshivaraju/threadpost/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- stub store that returns empty results (all auth fails) ---

type stubStore struct{}

func (s *stubStore) Ping(_ context.Context) error { return nil }
func (s *stubStore) GetAPIKeyByPrefix(_ context.Context, _ string) ([]*models.APIKey, error) {
	return nil, nil
}
func (s *stubStore) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error { return nil }
func (s *stubStore) CreateAPIKey(_ context.Context, _ *models.APIKey) error     { return nil }
func (s *stubStore) ListAPIKeys(_ context.Context) ([]*models.APIKey, error)    { return nil, nil }
func (s *stubStore) RevokeAPIKey(_ context.Context, _ uuid.UUID) error          { return nil }

// --- stub cache ---

type stubCache struct{}

func (c *stubCache) Set(_ context.Context, _, _ string, _ time.Duration) error { return nil }
func (c *stubCache) SetNX(_ context.Context, _, _ string, _ time.Duration) (bool, error) {
	return true, nil
}
func (c *stubCache) Get(_ context.Context, _ string) (string, bool, error) { return "", false, nil }
func (c *stubCache) Delete(_ context.Context, _ string) error              { return nil }
func (c *stubCache) Ping(_ context.Context) error                          { return nil }
func (c *stubCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}

// --- router tests ---

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"data":{}}`))
}

func newTestRouter() http.Handler {
	return api.NewRouter(api.Dependencies{
		Auth:          mw.NewAuth(&stubStore{}),
		RateLimit:     mw.NewRateLimit(&stubCache{}, 60),
		HealthHandler: okHandler,
	})
}

func TestRouter_HealthEndpoint_Public(t *testing.T) {
	router := newTestRouter()

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_ProtectedEndpoints_RequireAuth(t *testing.T) {
	router := newTestRouter()

	endpoints := []struct {
		method string
		path   string
	}{
		{"POST", "/post-thread"},
		{"POST", "/schedule-thread"},
		{"GET", "/thread/thread_1"},
		{"DELETE", "/thread/thread_1"},
		{"GET", "/threads"},
		{"POST", "/admin/keys"},
		{"GET", "/admin/keys"},
		{"DELETE", "/admin/keys/" + uuid.NewString()},
	}

	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			req := httptest.NewRequest(ep.method, ep.path, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			errObj := body["error"].(map[string]any)
			assert.Equal(t, "INVALID_TOKEN", errObj["code"])
		})
	}
}

func TestRouter_OpenWhenAuthDisabled(t *testing.T) {
	router := api.NewRouter(api.Dependencies{
		ListThreadsHandler: okHandler,
		CreateKeyHandler:   okHandler,
	})

	for _, path := range []string{"/threads", "/admin/keys"} {
		method := "GET"
		if path == "/admin/keys" {
			method = "POST"
		}
		req := httptest.NewRequest(method, path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestRouter_MissingHandler_NotImplemented(t *testing.T) {
	router := api.NewRouter(api.Dependencies{})

	req := httptest.NewRequest("POST", "/post-thread", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestRouter_NotFound(t *testing.T) {
	router := newTestRouter()

	req := httptest.NewRequest("GET", "/nonexistent", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "NOT_FOUND", errObj["code"])
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	router := newTestRouter()

	req := httptest.NewRequest("PUT", "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	m := metrics.New()
	router := api.NewRouter(api.Dependencies{
		Metrics:        m.Middleware,
		MetricsHandler: m.Handler(),
		HealthHandler:  okHandler,
	})

	req := httptest.NewRequest("GET", "/health", nil)
	router.ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `threadpost_http_requests_total{method="GET",route="/health",status="200"} 1`)
}

func TestRouter_SetsRequestID(t *testing.T) {
	router := api.NewRouter(api.Dependencies{
		HealthHandler: func(w http.ResponseWriter, r *http.Request) {
			assert.NotEmpty(t, chimw.GetReqID(r.Context()))
			w.WriteHeader(http.StatusOK)
		},
	})

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

// Verify unused interfaces are satisfied
var _ store.Store = (*stubStore)(nil)
var _ cache.Cache = (*stubCache)(nil)
