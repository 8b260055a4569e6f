package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kiranshivaraju/threadpost/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── mock backends ──────────────────────────────────────────────────────────

type testPinger struct {
	pingErr error
}

func (p *testPinger) Ping(_ context.Context) error { return p.pingErr }

type testBreaker string

func (b testBreaker) BreakerState() string { return string(b) }

func testConfig(mode, token string) *config.Config {
	return &config.Config{
		X: config.XConfig{BaseURL: "https://api.x.com/2/tweets", BearerToken: token},
		Thread: config.ThreadConfig{
			MaxPosts:      25,
			MaxPostLength: 280,
			Delay:         10 * time.Second,
		},
		Publish: config.PublishConfig{Mode: mode},
	}
}

func serveHealth(t *testing.T, h http.HandlerFunc) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	h(w, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

// ─── health handler tests ───────────────────────────────────────────────────

func TestHealthHandler_AllOK(t *testing.T) {
	h := healthHandler(testConfig(config.PublishModeLive, "token"), healthChecks{
		breaker: testBreaker("closed"),
		store:   &testPinger{},
		cache:   &testPinger{},
	})

	code, body := serveHealth(t, h)

	assert.Equal(t, http.StatusOK, code)
	data := body["data"].(map[string]any)
	assert.Equal(t, "ok", data["status"])
	assert.NotEmpty(t, data["timestamp"])

	services := data["services"].(map[string]any)
	assert.Equal(t, "ok", services["database"])
	assert.Equal(t, "ok", services["cache"])
	assert.Equal(t, "closed", services["publisher_circuit"])

	cfg := data["config"].(map[string]any)
	assert.Equal(t, "live", cfg["publish_mode"])
	assert.Equal(t, true, cfg["credentials_configured"])
	assert.Equal(t, float64(25), cfg["max_posts_per_thread"])
	assert.Equal(t, float64(280), cfg["max_post_length"])
	assert.Equal(t, float64(10000), cfg["delay_between_posts_ms"])
	assert.Equal(t, true, cfg["auth_enabled"])
	assert.Equal(t, true, cfg["cache_enabled"])
}

func TestHealthHandler_NeverExposesToken(t *testing.T) {
	h := healthHandler(testConfig(config.PublishModeLive, "super-secret-token"), healthChecks{})

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	h(w, req)

	assert.NotContains(t, w.Body.String(), "super-secret-token")
}

func TestHealthHandler_BackendsDisabled(t *testing.T) {
	h := healthHandler(testConfig(config.PublishModeLive, "token"), healthChecks{})

	code, body := serveHealth(t, h)

	assert.Equal(t, http.StatusOK, code)
	data := body["data"].(map[string]any)
	services := data["services"].(map[string]any)
	assert.Equal(t, "disabled", services["database"])
	assert.Equal(t, "disabled", services["cache"])
	cfg := data["config"].(map[string]any)
	assert.Equal(t, false, cfg["auth_enabled"])
}

func TestHealthHandler_MissingCredentialsDegraded(t *testing.T) {
	for _, token := range []string{"", config.PlaceholderToken} {
		h := healthHandler(testConfig(config.PublishModeLive, token), healthChecks{})

		code, body := serveHealth(t, h)

		assert.Equal(t, http.StatusServiceUnavailable, code)
		errObj := body["error"].(map[string]any)
		assert.Equal(t, "DEGRADED", errObj["code"])
		details := errObj["details"].(map[string]any)
		assert.Equal(t, "degraded", details["status"])
		assert.Equal(t, false, details["config"].(map[string]any)["credentials_configured"])
	}
}

func TestHealthHandler_DryRunWithoutCredentialsOK(t *testing.T) {
	h := healthHandler(testConfig(config.PublishModeDryRun, ""), healthChecks{})

	code, _ := serveHealth(t, h)

	assert.Equal(t, http.StatusOK, code)
}

func TestHealthHandler_DatabaseDegraded(t *testing.T) {
	h := healthHandler(testConfig(config.PublishModeLive, "token"), healthChecks{
		store: &testPinger{pingErr: errors.New("connection refused")},
		cache: &testPinger{},
	})

	code, body := serveHealth(t, h)

	assert.Equal(t, http.StatusServiceUnavailable, code)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "DEGRADED", errObj["code"])
	services := errObj["details"].(map[string]any)["services"].(map[string]any)
	assert.Equal(t, "degraded", services["database"])
}

func TestHealthHandler_CacheDegraded(t *testing.T) {
	h := healthHandler(testConfig(config.PublishModeLive, "token"), healthChecks{
		cache: &testPinger{pingErr: errors.New("redis down")},
	})

	code, _ := serveHealth(t, h)

	assert.Equal(t, http.StatusServiceUnavailable, code)
}

// ─── run() startup failure tests ────────────────────────────────────────────

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "PUBLISH_MODE", "X_BEARER_TOKEN", "TWITTER_BEARER_TOKEN",
		"DATABASE_URL", "REDIS_URL", "KAFKA_BROKERS", "MAX_TWEETS_PER_THREAD",
	} {
		t.Setenv(key, "")
	}
}

func TestRun_FailsOnInvalidConfig(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("PORT", "70000")

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestRun_FailsOnInvalidDatabaseURL(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("DATABASE_URL", "not-a-valid-url")

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect database")
}

func TestRun_FailsOnInvalidRedisURL(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("REDIS_URL", "not-a-redis-url")

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create redis cache")
}

// ─── shutdown timeout constant test ─────────────────────────────────────────

func TestShutdownTimeout(t *testing.T) {
	assert.Equal(t, 30*time.Second, shutdownTimeout)
}
