package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributary-ai/provider-advisor/internal/security"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestNewSecurityMiddleware(t *testing.T) {
	config := &SecurityConfig{
		Auth: &security.Config{
			APIKeys:     []string{"test-key-12345"},
			RequireAuth: true,
		},
		RateLimit: &security.RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 60,
			BurstSize:         10,
		},
		Validation: &ValidationConfig{Enabled: false},
		Audit:      &security.AuditConfig{Enabled: true},
	}

	sm, err := NewSecurityMiddleware(config, testLogger())
	require.NoError(t, err)
	assert.NotNil(t, sm.auth)
	assert.NotNil(t, sm.limiter)
	assert.NotNil(t, sm.validator)
	assert.NotNil(t, sm.Audit())

	sm.Stop()
}

func TestNewSecurityMiddleware_MissingSpec(t *testing.T) {
	config := &SecurityConfig{
		Validation: &ValidationConfig{
			Enabled:  true,
			SpecPath: "does/not/exist.yaml",
		},
	}

	_, err := NewSecurityMiddleware(config, testLogger())
	assert.Error(t, err)
}

func TestSecurityMiddleware_ChainEnforcesAuth(t *testing.T) {
	config := &SecurityConfig{
		Auth: &security.Config{
			APIKeys:     []string{"test-key-12345"},
			RequireAuth: true,
		},
	}
	sm, err := NewSecurityMiddleware(config, testLogger())
	require.NoError(t, err)
	defer sm.Stop()

	handler := sm.Handler()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/select", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/select", nil)
	req.Header.Set("X-API-Key", "test-key-12345")
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestSecurityMiddleware_EmptyConfigPassesThrough(t *testing.T) {
	sm, err := NewSecurityMiddleware(&SecurityConfig{}, testLogger())
	require.NoError(t, err)
	defer sm.Stop()

	handler := sm.Handler()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/select", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestSecurityMiddleware_RateLimitAfterAuth(t *testing.T) {
	config := &SecurityConfig{
		Auth: &security.Config{
			APIKeys:     []string{"test-key-12345"},
			RequireAuth: true,
		},
		RateLimit: &security.RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 60,
			BurstSize:         1,
		},
	}
	sm, err := NewSecurityMiddleware(config, testLogger())
	require.NoError(t, err)
	defer sm.Stop()

	handler := sm.Handler()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/v1/select", nil)
		req.Header.Set("X-API-Key", "test-key-12345")
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send().Code)
	assert.Equal(t, http.StatusTooManyRequests, send().Code)
}
