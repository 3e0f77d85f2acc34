package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributary-ai/provider-advisor/internal/cache"
	"github.com/tributary-ai/provider-advisor/internal/engine"
	"github.com/tributary-ai/provider-advisor/internal/health"
	"github.com/tributary-ai/provider-advisor/internal/latency"
	"github.com/tributary-ai/provider-advisor/internal/ledger"
	"github.com/tributary-ai/provider-advisor/internal/middleware"
	"github.com/tributary-ai/provider-advisor/internal/prefs"
	"github.com/tributary-ai/provider-advisor/internal/providers"
	"github.com/tributary-ai/provider-advisor/internal/resolver"
	"github.com/tributary-ai/provider-advisor/internal/security"
	"github.com/tributary-ai/provider-advisor/internal/store"
	"github.com/tributary-ai/provider-advisor/internal/telemetry"
	"github.com/tributary-ai/provider-advisor/internal/types"
)

type serverEnv struct {
	server   *Server
	handler  http.Handler
	monitor  *health.Monitor
	reporter *telemetry.Reporter
}

func newServerEnv(t *testing.T, secConfig *middleware.SecurityConfig) *serverEnv {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	registry := providers.NewRegistry(logger)
	for _, desc := range []types.ProviderDescriptor{
		{Name: "premium", Quality: 90, Operations: allOps(), CostPer1KTokens: 0.010, Priority: 10},
		{Name: "economy", Quality: 50, Operations: allOps(), CostPer1KTokens: 0.001, Priority: 20},
	} {
		d := desc
		require.NoError(t, registry.Register(&d, nil))
	}

	monitor := health.NewMonitor(logger)
	estimator := latency.NewEstimator()
	recCache, err := cache.New(time.Minute)
	require.NoError(t, err)
	t.Cleanup(recCache.Close)

	eng := engine.New(registry, monitor, estimator, recCache, time.Second, logger)
	costs := ledger.New(types.BudgetLimits{}, nil, 0, logger)
	preferences := prefs.NewService(context.Background(), store.NewMemoryStore(), prefs.Defaults(), logger)
	res := resolver.New(eng, registry, monitor, costs, preferences, logger)
	reporter := telemetry.NewReporter(monitor, costs, estimator, 64, logger)
	t.Cleanup(reporter.Close)

	srv, err := NewServer(res, eng, registry, monitor, costs, preferences, reporter, &Config{
		Port:     "0",
		Security: secConfig,
	}, logger)
	require.NoError(t, err)

	return &serverEnv{
		server:   srv,
		handler:  srv.setupRoutes(),
		monitor:  monitor,
		reporter: reporter,
	}
}

func allOps() []types.OperationType {
	return []types.OperationType{
		types.OperationSummarize, types.OperationTranscribe,
		types.OperationAnalyze, types.OperationGenerate, types.OperationEmbed,
	}
}

func (env *serverEnv) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	return rec
}

func TestServer_Liveness(t *testing.T) {
	env := newServerEnv(t, nil)

	rec := env.do("GET", "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Select(t *testing.T) {
	env := newServerEnv(t, nil)

	rec := env.do("POST", "/v1/select", SelectRequest{
		Operation:       types.OperationSummarize,
		EstimatedTokens: 1000,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result types.SelectionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.NotEmpty(t, result.SelectionID)
	assert.NotEmpty(t, result.Provider)
	assert.NotEmpty(t, result.Reasoning)
	assert.Equal(t, types.OperationSummarize, result.Operation)
}

func TestServer_SelectValidation(t *testing.T) {
	env := newServerEnv(t, nil)

	rec := env.do("POST", "/v1/select", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do("POST", "/v1/select", map[string]interface{}{
		"operation":        "summarize",
		"estimated_tokens": -5,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_SelectIncludesCandidates(t *testing.T) {
	env := newServerEnv(t, nil)

	rec := env.do("POST", "/v1/select", SelectRequest{
		Operation:         types.OperationSummarize,
		EstimatedTokens:   1000,
		IncludeCandidates: true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result types.SelectionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.NotEmpty(t, result.Candidates)
}

func TestServer_Recommendations(t *testing.T) {
	env := newServerEnv(t, nil)

	rec := env.do("GET", "/v1/recommendations?operation=summarize&estimated_tokens=500", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Recommendations []types.Recommendation `json:"recommendations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	// premium, economy, terminal fallback.
	assert.Len(t, response.Recommendations, 3)

	// Missing operation.
	rec = env.do("GET", "/v1/recommendations", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown profile.
	rec = env.do("GET", "/v1/recommendations?operation=summarize&profile=hyperdrive", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_RecommendationsOmitExcluded(t *testing.T) {
	env := newServerEnv(t, nil)

	rec := env.do("PUT", "/v1/preferences", types.UserPreferences{
		ExcludedProviders: []string{"premium"},
		ActiveProfile:     types.ProfileBalanced,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do("GET", "/v1/recommendations?operation=summarize", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Recommendations []types.Recommendation `json:"recommendations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.NotEmpty(t, response.Recommendations)
	for _, r := range response.Recommendations {
		assert.NotEqual(t, "premium", r.Provider, "excluded provider leaked into the ranked list")
	}
}

func TestServer_OutcomeFeedsHealth(t *testing.T) {
	env := newServerEnv(t, nil)

	for i := 0; i < 15; i++ {
		rec := env.do("POST", "/v1/outcome", types.Outcome{
			Provider:  "premium",
			Operation: types.OperationSummarize,
			Success:   true,
			LatencyMs: 120,
		})
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	// The reporter applies outcomes asynchronously; close drains it.
	env.reporter.Close()
	assert.Equal(t, types.HealthHealthy, env.monitor.Status("premium").State)
}

func TestServer_OutcomeValidation(t *testing.T) {
	env := newServerEnv(t, nil)

	rec := env.do("POST", "/v1/outcome", map[string]interface{}{"success": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Profiles(t *testing.T) {
	env := newServerEnv(t, nil)

	rec := env.do("GET", "/v1/profiles", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Profiles []types.ProfileInfo `json:"profiles"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Len(t, response.Profiles, 6)
}

func TestServer_Providers(t *testing.T) {
	env := newServerEnv(t, nil)

	rec := env.do("GET", "/v1/providers", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	// premium, economy, terminal fallback.
	assert.Equal(t, 3, response.Count)
}

func TestServer_ProviderHealthNotFound(t *testing.T) {
	env := newServerEnv(t, nil)

	rec := env.do("GET", "/v1/health/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do("GET", "/v1/health/premium", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_PreferencesRoundTrip(t *testing.T) {
	env := newServerEnv(t, nil)

	rec := env.do("PUT", "/v1/preferences", types.UserPreferences{
		PinnedProvider: "premium",
		ActiveProfile:  types.ProfileMaximumQuality,
		AutoFailover:   true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do("GET", "/v1/preferences", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var p types.UserPreferences
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "premium", p.PinnedProvider)
	assert.Equal(t, types.ProfileMaximumQuality, p.ActiveProfile)

	// Selections now honor the pin.
	rec = env.do("POST", "/v1/select", SelectRequest{Operation: types.OperationAnalyze})
	require.Equal(t, http.StatusOK, rec.Code)
	var result types.SelectionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "premium", result.Provider)
	assert.True(t, result.Pinned)
}

func TestServer_PreferencesRejectsBadProfile(t *testing.T) {
	env := newServerEnv(t, nil)

	rec := env.do("PUT", "/v1/preferences", map[string]interface{}{
		"active_profile": "hyperdrive",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Costs(t *testing.T) {
	env := newServerEnv(t, nil)

	rec := env.do("GET", "/v1/costs", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Summary ledger.MonthlySummary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.NotEmpty(t, response.Summary.Month)
}

func TestServer_ContentTypeEnforced(t *testing.T) {
	env := newServerEnv(t, nil)

	req := httptest.NewRequest("POST", "/v1/select", bytes.NewReader([]byte("{}")))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestServer_AuditDisabled(t *testing.T) {
	env := newServerEnv(t, nil)

	rec := env.do("GET", "/v1/audit", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_SecuredEndToEnd(t *testing.T) {
	env := newServerEnv(t, &middleware.SecurityConfig{
		Auth: &security.Config{
			APIKeys:     []string{"integration-key-123"},
			RequireAuth: true,
		},
		Audit: &security.AuditConfig{Enabled: true},
	})

	// Unauthenticated requests are rejected.
	rec := env.do("POST", "/v1/select", SelectRequest{Operation: types.OperationSummarize})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Authenticated selection succeeds and lands in the audit trail.
	payload, _ := json.Marshal(SelectRequest{Operation: types.OperationSummarize})
	req := httptest.NewRequest("POST", "/v1/select", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", "integration-key-123")
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, req)
	require.Equal(t, http.StatusOK, recorder.Code)

	req = httptest.NewRequest("GET", "/v1/audit", nil)
	req.Header.Set("X-API-Key", "integration-key-123")
	recorder = httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, req)
	require.Equal(t, http.StatusOK, recorder.Code)

	var response struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	assert.Equal(t, 1, response.Count)
}
