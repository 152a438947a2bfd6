package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/glup3/ghstats/internal/github"
	"github.com/glup3/ghstats/internal/metrics"
	"github.com/glup3/ghstats/internal/stats"
	"github.com/jmgilman/go/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockService struct {
	outcome *stats.Outcome
	err     error
	keys    []stats.Key
}

func (m *mockService) Stats(_ context.Context, key stats.Key) (*stats.Outcome, error) {
	m.keys = append(m.keys, key)
	if m.err != nil {
		return nil, m.err
	}
	return m.outcome, nil
}

type mockLimits struct {
	rl  github.RateLimit
	err error
}

func (m *mockLimits) GetRateLimit(context.Context) (github.RateLimit, error) {
	return m.rl, m.err
}

func newTestServer(service StatsService, limits RateLimiter) *Server {
	return New(service, limits, &Config{Gatherer: prometheus.NewRegistry()})
}

func get(s *Server, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestAggregatedStats(t *testing.T) {
	service := &mockService{outcome: &stats.Outcome{
		State: stats.StateEntirelyFresh,
		Result: stats.Result{
			RepoCount:   2,
			StarTotal:   10,
			ForkTotal:   3,
			AvgRepoSize: "512 KB",
			Languages:   []stats.LanguageStat{{Name: "Go", Bytes: 100}},
		},
	}}

	rec := get(newTestServer(service, nil), "/aggregated-stats?username=octocat&fork=false")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, string(stats.StateEntirelyFresh), rec.Header().Get(cacheStateHeader))
	assert.JSONEq(t, `{
		"repoCount": 2,
		"starTotal": 10,
		"forkTotal": 3,
		"avgRepoSize": "512 KB",
		"languages": [{"name": "Go", "byteCount": 100}]
	}`, rec.Body.String())

	require.Len(t, service.keys, 1)
	assert.Equal(t, stats.NewKey("octocat", stats.ExcludeForks), service.keys[0])
}

func TestAggregatedStatsDefaultsToForks(t *testing.T) {
	service := &mockService{outcome: &stats.Outcome{State: stats.StateRefreshed}}

	rec := get(newTestServer(service, nil), "/aggregated-stats?username=octocat")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, stats.IncludeForks, service.keys[0].Filter)
}

func TestAggregatedStatsValidation(t *testing.T) {
	tests := []struct {
		name   string
		target string
	}{
		{name: "missing username", target: "/aggregated-stats"},
		{name: "invalid characters", target: "/aggregated-stats?username=octo_cat"},
		{name: "leading hyphen", target: "/aggregated-stats?username=-octocat"},
		{name: "double hyphen", target: "/aggregated-stats?username=octo--cat"},
		{name: "too long", target: "/aggregated-stats?username=" + strings.Repeat("a", 40)},
		{name: "invalid fork flag", target: "/aggregated-stats?username=octocat&fork=maybe"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			service := &mockService{}

			rec := get(newTestServer(service, nil), test.target)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, service.keys)
		})
	}
}

func TestAggregatedStatsErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "not found", err: errors.New(errors.CodeNotFound, "no such user"), status: http.StatusNotFound},
		{name: "upstream unavailable", err: errors.New(errors.CodeUnavailable, "bad gateway"), status: http.StatusBadGateway},
		{name: "upstream timeout", err: errors.New(errors.CodeTimeout, "deadline exceeded"), status: http.StatusBadGateway},
		{name: "rate limited", err: errors.New(errors.CodeRateLimit, "secondary rate limit"), status: http.StatusBadGateway},
		{name: "caller went away", err: errors.New(stats.CodeCanceled, "context canceled"), status: 499},
		{name: "store failure", err: errors.New(errors.CodeDatabase, "connection reset"), status: http.StatusInternalServerError},
		{name: "bad credentials", err: errors.New(errors.CodeUnauthorized, "bad credentials"), status: http.StatusInternalServerError},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			rec := get(newTestServer(&mockService{err: test.err}, nil), "/aggregated-stats?username=octocat")

			assert.Equal(t, test.status, rec.Code)

			var body errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestRateLimit(t *testing.T) {
	reset := time.Date(2026, 10, 19, 5, 0, 0, 0, time.UTC)
	limits := &mockLimits{rl: github.RateLimit{RemainingRest: 10, RemainingGraphql: 20, ResetRest: reset, ResetGraphql: reset}}

	rec := get(newTestServer(&mockService{}, limits), "/rate-limit")
	require.Equal(t, http.StatusOK, rec.Code)

	var rl github.RateLimit
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rl))
	assert.Equal(t, 10, rl.RemainingRest)
	assert.Equal(t, 20, rl.RemainingGraphql)

	limits.err = errors.New(errors.CodeNetwork, "connection refused")
	rec = get(newTestServer(&mockService{}, limits), "/rate-limit")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.ObserveRefresh(string(stats.StateRefreshed), time.Second)

	s := New(&mockService{}, nil, &Config{Gatherer: reg})

	rec := get(s, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = get(s, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `ghstats_refresh_total{state="refreshed"} 1`)
}

func TestCORSAndRequestID(t *testing.T) {
	s := New(&mockService{outcome: &stats.Outcome{}}, nil, &Config{
		CORSOrigins: []string{"https://stats.example"},
		Gatherer:    prometheus.NewRegistry(),
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://stats.example")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, "https://stats.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Len(t, rec.Header().Get("X-Request-Id"), 36)
}
