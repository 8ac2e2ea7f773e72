package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/buildstatsoor/pkg/config"
	"github.com/ethpandaops/buildstatsoor/pkg/sheet"
	"github.com/ethpandaops/buildstatsoor/pkg/telemetry"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}

func newTestServer(t *testing.T, cfg *config.APIConfig, metrics *telemetry.Metrics) (*server, sheet.Store) {
	t.Helper()

	store := sheet.NewMemoryStore()
	ctx := context.Background()
	syncer := sheet.NewSynchronizer(quietLogger(), store)

	_, err := syncer.Sync(ctx, "Build Count", "2024/03/14", []sheet.Entry{
		{Key: "App A", Value: sheet.Int(3)},
		{Key: "App B", Value: sheet.Int(1)},
	})
	require.NoError(t, err)

	_, err = syncer.Sync(ctx, "Hold Avg Time", "2024/03/14", []sheet.Entry{
		{Key: "ios", Value: sheet.Number(0.02)},
	})
	require.NoError(t, err)

	s := NewServer(quietLogger(), cfg, store, metrics).(*server)

	return s, store
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	return rec
}

func TestRouter_Health(t *testing.T) {
	s, _ := newTestServer(t, &config.APIConfig{}, nil)

	rec := get(t, s.buildRouter(), "/api/v1/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRouter_ListTables(t *testing.T) {
	s, _ := newTestServer(t, &config.APIConfig{}, nil)

	for _, path := range []string{"/api/v1/tables", "/api/v1/tables/"} {
		rec := get(t, s.buildRouter(), path)
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.JSONEq(t, `{"tables":["Build Count","Hold Avg Time"]}`, rec.Body.String())
	}
}

func TestRouter_GetTable(t *testing.T) {
	s, _ := newTestServer(t, &config.APIConfig{}, nil)

	rec := get(t, s.buildRouter(), "/api/v1/tables/Build%20Count")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var snap struct {
		Name   string   `json:"name"`
		Header []string `json:"header"`
		Rows   []struct {
			Row    int                `json:"row"`
			Label  string             `json:"label"`
			Values map[string]float64 `json:"values"`
		} `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))

	assert.Equal(t, "Build Count", snap.Name)
	assert.Equal(t, []string{"App A", "App B"}, snap.Header)
	require.Len(t, snap.Rows, 1)
	assert.Equal(t, 2, snap.Rows[0].Row)
	assert.Equal(t, "2024/03/14", snap.Rows[0].Label)
	assert.Equal(t, map[string]float64{"App A": 3, "App B": 1}, snap.Rows[0].Values)
}

func TestRouter_GetTableCSV(t *testing.T) {
	s, _ := newTestServer(t, &config.APIConfig{}, nil)

	rec := get(t, s.buildRouter(), "/api/v1/tables/Hold%20Avg%20Time/csv")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `"Hold Avg Time.csv"`)
	assert.Equal(t, "date,ios\n2024/03/14,0.02\n", rec.Body.String())
}

func TestRouter_EscapedSlashInName(t *testing.T) {
	s, store := newTestServer(t, &config.APIConfig{}, nil)

	_, err := store.FindOrCreate(context.Background(), "ios/android")
	require.NoError(t, err)

	rec := get(t, s.buildRouter(), "/api/v1/tables/ios%2Fandroid")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"ios/android"`)
}

func TestRouter_TableNotFound(t *testing.T) {
	s, _ := newTestServer(t, &config.APIConfig{}, nil)

	for _, path := range []string{"/api/v1/tables/missing", "/api/v1/tables/missing/csv"} {
		rec := get(t, s.buildRouter(), path)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.JSONEq(t, `{"error":"table not found"}`, rec.Body.String())
	}
}

func TestRouter_RateLimit(t *testing.T) {
	m := telemetry.New()
	s, _ := newTestServer(t, &config.APIConfig{
		RateLimit: config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2},
	}, m)
	t.Cleanup(func() { s.limits.stop() })

	router := s.buildRouter()

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, get(t, router, "/api/v1/tables/Build%20Count").Code)
	}

	rec := get(t, router, "/api/v1/tables/Build%20Count")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, rec.Body.String())

	assert.Equal(t, http.StatusOK, get(t, router, "/api/v1/health").Code,
		"health is not rate limited")

	metrics := get(t, router, "/metrics")
	require.Equal(t, http.StatusOK, metrics.Code)
	assert.Contains(t, metrics.Body.String(),
		`buildstatsoor_api_rate_limited_total{route="/api/v1/tables/{name}"} 1`)
}

func TestRouter_RateLimitPerClient(t *testing.T) {
	s, _ := newTestServer(t, &config.APIConfig{
		RateLimit: config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1},
	}, nil)
	t.Cleanup(func() { s.limits.stop() })

	router := s.buildRouter()

	request := func(forwarded string) int {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/tables", nil)
		r.Header.Set("X-Forwarded-For", forwarded)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, r)

		return rec.Code
	}

	assert.Equal(t, http.StatusOK, request("203.0.113.7"))
	assert.Equal(t, http.StatusTooManyRequests, request("203.0.113.7"))
	assert.Equal(t, http.StatusOK, request("203.0.113.8, 10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, request("203.0.113.8"))
}

func TestClientLimits_EvictIdle(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

	limits := newClientLimits(config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1})
	limits.now = func() time.Time { return now }

	require.True(t, limits.allow("10.0.0.1"))
	require.False(t, limits.allow("10.0.0.1"))

	now = now.Add(5 * time.Minute)
	require.True(t, limits.allow("10.0.0.2"))

	now = now.Add(6 * time.Minute)
	assert.Equal(t, 1, limits.evictIdle(), "only the recently seen client is kept")

	now = now.Add(bucketIdleTTL + time.Second)
	assert.Equal(t, 0, limits.evictIdle())
}

func TestRouter_Metrics(t *testing.T) {
	m := telemetry.New()
	s, _ := newTestServer(t, &config.APIConfig{}, m)

	router := s.buildRouter()
	require.Equal(t, http.StatusOK, get(t, router, "/api/v1/tables/Build%20Count").Code)

	rec := get(t, router, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(),
		`buildstatsoor_api_http_requests_total{method="GET",route="/api/v1/tables/{name}",status="200"} 1`)
}

func TestRouter_NoMetricsRoute(t *testing.T) {
	s, _ := newTestServer(t, &config.APIConfig{}, nil)

	assert.Equal(t, http.StatusNotFound, get(t, s.buildRouter(), "/metrics").Code)
}

func TestServer_StartStop(t *testing.T) {
	s, _ := newTestServer(t, &config.APIConfig{Listen: "127.0.0.1:0"}, nil)

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
}

func TestClientAddr(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		want   string
	}{
		{name: "host and port", remote: "10.0.0.1:5555", want: "10.0.0.1"},
		{name: "ipv6", remote: "[2001:db8::1]:443", want: "2001:db8::1"},
		{name: "no port", remote: "10.0.0.2", want: "10.0.0.2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote

			assert.Equal(t, tt.want, clientAddr(r))
		})
	}
}
