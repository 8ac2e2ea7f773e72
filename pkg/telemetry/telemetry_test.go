package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_ObserveRun(t *testing.T) {
	m := New()
	finished := time.Unix(1710400000, 0)

	m.ObserveRun(StatusSuccess, 1500*time.Millisecond, finished)
	m.ObserveRun(StatusFailure, time.Second, finished.Add(time.Hour))

	assert.InDelta(t, 1, testutil.ToFloat64(m.runs.WithLabelValues(StatusSuccess)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.runs.WithLabelValues(StatusFailure)), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.runDuration), 1e-9)
	assert.InDelta(t, 1710400000, testutil.ToFloat64(m.lastSuccess), 0)
}

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.SetApps(3)
	m.AddBuilds(10)
	m.AddBuilds(5)
	m.RowAppended("Build Count", 2)
	m.RowAppended("Build Count", 3)

	assert.InDelta(t, 3, testutil.ToFloat64(m.apps), 0)
	assert.InDelta(t, 15, testutil.ToFloat64(m.buildsFetched), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.rowsAppended.WithLabelValues("Build Count")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.tableColumns.WithLabelValues("Build Count")), 0)
}

func TestMetrics_ObserveRequest(t *testing.T) {
	m := New()

	m.ObserveRequest(http.MethodGet, "/api/v1/tables", http.StatusOK, 20*time.Millisecond)
	m.ObserveRequest(http.MethodGet, "/api/v1/tables", http.StatusOK, 30*time.Millisecond)
	m.ObserveRequest(http.MethodGet, "/api/v1/tables/{name}", http.StatusNotFound, time.Millisecond)

	assert.InDelta(t, 2,
		testutil.ToFloat64(m.requests.WithLabelValues(http.MethodGet, "/api/v1/tables", "200")), 0)
	assert.InDelta(t, 1,
		testutil.ToFloat64(m.requests.WithLabelValues(http.MethodGet, "/api/v1/tables/{name}", "404")), 0)
}

func TestMetrics_RateLimited(t *testing.T) {
	m := New()

	m.RateLimited("/api/v1/tables/{name}")
	m.RateLimited("/api/v1/tables/{name}")

	assert.InDelta(t, 2,
		testutil.ToFloat64(m.rateLimited.WithLabelValues("/api/v1/tables/{name}")), 0)
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.AddBuilds(7)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "buildstatsoor_provider_builds_fetched_total 7")
}

func TestMetrics_Push(t *testing.T) {
	var (
		gotMethod string
		gotPath   string
		gotBody   string
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path

		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := New()
	m.SetApps(2)

	require.NoError(t, m.Push(context.Background(), srv.URL, "buildstatsoor"))

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.True(t, strings.HasPrefix(gotPath, "/metrics/job/buildstatsoor"), gotPath)
	assert.NotEmpty(t, gotBody)
}

func TestMetrics_PushFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := New().Push(context.Background(), srv.URL, "buildstatsoor")
	require.Error(t, err)
}
