package notify

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

	"github.com/ethpandaops/buildstatsoor/pkg/stats"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}

func TestHoldMinutes(t *testing.T) {
	tests := []struct {
		days float64
		want float64
	}{
		{days: 0, want: 0},
		{days: 0.02, want: 28.8},
		{days: 1.0 / 24, want: 60},
		{days: 0.5 / 1440, want: 0.5},
		{days: 0.04 / 1440, want: 0},
	}

	for _, tt := range tests {
		assert.InDelta(t, tt.want, HoldMinutes(tt.days), 1e-9, "days=%v", tt.days)
	}
}

func TestFormatHoldSummary(t *testing.T) {
	types := []stats.TypeStatistic{
		{Type: "ios", AvgHoldTime: 0.02},
		{Type: "android", AvgHoldTime: 3.0 / 1440},
	}

	tests := []struct {
		name   string
		prefix string
		types  []stats.TypeStatistic
		want   string
	}{
		{
			name:  "no prefix",
			types: types,
			want:  "ios: 28.8 min, android: 3.0 min",
		},
		{
			name:   "with prefix",
			prefix: "Average hold time yesterday:",
			types:  types,
			want:   "Average hold time yesterday: ios: 28.8 min, android: 3.0 min",
		},
		{
			name:  "single type",
			types: types[:1],
			want:  "ios: 28.8 min",
		},
		{
			name: "empty",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatHoldSummary(tt.prefix, tt.types))
		})
	}
}

func TestWebhookNotifier_Notify(t *testing.T) {
	var (
		gotMethod      string
		gotContentType string
		gotPayload     webhookPayload
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")

		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			w.WriteHeader(http.StatusBadRequest)

			return
		}

		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	n := New(quietLogger(), Options{WebhookURL: srv.URL, Timeout: 5 * time.Second})
	require.True(t, n.Enabled())

	require.NoError(t, n.Notify(context.Background(), "ios: 28.8 min"))

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "ios: 28.8 min", gotPayload.Text)
}

func TestWebhookNotifier_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("invalid_token"))
	}))
	defer srv.Close()

	n := New(quietLogger(), Options{WebhookURL: srv.URL, Timeout: 5 * time.Second})

	err := n.Notify(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "invalid_token")
}

func TestWebhookNotifier_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n := New(quietLogger(), Options{WebhookURL: srv.URL, Timeout: 5 * time.Second})
	require.Error(t, n.Notify(ctx, "hello"))
}

func TestNew_EmptyURLIsNoop(t *testing.T) {
	n := New(quietLogger(), Options{})

	assert.False(t, n.Enabled())
	assert.NoError(t, n.Notify(context.Background(), "ignored"))
}
