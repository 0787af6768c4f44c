package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kycvault/internal/platform/metrics"
	"kycvault/internal/ratelimit/models"
	"kycvault/internal/ratelimit/store/bucket"
	"kycvault/pkg/platform/circuit"
	"kycvault/pkg/requestcontext"
)

type failingLimiter struct{ calls int }

func (f *failingLimiter) Allow(context.Context, string, int, time.Duration) (*models.RateLimitResult, error) {
	f.calls++
	return nil, errors.New("connection refused")
}

type recordingLimiter struct{ keys []string }

func (l *recordingLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (*models.RateLimitResult, error) {
	l.keys = append(l.keys, key)
	return &models.RateLimitResult{Allowed: true, Limit: limit, Remaining: limit - 1}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serve(h http.Handler, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req = req.WithContext(requestcontext.WithClientMetadata(req.Context(), "10.0.0.1", "curl/8"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRateLimitByRequester(t *testing.T) {
	t.Run("rejects once the requester exceeds the limit", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		m := metrics.NewWithRegisterer(reg)
		mw := New(bucket.New(), discardLogger(), WithMetrics(m))
		h := mw.RateLimitByRequester(2, time.Minute)(okHandler())

		for range 2 {
			rr := serve(h, "/resolve/x?requester=BankB")
			require.Equal(t, http.StatusOK, rr.Code)
		}
		rr := serve(h, "/resolve/x?requester=BankB")
		assert.Equal(t, http.StatusTooManyRequests, rr.Code)
		assert.Contains(t, rr.Body.String(), `"error":"rate_limited"`)
		assert.NotEmpty(t, rr.Header().Get("Retry-After"))
		assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimited.WithLabelValues("unknown")))

		other := serve(h, "/resolve/x?requester=BankA")
		assert.Equal(t, http.StatusOK, other.Code, "buckets are per requester")
	})

	t.Run("keys on client ip without requester", func(t *testing.T) {
		rec := &recordingLimiter{}
		h := New(rec, discardLogger()).RateLimitByRequester(5, time.Minute)(okHandler())

		serve(h, "/resolve/x")
		serve(h, "/resolve/x?requester=Bank:A")
		assert.Equal(t, []string{"rl:ip:10.0.0.1", "rl:resolve:Bank_A"}, rec.keys)
	})

	t.Run("disabled passes through", func(t *testing.T) {
		rec := &recordingLimiter{}
		h := New(rec, discardLogger(), WithDisabled(true)).RateLimitByRequester(1, time.Minute)(okHandler())
		for range 3 {
			assert.Equal(t, http.StatusOK, serve(h, "/resolve/x?requester=BankB").Code)
		}
		assert.Empty(t, rec.keys)
	})

	t.Run("store error without fallback lets the request through", func(t *testing.T) {
		h := New(&failingLimiter{}, discardLogger()).RateLimitByRequester(1, time.Minute)(okHandler())
		assert.Equal(t, http.StatusOK, serve(h, "/resolve/x?requester=BankB").Code)
	})

	t.Run("falls back to local store when primary fails", func(t *testing.T) {
		primary := &failingLimiter{}
		breaker := circuit.New("ratelimit", circuit.WithFailureThreshold(1), circuit.WithCooldown(time.Hour))
		h := New(primary, discardLogger(), WithFallback(bucket.New(), breaker)).
			RateLimitByRequester(1, time.Minute)(okHandler())

		assert.Equal(t, http.StatusOK, serve(h, "/resolve/x?requester=BankB").Code)
		assert.Equal(t, http.StatusTooManyRequests, serve(h, "/resolve/x?requester=BankB").Code)
		assert.Equal(t, 1, primary.calls, "open breaker skips the primary")
		assert.True(t, breaker.IsOpen())
	})
}
