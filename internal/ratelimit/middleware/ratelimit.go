// Package middleware enforces per-requester sliding window limits on HTTP
// routes. A shared Redis store is preferred; when it fails repeatedly the
// limiter degrades to a process-local store instead of failing open.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"kycvault/internal/platform/metrics"
	"kycvault/internal/ratelimit/models"
	dErrors "kycvault/pkg/domain-errors"
	"kycvault/pkg/platform/circuit"
	"kycvault/pkg/platform/httputil"
	"kycvault/pkg/requestcontext"
)

// Limiter checks and records one request against a bucket.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error)
}

type Middleware struct {
	primary  Limiter
	fallback Limiter
	breaker  *circuit.Breaker
	logger   *slog.Logger
	metrics  *metrics.Metrics
	disabled bool
}

type Option func(*Middleware)

// WithDisabled disables rate limiting entirely (for testing/demo mode).
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

// WithFallback sets the store used while the primary's breaker is open.
func WithFallback(fallback Limiter, breaker *circuit.Breaker) Option {
	return func(m *Middleware) {
		m.fallback = fallback
		m.breaker = breaker
	}
}

func WithMetrics(mtr *metrics.Metrics) Option {
	return func(m *Middleware) {
		m.metrics = mtr
	}
}

func New(primary Limiter, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		primary: primary,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

// RateLimitByRequester limits requests per "requester" query parameter,
// falling back to the client IP when it is absent.
func (m *Middleware) RateLimitByRequester(limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.disabled || limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			key := models.NewIPKey(requestcontext.ClientIP(ctx))
			if requester := strings.TrimSpace(r.URL.Query().Get("requester")); requester != "" {
				key = models.NewResolveKey(requester)
			}

			result, err := m.check(ctx, key, limit, window)
			if err != nil {
				m.logger.ErrorContext(ctx, "rate limit check failed",
					"request_id", requestcontext.RequestID(ctx),
					"error", err,
				)
				next.ServeHTTP(w, r)
				return
			}

			addRateLimitHeaders(w, result)

			if !result.Allowed {
				if m.metrics != nil {
					m.metrics.IncrementRateLimited(routeLabel(r))
				}
				m.logger.WarnContext(ctx, "rate limit exceeded",
					"request_id", requestcontext.RequestID(ctx),
					"key", key,
					"retry_after", result.RetryAfter,
				)
				w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
				httputil.WriteError(w, dErrors.New(dErrors.CodeRateLimited, "too many requests, retry later"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (m *Middleware) check(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error) {
	if m.fallback == nil {
		return m.primary.Allow(ctx, key, limit, window)
	}
	if !m.breaker.Allow() {
		return m.fallback.Allow(ctx, key, limit, window)
	}

	result, err := m.primary.Allow(ctx, key, limit, window)
	if err != nil {
		_, change := m.breaker.RecordFailure()
		if change.Opened {
			m.logger.WarnContext(ctx, "rate limit store unavailable, using local fallback",
				"breaker", m.breaker.Name(),
				"error", err,
			)
		}
		return m.fallback.Allow(ctx, key, limit, window)
	}
	if _, change := m.breaker.RecordSuccess(); change.Closed {
		m.logger.InfoContext(ctx, "rate limit store recovered", "breaker", m.breaker.Name())
	}
	return result, nil
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.RateLimitResult) {
	if result == nil {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unknown"
}
