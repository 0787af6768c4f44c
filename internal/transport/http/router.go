// Package httptransport assembles the chi router: shared middleware, the
// domain handlers, admin routes, health and metrics.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kycvault/internal/platform/metrics"
	"kycvault/pkg/platform/httputil"
	"kycvault/pkg/platform/middleware/admin"
	"kycvault/pkg/platform/middleware/metadata"
	request "kycvault/pkg/platform/middleware/request"
	"kycvault/pkg/platform/middleware/requesttime"
)

const defaultRequestTimeout = 30 * time.Second

// Registrar is implemented by every domain handler.
type Registrar interface {
	Register(r chi.Router)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Deps collects what the router mounts.
type Deps struct {
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
	Handlers       []Registrar
	AdminHandlers  []Registrar
	AdminToken     string
	HealthChecks   map[string]HealthCheck
	RequestTimeout time.Duration
	// Clock overrides the request time source. Nil uses the wall clock.
	Clock func() time.Time
}

// NewRouter wires all public endpoints behind the shared middleware chain.
func NewRouter(d Deps) http.Handler {
	timeout := d.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(request.Recovery(d.Logger))
	r.Use(request.RequestID)
	r.Use(metadata.ClientMetadata)
	if d.Clock != nil {
		r.Use(requesttime.MiddlewareWithClock(d.Clock))
	} else {
		r.Use(requesttime.Middleware)
	}
	r.Use(request.Logger(d.Logger))
	if d.Metrics != nil {
		r.Use(request.LatencyMiddleware(d.Metrics))
	}

	r.Get("/healthz", healthHandler(d.HealthChecks))
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(request.Timeout(timeout))
		for _, h := range d.Handlers {
			h.Register(r)
		}
	})

	r.Group(func(r chi.Router) {
		r.Use(admin.RequireAdminToken(d.AdminToken, d.Logger))
		r.Use(request.Timeout(timeout))
		for _, h := range d.AdminHandlers {
			h.Register(r)
		}
	})

	return r
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}
		state := "ok"
		if status != http.StatusOK {
			state = "degraded"
		}
		httputil.WriteJSON(w, status, map[string]any{"status": state, "checks": results})
	}
}
