package middleware

import (
	"net/http"
	"time"

	"github.com/ayo6706/payment-ledger/internal/observability"
	"github.com/go-chi/chi/v5"
)

// unmatchedRoute labels requests chi could not route, keeping raw paths out of the label set.
const unmatchedRoute = "unmatched"

// MetricsMiddleware observes request latency by method, route pattern and status.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		observability.ObserveHTTP(r.Method, routeLabel(r), rw.status, time.Since(start))
	})
}

func routeLabel(r *http.Request) string {
	rc := chi.RouteContext(r.Context())
	if rc == nil {
		return unmatchedRoute
	}
	if pattern := rc.RoutePattern(); pattern != "" {
		return pattern
	}
	return unmatchedRoute
}
