package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/nsscheduler/pkg/log"
	"github.com/cuemby/nsscheduler/pkg/metrics"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withRequestLogging stamps every request with a generated request ID and
// records its outcome, logged and exported as Prometheus counters/
// histograms keyed by route. This is the JSON-HTTP analogue of the
// teacher's gRPC ReadOnlyInterceptor: there is no read-only-socket concept
// on this surface, so the middleware only logs and stamps an ID rather than
// gating methods by name.
func withRequestLogging(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		logger := log.WithRequestID(requestID)
		start := time.Now()

		w.Header().Set("X-Request-Id", requestID)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)

		elapsed := time.Since(start)
		metrics.APIRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
		logger.Info().
			Str("route", route).
			Str("method", r.Method).
			Int("status", rec.status).
			Dur("duration", elapsed).
			Msg("api request")
	}
}
