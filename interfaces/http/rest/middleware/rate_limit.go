package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	pkgerrors "loci/pkg/errors"
)

// Limiter admits or rejects one request for key.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, remaining int, err error)
	Limit() int
}

// RateLimit rejects callers over their per-window budget with RATE_LIMIT.
// When the limiter itself fails the request is let through.
func RateLimit(limiter Limiter, window time.Duration, errHandler *pkgerrors.ErrorHandler, logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, remaining, err := limiter.Allow(r.Context(), callerKey(r))
			if err != nil {
				logger.Warn("Rate limiter unavailable, admitting request", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
				errHandler.Handle(w, r, pkgerrors.NewRateLimitError(limiter.Limit(), window.String()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
