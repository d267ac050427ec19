package middleware

import (
	"net/http"
	"time"

	"github.com/angelmondragon/farmcart-backend/pkg/logger"
)

// Logging emits one access line per request. Server errors log at warn so
// they surface with the stack setting; everything else logs at info.
func Logging(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logg == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := logg.WithFields(r.Context(), map[string]any{
				"method": r.Method,
				"path":   r.URL.Path,
			})
			capture := &responseCapture{ResponseWriter: w}
			start := time.Now()

			next.ServeHTTP(capture, r.WithContext(ctx))

			status := capture.statusCode()
			ctx = logg.WithFields(ctx, map[string]any{
				"status":        status,
				"duration_ms":   time.Since(start).Milliseconds(),
				"response_size": capture.size,
			})
			if status >= http.StatusInternalServerError {
				logg.Warn(ctx, "request.complete")
				return
			}
			logg.Info(ctx, "request.complete")
		})
	}
}
