package daemon

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"git.home.luguber.info/inful/focusguard/internal/foundation/errors"
	"git.home.luguber.info/inful/focusguard/internal/logfields"
)

// chain wraps admin handlers with request logging and panic recovery.
func chain(logger *slog.Logger, adapter *errors.HTTPErrorAdapter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return loggingMiddleware(logger, panicRecoveryMiddleware(logger, adapter, next))
	}
}

// loggingMiddleware logs method, path, status and duration at debug level. Scrapes and
// probes are frequent.
func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		logger.Debug("Admin request",
			slog.String("method", r.Method),
			logfields.Path(r.URL.Path),
			slog.Int("status", wrapped.statusCode),
			logfields.DurationMS(float64(time.Since(start).Microseconds())/1000),
			slog.String("remote_addr", r.RemoteAddr))
	})
}

// panicRecoveryMiddleware turns a handler panic into a structured 500 response.
func panicRecoveryMiddleware(logger *slog.Logger, adapter *errors.HTTPErrorAdapter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("Admin handler panic",
					slog.String("panic", fmt.Sprint(rec)),
					logfields.Path(r.URL.Path),
					slog.String("method", r.Method))

				panicErr := errors.InternalError("internal server error").
					WithContext("path", r.URL.Path).
					WithContext("method", r.Method).
					Build()
				adapter.WriteErrorResponse(w, r, panicErr)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter captures status codes for logging.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
