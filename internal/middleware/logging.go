package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"chirpfeed/internal/logging"

	"github.com/google/uuid"
)

const RequestIDHeader = "X-Request-ID"

// LoggingMiddleware assigns a request id, stores a request-scoped logger in
// the context and logs each request once it completes.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}
		rw.Header().Set(RequestIDHeader, requestID)

		logger := logging.RequestLogger(r.Context(), requestID, r.Method, r.URL.Path)
		if viewer := r.Header.Get(ViewerHeader); viewer != "" {
			logger = logger.With(slog.String("viewer_id", viewer))
		}
		ctx := logging.ContextWithLogger(r.Context(), logger)

		next.ServeHTTP(rw, r.WithContext(ctx))

		logger.Info("HTTP Request",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("user_agent", r.UserAgent()),
			slog.Int("status_code", rw.statusCode),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
