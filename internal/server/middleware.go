package server

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const statusPrefix = "/v1/status/"

// LoggingMiddleware logs every status request at debug level. Responses
// with a server error are logged at warn level.
func LoggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(wrapped, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapped.statusCode),
				zap.Int("bytes", wrapped.written),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			}
			if service := statusService(r.URL.Path); service != "" {
				fields = append(fields, zap.String("service", service))
			}

			if wrapped.statusCode >= http.StatusInternalServerError {
				logger.Warn("Status request failed", fields...)
				return
			}
			logger.Debug("Status request", fields...)
		})
	}
}

// MTLSMiddleware rejects requests that did not present a client certificate.
// It is only installed when client_auth is require.
func MTLSMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reject := func(reason string) {
				logger.Warn("Rejected status request",
					zap.String("reason", reason),
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr))
				writeJSON(w, http.StatusForbidden, apiError{
					Error:   reason,
					Service: statusService(r.URL.Path),
				}, logger)
			}

			if r.TLS == nil {
				reject("TLS required")
				return
			}
			if len(r.TLS.PeerCertificates) == 0 {
				reject("client certificate required")
				return
			}

			clientCert := r.TLS.PeerCertificates[0]
			logger.Debug("Status client authenticated",
				zap.String("client", clientCert.Subject.CommonName),
				zap.String("issuer", clientCert.Issuer.String()),
			)

			next.ServeHTTP(w, r)
		})
	}
}

// RecoveryMiddleware turns a panic while rendering status into a JSON 500
// naming the service that was requested
func RecoveryMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				service := statusService(r.URL.Path)
				logger.Error("Panic while serving status",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
					zap.String("service", service),
					zap.Stack("stack"),
				)
				writeJSON(w, http.StatusInternalServerError, apiError{
					Error:   "internal error rendering status",
					Service: service,
				}, logger)
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// statusService returns the service named by a per-service status path
func statusService(path string) string {
	name, ok := strings.CutPrefix(path, statusPrefix)
	if !ok || strings.Contains(name, "/") {
		return ""
	}
	return name
}

// responseWriter captures the status code and body size written by the next handler
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += n
	return n, err
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
