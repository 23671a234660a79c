package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/oicur0t/loglwatch/internal/config"
	"github.com/oicur0t/loglwatch/pkg/mtls"
	"go.uber.org/zap"
)

const defaultShutdownTimeout = 5 * time.Second

// NewRouter registers the status routes and applies the middleware chain.
// metricsHandler may be nil.
func NewRouter(h *Handler, metricsHandler http.Handler, cfg config.ServerConfig, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", h.Health)
	mux.HandleFunc("GET /v1/status", h.Status)
	mux.HandleFunc("GET "+statusPrefix+"{name}", h.ServiceStatus)
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	var handler http.Handler = mux
	handler = RecoveryMiddleware(logger)(handler)
	handler = LoggingMiddleware(logger)(handler)

	if cfg.MTLS.Enabled && cfg.MTLS.ClientAuth == mtls.ClientAuthRequire {
		handler = MTLSMiddleware(logger)(handler)
	}
	return handler
}

// Run listens on cfg.ListenAddress and serves handler until ctx is done
func Run(ctx context.Context, cfg config.ServerConfig, handler http.Handler, logger *zap.Logger) error {
	ln, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.ListenAddress, err)
	}
	return Serve(ctx, ln, cfg, handler, logger)
}

// Serve serves handler on ln until ctx is done, then shuts down within
// cfg.ShutdownTimeout. The listener is closed on return.
func Serve(ctx context.Context, ln net.Listener, cfg config.ServerConfig, handler http.Handler, logger *zap.Logger) error {
	httpServer := &http.Server{
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	if cfg.MTLS.Enabled {
		tlsConfig, err := mtls.ServerConfig(mtls.Files{
			CACert: cfg.MTLS.CACert,
			Cert:   cfg.MTLS.ServerCert,
			Key:    cfg.MTLS.ServerKey,
		}, cfg.MTLS.ClientAuth)
		if err != nil {
			ln.Close()
			return fmt.Errorf("failed to load TLS config: %w", err)
		}
		httpServer.TLSConfig = tlsConfig
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Status server starting",
			zap.String("addr", ln.Addr().String()),
			zap.Bool("mtls", cfg.MTLS.Enabled))

		if cfg.MTLS.Enabled {
			serverErrors <- httpServer.ServeTLS(ln, "", "") // certs come from TLSConfig
		} else {
			serverErrors <- httpServer.Serve(ln)
		}
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status server failed: %w", err)

	case <-ctx.Done():
		timeout := cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Status server shutdown error", zap.Error(err))
			httpServer.Close()
			return err
		}
		logger.Info("Status server stopped")
		return nil
	}
}
