package main

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/oicur0t/loglwatch/internal/alert"
	"github.com/oicur0t/loglwatch/internal/config"
	"github.com/oicur0t/loglwatch/internal/metrics"
	"github.com/oicur0t/loglwatch/internal/monitor"
	"github.com/oicur0t/loglwatch/internal/plugin"
	"github.com/oicur0t/loglwatch/internal/source"
	"github.com/oicur0t/loglwatch/internal/store"
	"github.com/oicur0t/loglwatch/internal/throttle"
	"github.com/oicur0t/loglwatch/pkg/mtls"
	"go.uber.org/zap"
)

// runtime holds everything a monitoring command needs
type runtime struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   store.Store
	sources *source.Factory
	metrics *metrics.Metrics
	loop    *monitor.Loop
}

func setup(configPath string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := initLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

func newRuntime(ctx context.Context, configPath string) (*runtime, error) {
	cfg, logger, err := setup(configPath)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.State, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	var notifier plugin.Notifier
	if cfg.Alerting.Enabled {
		client, err := newAlertClient(cfg.Alerting, logger)
		if err != nil {
			st.Close(ctx)
			return nil, err
		}
		notifier = client
	}

	registry := plugin.NewRegistry(notifier, logger)
	if cfg.PluginsDir != "" {
		// services using a broken definition fail on their own
		if err := registry.LoadDir(cfg.PluginsDir); err != nil {
			logger.Error("Some plugin definitions failed to load", zap.Error(err))
		}
	}

	logger.Debug("Plugins registered", zap.Strings("plugins", registry.Names()))

	m := metrics.New()
	sources := source.NewFactory(cfg, logger)

	loop := monitor.New(ctx, cfg, monitor.Deps{
		Sources:   sources,
		Plugins:   registry,
		Throttler: throttle.New(ctx, st, logger),
		Store:     st,
		Metrics:   m,
	}, logger)

	for _, svc := range cfg.Services {
		if err := svc.Validate(); err != nil {
			logger.Warn("Invalid service definition", zap.String("service", svc.Name), zap.Error(err))
		}
	}

	return &runtime{
		cfg:     cfg,
		logger:  logger,
		store:   st,
		sources: sources,
		metrics: m,
		loop:    loop,
	}, nil
}

func newAlertClient(cfg config.AlertingConfig, logger *zap.Logger) (*alert.Client, error) {
	files := mtls.Files{
		CACert:     cfg.MTLS.CACert,
		Cert:       cfg.MTLS.ClientCert,
		Key:        cfg.MTLS.ClientKey,
		ServerName: cfg.MTLS.ServerName,
	}

	// without a CA the endpoint is plain HTTP or server-only TLS
	var tlsConfig *tls.Config
	if files.CACert != "" {
		var err error
		tlsConfig, err = mtls.ClientConfig(files)
		if err != nil {
			return nil, fmt.Errorf("failed to load alerting mTLS config: %w", err)
		}
	}
	return alert.NewClient(cfg.URL, tlsConfig, cfg.Timeout, cfg.MaxRetries, cfg.RetryBackoff, logger), nil
}

func (r *runtime) Close(ctx context.Context) {
	if err := r.sources.Close(); err != nil {
		r.logger.Warn("Failed to close runtime clients", zap.Error(err))
	}
	if err := r.store.Close(ctx); err != nil {
		r.logger.Warn("Failed to close state store", zap.Error(err))
	}
	r.logger.Sync()
}
