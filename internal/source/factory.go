package source

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/docker/docker/client"
	"github.com/oicur0t/loglwatch/internal/config"
	"go.uber.org/zap"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

const clientInitTimeout = 10 * time.Second

// Factory builds sources for configured services. Runtime clients are
// created once, on first use, and their availability is fixed from then on.
type Factory struct {
	cfg    *config.Config
	runner CommandRunner
	logger *zap.Logger

	dockerOnce sync.Once
	docker     ContainerAPI
	dockerErr  error

	kubeOnce sync.Once
	kube     kubernetes.Interface
	kubeErr  error
}

// FactoryOption customises a Factory
type FactoryOption func(*Factory)

// WithContainerAPI uses api instead of connecting to the Docker daemon
func WithContainerAPI(api ContainerAPI) FactoryOption {
	return func(f *Factory) {
		f.dockerOnce.Do(func() { f.docker = api })
	}
}

// WithKubernetes uses c instead of building a clientset from configuration
func WithKubernetes(c kubernetes.Interface) FactoryOption {
	return func(f *Factory) {
		f.kubeOnce.Do(func() { f.kube = c })
	}
}

// WithCommandRunner replaces the runner used for restart commands
func WithCommandRunner(r CommandRunner) FactoryOption {
	return func(f *Factory) {
		f.runner = r
	}
}

// NewFactory creates a factory for cfg
func NewFactory(cfg *config.Config, logger *zap.Logger, opts ...FactoryOption) *Factory {
	f := &Factory{
		cfg:    cfg,
		runner: execRunner{},
		logger: logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// For returns the source of svc. svc must already be valid.
func (f *Factory) For(svc config.ServiceConfig) (Source, error) {
	queue := f.cfg.Streaming.QueueSize
	logger := f.logger.With(zap.String("service", svc.Name))

	switch svc.Kind() {
	case config.SourceFile:
		return NewFileSource(svc.FilePath, FileOptions{
			Poll:           f.cfg.File.Poll,
			PollInterval:   f.cfg.File.PollInterval,
			RestartCommand: svc.RestartCommand,
			Runner:         f.runner,
			QueueSize:      queue,
		}, logger), nil

	case config.SourceContainer:
		api, err := f.dockerClient()
		if err != nil {
			return unavailable{what: "container " + svc.ContainerID, reason: err}, nil
		}
		return NewContainerSource(api, svc.ContainerID, queue, logger), nil

	case config.SourcePod:
		c, err := f.kubeClient()
		if err != nil {
			return unavailable{what: "pod " + svc.Namespace + "/" + svc.PodName, reason: err}, nil
		}
		return NewPodSource(c, svc.Namespace, svc.PodName, queue, logger), nil
	}
	return nil, fmt.Errorf("%w: unknown source %q", config.ErrInvalidService, svc.Source)
}

func (f *Factory) dockerClient() (ContainerAPI, error) {
	f.dockerOnce.Do(func() {
		opts := []client.Opt{client.FromEnv}
		if f.cfg.Docker.Host != "" {
			opts = append(opts, client.WithHost(f.cfg.Docker.Host))
		}
		if f.cfg.Docker.APIVersion != "" {
			opts = append(opts, client.WithVersion(f.cfg.Docker.APIVersion))
		} else {
			opts = append(opts, client.WithAPIVersionNegotiation())
		}

		c, err := client.NewClientWithOpts(opts...)
		if err != nil {
			f.dockerErr = fmt.Errorf("create Docker client: %w", err)
			f.logger.Warn("Docker is unavailable", zap.Error(f.dockerErr))
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), clientInitTimeout)
		defer cancel()
		if _, err := c.Ping(ctx); err != nil {
			c.Close()
			f.dockerErr = fmt.Errorf("ping Docker daemon: %w", err)
			f.logger.Warn("Docker is unavailable", zap.Error(f.dockerErr))
			return
		}

		f.logger.Info("Connected to Docker daemon", zap.String("host", c.DaemonHost()))
		f.docker = c
	})
	return f.docker, f.dockerErr
}

func (f *Factory) kubeClient() (kubernetes.Interface, error) {
	f.kubeOnce.Do(func() {
		restConfig, err := f.restConfig()
		if err != nil {
			f.kubeErr = err
			f.logger.Warn("Kubernetes is unavailable", zap.Error(err))
			return
		}
		restConfig.Timeout = clientInitTimeout

		c, err := kubernetes.NewForConfig(restConfig)
		if err != nil {
			f.kubeErr = fmt.Errorf("create Kubernetes clientset: %w", err)
			f.logger.Warn("Kubernetes is unavailable", zap.Error(f.kubeErr))
			return
		}
		if _, err := c.Discovery().ServerVersion(); err != nil {
			f.kubeErr = fmt.Errorf("reach Kubernetes API: %w", err)
			f.logger.Warn("Kubernetes is unavailable", zap.Error(f.kubeErr))
			return
		}

		// log follows must not be cut off by the request timeout
		restConfig.Timeout = 0
		if c, err = kubernetes.NewForConfig(restConfig); err != nil {
			f.kubeErr = fmt.Errorf("create Kubernetes clientset: %w", err)
			return
		}
		f.logger.Info("Connected to Kubernetes API", zap.String("host", restConfig.Host))
		f.kube = c
	})
	return f.kube, f.kubeErr
}

// restConfig prefers an explicit kubeconfig, then in-cluster settings, then
// the default loading rules used by kubectl
func (f *Factory) restConfig() (*rest.Config, error) {
	k := f.cfg.Kubernetes
	if k.Kubeconfig != "" {
		c, err := clientcmd.BuildConfigFromFlags("", k.Kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to build config from kubeconfig %s: %w", k.Kubeconfig, err)
		}
		return c, nil
	}

	c, err := rest.InClusterConfig()
	if err == nil {
		return c, nil
	}
	if k.InCluster {
		return nil, fmt.Errorf("failed to get in-cluster config: %w", err)
	}

	c, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
		clientcmd.NewDefaultClientConfigLoadingRules(),
		&clientcmd.ConfigOverrides{},
	).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
	}
	return c, nil
}

// Close releases runtime clients
func (f *Factory) Close() error {
	if c, ok := f.docker.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// unavailable stands in for a source whose runtime client could not be
// created. Every read reports the same failure.
type unavailable struct {
	what   string
	reason error
}

func (u unavailable) Describe() string { return u.what }

func (u unavailable) FetchTail(context.Context, int) string {
	return errorLine("%s unavailable: %v", u.what, u.reason)
}

func (u unavailable) Follow(context.Context) <-chan string {
	return failed(errorLine("%s unavailable: %v", u.what, u.reason))
}

func (u unavailable) Restart(context.Context) error {
	return fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, u.what, u.reason)
}
