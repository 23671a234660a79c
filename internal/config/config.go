package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// State backends
const (
	BackendFile    = "file"
	BackendSQLite  = "sqlite"
	BackendMongoDB = "mongodb"
)

// Evaluation modes
const (
	EvaluationPlugin = "plugin"
	EvaluationSimple = "simple"
)

// MongoDBConfig holds MongoDB connection settings
type MongoDBConfig struct {
	URI                string        `mapstructure:"uri"`
	Database           string        `mapstructure:"database"`
	CollectionPrefix   string        `mapstructure:"collection_prefix"`
	CertificateKeyFile string        `mapstructure:"certificate_key_file"`
	Timeout            time.Duration `mapstructure:"timeout"`
	MaxPoolSize        int           `mapstructure:"max_pool_size"`
}

// StateConfig selects where restart history and snapshots are kept
type StateConfig struct {
	Backend    string        `mapstructure:"backend"`
	Dir        string        `mapstructure:"dir"`
	SQLitePath string        `mapstructure:"sqlite_path"`
	MongoDB    MongoDBConfig `mapstructure:"mongodb"`
}

// BatchConfig holds settings for a single check pass
type BatchConfig struct {
	TailLines int      `mapstructure:"tail_lines"`
	Sources   []string `mapstructure:"sources"`
}

// StreamingConfig holds settings for the streaming monitor
type StreamingConfig struct {
	Duration      time.Duration `mapstructure:"duration"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	Sources       []string      `mapstructure:"sources"`
	QueueSize     int           `mapstructure:"queue_size"`
}

// FileConfig controls how log files are followed
type FileConfig struct {
	Poll         bool          `mapstructure:"poll"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// DockerConfig holds container runtime connection settings
type DockerConfig struct {
	Host       string `mapstructure:"host"`
	APIVersion string `mapstructure:"api_version"`
}

// KubernetesConfig holds cluster connection settings
type KubernetesConfig struct {
	Kubeconfig string `mapstructure:"kubeconfig"`
	InCluster  bool   `mapstructure:"in_cluster"`
}

// AlertingConfig holds the alert endpoint settings
type AlertingConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	URL          string        `mapstructure:"url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	MTLS         MTLSConfig    `mapstructure:"mtls"`
}

// MTLSConfig holds client certificate settings
type MTLSConfig struct {
	CACert     string `mapstructure:"ca_cert"`
	ClientCert string `mapstructure:"client_cert"`
	ClientKey  string `mapstructure:"client_key"`
	ServerName string `mapstructure:"server_name"`
}

// Config represents the complete loglwatch configuration
type Config struct {
	LogLevel   string           `mapstructure:"log_level"`
	LogFormat  string           `mapstructure:"log_format"`
	Evaluation string           `mapstructure:"evaluation"`
	PluginsDir string           `mapstructure:"plugins_dir"`
	State      StateConfig      `mapstructure:"state"`
	Batch      BatchConfig      `mapstructure:"batch"`
	Streaming  StreamingConfig  `mapstructure:"streaming"`
	File       FileConfig       `mapstructure:"file"`
	Docker     DockerConfig     `mapstructure:"docker"`
	Kubernetes KubernetesConfig `mapstructure:"kubernetes"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Server     ServerConfig     `mapstructure:"server"`
	Services   []ServiceConfig  `mapstructure:"services"`
}

// Load loads the configuration from a file. Environment variables prefixed
// with LOGLWATCH_ override file values (state.dir -> LOGLWATCH_STATE_DIR).
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("LOGLWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for i := range config.Services {
		config.Services[i].applyDefaults()
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("evaluation", EvaluationPlugin)
	v.SetDefault("plugins_dir", "")

	v.SetDefault("state.backend", BackendFile)
	v.SetDefault("state.dir", "./state")
	v.SetDefault("state.sqlite_path", "./state/loglwatch.db")
	v.SetDefault("state.mongodb.database", "loglwatch")
	v.SetDefault("state.mongodb.collection_prefix", "loglwatch_")
	v.SetDefault("state.mongodb.timeout", "10s")
	v.SetDefault("state.mongodb.max_pool_size", 10)

	v.SetDefault("batch.tail_lines", 100)
	v.SetDefault("batch.sources", []string{SourceFile})

	v.SetDefault("streaming.duration", "120s")
	v.SetDefault("streaming.flush_interval", "5s")
	v.SetDefault("streaming.sources", []string{SourceContainer, SourcePod, SourceFile})
	v.SetDefault("streaming.queue_size", 256)

	v.SetDefault("file.poll", true)
	v.SetDefault("file.poll_interval", "250ms")

	v.SetDefault("kubernetes.in_cluster", false)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.timeout", "10s")
	v.SetDefault("alerting.max_retries", 3)
	v.SetDefault("alerting.retry_backoff", "1s")

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.listen_address", "127.0.0.1:8090")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "5s")
	v.SetDefault("server.mtls.enabled", false)
	v.SetDefault("server.mtls.client_auth", "require")
}

// validate checks settings that make the whole configuration unusable.
// Per-service problems are left to ServiceConfig.Validate so one broken
// service does not stop the others.
func (c *Config) validate() error {
	switch c.State.Backend {
	case BackendFile, BackendSQLite, BackendMongoDB:
	default:
		return fmt.Errorf("state.backend must be one of file, sqlite, mongodb (got %q)", c.State.Backend)
	}
	if c.State.Backend == BackendMongoDB && c.State.MongoDB.URI == "" {
		return fmt.Errorf("state.mongodb.uri is required for the mongodb backend")
	}

	switch c.Evaluation {
	case EvaluationPlugin, EvaluationSimple:
	default:
		return fmt.Errorf("evaluation must be plugin or simple (got %q)", c.Evaluation)
	}

	if len(c.Services) == 0 {
		return fmt.Errorf("at least one service must be configured")
	}

	seen := make(map[string]bool, len(c.Services))
	for _, svc := range c.Services {
		if svc.Name == "" {
			continue
		}
		if seen[svc.Name] {
			return fmt.Errorf("duplicate service name %q", svc.Name)
		}
		seen[svc.Name] = true
	}

	for _, kind := range append(append([]string{}, c.Batch.Sources...), c.Streaming.Sources...) {
		if NormalizeSource(kind) == "" {
			return fmt.Errorf("unknown source kind %q in batch/streaming sources", kind)
		}
	}

	if c.Batch.TailLines <= 0 {
		return fmt.Errorf("batch.tail_lines must be positive")
	}
	if c.Streaming.FlushInterval <= 0 {
		return fmt.Errorf("streaming.flush_interval must be positive")
	}

	if c.Alerting.Enabled && c.Alerting.URL == "" {
		return fmt.Errorf("alerting.url is required when alerting is enabled")
	}

	return c.Server.validate()
}

// Includes reports whether kind is listed in sources, aliases included
func Includes(sources []string, kind string) bool {
	kind = NormalizeSource(kind)
	for _, s := range sources {
		if NormalizeSource(s) == kind {
			return true
		}
	}
	return false
}
