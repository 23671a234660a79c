package config

import (
	"fmt"
	"time"
)

// ServerMTLSConfig holds mTLS configuration for the status server
type ServerMTLSConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	CACert     string `mapstructure:"ca_cert"`
	ServerCert string `mapstructure:"server_cert"`
	ServerKey  string `mapstructure:"server_key"`
	ClientAuth string `mapstructure:"client_auth"` // require, request, or none
}

// ServerConfig holds the read-only status server settings
type ServerConfig struct {
	Enabled         bool             `mapstructure:"enabled"`
	ListenAddress   string           `mapstructure:"listen_address"`
	ReadTimeout     time.Duration    `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration    `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration    `mapstructure:"shutdown_timeout"`
	MTLS            ServerMTLSConfig `mapstructure:"mtls"`
}

func (c ServerConfig) validate() error {
	if !c.Enabled {
		return nil
	}
	if c.ListenAddress == "" {
		return fmt.Errorf("server.listen_address is required when the server is enabled")
	}
	if c.MTLS.Enabled {
		if c.MTLS.CACert == "" || c.MTLS.ServerCert == "" || c.MTLS.ServerKey == "" {
			return fmt.Errorf("mTLS certificates are required when mTLS is enabled")
		}
		switch c.MTLS.ClientAuth {
		case "require", "request", "none":
		default:
			return fmt.Errorf("server.mtls.client_auth must be require, request or none (got %q)", c.MTLS.ClientAuth)
		}
	}
	return nil
}
