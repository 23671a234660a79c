package mtls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// Client authentication modes accepted by ServerConfig
const (
	ClientAuthRequire = "require"
	ClientAuthRequest = "request"
	ClientAuthNone    = "none"
)

// Files names the PEM files of one side of an mTLS connection
type Files struct {
	CACert     string
	Cert       string
	Key        string
	ServerName string
}

// ClientConfig creates a TLS configuration for mTLS clients
func ClientConfig(files Files) (*tls.Config, error) {
	pool, err := loadPool(files.CACert)
	if err != nil {
		return nil, err
	}

	clientCert, err := tls.LoadX509KeyPair(files.Cert, files.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}

	return &tls.Config{
		RootCAs:      pool,
		Certificates: []tls.Certificate{clientCert},
		ServerName:   files.ServerName,
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// ServerConfig creates a TLS configuration for the status server.
// clientAuth is one of require, request or none.
func ServerConfig(files Files, clientAuth string) (*tls.Config, error) {
	var mode tls.ClientAuthType
	switch clientAuth {
	case ClientAuthRequire, "":
		mode = tls.RequireAndVerifyClientCert
	case ClientAuthRequest:
		mode = tls.VerifyClientCertIfGiven
	case ClientAuthNone:
		mode = tls.NoClientCert
	default:
		return nil, fmt.Errorf("unknown client auth mode %q", clientAuth)
	}

	pool, err := loadPool(files.CACert)
	if err != nil {
		return nil, err
	}

	serverCert, err := tls.LoadX509KeyPair(files.Cert, files.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{serverCert},
		ClientCAs:    pool,
		ClientAuth:   mode,
		MinVersion:   tls.VersionTLS13,
	}, nil
}

func loadPool(caCertPath string) (*x509.CertPool, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to append CA certificate")
	}
	return pool, nil
}
