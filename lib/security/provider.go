// Package security supplies TLS client configurations for cache connections.
package security

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	apperrors "github.com/distcache/cachepool/lib/errors"
	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// Provider creates the TLS configuration used for every connection of a
// pool. A nil Provider means plaintext.
type Provider interface {
	TLSConfig() (*tls.Config, error)
}

// StaticProvider returns a fixed configuration.
type StaticProvider struct {
	Config *tls.Config
}

// TLSConfig implements Provider.
func (p StaticProvider) TLSConfig() (*tls.Config, error) {
	if p.Config == nil {
		return nil, fmt.Errorf("%w: static provider has no TLS config", apperrors.ErrConfiguration)
	}
	return p.Config.Clone(), nil
}

// FileProvider builds a client configuration from PEM files on disk.
type FileProvider struct {
	// CertFile and KeyFile hold the client certificate, both optional.
	CertFile string
	KeyFile  string
	// CAFile holds trusted root certificates; empty means system roots.
	CAFile string
	// ServerName overrides the name verified against the server certificate.
	ServerName string
	// InsecureSkipVerify disables certificate verification.
	InsecureSkipVerify bool
}

// TLSConfig implements Provider.
func (p FileProvider) TLSConfig() (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         p.ServerName,
		InsecureSkipVerify: p.InsecureSkipVerify,
	}

	if (p.CertFile == "") != (p.KeyFile == "") {
		return nil, fmt.Errorf("%w: cert_file and key_file must be set together", apperrors.ErrConfiguration)
	}
	if p.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(p.CertFile, p.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("%w: loading key pair: %w", apperrors.ErrConfiguration, err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	if p.CAFile != "" {
		pem, err := os.ReadFile(p.CAFile)
		if err != nil {
			return nil, fmt.Errorf("%w: reading CA file: %w", apperrors.ErrConfiguration, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: no certificates found in %s", apperrors.ErrConfiguration, p.CAFile)
		}
		cfg.RootCAs = pool
	}

	if p.InsecureSkipVerify {
		log.Warn("TLS certificate verification disabled")
	}
	return cfg, nil
}

// ClientConfig resolves a provider into a per-pool client configuration.
// It returns nil for a nil provider. An empty ServerName is set to host.
func ClientConfig(p Provider, host string) (*tls.Config, error) {
	if p == nil {
		return nil, nil
	}
	cfg, err := p.TLSConfig()
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, nil
	}
	cfg = cfg.Clone()
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	return cfg, nil
}
