package ldap

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// TrustStrategy decides how server certificates are verified. Each connection
// carries its own strategy.
type TrustStrategy interface {
	Apply(cfg *tls.Config) error
}

// TrustSystem verifies server certificates against the system roots.
type TrustSystem struct{}

func (TrustSystem) Apply(cfg *tls.Config) error {
	cfg.RootCAs = nil
	cfg.InsecureSkipVerify = false
	return nil
}

// TrustAll accepts any server certificate.
type TrustAll struct{}

func (TrustAll) Apply(cfg *tls.Config) error {
	cfg.InsecureSkipVerify = true // #nosec G402 -- explicitly requested with --trustAll
	return nil
}

// TrustPool verifies server certificates against a fixed pool.
type TrustPool struct {
	Pool *x509.CertPool
}

func (t TrustPool) Apply(cfg *tls.Config) error {
	if t.Pool == nil {
		return fmt.Errorf("trust pool is empty")
	}
	cfg.RootCAs = t.Pool
	cfg.InsecureSkipVerify = false
	return nil
}

// TrustCAFile verifies server certificates against the PEM certificates in Path.
type TrustCAFile struct {
	Path string
}

func (t TrustCAFile) Apply(cfg *tls.Config) error {
	pem, err := os.ReadFile(t.Path)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return fmt.Errorf("no certificates found in %s", t.Path)
	}

	return TrustPool{Pool: pool}.Apply(cfg)
}

// buildTLSConfig returns the TLS client configuration described by opts.
func buildTLSConfig(opts *ConnectionOptions) (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName: opts.Host,
		MinVersion: tls.VersionTLS12,
	}

	trust := opts.Trust
	if trust == nil {
		trust = TrustSystem{}
	}
	if err := trust.Apply(cfg); err != nil {
		return nil, err
	}

	if opts.ClientCertFile != "" {
		cert, err := tls.LoadX509KeyPair(opts.ClientCertFile, opts.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}
