// Package certs turns a GeneralConfiguration's certificate paths into the
// tls.Config pair the peer-connection manager needs: one for its listener
// (server side, CERT_REQUIRED against the shared CA) and one for the
// outbound CLIENT-role dials it makes (validated against the same CA).
//
// Certificate generation and signing stay out of scope per spec.md §1;
// this package only loads and wires what pkg/config already parsed.
package certs

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// ServerConfig builds a tls.Config for the peer manager's inbound listener:
// it presents nodeCertPath/nodeKeyPath and requires and verifies the
// client's certificate against caCertPath.
func ServerConfig(caCertPath, nodeCertPath, nodeKeyPath string) (*tls.Config, error) {
	pool, err := loadCAPool(caCertPath)
	if err != nil {
		return nil, err
	}
	cert, err := tls.LoadX509KeyPair(nodeCertPath, nodeKeyPath)
	if err != nil {
		return nil, fmt.Errorf("certs: load node keypair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// ClientConfig builds a tls.Config for the peer manager's outbound CLIENT
// role dials: it presents the same node certificate (mutual auth) and
// validates the partner's certificate against caCertPath. ServerName is set
// per-dial by the caller to the partner's host.
func ClientConfig(caCertPath, nodeCertPath, nodeKeyPath string) (*tls.Config, error) {
	pool, err := loadCAPool(caCertPath)
	if err != nil {
		return nil, err
	}
	cert, err := tls.LoadX509KeyPair(nodeCertPath, nodeKeyPath)
	if err != nil {
		return nil, fmt.Errorf("certs: load node keypair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS13,
	}, nil
}

func loadCAPool(caCertPath string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("certs: read CA bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("certs: no certificates parsed from %s", caCertPath)
	}
	return pool, nil
}
