package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSelfSignedPair(t *testing.T, dir string) (caPath, certPath, keyPath string) {
	t.Helper()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate CA key: %v", err)
	}
	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test-ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	if err != nil {
		t.Fatalf("create CA cert: %v", err)
	}

	nodeKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate node key: %v", err)
	}
	nodeTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "node-a"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	nodeDER, err := x509.CreateCertificate(rand.Reader, nodeTemplate, caTemplate, &nodeKey.PublicKey, caKey)
	if err != nil {
		t.Fatalf("create node cert: %v", err)
	}

	caPath = filepath.Join(dir, "ca.pem")
	certPath = filepath.Join(dir, "node.pem")
	keyPath = filepath.Join(dir, "node-key.pem")

	writePEM(t, caPath, "CERTIFICATE", caDER)
	writePEM(t, certPath, "CERTIFICATE", nodeDER)

	keyDER, err := x509.MarshalECPrivateKey(nodeKey)
	if err != nil {
		t.Fatalf("marshal node key: %v", err)
	}
	writePEM(t, keyPath, "EC PRIVATE KEY", keyDER)

	return caPath, certPath, keyPath
}

func writePEM(t *testing.T, path, blockType string, der []byte) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}

func TestServerConfigLoadsKeypairAndCAPool(t *testing.T) {
	dir := t.TempDir()
	caPath, certPath, keyPath := writeSelfSignedPair(t, dir)

	cfg, err := ServerConfig(caPath, certPath, keyPath)
	if err != nil {
		t.Fatalf("ServerConfig: %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Fatalf("expected 1 certificate, got %d", len(cfg.Certificates))
	}
	if cfg.ClientCAs == nil {
		t.Fatal("expected ClientCAs to be populated")
	}
	if cfg.ClientAuth.String() == "" {
		t.Fatal("expected ClientAuth to be set")
	}
}

func TestClientConfigLoadsKeypairAndCAPool(t *testing.T) {
	dir := t.TempDir()
	caPath, certPath, keyPath := writeSelfSignedPair(t, dir)

	cfg, err := ClientConfig(caPath, certPath, keyPath)
	if err != nil {
		t.Fatalf("ClientConfig: %v", err)
	}
	if cfg.RootCAs == nil {
		t.Fatal("expected RootCAs to be populated")
	}
}

func TestServerConfigRejectsMissingCA(t *testing.T) {
	dir := t.TempDir()
	_, certPath, keyPath := writeSelfSignedPair(t, dir)

	if _, err := ServerConfig(filepath.Join(dir, "missing.pem"), certPath, keyPath); err == nil {
		t.Fatal("expected error for missing CA file")
	}
}

func TestServerConfigRejectsGarbageCA(t *testing.T) {
	dir := t.TempDir()
	_, certPath, keyPath := writeSelfSignedPair(t, dir)

	garbage := filepath.Join(dir, "garbage.pem")
	if err := os.WriteFile(garbage, []byte("not a certificate"), 0o600); err != nil {
		t.Fatalf("write garbage CA: %v", err)
	}

	if _, err := ServerConfig(garbage, certPath, keyPath); err == nil {
		t.Fatal("expected error for unparseable CA bundle")
	}
}
