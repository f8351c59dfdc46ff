package peermanager

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/hybridkeyd/hybridkeyd/pkg/model"
)

// selfSignedTLSPair builds a CA plus one leaf certificate signed by it,
// returning server and client tls.Config values that trust each other --
// standing in for the certificates pkg/certs would normally load from disk.
func selfSignedTLSPair(t *testing.T) (serverCfg, clientCfg *tls.Config) {
	t.Helper()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate ca key: %v", err)
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
		t.Fatalf("create ca cert: %v", err)
	}
	caCert, err := x509.ParseCertificate(caDER)
	if err != nil {
		t.Fatalf("parse ca cert: %v", err)
	}

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate leaf key: %v", err)
	}
	leafTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "127.0.0.1"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTemplate, caCert, &leafKey.PublicKey, caKey)
	if err != nil {
		t.Fatalf("create leaf cert: %v", err)
	}

	leafCert := tls.Certificate{
		Certificate: [][]byte{leafDER},
		PrivateKey:  leafKey,
	}

	pool := x509.NewCertPool()
	pool.AddCert(caCert)

	serverCfg = &tls.Config{
		Certificates: []tls.Certificate{leafCert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS13,
	}
	clientCfg = &tls.Config{
		Certificates: []tls.Certificate{leafCert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS13,
	}
	return serverCfg, clientCfg
}

func TestManagerClientServerRoleRendezvous(t *testing.T) {
	serverTLS, clientTLS := selfSignedTLSPair(t)

	addr := model.NetworkAddress{Host: "127.0.0.1", Port: 0}
	m := New(addr, serverTLS, clientTLS)
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Shutdown(context.Background())

	boundAddr := m.ListenerAddr().(*net.TCPAddr)
	target := model.NetworkAddress{Host: "127.0.0.1", Port: boundAddr.Port}
	ref := model.PeerSessionReference{Type: model.SessionTypeShareKSID, ID: "rendezvous-test"}

	type serverOutcome struct {
		conn net.Conn
		err  error
	}
	serverResult := make(chan serverOutcome, 1)
	go func() {
		conn, err := m.ConnectPeer(context.Background(), ref, model.RoleServer, target)
		serverResult <- serverOutcome{conn, err}
	}()

	// Give the server-role poller a moment to start waiting before the
	// client dials in, exercising the unclaimed-socket parking path.
	time.Sleep(50 * time.Millisecond)

	clientConn, err := m.ConnectPeer(context.Background(), ref, model.RoleClient, target)
	if err != nil {
		t.Fatalf("ConnectPeer (client): %v", err)
	}
	defer clientConn.Close()

	outcome := <-serverResult
	if outcome.err != nil {
		t.Fatalf("ConnectPeer (server): %v", outcome.err)
	}
	defer outcome.conn.Close()

	if m.ConnectedPeerCount() != 2 {
		t.Fatalf("ConnectedPeerCount = %d, want 2", m.ConnectedPeerCount())
	}

	// The session-reference ack must be sent exactly once (by the SERVER
	// role claiming the socket, never by the listener's inbound handler
	// that parks it). If it were sent twice, a second, unread "ok" would
	// sit ahead of whatever the claimed socket carries next, desyncing any
	// byte-exact protocol layered on top (e.g. a PQC source's fixed-length
	// reads). Prove the wire is clean by sending a known payload from the
	// SERVER side and reading exactly that many bytes back on the CLIENT
	// side with no leftover bytes in front of it.
	payload := []byte("next-protocol-payload")
	if _, err := outcome.conn.Write(payload); err != nil {
		t.Fatalf("server payload write: %v", err)
	}
	got := make([]byte, len(payload))
	if _, err := io.ReadFull(clientConn, got); err != nil {
		t.Fatalf("client payload read: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("payload corrupted by stray ack bytes: got %q, want %q", got, payload)
	}
}

func TestManagerConnectPeerServerTimesOutWithoutClient(t *testing.T) {
	serverTLS, clientTLS := selfSignedTLSPair(t)

	addr := model.NetworkAddress{Host: "127.0.0.1", Port: 0}
	m := New(addr, serverTLS, clientTLS)
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Shutdown(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	ref := model.PeerSessionReference{Type: model.SessionTypeShareKSID, ID: "never-claimed"}
	_, err := m.ConnectPeer(ctx, ref, model.RoleServer, model.NetworkAddress{})
	if err == nil {
		t.Fatal("expected an error when no client ever claims the reference")
	}
}

func TestManagerShutdownUnblocksAcceptLoop(t *testing.T) {
	serverTLS, clientTLS := selfSignedTLSPair(t)

	addr := model.NetworkAddress{Host: "127.0.0.1", Port: 0}
	m := New(addr, serverTLS, clientTLS)
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- m.Shutdown(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Shutdown: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Shutdown did not return within 5s")
	}
}
