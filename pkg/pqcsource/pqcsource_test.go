package pqcsource

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/hybridkeyd/hybridkeyd/pkg/model"
)

// pipeDialer hands out one pre-established net.Pipe leg per reference,
// simulating the peer-connection manager without any TLS or TCP machinery.
type pipeDialer struct {
	client net.Conn
	server net.Conn
}

func newPipeDialer() *pipeDialer {
	c, s := net.Pipe()
	return &pipeDialer{client: c, server: s}
}

func (d *pipeDialer) ConnectPeer(ctx context.Context, ref model.PeerSessionReference, role model.ConnectionRole, target model.NetworkAddress) (net.Conn, error) {
	if role == model.RoleClient {
		return d.client, nil
	}
	return d.server, nil
}

func TestSourceHandshakeAgreesOnSharedSecret(t *testing.T) {
	dialer := newPipeDialer()

	client, err := NewSource(dialer, model.NetworkAddress{}, model.RoleClient, model.AlgorithmMLKEM, 0, nil)
	if err != nil {
		t.Fatalf("NewSource(client): %v", err)
	}
	server, err := NewSource(dialer, model.NetworkAddress{}, model.RoleServer, model.AlgorithmMLKEM, 0, nil)
	if err != nil {
		t.Fatalf("NewSource(server): %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Open(ctx, "hybrid-ksid", model.OpenConnectQos{KeyChunkSize: 32}); err != nil {
		t.Fatalf("client Open: %v", err)
	}
	if err := server.Open(ctx, "hybrid-ksid", model.OpenConnectQos{KeyChunkSize: 32}); err != nil {
		t.Fatalf("server Open: %v", err)
	}
	defer client.Close()
	defer server.Close()

	var clientSS, serverSS []byte
	var clientErr, serverErr error
	done := make(chan struct{})

	go func() {
		clientSS, clientErr = client.Get(ctx)
		close(done)
	}()
	serverSS, serverErr = server.Get(ctx)
	<-done

	if clientErr != nil {
		t.Fatalf("client Get: %v", clientErr)
	}
	if serverErr != nil {
		t.Fatalf("server Get: %v", serverErr)
	}
	if len(clientSS) == 0 || string(clientSS) != string(serverSS) {
		t.Fatalf("shared secrets diverged: client=%x server=%x", clientSS, serverSS)
	}
}

func TestNewSourceUnsupportedAlgorithm(t *testing.T) {
	dialer := newPipeDialer()
	if _, err := NewSource(dialer, model.NetworkAddress{}, model.RoleClient, model.AlgorithmBIKE, 0, nil); err == nil {
		t.Fatal("expected error for BIKE, circl ships no scheme for it")
	}
}

func TestSourceIDIsStablePerInstance(t *testing.T) {
	dialer := newPipeDialer()
	s, err := NewSource(dialer, model.NetworkAddress{}, model.RoleClient, model.AlgorithmKyber, 2, nil)
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	id1 := s.ID()
	id2 := s.ID()
	if id1 != id2 {
		t.Fatalf("ID changed between calls: %q vs %q", id1, id2)
	}
	if s.Type() != model.KeyTypePQC {
		t.Fatalf("Type() = %v, want PQC", s.Type())
	}
}
