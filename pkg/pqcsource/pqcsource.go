// Package pqcsource implements C5: a key source that derives its secret
// from a post-quantum KEM handshake run directly between the two daemons,
// over a secure socket obtained from the peer-connection manager.
//
// The CLIENT role generates a fresh keypair, sends its public key, reads
// back a ciphertext, and decapsulates. The SERVER role reads a public key,
// encapsulates, and sends back the ciphertext. Both sides perform
// byte-exact reads of the lengths the chosen KEM scheme advertises — there
// is no length-prefix framing on the wire, matching the upstream
// ETSI-004-adjacent peer protocol's other sub-sessions.
package pqcsource

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/schemes"
	"github.com/google/uuid"

	"github.com/hybridkeyd/hybridkeyd/internal/constants"
	qerrors "github.com/hybridkeyd/hybridkeyd/internal/errors"
	"github.com/hybridkeyd/hybridkeyd/pkg/logging"
	"github.com/hybridkeyd/hybridkeyd/pkg/model"
	"github.com/hybridkeyd/hybridkeyd/pkg/telemetry"
)

// schemeNames maps the spec's KeyExtractionAlgorithm tokens onto circl's
// kem.Scheme registry. Classic-McEliece, BIKE, HQC, and SNTRUP are valid
// enum members (model.KeyExtractionAlgorithm accepts them) but circl ships
// no scheme for them; NewSource returns ErrUnsupportedKeyType for those
// names rather than failing to compile a stub.
var schemeNames = map[model.KeyExtractionAlgorithm]string{
	model.AlgorithmKyber:    "Kyber768",
	model.AlgorithmMLKEM:    "ML-KEM-768",
	model.AlgorithmFrodoKEM: "FrodoKEM-1344-SHAKE",
}

func schemeFor(alg model.KeyExtractionAlgorithm) (kem.Scheme, error) {
	name, ok := schemeNames[alg]
	if !ok {
		return nil, qerrors.ErrUnsupportedKeyType
	}
	s := schemes.ByName(name)
	if s == nil {
		return nil, qerrors.ErrUnsupportedKeyType
	}
	return s, nil
}

// PeerDialer is the subset of the peer-connection manager the PQC source
// needs. Accepting this narrow interface, rather than the concrete
// *peermanager.Manager, keeps pqcsource pluggable and testable against a
// fake.
type PeerDialer interface {
	ConnectPeer(ctx context.Context, ref model.PeerSessionReference, role model.ConnectionRole, target model.NetworkAddress) (net.Conn, error)
}

// Source drives one KEM handshake per Get call against a secure socket
// scoped to (algorithm, appearance_index, hybrid_ksid).
type Source struct {
	id         string
	algorithm  model.KeyExtractionAlgorithm
	appearance int
	role       model.ConnectionRole
	peerAddr   model.NetworkAddress
	dialer     PeerDialer
	scheme     kem.Scheme
	logger     *logging.Logger

	mu   sync.Mutex
	conn net.Conn
}

// NewSource builds a PQC source for algorithm, the appearance_index-th
// source in its session to request that algorithm. dialer is typically a
// *peermanager.Manager.
func NewSource(dialer PeerDialer, peerAddr model.NetworkAddress, role model.ConnectionRole, algorithm model.KeyExtractionAlgorithm, appearance int, logger *logging.Logger) (*Source, error) {
	scheme, err := schemeFor(algorithm)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Source{
		id:         "PQC-" + uuid.NewString(),
		algorithm:  algorithm,
		appearance: appearance,
		role:       role,
		peerAddr:   peerAddr,
		dialer:     dialer,
		scheme:     scheme,
		logger:     logger.Named("pqcsource"),
	}, nil
}

// ID returns the stable source identifier used as a session map key.
func (s *Source) ID() string { return s.id }

// Type reports this source as PQC-derived.
func (s *Source) Type() model.KeyType { return model.KeyTypePQC }

// reference builds the peer-session reference a PQC source's secure socket
// is parked/claimed under: "<algo>-<appearance_index>-<hybrid_ksid>".
func (s *Source) reference(hybridKSID string) model.PeerSessionReference {
	return model.PeerSessionReference{
		Type: model.SessionTypePQC,
		ID:   fmt.Sprintf("%s-%d-%s", s.algorithm, s.appearance, hybridKSID),
	}
}

// Open obtains the secure socket this source's Get calls will run on.
func (s *Source) Open(ctx context.Context, hybridKSID string, qos model.OpenConnectQos) error {
	ctx, end := telemetry.StartSpan(ctx, telemetry.SpanPQCHandshake,
		telemetry.WithSpanKind(telemetry.SpanKindClient),
		telemetry.WithAttributes(telemetry.SpanAttributes{SourceID: s.id, Role: s.role.String()}.ToMap()))

	ref := s.reference(hybridKSID)
	conn, err := s.dialer.ConnectPeer(ctx, ref, s.role, s.peerAddr)
	if err != nil {
		end(err)
		return qerrors.NewPqcError("open", err)
	}
	end(nil)

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	return nil
}

// Get performs exactly one KEM exchange on the secure socket and returns
// the resulting shared secret.
func (s *Source) Get(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil, qerrors.NewPqcError("get", qerrors.ErrPeerNotConnected)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(constants.PeerSocketTimeout))
	}
	defer conn.SetDeadline(time.Time{})

	if s.role == model.RoleClient {
		return s.getAsClient(conn)
	}
	return s.getAsServer(conn)
}

// getAsClient and getAsServer write and read the KEM transcript's
// public-key/ciphertext messages exactly as-is on the wire, at the fixed
// lengths the scheme advertises — no length prefix, no extra envelope.
func (s *Source) getAsClient(conn net.Conn) ([]byte, error) {
	pk, sk, err := s.scheme.GenerateKeyPair()
	if err != nil {
		return nil, qerrors.NewPqcError("generate_keypair", err)
	}
	pkBytes, err := pk.MarshalBinary()
	if err != nil {
		return nil, qerrors.NewPqcError("marshal_public_key", err)
	}
	if len(pkBytes) != s.scheme.PublicKeySize() {
		return nil, qerrors.NewPqcError("marshal_public_key", qerrors.ErrInvalidKeySize)
	}

	if _, err := conn.Write(pkBytes); err != nil {
		return nil, qerrors.NewPqcError("send_public_key", err)
	}

	ct := make([]byte, s.scheme.CiphertextSize())
	if _, err := io.ReadFull(conn, ct); err != nil {
		return nil, qerrors.NewPqcError("read_ciphertext", err)
	}

	ss, err := s.scheme.Decapsulate(sk, ct)
	if err != nil {
		return nil, qerrors.NewPqcError("decapsulate", err)
	}
	return ss, nil
}

func (s *Source) getAsServer(conn net.Conn) ([]byte, error) {
	pkBytes := make([]byte, s.scheme.PublicKeySize())
	if _, err := io.ReadFull(conn, pkBytes); err != nil {
		return nil, qerrors.NewPqcError("read_public_key", err)
	}

	pk, err := s.scheme.UnmarshalBinaryPublicKey(pkBytes)
	if err != nil {
		return nil, qerrors.NewPqcError("unmarshal_public_key", err)
	}

	ct, ss, err := s.scheme.Encapsulate(pk)
	if err != nil {
		return nil, qerrors.NewPqcError("encapsulate", err)
	}

	if _, err := conn.Write(ct); err != nil {
		return nil, qerrors.NewPqcError("send_ciphertext", err)
	}
	return ss, nil
}

// Close closes the secure socket; errors are logged, never returned, per
// the key-source contract's idempotent-close rule.
func (s *Source) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil {
		s.logger.Warn("pqc source close failed", logging.Fields{"source_id": s.id, "error": err.Error()})
	}
	return nil
}
