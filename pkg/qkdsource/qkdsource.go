// Package qkdsource implements C4: the upstream ETSI-004-style QKD key
// source. Each operation (OPEN_CONNECT, GET_KEY, CLOSE) opens its own TCP
// connection to the KMS, sends one JSON request, and reads one JSON
// response — the KMS side closes after replying.
package qkdsource

import (
	"context"
	"encoding/json"
	"net"

	qerrors "github.com/hybridkeyd/hybridkeyd/internal/errors"
	"github.com/hybridkeyd/hybridkeyd/pkg/crypto"
	"github.com/hybridkeyd/hybridkeyd/pkg/keyformat"
	"github.com/hybridkeyd/hybridkeyd/pkg/logging"
	"github.com/hybridkeyd/hybridkeyd/pkg/model"
)

// defaultMetadataSize mirrors the literal example in the upstream protocol
// documentation: GET_KEY requests carry a fixed-size opaque metadata block
// independent of whatever metadata the local agent attached to its own
// request.
const defaultMetadataSize = 46

// Source speaks the upstream KMS protocol over fresh per-call TCP
// connections. A MockQKDStack variant (see NewMock) never touches the
// network; it is used for local/offline operation.
type Source struct {
	addr        model.NetworkAddress
	sourceURI   string
	destURI     string
	mock        bool
	keyStreamID string
	chunkSize   int
	dialer      net.Dialer
	logger      *logging.Logger
}

// New builds a QKD source that talks to the KMS at addr.
func New(addr model.NetworkAddress, sourceURI, destURI string, logger *logging.Logger) *Source {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Source{
		addr:      addr,
		sourceURI: sourceURI,
		destURI:   destURI,
		logger:    logger.Named("qkdsource"),
	}
}

// NewMock builds a QKD source that generates random bytes locally instead of
// contacting a KMS, and issues synthetic stream ids.
func NewMock(sourceURI, destURI string, logger *logging.Logger) *Source {
	s := New(model.NetworkAddress{}, sourceURI, destURI, logger)
	s.mock = true
	return s
}

// ID returns the stable source identifier used as a session map key.
func (s *Source) ID() string { return "QKD" }

// Type reports this source as QKD-derived.
func (s *Source) Type() model.KeyType { return model.KeyTypeQKD }

// Open sends OPEN_CONNECT to the KMS (or synthesizes a stream id in mock
// mode) and stores the returned key_stream_id for subsequent GET_KEY calls.
func (s *Source) Open(ctx context.Context, hybridKSID string, qos model.OpenConnectQos) error {
	s.chunkSize = qos.KeyChunkSize

	if s.mock {
		s.keyStreamID = "mock-" + hybridKSID
		return nil
	}

	req := openConnectRequest{
		Command: "OPEN_CONNECT",
		Data: openConnectData{
			Source:      s.sourceURI,
			Destination: s.destURI,
			Qos:         qos,
		},
	}

	var resp kmsResponse
	if err := s.roundTrip(ctx, req, &resp); err != nil {
		return qerrors.NewQkdError(qerrors.QkdStatusNoQKDConnection, err)
	}
	if resp.Status != qerrors.QkdStatusSuccess {
		return qerrors.NewQkdError(resp.Status, nil)
	}

	s.keyStreamID = resp.KeyStreamID
	return nil
}

// Get performs one GET_KEY round-trip and returns the key_buffer field
// converted to bytes.
func (s *Source) Get(ctx context.Context) ([]byte, error) {
	if s.mock {
		return generateMockKey(s.chunkSize)
	}

	req := getKeyRequest{
		Command: "GET_KEY",
		Data: getKeyData{
			KeyStreamID: s.keyStreamID,
			Index:       0,
			Metadata:    getKeyMetadata{Size: defaultMetadataSize},
		},
	}

	var resp kmsResponse
	if err := s.roundTrip(ctx, req, &resp); err != nil {
		return nil, qerrors.NewQkdError(qerrors.QkdStatusNoQKDConnection, err)
	}
	if resp.Status != qerrors.QkdStatusSuccess {
		return nil, qerrors.NewQkdError(resp.Status, nil)
	}

	return keyformat.ToBytes(resp.KeyBuffer)
}

// Close sends CLOSE to the KMS; errors are logged, never returned, per the
// key-source contract's idempotent-close rule.
func (s *Source) Close() error {
	if s.mock || s.keyStreamID == "" {
		return nil
	}

	req := closeRequest{Command: "CLOSE", Data: closeData{KeyStreamID: s.keyStreamID}}
	var resp kmsResponse
	if err := s.roundTrip(context.Background(), req, &resp); err != nil {
		s.logger.Warn("qkd close failed", logging.Fields{"error": err.Error()})
		return nil
	}
	if resp.Status != qerrors.QkdStatusSuccess {
		s.logger.Warn("qkd close reported non-zero status", logging.Fields{"status": resp.Status})
	}
	return nil
}

// roundTrip dials a fresh connection, writes one JSON request, and decodes
// one JSON response.
func (s *Source) roundTrip(ctx context.Context, req interface{}, resp interface{}) error {
	conn, err := s.dialer.DialContext(ctx, "tcp", s.addr.String())
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return err
	}
	return json.NewDecoder(conn).Decode(resp)
}

func generateMockKey(size int) ([]byte, error) {
	if size <= 0 {
		size = 32
	}
	b := make([]byte, size)
	if err := crypto.SecureRandom(b); err != nil {
		return nil, qerrors.NewQkdError(qerrors.QkdStatusInsufficientKey, err)
	}
	return b, nil
}
