// Package session implements C7: one engine per open ETSI-004-style stream.
// It owns the shared-KSID exchange with the partner daemon, fans
// open/get/close out across whichever key sources the request named, and
// folds their secrets into one hybrid key via pkg/hybrid.
//
// Exactly one request (OpenConnect, GetKey, or Close) runs against a given
// Session at a time; Session.mu enforces that, matching §5's ordering
// guarantee that different sessions otherwise run fully in parallel.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	qerrors "github.com/hybridkeyd/hybridkeyd/internal/errors"
	"github.com/hybridkeyd/hybridkeyd/pkg/classicsource"
	"github.com/hybridkeyd/hybridkeyd/pkg/hybrid"
	"github.com/hybridkeyd/hybridkeyd/pkg/keyformat"
	"github.com/hybridkeyd/hybridkeyd/pkg/keysource"
	"github.com/hybridkeyd/hybridkeyd/pkg/logging"
	"github.com/hybridkeyd/hybridkeyd/pkg/metrics"
	"github.com/hybridkeyd/hybridkeyd/pkg/model"
	"github.com/hybridkeyd/hybridkeyd/pkg/pqcsource"
	"github.com/hybridkeyd/hybridkeyd/pkg/qkdsource"
	"github.com/hybridkeyd/hybridkeyd/pkg/telemetry"
)

// PeerDialer is the subset of the peer-connection manager the session
// engine needs to share its hybrid KSID with the partner daemon. Satisfied
// structurally by *peermanager.Manager; see also pqcsource.PeerDialer,
// which shares this exact shape.
type PeerDialer interface {
	ConnectPeer(ctx context.Context, ref model.PeerSessionReference, role model.ConnectionRole, target model.NetworkAddress) (net.Conn, error)
}

// Config carries everything NewSession needs beyond the request itself:
// this node's identity, its trusted-peers table, and the collaborators
// (peer dialer, QKD address) the constructed sources will use.
type Config struct {
	LocalUUID  string
	Peers      map[string]model.PeerInfo
	Dialer     PeerDialer
	QKDAddress model.NetworkAddress
	UseMockQKD bool
	Logger     *logging.Logger
	Metrics    *metrics.Collector
}

// Session is one open ETSI-004-style stream: a connection role, a QoS, a
// hybridization method, the surviving key sources, and the hybrid KSID
// shared with the partner daemon.
type Session struct {
	mu sync.Mutex

	cfg        Config
	role       model.ConnectionRole
	peer       model.PeerInfo
	peerUUID   string
	sourceURI  string
	destURI    string
	hybridM    model.HybridizationMethod
	hybridKSID string

	sources map[string]keysource.Source
	logger  *logging.Logger
}

// NewSession parses req, derives this node's role, resolves the partner
// peer, and builds (but does not yet Open) one key source per requested
// algorithm.
func NewSession(cfg Config, req model.OpenConnectRequest) (*Session, error) {
	srcURI, err := model.ParseURI(req.Source)
	if err != nil {
		return nil, err
	}
	destURI, err := model.ParseURI(req.Destination)
	if err != nil {
		return nil, err
	}

	var role model.ConnectionRole
	var peerUUID string
	switch cfg.LocalUUID {
	case srcURI.UUID:
		role = model.RoleClient
		peerUUID = destURI.UUID
	case destURI.UUID:
		role = model.RoleServer
		peerUUID = srcURI.UUID
	default:
		return nil, qerrors.ErrUuidMismatch
	}

	peer, ok := cfg.Peers[peerUUID]
	if !ok {
		return nil, qerrors.ErrUnknownPeer
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetLogger()
	}
	logger = logger.Named("session")

	s := &Session{
		cfg:       cfg,
		role:      role,
		peer:      peer,
		peerUUID:  peerUUID,
		sourceURI: req.Source,
		destURI:   req.Destination,
		hybridM:   srcURI.Hybridization,
		sources:   make(map[string]keysource.Source),
		logger:    logger,
	}

	pqcCount := make(map[model.KeyExtractionAlgorithm]int)
	for _, alg := range srcURI.KeySources {
		if alg == model.AlgorithmQKD {
			var src keysource.Source
			if cfg.UseMockQKD {
				src = qkdsource.NewMock(req.Source, req.Destination, logger)
			} else {
				src = qkdsource.New(cfg.QKDAddress, req.Source, req.Destination, logger)
			}
			s.sources[src.ID()] = src
			continue
		}

		if alg == model.AlgorithmClassic {
			src := classicsource.New()
			s.sources[src.ID()] = src
			continue
		}

		appearance := pqcCount[alg]
		pqcCount[alg]++
		src, err := pqcsource.NewSource(cfg.Dialer, peer.Address, role, alg, appearance, logger)
		if err != nil {
			logger.Warn("dropping unbuildable pqc source", logging.Fields{"algorithm": string(alg), "error": err.Error()})
			continue
		}
		s.sources[src.ID()] = src
	}

	return s, nil
}

// Role reports this session's derived connection role.
func (s *Session) Role() model.ConnectionRole { return s.role }

// HybridKSID returns the hybrid KSID once OpenConnect has shared it.
func (s *Session) HybridKSID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hybridKSID
}

// connectionID derives the SHARE_KSID reference id from the request's raw
// URIs. The two peers parse different URIs (each sees itself named with a
// different Application prefix), so hashing them in request order would
// disagree across nodes; sorting first guarantees both sides land on the
// same connection id, per the resolution of spec.md §9's open question.
func connectionID(sourceURI, destURI string) string {
	a, b := sourceURI, destURI
	if b < a {
		a, b = b, a
	}
	sum := sha256.Sum256([]byte(a + b))
	return hex.EncodeToString(sum[:])
}

// OpenConnect shares the hybrid KSID with the partner daemon and opens
// every configured source in parallel. A source that fails Open is dropped
// from the session's working set for its remaining lifetime.
func (s *Session) OpenConnect(ctx context.Context, qos model.OpenConnectQos) model.Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, end := telemetry.StartSpan(ctx, telemetry.SpanOpenConnect,
		telemetry.WithAttributes(telemetry.SpanAttributes{Role: s.role.String(), PeerNodeID: s.peerUUID}.ToMap()))
	var opErr error
	defer func() { end(opErr) }()

	ref := model.PeerSessionReference{Type: model.SessionTypeShareKSID, ID: connectionID(s.sourceURI, s.destURI)}
	ksid, err := s.shareKSID(ctx, ref)
	if err != nil {
		opErr = err
		s.logger.Warn("share ksid failed", logging.Fields{"error": err.Error()})
		return model.StatusFail()
	}
	s.hybridKSID = ksid

	survivors := s.fanOutOpen(ctx, qos)
	if len(survivors) == 0 {
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.SessionFailed()
		}
		return model.StatusFail()
	}
	s.sources = survivors

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.SessionOpened()
	}
	return model.OpenConnectOK(s.hybridKSID)
}

func (s *Session) shareKSID(ctx context.Context, ref model.PeerSessionReference) (string, error) {
	conn, err := s.cfg.Dialer.ConnectPeer(ctx, ref, s.role, s.peer.Address)
	if err != nil {
		return "", qerrors.ErrPeerNotConnected
	}
	defer conn.Close()

	if s.role == model.RoleClient {
		id := uuid.New()
		raw, err := id.MarshalBinary()
		if err != nil {
			return "", err
		}
		if _, err := conn.Write(raw); err != nil {
			return "", err
		}
		return id.String(), nil
	}

	raw := make([]byte, 16)
	if _, err := io.ReadFull(conn, raw); err != nil {
		return "", err
	}
	id, err := uuid.FromBytes(raw)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

type openResult struct {
	id  string
	src keysource.Source
	err error
}

func (s *Session) fanOutOpen(ctx context.Context, qos model.OpenConnectQos) map[string]keysource.Source {
	results := make(chan openResult, len(s.sources))
	var wg sync.WaitGroup
	for id, src := range s.sources {
		wg.Add(1)
		go func(id string, src keysource.Source) {
			defer wg.Done()
			err := src.Open(ctx, s.hybridKSID, qos)
			results <- openResult{id: id, src: src, err: err}
		}(id, src)
	}
	wg.Wait()
	close(results)

	survivors := make(map[string]keysource.Source)
	for r := range results {
		if r.err != nil {
			s.logger.Warn("source failed to open, dropping from session", logging.Fields{"source_id": r.id, "error": r.err.Error()})
			continue
		}
		survivors[r.id] = r.src
	}
	return survivors
}

type getResult struct {
	id    string
	value []byte
	err   error
}

// GetKey fans Get out across every surviving source, synthesizes an
// auxiliary secret if only one source remains, sorts the resulting values
// lexicographically, and hybridizes them into exactly qos.KeyChunkSize
// bytes.
func (s *Session) GetKey(ctx context.Context, qos model.OpenConnectQos) model.Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, end := telemetry.StartSpan(ctx, telemetry.SpanGetKey,
		telemetry.WithAttributes(telemetry.SpanAttributes{HybridKSID: s.hybridKSID, Role: s.role.String()}.ToMap()))
	var opErr error
	defer func() { end(opErr) }()

	start := time.Now()
	values := s.fanOutGet(ctx)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RecordFanOutLatency(time.Since(start))
	}

	if len(values) == 0 {
		opErr = qerrors.ErrPeerNotConnected
		return model.StatusFail()
	}

	if len(values) == 1 {
		var only []byte
		for _, v := range values {
			only = v
		}
		values["aux"] = hybrid.DeterministicAux(s.peer.SharedSeed, len(only))
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.AuxSynthesized()
		}
	}

	ordered := make([][]byte, 0, len(values))
	for _, v := range values {
		ordered = append(ordered, v)
	}
	sorted := hybrid.SortLexicographically(ordered)

	buf, err := hybrid.Combine(s.hybridM, sorted, qos.KeyChunkSize)
	if err != nil {
		opErr = err
		return model.StatusFail()
	}

	return model.GetKeyOK(keyformat.ToIntSlice(buf))
}

func (s *Session) fanOutGet(ctx context.Context) map[string][]byte {
	results := make(chan getResult, len(s.sources))
	var wg sync.WaitGroup
	for id, src := range s.sources {
		wg.Add(1)
		go func(id string, src keysource.Source) {
			defer wg.Done()
			v, err := src.Get(ctx)
			results <- getResult{id: id, value: v, err: err}
		}(id, src)
	}
	wg.Wait()
	close(results)

	values := make(map[string][]byte)
	for r := range results {
		isQKD := r.id == "QKD"
		if r.err != nil {
			s.logger.Warn("source get failed, dropping from session", logging.Fields{"source_id": r.id, "error": r.err.Error()})
			delete(s.sources, r.id)
			if s.cfg.Metrics != nil {
				s.cfg.Metrics.SourceDropped()
				s.cfg.Metrics.RecordGetKeyResult(isQKD, false)
			}
			continue
		}
		values[r.id] = r.value
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.RecordGetKeyResult(isQKD, true)
		}
	}
	return values
}

// Close releases every surviving source. Per-source errors are logged and
// swallowed, matching the key-source contract's idempotent-close rule.
func (s *Session) Close(ctx context.Context) model.Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, end := telemetry.StartSpan(ctx, telemetry.SpanClose,
		telemetry.WithAttributes(telemetry.SpanAttributes{HybridKSID: s.hybridKSID}.ToMap()))
	defer end(nil)

	var wg sync.WaitGroup
	for id, src := range s.sources {
		wg.Add(1)
		go func(id string, src keysource.Source) {
			defer wg.Done()
			if err := src.Close(); err != nil {
				s.logger.Warn("source close failed", logging.Fields{"source_id": id, "error": err.Error()})
			}
		}(id, src)
	}
	wg.Wait()

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.SessionClosed()
	}
	return model.StatusOK()
}
