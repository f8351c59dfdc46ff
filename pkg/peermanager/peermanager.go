// Package peermanager implements C6: the process-wide mutually-authenticated
// TLS channel between this daemon and its partner. It accepts inbound
// connections, reads the session-reference handshake each one opens with,
// and parks the raw socket in an "unclaimed" map until the session that
// owns that reference claims it (SERVER role) or dials out for it (CLIENT
// role).
//
// There is exactly one Manager per process; sessions never talk to each
// other or to the listener directly — they only ever call ConnectPeer.
package peermanager

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hybridkeyd/hybridkeyd/internal/constants"
	qerrors "github.com/hybridkeyd/hybridkeyd/internal/errors"
	"github.com/hybridkeyd/hybridkeyd/pkg/logging"
	"github.com/hybridkeyd/hybridkeyd/pkg/metrics"
	"github.com/hybridkeyd/hybridkeyd/pkg/model"
	"github.com/hybridkeyd/hybridkeyd/pkg/telemetry"
)

// blinkReference is the special reference used to wake a blocked SERVER-role
// poller and the accept loop at shutdown; it carries no payload.
var blinkReference = model.PeerSessionReference{Type: model.SessionTypeBlink, ID: "blink"}

// Manager owns the peer-facing listener, the bounded worker pool that
// services it, and the unclaimed-socket parking map.
type Manager struct {
	selfAddr   model.NetworkAddress
	serverTLS  *tls.Config
	clientTLS  *tls.Config
	logger     *logging.Logger
	metrics    *metrics.Collector
	numWorkers int

	mu        sync.Mutex
	listener  net.Listener
	unclaimed map[string]net.Conn
	stopped   bool

	accepted chan net.Conn
	workerWG sync.WaitGroup
	acceptWG sync.WaitGroup

	activeConns atomic.Int64
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithLogger overrides the default package logger.
func WithLogger(logger *logging.Logger) Option {
	return func(m *Manager) { m.logger = logger.Named("peermanager") }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Manager) { m.metrics = c }
}

// WithWorkers overrides the bounded worker-pool size (default from
// internal/constants.PeerManagerWorkers).
func WithWorkers(n int) Option {
	return func(m *Manager) { m.numWorkers = n }
}

// New builds a Manager bound to selfAddr. serverTLS must require and verify
// client certificates (CERT_REQUIRED); clientTLS must validate the server
// against the same CA. Both are built by pkg/certs from GeneralConfiguration.
func New(selfAddr model.NetworkAddress, serverTLS, clientTLS *tls.Config, opts ...Option) *Manager {
	m := &Manager{
		selfAddr:   selfAddr,
		serverTLS:  serverTLS,
		clientTLS:  clientTLS,
		logger:     logging.GetLogger().Named("peermanager"),
		numWorkers: constants.PeerManagerWorkers,
		unclaimed:  make(map[string]net.Conn),
		accepted:   make(chan net.Conn, constants.PeerManagerWorkers),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start dials up the listener and the bounded worker pool. It returns once
// the listener is bound; Accept runs in a background goroutine.
func (m *Manager) Start() error {
	raw, err := net.Listen("tcp", m.selfAddr.String())
	if err != nil {
		return fmt.Errorf("peermanager: listen %s: %w", m.selfAddr, err)
	}

	m.mu.Lock()
	m.listener = tls.NewListener(raw, m.serverTLS)
	m.mu.Unlock()

	for i := 0; i < m.numWorkers; i++ {
		m.workerWG.Add(1)
		go m.worker()
	}

	m.acceptWG.Add(1)
	go m.acceptLoop()

	m.logger.Info("peer listener started", logging.Fields{"address": m.selfAddr.String()})
	return nil
}

func (m *Manager) acceptLoop() {
	defer m.acceptWG.Done()
	defer close(m.accepted)

	for {
		conn, err := m.listener.Accept()
		if err != nil {
			m.mu.Lock()
			stopped := m.stopped
			m.mu.Unlock()
			if stopped {
				return
			}
			m.logger.Warn("peer accept failed", logging.Fields{"error": err.Error()})
			return
		}
		select {
		case m.accepted <- conn:
		default:
			// Worker pool saturated; block until a slot frees rather than
			// drop the connection, same backpressure the dispatcher applies.
			m.accepted <- conn
		}
	}
}

func (m *Manager) worker() {
	defer m.workerWG.Done()
	for conn := range m.accepted {
		m.handleInbound(conn)
	}
}

// handleInbound reads the session-reference handshake off a freshly
// accepted TLS connection and either parks it or, for BLINK, discards it.
func (m *Manager) handleInbound(conn net.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(constants.PeerSocketTimeout))

	var ref model.PeerSessionReference
	if err := json.NewDecoder(conn).Decode(&ref); err != nil {
		m.logger.Warn("peer handshake decode failed", logging.Fields{"error": err.Error()})
		_ = conn.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	if ref.Type == model.SessionTypeBlink {
		_ = conn.Close()
		return
	}

	// The ack is sent exactly once, by waitForClaim when the SERVER role
	// actually pops this socket out of unclaimed — not here. Sending it
	// twice would leave stray bytes ahead of whatever protocol the claiming
	// session speaks next (e.g. a PQC source's byte-exact KEM reads).
	m.activeConns.Add(1)
	m.park(ref, conn)
}

func (m *Manager) park(ref model.PeerSessionReference, conn net.Conn) {
	m.mu.Lock()
	m.unclaimed[ref.Key()] = conn
	m.mu.Unlock()
	m.logger.Debug("peer socket parked", logging.Fields{"ref": ref.Key()})
}

// ConnectPeer returns a secure socket bound to ref. SERVER role polls the
// unclaimed map; CLIENT role dials target and performs the handshake
// itself.
func (m *Manager) ConnectPeer(ctx context.Context, ref model.PeerSessionReference, role model.ConnectionRole, target model.NetworkAddress) (net.Conn, error) {
	ctx, end := telemetry.StartSpan(ctx, telemetry.SpanConnectPeer,
		telemetry.WithAttributes(telemetry.SpanAttributes{Role: role.String()}.ToMap()))
	start := time.Now()

	var conn net.Conn
	var err error
	if role == model.RoleServer {
		conn, err = m.waitForClaim(ctx, ref)
	} else {
		conn, err = m.dialOut(ctx, ref, target)
	}

	if m.metrics != nil {
		m.metrics.RecordConnectPeerWait(time.Since(start), err == nil)
	}
	end(err)
	return conn, err
}

func (m *Manager) waitForClaim(ctx context.Context, ref model.PeerSessionReference) (net.Conn, error) {
	deadline := time.Now().Add(constants.ConnectPeerTimeout)
	ticker := time.NewTicker(constants.ConnectPeerPollInterval)
	defer ticker.Stop()

	for {
		if conn := m.takeUnclaimed(ref); conn != nil {
			if _, err := conn.Write([]byte(constants.SessionRefAck)); err != nil {
				_ = conn.Close()
				return nil, qerrors.ErrPeerNotConnected
			}
			return conn, nil
		}
		if time.Now().After(deadline) {
			return nil, qerrors.ErrPeerNotConnected
		}
		select {
		case <-ctx.Done():
			return nil, qerrors.ErrPeerNotConnected
		case <-ticker.C:
		}
	}
}

func (m *Manager) takeUnclaimed(ref model.PeerSessionReference) net.Conn {
	key := ref.Key()
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.unclaimed[key]
	if !ok {
		return nil
	}
	delete(m.unclaimed, key)
	return conn
}

func (m *Manager) dialOut(ctx context.Context, ref model.PeerSessionReference, target model.NetworkAddress) (net.Conn, error) {
	dialer := &net.Dialer{}
	raw, err := dialer.DialContext(ctx, "tcp", target.String())
	if err != nil {
		return nil, qerrors.NewPqcError("dial_peer", err)
	}

	cfg := m.clientTLS.Clone()
	cfg.ServerName = target.Host
	conn := tls.Client(raw, cfg)
	if err := conn.HandshakeContext(ctx); err != nil {
		_ = raw.Close()
		return nil, qerrors.NewPqcError("tls_handshake", err)
	}

	_ = conn.SetDeadline(time.Now().Add(constants.PeerSocketTimeout))
	if err := json.NewEncoder(conn).Encode(ref); err != nil {
		_ = conn.Close()
		return nil, qerrors.NewPqcError("send_reference", err)
	}

	ack := make([]byte, constants.SessionRefAckSize)
	n, err := conn.Read(ack)
	if err != nil {
		_ = conn.Close()
		return nil, qerrors.NewPqcError("read_ack", err)
	}
	if n == 0 {
		_ = conn.Close()
		return nil, qerrors.ErrPeerNotConnected
	}
	_ = conn.SetDeadline(time.Time{})

	m.activeConns.Add(1)
	return conn, nil
}

// ConnectedPeerCount satisfies pkg/healthz.PeerConnectivity.
func (m *Manager) ConnectedPeerCount() int {
	return int(m.activeConns.Load())
}

// ListenerAddr returns the peer listener's bound address. Used by callers
// that started the manager on port 0 and need to discover the chosen port.
func (m *Manager) ListenerAddr() net.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener == nil {
		return nil
	}
	return m.listener.Addr()
}

// UnclaimedCount reports how many sockets are currently parked awaiting a
// SERVER-role claim. Exposed for tests and operator diagnostics.
func (m *Manager) UnclaimedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.unclaimed)
}

// Shutdown stops accepting new connections and blocks until the listener
// goroutine and worker pool have drained. Per §4.6.3, it self-connects with
// the BLINK reference to unblock an Accept call that might otherwise be
// waiting forever on a quiet link, then closes the listener outright.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	listener := m.listener
	m.mu.Unlock()

	if listener != nil {
		blinkCtx, cancel := context.WithTimeout(ctx, constants.PeerSocketTimeout)
		if conn, err := m.dialOut(blinkCtx, blinkReference, m.selfAddr); err == nil {
			_ = conn.Close()
		}
		cancel()
		_ = listener.Close()
	}

	m.acceptWG.Wait()
	m.workerWG.Wait()
	m.logger.Info("peer listener stopped")
	return nil
}
