// Package dispatcher implements C8: the agent-facing local server. It
// accepts TCP connections from the local agent, reads one JSON request per
// message, routes by command to the session that owns it (creating one on
// OPEN_CONNECT), and writes back exactly one JSON response per request.
package dispatcher

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"sync"

	"github.com/hybridkeyd/hybridkeyd/internal/constants"
	"github.com/hybridkeyd/hybridkeyd/pkg/logging"
	"github.com/hybridkeyd/hybridkeyd/pkg/model"
	"github.com/hybridkeyd/hybridkeyd/pkg/session"
)

// commandEnvelope peeks at just the command field; the concrete payload is
// re-decoded into the command-specific request type once known.
type commandEnvelope struct {
	Command string `json:"command"`
}

// defaultChunkSize is used only if GET_KEY somehow resolves a session whose
// OPEN_CONNECT chunk size was never recorded; it should be unreachable in
// practice since handleOpenConnect always populates chunkSizes on success.
const defaultChunkSize = 32

// Server is the process-wide agent dispatcher: the agent-facing listener,
// its bounded worker pool, and the open_sessions/sessions_locks tables.
type Server struct {
	addr       model.NetworkAddress
	sessionCfg session.Config
	logger     *logging.Logger
	numWorkers int

	mu           sync.Mutex
	openSessions map[string]*session.Session
	sessionLocks map[string]*sync.Mutex
	chunkSizes   map[string]model.OpenConnectQos

	listener net.Listener
	accepted chan net.Conn
	workerWG sync.WaitGroup
	acceptWG sync.WaitGroup
	stopped  bool
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithLogger overrides the default package logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Server) { s.logger = logger.Named("dispatcher") }
}

// WithWorkers overrides the bounded worker-pool size (default from
// internal/constants.DispatcherWorkers).
func WithWorkers(n int) Option {
	return func(s *Server) { s.numWorkers = n }
}

// New builds a Server bound to addr, using sessionCfg to construct each
// Session an OPEN_CONNECT request creates.
func New(addr model.NetworkAddress, sessionCfg session.Config, opts ...Option) *Server {
	s := &Server{
		addr:         addr,
		sessionCfg:   sessionCfg,
		logger:       logging.GetLogger().Named("dispatcher"),
		numWorkers:   constants.DispatcherWorkers,
		openSessions: make(map[string]*session.Session),
		sessionLocks: make(map[string]*sync.Mutex),
		chunkSizes:   make(map[string]model.OpenConnectQos),
		accepted:     make(chan net.Conn, constants.DispatcherWorkers),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start binds the agent listener and launches the worker pool.
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.addr.String())
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	for i := 0; i < s.numWorkers; i++ {
		s.workerWG.Add(1)
		go s.worker()
	}
	s.acceptWG.Add(1)
	go s.acceptLoop()

	s.logger.Info("agent listener started", logging.Fields{"address": s.addr.String()})
	return nil
}

func (s *Server) acceptLoop() {
	defer s.acceptWG.Done()
	defer close(s.accepted)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			stopped := s.stopped
			s.mu.Unlock()
			if stopped {
				return
			}
			s.logger.Warn("agent accept failed", logging.Fields{"error": err.Error()})
			return
		}
		s.accepted <- conn
	}
}

func (s *Server) worker() {
	defer s.workerWG.Done()
	for conn := range s.accepted {
		s.serveConn(conn)
	}
}

// serveConn reads request/response pairs off one agent connection until it
// closes. Each message is at most MaxAgentMessageSize bytes, framed as one
// JSON object (the agent is expected to pipeline request-then-response).
func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReaderSize(conn, constants.MaxAgentMessageSize)
	decoder := json.NewDecoder(reader)

	for {
		var raw json.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			return
		}

		resp := s.handle(context.Background(), raw)

		encoded, err := json.Marshal(resp)
		if err != nil {
			s.logger.Error("failed to marshal response", logging.Fields{"error": err.Error()})
			return
		}
		if _, err := conn.Write(encoded); err != nil {
			return
		}
	}
}

// handle decodes one agent request and routes it by command.
func (s *Server) handle(ctx context.Context, raw json.RawMessage) model.Response {
	var env commandEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return model.ErrorResponse("Invalid JSON received")
	}

	switch env.Command {
	case "OPEN_CONNECT":
		return s.handleOpenConnect(ctx, raw)
	case "GET_KEY":
		return s.handleGetKey(ctx, raw)
	case "CLOSE":
		return s.handleClose(ctx, raw)
	default:
		return model.ErrorResponse("Unknown command")
	}
}

func (s *Server) handleOpenConnect(ctx context.Context, raw json.RawMessage) (resp model.Response) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic during OPEN_CONNECT", logging.Fields{"recovered": r})
			resp = model.Response{Status: 1, Message: "Fatal error during OPEN_CONNECT."}
		}
	}()

	var req model.OpenConnectRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return model.Response{Status: 1, Message: "Fatal error during OPEN_CONNECT."}
	}

	sess, err := session.NewSession(s.sessionCfg, req)
	if err != nil {
		s.logger.Warn("open_connect rejected", logging.Fields{"error": err.Error()})
		return model.StatusFail()
	}

	openResp := sess.OpenConnect(ctx, req.Qos)
	if openResp.Status != 0 {
		return openResp
	}

	ksid := sess.HybridKSID()
	s.mu.Lock()
	s.openSessions[ksid] = sess
	s.sessionLocks[ksid] = &sync.Mutex{}
	s.chunkSizes[ksid] = req.Qos
	s.mu.Unlock()

	return openResp
}

func (s *Server) resolve(ksid string) (*session.Session, *sync.Mutex) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openSessions[ksid], s.sessionLocks[ksid]
}

func (s *Server) handleGetKey(ctx context.Context, raw json.RawMessage) model.Response {
	var req model.GetKeyRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return model.StatusFail()
	}

	sess, lock := s.resolve(req.KeyStreamID)
	if sess == nil {
		return model.StatusFail()
	}

	lock.Lock()
	defer lock.Unlock()

	return sess.GetKey(ctx, s.qosFor(req))
}

// qosFor recovers the qos.key_chunk_size the session was opened with. The
// agent's GET_KEY request does not repeat QoS, so the dispatcher stores the
// chunk size alongside the session at OPEN_CONNECT time.
func (s *Server) qosFor(req model.GetKeyRequest) model.OpenConnectQos {
	s.mu.Lock()
	defer s.mu.Unlock()
	if qos, ok := s.chunkSizes[req.KeyStreamID]; ok {
		return qos
	}
	return model.OpenConnectQos{KeyChunkSize: defaultChunkSize}
}

func (s *Server) handleClose(ctx context.Context, raw json.RawMessage) model.Response {
	var req model.CloseRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return model.StatusFail()
	}

	s.mu.Lock()
	sess, ok := s.openSessions[req.KeyStreamID]
	lock := s.sessionLocks[req.KeyStreamID]
	delete(s.openSessions, req.KeyStreamID)
	delete(s.sessionLocks, req.KeyStreamID)
	delete(s.chunkSizes, req.KeyStreamID)
	s.mu.Unlock()

	if !ok {
		return model.StatusOK()
	}

	lock.Lock()
	defer lock.Unlock()
	return sess.Close(ctx)
}

// OpenSessionCount satisfies pkg/healthz.SessionCounter.
func (s *Server) OpenSessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.openSessions)
}

// Shutdown stops accepting new agent connections and waits for in-flight
// workers to drain.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	listener := s.listener
	s.mu.Unlock()

	if listener != nil {
		_ = listener.Close()
	}
	s.acceptWG.Wait()
	s.workerWG.Wait()
	s.logger.Info("agent listener stopped")
	return nil
}
