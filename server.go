package wsproto

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrServerNotStarted = errors.New("wsproto: server not started")
	ErrServerAlreadyRunning = errors.New("wsproto: server already running")
)

// Server is a raw TCP acceptor that spins up one Session per accepted
// connection (§5 "Acceptor"). It owns the listener and the Pool; the
// handshake and framing themselves are entirely Session's job.
type Server struct {
	addr     string
	listener net.Listener

	pool     *Pool
	endpoint *Endpoint
	handler  Handler

	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	stopChan chan struct{}

	onAccept func(*Session)
}

// ServerConfig configures a Server.
type ServerConfig struct {
	Addr       string
	PoolConfig *PoolConfig
	Endpoint   *Endpoint
	Handler    Handler
}

// NewServer creates a Server. Endpoint defaults to NewEndpoint(RoleServer)
// and Handler to NopHandler{} if left unset.
func NewServer(config ServerConfig) *Server {
	endpoint := config.Endpoint
	if endpoint == nil {
		endpoint = NewEndpoint(RoleServer)
	}
	handler := config.Handler
	if handler == nil {
		handler = NopHandler{}
	}
	return &Server{
		addr:     config.Addr,
		pool:     NewPool(config.PoolConfig),
		endpoint: endpoint,
		handler:  handler,
		stopChan: make(chan struct{}),
	}
}

// OnAccept sets a callback fired once a Session has been admitted to the
// pool, before its handshake runs.
func (s *Server) OnAccept(fn func(*Session)) { s.onAccept = fn }

// Pool returns the Server's connection registry.
func (s *Server) Pool() *Pool { return s.pool }

// Start binds the listen address and begins accepting connections in the
// background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrServerAlreadyRunning
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("wsproto: listen on %s: %w", s.addr, err)
	}
	s.listener = listener
	s.running = true

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop closes the listener and every open Session, then waits for the
// accept loop and in-flight Sessions to unwind.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrServerNotStarted
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopChan)
	if s.listener != nil {
		s.listener.Close()
	}
	s.pool.CloseAll("server shutting down")
	s.wg.Wait()
	return nil
}

// Addr returns the address the listener is bound to.
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// acceptLoop accepts incoming connections until Stop closes the listener.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
				return
			default:
				s.endpoint.Log(LevelWarn, "accept error", zap.Error(err))
				continue
			}
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection admits one accepted connection to the pool and drives
// its Session to completion.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	session := NewSession(conn, RoleServer, s.endpoint, s.handler)

	if err := s.pool.Add(session); err != nil {
		s.endpoint.Log(LevelWarn, "connection rejected", zap.Error(err))
		conn.Close()
		return
	}
	defer s.pool.Remove(session)

	if s.onAccept != nil {
		s.onAccept(session)
	}

	session.Run()
}
