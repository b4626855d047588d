package chat

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/andy6609/relay-chat/internal/config"
)

type Server struct {
	cfg      config.ServerSection
	logger   *slog.Logger
	reg      *Registry
	bc       *Broadcaster
	listener net.Listener

	mu       sync.Mutex
	peers    map[*Peer]struct{}
	stopping bool
	stopOnce sync.Once
	stopErr  error
	wg       sync.WaitGroup
}

func NewServer(cfg config.ServerSection, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	reg := NewRegistry()
	return &Server{
		cfg:    cfg,
		logger: logger,
		reg:    reg,
		bc:     NewBroadcaster(reg, logger),
		peers:  make(map[*Peer]struct{}),
	}
}

// Registry exposes the server's registry for inspection.
func (s *Server) Registry() *Registry {
	return s.reg
}

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start binds the listener and begins accepting in the background.
// Starting twice is an error.
func (s *Server) Start() error {
	if s.Addr() != nil {
		return errAlreadyStarted
	}
	addr := s.cfg.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return &BindError{Addr: addr, Err: err}
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(ln)
	}()

	s.logger.Info("server started", "addr", ln.Addr().String())
	return nil
}

// Run starts the server unless Start already did, blocks until ctx is done,
// then stops it within the configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	if s.Addr() == nil {
		if err := s.Start(); err != nil {
			return err
		}
	}
	<-ctx.Done()

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Stop(stopCtx)
}

// Stop closes the listener and every live connection, waits for their
// sessions to finish and releases the whole registry. It is safe to call
// more than once and while broadcasts are in flight.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.stopErr = s.stop(ctx)
	})
	return s.stopErr
}

func (s *Server) stop(ctx context.Context) error {
	s.logger.Info("shutting down")

	s.mu.Lock()
	s.stopping = true
	ln := s.listener
	peers := make([]*Peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	for _, p := range peers {
		_ = p.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		s.logger.Warn("sessions still running at shutdown deadline")
	}

	s.reg.Clear()
	s.logger.Info("shutdown complete")
	return err
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.isStopping() {
				return
			}
			s.logger.Error("accept failed", "error", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}

		s.logger.Info("connection accepted", "remote", conn.RemoteAddr().String())

		p := newPeer(conn, s.cfg.OutboxSize, s.cfg.WriteTimeout)
		if !s.track(p) {
			_ = conn.Close()
			return
		}
		p.startWriter()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(p)
			newSession(p, s.reg, s.bc, s.logger, sessionOptions{
				maxFrameSize: s.cfg.MaxFrameSize,
				idleTimeout:  s.cfg.IdleTimeout,
				messageRate:  s.cfg.MessageRate,
				messageBurst: s.cfg.MessageBurst,
			}).run()
		}()
	}
}

func (s *Server) isStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}

func (s *Server) track(p *Peer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return false
	}
	s.peers[p] = struct{}{}
	SessionsActive.Inc()
	return true
}

func (s *Server) untrack(p *Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers, p)
	SessionsActive.Dec()
}
