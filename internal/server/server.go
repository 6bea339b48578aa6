// Package server accepts shop clients over TCP and feeds their frames to the dispatcher.
//
// Every connection gets a reader goroutine, which handles frames strictly in order, and a
// writer goroutine draining a bounded outbound queue.
package server

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"commerce-service/internal/handler"
	metrics "commerce-service/prometheus"
)

// Config tunes the transport
type Config struct {
	Addr           string
	MaxFrameBytes  int
	OutboundBuffer int
}

// Server is the TCP front end
type Server struct {
	cfg     Config
	handler *handler.Handler
	metrics *metrics.Metrics
	log     *zap.Logger

	mu    sync.Mutex
	conns map[string]*conn
	addr  net.Addr
	ready chan struct{}
}

// New creates a server; zero sizes fall back to 1 MiB frames and a 64 frame queue
func New(cfg Config, h *handler.Handler, m *metrics.Metrics, log *zap.Logger) *Server {
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = 1 << 20
	}
	if cfg.OutboundBuffer <= 0 {
		cfg.OutboundBuffer = 64
	}
	return &Server{
		cfg:     cfg,
		handler: h,
		metrics: m,
		log:     log,
		conns:   make(map[string]*conn),
		ready:   make(chan struct{}),
	}
}

// ListenAndServe listens on the configured address and serves until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Addr waits until the server listens and returns its address
func (s *Server) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-s.ready:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.addr, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Serve accepts connections on ln until ctx is cancelled, then closes every connection and
// waits for their goroutines
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()
	close(s.ready)
	s.log.Info("Shop server listening", zap.String("addr", ln.Addr().String()))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gCtx.Done()
		ln.Close()
		s.closeAll()
		return nil
	})

	var acceptErr error
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				acceptErr = err
				s.log.Error("Accept failed", zap.Error(err))
			}
			break
		}
		g.Go(func() error {
			s.serveConn(gCtx, nc)
			return nil
		})
	}

	cancel()
	if err := g.Wait(); err != nil {
		return err
	}
	s.log.Info("Shop server stopped")
	return acceptErr
}

func (s *Server) serveConn(ctx context.Context, nc net.Conn) {
	id := uuid.NewString()
	log := s.log.With(zap.String("conn_id", id), zap.String("remote", nc.RemoteAddr().String()))
	c := newConn(id, nc, s.cfg.OutboundBuffer, s.metrics, log)
	if !s.track(c) {
		c.close()
		return
	}
	s.metrics.OpenConnections.Inc()
	log.Info("Client connected")

	session := s.handler.NewSession(c)
	go c.writeLoop()
	defer func() {
		session.Close()
		c.finish()
		s.untrack(c)
		s.metrics.OpenConnections.Dec()
		log.Info("Client disconnected")
	}()

	sc := bufio.NewScanner(nc)
	sc.Buffer(make([]byte, 0, min(64*1024, s.cfg.MaxFrameBytes)), s.cfg.MaxFrameBytes)
	for sc.Scan() {
		if err := session.Handle(ctx, sc.Bytes()); err != nil {
			log.Debug("Stopped handling frames", zap.Error(err))
			return
		}
	}
	if err := sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			log.Warn("Frame exceeds the size limit, closing connection", zap.Int("max_bytes", s.cfg.MaxFrameBytes))
		} else if !errors.Is(err, net.ErrClosed) {
			log.Debug("Read failed", zap.Error(err))
		}
	}
}

// track registers c unless the server is shutting down
func (s *Server) track(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[c.id] = c
	return true
}

func (s *Server) untrack(c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c.id)
}

// closeAll closes every open connection and refuses new ones
func (s *Server) closeAll() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}
