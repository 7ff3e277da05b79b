// Package tcpserver implements the raw TCP listener: a plain
// net.Listener accepting connections and handing each one to
// internal/conn for the handshake/key-exchange/auth/dispatch state
// machine. Encryption is negotiated per connection via the application-
// level X25519 handshake (§4.10), not TLS; TLS belongs to the HTTP
// listener only.
package tcpserver

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/berrym/lair-chat/internal/bus"
	"github.com/berrym/lair-chat/internal/conn"
	"github.com/berrym/lair-chat/internal/dispatch"
	"github.com/berrym/lair-chat/internal/engine"
	"github.com/berrym/lair-chat/internal/metrics"
	"github.com/berrym/lair-chat/internal/ratelimit"
	"github.com/berrym/lair-chat/internal/store"
)

// Server owns the TCP listener and the set of live connections.
type Server struct {
	engine     *engine.Engine
	dispatcher *dispatch.Dispatcher
	bus        *bus.Bus
	repos      store.Repositories
	limiters   *ratelimit.Limiters
	metrics    *metrics.Registry
	log        *zap.Logger

	requireEncryption bool
	maxConnections    int64

	live atomic.Int64
	wg   sync.WaitGroup

	listener net.Listener
}

type Option func(*Server)

func WithEncryptionRequired(required bool) Option {
	return func(s *Server) { s.requireEncryption = required }
}

func WithMaxConnections(n int) Option {
	return func(s *Server) { s.maxConnections = int64(n) }
}

func WithMetrics(m *metrics.Registry) Option {
	return func(s *Server) { s.metrics = m }
}

func New(e *engine.Engine, d *dispatch.Dispatcher, b *bus.Bus, repos store.Repositories, limiters *ratelimit.Limiters, log *zap.Logger, opts ...Option) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		engine:            e,
		dispatcher:        d,
		bus:               b,
		repos:             repos,
		limiters:          limiters,
		log:               log,
		requireEncryption: true,
		maxConnections:    10000,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListenAndServe binds addr and accepts connections until ctx is
// cancelled or the listener errors. It blocks until all in-flight
// connections have been handed off.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.log.Info("tcp listener started", zap.String("addr", addr))

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		c, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			default:
				return err
			}
		}
		if s.live.Load() >= s.maxConnections {
			s.log.Warn("rejecting connection, at capacity", zap.String("remote", c.RemoteAddr().String()))
			c.Close()
			continue
		}
		s.wg.Add(1)
		s.live.Add(1)
		go s.serve(ctx, c)
	}
}

func (s *Server) serve(ctx context.Context, raw net.Conn) {
	defer s.wg.Done()
	defer s.live.Add(-1)
	if s.metrics != nil {
		s.metrics.LiveConnections.Inc()
		s.metrics.ConnectionsByProtocol.WithLabelValues("tcp").Inc()
		defer s.metrics.LiveConnections.Dec()
		defer s.metrics.ConnectionsByProtocol.WithLabelValues("tcp").Dec()
	}

	transport := conn.NewTCPTransport(raw)
	c := conn.New(transport, s.engine, s.dispatcher, s.bus, s.repos, s.limiters, s.log,
		conn.Config{RequireEncryption: s.requireEncryption})
	c.SetMetrics(s.metrics)
	c.Serve(ctx)
}
