// Package conn implements the per-connection state machine of §4.6
// (handshake → optional key exchange → auth → authenticated dispatch
// loop → closing) and the per-connection event listener of §4.7, shared
// identically by the TCP and WebSocket transports.
package conn

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/berrym/lair-chat/internal/bus"
	"github.com/berrym/lair-chat/internal/crypto"
	"github.com/berrym/lair-chat/internal/dispatch"
	"github.com/berrym/lair-chat/internal/engine"
	"github.com/berrym/lair-chat/internal/lcerr"
	"github.com/berrym/lair-chat/internal/metrics"
	"github.com/berrym/lair-chat/internal/ratelimit"
	"github.com/berrym/lair-chat/internal/store"
	"github.com/berrym/lair-chat/internal/types"
	"github.com/berrym/lair-chat/internal/wire"
)

// Config controls per-connection behavior that differs between the TCP
// and WebSocket listeners (§4.10: encryption is TCP-only and optional).
type Config struct {
	RequireEncryption bool
	// PresetToken, when set, skips the handshake/key-exchange/auth states
	// entirely: the connection validates the token and jumps straight to
	// Authenticated. Used by the HTTP WebSocket upgrade's `?token=`
	// pre-authentication shortcut (§4.9).
	PresetToken string
}

// Connection drives one client socket through the state machine, dispatch
// loop, and event listener. Each accepted connection gets its own
// Connection; Serve blocks until the connection closes.
type Connection struct {
	transport  Transport
	dispatcher *dispatch.Dispatcher
	engine     *engine.Engine
	bus        *bus.Bus
	repos      store.Repositories
	limiters   *ratelimit.Limiters
	log        *zap.Logger
	metrics    *metrics.Registry
	cfg        Config

	state   State
	session *types.Session
	user    *types.User

	loggedOut bool

	outbound     chan []byte
	closed       chan struct{}
	closeOnce    sync.Once
	presenceOnce sync.Once
}

func New(t Transport, e *engine.Engine, d *dispatch.Dispatcher, b *bus.Bus, repos store.Repositories, limiters *ratelimit.Limiters, log *zap.Logger, cfg Config) *Connection {
	if log == nil {
		log = zap.NewNop()
	}
	return &Connection{
		transport:  t,
		dispatcher: d,
		engine:     e,
		bus:        b,
		repos:      repos,
		limiters:   limiters,
		log:        log,
		cfg:        cfg,
		state:      AwaitingHandshake,
		outbound:   make(chan []byte, DefaultOutboundBuffer),
		closed:     make(chan struct{}),
	}
}

// SetMetrics attaches the Prometheus collectors the read/write loops
// increment FramesRead/FramesWritten on. Nil disables reporting.
func (c *Connection) SetMetrics(m *metrics.Registry) {
	c.metrics = m
}

// rateLimitCategory reports which throttle category (if any) applies to
// msg, and the key to track it under.
func (c *Connection) rateLimitCategory(msg interface{}) (ratelimit.Category, string, bool) {
	switch msg.(type) {
	case *wire.Authenticate, *wire.Login, *wire.Register:
		return ratelimit.Auth, c.transport.RemoteAddr(), true
	case *wire.SendMessage:
		return ratelimit.Message, c.session.UserID.String(), true
	case *wire.CreateRoom:
		return ratelimit.RoomCreation, c.session.UserID.String(), true
	case *wire.Typing:
		return ratelimit.Typing, c.session.UserID.String(), true
	default:
		return "", "", false
	}
}

// checkRateLimit reports whether msg is within budget, consuming one unit
// if so. Limiter backend failures fail open rather than blocking traffic.
func (c *Connection) checkRateLimit(ctx context.Context, msg interface{}) error {
	if c.limiters == nil {
		return nil
	}
	cat, key, limited := c.rateLimitCategory(msg)
	if !limited {
		return nil
	}
	allowed, err := c.limiters.Allow(ctx, cat, key)
	if err != nil {
		c.log.Warn("rate limiter backend error, failing open", zap.Error(err))
		return nil
	}
	if !allowed {
		return ratelimit.Err(cat)
	}
	return nil
}

// Serve drives the connection to completion. It returns once the
// connection has closed, for any reason: client disconnect, protocol
// violation, idle timeout, or explicit logout.
func (c *Connection) Serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.releasePresence()
	defer c.shutdown()

	go c.writeLoop()

	if c.cfg.PresetToken != "" {
		if !c.authenticateFromToken(ctx) {
			return
		}
		c.runAuthenticated(ctx)
		return
	}

	if !c.handshake() {
		return
	}
	if c.cfg.RequireEncryption {
		if !c.keyExchange() {
			return
		}
	}
	if !c.authenticate(ctx) {
		return
	}
	c.runAuthenticated(ctx)
}

// authenticateFromToken implements the WebSocket `?token=` shortcut: the
// HTTP upgrade already authenticated the underlying connection, so no
// ClientHello/Authenticate round trip is required before entering
// Authenticated.
func (c *Connection) authenticateFromToken(ctx context.Context) bool {
	user, session, err := c.engine.ValidateToken(ctx, c.cfg.PresetToken)
	if err != nil {
		c.writeDirect(wire.NewError("", err))
		return false
	}
	c.engine.UserConnected(user)
	c.user = user
	c.session = session
	c.state = Authenticated
	c.startListener(ctx)
	return true
}

func (c *Connection) shutdown() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.transport.Close()
	})
}

// releasePresence emits user_disconnected for a connection that never ran
// an explicit logout (crash, idle timeout, transport error). Logout
// already does this itself through the engine, so it sets loggedOut first.
func (c *Connection) releasePresence() {
	c.presenceOnce.Do(func() {
		if c.state == Authenticated && !c.loggedOut && c.user != nil {
			c.engine.UserDisconnected(c.user)
		}
	})
}

func (c *Connection) writeLoop() {
	for {
		select {
		case <-c.closed:
			return
		case payload := <-c.outbound:
			if err := c.transport.WriteMessage(payload); err != nil {
				c.log.Debug("write failed, closing connection", zap.Error(err))
				c.shutdown()
				return
			}
			if c.metrics != nil {
				c.metrics.FramesWritten.WithLabelValues(c.transport.Name()).Inc()
			}
		}
	}
}

// enqueue hands a payload to the writer goroutine. Typing events are
// droppable: if the outbound buffer is full they are discarded rather
// than delivered late. Everything else must be delivered; the writer
// blocks up to OutboundBackpressure before giving up and closing the
// connection (§4.6).
func (c *Connection) enqueue(payload []byte, droppable bool) bool {
	select {
	case c.outbound <- payload:
		return true
	case <-c.closed:
		return false
	default:
	}
	if droppable {
		return false
	}
	select {
	case c.outbound <- payload:
		return true
	case <-c.closed:
		return false
	case <-time.After(OutboundBackpressure):
		c.log.Debug("outbound backpressure exceeded, closing connection")
		c.shutdown()
		return false
	}
}

func (c *Connection) deliver(msg interface{}) {
	payload, err := wire.Encode(msg)
	if err != nil {
		c.log.Warn("failed to encode outgoing message", zap.Error(err))
		return
	}
	c.enqueue(payload, false)
}

// writeDirect writes synchronously, bypassing the outbound queue. It is
// used only before authentication completes, when nothing else is
// writing to the transport, so ordering relative to a cipher switch
// (keyExchange) is guaranteed without needing to coordinate with the
// writer goroutine.
func (c *Connection) writeDirect(msg interface{}) bool {
	payload, err := wire.Encode(msg)
	if err != nil {
		c.log.Warn("failed to encode handshake message", zap.Error(err))
		return false
	}
	if err := c.transport.WriteMessage(payload); err != nil {
		c.log.Debug("handshake write failed", zap.Error(err))
		return false
	}
	if c.metrics != nil {
		c.metrics.FramesWritten.WithLabelValues(c.transport.Name()).Inc()
	}
	return true
}

func (c *Connection) readWithTimeout(d time.Duration) ([]byte, error) {
	if err := c.transport.SetReadDeadline(time.Now().Add(d)); err != nil {
		return nil, err
	}
	payload, err := c.transport.ReadMessage()
	if err == nil && c.metrics != nil {
		c.metrics.FramesRead.WithLabelValues(c.transport.Name()).Inc()
	}
	return payload, err
}

func closesConnection(err error) bool {
	lerr, ok := err.(*lcerr.Error)
	return ok && lerr.Kind.CloseConnection()
}

// handshake implements the AwaitingHandshake state: the client must open
// with ClientHello naming a compatible protocol version (§4.6, §4.5).
func (c *Connection) handshake() bool {
	raw, err := c.readWithTimeout(HandshakeTimeout)
	if err != nil {
		c.log.Debug("handshake read failed", zap.Error(err))
		return false
	}
	msg, err := wire.Decode(raw)
	if err != nil {
		c.writeDirect(wire.NewError("", err))
		return false
	}
	hello, ok := msg.(*wire.ClientHello)
	if !ok {
		c.writeDirect(wire.NewError("", lcerr.New(lcerr.BadHandshake, "expected ClientHello")))
		return false
	}
	if !strings.HasPrefix(hello.Version, wire.ProtocolMajorPrefix) {
		err := lcerr.New(lcerr.VersionMismatch, "unsupported protocol version, server speaks "+wire.ProtocolVersion)
		c.writeDirect(wire.NewError(hello.RequestID, err))
		return false
	}
	if !c.writeDirect(&wire.ServerHello{
		Envelope: wire.Envelope{Type: wire.TypeServerHello, RequestID: hello.RequestID},
		Version:  wire.ProtocolVersion,
	}) {
		return false
	}
	if c.cfg.RequireEncryption {
		c.state = AwaitingKeyExchange
	} else {
		c.state = AwaitingAuth
	}
	return true
}

// keyExchange implements the AwaitingKeyExchange state (§4.10): an X25519
// public key swap deriving the AES-256-GCM key for the rest of the
// connection. The response carrying the server's public key must reach
// the wire before the cipher is switched on, since the client cannot
// decrypt it otherwise.
func (c *Connection) keyExchange() bool {
	raw, err := c.readWithTimeout(HandshakeTimeout)
	if err != nil {
		c.log.Debug("key exchange read failed", zap.Error(err))
		return false
	}
	msg, err := wire.Decode(raw)
	if err != nil {
		c.writeDirect(wire.NewError("", err))
		return false
	}
	ke, ok := msg.(*wire.KeyExchange)
	if !ok {
		c.writeDirect(wire.NewError("", lcerr.New(lcerr.BadHandshake, "expected KeyExchange")))
		return false
	}
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		c.writeDirect(wire.NewError(ke.RequestID, err))
		return false
	}
	secret, err := kp.SharedSecret(ke.PublicKey)
	if err != nil {
		c.writeDirect(wire.NewError(ke.RequestID, err))
		return false
	}
	cph, err := crypto.NewCipher(secret)
	if err != nil {
		c.writeDirect(wire.NewError(ke.RequestID, err))
		return false
	}
	if !c.writeDirect(&wire.KeyExchangeResponse{
		Envelope:  wire.Envelope{Type: wire.TypeKeyExchangeResponse, RequestID: ke.RequestID},
		PublicKey: kp.PublicKeyBase64(),
	}) {
		return false
	}
	if cs, ok := c.transport.(cipherSetter); ok {
		cs.SetCipher(cph)
	}
	c.state = AwaitingAuth
	return true
}

// authenticate implements the AwaitingAuth state: only Authenticate,
// Login, Register, and Ping are accepted; anything else is rejected
// without closing the connection, per §7's propagation column for
// unauthorized (not in the close-on-wire set).
func (c *Connection) authenticate(ctx context.Context) bool {
	deadline := time.Now().Add(AuthTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.writeDirect(wire.NewError("", lcerr.New(lcerr.Timeout, "authentication timed out")))
			return false
		}
		raw, err := c.readWithTimeout(remaining)
		if err != nil {
			c.log.Debug("auth-phase read failed", zap.Error(err))
			return false
		}
		msg, err := wire.Decode(raw)
		if err != nil {
			c.writeDirect(wire.NewError("", err))
			if closesConnection(err) {
				return false
			}
			continue
		}

		switch msg.(type) {
		case *wire.Authenticate, *wire.Login, *wire.Register:
			if rlErr := c.checkRateLimit(ctx, msg); rlErr != nil {
				c.writeDirect(wire.NewError("", rlErr))
				continue
			}
			result := c.dispatcher.Handle(ctx, nil, msg)
			if result.Response != nil {
				c.writeDirect(result.Response)
			}
			if result.NewSession != nil {
				c.session = result.NewSession
				c.user = result.NewUser
				c.state = Authenticated
				c.startListener(ctx)
				return true
			}
			if closesConnection(result.Err) {
				return false
			}
		case *wire.Ping:
			c.writeDirect(&wire.Pong{Envelope: wire.Envelope{Type: wire.TypePong}})
		default:
			c.writeDirect(wire.NewError("", lcerr.UnauthorizedErr("authentication required")))
		}
	}
}

// startListener subscribes the newly authenticated user to the bus and
// spawns the per-connection event listener of §4.7. It runs until ctx is
// cancelled, which happens when Serve returns.
func (c *Connection) startListener(ctx context.Context) {
	sub := c.bus.Subscribe(c.user.ID)
	l := NewListener(c.user.ID, c.user.Username, c.repos, sub, c.enqueue, c.log)
	go func() {
		l.Run(ctx)
		sub.Close()
	}()
}

// runAuthenticated implements the Authenticated state: the normal
// request/response dispatch loop, with the idle timeout reset on every
// frame received (§4.6, §8 invariant 5: last_activity only moves forward).
func (c *Connection) runAuthenticated(ctx context.Context) {
	for {
		raw, err := c.readWithTimeout(IdleTimeout)
		if err != nil {
			c.log.Debug("authenticated read failed", zap.Error(err))
			return
		}

		msg, err := wire.Decode(raw)
		if err != nil {
			c.deliver(wire.NewError("", err))
			if closesConnection(err) {
				return
			}
			continue
		}

		if err := c.engine.TouchActivity(ctx, c.session.ID); err != nil {
			c.log.Warn("failed to record session activity", zap.Error(err))
		}

		if rlErr := c.checkRateLimit(ctx, msg); rlErr != nil {
			c.deliver(wire.NewError("", rlErr))
			continue
		}

		result := c.dispatcher.Handle(ctx, c.session, msg)
		if result.Response != nil {
			c.deliver(result.Response)
		}

		if _, ok := msg.(*wire.Logout); ok && result.Err == nil {
			c.loggedOut = true
			return
		}
		if closesConnection(result.Err) {
			return
		}
	}
}
