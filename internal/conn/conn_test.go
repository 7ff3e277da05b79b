package conn

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/berrym/lair-chat/internal/auth"
	"github.com/berrym/lair-chat/internal/bus"
	"github.com/berrym/lair-chat/internal/dispatch"
	"github.com/berrym/lair-chat/internal/engine"
	"github.com/berrym/lair-chat/internal/ratelimit"
	"github.com/berrym/lair-chat/internal/store/memstore"
	"github.com/berrym/lair-chat/internal/wire"
)

// fakeTransport is an in-memory Transport for driving Connection without a
// real socket: inbound is fed by the test, outbound is captured for
// assertions.
type fakeTransport struct {
	mu       sync.Mutex
	inbound  chan []byte
	outbound [][]byte
	sent     chan []byte
	closed   bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan []byte, 16),
		sent:    make(chan []byte, 16),
	}
}

func (f *fakeTransport) ReadMessage() ([]byte, error) {
	msg, ok := <-f.inbound
	if !ok {
		return nil, errors.New("fakeTransport: closed")
	}
	return msg, nil
}

func (f *fakeTransport) WriteMessage(payload []byte) error {
	f.mu.Lock()
	f.outbound = append(f.outbound, payload)
	f.mu.Unlock()
	f.sent <- payload
	return nil
}

func (f *fakeTransport) SetReadDeadline(time.Time) error { return nil }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.inbound)
	}
	return nil
}

func (f *fakeTransport) RemoteAddr() string { return "test-peer:0" }
func (f *fakeTransport) Name() string       { return "fake" }

func (f *fakeTransport) send(t *testing.T, msg interface{}) {
	t.Helper()
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	f.inbound <- raw
}

func (f *fakeTransport) expect(t *testing.T) map[string]interface{} {
	t.Helper()
	select {
	case raw := <-f.sent:
		var out map[string]interface{}
		require.NoError(t, json.Unmarshal(raw, &out))
		return out
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outbound message")
		return nil
	}
}

func newTestDeps() (*engine.Engine, *dispatch.Dispatcher, *bus.Bus) {
	repos := memstore.New().Repositories()
	b := bus.New(nil)
	e := engine.New(repos, b, auth.NewPasswordHasher(), auth.NewTokenService([]byte("s")), nil)
	d := dispatch.New(e, nil)
	return e, d, b
}

func TestConnectionHandshakeWithoutEncryption(t *testing.T) {
	e, d, b := newTestDeps()
	ft := newFakeTransport()
	c := New(ft, e, d, b, memstore.New().Repositories(), ratelimit.New(), nil, Config{RequireEncryption: false})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { c.Serve(ctx); close(done) }()

	ft.send(t, &wire.ClientHello{
		Envelope: wire.Envelope{Type: wire.TypeClientHello, RequestID: "h1"},
		Version:  "1.0",
	})
	hello := ft.expect(t)
	assert.Equal(t, wire.TypeServerHello, hello["type"])

	ft.send(t, &wire.Register{
		Envelope: wire.Envelope{Type: wire.TypeRegister, RequestID: "r1"},
		Username: "connuser",
		Email:    "connuser@example.com",
		Password: "password1",
	})
	regResp := ft.expect(t)
	assert.Equal(t, wire.TypeRegisterResponse, regResp["type"])
	assert.Equal(t, true, regResp["success"])

	ft.send(t, &wire.Ping{Envelope: wire.Envelope{Type: wire.TypePing, RequestID: "p1"}})
	pong := ft.expect(t)
	assert.Equal(t, wire.TypePong, pong["type"])

	ft.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after transport close")
	}
}

func TestConnectionRejectsVersionMismatch(t *testing.T) {
	e, d, b := newTestDeps()
	ft := newFakeTransport()
	c := New(ft, e, d, b, memstore.New().Repositories(), ratelimit.New(), nil, Config{RequireEncryption: false})

	done := make(chan struct{})
	go func() { c.Serve(context.Background()); close(done) }()

	ft.send(t, &wire.ClientHello{
		Envelope: wire.Envelope{Type: wire.TypeClientHello, RequestID: "h1"},
		Version:  "2.0",
	})
	errMsg := ft.expect(t)
	assert.Equal(t, wire.TypeError, errMsg["type"])

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("connection should close on version mismatch")
	}
}

func TestConnectionLogoutDoesNotDoubleDecrementPresence(t *testing.T) {
	e, d, b := newTestDeps()
	ft := newFakeTransport()
	c := New(ft, e, d, b, memstore.New().Repositories(), ratelimit.New(), nil, Config{RequireEncryption: false})

	done := make(chan struct{})
	go func() { c.Serve(context.Background()); close(done) }()

	ft.send(t, &wire.ClientHello{Envelope: wire.Envelope{Type: wire.TypeClientHello}, Version: "1.0"})
	ft.expect(t)

	ft.send(t, &wire.Register{
		Envelope: wire.Envelope{Type: wire.TypeRegister},
		Username: "logoutuser",
		Email:    "logoutuser@example.com",
		Password: "password1",
	})
	regResp := ft.expect(t)
	require.Equal(t, true, regResp["success"])

	ft.send(t, &wire.Logout{Envelope: wire.Envelope{Type: wire.TypeLogout, RequestID: "lg1"}})
	logoutResp := ft.expect(t)
	assert.Equal(t, true, logoutResp["success"])

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve should return after logout")
	}

	assert.Empty(t, e.OnlineUserIDs(), "presence must be released exactly once after logout")
}
