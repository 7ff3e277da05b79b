package conn

import (
	"net"
	"time"

	"github.com/gorilla/websocket"

	"github.com/berrym/lair-chat/internal/crypto"
	"github.com/berrym/lair-chat/internal/lcerr"
	"github.com/berrym/lair-chat/internal/wire"
)

// Transport abstracts the TCP and WebSocket wire framings behind one
// read/write interface so the connection state machine (C8) is written
// once and shared by both (§4.5: "a single JSON message vocabulary
// shared by TCP and WebSocket transports").
type Transport interface {
	// ReadMessage returns one decrypted, decoded JSON payload.
	ReadMessage() ([]byte, error)
	// WriteMessage sends one JSON payload, encrypting first if a cipher
	// is active.
	WriteMessage(payload []byte) error
	// SetReadDeadline enforces the per-state timeouts of §4.6.
	SetReadDeadline(t time.Time) error
	Close() error
	RemoteAddr() string
	// Name identifies the transport for metrics labeling ("tcp" or "ws").
	Name() string
}

// cipherSetter is implemented by transports that support switching on
// encryption mid-connection after a key exchange (TCP only; §4.10).
type cipherSetter interface {
	SetCipher(*crypto.Cipher)
}

// tcpTransport implements length-prefix framing over a raw net.Conn, with
// optional per-frame AES-GCM encryption once a key exchange has
// completed (§4.10).
type tcpTransport struct {
	conn   net.Conn
	cipher *crypto.Cipher // nil until KeyExchange completes
}

func NewTCPTransport(c net.Conn) *tcpTransport {
	return &tcpTransport{conn: c}
}

func (t *tcpTransport) SetCipher(c *crypto.Cipher) { t.cipher = c }

func (t *tcpTransport) ReadMessage() ([]byte, error) {
	payload, err := wire.ReadFrame(t.conn)
	if err != nil {
		return nil, err
	}
	if t.cipher == nil {
		return payload, nil
	}
	return t.cipher.Open(string(payload))
}

func (t *tcpTransport) WriteMessage(payload []byte) error {
	if t.cipher != nil {
		sealed, err := t.cipher.Seal(payload)
		if err != nil {
			return err
		}
		return wire.WriteFrame(t.conn, []byte(sealed))
	}
	return wire.WriteFrame(t.conn, payload)
}

func (t *tcpTransport) SetReadDeadline(d time.Time) error { return t.conn.SetReadDeadline(d) }
func (t *tcpTransport) Close() error                      { return t.conn.Close() }
func (t *tcpTransport) RemoteAddr() string                { return t.conn.RemoteAddr().String() }
func (t *tcpTransport) Name() string                      { return "tcp" }

// wsTransport implements the WebSocket framing: one JSON message per text
// frame; binary frames are rejected with unsupported (§4.5).
type wsTransport struct {
	ws *websocket.Conn
}

func NewWSTransport(ws *websocket.Conn) *wsTransport {
	return &wsTransport{ws: ws}
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	msgType, payload, err := t.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	if msgType != websocket.TextMessage {
		return nil, lcerr.UnsupportedErr("binary frames are not supported")
	}
	return payload, nil
}

func (t *wsTransport) WriteMessage(payload []byte) error {
	return t.ws.WriteMessage(websocket.TextMessage, payload)
}

func (t *wsTransport) SetReadDeadline(d time.Time) error { return t.ws.SetReadDeadline(d) }
func (t *wsTransport) Close() error                      { return t.ws.Close() }
func (t *wsTransport) RemoteAddr() string                { return t.ws.RemoteAddr().String() }
func (t *wsTransport) Name() string                      { return "ws" }
