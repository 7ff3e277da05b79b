// Package httpapi implements the HTTP surface of §4.9: JSON login/
// register endpoints, the WebSocket upgrade that hands connections to
// internal/conn, a read-only REST mirror of the room directory, and the
// Prometheus /metrics endpoint.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/berrym/lair-chat/internal/bus"
	"github.com/berrym/lair-chat/internal/conn"
	"github.com/berrym/lair-chat/internal/dispatch"
	"github.com/berrym/lair-chat/internal/engine"
	"github.com/berrym/lair-chat/internal/lcerr"
	"github.com/berrym/lair-chat/internal/metrics"
	"github.com/berrym/lair-chat/internal/ratelimit"
	"github.com/berrym/lair-chat/internal/store"
	"github.com/berrym/lair-chat/internal/types"
	"github.com/berrym/lair-chat/internal/wire"
)

// Server wires the domain engine into an HTTP mux.
type Server struct {
	engine     *engine.Engine
	dispatcher *dispatch.Dispatcher
	bus        *bus.Bus
	repos      store.Repositories
	limiters   *ratelimit.Limiters
	log        *zap.Logger
	metrics    *metrics.Registry
	upgrader   websocket.Upgrader
}

func New(e *engine.Engine, d *dispatch.Dispatcher, b *bus.Bus, repos store.Repositories, limiters *ratelimit.Limiters, log *zap.Logger, reg *metrics.Registry) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		engine:     e,
		dispatcher: d,
		bus:        b,
		repos:      repos,
		limiters:   limiters,
		log:        log,
		metrics:    reg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler builds the complete routed mux, wrapped in gorilla/handlers'
// combined access logging, matching the teacher's request-logging
// middleware convention.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/auth/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
	r.HandleFunc("/rooms", s.handleListRooms).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{id}", s.handleGetRoom).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{id}/members", s.handleGetRoomMembers).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return handlers.CombinedLoggingHandler(zapStdWriter{s.log}, r)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if lerr, ok := err.(*lcerr.Error); ok {
		status = httpStatusFor(lerr.Kind)
	}
	writeJSON(w, status, wire.ErrorPayloadFrom(err))
}

func httpStatusFor(kind lcerr.Kind) int {
	switch kind {
	case lcerr.Unauthorized:
		return http.StatusUnauthorized
	case lcerr.Forbidden:
		return http.StatusForbidden
	case lcerr.NotFound:
		return http.StatusNotFound
	case lcerr.Conflict:
		return http.StatusConflict
	case lcerr.ValidationFailed:
		return http.StatusBadRequest
	case lcerr.RateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, lcerr.ValidationFailedErr("malformed request body"))
		return
	}
	if allowed, err := s.limiters.Allow(r.Context(), ratelimit.Auth, r.RemoteAddr); err == nil && !allowed {
		writeErr(w, ratelimit.Err(ratelimit.Auth))
		return
	}
	user, session, token, err := s.engine.Login(r.Context(), req.Identifier, req.Password, types.ProtocolHTTP)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":    wire.UserToWire(user),
		"session": wire.SessionToWire(session),
		"token":   token,
	})
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, lcerr.ValidationFailedErr("malformed request body"))
		return
	}
	if allowed, err := s.limiters.Allow(r.Context(), ratelimit.Auth, r.RemoteAddr); err == nil && !allowed {
		writeErr(w, ratelimit.Err(ratelimit.Auth))
		return
	}
	user, session, token, err := s.engine.Register(r.Context(), req.Username, req.Email, req.Password, types.ProtocolHTTP)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"user":    wire.UserToWire(user),
		"session": wire.SessionToWire(session),
		"token":   token,
	})
}

// handleWebSocket upgrades the connection and hands it to internal/conn.
// A `?token=` query parameter skips the ClientHello/Authenticate round
// trip (§4.9); otherwise the connection starts in AwaitingHandshake like
// any TCP connection, minus the X25519 key exchange (the WebSocket
// transport relies on TLS for confidentiality instead).
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	if s.metrics != nil {
		s.metrics.LiveConnections.Inc()
		s.metrics.ConnectionsByProtocol.WithLabelValues("ws").Inc()
		defer s.metrics.LiveConnections.Dec()
		defer s.metrics.ConnectionsByProtocol.WithLabelValues("ws").Dec()
	}
	transport := conn.NewWSTransport(ws)
	cfg := conn.Config{RequireEncryption: false, PresetToken: r.URL.Query().Get("token")}
	c := conn.New(transport, s.engine, s.dispatcher, s.bus, s.repos, s.limiters, s.log, cfg)
	c.SetMetrics(s.metrics)
	c.Serve(r.Context())
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	page, err := s.engine.ListPublicRooms(r.Context(), types.Pagination{
		Offset: queryInt(r, "offset"),
		Limit:  queryInt(r, "limit"),
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	out := make([]wire.RoomWire, len(page.Items))
	for i := range page.Items {
		out[i] = wire.RoomToWire(&page.Items[i])
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rooms": out, "has_more": page.HasMore})
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseRoomID(mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, lcerr.ValidationFailedErr("malformed room id"))
		return
	}
	room, err := s.engine.GetRoom(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.RoomToWire(room))
}

func (s *Server) handleGetRoomMembers(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseRoomID(mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, lcerr.ValidationFailedErr("malformed room id"))
		return
	}
	page, err := s.engine.GetRoomMembers(r.Context(), id, types.Pagination{
		Offset: queryInt(r, "offset"),
		Limit:  queryInt(r, "limit"),
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	out := make([]wire.MembershipWire, len(page.Items))
	for i := range page.Items {
		out[i] = wire.MembershipToWire(&page.Items[i])
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"members": out, "has_more": page.HasMore})
}

func queryInt(r *http.Request, key string) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0
	}
	n := 0
	for _, c := range v {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// zapStdWriter adapts a zap.Logger to the io.Writer gorilla/handlers'
// combined logging middleware writes access log lines to.
type zapStdWriter struct{ log *zap.Logger }

func (z zapStdWriter) Write(p []byte) (int, error) {
	z.log.Info(string(p))
	return len(p), nil
}
