package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/berrym/lair-chat/internal/auth"
	"github.com/berrym/lair-chat/internal/bus"
	"github.com/berrym/lair-chat/internal/dispatch"
	"github.com/berrym/lair-chat/internal/engine"
	"github.com/berrym/lair-chat/internal/metrics"
	"github.com/berrym/lair-chat/internal/ratelimit"
	"github.com/berrym/lair-chat/internal/store/memstore"
	"github.com/berrym/lair-chat/internal/types"
)

func newTestServer(t *testing.T) (*Server, *engine.Engine) {
	t.Helper()
	repos := memstore.New().Repositories()
	b := bus.New(nil)
	e := engine.New(repos, b, auth.NewPasswordHasher(), auth.NewTokenService([]byte("s")), nil)
	d := dispatch.New(e, nil)
	return New(e, d, b, repos, ratelimit.New(), nil, nil), e
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRegisterThenLoginRoundTrip(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec := doJSON(t, h, http.MethodPost, "/auth/register", registerRequest{
		Username: "dana",
		Email:    "dana@example.com",
		Password: "password1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var registered map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &registered))
	assert.NotEmpty(t, registered["token"])

	rec = doJSON(t, h, http.MethodPost, "/auth/login", loginRequest{
		Identifier: "dana",
		Password:   "password1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var loggedIn map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &loggedIn))
	assert.NotEmpty(t, loggedIn["token"])
}

func TestLoginRejectsWrongPasswordWithUnauthorized(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	doJSON(t, h, http.MethodPost, "/auth/register", registerRequest{
		Username: "erin",
		Email:    "erin@example.com",
		Password: "password1",
	})

	rec := doJSON(t, h, http.MethodPost, "/auth/login", loginRequest{
		Identifier: "erin",
		Password:   "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegisterRejectsMalformedBody(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	req := httptest.NewRequest(http.MethodPost, "/auth/register", bytes.NewBufferString("not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListRoomsExcludesPrivateRooms(t *testing.T) {
	s, e := newTestServer(t)
	h := s.Handler()
	ctx := context.Background()

	_, session := mustUser(t, e)
	_, err := e.CreateRoom(ctx, session, "open-room", "", types.RoomSettings{IsPublic: true})
	require.NoError(t, err)
	_, err = e.CreateRoom(ctx, session, "hidden-room", "", types.RoomSettings{IsPublic: false})
	require.NoError(t, err)

	rec := doJSON(t, h, http.MethodGet, "/rooms", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	rooms, ok := out["rooms"].([]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, rooms)
	assert.Len(t, rooms, 1, "only the public room is listed")
}

func TestGetRoomRejectsMalformedID(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec := doJSON(t, h, http.MethodGet, "/rooms/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRoomReturnsNotFoundForUnknownID(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec := doJSON(t, h, http.MethodGet, "/rooms/"+types.NewRoomID().String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// TestWebSocketUpgradeDrivesConnectionMetrics covers comment (e): the
// WebSocket path must increment the same registry passed into New, not
// leave it exclusively driven by the TCP listener.
func TestWebSocketUpgradeDrivesConnectionMetrics(t *testing.T) {
	repos := memstore.New().Repositories()
	b := bus.New(nil)
	e := engine.New(repos, b, auth.NewPasswordHasher(), auth.NewTokenService([]byte("s")), nil)
	d := dispatch.New(e, nil)
	reg := metrics.New(prometheus.NewRegistry())
	s := New(e, d, b, repos, ratelimit.New(), nil, reg)

	_, _, token, err := e.Register(context.Background(), "grace", "grace@example.com", "password1", types.ProtocolHTTP)
	require.NoError(t, err)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return gaugeValue(t, reg.LiveConnections) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, float64(1), gaugeValue(t, reg.ConnectionsByProtocol.WithLabelValues("ws")))

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return gaugeValue(t, reg.LiveConnections) == 0
	}, time.Second, 10*time.Millisecond)
}

func mustUser(t *testing.T, e *engine.Engine) (*types.User, *types.Session) {
	t.Helper()
	user, session, _, err := e.Register(context.Background(), "frank", "frank@example.com", "password1", types.ProtocolHTTP)
	require.NoError(t, err)
	return user, session
}
