package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/meetclient/internal/app/orch"
	"github.com/dkeye/meetclient/internal/config"
	"github.com/dkeye/meetclient/internal/core"
	"github.com/dkeye/meetclient/internal/domain"
	"github.com/dkeye/meetclient/internal/media"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSignaling struct {
	mu     sync.Mutex
	joined []domain.RoomID
	states [][2]bool

	participants core.Observers[[]domain.Participant]
	noop         core.Observers[string]
}

func (s *stubSignaling) Connect(context.Context, domain.UserID, string) error { return nil }
func (s *stubSignaling) JoinRoom(roomID domain.RoomID, _ string) error {
	s.mu.Lock()
	s.joined = append(s.joined, roomID)
	s.mu.Unlock()
	return nil
}
func (s *stubSignaling) LeaveRoom(domain.RoomID) error { return nil }
func (s *stubSignaling) UpdateMediaState(_ domain.RoomID, audio, video bool) error {
	s.mu.Lock()
	s.states = append(s.states, [2]bool{audio, video})
	s.mu.Unlock()
	return nil
}
func (s *stubSignaling) OnRoomParticipants(fn func([]domain.Participant)) func() {
	return s.participants.Add(fn)
}
func (s *stubSignaling) OnParticipantJoined(func(domain.Participant)) func()   { return func() {} }
func (s *stubSignaling) OnParticipantLeft(func(domain.ParticipantLeft)) func() { return func() {} }
func (s *stubSignaling) OnMediaStateChanged(func(domain.MediaState)) func()    { return func() {} }
func (s *stubSignaling) OnError(fn func(string)) func()                        { return s.noop.Add(fn) }
func (s *stubSignaling) OnRoomFull(fn func(string)) func()                     { return s.noop.Add(fn) }
func (s *stubSignaling) Disconnect()                                           { s.participants.Clear() }

type stubTransport struct{}

func (stubTransport) Initialize(context.Context, domain.PeerID) error { return nil }
func (stubTransport) SetLocalStream(*media.LocalStream)               {}
func (stubTransport) Call(ctx context.Context, _ domain.PeerID, _ *media.LocalStream) (*media.RemoteStream, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
func (stubTransport) OnCall(func(domain.PeerID, *media.RemoteStream)) func() { return func() {} }
func (stubTransport) CloseCall(domain.PeerID)                                {}
func (stubTransport) CloseAllCalls()                                         {}
func (stubTransport) Destroy()                                               {}

type apiHarness struct {
	srv    *httptest.Server
	client *http.Client

	mu  sync.Mutex
	sig *stubSignaling
}

func newAPI(t *testing.T, jwtSecret string) *apiHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := &apiHarness{}
	lobby := orch.NewLobby(orch.Factories{
		Media:       media.NullSource{},
		Constraints: media.DefaultConstraints,
		NewSignaling: func() core.SignalingClient {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.sig = &stubSignaling{}
			return h.sig
		},
		NewTransport: func() core.PeerTransport { return stubTransport{} },
	})
	cfg := &config.Config{Mode: "test", Secret: "test-secret", Identity: config.Identity{JWTSecret: jwtSecret}}

	h.srv = httptest.NewServer(SetupRouter(cfg, lobby))
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	h.client = &http.Client{Jar: jar}
	t.Cleanup(func() {
		lobby.Close()
		h.srv.Close()
	})
	return h
}

func (h *apiHarness) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, h.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func (h *apiHarness) signaling() *stubSignaling {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sig
}

func TestSession_LoginWithIDAndName(t *testing.T) {
	h := newAPI(t, "")

	code, _ := h.do(t, http.MethodGet, "/api/session", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, body := h.do(t, http.MethodPost, "/api/session", map[string]string{"id": "u1", "name": "Alice"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "u1", body["peerId"])
	assert.Equal(t, false, body["hasCredential"])

	code, body = h.do(t, http.MethodGet, "/api/session", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Alice", body["name"])

	code, _ = h.do(t, http.MethodDelete, "/api/session", nil)
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = h.do(t, http.MethodGet, "/api/session", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestSession_LoginWithToken(t *testing.T) {
	h := newAPI(t, "k")
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": "u9", "username": "bob"}).SignedString([]byte("k"))
	require.NoError(t, err)

	code, body := h.do(t, http.MethodPost, "/api/session", map[string]string{"token": tok})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "u9", body["id"])
	assert.Equal(t, "bob", body["name"])
	assert.Equal(t, true, body["hasCredential"])

	code, _ = h.do(t, http.MethodPost, "/api/session", map[string]string{"token": tok + "x"})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = h.do(t, http.MethodPost, "/api/session", map[string]string{"name": "no id"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestCall_JoinRequiresIdentity(t *testing.T) {
	h := newAPI(t, "")

	code, body := h.do(t, http.MethodPost, "/api/rooms/r1/join", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, core.ErrMissingData.Error(), body["error"])

	code, _ = h.do(t, http.MethodGet, "/api/call", nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = h.do(t, http.MethodPost, "/api/call/audio", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCall_JoinToggleLeave(t *testing.T) {
	h := newAPI(t, "")
	code, _ := h.do(t, http.MethodPost, "/api/session", map[string]string{"id": "u1", "name": "Alice"})
	require.Equal(t, http.StatusOK, code)

	code, body := h.do(t, http.MethodPost, "/api/rooms/r1/join", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "r1", body["roomId"])
	assert.Equal(t, "active", body["phase"])
	assert.Equal(t, []domain.RoomID{"r1"}, h.signaling().joined)

	code, body = h.do(t, http.MethodPost, "/api/call/audio", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["isAudioEnabled"])
	assert.Equal(t, true, body["isVideoEnabled"])

	code, body = h.do(t, http.MethodPost, "/api/call/video", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["isVideoEnabled"])
	assert.Equal(t, [][2]bool{{false, true}, {false, false}}, h.signaling().states)

	code, body = h.do(t, http.MethodPost, "/api/call/leave", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "idle", body["phase"])
}

func TestCall_RepeatedJoinKeepsLiveCall(t *testing.T) {
	h := newAPI(t, "")
	h.do(t, http.MethodPost, "/api/session", map[string]string{"id": "u1", "name": "Alice"})

	code, _ := h.do(t, http.MethodPost, "/api/rooms/r1/join", nil)
	require.Equal(t, http.StatusOK, code)
	sig := h.signaling()

	code, body := h.do(t, http.MethodPost, "/api/rooms/r1/join", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "active", body["phase"])
	assert.Same(t, sig, h.signaling())
	assert.Equal(t, []domain.RoomID{"r1"}, sig.joined)
}

func TestCall_EventsStream(t *testing.T) {
	h := newAPI(t, "")
	h.do(t, http.MethodPost, "/api/session", map[string]string{"id": "u1", "name": "Alice"})
	code, _ := h.do(t, http.MethodPost, "/api/rooms/r1/join", nil)
	require.Equal(t, http.StatusOK, code)

	header := http.Header{}
	for _, c := range h.client.Jar.Cookies(mustURL(t, h.srv.URL)) {
		header.Add("Cookie", c.String())
	}
	wsURL := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/api/call/events"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer ws.Close()

	var first struct {
		Phase string `json:"phase"`
	}
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, ws.ReadJSON(&first))
	assert.Equal(t, "active", first.Phase)

	h.signaling().participants.Emit([]domain.Participant{
		{SocketID: "s1", PeerID: "u1", DisplayName: "Alice", IsAudioEnabled: true, IsVideoEnabled: true},
		{SocketID: "s2", PeerID: "u2", DisplayName: "Bob", IsAudioEnabled: true, IsVideoEnabled: true},
	})

	require.Eventually(t, func() bool {
		var snap struct {
			Participants []struct {
				SocketID string `json:"socketId"`
			} `json:"participants"`
		}
		_ = ws.SetReadDeadline(time.Now().Add(time.Second))
		if err := ws.ReadJSON(&snap); err != nil {
			return false
		}
		return len(snap.Participants) == 2
	}, 3*time.Second, 10*time.Millisecond)
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}
