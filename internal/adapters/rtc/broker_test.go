package rtc

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gorilla/websocket"
)

type brokerPeer struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (p *brokerPeer) write(m message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.ws.WriteJSON(m)
}

// fakeBroker is an in-process PeerServer: it claims ids and relays frames.
type fakeBroker struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader
	// swallow drops every relayed frame.
	swallow atomic.Bool

	mu         sync.Mutex
	peers      map[string]*brokerPeer
	frames     []message
	heartbeats atomic.Int32
}

func newFakeBroker(t *testing.T) *fakeBroker {
	b := &fakeBroker{peers: make(map[string]*brokerPeer)}
	b.srv = httptest.NewServer(http.HandlerFunc(b.handle))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBroker) url() string { return "ws" + strings.TrimPrefix(b.srv.URL, "http") + "/peerjs" }

func (b *fakeBroker) handle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := q.Get("id")
	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()
	p := &brokerPeer{ws: ws}

	if q.Get("key") != "peerjs" || q.Get("token") == "" {
		p.write(message{Type: msgInvalidKey, Payload: &payload{Msg: "Invalid key provided"}})
		return
	}
	b.mu.Lock()
	if _, taken := b.peers[id]; taken {
		b.mu.Unlock()
		p.write(message{Type: msgIDTaken, Payload: &payload{Msg: "ID is taken"}})
		return
	}
	b.peers[id] = p
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		if b.peers[id] == p {
			delete(b.peers, id)
		}
		b.mu.Unlock()
	}()
	p.write(message{Type: msgOpen})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var m message
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		if m.Type == msgHeartbeat {
			b.heartbeats.Add(1)
			continue
		}
		m.Src = domainID(id)
		b.mu.Lock()
		b.frames = append(b.frames, m)
		dst, ok := b.peers[string(m.Dst)]
		b.mu.Unlock()
		if b.swallow.Load() {
			continue
		}
		if !ok {
			p.write(message{Type: msgExpire, Src: m.Dst, Dst: m.Src})
			continue
		}
		dst.write(m)
	}
}

func (b *fakeBroker) framesOf(kind string) []message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []message
	for _, m := range b.frames {
		if m.Type == kind {
			out = append(out, m)
		}
	}
	return out
}
