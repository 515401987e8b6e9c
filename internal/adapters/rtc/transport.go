package rtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/meetclient/internal/core"
	"github.com/dkeye/meetclient/internal/domain"
	"github.com/dkeye/meetclient/internal/media"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// AcquireFunc provides a local stream for answering when none was set.
type AcquireFunc func(ctx context.Context) (*media.LocalStream, error)

type incomingCall struct {
	peer   domain.PeerID
	stream *media.RemoteStream
}

// mediaCall is one entry of the call table. conn and connID may be swapped
// when an offer from the same peer wins over our own.
type mediaCall struct {
	peer     domain.PeerID
	outbound bool

	// guarded by Transport.mu
	conn   *Connection
	connID string

	ready  chan struct{}
	once   sync.Once
	stream *media.RemoteStream
	err    error
}

func (c *mediaCall) settle(stream *media.RemoteStream, err error) bool {
	settled := false
	c.once.Do(func() {
		c.stream, c.err = stream, err
		close(c.ready)
		settled = true
	})
	return settled
}

// Transport is the peer transport client: a broker connection plus a table of
// media calls keyed by remote PeerID. It implements core.PeerTransport.
type Transport struct {
	cfg     Config
	api     *webrtc.API
	acquire AcquireFunc

	mu     sync.Mutex
	id     domain.PeerID
	broker *broker
	local  *media.LocalStream
	owned  *media.LocalStream
	calls  map[domain.PeerID]*mediaCall

	incoming core.Observers[incomingCall]
}

var _ core.PeerTransport = (*Transport)(nil)

func NewTransport(api *webrtc.API, cfg Config, acquire AcquireFunc) *Transport {
	return &Transport{
		cfg:     cfg.withDefaults(),
		api:     api,
		acquire: acquire,
		calls:   make(map[domain.PeerID]*mediaCall),
	}
}

// Initialize claims id on the broker. It is a no-op while id is already live.
func (t *Transport) Initialize(ctx context.Context, id domain.PeerID) error {
	t.mu.Lock()
	if t.broker != nil && t.broker.alive() {
		current := t.id
		t.mu.Unlock()
		if current == id {
			return nil
		}
		return fmt.Errorf("peer transport already initialized as %q", current)
	}
	t.mu.Unlock()

	b, err := dialBroker(ctx, t.cfg, id, t.handle, t.onBrokerLost)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.broker != nil && t.broker.alive() {
		t.mu.Unlock()
		b.close()
		return nil
	}
	t.broker = b
	t.id = id
	t.mu.Unlock()
	return nil
}

func (t *Transport) SetLocalStream(stream *media.LocalStream) {
	t.mu.Lock()
	t.local = stream
	t.mu.Unlock()
}

func (t *Transport) OnCall(fn func(domain.PeerID, *media.RemoteStream)) func() {
	return t.incoming.Add(func(c incomingCall) { fn(c.peer, c.stream) })
}

// Call dials remote and waits for its first track. A call already in the
// table for remote is awaited instead of creating a second connection.
func (t *Transport) Call(ctx context.Context, remote domain.PeerID, local *media.LocalStream) (*media.RemoteStream, error) {
	t.mu.Lock()
	if t.broker == nil {
		t.mu.Unlock()
		return nil, ErrNotInitialized
	}
	if existing, ok := t.calls[remote]; ok {
		t.mu.Unlock()
		log.Debug().Str("module", "rtc").Str("peer", string(remote)).Msg("call already in table, awaiting it")
		return t.await(ctx, existing)
	}
	b := t.broker
	call := &mediaCall{peer: remote, outbound: true, connID: newConnectionID(), ready: make(chan struct{})}
	conn, err := t.newConnection(call, call.connID)
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}
	call.conn = conn
	t.calls[remote] = call
	t.mu.Unlock()

	if err := conn.AddLocalStream(local); err != nil {
		t.drop(call, err)
		return nil, err
	}
	offer, err := conn.CreateOffer()
	if err != nil {
		t.drop(call, err)
		return nil, err
	}
	if err := b.send(message{
		Type: msgOffer,
		Dst:  remote,
		Payload: &payload{
			SDP:          &offer,
			Type:         connectionTypeMedia,
			ConnectionID: call.connID,
		},
	}); err != nil {
		t.drop(call, err)
		return nil, fmt.Errorf("send offer: %w", err)
	}
	conn.Signaled()
	log.Info().Str("module", "rtc").Str("peer", string(remote)).Str("connection_id", call.connID).Msg("offer sent")
	return t.await(ctx, call)
}

func (t *Transport) await(ctx context.Context, call *mediaCall) (*media.RemoteStream, error) {
	timer := time.NewTimer(t.cfg.CallTimeout)
	defer timer.Stop()
	select {
	case <-call.ready:
	case <-timer.C:
		t.drop(call, ErrCallTimeout)
	case <-ctx.Done():
		t.drop(call, ctx.Err())
	}
	<-call.ready
	if call.err != nil {
		return nil, call.err
	}
	return call.stream, nil
}

// drop fails the call, removes it from the table and closes its connection.
func (t *Transport) drop(call *mediaCall, err error) {
	call.settle(nil, err)
	t.mu.Lock()
	t.forgetLocked(call)
	conn := call.conn
	t.mu.Unlock()
	conn.Close()
}

// forgetLocked removes call only if it is still the table entry for its peer.
func (t *Transport) forgetLocked(call *mediaCall) {
	if t.calls[call.peer] == call {
		delete(t.calls, call.peer)
	}
}

func (t *Transport) CloseCall(remote domain.PeerID) {
	t.mu.Lock()
	call, ok := t.calls[remote]
	if ok {
		delete(t.calls, remote)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	call.settle(nil, ErrCallClosed)
	t.mu.Lock()
	conn := call.conn
	t.mu.Unlock()
	conn.Close()
	log.Info().Str("module", "rtc").Str("peer", string(remote)).Msg("call closed")
}

func (t *Transport) CloseAllCalls() {
	t.mu.Lock()
	calls := t.calls
	t.calls = make(map[domain.PeerID]*mediaCall)
	conns := make([]*Connection, 0, len(calls))
	for _, c := range calls {
		conns = append(conns, c.conn)
	}
	t.mu.Unlock()

	for _, c := range calls {
		c.settle(nil, ErrCallClosed)
	}
	for _, conn := range conns {
		conn.Close()
	}
}

// Destroy closes every call, releases the peer id and any lazily acquired stream.
// Initialize may be called again afterwards.
func (t *Transport) Destroy() {
	t.CloseAllCalls()
	t.incoming.Clear()

	t.mu.Lock()
	b, owned := t.broker, t.owned
	t.broker, t.owned, t.local = nil, nil, nil
	id := t.id
	t.id = ""
	t.mu.Unlock()

	if owned != nil {
		owned.Stop()
	}
	if b != nil {
		b.close()
		log.Info().Str("module", "rtc").Str("peer", string(id)).Msg("peer transport destroyed")
	}
}

func (t *Transport) onBrokerLost(err error) {
	log.Warn().Str("module", "rtc").Err(err).Msg("broker connection lost")
	t.CloseAllCalls()
}

// newConnection builds a started connection whose events feed back into call.
func (t *Transport) newConnection(call *mediaCall, connID string) (*Connection, error) {
	conn, err := NewConnection(t.api, t.cfg.peerConnectionConfig(), call.peer, connID)
	if err != nil {
		return nil, err
	}
	conn.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		t.sendCandidate(call.peer, connID, ci)
	})
	conn.OnRemoteStream(func(stream *media.RemoteStream) {
		t.onRemoteStream(call, conn, stream)
	})
	conn.OnClosed(func() {
		t.onConnectionClosed(call, conn)
	})
	conn.Start()
	return conn, nil
}

func (t *Transport) onRemoteStream(call *mediaCall, conn *Connection, stream *media.RemoteStream) {
	t.mu.Lock()
	current := call.conn == conn
	t.mu.Unlock()
	if !current || !call.settle(stream, nil) {
		return
	}
	log.Info().Str("module", "rtc").Str("peer", string(call.peer)).Str("connection_id", conn.ConnectionID()).Msg("remote stream ready")
	if !call.outbound {
		t.incoming.Emit(incomingCall{peer: call.peer, stream: stream})
	}
}

func (t *Transport) onConnectionClosed(call *mediaCall, conn *Connection) {
	t.mu.Lock()
	if call.conn != conn {
		t.mu.Unlock()
		return
	}
	t.forgetLocked(call)
	t.mu.Unlock()
	call.settle(nil, ErrCallClosed)
}

func (t *Transport) sendCandidate(peer domain.PeerID, connID string, ci webrtc.ICECandidateInit) {
	t.mu.Lock()
	b := t.broker
	t.mu.Unlock()
	if b == nil {
		return
	}
	if err := b.send(message{
		Type: msgCandidate,
		Dst:  peer,
		Payload: &payload{
			Candidate:    &ci,
			Type:         connectionTypeMedia,
			ConnectionID: connID,
		},
	}); err != nil {
		log.Debug().Err(err).Str("module", "rtc").Str("peer", string(peer)).Msg("candidate not sent")
	}
}

func newConnectionID() string {
	return "mc_" + uuid.NewString()
}
