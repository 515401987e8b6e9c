package orch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/meetclient/internal/core"
	"github.com/dkeye/meetclient/internal/domain"
	"github.com/dkeye/meetclient/internal/media"
)

var (
	errFakeClosed       = errors.New("fake call closed")
	errFakeDisconnected = errors.New("fake signaling not connected")
)

// callLog records collaborator calls of every session in one ordered list.
// local reports the stream the session acquired, to tell when it was stopped.
type callLog struct {
	mu      sync.Mutex
	entries []string
	local   func() *media.LocalStream
}

func (l *callLog) add(entry string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

// stopped records "stop" the first time the acquired stream has no live track left.
func (l *callLog) stopped() {
	if l == nil || l.local == nil {
		return
	}
	s := l.local()
	if s == nil || s.LiveTracks() > 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e == "stop" {
			return
		}
	}
	l.entries = append(l.entries, "stop")
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

type fakeSignaling struct {
	log *callLog
	// connectGate, when set, holds Connect until closed; connectEntered is closed on entry.
	connectGate    chan struct{}
	connectEntered chan struct{}

	mu          sync.Mutex
	connected   bool
	connects    int
	disconnects int
	connectErr  error
	joins       []domain.RoomID
	leaves      []domain.RoomID
	mediaStates [][2]bool

	participants core.Observers[[]domain.Participant]
	joined       core.Observers[domain.Participant]
	left         core.Observers[domain.ParticipantLeft]
	mediaChanged core.Observers[domain.MediaState]
	errs         core.Observers[string]
	full         core.Observers[string]
}

func (f *fakeSignaling) Connect(ctx context.Context, _ domain.UserID, _ string) error {
	if f.connectEntered != nil {
		close(f.connectEntered)
	}
	if f.connectGate != nil {
		select {
		case <-f.connectGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeSignaling) JoinRoom(roomID domain.RoomID, _ string) error {
	f.mu.Lock()
	f.joins = append(f.joins, roomID)
	f.mu.Unlock()
	f.log.add("join")
	return nil
}

func (f *fakeSignaling) LeaveRoom(roomID domain.RoomID) error {
	f.mu.Lock()
	f.leaves = append(f.leaves, roomID)
	f.mu.Unlock()
	f.log.add("leave")
	return nil
}

// UpdateMediaState fails before Connect, like the real client.
func (f *fakeSignaling) UpdateMediaState(_ domain.RoomID, audio, video bool) error {
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return errFakeDisconnected
	}
	f.mediaStates = append(f.mediaStates, [2]bool{audio, video})
	f.mu.Unlock()
	f.log.add(fmt.Sprintf("media audio=%t video=%t", audio, video))
	return nil
}

func (f *fakeSignaling) OnRoomParticipants(fn func([]domain.Participant)) func() {
	return f.participants.Add(fn)
}
func (f *fakeSignaling) OnParticipantJoined(fn func(domain.Participant)) func() {
	return f.joined.Add(fn)
}
func (f *fakeSignaling) OnParticipantLeft(fn func(domain.ParticipantLeft)) func() {
	return f.left.Add(fn)
}
func (f *fakeSignaling) OnMediaStateChanged(fn func(domain.MediaState)) func() {
	return f.mediaChanged.Add(fn)
}
func (f *fakeSignaling) OnError(fn func(string)) func()    { return f.errs.Add(fn) }
func (f *fakeSignaling) OnRoomFull(fn func(string)) func() { return f.full.Add(fn) }

func (f *fakeSignaling) Disconnect() {
	f.mu.Lock()
	f.disconnects++
	f.connected = false
	f.mu.Unlock()
	f.log.stopped()
	f.log.add("disconnect")
	f.participants.Clear()
	f.joined.Clear()
	f.left.Clear()
	f.mediaChanged.Clear()
	f.errs.Clear()
	f.full.Clear()
}

func (f *fakeSignaling) counts() (connects, disconnects, joins, leaves int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.disconnects, len(f.joins), len(f.leaves)
}

func (f *fakeSignaling) states() [][2]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][2]bool(nil), f.mediaStates...)
}

type incomingCall struct {
	peer   domain.PeerID
	stream *media.RemoteStream
}

type fakeTransport struct {
	// block makes Call wait for settle, CloseCall or ctx.
	block bool
	log   *callLog

	mu       sync.Mutex
	inits    int
	destroys int
	initErr  error
	local    *media.LocalStream
	calls    []domain.PeerID
	closed   []domain.PeerID
	gates    map[domain.PeerID]chan error
	closing  map[domain.PeerID]chan struct{}
	incoming core.Observers[incomingCall]
}

func newFakeTransport(block bool) *fakeTransport {
	return &fakeTransport{
		block:   block,
		gates:   make(map[domain.PeerID]chan error),
		closing: make(map[domain.PeerID]chan struct{}),
	}
}

func (f *fakeTransport) Initialize(context.Context, domain.PeerID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits++
	return f.initErr
}

func (f *fakeTransport) SetLocalStream(s *media.LocalStream) {
	f.mu.Lock()
	f.local = s
	f.mu.Unlock()
}

func (f *fakeTransport) Call(ctx context.Context, peer domain.PeerID, _ *media.LocalStream) (*media.RemoteStream, error) {
	f.mu.Lock()
	f.calls = append(f.calls, peer)
	if !f.block {
		f.mu.Unlock()
		return media.NewRemoteStream(string(peer)), nil
	}
	gate := make(chan error, 1)
	closing := make(chan struct{})
	f.gates[peer] = gate
	f.closing[peer] = closing
	f.mu.Unlock()

	select {
	case err := <-gate:
		if err != nil {
			return nil, err
		}
		return media.NewRemoteStream(string(peer)), nil
	case <-closing:
		return nil, errFakeClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// settle completes a blocked call to peer.
func (f *fakeTransport) settle(peer domain.PeerID, err error) {
	f.mu.Lock()
	gate := f.gates[peer]
	delete(f.gates, peer)
	f.mu.Unlock()
	if gate != nil {
		gate <- err
	}
}

func (f *fakeTransport) OnCall(fn func(domain.PeerID, *media.RemoteStream)) func() {
	return f.incoming.Add(func(c incomingCall) { fn(c.peer, c.stream) })
}

func (f *fakeTransport) ring(peer domain.PeerID) *media.RemoteStream {
	s := media.NewRemoteStream(string(peer))
	f.incoming.Emit(incomingCall{peer: peer, stream: s})
	return s
}

func (f *fakeTransport) CloseCall(peer domain.PeerID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, peer)
	if ch, ok := f.closing[peer]; ok {
		close(ch)
		delete(f.closing, peer)
	}
}

func (f *fakeTransport) CloseAllCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for peer, ch := range f.closing {
		close(ch)
		delete(f.closing, peer)
	}
}

func (f *fakeTransport) Destroy() {
	f.log.stopped()
	f.log.add("destroy")
	f.CloseAllCalls()
	f.mu.Lock()
	f.destroys++
	f.mu.Unlock()
	f.incoming.Clear()
}

func (f *fakeTransport) callsTo(peer domain.PeerID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.calls {
		if p == peer {
			n++
		}
	}
	return n
}

func (f *fakeTransport) closedCalls() []domain.PeerID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.PeerID(nil), f.closed...)
}

func (f *fakeTransport) counts() (inits, destroys int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inits, f.destroys
}

type fakeMedia struct {
	mu    sync.Mutex
	calls int
	err   error
	// gate, when set, holds GetUserMedia until closed or ctx is done.
	gate    chan struct{}
	entered chan struct{}
	streams []*media.LocalStream
}

func (f *fakeMedia) GetUserMedia(ctx context.Context, c media.Constraints) (*media.LocalStream, error) {
	f.mu.Lock()
	f.calls++
	gate, entered, err := f.gate, f.entered, f.err
	f.mu.Unlock()

	if entered != nil {
		close(entered)
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	s, err := media.NullSource{}.GetUserMedia(ctx, c)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.streams = append(f.streams, s)
	f.mu.Unlock()
	return s, nil
}

// last is the most recently acquired stream.
func (f *fakeMedia) last() *media.LocalStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.streams) == 0 {
		return nil
	}
	return f.streams[len(f.streams)-1]
}

func (f *fakeMedia) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePreview struct {
	mu       sync.Mutex
	attached *media.LocalStream
}

func (p *fakePreview) Attach(s *media.LocalStream) {
	p.mu.Lock()
	p.attached = s
	p.mu.Unlock()
}

// harness builds coordinators whose collaborators are recorded per join.
type harness struct {
	media   *fakeMedia
	preview *fakePreview
	block   bool
	// factoriesHook adjusts every new transport before use.
	factoriesHook func(*fakeTransport)
	// signalingHook adjusts every new signaling client before use.
	signalingHook func(*fakeSignaling)
	log           *callLog

	mu         sync.Mutex
	signals    []*fakeSignaling
	transports []*fakeTransport
}

func newHarness(block bool) *harness {
	h := &harness{media: &fakeMedia{}, preview: &fakePreview{}, block: block, log: &callLog{}}
	h.log.local = h.media.last
	return h
}

func (h *harness) factories() Factories {
	return Factories{
		Media:       h.media,
		Constraints: media.DefaultConstraints,
		NewSignaling: func() core.SignalingClient {
			s := &fakeSignaling{log: h.log}
			if h.signalingHook != nil {
				h.signalingHook(s)
			}
			h.mu.Lock()
			h.signals = append(h.signals, s)
			h.mu.Unlock()
			return s
		},
		NewTransport: func() core.PeerTransport {
			t := newFakeTransport(h.block)
			t.log = h.log
			if h.factoriesHook != nil {
				h.factoriesHook(t)
			}
			h.mu.Lock()
			h.transports = append(h.transports, t)
			h.mu.Unlock()
			return t
		},
		Preview: h.preview,
	}
}

func (h *harness) coordinator(roomID domain.RoomID) *Coordinator {
	f := h.factories()
	return New(Options{
		RoomID:       roomID,
		User:         domain.User{ID: "me", Name: "Me"},
		Media:        f.Media,
		Constraints:  f.Constraints,
		NewSignaling: f.NewSignaling,
		NewTransport: f.NewTransport,
		Preview:      f.Preview,
	})
}

func (h *harness) sig() *fakeSignaling {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.signals[len(h.signals)-1]
}

func (h *harness) tr() *fakeTransport {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.transports[len(h.transports)-1]
}
