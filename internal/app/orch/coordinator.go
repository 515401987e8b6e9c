package orch

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dkeye/meetclient/internal/app"
	"github.com/dkeye/meetclient/internal/core"
	"github.com/dkeye/meetclient/internal/domain"
	"github.com/dkeye/meetclient/internal/media"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Options struct {
	RoomID     domain.RoomID
	User       domain.User
	Credential string

	Media       core.MediaSource
	Constraints media.Constraints
	// NewSignaling and NewTransport build fresh collaborators for every join.
	NewSignaling func() core.SignalingClient
	NewTransport func() core.PeerTransport
	// Preview is optional.
	Preview core.Preview
}

type phase int

const (
	phaseIdle phase = iota
	phaseJoining
	phaseActive
)

func (p phase) String() string {
	switch p {
	case phaseJoining:
		return "joining"
	case phaseActive:
		return "active"
	default:
		return "idle"
	}
}

// Snapshot is a read-only view of the call session.
type Snapshot struct {
	RoomID       domain.RoomID      `json:"roomId"`
	Phase        string             `json:"phase"`
	Connected    bool               `json:"connected"`
	AudioEnabled bool               `json:"isAudioEnabled"`
	VideoEnabled bool               `json:"isVideoEnabled"`
	Error        string             `json:"error,omitempty"`
	Participants []app.Member       `json:"participants"`
	Local        *media.LocalStream `json:"-"`
}

// session holds everything one join acquires. It is never reused.
type session struct {
	id        string
	ctx       context.Context
	cancel    context.CancelFunc
	signaling core.SignalingClient
	transport core.PeerTransport
	roster    *app.Roster
	local     atomic.Pointer[media.LocalStream]

	// guarded by Coordinator.mu
	pending map[domain.PeerID]struct{}
	unsub   []func()
}

// release frees every resource of the session in teardown order.
// Each step is idempotent, so release may run more than once.
func (s *session) release() {
	s.cancel()
	s.transport.Destroy()
	if local := s.local.Load(); local != nil {
		local.Stop()
	}
	s.signaling.Disconnect()
	s.roster.Clear()
}

// Coordinator owns one call session at a time: local media, signaling,
// peer transport and the roster. All transitions take mu; no I/O runs under it.
type Coordinator struct {
	opts Options
	log  zerolog.Logger

	mu           sync.Mutex
	phase        phase
	sess         *session
	audioEnabled bool
	videoEnabled bool
	errMsg       string
	closed       bool

	subMu sync.Mutex
	subs  map[*subscriber]struct{}
}

func New(opts Options) *Coordinator {
	return &Coordinator{
		opts:         opts,
		log:          log.With().Str("module", "orch").Str("room", string(opts.RoomID)).Logger(),
		audioEnabled: true,
		videoEnabled: true,
		subs:         make(map[*subscriber]struct{}),
	}
}

func (c *Coordinator) RoomID() domain.RoomID { return c.opts.RoomID }
func (c *Coordinator) User() domain.User     { return c.opts.User }

func (c *Coordinator) newSession() *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		id:        uuid.NewString(),
		ctx:       ctx,
		cancel:    cancel,
		signaling: c.opts.NewSignaling(),
		transport: c.opts.NewTransport(),
		roster:    app.NewRoster(),
		pending:   make(map[domain.PeerID]struct{}),
	}
}

// owns reports whether sess is still the current session.
func (c *Coordinator) owns(sess *session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess == sess
}

func (c *Coordinator) State() Snapshot {
	c.mu.Lock()
	snap := Snapshot{
		RoomID:       c.opts.RoomID,
		Phase:        c.phase.String(),
		Connected:    c.phase == phaseActive,
		AudioEnabled: c.audioEnabled,
		VideoEnabled: c.videoEnabled,
		Error:        c.errMsg,
	}
	sess := c.sess
	c.mu.Unlock()

	snap.Participants = []app.Member{}
	if sess != nil {
		snap.Participants = sess.roster.Snapshot()
		snap.Local = sess.local.Load()
	}
	return snap
}

// Subscribe delivers the latest snapshot after every change. Slow readers
// only miss intermediate values. The returned func unsubscribes.
func (c *Coordinator) Subscribe() (<-chan Snapshot, func()) {
	s := &subscriber{ch: make(chan Snapshot, 1)}
	c.subMu.Lock()
	if c.subs == nil {
		c.subMu.Unlock()
		s.close()
		return s.ch, func() {}
	}
	c.subs[s] = struct{}{}
	c.subMu.Unlock()
	s.offer(c.State())

	return s.ch, func() {
		c.subMu.Lock()
		if c.subs != nil {
			delete(c.subs, s)
		}
		c.subMu.Unlock()
		s.close()
	}
}

func (c *Coordinator) publish() {
	snap := c.State()
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for s := range c.subs {
		s.offer(snap)
	}
}

func (c *Coordinator) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close leaves the room and ends every subscription. The coordinator cannot join again.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.LeaveRoom()

	c.subMu.Lock()
	subs := c.subs
	c.subs = nil
	c.subMu.Unlock()
	for s := range subs {
		s.close()
	}
}

type subscriber struct {
	mu     sync.Mutex
	ch     chan Snapshot
	closed bool
}

// offer replaces any undelivered value. It never blocks: mu makes this the only sender.
func (s *subscriber) offer(v Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case <-s.ch:
	default:
	}
	s.ch <- v
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
