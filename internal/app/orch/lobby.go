package orch

import (
	"context"
	"sync"

	"github.com/dkeye/meetclient/internal/core"
	"github.com/dkeye/meetclient/internal/domain"
	"github.com/dkeye/meetclient/internal/media"
	"github.com/rs/zerolog/log"
)

// Factories are shared by every coordinator a Lobby builds.
type Factories struct {
	Media        core.MediaSource
	Constraints  media.Constraints
	NewSignaling func() core.SignalingClient
	NewTransport func() core.PeerTransport
	Preview      core.Preview
}

// Lobby keeps at most one call session for the process.
type Lobby struct {
	f Factories

	mu      sync.Mutex
	current *Coordinator
}

func NewLobby(f Factories) *Lobby {
	return &Lobby{f: f}
}

// Join joins roomID as user. A repeated join of the current room by the same
// user goes to the current coordinator, where it is a no-op while joining or
// active. Any other join closes the current coordinator and starts a new one.
// The coordinator is returned even when the join fails so its error state stays visible.
func (l *Lobby) Join(ctx context.Context, roomID domain.RoomID, user domain.User, credential string) (*Coordinator, error) {
	l.mu.Lock()
	if cur := l.current; cur != nil && cur.RoomID() == roomID && cur.User() == user && !cur.isClosed() {
		l.mu.Unlock()
		log.Debug().Str("module", "orch").Str("room", string(roomID)).Str("user", string(user.ID)).Msg("join routed to current session")
		return cur, cur.JoinRoom(ctx)
	}
	l.mu.Unlock()

	c := New(Options{
		RoomID:       roomID,
		User:         user,
		Credential:   credential,
		Media:        l.f.Media,
		Constraints:  l.f.Constraints,
		NewSignaling: l.f.NewSignaling,
		NewTransport: l.f.NewTransport,
		Preview:      l.f.Preview,
	})

	l.mu.Lock()
	prev := l.current
	l.current = c
	l.mu.Unlock()

	if prev != nil {
		log.Info().Str("module", "orch").Str("from_room", string(prev.RoomID())).Str("room", string(roomID)).Msg("switching rooms")
		prev.Close()
	}
	return c, c.JoinRoom(ctx)
}

// Current returns the coordinator of the last Join.
func (l *Lobby) Current() (*Coordinator, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current, l.current != nil
}

// Leave ends the current call. The coordinator stays current so its state remains readable.
func (l *Lobby) Leave() {
	if c, ok := l.Current(); ok {
		c.LeaveRoom()
	}
}

// Close ends the current session for good.
func (l *Lobby) Close() {
	l.mu.Lock()
	c := l.current
	l.current = nil
	l.mu.Unlock()
	if c != nil {
		c.Close()
	}
}
