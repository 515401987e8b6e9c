package app

import (
	"encoding/json"
	"slices"
	"strings"
	"sync"

	"github.com/dkeye/meetclient/internal/domain"
	"github.com/dkeye/meetclient/internal/media"
	"github.com/rs/zerolog/log"
)

// Member is one roster entry. Stream is owned by the entry while present.
type Member struct {
	domain.Participant
	Stream *media.RemoteStream
}

func (m Member) MarshalJSON() ([]byte, error) {
	type view struct {
		domain.Participant
		HasStream bool   `json:"hasStream"`
		Packets   uint64 `json:"packets,omitempty"`
	}
	v := view{Participant: m.Participant}
	if m.Stream != nil {
		v.HasStream = true
		v.Packets = m.Stream.Packets()
	}
	return json.Marshal(v)
}

// Roster is the participant registry of one call session, keyed by SocketID.
// Several entries may share a PeerID.
type Roster struct {
	mu      sync.RWMutex
	members map[domain.SocketID]*Member
}

func NewRoster() *Roster {
	return &Roster{members: make(map[domain.SocketID]*Member)}
}

// Put inserts or replaces the entry for p.SocketID. An existing stream survives
// when the entry still addresses the same peer.
func (r *Roster) Put(p domain.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.members[p.SocketID]; ok {
		if old.PeerID == p.PeerID {
			old.Participant = p
			return
		}
		closeStream(old)
	}
	r.members[p.SocketID] = &Member{Participant: p}
	log.Debug().Str("module", "app.roster").Str("socket_id", string(p.SocketID)).Str("peer", string(p.PeerID)).Msg("member added")
}

// Remove drops the entry and closes its stream. Reports whether it existed.
func (r *Roster) Remove(sid domain.SocketID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[sid]
	if !ok {
		return false
	}
	closeStream(m)
	delete(r.members, sid)
	log.Debug().Str("module", "app.roster").Str("socket_id", string(sid)).Msg("member removed")
	return true
}

func (r *Roster) Get(sid domain.SocketID) (Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[sid]
	if !ok {
		return Member{}, false
	}
	return *m, true
}

// FirstByPeer scans entries in SocketID order and returns the first with peerID.
func (r *Roster) FirstByPeer(peerID domain.PeerID) (Member, bool) {
	for _, m := range r.Snapshot() {
		if m.PeerID == peerID {
			return m, true
		}
	}
	return Member{}, false
}

// AttachStream sets the stream of an existing entry. Absent entries are not created.
func (r *Roster) AttachStream(sid domain.SocketID, stream *media.RemoteStream) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[sid]
	if !ok {
		return false
	}
	if m.Stream != nil && m.Stream != stream {
		m.Stream.Close()
	}
	m.Stream = stream
	return true
}

// PatchMedia updates the media flags in place. Absent entries are not created.
func (r *Roster) PatchMedia(st domain.MediaState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[st.SocketID]
	if !ok {
		return false
	}
	m.IsAudioEnabled = st.IsAudioEnabled
	m.IsVideoEnabled = st.IsVideoEnabled
	return true
}

func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Clear empties the roster and closes every stream.
func (r *Roster) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for sid, m := range r.members {
		closeStream(m)
		delete(r.members, sid)
	}
}

// Snapshot returns copies of all entries sorted by SocketID.
func (r *Roster) Snapshot() []Member {
	r.mu.RLock()
	out := make([]Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, *m)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b Member) int {
		return strings.Compare(string(a.SocketID), string(b.SocketID))
	})
	return out
}

func closeStream(m *Member) {
	if m.Stream != nil {
		m.Stream.Close()
		m.Stream = nil
	}
}
