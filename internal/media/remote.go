package media

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// RemoteTrack is the read side of a negotiated remote track. *webrtc.TrackRemote satisfies it.
type RemoteTrack interface {
	ID() string
	Kind() webrtc.RTPCodecType
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// RemoteStream holds the remote media of one peer connection.
type RemoteStream struct {
	id string

	mu     sync.RWMutex
	tracks []RemoteTrack

	packets    atomic.Uint64
	bytes      atomic.Uint64
	lastPacket atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
}

func NewRemoteStream(id string) *RemoteStream {
	ctx, cancel := context.WithCancel(context.Background())
	return &RemoteStream{id: id, ctx: ctx, cancel: cancel}
}

func (s *RemoteStream) ID() string { return s.id }

// AddTrack registers a track and starts draining it.
func (s *RemoteStream) AddTrack(track RemoteTrack) {
	s.mu.Lock()
	s.tracks = append(s.tracks, track)
	s.mu.Unlock()
	go s.drain(track)
}

func (s *RemoteStream) Tracks() []RemoteTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RemoteTrack, len(s.tracks))
	copy(out, s.tracks)
	return out
}

func (s *RemoteStream) Packets() uint64 { return s.packets.Load() }
func (s *RemoteStream) Bytes() uint64   { return s.bytes.Load() }

func (s *RemoteStream) LastPacketAt() time.Time {
	ns := s.lastPacket.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (s *RemoteStream) Done() <-chan struct{} { return s.ctx.Done() }

// Close stops the drains. Tracks end on their own when the peer connection closes.
func (s *RemoteStream) Close() { s.cancel() }

// drain reads RTP packets from the track until it ends or the stream is closed.
func (s *RemoteStream) drain(track RemoteTrack) {
	logger := log.With().
		Str("module", "media").
		Str("stream", s.id).
		Str("track", track.ID()).
		Str("kind", track.Kind().String()).
		Logger()
	for {
		select {
		case <-s.ctx.Done():
			logger.Debug().Msg("remote stream closed, stop draining")
			return
		default:
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			logger.Debug().Err(err).Msg("remote track ended")
			return
		}
		s.packets.Add(1)
		s.bytes.Add(uint64(len(pkt.Payload)))
		s.lastPacket.Store(time.Now().UnixNano())
	}
}
