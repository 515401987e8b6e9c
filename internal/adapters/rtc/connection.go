package rtc

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/dkeye/meetclient/internal/domain"
	"github.com/dkeye/meetclient/internal/media"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const pliInterval = 3 * time.Second

// Connection is one peer connection of a media call.
// Remote candidates are queued until the remote description is known; local
// candidates are held until the description carrying them was sent.
type Connection struct {
	pc     *webrtc.PeerConnection
	peer   domain.PeerID
	connID string
	log    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu                sync.Mutex
	remoteSet         bool
	pendingCandidates []webrtc.ICECandidateInit
	signaled          bool
	localCandidates   []webrtc.ICECandidateInit

	remote     *media.RemoteStream
	streamOnce sync.Once
	closeOnce  sync.Once

	onICE    func(webrtc.ICECandidateInit)
	onStream func(*media.RemoteStream)
	onClosed func()
}

func NewConnection(api *webrtc.API, cfg webrtc.Configuration, peer domain.PeerID, connID string) (*Connection, error) {
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		pc:     pc,
		peer:   peer,
		connID: connID,
		log:    log.With().Str("module", "rtc").Str("peer", string(peer)).Str("connection_id", connID).Logger(),
		ctx:    ctx,
		cancel: cancel,
		remote: media.NewRemoteStream(string(peer)),
	}, nil
}

func (c *Connection) ConnectionID() string { return c.connID }

// OnICECandidate sets the callback for gathered local candidates. Call before Start.
func (c *Connection) OnICECandidate(fn func(webrtc.ICECandidateInit)) { c.onICE = fn }

// OnRemoteStream fires once, on the first remote track. Call before Start.
func (c *Connection) OnRemoteStream(fn func(*media.RemoteStream)) { c.onStream = fn }

// OnClosed fires once when the connection fails or is closed. Call before Start.
func (c *Connection) OnClosed(fn func()) { c.onClosed = fn }

func (c *Connection) Start() {
	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.log.Debug().Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.log.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			c.Close()
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil || c.onICE == nil {
			return
		}
		ci := cand.ToJSON()
		c.mu.Lock()
		if !c.signaled {
			c.localCandidates = append(c.localCandidates, ci)
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		c.onICE(ci)
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.log.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		c.remote.AddTrack(track)
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			go c.pliLoop(track.SSRC())
		}
		c.streamOnce.Do(func() {
			if c.onStream != nil {
				c.onStream(c.remote)
			}
		})
	})
}

// AddLocalStream sends every local track. A nil stream negotiates receive-only media.
func (c *Connection) AddLocalStream(local *media.LocalStream) error {
	if local == nil {
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
			if _, err := c.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			}); err != nil {
				return err
			}
		}
		return nil
	}
	for _, t := range local.Tracks() {
		sender, err := c.pc.AddTrack(t.Track())
		if err != nil {
			return err
		}
		go c.readRTCP(sender)
	}
	return nil
}

// CreateOffer sets and returns the local offer. Candidates trickle through OnICECandidate.
func (c *Connection) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

func (c *Connection) ApplyAnswer(answer webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(answer); err != nil {
		return err
	}
	return c.flushCandidates()
}

func (c *Connection) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.flushCandidates(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (c *Connection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	c.mu.Lock()
	if !c.remoteSet {
		c.pendingCandidates = append(c.pendingCandidates, ci)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.pc.AddICECandidate(ci)
}

func (c *Connection) flushCandidates() error {
	c.mu.Lock()
	c.remoteSet = true
	pending := c.pendingCandidates
	c.pendingCandidates = nil
	c.mu.Unlock()
	for _, ci := range pending {
		if err := c.pc.AddICECandidate(ci); err != nil {
			return err
		}
	}
	return nil
}

// Signaled releases local candidates gathered so far and lets later ones
// through directly. Call it once the offer or answer is on its way.
func (c *Connection) Signaled() {
	c.mu.Lock()
	c.signaled = true
	held := c.localCandidates
	c.localCandidates = nil
	c.mu.Unlock()
	if c.onICE == nil {
		return
	}
	for _, ci := range held {
		c.onICE(ci)
	}
}

// Close tears the peer connection down and fires OnClosed once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.remote.Close()
		if err := c.pc.Close(); err != nil {
			c.log.Error().Err(err).Msg("close error")
		} else {
			c.log.Info().Msg("closed")
		}
		if c.onClosed != nil {
			c.onClosed()
		}
	})
}

func (c *Connection) Done() <-chan struct{} { return c.ctx.Done() }

// readRTCP drains sender feedback so interceptors keep working.
func (c *Connection) readRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// pliLoop asks the remote for a keyframe periodically.
func (c *Connection) pliLoop(ssrc webrtc.SSRC) {
	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			err := c.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(ssrc)}})
			if errors.Is(err, io.ErrClosedPipe) {
				return
			}
			if err != nil {
				c.log.Debug().Err(err).Msg("PLI write failed")
			}
		}
	}
}
