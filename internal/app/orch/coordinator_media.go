package orch

import (
	"slices"

	"github.com/dkeye/meetclient/internal/domain"
	"github.com/dkeye/meetclient/internal/media"
	"github.com/pion/webrtc/v4"
)

// callParticipant dials p unless a call to the same peer is already in flight.
// The pending check and insert happen under one lock so duplicate roster events
// cannot start a second negotiation.
func (c *Coordinator) callParticipant(sess *session, p domain.Participant) {
	logger := c.log.With().Str("session", sess.id).Str("peer", string(p.PeerID)).Str("socket_id", string(p.SocketID)).Logger()
	if p.PeerID == "" {
		logger.Debug().Msg("participant without peer id, not calling")
		return
	}
	if p.PeerID == c.opts.User.PeerID() {
		logger.Debug().Msg("skip calling self")
		return
	}

	c.mu.Lock()
	if c.sess != sess {
		c.mu.Unlock()
		return
	}
	if _, busy := sess.pending[p.PeerID]; busy {
		c.mu.Unlock()
		logger.Debug().Msg("call already pending")
		return
	}
	sess.pending[p.PeerID] = struct{}{}
	c.mu.Unlock()

	local := sess.local.Load()
	go func() {
		defer c.settleCall(sess, p.PeerID)

		logger.Info().Str("name", p.DisplayName).Msg("calling participant")
		stream, err := sess.transport.Call(sess.ctx, p.PeerID, local)
		if err != nil {
			logger.Warn().Err(err).Msg("call failed")
			return
		}
		if !c.owns(sess) || !sess.roster.AttachStream(p.SocketID, stream) {
			logger.Debug().Msg("participant gone before call settled, dropping stream")
			stream.Close()
			return
		}
		logger.Info().Msg("call connected")
		c.publish()
	}()
}

func (c *Coordinator) settleCall(sess *session, peer domain.PeerID) {
	c.mu.Lock()
	delete(sess.pending, peer)
	c.mu.Unlock()
}

// pendingCalls lists peers with an outbound call in flight.
func (c *Coordinator) pendingCalls() []domain.PeerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	out := make([]domain.PeerID, 0, len(c.sess.pending))
	for p := range c.sess.pending {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// onIncomingStream attaches an answered call to the first roster entry of that peer.
// Streams from peers not in the roster yet are dropped.
func (c *Coordinator) onIncomingStream(sess *session, peer domain.PeerID, stream *media.RemoteStream) {
	logger := c.log.With().Str("session", sess.id).Str("peer", string(peer)).Logger()
	if !c.owns(sess) {
		stream.Close()
		return
	}
	m, ok := sess.roster.FirstByPeer(peer)
	if !ok || !sess.roster.AttachStream(m.SocketID, stream) {
		logger.Debug().Msg("incoming stream from unknown participant dropped")
		stream.Close()
		return
	}
	logger.Info().Str("socket_id", string(m.SocketID)).Msg("incoming call connected")
	c.publish()
}

func (c *Coordinator) ToggleAudio() { c.toggle(webrtc.RTPCodecTypeAudio) }
func (c *Coordinator) ToggleVideo() { c.toggle(webrtc.RTPCodecTypeVideo) }

// toggle flips the first local track of kind and broadcasts both flags.
func (c *Coordinator) toggle(kind webrtc.RTPCodecType) {
	c.mu.Lock()
	sess := c.sess
	if sess == nil {
		c.mu.Unlock()
		return
	}
	local := sess.local.Load()
	if local == nil {
		c.mu.Unlock()
		return
	}
	tracks := local.AudioTracks()
	if kind == webrtc.RTPCodecTypeVideo {
		tracks = local.VideoTracks()
	}
	if len(tracks) == 0 {
		c.mu.Unlock()
		return
	}
	t := tracks[0]
	t.SetEnabled(!t.Enabled())
	if kind == webrtc.RTPCodecTypeVideo {
		c.videoEnabled = t.Enabled()
	} else {
		c.audioEnabled = t.Enabled()
	}
	audio, video := c.audioEnabled, c.videoEnabled
	c.mu.Unlock()

	c.log.Info().Str("kind", kind.String()).Bool("audio", audio).Bool("video", video).Msg("local media toggled")
	if err := sess.signaling.UpdateMediaState(c.opts.RoomID, audio, video); err != nil {
		c.log.Warn().Err(err).Msg("media state not broadcast")
	}
	c.publish()
}
