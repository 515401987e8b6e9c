package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/meetclient/internal/core"
	"github.com/dkeye/meetclient/internal/domain"
	"github.com/dkeye/meetclient/internal/media"
)

// JoinRoom acquires local media, connects signaling and the peer transport,
// registers every handler and then asks the signaling service to join.
// It is a no-op while a session is joining or active.
func (c *Coordinator) JoinRoom(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return core.ErrSessionClosed
	}
	if c.phase != phaseIdle {
		c.mu.Unlock()
		c.log.Debug().Str("phase", c.phase.String()).Msg("join skipped, session already started")
		return nil
	}
	if !c.validOptions() {
		c.errMsg = core.ErrMissingData.Error()
		c.mu.Unlock()
		c.log.Warn().Msg("join rejected, missing room, user or collaborators")
		c.publish()
		return core.ErrMissingData
	}
	sess := c.newSession()
	c.sess = sess
	c.phase = phaseJoining
	c.errMsg = ""
	c.audioEnabled, c.videoEnabled = true, true
	c.mu.Unlock()
	c.publish()

	logger := c.log.With().Str("session", sess.id).Logger()
	logger.Info().Str("user", string(c.opts.User.ID)).Msg("joining room")

	joinCtx, stop := context.WithCancel(ctx)
	defer stop()
	context.AfterFunc(sess.ctx, stop)

	// 1. local media
	local, err := c.opts.Media.GetUserMedia(joinCtx, c.opts.Constraints)
	if local != nil {
		sess.local.Store(local)
	}
	if err != nil {
		return c.failJoin(sess, fmt.Errorf("%w: %w", core.ErrMediaAccess, err))
	}
	if !c.owns(sess) {
		sess.release()
		return core.ErrSessionClosed
	}
	c.mu.Lock()
	c.audioEnabled = len(local.AudioTracks()) > 0
	c.videoEnabled = len(local.VideoTracks()) > 0
	c.mu.Unlock()
	c.publish()

	// 2. preview and answering stream
	if c.opts.Preview != nil {
		c.opts.Preview.Attach(local)
	}
	sess.transport.SetLocalStream(local)

	// 3. signaling
	if err := sess.signaling.Connect(joinCtx, c.opts.User.ID, c.opts.Credential); err != nil {
		return c.failJoin(sess, fmt.Errorf("%w: connect signaling: %w", core.ErrJoinFailed, err))
	}

	// 4. peer address
	if err := sess.transport.Initialize(joinCtx, c.opts.User.PeerID()); err != nil {
		return c.failJoin(sess, fmt.Errorf("%w: initialize transport: %w", core.ErrJoinFailed, err))
	}

	// 5, 6. handlers before the join request so no server reply is missed
	c.mu.Lock()
	if c.sess != sess {
		c.mu.Unlock()
		sess.release()
		return core.ErrSessionClosed
	}
	sess.unsub = c.bindHandlers(sess)
	c.phase = phaseActive
	c.mu.Unlock()

	// 7. join request
	if err := sess.signaling.JoinRoom(c.opts.RoomID, c.opts.User.Name); err != nil {
		return c.failJoin(sess, fmt.Errorf("%w: send join: %w", core.ErrJoinFailed, err))
	}

	// flags changed while joining could not be broadcast before the connection existed
	c.mu.Lock()
	audio, video := c.audioEnabled, c.videoEnabled
	c.mu.Unlock()
	if !audio || !video {
		if err := sess.signaling.UpdateMediaState(c.opts.RoomID, audio, video); err != nil {
			logger.Warn().Err(err).Msg("initial media state not broadcast")
		}
	}

	logger.Info().Msg("joined room")
	c.publish()
	return nil
}

func (c *Coordinator) validOptions() bool {
	o := c.opts
	return o.RoomID != "" && o.User.ID != "" && o.User.Name != "" &&
		o.Media != nil && o.NewSignaling != nil && o.NewTransport != nil
}

// failJoin releases what the join acquired and resets to idle. A session that
// was already taken away by LeaveRoom reports ErrSessionClosed instead.
func (c *Coordinator) failJoin(sess *session, err error) error {
	c.mu.Lock()
	owned := c.sess == sess
	if owned {
		c.sess = nil
		c.phase = phaseIdle
		c.errMsg = userMessage(err)
	}
	c.mu.Unlock()

	sess.release()
	if !owned {
		c.log.Debug().Str("session", sess.id).Err(err).Msg("join aborted by leave")
		return core.ErrSessionClosed
	}
	c.log.Error().Str("session", sess.id).Err(err).Msg("join failed")
	c.publish()
	return err
}

// LeaveRoom tears the session down: leave request, transport, local media,
// signaling connection, roster. It is a no-op when idle. A join still in
// progress is aborted and cleans up after itself.
func (c *Coordinator) LeaveRoom() {
	c.mu.Lock()
	sess, was := c.sess, c.phase
	if sess == nil {
		c.mu.Unlock()
		c.log.Debug().Msg("leave skipped, no session")
		return
	}
	c.sess = nil
	c.phase = phaseIdle
	c.audioEnabled, c.videoEnabled = true, true
	unsub := sess.unsub
	sess.unsub = nil
	c.mu.Unlock()

	for _, fn := range unsub {
		fn()
	}
	if was == phaseActive {
		if err := sess.signaling.LeaveRoom(c.opts.RoomID); err != nil {
			c.log.Debug().Err(err).Msg("leave request not sent")
		}
	}
	sess.release()

	c.log.Info().Str("session", sess.id).Str("phase", was.String()).Msg("left room")
	c.publish()
}

func (c *Coordinator) bindHandlers(sess *session) []func() {
	sig := sess.signaling
	return []func(){
		sig.OnRoomParticipants(func(ps []domain.Participant) { c.onRoomParticipants(sess, ps) }),
		sig.OnParticipantJoined(func(p domain.Participant) { c.onParticipantJoined(sess, p) }),
		sig.OnParticipantLeft(func(p domain.ParticipantLeft) { c.onParticipantLeft(sess, p) }),
		sig.OnMediaStateChanged(func(st domain.MediaState) { c.onMediaStateChanged(sess, st) }),
		sig.OnError(func(msg string) { c.onSignalingError(sess, msg) }),
		sig.OnRoomFull(func(msg string) { c.onRoomFull(sess, msg) }),
		sess.transport.OnCall(func(peer domain.PeerID, stream *media.RemoteStream) { c.onIncomingStream(sess, peer, stream) }),
	}
}

func (c *Coordinator) onRoomParticipants(sess *session, ps []domain.Participant) {
	if !c.owns(sess) {
		return
	}
	c.log.Info().Int("count", len(ps)).Msg("room participants")
	for _, p := range ps {
		sess.roster.Put(p)
	}
	c.publish()
	for _, p := range ps {
		c.callParticipant(sess, p)
	}
}

func (c *Coordinator) onParticipantJoined(sess *session, p domain.Participant) {
	if !c.owns(sess) {
		return
	}
	c.log.Info().Str("socket_id", string(p.SocketID)).Str("peer", string(p.PeerID)).Str("name", p.DisplayName).Msg("participant joined")
	sess.roster.Put(p)
	c.publish()
	c.callParticipant(sess, p)
}

func (c *Coordinator) onParticipantLeft(sess *session, p domain.ParticipantLeft) {
	if !c.owns(sess) {
		return
	}
	c.log.Info().Str("socket_id", string(p.SocketID)).Str("peer", string(p.PeerID)).Msg("participant left")
	sess.transport.CloseCall(p.PeerID)
	sess.roster.Remove(p.SocketID)
	c.publish()
}

func (c *Coordinator) onMediaStateChanged(sess *session, st domain.MediaState) {
	if !c.owns(sess) {
		return
	}
	if !sess.roster.PatchMedia(st) {
		c.log.Debug().Str("socket_id", string(st.SocketID)).Msg("media state for unknown participant ignored")
		return
	}
	c.publish()
}

func (c *Coordinator) onSignalingError(sess *session, msg string) {
	c.setError(sess, msg)
}

func (c *Coordinator) onRoomFull(sess *session, msg string) {
	c.log.Warn().Str("server_message", msg).Msg("room full")
	c.setError(sess, core.ErrRoomFull.Error())
}

func (c *Coordinator) setError(sess *session, msg string) {
	c.mu.Lock()
	if c.sess != sess {
		c.mu.Unlock()
		return
	}
	c.errMsg = msg
	c.mu.Unlock()
	c.log.Warn().Str("error", msg).Msg("session error")
	c.publish()
}

// userMessage maps a join error to the text shown to the user.
func userMessage(err error) string {
	switch {
	case errors.Is(err, core.ErrMissingData):
		return core.ErrMissingData.Error()
	case errors.Is(err, core.ErrMediaAccess):
		return core.ErrMediaAccess.Error()
	case errors.Is(err, core.ErrRoomFull):
		return core.ErrRoomFull.Error()
	default:
		return core.ErrJoinFailed.Error()
	}
}
