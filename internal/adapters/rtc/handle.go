package rtc

import (
	"context"
	"time"

	"github.com/dkeye/meetclient/internal/media"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// handle routes broker frames addressed to this peer.
func (t *Transport) handle(m message) {
	switch m.Type {
	case msgOffer:
		t.handleOffer(m)
	case msgAnswer:
		t.handleAnswer(m)
	case msgCandidate:
		t.handleCandidate(m)
	case msgLeave, msgExpire:
		log.Info().Str("module", "rtc").Str("peer", string(m.Src)).Str("type", m.Type).Msg("peer unreachable")
		t.CloseCall(m.Src)
	default:
		log.Debug().Str("module", "rtc").Str("type", m.Type).Msg("unhandled broker frame")
	}
}

func settled(c *mediaCall) bool {
	select {
	case <-c.ready:
		return true
	default:
		return false
	}
}

// handleOffer answers an inbound call. When both sides dial each other at
// once, the offer from the lower peer id wins and the other side's pending
// Call resolves with the answered connection.
func (t *Transport) handleOffer(m message) {
	if m.Payload == nil || m.Payload.SDP == nil {
		log.Warn().Str("module", "rtc").Str("peer", string(m.Src)).Msg("offer without sdp")
		return
	}
	if m.Payload.Type != "" && m.Payload.Type != connectionTypeMedia {
		log.Debug().Str("module", "rtc").Str("peer", string(m.Src)).Str("connection_type", m.Payload.Type).Msg("non-media offer ignored")
		return
	}
	peer, connID := m.Src, m.Payload.ConnectionID
	logger := log.With().Str("module", "rtc").Str("peer", string(peer)).Str("connection_id", connID).Logger()

	t.mu.Lock()
	b := t.broker
	if b == nil {
		t.mu.Unlock()
		return
	}
	existing := t.calls[peer]
	call := &mediaCall{peer: peer, ready: make(chan struct{})}
	var old *Connection
	if existing != nil {
		old = existing.conn
		if existing.outbound && !settled(existing) {
			if t.id < peer {
				t.mu.Unlock()
				logger.Debug().Msg("simultaneous offers, keeping ours")
				return
			}
			call = existing
		}
	}
	conn, err := t.newConnection(call, connID)
	if err != nil {
		t.mu.Unlock()
		logger.Error().Err(err).Msg("create peer connection")
		return
	}
	call.conn = conn
	call.connID = connID
	t.calls[peer] = call
	local := t.local
	t.mu.Unlock()

	if old != nil {
		old.Close()
	}
	logger.Info().Bool("replaces_outbound", call == existing).Msg("incoming call")

	time.AfterFunc(t.cfg.CallTimeout, func() {
		t.mu.Lock()
		stale := call.conn != conn
		t.mu.Unlock()
		if !stale && !settled(call) {
			logger.Warn().Msg("incoming call timed out")
			t.drop(call, ErrCallTimeout)
		}
	})
	go t.answer(call, conn, b, local, *m.Payload.SDP)
}

func (t *Transport) answer(call *mediaCall, conn *Connection, b *broker, local *media.LocalStream, offer webrtc.SessionDescription) {
	logger := log.With().Str("module", "rtc").Str("peer", string(call.peer)).Str("connection_id", conn.ConnectionID()).Logger()
	fail := func(err error) {
		t.mu.Lock()
		current := call.conn == conn
		t.mu.Unlock()
		if current {
			t.drop(call, err)
		}
	}

	if local == nil {
		local = t.acquireLocal(b)
	}
	if err := conn.AddLocalStream(local); err != nil {
		logger.Error().Err(err).Msg("add local stream")
		fail(err)
		return
	}
	answer, err := conn.ApplyOfferAndCreateAnswer(offer)
	if err != nil {
		logger.Error().Err(err).Msg("apply offer")
		fail(err)
		return
	}
	if err := b.send(message{
		Type: msgAnswer,
		Dst:  call.peer,
		Payload: &payload{
			SDP:          &answer,
			Type:         connectionTypeMedia,
			ConnectionID: conn.ConnectionID(),
		},
	}); err != nil {
		logger.Error().Err(err).Msg("send answer")
		fail(err)
		return
	}
	conn.Signaled()
	logger.Info().Msg("answer sent")
}

// acquireLocal lazily gets a stream for answering. The transport owns it and
// stops it on Destroy. Returns nil to answer receive-only.
func (t *Transport) acquireLocal(b *broker) *media.LocalStream {
	if t.acquire == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.CallTimeout)
	defer cancel()
	stream, err := t.acquire(ctx)
	if err != nil {
		log.Warn().Err(err).Str("module", "rtc").Msg("no local media for answering, receive only")
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.broker != b:
		stream.Stop()
		return nil
	case t.local != nil:
		stream.Stop()
		return t.local
	default:
		t.owned = stream
		t.local = stream
		return stream
	}
}

func (t *Transport) lookup(m message) (*mediaCall, *Connection, bool) {
	if m.Payload == nil {
		return nil, nil, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	call, ok := t.calls[m.Src]
	if !ok || call.connID != m.Payload.ConnectionID {
		return nil, nil, false
	}
	return call, call.conn, true
}

func (t *Transport) handleAnswer(m message) {
	call, conn, ok := t.lookup(m)
	if !ok || m.Payload.SDP == nil {
		log.Debug().Str("module", "rtc").Str("peer", string(m.Src)).Msg("answer for unknown call")
		return
	}
	if err := conn.ApplyAnswer(*m.Payload.SDP); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("peer", string(m.Src)).Msg("apply answer")
		t.drop(call, err)
	}
}

func (t *Transport) handleCandidate(m message) {
	_, conn, ok := t.lookup(m)
	if !ok || m.Payload.Candidate == nil {
		log.Debug().Str("module", "rtc").Str("peer", string(m.Src)).Msg("candidate for unknown call")
		return
	}
	if err := conn.AddICECandidate(*m.Payload.Candidate); err != nil {
		log.Warn().Err(err).Str("module", "rtc").Str("peer", string(m.Src)).Msg("add candidate")
	}
}
