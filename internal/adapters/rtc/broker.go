package rtc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/dkeye/meetclient/internal/adapters/wsconn"
	"github.com/dkeye/meetclient/internal/domain"
	"github.com/pion/randutil"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Broker frame types.
const (
	msgOpen       = "OPEN"
	msgIDTaken    = "ID-TAKEN"
	msgInvalidKey = "INVALID-KEY"
	msgError      = "ERROR"
	msgOffer      = "OFFER"
	msgAnswer     = "ANSWER"
	msgCandidate  = "CANDIDATE"
	msgLeave      = "LEAVE"
	msgExpire     = "EXPIRE"
	msgHeartbeat  = "HEARTBEAT"
)

const (
	connectionTypeMedia = "media"
	tokenRunes          = "abcdefghijklmnopqrstuvwxyz0123456789"
)

type message struct {
	Type    string        `json:"type"`
	Src     domain.PeerID `json:"src,omitempty"`
	Dst     domain.PeerID `json:"dst,omitempty"`
	Payload *payload      `json:"payload,omitempty"`
}

type payload struct {
	SDP          *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate    *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	Type         string                     `json:"type,omitempty"`
	ConnectionID string                     `json:"connectionId,omitempty"`
	Msg          string                     `json:"msg,omitempty"`
}

// broker is the signaling channel of the peer transport. One per claimed id.
type broker struct {
	id   domain.PeerID
	conn *wsconn.Conn
}

// dialBroker claims id and returns once the broker confirms it with OPEN.
// Every frame after that goes to handle on the read goroutine.
func dialBroker(ctx context.Context, cfg Config, id domain.PeerID, handle func(message), onLost func(error)) (*broker, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("broker url: %w", err)
	}
	token, err := randutil.GenerateCryptoRandomString(16, tokenRunes)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("key", cfg.Key)
	q.Set("id", string(id))
	q.Set("token", token)
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(ctx, cfg.OpenTimeout)
	defer cancel()

	conn, err := wsconn.Dial(ctx, u.String(), nil, wsconn.Options{Module: "rtc", WriteWait: cfg.WriteWait})
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}

	opened := make(chan error, 1)
	settle := func(err error) {
		select {
		case opened <- err:
		default:
		}
	}
	isOpen := false
	conn.Run(func(data []byte) {
		var m message
		if err := json.Unmarshal(data, &m); err != nil {
			log.Error().Err(err).Str("module", "rtc").Msg("bad broker frame")
			return
		}
		switch m.Type {
		case msgOpen:
			isOpen = true
			settle(nil)
		case msgIDTaken:
			settle(ErrAddressTaken)
		case msgInvalidKey:
			settle(ErrInvalidKey)
		case msgError:
			reason := ""
			if m.Payload != nil {
				reason = m.Payload.Msg
			}
			if !isOpen {
				settle(fmt.Errorf("broker error: %s", reason))
				return
			}
			log.Warn().Str("module", "rtc").Str("reason", reason).Msg("broker error")
		default:
			if isOpen {
				handle(m)
			}
		}
	}, func(err error) {
		settle(fmt.Errorf("broker closed before open: %w", err))
		if isOpen && err != nil && onLost != nil {
			onLost(err)
		}
	})

	select {
	case err := <-opened:
		if err != nil {
			conn.Close()
			return nil, err
		}
	case <-ctx.Done():
		conn.Close()
		return nil, fmt.Errorf("wait for broker open: %w", ctx.Err())
	}

	b := &broker{id: id, conn: conn}
	go b.heartbeat(cfg.HeartbeatPeriod)
	log.Info().Str("module", "rtc").Str("peer", string(id)).Msg("peer id claimed")
	return b, nil
}

func (b *broker) heartbeat(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-b.conn.Done():
			return
		case <-ticker.C:
			if err := b.conn.SendJSON(message{Type: msgHeartbeat}); err != nil {
				log.Debug().Err(err).Str("module", "rtc").Msg("heartbeat not sent")
			}
		}
	}
}

func (b *broker) send(m message) error {
	return b.conn.SendJSON(m)
}

func (b *broker) alive() bool {
	select {
	case <-b.conn.Done():
		return false
	default:
		return true
	}
}

func (b *broker) close() {
	b.conn.Close()
}
