package signal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/dkeye/meetclient/internal/adapters/wsconn"
	"github.com/dkeye/meetclient/internal/core"
	"github.com/dkeye/meetclient/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrNotConnected = errors.New("signaling not connected")

type Config struct {
	URL        string
	PingPeriod time.Duration
	WriteWait  time.Duration
	ReadLimit  int64
}

// Client speaks the room signaling protocol over one WebSocket.
// It implements core.SignalingClient.
type Client struct {
	cfg Config

	mu     sync.Mutex
	conn   *wsconn.Conn
	userID domain.UserID

	participants core.Observers[[]domain.Participant]
	joined       core.Observers[domain.Participant]
	left         core.Observers[domain.ParticipantLeft]
	mediaChanged core.Observers[domain.MediaState]
	errs         core.Observers[string]
	full         core.Observers[string]
}

var _ core.SignalingClient = (*Client)(nil)

func NewClient(cfg Config) *Client {
	return &Client{cfg: cfg}
}

// Connect dials the signaling service as userID. It is a no-op while connected.
func (c *Client) Connect(ctx context.Context, userID domain.UserID, credential string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		select {
		case <-c.conn.Done():
		default:
			log.Debug().Str("module", "signal").Str("user", string(userID)).Msg("already connected")
			return nil
		}
	}

	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("signaling url: %w", err)
	}
	q := u.Query()
	q.Set("userId", string(userID))
	u.RawQuery = q.Encode()

	header := http.Header{}
	if credential != "" {
		header.Set("Authorization", "Bearer "+credential)
	}

	conn, err := wsconn.Dial(ctx, u.String(), header, wsconn.Options{
		Module:     "signal",
		WriteWait:  c.cfg.WriteWait,
		PingPeriod: c.cfg.PingPeriod,
		ReadLimit:  c.cfg.ReadLimit,
	})
	if err != nil {
		return fmt.Errorf("dial signaling: %w", err)
	}
	c.conn = conn
	c.userID = userID
	conn.Run(c.dispatch, func(err error) { c.onConnClosed(conn, err) })

	log.Info().Str("module", "signal").Str("user", string(userID)).Str("url", c.cfg.URL).Msg("signaling connected")
	return nil
}

func (c *Client) JoinRoom(roomID domain.RoomID, displayName string) error {
	return c.send(EventJoinRoom, JoinRoomData{RoomID: roomID, DisplayName: displayName})
}

func (c *Client) LeaveRoom(roomID domain.RoomID) error {
	return c.send(EventLeaveRoom, LeaveRoomData{RoomID: roomID})
}

func (c *Client) UpdateMediaState(roomID domain.RoomID, audio, video bool) error {
	return c.send(EventMediaStateChange, MediaStateChangeData{
		RoomID:         roomID,
		IsAudioEnabled: audio,
		IsVideoEnabled: video,
	})
}

func (c *Client) OnRoomParticipants(fn func([]domain.Participant)) func() {
	return c.participants.Add(fn)
}

func (c *Client) OnParticipantJoined(fn func(domain.Participant)) func() {
	return c.joined.Add(fn)
}

func (c *Client) OnParticipantLeft(fn func(domain.ParticipantLeft)) func() {
	return c.left.Add(fn)
}

func (c *Client) OnMediaStateChanged(fn func(domain.MediaState)) func() {
	return c.mediaChanged.Add(fn)
}

func (c *Client) OnError(fn func(string)) func()    { return c.errs.Add(fn) }
func (c *Client) OnRoomFull(fn func(string)) func() { return c.full.Add(fn) }

// Disconnect closes the socket and drops every handler.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn, userID := c.conn, c.userID
	c.conn = nil
	c.mu.Unlock()

	c.participants.Clear()
	c.joined.Clear()
	c.left.Clear()
	c.mediaChanged.Clear()
	c.errs.Clear()
	c.full.Clear()

	if conn != nil {
		conn.Close()
		log.Info().Str("module", "signal").Str("user", string(userID)).Msg("signaling disconnected")
	}
}

func (c *Client) send(event string, data any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	b, err := encode(event, data)
	if err != nil {
		return err
	}
	if err := conn.TrySend(b); err != nil {
		if errors.Is(err, wsconn.ErrClosed) {
			return ErrNotConnected
		}
		return fmt.Errorf("send %s: %w", event, err)
	}
	log.Debug().Str("module", "signal").Str("event", event).Msg("sent")
	return nil
}

// onConnClosed reports a transport loss that nobody asked for.
func (c *Client) onConnClosed(conn *wsconn.Conn, err error) {
	c.mu.Lock()
	current := c.conn == conn
	if current {
		c.conn = nil
	}
	c.mu.Unlock()
	if !current || err == nil {
		return
	}
	log.Warn().Str("module", "signal").Err(err).Msg("signaling connection lost")
	c.errs.Emit("signaling connection lost")
}
