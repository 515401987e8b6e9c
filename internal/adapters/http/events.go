package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/dkeye/meetclient/internal/adapters/wsconn"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type streamOptions struct {
	pingPeriod time.Duration
	writeWait  time.Duration
}

// events streams a snapshot of the current call after every change until the
// client goes away or the session is replaced.
func (h *handlers) events(c *gin.Context) {
	coord, ok := h.current(c)
	if !ok {
		return
	}
	sid := c.GetString("client_token")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Str("module", "adapters.http").Str("sid", sid).Err(err).Msg("events upgrade failed")
		return
	}
	conn := wsconn.New(ws, wsconn.Options{
		Module:     "adapters.http",
		PingPeriod: h.stream.pingPeriod,
		WriteWait:  h.stream.writeWait,
		ReadLimit:  512,
	})
	snaps, unsubscribe := coord.Subscribe()
	conn.Run(func([]byte) {}, func(err error) {
		log.Debug().Str("module", "adapters.http").Str("sid", sid).AnErr("reason", err).Msg("events stream closed")
	})
	log.Info().Str("module", "adapters.http").Str("sid", sid).Str("room", string(coord.RoomID())).Msg("events stream opened")

	go func() {
		defer conn.Close()
		defer unsubscribe()
		for {
			select {
			case <-conn.Done():
				return
			case snap, ok := <-snaps:
				if !ok {
					return
				}
				if err := conn.SendJSON(snap); err != nil {
					if errors.Is(err, wsconn.ErrBackpressure) {
						log.Warn().Str("module", "adapters.http").Str("sid", sid).Msg("events client too slow, dropping")
					}
					return
				}
			}
		}
	}()
}
