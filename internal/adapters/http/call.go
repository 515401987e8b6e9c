package http

import (
	"errors"
	"net/http"

	"github.com/dkeye/meetclient/internal/app/orch"
	"github.com/dkeye/meetclient/internal/core"
	"github.com/dkeye/meetclient/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type handlers struct {
	lobby     *orch.Lobby
	jwtSecret string
	stream    streamOptions
}

func (h *handlers) join(c *gin.Context) {
	roomID := domain.RoomID(c.Param("roomId"))
	user, cred, err := sessionIdentity(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": core.ErrMissingData.Error()})
		return
	}

	log.Info().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Str("room", string(roomID)).Str("user", string(user.ID)).Msg("join requested")
	coord, err := h.lobby.Join(c.Request.Context(), roomID, user, cred)
	snap := coord.State()
	if err != nil {
		c.JSON(joinStatus(err), snap)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func joinStatus(err error) int {
	switch {
	case errors.Is(err, core.ErrMissingData):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrMediaAccess):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrSessionClosed):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

func (h *handlers) current(c *gin.Context) (*orch.Coordinator, bool) {
	coord, ok := h.lobby.Current()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no call session"})
	}
	return coord, ok
}

func (h *handlers) state(c *gin.Context) {
	if coord, ok := h.current(c); ok {
		c.JSON(http.StatusOK, coord.State())
	}
}

func (h *handlers) leave(c *gin.Context) {
	if coord, ok := h.current(c); ok {
		h.lobby.Leave()
		c.JSON(http.StatusOK, coord.State())
	}
}

func (h *handlers) toggleAudio(c *gin.Context) {
	if coord, ok := h.current(c); ok {
		coord.ToggleAudio()
		c.JSON(http.StatusOK, coord.State())
	}
}

func (h *handlers) toggleVideo(c *gin.Context) {
	if coord, ok := h.current(c); ok {
		coord.ToggleVideo()
		c.JSON(http.StatusOK, coord.State())
	}
}
