package http

import (
	"errors"
	"net/http"

	"github.com/dkeye/meetclient/internal/domain"
	"github.com/dkeye/meetclient/internal/identity"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	keyUserID     = "user_id"
	keyUserName   = "user_name"
	keyCredential = "credential"
)

var errNoIdentity = errors.New("no identity in session")

type loginRequest struct {
	Token string `json:"token"`
	ID    string `json:"id"`
	Name  string `json:"name"`
}

type identityResponse struct {
	ID            domain.UserID `json:"id"`
	Name          string        `json:"name"`
	PeerID        domain.PeerID `json:"peerId"`
	HasCredential bool          `json:"hasCredential"`
}

func (h *handlers) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	var (
		user *domain.User
		err  error
	)
	switch {
	case req.Token != "":
		user, err = identity.FromToken(req.Token, h.jwtSecret)
		if err != nil {
			log.Warn().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Err(err).Msg("token rejected")
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
	default:
		user, err = domain.NewUser(req.ID, req.Name)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	s := sessions.Default(c)
	s.Set(keyUserID, string(user.ID))
	s.Set(keyUserName, user.Name)
	s.Set(keyCredential, req.Token)
	if err := s.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save session"})
		return
	}
	log.Info().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Str("user", string(user.ID)).Msg("identity stored")
	c.JSON(http.StatusOK, toIdentity(*user, req.Token))
}

func (h *handlers) whoami(c *gin.Context) {
	user, cred, err := sessionIdentity(c)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toIdentity(user, cred))
}

func (h *handlers) logout(c *gin.Context) {
	s := sessions.Default(c)
	s.Clear()
	_ = s.Save()
	c.Status(http.StatusNoContent)
}

func sessionIdentity(c *gin.Context) (domain.User, string, error) {
	s := sessions.Default(c)
	id, _ := s.Get(keyUserID).(string)
	name, _ := s.Get(keyUserName).(string)
	cred, _ := s.Get(keyCredential).(string)
	if id == "" || name == "" {
		return domain.User{}, "", errNoIdentity
	}
	return domain.User{ID: domain.UserID(id), Name: name}, cred, nil
}

func toIdentity(u domain.User, cred string) identityResponse {
	return identityResponse{ID: u.ID, Name: u.Name, PeerID: u.PeerID(), HasCredential: cred != ""}
}
