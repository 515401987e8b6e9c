// Package http is the local control surface of the call session: identity,
// join/leave, media toggles and a live state stream.
package http

import (
	"github.com/dkeye/meetclient/internal/app/orch"
	"github.com/dkeye/meetclient/internal/config"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const sessionName = "MeetSessions"

func genClientToken() string {
	return uuid.NewString()
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(cfg *config.Config, lobby *orch.Lobby) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions(sessionName, store))
	r.Use(ClientTokenMiddleware())

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	h := &handlers{
		lobby:     lobby,
		jwtSecret: cfg.Identity.JWTSecret,
		stream:    streamOptions{pingPeriod: cfg.Signaling.PingPeriod, writeWait: cfg.Signaling.WriteWait},
	}

	api := r.Group("/api")
	api.POST("/session", h.login)
	api.GET("/session", h.whoami)
	api.DELETE("/session", h.logout)

	api.POST("/rooms/:roomId/join", h.join)

	call := api.Group("/call")
	call.GET("", h.state)
	call.POST("/leave", h.leave)
	call.POST("/audio", h.toggleAudio)
	call.POST("/video", h.toggleVideo)
	call.GET("/events", h.events)

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Str("static", cfg.StaticPath).Msg("router setup")
	return r
}
