package http

import (
	"context"
	"net/http"

	"github.com/dkeye/SupportChat/internal/adapters/signal"
	"github.com/dkeye/SupportChat/internal/app/orch"
	"github.com/dkeye/SupportChat/internal/config"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	sessionName    = "SupportSessions"
	clientTokenKey = "ct"
)

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

// ClientTokenMiddleware gives every browser a stable token kept in the
// signed cookie session.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)
		token, _ := sess.Get(clientTokenKey).(string)
		if token == "" {
			token = genClientToken()
			sess.Set(clientTokenKey, token)
			if err := sess.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save client token")
			}
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, relay *orch.Relay) *gin.Engine {
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

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	r.GET("/healthz", func(c *gin.Context) {
		stats := relay.Stats()
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"sessions": stats.Sessions,
			"rooms":    stats.Rooms,
		})
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Str("socket", cfg.SocketPath).Msg("router setup")

	ctrl := signal.NewSignalWSController(relay, cfg)
	r.GET(cfg.SocketPath, func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("token", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	api := r.Group("/api")
	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": relay.Rooms()})
	})

	return r
}
