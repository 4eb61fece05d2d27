package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/dkeye/Confer/internal/adapters/rtc"
	"github.com/dkeye/Confer/internal/adapters/signal"
	"github.com/dkeye/Confer/internal/app"
	"github.com/dkeye/Confer/internal/app/orch"
	"github.com/dkeye/Confer/internal/auth"
	"github.com/dkeye/Confer/internal/config"
	"github.com/dkeye/Confer/internal/domain"
	"github.com/dkeye/Confer/internal/storage"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const requestIDHeader = "X-Request-ID"

func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// LessonLister is the part of the lesson store the conference lookup reads.
type LessonLister interface {
	LessonsByTeacher(ctx context.Context, teacher string) ([]storage.Lesson, error)
}

type Deps struct {
	Orch   *orch.Orchestrator
	Health *app.Health
	RTC    webrtc.Configuration

	// Rooms and Lessons enable GET /api/conference/:teacher in session mode.
	Rooms   *auth.RoomPolicy
	Lessons LessonLister
}

// conferenceHandler tells a signed-in user which room to join for a
// teacher's lessons, after the same access check join_room applies.
func conferenceHandler(rooms *auth.RoomPolicy, lessons LessonLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := auth.SessionIdentity(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		teacher := c.Param("teacher")
		room := rooms.RoomFor(teacher)
		if err := rooms.Authorize(c.Request.Context(), user, room); err != nil {
			if errors.Is(err, auth.ErrForbidden) {
				c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
				return
			}
			log.Error().Err(err).Str("module", "adapters.http").Str("teacher", teacher).Msg("access check failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		list, err := lessons.LessonsByTeacher(c.Request.Context(), teacher)
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Str("teacher", teacher).Msg("list lessons")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if list == nil {
			list = []storage.Lesson{}
		}
		c.JSON(http.StatusOK, gin.H{
			"room_name":  room,
			"signal_url": "/api/ws/signal",
			"lessons":    list,
		})
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", HttpOnly: true, MaxAge: 3600 * 24 * 7})
	r.Use(sessions.Sessions(cfg.SessionName, store))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, deps.Health.Report())
	})
	r.GET("/debug/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, deps.Health.Debug())
	})

	api := r.Group("/api")
	api.GET("/rtc/config", func(c *gin.Context) {
		c.JSON(http.StatusOK, rtc.NewClientConfig(deps.RTC))
	})

	if deps.Rooms != nil && deps.Lessons != nil {
		api.GET("/conference/:teacher", conferenceHandler(deps.Rooms, deps.Lessons))
	}

	var identity signal.IdentityFunc
	if cfg.Auth.Mode == "session" {
		identity = auth.SessionIdentity
	}
	ctrl := signal.NewSignalWSController(deps.Orch, identity, signal.Options{
		ReadLimit:    cfg.ReadLimit,
		PingPeriod:   cfg.PingPeriod,
		PongWait:     cfg.PongWait,
		WriteWait:    cfg.WriteWait,
		SendQueue:    cfg.Signal.SendQueue,
		RateLimit:    cfg.Signal.RateLimit,
		RateInterval: cfg.Signal.RateInterval,
	})
	api.GET("/ws/signal", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("request_id", c.GetString("request_id")).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	if cfg.Mode == "debug" {
		// Stand-in for the site's login so the session path can be tried locally.
		api.POST("/dev/login", func(c *gin.Context) {
			var req struct {
				UserID   string `json:"user_id" binding:"required"`
				Username string `json:"username"`
				Role     string `json:"role"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			u, err := domain.NewUser(req.UserID, req.Username, auth.ParseRole(req.Role))
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			if err := auth.Login(c, *u); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "session"})
				return
			}
			c.JSON(http.StatusOK, u)
		})
	}

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Str("auth", cfg.Auth.Mode).Msg("router setup")
	return r
}
