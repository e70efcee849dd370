package http

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dkeye/vidcall/internal/app/orch"
	"github.com/dkeye/vidcall/internal/config"
	"github.com/dkeye/vidcall/internal/core"
	"github.com/dkeye/vidcall/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const joinTimeout = 30 * time.Second

// Coordinator is the command and view surface the router drives.
type Coordinator interface {
	Snapshot() orch.Snapshot
	Watch() (<-chan orch.Snapshot, func())
	Form() domain.JoinForm
	SetForm(f domain.JoinForm) error
	Join(ctx context.Context, form domain.JoinForm) error
	Leave(ctx context.Context) error
	SwitchCamera(ctx context.Context) error
	SelectMainView(view domain.MainView) error
	MediaStats() (map[string]core.MediaStats, error)
}

type DeviceLister interface {
	ListInputDevices(ctx context.Context, kind domain.DeviceKind) ([]domain.Device, error)
	Active(kind domain.DeviceKind) (string, bool)
}

// hasStaticUI reports whether dir holds an index.html to serve.
func hasStaticUI(dir string) bool {
	if dir == "" {
		return false
	}
	fi, err := os.Stat(filepath.Join(dir, "index.html"))
	return err == nil && !fi.IsDir()
}

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

// statusFor maps coordinator errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidState), errors.Is(err, core.ErrSessionClosed):
		return http.StatusConflict
	case errors.Is(err, core.ErrUnknownMainView):
		return http.StatusNotFound
	case errors.Is(err, core.ErrCredential), errors.Is(err, core.ErrConnect), errors.Is(err, core.ErrPublish):
		return http.StatusBadGateway
	case errors.Is(err, core.ErrMediaAcquisition), errors.Is(err, core.ErrDeviceEnumeration):
		return http.StatusServiceUnavailable
	case errors.Is(err, orch.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func abortErr(c *gin.Context, err error) {
	status := statusFor(err)
	log.Warn().Err(err).Str("module", "adapters.http").Int("status", status).Str("path", c.FullPath()).Msg("request failed")
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func SetupRouter(ctx context.Context, cfg *config.Config, co Coordinator, devices DeviceLister) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("VidcallSessions", store))
	r.Use(ClientTokenMiddleware())

	if hasStaticUI(cfg.StaticPath) {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(filepath.Join(cfg.StaticPath, "index.html"))
		})
		log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("serving static UI")
	} else {
		log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("no static UI, API only")
	}

	limiter := NewJoinRateLimiter(cfg.JoinLimit.Count, cfg.JoinLimit.Interval)
	h := &handlers{ctx: ctx, co: co, devices: devices, limiter: limiter}

	api := r.Group("/api")
	api.GET("/state", h.state)
	api.GET("/form", h.getForm)
	api.PUT("/form", h.putForm)
	api.POST("/join", h.join)
	api.POST("/leave", h.leave)
	api.POST("/camera/switch", h.switchCamera)
	api.PUT("/main-view", h.mainView)
	api.GET("/devices", h.listDevices)
	api.GET("/stats", h.stats)

	view := &viewStream{co: co, pingPeriod: cfg.RTC.PingPeriod}
	api.GET("/ws/view", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Msg("ws view endpoint hit")
		view.serve(ctx, c)
	})

	return r
}
