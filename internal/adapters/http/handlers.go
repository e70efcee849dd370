package http

import (
	"context"
	"net/http"

	"github.com/dkeye/vidcall/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type handlers struct {
	// ctx bounds joins so a dropped request does not abort a join mid-way.
	ctx     context.Context
	co      Coordinator
	devices DeviceLister
	limiter *JoinRateLimiter
}

type formRequest struct {
	SessionID string `json:"session_id"`
	UserName  string `json:"user_name"`
}

type mainViewRequest struct {
	Kind         domain.ViewKind `json:"kind"`
	ConnectionID string          `json:"connection_id"`
}

func (h *handlers) state(c *gin.Context) {
	c.JSON(http.StatusOK, h.co.Snapshot())
}

func (h *handlers) getForm(c *gin.Context) {
	sess := sessions.Default(c)
	resp := gin.H{"form": h.co.Form()}
	if last, ok := sess.Get("last_session_id").(string); ok {
		resp["last_session_id"] = last
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handlers) putForm(c *gin.Context) {
	var req formRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	if err := h.co.SetForm(domain.JoinForm{SessionID: req.SessionID, UserName: req.UserName}); err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"form": h.co.Form()})
}

func (h *handlers) join(c *gin.Context) {
	token := c.GetString("client_token")
	if !h.limiter.Allow(token) {
		log.Warn().Str("module", "adapters.http").Str("sid", token).Msg("join rate limited")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many join attempts"})
		return
	}

	var req formRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
			return
		}
	}

	ctx, cancel := context.WithTimeout(h.ctx, joinTimeout)
	defer cancel()
	if err := h.co.Join(ctx, domain.JoinForm{SessionID: req.SessionID, UserName: req.UserName}); err != nil {
		abortErr(c, err)
		return
	}

	snap := h.co.Snapshot()
	sess := sessions.Default(c)
	sess.Set("last_session_id", snap.SessionID)
	if err := sess.Save(); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("session save")
	}
	c.JSON(http.StatusOK, snap)
}

func (h *handlers) leave(c *gin.Context) {
	if err := h.co.Leave(c.Request.Context()); err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, h.co.Snapshot())
}

func (h *handlers) switchCamera(c *gin.Context) {
	if err := h.co.SwitchCamera(c.Request.Context()); err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, h.co.Snapshot())
}

func (h *handlers) mainView(c *gin.Context) {
	var req mainViewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid view"})
		return
	}
	if err := h.co.SelectMainView(domain.MainView{Kind: req.Kind, ConnectionID: req.ConnectionID}); err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, h.co.Snapshot())
}

func (h *handlers) listDevices(c *gin.Context) {
	kind := domain.DeviceKind(c.DefaultQuery("kind", string(domain.VideoInput)))
	if kind != domain.VideoInput && kind != domain.AudioInput {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown device kind"})
		return
	}
	devs, err := h.devices.ListInputDevices(c.Request.Context(), kind)
	if err != nil {
		abortErr(c, err)
		return
	}
	resp := gin.H{"devices": devs}
	if id, ok := h.devices.Active(kind); ok {
		resp["active"] = id
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handlers) stats(c *gin.Context) {
	st, err := h.co.MediaStats()
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"participants": st})
}
