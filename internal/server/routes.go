package server

import (
	"encoding/hex"
	"net/http"
	"strconv"
	"time"

	"github.com/danmuck/cyclopsctl/internal/config"
	"github.com/danmuck/cyclopsctl/internal/protocol/frame"
	"github.com/danmuck/cyclopsctl/internal/stimulator"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	r := s.router
	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/devices", s.listDevices)
	r.GET("/plugins", s.listPlugins)
	r.GET("/workspace", s.getWorkspace)
	r.POST("/workspace", s.saveWorkspace)

	sessions := r.Group("/sessions")
	sessions.GET("", s.listSessions)
	sessions.POST("", s.openSession)
	sessions.GET("/:id", s.getSession)
	sessions.DELETE("/:id", s.closeSession)
	sessions.PUT("/:id/device", s.setDevice)
	sessions.PUT("/:id/baudrate", s.setBaudRate)
	sessions.POST("/:id/reconnect", s.reconnect)
	sessions.POST("/:id/test/:channel", s.startTest)
	sessions.DELETE("/:id/test", s.cancelTest)
	sessions.POST("/:id/acquisition", s.beginAcquisition)
	sessions.DELETE("/:id/acquisition", s.endAcquisition)
	sessions.POST("/:id/frames", s.sendFrame)

	hooks := r.Group("/hooks")
	hooks.GET("", s.listHooks)
	hooks.POST("", s.createHook)
	hooks.GET("/:id", s.getHook)
	hooks.DELETE("/:id", s.removeHook)
	hooks.POST("/:id/bind", s.bindHook)
	hooks.POST("/:id/migrate", s.migrateHook)
	hooks.POST("/:id/drop", s.dropHook)
	hooks.PUT("/:id/plugin", s.selectPlugin)
	hooks.PUT("/:id/channel", s.setChannel)
	hooks.POST("/:id/apply", s.applyPlugin)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"uptime":   time.Since(s.started).String(),
		"service":  s.cfg.Name,
		"version":  version,
		"sessions": s.registry.StatusCounts(),
	})
}

func (s *Server) listDevices(c *gin.Context) {
	devices, err := s.registry.Opener().ListDevices()
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

func (s *Server) listPlugins(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"plugins": s.registry.Catalog().List()})
}

func (s *Server) getWorkspace(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"workspace": config.Capture(s.registry)})
}

func (s *Server) saveWorkspace(c *gin.Context) {
	ws, err := s.SaveWorkspace()
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "saved", "path": s.cfg.Workspace, "workspace": ws})
}

func pathID(c *gin.Context, key string) (int, error) {
	id, err := strconv.Atoi(c.Param(key))
	if err != nil || id <= 0 {
		return 0, errBadID
	}
	return id, nil
}

// session resolves :id or aborts the request.
func (s *Server) session(c *gin.Context) (*stimulator.Session, bool) {
	id, err := pathID(c, "id")
	if err != nil {
		abortWith(c, err)
		return nil, false
	}
	sess, ok := s.registry.Session(id)
	if !ok {
		abortWith(c, stimulator.ErrSessionNotFound)
		return nil, false
	}
	return sess, true
}

func (s *Server) listSessions(c *gin.Context) {
	list := s.registry.Sessions()
	out := make([]stimulator.Snapshot, 0, len(list))
	for _, sess := range list {
		out = append(out, sess.Snapshot())
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

type paramsRequest struct {
	Device   *string `json:"device"`
	BaudRate int     `json:"baudrate"`
}

// openSession creates a session and, when the body names a device, connects
// it. A failed connect still leaves the session open and is reported in the
// snapshot's last_error.
func (s *Server) openSession(c *gin.Context) {
	var req paramsRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.BaudRate != 0 && !stimulator.ValidBaud(req.BaudRate) {
		abortWith(c, stimulator.ErrUnsupportedBaud)
		return
	}
	sess := s.registry.OpenSession()
	if req.Device != nil || req.BaudRate != 0 {
		p := stimulator.Params{BaudRate: req.BaudRate}
		if req.Device != nil {
			p.Device = *req.Device
		}
		_ = sess.ApplyParams(c.Request.Context(), p)
	}
	c.JSON(http.StatusCreated, gin.H{"session": sess.Snapshot()})
}

func (s *Server) getSession(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess.Snapshot(), "ready": s.registry.SessionReady(sess.ID())})
}

type closeRequest struct {
	// Migrate maps hook ids to destination session ids; other bound hooks
	// are dropped.
	Migrate map[int]int `json:"migrate"`
	Drop    bool        `json:"drop"`
}

func (s *Server) closeSession(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		abortWith(c, err)
		return
	}
	var req closeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.Drop || len(req.Migrate) > 0 {
		err = s.registry.CloseSessionWith(id, req.Migrate)
	} else {
		err = s.registry.CloseSession(id)
	}
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "closed", "id": id})
}

func (s *Server) setDevice(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	var req struct {
		Device string `json:"device"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := sess.SetDevice(c.Request.Context(), req.Device); err != nil {
		c.AbortWithStatusJSON(statusFor(err), gin.H{"error": err.Error(), "session": sess.Snapshot()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess.Snapshot()})
}

func (s *Server) setBaudRate(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	var req struct {
		BaudRate int `json:"baudrate" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := sess.SetBaudRate(c.Request.Context(), req.BaudRate); err != nil {
		c.AbortWithStatusJSON(statusFor(err), gin.H{"error": err.Error(), "session": sess.Snapshot()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess.Snapshot()})
}

func (s *Server) reconnect(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	if err := sess.Reconnect(c.Request.Context()); err != nil {
		c.AbortWithStatusJSON(statusFor(err), gin.H{"error": err.Error(), "session": sess.Snapshot()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess.Snapshot()})
}

func (s *Server) startTest(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	channel, err := strconv.Atoi(c.Param("channel"))
	if err != nil {
		abortWith(c, stimulator.ErrInvalidChannel)
		return
	}
	if err := sess.StartTest(channel); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"session": sess.Snapshot()})
}

func (s *Server) cancelTest(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": sess.CancelTest(), "session": sess.Snapshot()})
}

func (s *Server) beginAcquisition(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	sess.BeginAcquisition()
	c.JSON(http.StatusOK, gin.H{"session": sess.Snapshot()})
}

func (s *Server) endAcquisition(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	sess.EndAcquisition()
	c.JSON(http.StatusOK, gin.H{"session": sess.Snapshot()})
}

type frameRequest struct {
	Command  *frame.Command `json:"command" binding:"required"`
	Channels []int          `json:"channels"`
	Params   frame.Params   `json:"params"`
}

func (s *Server) sendFrame(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	var req frameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	f, err := frame.Encode(*req.Command, req.Channels, req.Params)
	if err != nil {
		abortWith(c, err)
		return
	}
	if err := sess.Send(f); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"command": *req.Command, "hex": hex.EncodeToString(f.Bytes())})
}
