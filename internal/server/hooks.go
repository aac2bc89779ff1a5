package server

import (
	"net/http"

	"github.com/danmuck/cyclopsctl/internal/notify"
	"github.com/gin-gonic/gin"
)

func (s *Server) listHooks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"hooks": s.registry.Hooks()})
}

type createHookRequest struct {
	ID      int `json:"id" binding:"required"`
	Session int `json:"session"`
}

// createHook registers a hook with a server-side observer and optionally
// binds it in the same request.
func (s *Server) createHook(c *gin.Context) {
	var req createHookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	view, err := s.registry.CreateHook(req.ID, s.cfg.NewObserver(req.ID))
	if err != nil {
		abortWith(c, err)
		return
	}
	if req.Session != notify.NoSession {
		if err := s.registry.Bind(req.ID, req.Session); err != nil {
			_ = s.registry.RemoveHook(req.ID)
			abortWith(c, err)
			return
		}
		view, _ = s.registry.Hook(req.ID)
	}
	c.JSON(http.StatusCreated, gin.H{"hook": view})
}

func (s *Server) getHook(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		abortWith(c, err)
		return
	}
	view, ok := s.registry.Hook(id)
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "hook not found"})
		return
	}
	body := gin.H{"hook": view}
	if obs, ok := s.registry.Observer(id); ok {
		if rec, ok := obs.(*notify.Recorder); ok {
			body["interactive"] = rec.Interactive()
			body["indicator"] = rec.Indicator().String()
			body["notifications"] = len(rec.Received())
		}
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) removeHook(c *gin.Context) {
	s.hookAction(c, func(id int) error { return s.registry.RemoveHook(id) })
}

func (s *Server) dropHook(c *gin.Context) {
	s.hookAction(c, func(id int) error { return s.registry.Drop(id) })
}

func (s *Server) applyPlugin(c *gin.Context) {
	s.hookAction(c, func(id int) error { return s.registry.ApplyPlugin(id) })
}

func (s *Server) bindHook(c *gin.Context) {
	var req struct {
		Session int `json:"session" binding:"required"`
	}
	if !bind(c, &req) {
		return
	}
	s.hookAction(c, func(id int) error { return s.registry.Bind(id, req.Session) })
}

func (s *Server) migrateHook(c *gin.Context) {
	var req struct {
		From int `json:"from" binding:"required"`
		To   int `json:"to" binding:"required"`
	}
	if !bind(c, &req) {
		return
	}
	s.hookAction(c, func(id int) error { return s.registry.Migrate(id, req.From, req.To) })
}

func (s *Server) selectPlugin(c *gin.Context) {
	var req struct {
		Plugin string `json:"plugin" binding:"required"`
	}
	if !bind(c, &req) {
		return
	}
	s.hookAction(c, func(id int) error { return s.registry.SelectPlugin(id, req.Plugin) })
}

func (s *Server) setChannel(c *gin.Context) {
	var req struct {
		Channel *int `json:"channel" binding:"required"`
	}
	if !bind(c, &req) {
		return
	}
	s.hookAction(c, func(id int) error { return s.registry.SetChannel(id, *req.Channel) })
}

// hookAction runs op against :id and answers with the hook's new view, or
// 204 when op removed it.
func (s *Server) hookAction(c *gin.Context, op func(id int) error) {
	id, err := pathID(c, "id")
	if err != nil {
		abortWith(c, err)
		return
	}
	if err := op(id); err != nil {
		abortWith(c, err)
		return
	}
	view, ok := s.registry.Hook(id)
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hook": view})
}

func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}
