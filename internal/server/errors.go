package server

import (
	"errors"
	"net/http"

	"github.com/danmuck/cyclopsctl/internal/plugins"
	"github.com/danmuck/cyclopsctl/internal/protocol/frame"
	"github.com/danmuck/cyclopsctl/internal/stimulator"
	"github.com/danmuck/cyclopsctl/internal/transport"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

var (
	errBadID       = errors.New("server: id must be a positive integer")
	errNoWorkspace = errors.New("server: no workspace path configured")
)

var statusByErr = []struct {
	err    error
	status int
}{
	{stimulator.ErrSessionNotFound, http.StatusNotFound},
	{stimulator.ErrHookNotFound, http.StatusNotFound},
	{plugins.ErrPluginNotFound, http.StatusNotFound},
	{transport.ErrNoDevice, http.StatusNotFound},

	{stimulator.ErrSessionHasHooks, http.StatusConflict},
	{stimulator.ErrSessionBusy, http.StatusConflict},
	{stimulator.ErrSessionClosed, http.StatusConflict},
	{stimulator.ErrHookExists, http.StatusConflict},
	{stimulator.ErrHookBound, http.StatusConflict},
	{stimulator.ErrHookNotBound, http.StatusConflict},
	{stimulator.ErrHookBusy, http.StatusConflict},
	{stimulator.ErrTestInProgress, http.StatusConflict},
	{stimulator.ErrNoPlugin, http.StatusConflict},
	{stimulator.ErrNotConnected, http.StatusConflict},
	{transport.ErrPortInUse, http.StatusConflict},
	{errNoWorkspace, http.StatusConflict},

	{stimulator.ErrUnsupportedBaud, http.StatusBadRequest},
	{stimulator.ErrInvalidChannel, http.StatusBadRequest},
	{stimulator.ErrSameSession, http.StatusBadRequest},
	{stimulator.ErrInvalidHookID, http.StatusBadRequest},
	{errBadID, http.StatusBadRequest},

	{stimulator.ErrIdentifyTimeout, http.StatusGatewayTimeout},
	{stimulator.ErrLinkFailed, http.StatusBadGateway},
}

func statusFor(err error) int {
	var encErr *frame.EncodingError
	if errors.As(err, &encErr) {
		return http.StatusBadRequest
	}
	for _, m := range statusByErr {
		if errors.Is(err, m.err) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

func abortWith(c *gin.Context, err error) {
	status := statusFor(err)
	var inv *stimulator.InvariantError
	if errors.As(err, &inv) {
		log.Error().Err(err).Str("op", inv.Op).Int("hook_id", inv.HookID).Msg("server.abortWith invariant violated")
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
