package controlplane

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/botfleet/botfleet/internal/logger"
	"github.com/botfleet/botfleet/internal/manager"
	"github.com/botfleet/botfleet/internal/store"
)

// authorize verifies the operator secret for botID, writing the error
// response itself on failure. Unknown ids are reported as 404 so callers
// can distinguish "wrong secret" from "no such bot".
func (s *Server) authorize(c *gin.Context, botID, secret string) bool {
	if secret == "" {
		secret = c.GetHeader(secretHeader)
	}

	valid, err := s.store.VerifySecret(c.Request.Context(), botID, secret)
	if err != nil {
		if errors.Is(err, store.ErrBotConfigNotFound) {
			fail(c, http.StatusNotFound, "bot not found")
			return false
		}
		fail(c, http.StatusInternalServerError, err.Error())
		return false
	}
	if !valid {
		fail(c, http.StatusUnauthorized, "invalid secret")
		return false
	}
	return true
}

func (s *Server) handleListBots(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{"bots": s.manager.ListBots()})
}

func (s *Server) handleGetBot(c *gin.Context) {
	snap, found := s.manager.GetBot(c.Param("botID"))
	if !found {
		fail(c, http.StatusNotFound, "bot not found")
		return
	}
	ok(c, http.StatusOK, gin.H{"bot": snap})
}

func (s *Server) handleAddBot(c *gin.Context) {
	var req addBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.ID == "" {
		fail(c, http.StatusBadRequest, "id is required")
		return
	}
	if len(req.Credentials) == 0 {
		fail(c, http.StatusBadRequest, "credentials are required")
		return
	}
	if !json.Valid(req.Credentials) {
		fail(c, http.StatusBadRequest, "credentials must be valid json")
		return
	}

	snap, err := s.manager.AddBot(c.Request.Context(), req.ID, req.Credentials, req.Secret)
	if err != nil {
		if errors.Is(err, manager.ErrDuplicateSession) {
			fail(c, http.StatusConflict, err.Error())
			return
		}
		// Any other add failure is a gateway login problem; the session is
		// retained in the error state and included for inspection
		c.JSON(http.StatusBadGateway, gin.H{
			"success": false,
			"error":   err.Error(),
			"bot":     snap,
		})
		return
	}

	logger.WithFields(logrus.Fields{
		"bot_id": req.ID,
	}).Info("bot-added-via-api")

	ok(c, http.StatusCreated, gin.H{"bot": snap})
}

func (s *Server) handleRemoveBot(c *gin.Context) {
	botID := c.Param("botID")

	var req secretRequest
	_ = c.ShouldBindJSON(&req)
	if !s.authorize(c, botID, req.Secret) {
		return
	}

	if err := s.manager.RemoveBot(c.Request.Context(), botID); err != nil {
		if errors.Is(err, manager.ErrSessionNotFound) {
			fail(c, http.StatusNotFound, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}

	ok(c, http.StatusOK, gin.H{"id": botID})
}

func (s *Server) handleRestartBot(c *gin.Context) {
	botID := c.Param("botID")

	var req secretRequest
	_ = c.ShouldBindJSON(&req)
	if !s.authorize(c, botID, req.Secret) {
		return
	}

	if err := s.manager.RestartBot(c.Request.Context(), botID); err != nil {
		switch {
		case errors.Is(err, manager.ErrSessionNotFound):
			fail(c, http.StatusNotFound, err.Error())
		case errors.Is(err, manager.ErrConfigurationMissing):
			fail(c, http.StatusInternalServerError, err.Error())
		default:
			fail(c, http.StatusBadGateway, err.Error())
		}
		return
	}

	snap, _ := s.manager.GetBot(botID)
	ok(c, http.StatusOK, gin.H{"bot": snap})
}

// handleUpdateCredentials rotates a bot's credentials as a remove plus
// re-add under the same id. The authorizing secret is re-persisted with the
// new config so the bot stays protected after the rotation.
func (s *Server) handleUpdateCredentials(c *gin.Context) {
	botID := c.Param("botID")

	var req updateCredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid json body")
		return
	}
	if len(req.Credentials) == 0 {
		fail(c, http.StatusBadRequest, "credentials are required")
		return
	}
	if !json.Valid(req.Credentials) {
		fail(c, http.StatusBadRequest, "credentials must be valid json")
		return
	}
	if !s.authorize(c, botID, req.Secret) {
		return
	}

	if err := s.manager.RemoveBot(c.Request.Context(), botID); err != nil {
		if errors.Is(err, manager.ErrSessionNotFound) {
			fail(c, http.StatusNotFound, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}

	secret := req.Secret
	if secret == "" {
		secret = c.GetHeader(secretHeader)
	}
	snap, err := s.manager.AddBot(c.Request.Context(), botID, req.Credentials, secret)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"success": false,
			"error":   err.Error(),
			"bot":     snap,
		})
		return
	}

	logger.WithField("bot_id", botID).Info("bot-credentials-rotated")
	ok(c, http.StatusOK, gin.H{"bot": snap})
}

func (s *Server) handleVerifySecret(c *gin.Context) {
	botID := c.Param("botID")

	var req secretRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid json body")
		return
	}

	valid, err := s.store.VerifySecret(c.Request.Context(), botID, req.Secret)
	if err != nil {
		if errors.Is(err, store.ErrBotConfigNotFound) {
			fail(c, http.StatusNotFound, "bot not found")
			return
		}
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}

	ok(c, http.StatusOK, gin.H{"valid": valid})
}

func (s *Server) handleBroadcast(c *gin.Context) {
	var req broadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Message == "" {
		fail(c, http.StatusBadRequest, "message is required")
		return
	}
	if req.ThreadID == "" {
		fail(c, http.StatusBadRequest, "thread_id is required")
		return
	}

	results := s.manager.Broadcast(c.Request.Context(), req.Message, req.ThreadID)
	ok(c, http.StatusOK, gin.H{"results": results})
}

func (s *Server) handleStats(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{"stats": s.manager.GetStats()})
}

func (s *Server) handleHealth(c *gin.Context) {
	health := s.manager.GetHealthStatus()
	code := http.StatusOK
	if !health.Healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"success": true, "health": health})
}
