package controlplane

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/botfleet/botfleet/internal/logger"
	"github.com/botfleet/botfleet/internal/store"
	"github.com/botfleet/botfleet/pkg/constants"
)

func (s *Server) handleListCommands(c *gin.Context) {
	botID := c.Param("botID")
	if !s.authorize(c, botID, "") {
		return
	}

	commands, err := s.store.ListCustomCommands(c.Request.Context(), botID)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	ok(c, http.StatusOK, gin.H{"commands": commands})
}

func (s *Server) handleGetCommand(c *gin.Context) {
	botID := c.Param("botID")
	if !s.authorize(c, botID, "") {
		return
	}

	cmd, err := s.store.GetCustomCommand(c.Request.Context(), botID, c.Param("name"))
	if err != nil {
		if errors.Is(err, store.ErrCommandNotFound) {
			fail(c, http.StatusNotFound, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	ok(c, http.StatusOK, gin.H{"command": cmd})
}

func (s *Server) handleCreateCommand(c *gin.Context) {
	botID := c.Param("botID")

	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid json body")
		return
	}
	if msg := validateCommandRequest(req.Name, req.Body); msg != "" {
		fail(c, http.StatusBadRequest, msg)
		return
	}
	if !s.authorize(c, botID, "") {
		return
	}

	cmd := &store.CustomCommand{
		BotID:       botID,
		Name:        req.Name,
		Description: req.Description,
		Usage:       req.Usage,
		Aliases:     req.Aliases,
		Body:        req.Body,
	}
	if err := s.store.UpsertCustomCommand(c.Request.Context(), cmd); err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	s.syncRegistry(botID, cmd)

	logger.WithFields(logrus.Fields{
		"bot_id":  botID,
		"command": cmd.Name,
	}).Info("custom-command-created")

	ok(c, http.StatusCreated, gin.H{"command": cmd})
}

func (s *Server) handleUpdateCommand(c *gin.Context) {
	botID := c.Param("botID")
	name := c.Param("name")

	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid json body")
		return
	}
	if msg := validateCommandRequest(name, req.Body); msg != "" {
		fail(c, http.StatusBadRequest, msg)
		return
	}
	if !s.authorize(c, botID, "") {
		return
	}

	existing, err := s.store.GetCustomCommand(c.Request.Context(), botID, name)
	if err != nil {
		if errors.Is(err, store.ErrCommandNotFound) {
			fail(c, http.StatusNotFound, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}

	cmd := &store.CustomCommand{
		BotID:       botID,
		Name:        name,
		Description: req.Description,
		Usage:       req.Usage,
		Aliases:     req.Aliases,
		Body:        req.Body,
	}
	if err := s.store.UpsertCustomCommand(c.Request.Context(), cmd); err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}

	// Drop the old binding first so removed aliases do not linger
	s.registry.UnregisterForBot(botID, existing.Name)
	s.syncRegistry(botID, cmd)

	ok(c, http.StatusOK, gin.H{"command": cmd})
}

func (s *Server) handleDeleteCommand(c *gin.Context) {
	botID := c.Param("botID")
	name := c.Param("name")

	if !s.authorize(c, botID, "") {
		return
	}

	if err := s.store.DeleteCustomCommand(c.Request.Context(), botID, name); err != nil {
		if errors.Is(err, store.ErrCommandNotFound) {
			fail(c, http.StatusNotFound, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	s.registry.UnregisterForBot(botID, name)

	ok(c, http.StatusOK, gin.H{"name": name})
}

// syncRegistry installs the command binding immediately when the bot is
// running, so a live bot picks up the change without a restart. Stopped
// bots load their commands from the store on the next add.
func (s *Server) syncRegistry(botID string, cmd *store.CustomCommand) {
	if _, running := s.manager.GetBot(botID); running {
		s.registry.RegisterForBot(botID, cmd)
	}
}

func validateCommandRequest(name, body string) string {
	if name == "" {
		return "name is required"
	}
	if body == "" {
		return "body is required"
	}
	if len(body) > constants.MaxCommandBodyLength {
		return "body is too large"
	}
	return ""
}
