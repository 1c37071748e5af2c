package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"seatengine/pkg/api/middleware"
	"seatengine/pkg/auth"
	"seatengine/pkg/coordination"
	"seatengine/pkg/scheduler"
)

// --- Cluster Handlers ---

// listNodes handles GET /api/v1/cluster/nodes
func (s *Server) listNodes(c *gin.Context) {
	nodes, err := s.coordinator.GetActiveNodes(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get nodes: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"nodes": nodes,
		"count": len(nodes),
	})
}

// getLeader handles GET /api/v1/cluster/leader
func (s *Server) getLeader(c *gin.Context) {
	leader, err := s.coordinator.NewElection(scheduler.ElectionName).Leader(c.Request.Context())
	if errors.Is(err, coordination.ErrNoLeader) {
		c.JSON(http.StatusOK, gin.H{"leader": nil})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get leader: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"leader": leader})
}

// --- API Key Handlers ---

// CreateAPIKeyRequest is the payload for issuing an API key.
type CreateAPIKeyRequest struct {
	Name      string        `json:"name" binding:"required"`
	OwnerID   string        `json:"owner_id" binding:"required"`
	Role      auth.Role     `json:"role" binding:"required"`
	ExpiresIn time.Duration `json:"expires_in"` // nanoseconds, 0 = never
}

// createAPIKey handles POST /api/v1/apikeys. The plaintext key is returned once.
func (s *Server) createAPIKey(c *gin.Context) {
	if s.apiKeys == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "api keys are not configured"})
		return
	}
	var req CreateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.validator.ValidateName(req.Name); err != nil {
		s.abortWithError(c, err)
		return
	}
	if !req.Role.Valid() {
		s.abortWithError(c, &middleware.ValidationError{Field: "role", Message: "unknown role"})
		return
	}

	info := auth.APIKeyInfo{Name: req.Name, OwnerID: req.OwnerID, Role: req.Role}
	if req.ExpiresIn > 0 {
		info.ExpiresAt = time.Now().Add(req.ExpiresIn).Unix()
	}
	key, created, err := s.apiKeys.CreateKey(c.Request.Context(), info)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	s.log.Info("API key issued", append(middleware.CallerFields(c),
		zap.String("key_id", created.ID),
		zap.String("owner_id", created.OwnerID),
		zap.String("role", string(created.Role)),
	)...)
	c.JSON(http.StatusCreated, gin.H{"key": key, "info": created})
}

// listAPIKeys handles GET /api/v1/apikeys?owner_id=
func (s *Server) listAPIKeys(c *gin.Context) {
	if s.apiKeys == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "api keys are not configured"})
		return
	}
	owner := c.Query("owner_id")
	if owner == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner_id is required"})
		return
	}
	keys, err := s.apiKeys.ListKeys(c.Request.Context(), owner)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys, "count": len(keys)})
}

// revokeAPIKey handles DELETE /api/v1/apikeys/:key
func (s *Server) revokeAPIKey(c *gin.Context) {
	if s.apiKeys == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "api keys are not configured"})
		return
	}
	if err := s.apiKeys.RevokeKey(c.Request.Context(), c.Param("key")); err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			c.JSON(http.StatusNotFound, gin.H{"error": "api key not found"})
			return
		}
		s.abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
