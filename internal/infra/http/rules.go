package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"timeflow/internal/domain"
)

func (s *Server) handleListRules(c *gin.Context) {
	tenantID := c.Param("tenantID")
	if !s.authenticateTenant(c, tenantID) {
		return
	}
	rules, err := s.rules.List(c.Request.Context(), tenantID)
	if err != nil {
		writeErrorCode(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "rule store unavailable")
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

func (s *Server) handleUpsertRule(c *gin.Context) {
	tenantID := c.Param("tenantID")
	if !s.authenticateTenant(c, tenantID) {
		return
	}
	var rule domain.Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_RULE", "malformed rule definition")
		return
	}
	rule.TenantID = tenantID
	if id := c.Param("ruleID"); id != "" {
		rule.ID = id
	}

	saved, err := s.rules.Upsert(c.Request.Context(), rule)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRule) {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_RULE", err.Error())
			return
		}
		writeErrorCode(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "rule store unavailable")
		return
	}
	c.JSON(http.StatusOK, saved)
}

func (s *Server) handleDeleteRule(c *gin.Context) {
	tenantID := c.Param("tenantID")
	if !s.authenticateTenant(c, tenantID) {
		return
	}
	err := s.rules.Delete(c.Request.Context(), tenantID, c.Param("ruleID"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "rule not found")
			return
		}
		writeErrorCode(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "rule store unavailable")
		return
	}
	c.Status(http.StatusNoContent)
}

type rotateRequest struct {
	NewSecret string `json:"newSecret"`
}

// handleRotateCredential is the admin surface for rotation. It deliberately
// requires the admin token, not the tenant secret: a previous secret inside
// its grace window authenticates deliveries but must not issue rotations.
func (s *Server) handleRotateCredential(c *gin.Context) {
	if s.cfg.AdminToken == "" || c.GetHeader("X-Admin-Token") != s.cfg.AdminToken {
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "admin token required")
		return
	}
	tenantID := c.Param("tenantID")
	var req rotateRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.NewSecret == "" {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "newSecret is required")
		return
	}
	cred, err := s.creds.Rotate(c.Request.Context(), tenantID, req.NewSecret)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "tenant not found")
			return
		}
		writeErrorCode(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "credential store unavailable")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tenantId":  cred.TenantID,
		"rotatedAt": cred.RotatedAt,
	})
}
