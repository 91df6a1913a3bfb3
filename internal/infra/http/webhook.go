package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"timeflow/internal/domain"
)

const webhookSecretHeader = "X-Webhook-Secret"

// handleWebhook ingests one at-least-once delivery. A processing failure
// answers 5xx so the upstream redelivers; duplicates answer 200 with the
// duplicate flag set so retries quiesce.
func (s *Server) handleWebhook(c *gin.Context) {
	s.handleDelivery(c, domain.ModeLive)
}

// handleDryRun runs the same decision pipeline with zero outbound calls.
func (s *Server) handleDryRun(c *gin.Context) {
	s.handleDelivery(c, domain.ModeDryRun)
}

func (s *Server) handleDelivery(c *gin.Context, mode domain.ExecutionMode) {
	tenantID := c.Param("tenantID")
	if !s.authenticateTenant(c, tenantID) {
		return
	}
	if !s.enforceRateLimit(c, tenantID) {
		return
	}

	var event domain.WebhookEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_EVENT", "malformed event payload")
		return
	}
	event.TenantID = tenantID
	if event.ID == "" || event.EntityID == "" {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_EVENT", "event id and entityId are required")
		return
	}
	if event.Type != domain.EventCreated && event.Type != domain.EventUpdated {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_EVENT", "unknown event type")
		return
	}

	report, err := s.processor.Process(c.Request.Context(), event, mode)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"tenant_id": tenantID,
			"event_id":  event.ID,
		}).WithError(err).Error("event processing failed")
		switch {
		case errors.Is(err, domain.ErrShuttingDown):
			writeErrorCode(c, http.StatusServiceUnavailable, "SHUTTING_DOWN", "server is shutting down")
		case errors.Is(err, domain.ErrStoreUnavailable):
			writeErrorCode(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "backing store unavailable")
		default:
			writeErrorCode(c, http.StatusInternalServerError, "PROCESSING_FAILED", "event processing failed")
		}
		return
	}
	c.JSON(http.StatusOK, report)
}

// authenticateTenant accepts the current secret, or the previous one inside
// the rotation grace window. Signature verification happens upstream; this
// is the shared-secret check for direct deliveries.
func (s *Server) authenticateTenant(c *gin.Context, tenantID string) bool {
	if tenantID == "" {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_TENANT", "tenant id is required")
		return false
	}
	secret := c.GetHeader(webhookSecretHeader)
	if secret == "" {
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing webhook secret")
		return false
	}
	valid, err := s.creds.Validate(c.Request.Context(), tenantID, secret)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "unknown tenant")
			return false
		}
		writeErrorCode(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "credential store unavailable")
		return false
	}
	if !valid {
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid webhook secret")
		return false
	}
	return true
}
