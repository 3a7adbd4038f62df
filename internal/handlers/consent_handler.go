package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/careledger/health-vault-api/internal/models"
	"github.com/careledger/health-vault-api/internal/service"
)

// ConsentHandler handles consent ledger HTTP requests
type ConsentHandler struct {
	consentService *service.ConsentService
}

// NewConsentHandler creates a new consent handler instance
func NewConsentHandler(consentService *service.ConsentService) *ConsentHandler {
	return &ConsentHandler{consentService: consentService}
}

// GrantConsent handles POST /consents
func (h *ConsentHandler) GrantConsent(c *gin.Context) {
	var apiRequest models.GrantConsentAPIRequest
	if err := c.ShouldBindJSON(&apiRequest); err != nil {
		SendBadRequest(c, err.Error())
		return
	}

	grant, err := h.consentService.GrantConsent(c.Request.Context(), &apiRequest, ActorID(c))
	if err != nil {
		SendError(c, err)
		return
	}

	c.JSON(http.StatusCreated, grant)
}

// GetGrant handles GET /consents/:grantId
func (h *ConsentHandler) GetGrant(c *gin.Context) {
	grant, err := h.consentService.GetGrant(c.Request.Context(), c.Param("grantId"))
	if err != nil {
		SendError(c, err)
		return
	}

	c.JSON(http.StatusOK, grant)
}

// Revoke handles POST /consents/:grantId/revoke
func (h *ConsentHandler) Revoke(c *gin.Context) {
	var apiRequest models.RevokeAPIRequest
	if err := c.ShouldBindJSON(&apiRequest); err != nil && err.Error() != "EOF" {
		SendBadRequest(c, err.Error())
		return
	}

	if err := h.consentService.Revoke(c.Request.Context(), c.Param("grantId"), apiRequest.Reason, ActorID(c)); err != nil {
		SendError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// EmergencyAccess handles POST /consents/emergency
func (h *ConsentHandler) EmergencyAccess(c *gin.Context) {
	var apiRequest models.EmergencyAccessAPIRequest
	if err := c.ShouldBindJSON(&apiRequest); err != nil {
		SendBadRequest(c, err.Error())
		return
	}

	grant, err := h.consentService.EmergencyAccess(c.Request.Context(), &apiRequest, ActorID(c))
	if err != nil {
		SendError(c, err)
		return
	}

	c.JSON(http.StatusCreated, grant)
}

// ExportGrants handles GET /patients/:patientId/consents
func (h *ConsentHandler) ExportGrants(c *gin.Context) {
	grants, err := h.consentService.ExportGrants(c.Request.Context(), c.Param("patientId"))
	if err != nil {
		SendError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"grants": grants, "count": len(grants)})
}
