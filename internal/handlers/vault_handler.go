package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/careledger/health-vault-api/internal/models"
	"github.com/careledger/health-vault-api/internal/service"
)

// VaultHandler handles encrypted record HTTP requests
type VaultHandler struct {
	vaultService *service.VaultService
}

// NewVaultHandler creates a new vault handler instance
func NewVaultHandler(vaultService *service.VaultService) *VaultHandler {
	return &VaultHandler{vaultService: vaultService}
}

// WriteRecord handles POST /records
func (h *VaultHandler) WriteRecord(c *gin.Context) {
	var apiRequest models.WriteRecordAPIRequest
	if err := c.ShouldBindJSON(&apiRequest); err != nil {
		SendBadRequest(c, err.Error())
		return
	}

	result, err := h.vaultService.Write(c.Request.Context(), &apiRequest, ActorID(c))
	if err != nil {
		SendError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// ReadRecord handles GET /records/:recordId. The accessing grant travels
// in the grant-id header so the ciphertext key never appears in a URL.
func (h *VaultHandler) ReadRecord(c *gin.Context) {
	grantID := c.GetHeader(HeaderGrantID)
	if grantID == "" {
		SendBadRequest(c, "grant-id header is required")
		return
	}

	record, err := h.vaultService.Read(c.Request.Context(), c.Param("recordId"), grantID, ActorID(c))
	if err != nil {
		SendError(c, err)
		return
	}

	c.JSON(http.StatusOK, record)
}

// ErasePatient handles POST /patients/:patientId/erase
func (h *VaultHandler) ErasePatient(c *gin.Context) {
	var apiRequest models.EraseAPIRequest
	if err := c.ShouldBindJSON(&apiRequest); err != nil && err.Error() != "EOF" {
		SendBadRequest(c, err.Error())
		return
	}

	patientID := c.Param("patientId")
	if err := h.vaultService.ErasePatient(c.Request.Context(), patientID, apiRequest.Reason, ActorID(c)); err != nil {
		SendError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
