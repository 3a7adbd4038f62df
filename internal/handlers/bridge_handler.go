package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/careledger/health-vault-api/internal/service"
)

// BridgeHandler handles cross-ledger attestation HTTP requests
type BridgeHandler struct {
	bridgeService *service.BridgeService
}

// NewBridgeHandler creates a new bridge handler instance
func NewBridgeHandler(bridgeService *service.BridgeService) *BridgeHandler {
	return &BridgeHandler{bridgeService: bridgeService}
}

// issueAttestationAPIRequest is the inbound payload for minting an attestation
type issueAttestationAPIRequest struct {
	PatientID string `json:"patientIdentity" binding:"required"`
}

// verifyAttestationAPIRequest is the inbound payload for verifying a token
type verifyAttestationAPIRequest struct {
	PatientID string `json:"patientIdentity" binding:"required"`
	Token     string `json:"token" binding:"required"`
}

// IssueAttestation handles POST /attestations
func (h *BridgeHandler) IssueAttestation(c *gin.Context) {
	var apiRequest issueAttestationAPIRequest
	if err := c.ShouldBindJSON(&apiRequest); err != nil {
		SendBadRequest(c, err.Error())
		return
	}

	att, err := h.bridgeService.IssueAttestation(c.Request.Context(), apiRequest.PatientID, ActorID(c))
	if err != nil {
		SendError(c, err)
		return
	}

	c.JSON(http.StatusCreated, att)
}

// VerifyAttestation handles POST /attestations/verify
func (h *BridgeHandler) VerifyAttestation(c *gin.Context) {
	var apiRequest verifyAttestationAPIRequest
	if err := c.ShouldBindJSON(&apiRequest); err != nil {
		SendBadRequest(c, err.Error())
		return
	}

	if err := h.bridgeService.Verify(c.Request.Context(), apiRequest.PatientID, apiRequest.Token); err != nil {
		SendError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"valid": true})
}
