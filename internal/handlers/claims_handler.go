package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/careledger/health-vault-api/internal/advisory"
	"github.com/careledger/health-vault-api/internal/models"
	"github.com/careledger/health-vault-api/internal/service"
)

// ClaimsHandler handles settlement engine HTTP requests
type ClaimsHandler struct {
	claimsService *service.ClaimsService
	suggester     advisory.Suggester
}

// NewClaimsHandler creates a new claims handler instance
func NewClaimsHandler(claimsService *service.ClaimsService, suggester advisory.Suggester) *ClaimsHandler {
	return &ClaimsHandler{
		claimsService: claimsService,
		suggester:     suggester,
	}
}

// SubmitClaim handles POST /claims
func (h *ClaimsHandler) SubmitClaim(c *gin.Context) {
	var apiRequest models.SubmitClaimAPIRequest
	if err := c.ShouldBindJSON(&apiRequest); err != nil {
		SendBadRequest(c, err.Error())
		return
	}

	claim, err := h.claimsService.SubmitClaim(c.Request.Context(), &apiRequest)
	if err != nil {
		SendError(c, err)
		return
	}

	c.JSON(http.StatusCreated, claim)
}

// GetClaim handles GET /claims/:claimId
func (h *ClaimsHandler) GetClaim(c *gin.Context) {
	claim, err := h.claimsService.GetClaim(c.Request.Context(), c.Param("claimId"))
	if err != nil {
		SendError(c, err)
		return
	}

	c.JSON(http.StatusOK, claim)
}

// GetClaimHistory handles GET /claims/:claimId/history
func (h *ClaimsHandler) GetClaimHistory(c *gin.Context) {
	events, err := h.claimsService.GetClaimHistory(c.Request.Context(), c.Param("claimId"))
	if err != nil {
		SendError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

// ReviewClaim handles POST /claims/:claimId/review
func (h *ClaimsHandler) ReviewClaim(c *gin.Context) {
	var apiRequest models.ReviewClaimAPIRequest
	if err := c.ShouldBindJSON(&apiRequest); err != nil {
		SendBadRequest(c, err.Error())
		return
	}

	claim, err := h.claimsService.ReviewClaim(c.Request.Context(), c.Param("claimId"), &apiRequest, ActorID(c))
	if err != nil {
		SendError(c, err)
		return
	}

	c.JSON(http.StatusOK, claim)
}

// DisputeClaim handles POST /claims/:claimId/dispute
func (h *ClaimsHandler) DisputeClaim(c *gin.Context) {
	var apiRequest models.DisputeAPIRequest
	if err := c.ShouldBindJSON(&apiRequest); err != nil {
		SendBadRequest(c, err.Error())
		return
	}

	claim, err := h.claimsService.Dispute(c.Request.Context(), c.Param("claimId"), &apiRequest, ActorID(c))
	if err != nil {
		SendError(c, err)
		return
	}

	c.JSON(http.StatusOK, claim)
}

// ResolveDispute handles POST /claims/:claimId/resolve
func (h *ClaimsHandler) ResolveDispute(c *gin.Context) {
	var apiRequest models.ResolveDisputeAPIRequest
	if err := c.ShouldBindJSON(&apiRequest); err != nil {
		SendBadRequest(c, err.Error())
		return
	}

	claim, err := h.claimsService.ResolveDispute(c.Request.Context(), c.Param("claimId"), &apiRequest, ActorID(c))
	if err != nil {
		SendError(c, err)
		return
	}

	c.JSON(http.StatusOK, claim)
}

// suggestCodesAPIRequest is the inbound payload for advisory suggestions
type suggestCodesAPIRequest struct {
	FreeText string `json:"freeText" binding:"required"`
}

// SuggestCodes handles POST /claims/suggest-codes. Suggestions are purely
// advisory; nothing here touches a claim.
func (h *ClaimsHandler) SuggestCodes(c *gin.Context) {
	var apiRequest suggestCodesAPIRequest
	if err := c.ShouldBindJSON(&apiRequest); err != nil {
		SendBadRequest(c, err.Error())
		return
	}

	candidates, err := h.suggester.SuggestCodes(c.Request.Context(), apiRequest.FreeText)
	if err != nil {
		SendError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"candidates": candidates, "count": len(candidates)})
}
