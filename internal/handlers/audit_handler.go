package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/careledger/health-vault-api/internal/service"
)

// AuditHandler handles audit log HTTP requests
type AuditHandler struct {
	auditService *service.AuditService
}

// NewAuditHandler creates a new audit handler instance
func NewAuditHandler(auditService *service.AuditService) *AuditHandler {
	return &AuditHandler{auditService: auditService}
}

// ExportShard handles GET /audit/:shard. The response is the ordered,
// hash-verifiable sequence an independent auditor replays offline.
func (h *AuditHandler) ExportShard(c *gin.Context) {
	entries, err := h.auditService.Export(c.Request.Context(), c.Param("shard"))
	if err != nil {
		SendError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// VerifyShard handles GET /audit/:shard/verify?from=&to=. Without a
// range it recomputes the whole chain from genesis.
func (h *AuditHandler) VerifyShard(c *gin.Context) {
	shard := c.Param("shard")

	fromStr, toStr := c.Query("from"), c.Query("to")
	if fromStr == "" && toStr == "" {
		valid, err := h.auditService.VerifyFull(c.Request.Context(), shard)
		if err != nil {
			SendError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"shard": shard, "valid": valid})
		return
	}

	from, err := strconv.ParseInt(fromStr, 10, 64)
	if err != nil || from < 0 {
		SendBadRequest(c, "from must be a non-negative sequence number")
		return
	}
	to, err := strconv.ParseInt(toStr, 10, 64)
	if err != nil || to < from {
		SendBadRequest(c, "to must be a sequence number at or after from")
		return
	}

	valid, err := h.auditService.VerifyChain(c.Request.Context(), shard, from, to)
	if err != nil {
		SendError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"shard": shard, "valid": valid})
}
