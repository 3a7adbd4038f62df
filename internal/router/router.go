package router

import (
	"github.com/gin-gonic/gin"

	"github.com/careledger/health-vault-api/internal/advisory"
	"github.com/careledger/health-vault-api/internal/handlers"
	"github.com/careledger/health-vault-api/internal/service"
	"github.com/careledger/health-vault-api/pkg/utils"
)

// SetupRouter configures all API routes
func SetupRouter(
	consentService *service.ConsentService,
	vaultService *service.VaultService,
	claimsService *service.ClaimsService,
	bridgeService *service.BridgeService,
	auditService *service.AuditService,
	suggester advisory.Suggester,
) *gin.Engine {
	router := gin.Default()

	// Global middleware: propagate the caller identity and tag every
	// request with a correlation ID for log stitching.
	router.Use(func(c *gin.Context) {
		correlationID := c.GetHeader("correlation-id")
		if correlationID == "" {
			correlationID = utils.GenerateID()
		}
		c.Set("correlationID", correlationID)
		c.Writer.Header().Set("correlation-id", correlationID)

		c.Next()
	})

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "healthy"})
	})

	// Create handlers
	consentHandler := handlers.NewConsentHandler(consentService)
	vaultHandler := handlers.NewVaultHandler(vaultService)
	claimsHandler := handlers.NewClaimsHandler(claimsService, suggester)
	bridgeHandler := handlers.NewBridgeHandler(bridgeService)
	auditHandler := handlers.NewAuditHandler(auditService)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Consent ledger routes
		consents := v1.Group("/consents")
		{
			consents.POST("", consentHandler.GrantConsent)
			consents.POST("/emergency", consentHandler.EmergencyAccess)
			consents.GET("/:grantId", consentHandler.GetGrant)
			consents.POST("/:grantId/revoke", consentHandler.Revoke)
		}

		// Record vault routes
		records := v1.Group("/records")
		{
			records.POST("", vaultHandler.WriteRecord)
			records.GET("/:recordId", vaultHandler.ReadRecord)
		}

		// Patient-scoped routes
		patients := v1.Group("/patients")
		{
			patients.GET("/:patientId/consents", consentHandler.ExportGrants)
			patients.POST("/:patientId/erase", vaultHandler.ErasePatient)
		}

		// Claims settlement routes
		claims := v1.Group("/claims")
		{
			claims.POST("", claimsHandler.SubmitClaim)
			claims.POST("/suggest-codes", claimsHandler.SuggestCodes)
			claims.GET("/:claimId", claimsHandler.GetClaim)
			claims.GET("/:claimId/history", claimsHandler.GetClaimHistory)
			claims.POST("/:claimId/review", claimsHandler.ReviewClaim)
			claims.POST("/:claimId/dispute", claimsHandler.DisputeClaim)
			claims.POST("/:claimId/resolve", claimsHandler.ResolveDispute)
		}

		// Cross-ledger bridge routes
		attestations := v1.Group("/attestations")
		{
			attestations.POST("", bridgeHandler.IssueAttestation)
			attestations.POST("/verify", bridgeHandler.VerifyAttestation)
		}

		// Audit export and verification routes
		audit := v1.Group("/audit")
		{
			audit.GET("/:shard", auditHandler.ExportShard)
			audit.GET("/:shard/verify", auditHandler.VerifyShard)
		}
	}

	return router
}
