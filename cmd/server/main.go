package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/careledger/health-vault-api/internal/advisory"
	"github.com/careledger/health-vault-api/internal/codetable"
	"github.com/careledger/health-vault-api/internal/config"
	"github.com/careledger/health-vault-api/internal/dao"
	"github.com/careledger/health-vault-api/internal/database"
	"github.com/careledger/health-vault-api/internal/identity"
	"github.com/careledger/health-vault-api/internal/router"
	"github.com/careledger/health-vault-api/internal/service"
)

// Version information (set by build script)
var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	// Set Gin to release mode by default (can be overridden by GIN_MODE env var)
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	logger.WithFields(logrus.Fields{
		"version":    version,
		"build_date": buildDate,
	}).Info("Starting Health Vault API Server...")

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	// Set log level from config
	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(level)
	}

	logger.WithFields(logrus.Fields{
		"config_path": configPath,
		"log_level":   logger.GetLevel().String(),
	}).Info("Configuration loaded successfully")

	// Initialize database
	db, err := database.Initialize(&cfg.Database.Vault, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database")
	}

	// Verify database connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.HealthCheck(ctx); err != nil {
		logger.WithError(err).Fatal("Database health check failed")
	}

	logger.Info("Database connection established successfully")

	// Initialize DAOs
	grantDAO := dao.NewGrantDAO(db)
	recordDAO := dao.NewRecordDAO(db)
	auditDAO := dao.NewAuditDAO(db)
	claimDAO := dao.NewClaimDAO(db)
	keyStore := dao.NewKeyStoreDAO(db)

	logger.Info("DAOs initialized successfully")

	// Initialize external collaborators
	identityClient := identity.NewClient(&cfg.Identity, logger)
	advisoryClient := advisory.NewClient(&cfg.Advisory, logger)
	codeProvider := codetable.NewSQLProvider(db)

	logger.WithField("advisory_enabled", advisoryClient.IsEnabled()).Info("External collaborators initialized")

	// Initialize services
	auditService := service.NewAuditService(auditDAO, db, logger)

	consentService := service.NewConsentService(
		grantDAO,
		auditService,
		identityClient,
		db,
		logger,
	)

	vaultService := service.NewVaultService(
		recordDAO,
		grantDAO,
		keyStore,
		auditService,
		identityClient,
		db,
		logger,
	)

	bridgeService := service.NewBridgeService(grantDAO, auditService, cfg.Bridge, logger)

	claimsService := service.NewClaimsService(
		claimDAO,
		codeProvider,
		bridgeService,
		identityClient,
		auditService,
		cfg.Claims,
		db,
		logger,
	)

	logger.Info("Services initialized successfully")

	// Background sweeps: both are idempotent and forward-only, so
	// running them on every instance is safe.
	sweepCtx, stopSweeps := context.WithCancel(context.Background())
	go runSweep(sweepCtx, cfg.Sweeps.EmergencyExpiryInterval, logger, "emergency-expiry", func(ctx context.Context) error {
		return consentService.ExpireEmergencyGrants(ctx)
	})
	go runSweep(sweepCtx, cfg.Sweeps.AppealCloseInterval, logger, "appeal-close", func(ctx context.Context) error {
		_, err := claimsService.CloseExpiredAppeals(ctx)
		return err
	})

	// Setup router
	ginRouter := router.SetupRouter(
		consentService,
		vaultService,
		claimsService,
		bridgeService,
		auditService,
		advisoryClient,
	)

	// Configure HTTP server
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Hostname, cfg.Server.Port)
	server := &http.Server{
		Addr:           serverAddr,
		Handler:        ginRouter,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: 1 << 20, // 1 MB
	}

	// Start server in a goroutine
	go func() {
		logger.WithFields(logrus.Fields{
			"hostname": cfg.Server.Hostname,
			"port":     cfg.Server.Port,
			"addr":     serverAddr,
		}).Info("Starting HTTP server...")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	logger.WithField("address", serverAddr).Info("✓ Server is running")
	logger.Info("Press Ctrl+C to stop the server")

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	stopSweeps()

	// Graceful shutdown with timeout
	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited gracefully")
}

// runSweep runs a maintenance job on a fixed interval until ctx is cancelled
func runSweep(ctx context.Context, interval time.Duration, logger *logrus.Logger, name string, job func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := job(ctx); err != nil {
				logger.WithError(err).WithField("sweep", name).Error("Sweep run failed")
			}
		}
	}
}
