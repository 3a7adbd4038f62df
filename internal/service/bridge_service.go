package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/careledger/health-vault-api/internal/config"
	"github.com/careledger/health-vault-api/internal/dao"
	"github.com/careledger/health-vault-api/internal/models"
	"github.com/careledger/health-vault-api/internal/serviceerror"
	"github.com/careledger/health-vault-api/pkg/utils"
)

// BridgeService is the only component that talks to both ledgers. It
// translates consent state into short-lived permission attestations the
// settlement side can verify without ever seeing grant details, record
// contents or consent history.
type BridgeService struct {
	grantDAO *dao.GrantDAO
	audit    *AuditService
	cfg      config.BridgeConfig
	logger   *logrus.Logger
}

// NewBridgeService creates a new bridge service instance
func NewBridgeService(grantDAO *dao.GrantDAO, audit *AuditService, cfg config.BridgeConfig, logger *logrus.Logger) *BridgeService {
	return &BridgeService{
		grantDAO: grantDAO,
		audit:    audit,
		cfg:      cfg,
		logger:   logger,
	}
}

type attestationClaims struct {
	jwt.RegisteredClaims
}

// IssueAttestation mints a permission attestation for a patient if, and
// only if, they hold an active grant covering billing attestations. The
// attestation expires at the earlier of the configured TTL and the
// backing grant's effective end, so a revoked or lapsing consent can
// never be outlived by a proof of it.
func (s *BridgeService) IssueAttestation(ctx context.Context, patientID, requestor string) (*models.PermissionAttestation, error) {
	if err := utils.ValidatePatientID(patientID); err != nil {
		return nil, serviceerror.ValidationError.WithDescription("%s", err.Error())
	}

	now := utils.GetCurrentTimeMillis()

	grants, err := s.grantDAO.FindActiveByPatient(ctx, patientID, now)
	if err != nil {
		return nil, err
	}

	var backing *models.ConsentGrant
	for i := range grants {
		if grants[i].Covers(models.ScopeBillingAttestation) {
			backing = &grants[i]
			break
		}
	}
	if backing == nil {
		s.auditIssue(ctx, requestor, patientID, models.ActionAttestationRejected,
			models.OutcomeFailure, "no active billing consent")
		return nil, serviceerror.NoActiveConsent
	}

	validUntil := now + s.cfg.AttestationTTL.Milliseconds()
	if effective := backing.EffectiveUntil(); effective < validUntil {
		validUntil = effective
	}

	claims := attestationClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   patientID,
			ExpiresAt: jwt.NewNumericDate(utils.MillisToTime(validUntil)),
			IssuedAt:  jwt.NewNumericDate(utils.MillisToTime(now)),
			ID:        utils.GenerateID(),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.SigningKey))
	if err != nil {
		return nil, fmt.Errorf("failed to sign attestation: %w", err)
	}

	digest := sha256.Sum256([]byte(token))
	att := &models.PermissionAttestation{
		PatientID:   patientID,
		ValidUntil:  validUntil,
		Token:       token,
		ProofDigest: hex.EncodeToString(digest[:]),
	}

	s.auditIssue(ctx, requestor, patientID, models.ActionAttestationIssued,
		models.OutcomeSuccess, "digest "+att.ProofDigest)

	return att, nil
}

// Verify checks an attestation token on the settlement side. Any parse,
// signature, issuer, subject or expiry problem fails closed with
// AttestationInvalid; a slow verification is bounded by the configured
// timeout and treated the same as a rejection.
func (s *BridgeService) Verify(ctx context.Context, patientID, token string) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.VerifyTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.verifyToken(patientID, token)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return serviceerror.AttestationInvalid.WithDescription("verification timed out")
	}
}

func (s *BridgeService) verifyToken(patientID, token string) error {
	parsed, err := jwt.ParseWithClaims(token, &attestationClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.SigningKey), nil
	}, jwt.WithIssuer(s.cfg.Issuer), jwt.WithExpirationRequired())
	if err != nil {
		return serviceerror.AttestationInvalid.WithDescription("%v", err)
	}

	claims, ok := parsed.Claims.(*attestationClaims)
	if !ok || !parsed.Valid {
		return serviceerror.AttestationInvalid
	}
	if claims.Subject != patientID {
		return serviceerror.AttestationInvalid.WithDescription("subject does not match patient")
	}
	return nil
}

func (s *BridgeService) auditIssue(ctx context.Context, actor, patientID, action, outcome, detail string) {
	severity := models.SeverityInfo
	if outcome == models.OutcomeFailure {
		severity = models.SeverityWarning
	}
	if _, err := s.audit.Append(ctx, &models.AuditEntry{
		Actor:     actor,
		Action:    action,
		PatientID: patientID,
		Outcome:   outcome,
		Detail:    detail,
		Severity:  severity,
	}); err != nil {
		s.logger.WithError(err).Error("Failed to audit attestation event")
	}
}
