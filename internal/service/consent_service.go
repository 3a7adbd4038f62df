package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/careledger/health-vault-api/internal/dao"
	"github.com/careledger/health-vault-api/internal/database"
	"github.com/careledger/health-vault-api/internal/identity"
	"github.com/careledger/health-vault-api/internal/models"
	"github.com/careledger/health-vault-api/internal/serviceerror"
	"github.com/careledger/health-vault-api/pkg/utils"
)

// ConsentService owns the consent ledger: grant creation, revocation,
// break-glass emergency access and the pure access check the vault relies
// on before every decrypt.
type ConsentService struct {
	grantDAO *dao.GrantDAO
	audit    *AuditService
	prover   identity.Prover
	db       *database.DB
	logger   *logrus.Logger
	// tupleMu serializes grant creation per (patient, grantee, scope)
	// tuple. The tuple lookup's FOR UPDATE locks nothing while no active
	// row exists under READ COMMITTED, so without this two concurrent
	// creates could both pass the lookup and both insert.
	tupleMu *keyedMutex
}

// NewConsentService creates a new consent service instance
func NewConsentService(grantDAO *dao.GrantDAO, audit *AuditService, prover identity.Prover, db *database.DB, logger *logrus.Logger) *ConsentService {
	return &ConsentService{
		grantDAO: grantDAO,
		audit:    audit,
		prover:   prover,
		db:       db,
		logger:   logger,
		tupleMu:  newKeyedMutex(),
	}
}

// GrantConsent creates a consent grant. The ledger enforces the
// one-active-grant-per-(patient, grantee, scope) invariant: when an active
// grant for the exact tuple already exists, the existing grant is returned
// and no new grant is created, so concurrent creates converge instead of
// erroring.
func (s *ConsentService) GrantConsent(ctx context.Context, req *models.GrantConsentAPIRequest, actor string) (*models.GrantResponse, error) {
	if err := utils.ValidatePatientID(req.PatientID); err != nil {
		return nil, serviceerror.ValidationError.WithDescription("%s", err.Error())
	}
	if err := utils.ValidateActorID(req.GranteeID); err != nil {
		return nil, serviceerror.ValidationError.WithDescription("%s", err.Error())
	}

	scope := models.NormalizeScope(req.Scope)
	if len(scope) == 0 {
		return nil, serviceerror.InvalidScope
	}

	now := utils.GetCurrentTimeMillis()
	validFrom := req.ValidFrom
	if validFrom == 0 {
		validFrom = now
	}
	if req.ValidUntil <= now {
		return nil, serviceerror.InvalidWindow
	}
	if req.ValidUntil <= validFrom {
		return nil, serviceerror.InvalidWindow.WithDescription("validity window ends before it starts")
	}

	scopeKey := models.ScopeKey(scope)

	tupleKey := req.PatientID + "|" + req.GranteeID + "|" + scopeKey
	s.tupleMu.Lock(tupleKey)
	defer s.tupleMu.Unlock(tupleKey)

	var result *models.ConsentGrant
	err := s.db.WithTransaction(ctx, func(tx *database.Transaction) error {
		existing, err := s.grantDAO.FindActiveByTupleWithTx(ctx, tx, req.PatientID, req.GranteeID, scopeKey, now)
		if err != nil {
			return err
		}
		if existing != nil {
			result = existing
			return nil
		}

		grant := &models.ConsentGrant{
			GrantID:       utils.GenerateGrantID(),
			PatientID:     req.PatientID,
			GranteeID:     req.GranteeID,
			Scope:         scope,
			ScopeKey:      scopeKey,
			ValidFrom:     validFrom,
			ValidUntil:    req.ValidUntil,
			Revoked:       false,
			Emergency:     false,
			CurrentStatus: models.GrantStatusActive,
			CreatedTime:   now,
			UpdatedTime:   now,
		}

		if err := s.grantDAO.CreateWithTx(ctx, tx, grant); err != nil {
			return err
		}

		if _, err := s.audit.AppendWithTx(ctx, tx, &models.AuditEntry{
			Actor:     actor,
			Action:    models.ActionGrantCreated,
			PatientID: grant.PatientID,
			Outcome:   models.OutcomeSuccess,
			Detail:    "grant " + grant.GrantID + " scope " + scopeKey,
		}); err != nil {
			return err
		}

		result = grant
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"grant_id": result.GrantID,
		"grantee":  result.GranteeID,
	}).Info("Consent grant issued")

	return result.ToResponse(), nil
}

// Revoke revokes a grant. Idempotent: revoking an already-revoked or
// already-expired grant is a no-op success so concurrent revokes never
// fail each other.
func (s *ConsentService) Revoke(ctx context.Context, grantID, reason, actor string) error {
	return s.db.WithTransaction(ctx, func(tx *database.Transaction) error {
		grant, err := s.grantDAO.GetByIDWithTx(ctx, tx, grantID)
		if err != nil {
			return err
		}
		if grant == nil {
			return serviceerror.GrantNotFound
		}

		now := utils.GetCurrentTimeMillis()
		if grant.Revoked || !grant.ActiveAt(now) {
			return nil
		}

		if err := s.grantDAO.UpdateStatusWithTx(ctx, tx, grantID, models.GrantStatusRevoked, true, now); err != nil {
			return err
		}

		detail := "grant " + grantID
		if reason != "" {
			detail += ": " + reason
		}
		if _, err := s.audit.AppendWithTx(ctx, tx, &models.AuditEntry{
			Actor:     actor,
			Action:    models.ActionGrantRevoked,
			PatientID: grant.PatientID,
			Outcome:   models.OutcomeSuccess,
			Detail:    detail,
		}); err != nil {
			return err
		}

		return nil
	})
}

// EmergencyAccess creates a break-glass grant: full scope, active
// immediately, force-expiring 24h after creation no matter what. The
// actor must hold a clinical-role capability; every use is audited at
// critical severity.
func (s *ConsentService) EmergencyAccess(ctx context.Context, req *models.EmergencyAccessAPIRequest, actor string) (*models.GrantResponse, error) {
	if err := utils.ValidateRequired("justification", req.Justification); err != nil {
		return nil, serviceerror.ValidationError.WithDescription("%s", err.Error())
	}

	verified, err := s.prover.VerifyAuthority(ctx, actor, identity.CapabilityClinicalRole)
	if err != nil {
		// Fail closed: an unreachable identity service never grants access.
		return nil, serviceerror.AuthorityDenied.WithDescription("identity proofing unavailable: %v", err)
	}
	if !verified {
		return nil, serviceerror.AuthorityDenied
	}

	now := utils.GetCurrentTimeMillis()
	grant := &models.ConsentGrant{
		GrantID:       utils.GenerateGrantID(),
		PatientID:     req.PatientID,
		GranteeID:     req.GranteeID,
		Scope:         models.StringList{models.FullScope},
		ScopeKey:      models.FullScope,
		ValidFrom:     now,
		ValidUntil:    now + models.EmergencyWindow.Milliseconds(),
		Revoked:       false,
		Emergency:     true,
		CurrentStatus: models.GrantStatusActive,
		CreatedTime:   now,
		UpdatedTime:   now,
	}

	err = s.db.WithTransaction(ctx, func(tx *database.Transaction) error {
		if err := s.grantDAO.CreateWithTx(ctx, tx, grant); err != nil {
			return err
		}

		_, err := s.audit.AppendWithTx(ctx, tx, &models.AuditEntry{
			Actor:     actor,
			Action:    models.ActionEmergencyAccess,
			PatientID: grant.PatientID,
			Outcome:   models.OutcomeSuccess,
			Detail:    "grant " + grant.GrantID + " justification: " + req.Justification,
			Severity:  models.SeverityCritical,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"grant_id":      grant.GrantID,
		"patient":       grant.PatientID,
		"grantee":       grant.GranteeID,
		"justification": req.Justification,
		"severity":      models.SeverityCritical,
	}).Error("Break-glass emergency access granted")

	return grant.ToResponse(), nil
}

// CheckAccess reports whether a grantee may access a record type for a
// patient at the given instant. Pure query, no side effects: the vault
// calls this before every decrypt, and validity is exclusive at the upper
// bound (an instant equal to validUntil is already outside the window).
func (s *ConsentService) CheckAccess(ctx context.Context, patientID, granteeID, recordType string, now int64) (bool, error) {
	grants, err := s.grantDAO.FindActiveByPatientGrantee(ctx, patientID, granteeID, now)
	if err != nil {
		return false, err
	}

	for i := range grants {
		if grants[i].Covers(recordType) {
			return true, nil
		}
	}

	return false, nil
}

// GetGrant returns a grant by ID
func (s *ConsentService) GetGrant(ctx context.Context, grantID string) (*models.GrantResponse, error) {
	grant, err := s.grantDAO.GetByID(ctx, grantID)
	if err != nil {
		return nil, err
	}
	if grant == nil {
		return nil, serviceerror.GrantNotFound
	}
	return grant.ToResponse(), nil
}

// ExportGrants returns a patient's full grant history in commit order for
// independent audit. Grants are never hard-deleted, so the export is
// complete.
func (s *ConsentService) ExportGrants(ctx context.Context, patientID string) ([]models.ConsentGrant, error) {
	return s.grantDAO.ListByPatient(ctx, patientID)
}

// ExpireEmergencyGrants is the periodic sweep moving emergency grants past
// their 24h boundary to EXPIRED. Idempotent and forward-only, so running
// it redundantly from several instances is safe. Access checks compute
// the cap themselves; the sweep only keeps stored state tidy.
func (s *ConsentService) ExpireEmergencyGrants(ctx context.Context) error {
	now := utils.GetCurrentTimeMillis()
	expired, err := s.grantDAO.ExpireEmergencyGrants(ctx, now)
	if err != nil {
		return err
	}

	if expired > 0 {
		s.logger.WithField("count", expired).Info("Expired emergency grants past the 24h window")
	}

	return nil
}
