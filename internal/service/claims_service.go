package service

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/careledger/health-vault-api/internal/codetable"
	"github.com/careledger/health-vault-api/internal/config"
	"github.com/careledger/health-vault-api/internal/dao"
	"github.com/careledger/health-vault-api/internal/database"
	"github.com/careledger/health-vault-api/internal/identity"
	"github.com/careledger/health-vault-api/internal/models"
	"github.com/careledger/health-vault-api/internal/serviceerror"
	"github.com/careledger/health-vault-api/pkg/utils"
)

// Attester is the bridge surface the settlement engine depends on. The
// engine never reads consent state directly; it only ever sees a
// short-lived attestation or its absence.
type Attester interface {
	IssueAttestation(ctx context.Context, patientID, requestor string) (*models.PermissionAttestation, error)
}

// ClaimsService runs the settlement state machine. Claims move
// Submitted, CodeValidated, then AutoApproved or PendingReview, and end
// in Settled, Rejected or Resolved. Terminal states never move again;
// every transition is guarded by the claim's row version and recorded as
// both a claim event and an audit entry.
type ClaimsService struct {
	claimDAO *dao.ClaimDAO
	codes    codetable.Provider
	bridge   Attester
	prover   identity.Prover
	audit    *AuditService
	cfg      config.ClaimsConfig
	db       *database.DB
	logger   *logrus.Logger
}

// NewClaimsService creates a new claims service instance
func NewClaimsService(
	claimDAO *dao.ClaimDAO,
	codes codetable.Provider,
	bridge Attester,
	prover identity.Prover,
	audit *AuditService,
	cfg config.ClaimsConfig,
	db *database.DB,
	logger *logrus.Logger,
) *ClaimsService {
	return &ClaimsService{
		claimDAO: claimDAO,
		codes:    codes,
		bridge:   bridge,
		prover:   prover,
		audit:    audit,
		cfg:      cfg,
		db:       db,
		logger:   logger,
	}
}

// reviewReason explains why a claim was routed to manual review
type reviewReason string

const (
	reviewNone        reviewReason = ""
	reviewOverLimit   reviewReason = "amount at or above auto-approval threshold"
	reviewNoProof     reviewReason = "permission attestation missing or invalid"
	reviewDuplicate   reviewReason = "unresolved duplicate claim within cooldown window"
	reasonAutoApprove              = "under threshold with valid attestation"
)

// routeClaim decides, for a code-validated claim, whether it auto-approves
// or goes to manual review. Pure policy: amount below the threshold, a
// valid attestation and no unresolved duplicate are all required for the
// automatic path; any single failure routes to review, never to rejection.
func routeClaim(amountMinor, threshold int64, attested, duplicate bool) reviewReason {
	if amountMinor >= threshold {
		return reviewOverLimit
	}
	if !attested {
		return reviewNoProof
	}
	if duplicate {
		return reviewDuplicate
	}
	return reviewNone
}

// SubmitClaim validates and routes a new claim. The claim ID is
// caller-supplied; resubmitting an existing ID returns that claim's
// current state instead of creating a duplicate. Code validation failures
// persist nothing and are audited as rejections.
func (s *ClaimsService) SubmitClaim(ctx context.Context, req *models.SubmitClaimAPIRequest) (*models.ClaimResponse, error) {
	if err := s.validateSubmit(req); err != nil {
		return nil, err
	}

	existing, err := s.claimDAO.GetByID(ctx, req.ClaimID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing.ToResponse(), nil
	}

	now := utils.GetCurrentTimeMillis()

	// Codes validate against the table version in effect at submission,
	// so rotating tables never retroactively invalidates this claim.
	if _, err := s.codes.Lookup(ctx, req.Code, now); err != nil {
		s.auditClaim(ctx, req.ProviderID, req.PatientID, models.ActionClaimRejected,
			models.OutcomeFailure, "claim "+req.ClaimID+" code validation failed: "+err.Error())
		return nil, err
	}

	attested := false
	attestationDigest := ""
	attestationFailure := ""
	if att, err := s.bridge.IssueAttestation(ctx, req.PatientID, req.ProviderID); err == nil {
		attested = true
		attestationDigest = att.ProofDigest
	} else {
		attestationFailure = err.Error()
	}

	cooldownStart := now - s.cfg.DuplicateCooldown.Milliseconds()
	dup, err := s.claimDAO.FindUnresolvedDuplicate(ctx, req.PatientID, req.ProviderID, req.Code, cooldownStart, req.ClaimID)
	if err != nil {
		return nil, err
	}

	reason := routeClaim(req.Amount, s.cfg.AutoApprovalThreshold, attested, dup != nil)

	claim := &models.Claim{
		ClaimID:           req.ClaimID,
		PatientID:         req.PatientID,
		ProviderID:        req.ProviderID,
		Code:              req.Code,
		AmountMinor:       req.Amount,
		State:             models.ClaimStateSubmitted,
		SubmittedAt:       now,
		AttestationDigest: attestationDigest,
		CreatedTime:       now,
		UpdatedTime:       now,
	}

	err = s.db.WithTransaction(ctx, func(tx *database.Transaction) error {
		if err := s.claimDAO.CreateWithTx(ctx, tx, claim); err != nil {
			return err
		}
		if err := s.auditClaimWithTx(ctx, tx, req.ProviderID, claim,
			models.ActionClaimSubmitted, "code "+req.Code); err != nil {
			return err
		}

		if err := s.transitionWithTx(ctx, tx, claim, models.ClaimStateCodeValidated,
			req.ProviderID, "code "+req.Code+" valid at submission", nil); err != nil {
			return err
		}

		if reason == reviewNone {
			if err := s.transitionWithTx(ctx, tx, claim, models.ClaimStateAutoApproved,
				"settlement-engine", reasonAutoApprove, nil); err != nil {
				return err
			}
			settled := claim.AmountMinor
			claim.SettledMinor = &settled
			settledAt := utils.GetCurrentTimeMillis()
			claim.SettledAt = &settledAt
			if err := s.transitionWithTx(ctx, tx, claim, models.ClaimStateSettled,
				"settlement-engine", "auto-approved settlement", &settled); err != nil {
				return err
			}
			return s.auditClaimWithTx(ctx, tx, "settlement-engine", claim,
				models.ActionClaimAutoApproved, "settled at "+reasonAutoApprove)
		}

		// A missing attestation never fails silently: the audit trail
		// carries the exact issuance failure alongside the routing reason.
		detail := string(reason)
		if reason == reviewNoProof && attestationFailure != "" {
			detail += ": " + attestationFailure
		}
		if err := s.transitionWithTx(ctx, tx, claim, models.ClaimStatePendingReview,
			"settlement-engine", detail, nil); err != nil {
			return err
		}
		return s.auditClaimWithTx(ctx, tx, "settlement-engine", claim,
			models.ActionClaimPendingReview, detail)
	})
	if err != nil {
		// Two concurrent submissions of the same claimId can both pass the
		// existence check; the loser hits the primary key and converges on
		// the winner's claim instead of erroring.
		if dao.IsDuplicateEntry(err) {
			if existing, getErr := s.claimDAO.GetByID(ctx, req.ClaimID); getErr == nil && existing != nil {
				return existing.ToResponse(), nil
			}
		}
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"claim": claim.ClaimID,
		"state": claim.State,
	}).Info("Claim submitted")

	return claim.ToResponse(), nil
}

// ReviewClaim applies a manual decision to a claim in PendingReview. The
// reviewer must hold the claim-reviewer capability. An approval may carry
// an amount that overrides the requested one.
func (s *ClaimsService) ReviewClaim(ctx context.Context, claimID string, req *models.ReviewClaimAPIRequest, reviewer string) (*models.ClaimResponse, error) {
	if req.Decision != models.ReviewDecisionApprove && req.Decision != models.ReviewDecisionReject {
		return nil, serviceerror.ValidationError.WithDescription("decision must be %s or %s",
			models.ReviewDecisionApprove, models.ReviewDecisionReject)
	}
	if req.Amount != nil {
		if err := utils.ValidateAmountMinor(*req.Amount); err != nil {
			return nil, serviceerror.ValidationError.WithDescription("%s", err.Error())
		}
	}

	verified, err := s.prover.VerifyAuthority(ctx, reviewer, identity.CapabilityClaimReviewer)
	if err != nil {
		return nil, serviceerror.AuthorityDenied.WithDescription("identity proofing unavailable: %v", err)
	}
	if !verified {
		return nil, serviceerror.AuthorityDenied
	}

	var claim *models.Claim
	err = s.db.WithTransaction(ctx, func(tx *database.Transaction) error {
		claim, err = s.claimDAO.GetByIDWithTx(ctx, tx, claimID)
		if err != nil {
			return err
		}
		if claim == nil {
			return serviceerror.ResourceNotFound.WithDescription("claim %s not found", claimID)
		}
		if claim.State != models.ClaimStatePendingReview {
			return serviceerror.InvalidTransition.WithDescription(
				"claim is %s, review requires %s", claim.State, models.ClaimStatePendingReview)
		}

		now := utils.GetCurrentTimeMillis()

		if req.Decision == models.ReviewDecisionReject {
			if err := s.transitionWithTx(ctx, tx, claim, models.ClaimStateRejected,
				reviewer, req.Reason, nil); err != nil {
				return err
			}
			return s.auditClaimWithTx(ctx, tx, reviewer, claim, models.ActionClaimRejected, req.Reason)
		}

		settled := claim.AmountMinor
		if req.Amount != nil {
			settled = *req.Amount
		}
		claim.SettledMinor = &settled
		claim.SettledAt = &now
		if err := s.transitionWithTx(ctx, tx, claim, models.ClaimStateSettled,
			reviewer, req.Reason, &settled); err != nil {
			return err
		}
		return s.auditClaimWithTx(ctx, tx, reviewer, claim, models.ActionClaimSettled,
			"settled after review")
	})
	if err != nil {
		return nil, err
	}

	return claim.ToResponse(), nil
}

// Dispute moves a settled claim into Disputed. Only claims settled within
// the appeal window can be disputed; anything later fails with
// AppealWindowClosed, anything in another state with InvalidTransition.
func (s *ClaimsService) Dispute(ctx context.Context, claimID string, req *models.DisputeAPIRequest, actor string) (*models.ClaimResponse, error) {
	if err := utils.ValidateRequired("reason", req.Reason); err != nil {
		return nil, serviceerror.ValidationError.WithDescription("%s", err.Error())
	}

	var claim *models.Claim
	err := s.db.WithTransaction(ctx, func(tx *database.Transaction) error {
		var err error
		claim, err = s.claimDAO.GetByIDWithTx(ctx, tx, claimID)
		if err != nil {
			return err
		}
		if claim == nil {
			return serviceerror.ResourceNotFound.WithDescription("claim %s not found", claimID)
		}
		if claim.State != models.ClaimStateSettled {
			return serviceerror.InvalidTransition.WithDescription(
				"claim is %s, only %s claims can be disputed", claim.State, models.ClaimStateSettled)
		}

		now := utils.GetCurrentTimeMillis()
		if claim.SettledAt == nil || now >= *claim.SettledAt+s.cfg.AppealWindow.Milliseconds() {
			return serviceerror.AppealWindowClosed
		}

		claim.DisputeReason = &req.Reason
		if err := s.transitionWithTx(ctx, tx, claim, models.ClaimStateDisputed,
			actor, req.Reason, nil); err != nil {
			return err
		}
		return s.auditClaimWithTx(ctx, tx, actor, claim, models.ActionClaimDisputed, req.Reason)
	})
	if err != nil {
		return nil, err
	}

	return claim.ToResponse(), nil
}

// ResolveDispute closes or reopens a disputed claim. RESOLVE finalizes it
// as Resolved, optionally amending the settled amount; REOPEN sends it
// back to manual review. Resolution requires the claim-reviewer capability.
func (s *ClaimsService) ResolveDispute(ctx context.Context, claimID string, req *models.ResolveDisputeAPIRequest, reviewer string) (*models.ClaimResponse, error) {
	if req.Decision != models.ResolveDecisionResolve && req.Decision != models.ResolveDecisionReopen {
		return nil, serviceerror.ValidationError.WithDescription("decision must be %s or %s",
			models.ResolveDecisionResolve, models.ResolveDecisionReopen)
	}
	if req.Amount != nil {
		if err := utils.ValidateAmountMinor(*req.Amount); err != nil {
			return nil, serviceerror.ValidationError.WithDescription("%s", err.Error())
		}
	}

	verified, err := s.prover.VerifyAuthority(ctx, reviewer, identity.CapabilityClaimReviewer)
	if err != nil {
		return nil, serviceerror.AuthorityDenied.WithDescription("identity proofing unavailable: %v", err)
	}
	if !verified {
		return nil, serviceerror.AuthorityDenied
	}

	var claim *models.Claim
	err = s.db.WithTransaction(ctx, func(tx *database.Transaction) error {
		claim, err = s.claimDAO.GetByIDWithTx(ctx, tx, claimID)
		if err != nil {
			return err
		}
		if claim == nil {
			return serviceerror.ResourceNotFound.WithDescription("claim %s not found", claimID)
		}
		if claim.State != models.ClaimStateDisputed {
			return serviceerror.InvalidTransition.WithDescription(
				"claim is %s, resolution requires %s", claim.State, models.ClaimStateDisputed)
		}

		if req.Decision == models.ResolveDecisionReopen {
			if err := s.transitionWithTx(ctx, tx, claim, models.ClaimStatePendingReview,
				reviewer, req.Reason, nil); err != nil {
				return err
			}
			return s.auditClaimWithTx(ctx, tx, reviewer, claim,
				models.ActionClaimPendingReview, "dispute reopened for review")
		}

		if req.Amount != nil {
			claim.SettledMinor = req.Amount
		}
		if err := s.transitionWithTx(ctx, tx, claim, models.ClaimStateResolved,
			reviewer, req.Reason, req.Amount); err != nil {
			return err
		}
		return s.auditClaimWithTx(ctx, tx, reviewer, claim, models.ActionClaimResolved, req.Reason)
	})
	if err != nil {
		return nil, err
	}

	return claim.ToResponse(), nil
}

// GetClaim returns a claim's current state
func (s *ClaimsService) GetClaim(ctx context.Context, claimID string) (*models.ClaimResponse, error) {
	claim, err := s.claimDAO.GetByID(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if claim == nil {
		return nil, serviceerror.ResourceNotFound.WithDescription("claim %s not found", claimID)
	}
	return claim.ToResponse(), nil
}

// GetClaimHistory returns a claim's full transition history for dispute review
func (s *ClaimsService) GetClaimHistory(ctx context.Context, claimID string) ([]models.ClaimEvent, error) {
	claim, err := s.claimDAO.GetByID(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if claim == nil {
		return nil, serviceerror.ResourceNotFound.WithDescription("claim %s not found", claimID)
	}
	return s.claimDAO.GetEvents(ctx, claimID)
}

// CloseExpiredAppeals finalizes settled claims whose appeal window has
// passed. Forward-only and idempotent, so redundant sweeps from multiple
// instances are safe.
func (s *ClaimsService) CloseExpiredAppeals(ctx context.Context) (int, error) {
	cutoff := utils.GetCurrentTimeMillis() - s.cfg.AppealWindow.Milliseconds()

	claims, err := s.claimDAO.ListSettledBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	closed := 0
	for i := range claims {
		claim := claims[i]
		err := s.db.WithTransaction(ctx, func(tx *database.Transaction) error {
			if err := s.transitionWithTx(ctx, tx, &claim, models.ClaimStateResolved,
				"settlement-engine", "appeal window closed", nil); err != nil {
				return err
			}
			return s.auditClaimWithTx(ctx, tx, "settlement-engine", &claim,
				models.ActionClaimResolved, "appeal window closed")
		})
		if err != nil {
			// another instance won the race for this claim
			if errors.Is(err, serviceerror.ConcurrentModification) {
				continue
			}
			return closed, err
		}
		closed++
	}

	if closed > 0 {
		s.logger.WithField("count", closed).Info("Closed expired claim appeals")
	}
	return closed, nil
}

func (s *ClaimsService) validateSubmit(req *models.SubmitClaimAPIRequest) error {
	if err := utils.ValidateRequired("claimId", req.ClaimID); err != nil {
		return serviceerror.ValidationError.WithDescription("%s", err.Error())
	}
	if err := utils.ValidatePatientID(req.PatientID); err != nil {
		return serviceerror.ValidationError.WithDescription("%s", err.Error())
	}
	if err := utils.ValidateActorID(req.ProviderID); err != nil {
		return serviceerror.ValidationError.WithDescription("%s", err.Error())
	}
	if err := utils.ValidateBillingCode(req.Code); err != nil {
		return serviceerror.ValidationError.WithDescription("%s", err.Error())
	}
	if err := utils.ValidateAmountMinor(req.Amount); err != nil {
		return serviceerror.ValidationError.WithDescription("%s", err.Error())
	}
	return nil
}

// transitionWithTx moves a claim to the next state under its row-version
// guard and appends the matching claim event.
func (s *ClaimsService) transitionWithTx(ctx context.Context, tx *database.Transaction, claim *models.Claim, toState, actionBy, reason string, amount *int64) error {
	fromState := claim.State
	claim.State = toState
	claim.UpdatedTime = utils.GetCurrentTimeMillis()

	if err := s.claimDAO.UpdateGuardedWithTx(ctx, tx, claim); err != nil {
		claim.State = fromState
		return err
	}

	return s.claimDAO.AddEventWithTx(ctx, tx, &models.ClaimEvent{
		EventID:     utils.GenerateEventID(),
		ClaimID:     claim.ClaimID,
		FromState:   fromState,
		ToState:     toState,
		ActionBy:    actionBy,
		Reason:      reason,
		AmountMinor: amount,
		EventTime:   claim.UpdatedTime,
	})
}

func (s *ClaimsService) auditClaimWithTx(ctx context.Context, tx *database.Transaction, actor string, claim *models.Claim, action, detail string) error {
	_, err := s.audit.AppendWithTx(ctx, tx, &models.AuditEntry{
		Actor:     actor,
		Action:    action,
		PatientID: claim.PatientID,
		Outcome:   models.OutcomeSuccess,
		Detail:    "claim " + claim.ClaimID + ": " + detail,
	})
	return err
}

func (s *ClaimsService) auditClaim(ctx context.Context, actor, patientID, action, outcome, detail string) {
	if _, err := s.audit.Append(ctx, &models.AuditEntry{
		Actor:     actor,
		Action:    action,
		PatientID: patientID,
		Outcome:   outcome,
		Detail:    detail,
		Severity:  models.SeverityWarning,
	}); err != nil {
		s.logger.WithError(err).Error("Failed to audit claim event")
	}
}
