package dao

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/careledger/health-vault-api/internal/database"
	"github.com/careledger/health-vault-api/internal/models"
	"github.com/careledger/health-vault-api/internal/serviceerror"
)

// ClaimDAO handles database operations for claims and their transition
// history. Claim rows carry ROW_VERSION for optimistic concurrency; every
// transition also appends a VLT_CLAIM_EVENT row in the same transaction.
type ClaimDAO struct {
	db *database.DB
}

// NewClaimDAO creates a new ClaimDAO instance
func NewClaimDAO(db *database.DB) *ClaimDAO {
	return &ClaimDAO{db: db}
}

// CreateWithTx inserts a new claim using a transaction
func (dao *ClaimDAO) CreateWithTx(ctx context.Context, tx *database.Transaction, claim *models.Claim) error {
	query := `
		INSERT INTO VLT_CLAIM (
			CLAIM_ID, PATIENT_ID, PROVIDER_ID, CODE, AMOUNT_MINOR, SETTLED_MINOR,
			CURRENT_STATE, SUBMITTED_AT, SETTLED_AT, DISPUTE_REASON,
			ATTESTATION_DIGEST, ROW_VERSION, CREATED_TIME, UPDATED_TIME
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := tx.ExecContext(
		ctx,
		query,
		claim.ClaimID,
		claim.PatientID,
		claim.ProviderID,
		claim.Code,
		claim.AmountMinor,
		claim.SettledMinor,
		claim.State,
		claim.SubmittedAt,
		claim.SettledAt,
		claim.DisputeReason,
		claim.AttestationDigest,
		claim.RowVersion,
		claim.CreatedTime,
		claim.UpdatedTime,
	)

	if err != nil {
		return fmt.Errorf("failed to create claim: %w", err)
	}

	return nil
}

// GetByID retrieves a claim by ID. Returns (nil, nil) when no claim exists.
func (dao *ClaimDAO) GetByID(ctx context.Context, claimID string) (*models.Claim, error) {
	query := `SELECT * FROM VLT_CLAIM WHERE CLAIM_ID = ?`

	var claim models.Claim
	err := dao.db.GetContext(ctx, &claim, query, claimID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get claim: %w", err)
	}

	return &claim, nil
}

// GetByIDWithTx retrieves a claim by ID inside a transaction
func (dao *ClaimDAO) GetByIDWithTx(ctx context.Context, tx *database.Transaction, claimID string) (*models.Claim, error) {
	query := `SELECT * FROM VLT_CLAIM WHERE CLAIM_ID = ?`

	var claim models.Claim
	err := tx.GetContext(ctx, &claim, query, claimID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get claim: %w", err)
	}

	return &claim, nil
}

// UpdateGuardedWithTx persists claim mutations guarded by the row version
// the caller read. Returns ConcurrentModification when another transition
// won the race.
func (dao *ClaimDAO) UpdateGuardedWithTx(ctx context.Context, tx *database.Transaction, claim *models.Claim) error {
	query := `
		UPDATE VLT_CLAIM
		SET CURRENT_STATE = ?, SETTLED_MINOR = ?, SETTLED_AT = ?, DISPUTE_REASON = ?,
			ATTESTATION_DIGEST = ?, ROW_VERSION = ROW_VERSION + 1, UPDATED_TIME = ?
		WHERE CLAIM_ID = ? AND ROW_VERSION = ?
	`

	result, err := tx.ExecContext(
		ctx,
		query,
		claim.State,
		claim.SettledMinor,
		claim.SettledAt,
		claim.DisputeReason,
		claim.AttestationDigest,
		claim.UpdatedTime,
		claim.ClaimID,
		claim.RowVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update claim: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count updated claims: %w", err)
	}
	if affected == 0 {
		return serviceerror.ConcurrentModification
	}

	claim.RowVersion++
	return nil
}

// FindUnresolvedDuplicate returns the most recent unresolved claim for the
// same (patient, provider, code) tuple submitted at or after `since`,
// excluding the claim being validated. Returns (nil, nil) when none exists.
func (dao *ClaimDAO) FindUnresolvedDuplicate(ctx context.Context, patientID, providerID, code string, since int64, excludeClaimID string) (*models.Claim, error) {
	query := `
		SELECT * FROM VLT_CLAIM
		WHERE PATIENT_ID = ? AND PROVIDER_ID = ? AND CODE = ?
		AND SUBMITTED_AT >= ?
		AND CLAIM_ID <> ?
		AND CURRENT_STATE IN (?, ?, ?, ?)
		ORDER BY SUBMITTED_AT DESC
		LIMIT 1
	`

	var claim models.Claim
	err := dao.db.GetContext(ctx, &claim, query,
		patientID, providerID, code, since, excludeClaimID,
		models.ClaimStateSubmitted, models.ClaimStateCodeValidated,
		models.ClaimStatePendingReview, models.ClaimStateDisputed,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find duplicate claim: %w", err)
	}

	return &claim, nil
}

// ListSettledBefore returns settled claims whose appeal window ended at or
// before the cutoff, for the appeal-close sweep.
func (dao *ClaimDAO) ListSettledBefore(ctx context.Context, settledCutoff int64) ([]models.Claim, error) {
	query := `
		SELECT * FROM VLT_CLAIM
		WHERE CURRENT_STATE = ? AND SETTLED_AT IS NOT NULL AND SETTLED_AT <= ?
		ORDER BY SETTLED_AT ASC
	`

	var claims []models.Claim
	if err := dao.db.SelectContext(ctx, &claims, query, models.ClaimStateSettled, settledCutoff); err != nil {
		return nil, fmt.Errorf("failed to list settled claims: %w", err)
	}

	return claims, nil
}

// AddEventWithTx appends a transition event using a transaction
func (dao *ClaimDAO) AddEventWithTx(ctx context.Context, tx *database.Transaction, event *models.ClaimEvent) error {
	query := `
		INSERT INTO VLT_CLAIM_EVENT (
			EVENT_ID, CLAIM_ID, FROM_STATE, TO_STATE, ACTION_BY, REASON, AMOUNT_MINOR, EVENT_TIME
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := tx.ExecContext(
		ctx,
		query,
		event.EventID,
		event.ClaimID,
		event.FromState,
		event.ToState,
		event.ActionBy,
		event.Reason,
		event.AmountMinor,
		event.EventTime,
	)

	if err != nil {
		return fmt.Errorf("failed to add claim event: %w", err)
	}

	return nil
}

// GetEvents returns a claim's full transition history in order
func (dao *ClaimDAO) GetEvents(ctx context.Context, claimID string) ([]models.ClaimEvent, error) {
	query := `
		SELECT * FROM VLT_CLAIM_EVENT
		WHERE CLAIM_ID = ?
		ORDER BY EVENT_TIME ASC, EVENT_ID ASC
	`

	var events []models.ClaimEvent
	if err := dao.db.SelectContext(ctx, &events, query, claimID); err != nil {
		return nil, fmt.Errorf("failed to get claim events: %w", err)
	}

	return events, nil
}
