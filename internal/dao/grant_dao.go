package dao

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/careledger/health-vault-api/internal/database"
	"github.com/careledger/health-vault-api/internal/models"
)

// activeGrantPredicate selects grants that authorize access at instant `?`.
// The validity upper bound is exclusive, and emergency grants are capped
// at creation+24h no matter what validity was requested.
const activeGrantPredicate = `
	REVOKED = 0
	AND VALID_FROM <= ?
	AND ? < LEAST(VALID_UNTIL, CASE WHEN EMERGENCY = 1 THEN CREATED_TIME + 86400000 ELSE VALID_UNTIL END)
`

// GrantDAO handles database operations for consent grants
type GrantDAO struct {
	db *database.DB
}

// NewGrantDAO creates a new GrantDAO instance
func NewGrantDAO(db *database.DB) *GrantDAO {
	return &GrantDAO{db: db}
}

// CreateWithTx inserts a new consent grant using a transaction
func (dao *GrantDAO) CreateWithTx(ctx context.Context, tx *database.Transaction, grant *models.ConsentGrant) error {
	query := `
		INSERT INTO VLT_CONSENT_GRANT (
			GRANT_ID, PATIENT_ID, GRANTEE_ID, SCOPE, SCOPE_KEY, VALID_FROM,
			VALID_UNTIL, REVOKED, EMERGENCY, CURRENT_STATUS, CREATED_TIME, UPDATED_TIME
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := tx.ExecContext(
		ctx,
		query,
		grant.GrantID,
		grant.PatientID,
		grant.GranteeID,
		grant.Scope,
		grant.ScopeKey,
		grant.ValidFrom,
		grant.ValidUntil,
		grant.Revoked,
		grant.Emergency,
		grant.CurrentStatus,
		grant.CreatedTime,
		grant.UpdatedTime,
	)

	if err != nil {
		return fmt.Errorf("failed to create consent grant: %w", err)
	}

	return nil
}

// GetByID retrieves a grant by ID. Returns (nil, nil) when no grant exists.
func (dao *GrantDAO) GetByID(ctx context.Context, grantID string) (*models.ConsentGrant, error) {
	query := `SELECT * FROM VLT_CONSENT_GRANT WHERE GRANT_ID = ?`

	var grant models.ConsentGrant
	err := dao.db.GetContext(ctx, &grant, query, grantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get consent grant: %w", err)
	}

	return &grant, nil
}

// GetByIDWithTx retrieves a grant by ID inside a transaction, locking the
// row so concurrent revokes serialize.
func (dao *GrantDAO) GetByIDWithTx(ctx context.Context, tx *database.Transaction, grantID string) (*models.ConsentGrant, error) {
	query := `SELECT * FROM VLT_CONSENT_GRANT WHERE GRANT_ID = ? FOR UPDATE`

	var grant models.ConsentGrant
	err := tx.GetContext(ctx, &grant, query, grantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get consent grant: %w", err)
	}

	return &grant, nil
}

// FindActiveByTupleWithTx returns the active grant for an exact
// (patient, grantee, scope) tuple, locking it so concurrent creates
// serialize and the uniqueness invariant holds.
func (dao *GrantDAO) FindActiveByTupleWithTx(ctx context.Context, tx *database.Transaction, patientID, granteeID, scopeKey string, now int64) (*models.ConsentGrant, error) {
	query := `
		SELECT * FROM VLT_CONSENT_GRANT
		WHERE PATIENT_ID = ? AND GRANTEE_ID = ? AND SCOPE_KEY = ?
		AND ` + activeGrantPredicate + `
		ORDER BY CREATED_TIME ASC
		LIMIT 1
		FOR UPDATE
	`

	var grant models.ConsentGrant
	err := tx.GetContext(ctx, &grant, query, patientID, granteeID, scopeKey, now, now)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active grant: %w", err)
	}

	return &grant, nil
}

// FindActiveByPatientGrantee returns all grants active at `now` between a
// patient and a grantee, regardless of scope.
func (dao *GrantDAO) FindActiveByPatientGrantee(ctx context.Context, patientID, granteeID string, now int64) ([]models.ConsentGrant, error) {
	query := `
		SELECT * FROM VLT_CONSENT_GRANT
		WHERE PATIENT_ID = ? AND GRANTEE_ID = ?
		AND ` + activeGrantPredicate + `
		ORDER BY CREATED_TIME ASC
	`

	var grants []models.ConsentGrant
	if err := dao.db.SelectContext(ctx, &grants, query, patientID, granteeID, now, now); err != nil {
		return nil, fmt.Errorf("failed to find active grants: %w", err)
	}

	return grants, nil
}

// FindActiveByPatient returns all grants active at `now` for a patient
func (dao *GrantDAO) FindActiveByPatient(ctx context.Context, patientID string, now int64) ([]models.ConsentGrant, error) {
	query := `
		SELECT * FROM VLT_CONSENT_GRANT
		WHERE PATIENT_ID = ?
		AND ` + activeGrantPredicate + `
		ORDER BY CREATED_TIME ASC
	`

	var grants []models.ConsentGrant
	if err := dao.db.SelectContext(ctx, &grants, query, patientID, now, now); err != nil {
		return nil, fmt.Errorf("failed to find active grants: %w", err)
	}

	return grants, nil
}

// UpdateStatusWithTx updates a grant's lifecycle status inside a transaction
func (dao *GrantDAO) UpdateStatusWithTx(ctx context.Context, tx *database.Transaction, grantID, status string, revoked bool, updatedTime int64) error {
	query := `
		UPDATE VLT_CONSENT_GRANT
		SET CURRENT_STATUS = ?, REVOKED = ?, UPDATED_TIME = ?
		WHERE GRANT_ID = ?
	`

	_, err := tx.ExecContext(ctx, query, status, revoked, updatedTime, grantID)
	if err != nil {
		return fmt.Errorf("failed to update grant status: %w", err)
	}

	return nil
}

// ExpireEmergencyGrants forward-transitions emergency grants past their 24h
// boundary to EXPIRED. Safe to run redundantly from multiple instances.
func (dao *GrantDAO) ExpireEmergencyGrants(ctx context.Context, now int64) (int64, error) {
	query := `
		UPDATE VLT_CONSENT_GRANT
		SET CURRENT_STATUS = ?, UPDATED_TIME = ?
		WHERE EMERGENCY = 1 AND CURRENT_STATUS = ? AND CREATED_TIME + 86400000 <= ?
	`

	result, err := dao.db.ExecContext(ctx, query, models.GrantStatusExpired, now, models.GrantStatusActive, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire emergency grants: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count expired grants: %w", err)
	}

	return affected, nil
}

// ListByPatient returns all grants ever issued for a patient, ordered for
// export. Grants are never hard-deleted, so this is the full history.
func (dao *GrantDAO) ListByPatient(ctx context.Context, patientID string) ([]models.ConsentGrant, error) {
	query := `
		SELECT * FROM VLT_CONSENT_GRANT
		WHERE PATIENT_ID = ?
		ORDER BY CREATED_TIME ASC, GRANT_ID ASC
	`

	var grants []models.ConsentGrant
	if err := dao.db.SelectContext(ctx, &grants, query, patientID); err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}

	return grants, nil
}
