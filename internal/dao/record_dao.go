package dao

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/careledger/health-vault-api/internal/database"
	"github.com/careledger/health-vault-api/internal/models"
)

// RecordDAO handles database operations for encrypted records. Rows are
// append-only: there is no UPDATE or DELETE statement in this file by
// design; erasure happens in the keystore.
type RecordDAO struct {
	db *database.DB
}

// NewRecordDAO creates a new RecordDAO instance
func NewRecordDAO(db *database.DB) *RecordDAO {
	return &RecordDAO{db: db}
}

// CreateWithTx appends a new encrypted record version using a transaction
func (dao *RecordDAO) CreateWithTx(ctx context.Context, tx *database.Transaction, record *models.EncryptedRecord) error {
	query := `
		INSERT INTO VLT_RECORD (
			RECORD_ID, PATIENT_ID, RECORD_TYPE, RECORD_VERSION, CIPHERTEXT,
			CONTENT_HASH, SCHEMA_VERSION, KEY_GRANT_ID, CREATED_TIME
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := tx.ExecContext(
		ctx,
		query,
		record.RecordID,
		record.PatientID,
		record.RecordType,
		record.RecordVersion,
		record.Ciphertext,
		record.ContentHash,
		record.SchemaVersion,
		record.KeyGrantID,
		record.CreatedTime,
	)

	if err != nil {
		return fmt.Errorf("failed to create record: %w", err)
	}

	return nil
}

// GetByID retrieves a record by ID. Returns (nil, nil) when no record exists.
func (dao *RecordDAO) GetByID(ctx context.Context, recordID string) (*models.EncryptedRecord, error) {
	query := `SELECT * FROM VLT_RECORD WHERE RECORD_ID = ?`

	var record models.EncryptedRecord
	err := dao.db.GetContext(ctx, &record, query, recordID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	return &record, nil
}

// NextVersionWithTx returns the next record version for a patient+type,
// locking existing versions so concurrent writers cannot collide.
func (dao *RecordDAO) NextVersionWithTx(ctx context.Context, tx *database.Transaction, patientID, recordType string) (int, error) {
	query := `
		SELECT COALESCE(MAX(RECORD_VERSION), 0) + 1
		FROM VLT_RECORD
		WHERE PATIENT_ID = ? AND RECORD_TYPE = ?
		FOR UPDATE
	`

	var version int
	if err := tx.GetContext(ctx, &version, query, patientID, recordType); err != nil {
		return 0, fmt.Errorf("failed to compute next record version: %w", err)
	}

	return version, nil
}

// ListByPatient returns all record rows (ciphertext included) for a patient
func (dao *RecordDAO) ListByPatient(ctx context.Context, patientID string) ([]models.EncryptedRecord, error) {
	query := `
		SELECT * FROM VLT_RECORD
		WHERE PATIENT_ID = ?
		ORDER BY RECORD_TYPE ASC, RECORD_VERSION ASC
	`

	var records []models.EncryptedRecord
	if err := dao.db.SelectContext(ctx, &records, query, patientID); err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	return records, nil
}
