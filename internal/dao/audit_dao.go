package dao

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/careledger/health-vault-api/internal/database"
	"github.com/careledger/health-vault-api/internal/models"
)

// AuditDAO handles database operations for the hash-chained audit log.
// The log is append-only: entries are never updated or deleted.
type AuditDAO struct {
	db *database.DB
}

// NewAuditDAO creates a new AuditDAO instance
func NewAuditDAO(db *database.DB) *AuditDAO {
	return &AuditDAO{db: db}
}

// EnsureHeadWithTx seeds the head row for a shard that has no entries yet,
// at sequence -1 with an empty hash. A plain FOR UPDATE on a missing row
// locks nothing under READ COMMITTED, so two genesis appends could both see
// an empty shard; the seed insert collides on the SHARD primary key instead,
// making the loser wait for the winner's commit. After this the head row
// always exists and LockHeadWithTx serializes every append.
func (dao *AuditDAO) EnsureHeadWithTx(ctx context.Context, tx *database.Transaction, shard string) error {
	query := `INSERT IGNORE INTO VLT_AUDIT_HEAD (SHARD, HEAD_SEQUENCE, HEAD_HASH) VALUES (?, -1, '')`

	if _, err := tx.ExecContext(ctx, query, shard); err != nil {
		return fmt.Errorf("failed to seed audit head: %w", err)
	}

	return nil
}

// LockHeadWithTx loads and locks a shard's chain head for the duration of
// the transaction. Returns (nil, nil) for a shard never seeded.
func (dao *AuditDAO) LockHeadWithTx(ctx context.Context, tx *database.Transaction, shard string) (*models.AuditHead, error) {
	query := `SELECT * FROM VLT_AUDIT_HEAD WHERE SHARD = ? FOR UPDATE`

	var head models.AuditHead
	err := tx.GetContext(ctx, &head, query, shard)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock audit head: %w", err)
	}

	return &head, nil
}

// UpdateHeadWithTx advances a shard's chain head
func (dao *AuditDAO) UpdateHeadWithTx(ctx context.Context, tx *database.Transaction, head *models.AuditHead) error {
	query := `UPDATE VLT_AUDIT_HEAD SET HEAD_SEQUENCE = ?, HEAD_HASH = ? WHERE SHARD = ?`

	if _, err := tx.ExecContext(ctx, query, head.HeadSequence, head.HeadHash, head.Shard); err != nil {
		return fmt.Errorf("failed to update audit head: %w", err)
	}

	return nil
}

// AppendWithTx inserts an audit entry using a transaction
func (dao *AuditDAO) AppendWithTx(ctx context.Context, tx *database.Transaction, entry *models.AuditEntry) error {
	query := `
		INSERT INTO VLT_AUDIT_LOG (
			SHARD, SEQUENCE_NUMBER, PREV_HASH, ENTRY_HASH, ACTOR, ACTION,
			PATIENT_ID, OUTCOME, DETAIL, SEVERITY, ENTRY_TIME
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := tx.ExecContext(
		ctx,
		query,
		entry.Shard,
		entry.SequenceNumber,
		entry.PrevHash,
		entry.EntryHash,
		entry.Actor,
		entry.Action,
		entry.PatientID,
		entry.Outcome,
		entry.Detail,
		entry.Severity,
		entry.Timestamp,
	)

	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	return nil
}

// GetRange returns a contiguous, ordered slice of a shard's chain
func (dao *AuditDAO) GetRange(ctx context.Context, shard string, fromSeq, toSeq int64) ([]models.AuditEntry, error) {
	query := `
		SELECT * FROM VLT_AUDIT_LOG
		WHERE SHARD = ? AND SEQUENCE_NUMBER BETWEEN ? AND ?
		ORDER BY SEQUENCE_NUMBER ASC
	`

	var entries []models.AuditEntry
	if err := dao.db.SelectContext(ctx, &entries, query, shard, fromSeq, toSeq); err != nil {
		return nil, fmt.Errorf("failed to get audit range: %w", err)
	}

	return entries, nil
}

// Export returns a shard's full chain in sequence order
func (dao *AuditDAO) Export(ctx context.Context, shard string) ([]models.AuditEntry, error) {
	query := `
		SELECT * FROM VLT_AUDIT_LOG
		WHERE SHARD = ?
		ORDER BY SEQUENCE_NUMBER ASC
	`

	var entries []models.AuditEntry
	if err := dao.db.SelectContext(ctx, &entries, query, shard); err != nil {
		return nil, fmt.Errorf("failed to export audit log: %w", err)
	}

	return entries, nil
}
