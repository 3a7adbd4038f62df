package dao

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/careledger/health-vault-api/internal/crypto"
	"github.com/careledger/health-vault-api/internal/database"
	"github.com/careledger/health-vault-api/internal/serviceerror"
	"github.com/careledger/health-vault-api/pkg/utils"
)

// KeyStoreDAO is the database-backed key store for per-patient master
// secrets. Erasure nulls the secret and leaves a tombstone row: the bytes
// of every ciphertext stay where they are, but nothing can ever derive a
// decryption key for them again. A cloud KMS or hardware enclave
// implementing crypto.KeyStore is a drop-in replacement.
type KeyStoreDAO struct {
	db *database.DB
}

// keyRow mirrors the VLT_PATIENT_KEY table
type keyRow struct {
	PatientID    string `db:"PATIENT_ID"`
	MasterSecret []byte `db:"MASTER_SECRET"`
	Erased       bool   `db:"ERASED"`
	CreatedTime  int64  `db:"CREATED_TIME"`
	ErasedTime   *int64 `db:"ERASED_TIME"`
}

// NewKeyStoreDAO creates a new KeyStoreDAO instance
func NewKeyStoreDAO(db *database.DB) *KeyStoreDAO {
	return &KeyStoreDAO{db: db}
}

var _ crypto.KeyStore = (*KeyStoreDAO)(nil)

// MasterSecret returns the patient's master secret, provisioning a fresh
// one on first use. An erased identity is never re-provisioned.
func (dao *KeyStoreDAO) MasterSecret(ctx context.Context, patientID string) ([]byte, error) {
	var secret []byte

	err := dao.db.WithTransaction(ctx, func(tx *database.Transaction) error {
		row, err := dao.getRowWithTx(ctx, tx, patientID)
		if err != nil {
			return err
		}

		if row != nil {
			if row.Erased {
				return serviceerror.RecordErased
			}
			secret = row.MasterSecret
			return nil
		}

		fresh, err := crypto.NewMasterSecret()
		if err != nil {
			return err
		}

		query := `
			INSERT INTO VLT_PATIENT_KEY (PATIENT_ID, MASTER_SECRET, ERASED, CREATED_TIME)
			VALUES (?, ?, 0, ?)
		`
		if _, err := tx.ExecContext(ctx, query, patientID, fresh, utils.GetCurrentTimeMillis()); err != nil {
			return fmt.Errorf("failed to provision master secret: %w", err)
		}

		secret = fresh
		return nil
	})

	if err != nil {
		return nil, err
	}

	return secret, nil
}

// Erase irreversibly destroys the patient's master secret. Idempotent: a
// second erasure, or erasing a patient who never had a secret, still
// leaves a tombstone and succeeds.
func (dao *KeyStoreDAO) Erase(ctx context.Context, patientID string) error {
	return dao.db.WithTransaction(ctx, func(tx *database.Transaction) error {
		row, err := dao.getRowWithTx(ctx, tx, patientID)
		if err != nil {
			return err
		}

		now := utils.GetCurrentTimeMillis()

		if row == nil {
			query := `
				INSERT INTO VLT_PATIENT_KEY (PATIENT_ID, MASTER_SECRET, ERASED, CREATED_TIME, ERASED_TIME)
				VALUES (?, NULL, 1, ?, ?)
			`
			if _, err := tx.ExecContext(ctx, query, patientID, now, now); err != nil {
				return fmt.Errorf("failed to insert erasure tombstone: %w", err)
			}
			return nil
		}

		if row.Erased {
			return nil
		}

		query := `
			UPDATE VLT_PATIENT_KEY
			SET MASTER_SECRET = NULL, ERASED = 1, ERASED_TIME = ?
			WHERE PATIENT_ID = ?
		`
		if _, err := tx.ExecContext(ctx, query, now, patientID); err != nil {
			return fmt.Errorf("failed to erase master secret: %w", err)
		}

		return nil
	})
}

// IsErased reports whether the patient's key material has been erased
func (dao *KeyStoreDAO) IsErased(ctx context.Context, patientID string) (bool, error) {
	query := `SELECT ERASED FROM VLT_PATIENT_KEY WHERE PATIENT_ID = ?`

	var erased bool
	err := dao.db.GetContext(ctx, &erased, query, patientID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check erasure state: %w", err)
	}

	return erased, nil
}

// getRowWithTx loads and locks a patient's key row; (nil, nil) when absent
func (dao *KeyStoreDAO) getRowWithTx(ctx context.Context, tx *database.Transaction, patientID string) (*keyRow, error) {
	query := `SELECT * FROM VLT_PATIENT_KEY WHERE PATIENT_ID = ? FOR UPDATE`

	var row keyRow
	err := tx.GetContext(ctx, &row, query, patientID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key row: %w", err)
	}

	return &row, nil
}
