package service

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/careledger/health-vault-api/internal/crypto"
	"github.com/careledger/health-vault-api/internal/dao"
	"github.com/careledger/health-vault-api/internal/database"
	"github.com/careledger/health-vault-api/internal/identity"
	"github.com/careledger/health-vault-api/internal/models"
	"github.com/careledger/health-vault-api/internal/serviceerror"
	"github.com/careledger/health-vault-api/pkg/utils"
)

// VaultService owns the encrypted record store. Record payloads are
// sealed under keys derived from the patient's master secret, so the
// storage operator can never read them, and destroying the master secret
// (cryptographic erasure) makes every prior ciphertext permanently
// unrecoverable without touching the stored bytes.
type VaultService struct {
	recordDAO *dao.RecordDAO
	grantDAO  *dao.GrantDAO
	keys      crypto.KeyStore
	audit     *AuditService
	prover    identity.Prover
	db        *database.DB
	logger    *logrus.Logger
	// eraseMu serializes erasure against concurrent writes per patient
	eraseMu *keyedMutex
}

// NewVaultService creates a new vault service instance
func NewVaultService(
	recordDAO *dao.RecordDAO,
	grantDAO *dao.GrantDAO,
	keys crypto.KeyStore,
	audit *AuditService,
	prover identity.Prover,
	db *database.DB,
	logger *logrus.Logger,
) *VaultService {
	return &VaultService{
		recordDAO: recordDAO,
		grantDAO:  grantDAO,
		keys:      keys,
		audit:     audit,
		prover:    prover,
		db:        db,
		logger:    logger,
		eraseMu:   newKeyedMutex(),
	}
}

// Write encrypts and appends a new record version under the author's
// grant. Records are immutable: a later write of the same type appends
// the next version, never overwrites. Writes synchronize against
// erasure — once erasure has begun the write observes the tombstone and
// fails with RecordErased instead of silently landing afterwards.
func (s *VaultService) Write(ctx context.Context, req *models.WriteRecordAPIRequest, actor string) (*models.WriteRecordResponse, error) {
	if err := utils.ValidatePatientID(req.PatientID); err != nil {
		return nil, serviceerror.ValidationError.WithDescription("%s", err.Error())
	}
	if err := utils.ValidateRecordType(req.RecordType); err != nil {
		return nil, serviceerror.ValidationError.WithDescription("%s", err.Error())
	}
	if err := utils.ValidateRequired("payload", req.Payload); err != nil {
		return nil, serviceerror.ValidationError.WithDescription("%s", err.Error())
	}

	now := utils.GetCurrentTimeMillis()

	grant, err := s.grantDAO.GetByID(ctx, req.GrantID)
	if err != nil {
		return nil, err
	}
	if grant == nil {
		return nil, s.denyWrite(ctx, actor, req.PatientID, req.RecordType, serviceerror.GrantNotFound)
	}
	if grant.PatientID != req.PatientID {
		return nil, s.denyWrite(ctx, actor, req.PatientID, req.RecordType, serviceerror.GrantScopeMismatch)
	}
	if !grant.ActiveAt(now) {
		return nil, s.denyWrite(ctx, actor, req.PatientID, req.RecordType, serviceerror.GrantExpired)
	}
	if !grant.Covers(req.RecordType) {
		return nil, s.denyWrite(ctx, actor, req.PatientID, req.RecordType, serviceerror.GrantInsufficientScope)
	}

	s.eraseMu.Lock(req.PatientID)
	defer s.eraseMu.Unlock(req.PatientID)

	secret, err := s.keys.MasterSecret(ctx, req.PatientID)
	if err != nil {
		if errors.Is(err, serviceerror.RecordErased) {
			return nil, s.denyWrite(ctx, actor, req.PatientID, req.RecordType, serviceerror.RecordErased)
		}
		return nil, err
	}

	key, err := crypto.DeriveGrantKey(secret, grant.GrantID)
	if err != nil {
		return nil, err
	}

	plaintext := []byte(req.Payload)
	ciphertext, err := crypto.Encrypt(plaintext, key)
	if err != nil {
		return nil, err
	}

	record := &models.EncryptedRecord{
		RecordID:      utils.GenerateRecordID(),
		PatientID:     req.PatientID,
		RecordType:    req.RecordType,
		Ciphertext:    ciphertext,
		ContentHash:   crypto.HashContent(plaintext),
		SchemaVersion: models.CurrentSchemaVersion,
		KeyGrantID:    grant.GrantID,
		CreatedTime:   now,
	}

	err = s.db.WithTransaction(ctx, func(tx *database.Transaction) error {
		version, err := s.recordDAO.NextVersionWithTx(ctx, tx, req.PatientID, req.RecordType)
		if err != nil {
			return err
		}
		record.RecordVersion = version

		if err := s.recordDAO.CreateWithTx(ctx, tx, record); err != nil {
			return err
		}

		_, err = s.audit.AppendWithTx(ctx, tx, &models.AuditEntry{
			Actor:     actor,
			Action:    models.ActionRecordWritten,
			PatientID: req.PatientID,
			Outcome:   models.OutcomeSuccess,
			Detail:    "record " + record.RecordID + " type " + req.RecordType,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	return &models.WriteRecordResponse{
		RecordID:      record.RecordID,
		RecordVersion: record.RecordVersion,
		ContentHash:   record.ContentHash,
		CreatedTime:   record.CreatedTime,
	}, nil
}

// Read decrypts a record under an accessor's grant. Every attempt,
// successful or denied, lands in the audit log. After decrypt the
// plaintext is re-hashed against the stored content hash so a storage-side
// substitution cannot go unnoticed.
func (s *VaultService) Read(ctx context.Context, recordID, grantID, actor string) (*models.ReadRecordResponse, error) {
	record, err := s.recordDAO.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, serviceerror.RecordNotFound
	}

	now := utils.GetCurrentTimeMillis()

	grant, err := s.grantDAO.GetByID(ctx, grantID)
	if err != nil {
		return nil, err
	}
	if grant == nil {
		return nil, s.denyRead(ctx, actor, record, serviceerror.GrantNotFound)
	}
	if grant.PatientID != record.PatientID {
		return nil, s.denyRead(ctx, actor, record, serviceerror.GrantScopeMismatch)
	}
	if !grant.ActiveAt(now) {
		return nil, s.denyRead(ctx, actor, record, serviceerror.GrantExpired)
	}
	// Reads fail with GrantScopeMismatch, writes with GrantInsufficientScope
	if !grant.Covers(record.RecordType) {
		return nil, s.denyRead(ctx, actor, record, serviceerror.GrantScopeMismatch)
	}

	secret, err := s.keys.MasterSecret(ctx, record.PatientID)
	if err != nil {
		if errors.Is(err, serviceerror.RecordErased) {
			return nil, s.denyRead(ctx, actor, record, serviceerror.RecordErased)
		}
		return nil, err
	}

	// The decryption key derives from the grant that sealed the record,
	// not the accessor's grant; access control happened above.
	key, err := crypto.DeriveGrantKey(secret, record.KeyGrantID)
	if err != nil {
		return nil, err
	}

	plaintext, err := crypto.Decrypt(record.Ciphertext, key)
	if err != nil {
		return nil, s.denyRead(ctx, actor, record, err)
	}

	if crypto.HashContent(plaintext) != record.ContentHash {
		return nil, s.denyRead(ctx, actor, record,
			serviceerror.AuthTagMismatch.WithDescription("content hash does not match decrypted payload"))
	}

	if _, err := s.audit.Append(ctx, &models.AuditEntry{
		Actor:     actor,
		Action:    models.ActionRecordRead,
		PatientID: record.PatientID,
		Outcome:   models.OutcomeSuccess,
		Detail:    "record " + record.RecordID,
	}); err != nil {
		return nil, err
	}

	return &models.ReadRecordResponse{
		RecordID:      record.RecordID,
		PatientID:     record.PatientID,
		RecordType:    record.RecordType,
		RecordVersion: record.RecordVersion,
		SchemaVersion: record.SchemaVersion,
		Payload:       string(plaintext),
		CreatedTime:   record.CreatedTime,
	}, nil
}

// ErasePatient performs cryptographic erasure of all of a patient's
// records by destroying their master secret. The caller must hold the
// erasure authority capability; the operation is one-way, idempotent and
// serialized per patient against in-flight writes.
func (s *VaultService) ErasePatient(ctx context.Context, patientID, reason, authority string) error {
	if err := utils.ValidatePatientID(patientID); err != nil {
		return serviceerror.ValidationError.WithDescription("%s", err.Error())
	}

	verified, err := s.prover.VerifyAuthority(ctx, authority, identity.CapabilityErasure)
	if err != nil {
		return serviceerror.AuthorityDenied.WithDescription("identity proofing unavailable: %v", err)
	}
	if !verified {
		return serviceerror.AuthorityDenied
	}

	s.eraseMu.Lock(patientID)
	defer s.eraseMu.Unlock(patientID)

	if err := s.keys.Erase(ctx, patientID); err != nil {
		return err
	}

	detail := "cryptographic erasure"
	if reason != "" {
		detail += ": " + reason
	}
	if _, err := s.audit.Append(ctx, &models.AuditEntry{
		Actor:     authority,
		Action:    models.ActionPatientErased,
		PatientID: patientID,
		Outcome:   models.OutcomeSuccess,
		Detail:    detail,
		Severity:  models.SeverityCritical,
	}); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"patient":   patientID,
		"authority": authority,
	}).Warn("Patient key material erased")

	return nil
}

// denyWrite audits a failed write attempt and returns the denial
func (s *VaultService) denyWrite(ctx context.Context, actor, patientID, recordType string, denial error) error {
	if _, err := s.audit.Append(ctx, &models.AuditEntry{
		Actor:     actor,
		Action:    models.ActionRecordAccessDenied,
		PatientID: patientID,
		Outcome:   models.OutcomeFailure,
		Detail:    "write " + recordType + " denied: " + denial.Error(),
		Severity:  models.SeverityWarning,
	}); err != nil {
		s.logger.WithError(err).Error("Failed to audit denied write")
	}
	return denial
}

// denyRead audits a failed read attempt and returns the denial
func (s *VaultService) denyRead(ctx context.Context, actor string, record *models.EncryptedRecord, denial error) error {
	if _, err := s.audit.Append(ctx, &models.AuditEntry{
		Actor:     actor,
		Action:    models.ActionRecordAccessDenied,
		PatientID: record.PatientID,
		Outcome:   models.OutcomeFailure,
		Detail:    "read " + record.RecordID + " denied: " + denial.Error(),
		Severity:  models.SeverityWarning,
	}); err != nil {
		s.logger.WithError(err).Error("Failed to audit denied read")
	}
	return denial
}
