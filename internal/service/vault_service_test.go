package service

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/careledger/health-vault-api/internal/crypto"
	"github.com/careledger/health-vault-api/internal/dao"
	"github.com/careledger/health-vault-api/internal/database"
	"github.com/careledger/health-vault-api/internal/models"
	"github.com/careledger/health-vault-api/internal/serviceerror"
	"github.com/careledger/health-vault-api/pkg/utils"
)

// fakeKeyStore is an in-memory crypto.KeyStore for service tests
type fakeKeyStore struct {
	secrets map[string][]byte
	erased  map[string]bool
}

func newFakeKeyStore() *fakeKeyStore {
	return &fakeKeyStore{
		secrets: make(map[string][]byte),
		erased:  make(map[string]bool),
	}
}

func (ks *fakeKeyStore) MasterSecret(_ context.Context, patientID string) ([]byte, error) {
	if ks.erased[patientID] {
		return nil, serviceerror.RecordErased
	}
	secret, ok := ks.secrets[patientID]
	if !ok {
		secret = bytes.Repeat([]byte{0x42}, 32)
		ks.secrets[patientID] = secret
	}
	return secret, nil
}

func (ks *fakeKeyStore) Erase(_ context.Context, patientID string) error {
	delete(ks.secrets, patientID)
	ks.erased[patientID] = true
	return nil
}

func (ks *fakeKeyStore) IsErased(_ context.Context, patientID string) (bool, error) {
	return ks.erased[patientID], nil
}

var recordColumns = []string{
	"RECORD_ID", "PATIENT_ID", "RECORD_TYPE", "RECORD_VERSION", "CIPHERTEXT",
	"CONTENT_HASH", "SCHEMA_VERSION", "KEY_GRANT_ID", "CREATED_TIME",
}

func newVaultTestService(t *testing.T) (*VaultService, sqlmock.Sqlmock, *fakeKeyStore, *mockProver) {
	t.Helper()

	mockDB, sqlMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	db := database.Wrap(sqlx.NewDb(mockDB, "sqlmock"), logger)
	keys := newFakeKeyStore()
	prover := &mockProver{}

	svc := NewVaultService(
		dao.NewRecordDAO(db),
		dao.NewGrantDAO(db),
		keys,
		NewAuditService(dao.NewAuditDAO(db), db, logger),
		prover,
		db,
		logger,
	)

	return svc, sqlMock, keys, prover
}

// sealRecord encrypts a payload the way a write under the grant would
func sealRecord(t *testing.T, keys *fakeKeyStore, patientID, grantID string, plaintext []byte) []byte {
	t.Helper()

	secret, err := keys.MasterSecret(context.Background(), patientID)
	require.NoError(t, err)
	key, err := crypto.DeriveGrantKey(secret, grantID)
	require.NoError(t, err)
	ciphertext, err := crypto.Encrypt(plaintext, key)
	require.NoError(t, err)
	return ciphertext
}

func activeGrantRow(grantID, patientID, scopeJSON, scopeKey string) *sqlmock.Rows {
	now := utils.GetCurrentTimeMillis()
	return sqlmock.NewRows(grantColumns).AddRow(
		grantID, patientID, "DR-1", scopeJSON, scopeKey,
		now-1000, now+3_600_000, false, false,
		models.GrantStatusActive, now-1000, now-1000,
	)
}

func TestWriteAppendsNextVersion(t *testing.T) {
	svc, sqlMock, _, _ := newVaultTestService(t)

	sqlMock.ExpectQuery("SELECT \\* FROM VLT_CONSENT_GRANT").
		WillReturnRows(activeGrantRow("GRANT-1", "PAT-1", `["vitals"]`, "vitals"))

	sqlMock.ExpectBegin()
	sqlMock.ExpectQuery("SELECT COALESCE").
		WillReturnRows(sqlmock.NewRows([]string{"VERSION"}).AddRow(3))
	sqlMock.ExpectExec("INSERT INTO VLT_RECORD").
		WillReturnResult(sqlmock.NewResult(1, 1))
	expectFirstAuditAppend(sqlMock) // RECORD_WRITTEN
	sqlMock.ExpectCommit()

	resp, err := svc.Write(context.Background(), &models.WriteRecordAPIRequest{
		PatientID:  "PAT-1",
		RecordType: "vitals",
		GrantID:    "GRANT-1",
		Payload:    `{"bp":"120/80"}`,
	}, "DR-1")
	require.NoError(t, err)

	assert.Equal(t, 3, resp.RecordVersion)
	assert.Equal(t, crypto.HashContent([]byte(`{"bp":"120/80"}`)), resp.ContentHash)
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestWriteDeniedWhenGrantExpired(t *testing.T) {
	svc, sqlMock, _, _ := newVaultTestService(t)

	now := utils.GetCurrentTimeMillis()
	sqlMock.ExpectQuery("SELECT \\* FROM VLT_CONSENT_GRANT").
		WillReturnRows(sqlmock.NewRows(grantColumns).AddRow(
			"GRANT-1", "PAT-1", "DR-1", `["vitals"]`, "vitals",
			now-10_000, now-5_000, false, false,
			models.GrantStatusExpired, now-10_000, now-10_000,
		))

	// The denial itself is audited
	sqlMock.ExpectBegin()
	expectFirstAuditAppend(sqlMock)
	sqlMock.ExpectCommit()

	_, err := svc.Write(context.Background(), &models.WriteRecordAPIRequest{
		PatientID:  "PAT-1",
		RecordType: "vitals",
		GrantID:    "GRANT-1",
		Payload:    `{"bp":"120/80"}`,
	}, "DR-1")

	assert.True(t, errors.Is(err, serviceerror.GrantExpired))
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestWriteDeniedAfterErasure(t *testing.T) {
	svc, sqlMock, keys, _ := newVaultTestService(t)

	require.NoError(t, keys.Erase(context.Background(), "PAT-1"))

	sqlMock.ExpectQuery("SELECT \\* FROM VLT_CONSENT_GRANT").
		WillReturnRows(activeGrantRow("GRANT-1", "PAT-1", `["vitals"]`, "vitals"))

	sqlMock.ExpectBegin()
	expectFirstAuditAppend(sqlMock)
	sqlMock.ExpectCommit()

	_, err := svc.Write(context.Background(), &models.WriteRecordAPIRequest{
		PatientID:  "PAT-1",
		RecordType: "vitals",
		GrantID:    "GRANT-1",
		Payload:    `{"bp":"120/80"}`,
	}, "DR-1")

	assert.True(t, errors.Is(err, serviceerror.RecordErased))
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestReadDecryptsRecordUnderCoveringGrant(t *testing.T) {
	svc, sqlMock, keys, _ := newVaultTestService(t)

	plaintext := []byte(`{"bp":"120/80"}`)
	ciphertext := sealRecord(t, keys, "PAT-1", "GRANT-1", plaintext)
	now := utils.GetCurrentTimeMillis()

	sqlMock.ExpectQuery("SELECT \\* FROM VLT_RECORD").
		WillReturnRows(sqlmock.NewRows(recordColumns).AddRow(
			"REC-1", "PAT-1", "vitals", 1, ciphertext,
			crypto.HashContent(plaintext), 1, "GRANT-1", now,
		))
	sqlMock.ExpectQuery("SELECT \\* FROM VLT_CONSENT_GRANT").
		WillReturnRows(activeGrantRow("GRANT-2", "PAT-1", `["vitals"]`, "vitals"))

	sqlMock.ExpectBegin()
	expectFirstAuditAppend(sqlMock) // RECORD_READ
	sqlMock.ExpectCommit()

	resp, err := svc.Read(context.Background(), "REC-1", "GRANT-2", "DR-1")
	require.NoError(t, err)

	assert.Equal(t, string(plaintext), resp.Payload)
	assert.Equal(t, "vitals", resp.RecordType)
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestReadDeniedForGrantOutsideScope(t *testing.T) {
	svc, sqlMock, keys, _ := newVaultTestService(t)

	plaintext := []byte(`{"bp":"120/80"}`)
	ciphertext := sealRecord(t, keys, "PAT-1", "GRANT-1", plaintext)
	now := utils.GetCurrentTimeMillis()

	sqlMock.ExpectQuery("SELECT \\* FROM VLT_RECORD").
		WillReturnRows(sqlmock.NewRows(recordColumns).AddRow(
			"REC-1", "PAT-1", "vitals", 1, ciphertext,
			crypto.HashContent(plaintext), 1, "GRANT-1", now,
		))
	// Accessor's grant covers prescriptions only
	sqlMock.ExpectQuery("SELECT \\* FROM VLT_CONSENT_GRANT").
		WillReturnRows(activeGrantRow("GRANT-2", "PAT-1", `["prescriptions"]`, "prescriptions"))

	sqlMock.ExpectBegin()
	expectFirstAuditAppend(sqlMock) // RECORD_ACCESS_DENIED
	sqlMock.ExpectCommit()

	_, err := svc.Read(context.Background(), "REC-1", "GRANT-2", "DR-1")

	assert.True(t, errors.Is(err, serviceerror.GrantScopeMismatch))
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestReadFailsClosedAfterErasure(t *testing.T) {
	svc, sqlMock, keys, _ := newVaultTestService(t)

	plaintext := []byte(`{"bp":"120/80"}`)
	ciphertext := sealRecord(t, keys, "PAT-1", "GRANT-1", plaintext)
	require.NoError(t, keys.Erase(context.Background(), "PAT-1"))
	now := utils.GetCurrentTimeMillis()

	sqlMock.ExpectQuery("SELECT \\* FROM VLT_RECORD").
		WillReturnRows(sqlmock.NewRows(recordColumns).AddRow(
			"REC-1", "PAT-1", "vitals", 1, ciphertext,
			crypto.HashContent(plaintext), 1, "GRANT-1", now,
		))
	sqlMock.ExpectQuery("SELECT \\* FROM VLT_CONSENT_GRANT").
		WillReturnRows(activeGrantRow("GRANT-2", "PAT-1", `["vitals"]`, "vitals"))

	sqlMock.ExpectBegin()
	expectFirstAuditAppend(sqlMock)
	sqlMock.ExpectCommit()

	_, err := svc.Read(context.Background(), "REC-1", "GRANT-2", "DR-1")

	// The ciphertext row still exists but is permanently unrecoverable
	assert.True(t, errors.Is(err, serviceerror.RecordErased))
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestReadDetectsSubstitutedCiphertext(t *testing.T) {
	svc, sqlMock, keys, _ := newVaultTestService(t)

	original := []byte(`{"bp":"120/80"}`)
	substituted := sealRecord(t, keys, "PAT-1", "GRANT-1", []byte(`{"bp":"999/999"}`))
	now := utils.GetCurrentTimeMillis()

	// A valid ciphertext swapped in by the storage layer still carries the
	// original content hash, so the post-decrypt check catches it.
	sqlMock.ExpectQuery("SELECT \\* FROM VLT_RECORD").
		WillReturnRows(sqlmock.NewRows(recordColumns).AddRow(
			"REC-1", "PAT-1", "vitals", 1, substituted,
			crypto.HashContent(original), 1, "GRANT-1", now,
		))
	sqlMock.ExpectQuery("SELECT \\* FROM VLT_CONSENT_GRANT").
		WillReturnRows(activeGrantRow("GRANT-2", "PAT-1", `["vitals"]`, "vitals"))

	sqlMock.ExpectBegin()
	expectFirstAuditAppend(sqlMock)
	sqlMock.ExpectCommit()

	_, err := svc.Read(context.Background(), "REC-1", "GRANT-2", "DR-1")

	assert.True(t, errors.Is(err, serviceerror.AuthTagMismatch))
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestReadUnknownRecord(t *testing.T) {
	svc, sqlMock, _, _ := newVaultTestService(t)

	sqlMock.ExpectQuery("SELECT \\* FROM VLT_RECORD").
		WillReturnRows(sqlmock.NewRows(recordColumns))

	_, err := svc.Read(context.Background(), "REC-missing", "GRANT-1", "DR-1")

	assert.True(t, errors.Is(err, serviceerror.RecordNotFound))
}

func TestErasePatientDestroysKeyMaterial(t *testing.T) {
	svc, sqlMock, keys, prover := newVaultTestService(t)

	prover.On("VerifyAuthority", mock.Anything, "AUTH-1", mock.Anything).Return(true, nil)

	_, err := keys.MasterSecret(context.Background(), "PAT-1")
	require.NoError(t, err)

	sqlMock.ExpectBegin()
	expectFirstAuditAppend(sqlMock) // PATIENT_ERASED
	sqlMock.ExpectCommit()

	require.NoError(t, svc.ErasePatient(context.Background(), "PAT-1", "patient request", "AUTH-1"))

	erased, err := keys.IsErased(context.Background(), "PAT-1")
	require.NoError(t, err)
	assert.True(t, erased)

	_, err = keys.MasterSecret(context.Background(), "PAT-1")
	assert.True(t, errors.Is(err, serviceerror.RecordErased))
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestErasePatientDeniedWithoutAuthority(t *testing.T) {
	svc, _, keys, prover := newVaultTestService(t)

	prover.On("VerifyAuthority", mock.Anything, "INTRUDER", mock.Anything).Return(false, nil)

	err := svc.ErasePatient(context.Background(), "PAT-1", "", "INTRUDER")
	assert.True(t, errors.Is(err, serviceerror.AuthorityDenied))

	erased, err2 := keys.IsErased(context.Background(), "PAT-1")
	require.NoError(t, err2)
	assert.False(t, erased)
}

func TestErasePatientFailsClosedOnProofingOutage(t *testing.T) {
	svc, _, keys, prover := newVaultTestService(t)

	prover.On("VerifyAuthority", mock.Anything, "AUTH-1", mock.Anything).
		Return(false, errors.New("proofing service unreachable"))

	err := svc.ErasePatient(context.Background(), "PAT-1", "", "AUTH-1")
	assert.True(t, errors.Is(err, serviceerror.AuthorityDenied))

	erased, err2 := keys.IsErased(context.Background(), "PAT-1")
	require.NoError(t, err2)
	assert.False(t, erased)
}
