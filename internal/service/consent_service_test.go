package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/careledger/health-vault-api/internal/dao"
	"github.com/careledger/health-vault-api/internal/database"
	"github.com/careledger/health-vault-api/internal/models"
	"github.com/careledger/health-vault-api/internal/serviceerror"
	"github.com/careledger/health-vault-api/pkg/utils"
)

// mockProver is a hand-written identity.Prover mock
type mockProver struct {
	mock.Mock
}

func (m *mockProver) VerifyAuthority(ctx context.Context, actorID, capability string) (bool, error) {
	args := m.Called(ctx, actorID, capability)
	return args.Bool(0), args.Error(1)
}

func newTestService(t *testing.T) (*ConsentService, sqlmock.Sqlmock, *mockProver) {
	t.Helper()

	mockDB, sqlMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	db := database.Wrap(sqlx.NewDb(mockDB, "sqlmock"), logger)
	prover := &mockProver{}

	grantDAO := dao.NewGrantDAO(db)
	auditService := NewAuditService(dao.NewAuditDAO(db), db, logger)

	return NewConsentService(grantDAO, auditService, prover, db, logger), sqlMock, prover
}

var grantColumns = []string{
	"GRANT_ID", "PATIENT_ID", "GRANTEE_ID", "SCOPE", "SCOPE_KEY",
	"VALID_FROM", "VALID_UNTIL", "REVOKED", "EMERGENCY",
	"CURRENT_STATUS", "CREATED_TIME", "UPDATED_TIME",
}

// expectAuditAppend registers the expectations for one audit append into a
// shard whose chain has no entries yet: the head seed takes effect and the
// locked head reads back at the genesis marker.
func expectAuditAppend(sqlMock sqlmock.Sqlmock) {
	sqlMock.ExpectExec("INSERT IGNORE INTO VLT_AUDIT_HEAD").
		WillReturnResult(sqlmock.NewResult(1, 1))
	sqlMock.ExpectQuery("SELECT \\* FROM VLT_AUDIT_HEAD").
		WillReturnRows(sqlmock.NewRows([]string{"SHARD", "HEAD_SEQUENCE", "HEAD_HASH"}).
			AddRow("PAT-1", int64(-1), ""))
	sqlMock.ExpectExec("INSERT INTO VLT_AUDIT_LOG").
		WillReturnResult(sqlmock.NewResult(1, 1))
	sqlMock.ExpectExec("UPDATE VLT_AUDIT_HEAD").
		WillReturnResult(sqlmock.NewResult(1, 1))
}

func TestGrantConsentCreatesGrantWithAudit(t *testing.T) {
	svc, sqlMock, _ := newTestService(t)

	sqlMock.ExpectBegin()
	sqlMock.ExpectQuery("SELECT \\* FROM VLT_CONSENT_GRANT").
		WillReturnRows(sqlmock.NewRows(grantColumns))
	sqlMock.ExpectExec("INSERT INTO VLT_CONSENT_GRANT").
		WillReturnResult(sqlmock.NewResult(1, 1))
	expectAuditAppend(sqlMock)
	sqlMock.ExpectCommit()

	resp, err := svc.GrantConsent(context.Background(), &models.GrantConsentAPIRequest{
		PatientID:  "PAT-1",
		GranteeID:  "DR-1",
		Scope:      []string{"vitals", "prescriptions"},
		ValidUntil: utils.GetCurrentTimeMillis() + time.Hour.Milliseconds(),
	}, "PAT-1")
	require.NoError(t, err)

	assert.NotEmpty(t, resp.GrantID)
	assert.Equal(t, []string{"prescriptions", "vitals"}, resp.Scope)
	assert.Equal(t, models.GrantStatusActive, resp.CurrentStatus)
	assert.False(t, resp.Emergency)
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestGrantConsentReturnsExistingGrantForSameTuple(t *testing.T) {
	svc, sqlMock, _ := newTestService(t)

	now := utils.GetCurrentTimeMillis()
	scopeJSON := `["prescriptions","vitals"]`

	sqlMock.ExpectBegin()
	sqlMock.ExpectQuery("SELECT \\* FROM VLT_CONSENT_GRANT").
		WillReturnRows(sqlmock.NewRows(grantColumns).AddRow(
			"GRANT-existing", "PAT-1", "DR-1", scopeJSON, "prescriptions|vitals",
			now-1000, now+time.Hour.Milliseconds(), false, false,
			models.GrantStatusActive, now-1000, now-1000,
		))
	sqlMock.ExpectCommit()

	resp, err := svc.GrantConsent(context.Background(), &models.GrantConsentAPIRequest{
		PatientID:  "PAT-1",
		GranteeID:  "DR-1",
		Scope:      []string{"vitals", "prescriptions"},
		ValidUntil: now + time.Hour.Milliseconds(),
	}, "PAT-1")
	require.NoError(t, err)

	// No insert happened; the duplicate create converged on the original
	assert.Equal(t, "GRANT-existing", resp.GrantID)
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestGrantConsentSerializesConcurrentCreatesForSameTuple(t *testing.T) {
	svc, sqlMock, _ := newTestService(t)

	now := utils.GetCurrentTimeMillis()
	scopeJSON := `["vitals"]`

	// The per-tuple lock forces the two calls into sequence: one finds no
	// active grant and inserts, the other reads the winner's row. Exactly
	// one insert is expected across both calls.
	sqlMock.ExpectBegin()
	sqlMock.ExpectQuery("SELECT \\* FROM VLT_CONSENT_GRANT").
		WillReturnRows(sqlmock.NewRows(grantColumns))
	sqlMock.ExpectExec("INSERT INTO VLT_CONSENT_GRANT").
		WillReturnResult(sqlmock.NewResult(1, 1))
	expectAuditAppend(sqlMock)
	sqlMock.ExpectCommit()

	sqlMock.ExpectBegin()
	sqlMock.ExpectQuery("SELECT \\* FROM VLT_CONSENT_GRANT").
		WillReturnRows(sqlmock.NewRows(grantColumns).AddRow(
			"GRANT-winner", "PAT-1", "DR-1", scopeJSON, "vitals",
			now, now+time.Hour.Milliseconds(), false, false,
			models.GrantStatusActive, now, now,
		))
	sqlMock.ExpectCommit()

	req := &models.GrantConsentAPIRequest{
		PatientID:  "PAT-1",
		GranteeID:  "DR-1",
		Scope:      []string{"vitals"},
		ValidUntil: now + time.Hour.Milliseconds(),
	}

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.GrantConsent(context.Background(), req, "PAT-1")
		}(i)
	}
	wg.Wait()

	assert.NoError(t, results[0])
	assert.NoError(t, results[1])
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestGrantConsentRejectsEmptyScope(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.GrantConsent(context.Background(), &models.GrantConsentAPIRequest{
		PatientID:  "PAT-1",
		GranteeID:  "DR-1",
		Scope:      []string{"", "  "},
		ValidUntil: utils.GetCurrentTimeMillis() + 1000,
	}, "PAT-1")

	assert.True(t, errors.Is(err, serviceerror.InvalidScope))
}

func TestGrantConsentRejectsPastWindow(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.GrantConsent(context.Background(), &models.GrantConsentAPIRequest{
		PatientID:  "PAT-1",
		GranteeID:  "DR-1",
		Scope:      []string{"vitals"},
		ValidUntil: utils.GetCurrentTimeMillis() - 1000,
	}, "PAT-1")

	assert.True(t, errors.Is(err, serviceerror.InvalidWindow))
}

func TestRevokeUnknownGrant(t *testing.T) {
	svc, sqlMock, _ := newTestService(t)

	sqlMock.ExpectBegin()
	sqlMock.ExpectQuery("SELECT \\* FROM VLT_CONSENT_GRANT").
		WillReturnRows(sqlmock.NewRows(grantColumns))
	sqlMock.ExpectRollback()

	err := svc.Revoke(context.Background(), "GRANT-missing", "", "PAT-1")
	assert.True(t, errors.Is(err, serviceerror.GrantNotFound))
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestRevokeIsIdempotent(t *testing.T) {
	svc, sqlMock, _ := newTestService(t)

	now := utils.GetCurrentTimeMillis()

	// Already revoked: no update, no audit, still success
	sqlMock.ExpectBegin()
	sqlMock.ExpectQuery("SELECT \\* FROM VLT_CONSENT_GRANT").
		WillReturnRows(sqlmock.NewRows(grantColumns).AddRow(
			"GRANT-1", "PAT-1", "DR-1", `["vitals"]`, "vitals",
			now-1000, now+1000, true, false,
			models.GrantStatusRevoked, now-1000, now-500,
		))
	sqlMock.ExpectCommit()

	assert.NoError(t, svc.Revoke(context.Background(), "GRANT-1", "", "PAT-1"))
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestEmergencyAccessDeniedWithoutClinicalRole(t *testing.T) {
	svc, _, prover := newTestService(t)

	prover.On("VerifyAuthority", mock.Anything, "NURSE-9", mock.Anything).Return(false, nil)

	_, err := svc.EmergencyAccess(context.Background(), &models.EmergencyAccessAPIRequest{
		PatientID:     "PAT-1",
		GranteeID:     "NURSE-9",
		Justification: "unconscious patient in ER",
	}, "NURSE-9")

	assert.True(t, errors.Is(err, serviceerror.AuthorityDenied))
	prover.AssertExpectations(t)
}

func TestEmergencyAccessFailsClosedOnProofingOutage(t *testing.T) {
	svc, _, prover := newTestService(t)

	prover.On("VerifyAuthority", mock.Anything, "DR-1", mock.Anything).
		Return(false, fmt.Errorf("connection refused"))

	_, err := svc.EmergencyAccess(context.Background(), &models.EmergencyAccessAPIRequest{
		PatientID:     "PAT-1",
		GranteeID:     "DR-1",
		Justification: "unconscious patient in ER",
	}, "DR-1")

	assert.True(t, errors.Is(err, serviceerror.AuthorityDenied))
}

func TestEmergencyAccessGrantsFullScopeFor24Hours(t *testing.T) {
	svc, sqlMock, prover := newTestService(t)

	prover.On("VerifyAuthority", mock.Anything, "DR-1", mock.Anything).Return(true, nil)

	sqlMock.ExpectBegin()
	sqlMock.ExpectExec("INSERT INTO VLT_CONSENT_GRANT").
		WillReturnResult(sqlmock.NewResult(1, 1))
	expectAuditAppend(sqlMock)
	sqlMock.ExpectCommit()

	before := utils.GetCurrentTimeMillis()
	resp, err := svc.EmergencyAccess(context.Background(), &models.EmergencyAccessAPIRequest{
		PatientID:     "PAT-1",
		GranteeID:     "DR-1",
		Justification: "unconscious patient in ER",
	}, "DR-1")
	require.NoError(t, err)

	assert.True(t, resp.Emergency)
	assert.Equal(t, []string{models.FullScope}, resp.Scope)
	assert.InDelta(t, before+models.EmergencyWindow.Milliseconds(), resp.ValidUntil, 5000,
		"emergency grants end 24h after creation")
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestEmergencyAccessRequiresJustification(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.EmergencyAccess(context.Background(), &models.EmergencyAccessAPIRequest{
		PatientID: "PAT-1",
		GranteeID: "DR-1",
	}, "DR-1")

	assert.True(t, errors.Is(err, serviceerror.ValidationError))
}
