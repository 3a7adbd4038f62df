package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careledger/health-vault-api/internal/config"
	"github.com/careledger/health-vault-api/internal/serviceerror"
)

const testSigningKey = "test-signing-key"

func testBridge() *BridgeService {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	return NewBridgeService(nil, nil, config.BridgeConfig{
		Issuer:         "consent-ledger",
		SigningKey:     testSigningKey,
		AttestationTTL: 5 * time.Minute,
		VerifyTimeout:  3 * time.Second,
	}, logger)
}

func mintToken(t *testing.T, issuer, subject, signingKey string, expiresIn time.Duration) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ID:        "test-jti",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(signingKey))
	require.NoError(t, err)
	return token
}

func TestVerifyAcceptsValidAttestation(t *testing.T) {
	bridge := testBridge()
	token := mintToken(t, "consent-ledger", "PAT-1", testSigningKey, 5*time.Minute)

	assert.NoError(t, bridge.Verify(context.Background(), "PAT-1", token))
}

func TestVerifyRejectsExpiredAttestation(t *testing.T) {
	bridge := testBridge()
	token := mintToken(t, "consent-ledger", "PAT-1", testSigningKey, -time.Minute)

	err := bridge.Verify(context.Background(), "PAT-1", token)
	assert.True(t, errors.Is(err, serviceerror.AttestationInvalid))
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	bridge := testBridge()
	token := mintToken(t, "someone-else", "PAT-1", testSigningKey, 5*time.Minute)

	err := bridge.Verify(context.Background(), "PAT-1", token)
	assert.True(t, errors.Is(err, serviceerror.AttestationInvalid))
}

func TestVerifyRejectsSubjectMismatch(t *testing.T) {
	bridge := testBridge()
	token := mintToken(t, "consent-ledger", "PAT-1", testSigningKey, 5*time.Minute)

	err := bridge.Verify(context.Background(), "PAT-2", token)
	assert.True(t, errors.Is(err, serviceerror.AttestationInvalid))
}

func TestVerifyRejectsForgedSignature(t *testing.T) {
	bridge := testBridge()
	token := mintToken(t, "consent-ledger", "PAT-1", "attacker-key", 5*time.Minute)

	err := bridge.Verify(context.Background(), "PAT-1", token)
	assert.True(t, errors.Is(err, serviceerror.AttestationInvalid))
}

func TestVerifyRejectsGarbage(t *testing.T) {
	bridge := testBridge()

	err := bridge.Verify(context.Background(), "PAT-1", "not-a-token")
	assert.True(t, errors.Is(err, serviceerror.AttestationInvalid))
}

func TestVerifyRejectsUnsignedToken(t *testing.T) {
	bridge := testBridge()

	claims := jwt.RegisteredClaims{
		Issuer:    "consent-ledger",
		Subject:   "PAT-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	verifyErr := bridge.Verify(context.Background(), "PAT-1", token)
	assert.True(t, errors.Is(verifyErr, serviceerror.AttestationInvalid))
}
