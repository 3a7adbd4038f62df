package crypto

import "context"

// KeyStore holds per-patient master key material. Any implementation
// satisfying this contract (database-backed software keystore, cloud KMS,
// hardware enclave) is interchangeable; the vault only depends on the
// encrypt/decrypt/erase semantics.
type KeyStore interface {
	// MasterSecret returns the patient's master secret, provisioning one
	// on first use. Returns RecordErased once the patient has been erased;
	// erased identities are never re-provisioned.
	MasterSecret(ctx context.Context, patientID string) ([]byte, error)

	// Erase irreversibly destroys the patient's master secret and leaves a
	// tombstone. All ciphertexts derived from it become permanently
	// unrecoverable. Idempotent.
	Erase(ctx context.Context, patientID string) error

	// IsErased reports whether the patient's key material has been erased
	IsErased(ctx context.Context, patientID string) (bool, error)
}
