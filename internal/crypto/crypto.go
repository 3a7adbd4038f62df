package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/careledger/health-vault-api/internal/serviceerror"
)

// KeySize is the AES-256 key length in bytes
const KeySize = 32

// Encrypt seals plaintext with AES-256-GCM under the given key.
// The random nonce is prepended to the returned ciphertext.
func Encrypt(plaintext, key []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, serviceerror.KeyInvalid.WithDescription("encryption key must be %d bytes", KeySize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens an AES-256-GCM ciphertext produced by Encrypt. Tampering
// is detected here, not silently accepted: any authentication failure
// returns AuthTagMismatch.
func Decrypt(ciphertext, key []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, serviceerror.KeyInvalid.WithDescription("decryption key must be %d bytes", KeySize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, serviceerror.AuthTagMismatch.WithDescription("ciphertext shorter than nonce")
	}

	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, serviceerror.AuthTagMismatch
	}

	return plaintext, nil
}

// DeriveGrantKey derives the per-grant record key from a patient's master
// secret via HKDF-SHA256. Distinct grants never share a key, so revoking
// the underlying master secret (cryptographic erasure) invalidates every
// grant key at once.
func DeriveGrantKey(masterSecret []byte, grantID string) ([]byte, error) {
	if len(masterSecret) != KeySize {
		return nil, serviceerror.KeyInvalid.WithDescription("master secret must be %d bytes", KeySize)
	}
	if grantID == "" {
		return nil, serviceerror.KeyInvalid.WithDescription("grant ID is required for key derivation")
	}

	reader := hkdf.New(sha256.New, masterSecret, nil, []byte("grant-key:"+grantID))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("failed to derive grant key: %w", err)
	}

	return key, nil
}

// NewMasterSecret generates a fresh 32-byte patient master secret
func NewMasterSecret() ([]byte, error) {
	secret := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return nil, fmt.Errorf("failed to generate master secret: %w", err)
	}
	return secret, nil
}

// HashContent returns the hex-encoded SHA-256 of a record plaintext.
// Stored alongside the ciphertext and re-verified after every decrypt.
func HashContent(plaintext []byte) string {
	sum := sha256.Sum256(plaintext)
	return hex.EncodeToString(sum[:])
}
