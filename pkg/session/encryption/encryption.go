// Package encryption provides the at-rest encryption primitive for the
// jsonl session writer: AES-256-GCM with an Argon2id-derived key, mirroring
// the original store's "AES-256-GCM with Argon2id key derivation" design.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	saltSize = 16
	keySize  = 32 // AES-256
)

// KeyDerivationParams tunes the Argon2id cost; the defaults match
// OWASP's baseline recommendation for interactive key derivation.
type KeyDerivationParams struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
}

func DefaultKeyDerivationParams() KeyDerivationParams {
	return KeyDerivationParams{Time: 1, Memory: 64 * 1024, Threads: 4}
}

func GenerateSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("encryption: generate salt: %w", err)
	}
	return salt, nil
}

// DeriveKey derives a 32-byte AES-256 key from password and salt.
func DeriveKey(password string, salt []byte, params KeyDerivationParams) ([]byte, error) {
	if len(salt) != saltSize {
		return nil, fmt.Errorf("encryption: salt must be %d bytes, got %d", saltSize, len(salt))
	}
	return argon2.IDKey([]byte(password), salt, params.Time, params.Memory, params.Threads, keySize), nil
}

// Encrypt seals data with AES-256-GCM under key, prepending the random
// nonce to the ciphertext so Decrypt needs no side channel for it.
func Encrypt(data, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("encryption: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("encryption: new GCM: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("encryption: nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, data, nil), nil
}

// Decrypt reverses Encrypt, reading the nonce back off the ciphertext's
// prefix.
func Decrypt(ciphertext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("encryption: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("encryption: new GCM: %w", err)
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("encryption: ciphertext too short")
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, sealed, nil)
}
