// File: internal/infra/security/encryption_service.go
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// EncryptionService provides symmetric encryption for vault secrets.
// AES-256-GCM with the key derived via SHA-256 from the master secret, so any
// master secret length is acceptable. Persisted format:
// hex(iv) ":" hex(authTag) ":" hex(ciphertext).
type EncryptionService struct {
	gcm cipher.AEAD
}

const gcmTagSize = 16

func NewEncryptionService(masterSecret string) (*EncryptionService, error) {
	if masterSecret == "" {
		return nil, fmt.Errorf("master secret is empty")
	}
	key := sha256.Sum256([]byte(masterSecret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return &EncryptionService{gcm: gcm}, nil
}

func (e *EncryptionService) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, e.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("rand iv: %w", err)
	}
	sealed := e.gcm.Seal(nil, iv, []byte(plaintext), nil)
	body, tag := sealed[:len(sealed)-gcmTagSize], sealed[len(sealed)-gcmTagSize:]
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(body), nil
}

// Decrypt accepts output of Encrypt and returns the original plaintext.
func (e *EncryptionService) Decrypt(encoded string) (string, error) {
	parts := strings.SplitN(encoded, ":", 3)
	if len(parts) != 3 {
		return "", fmt.Errorf("malformed ciphertext: want iv:tag:cipher")
	}
	iv, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("decode iv: %w", err)
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decode tag: %w", err)
	}
	body, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("decode cipher: %w", err)
	}
	if len(iv) != e.gcm.NonceSize() || len(tag) != gcmTagSize {
		return "", fmt.Errorf("malformed ciphertext: bad iv or tag length")
	}
	pt, err := e.gcm.Open(nil, iv, append(body, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("gcm open: %w", err)
	}
	return string(pt), nil
}
