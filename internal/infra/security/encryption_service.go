// File: internal/infra/security/encryption_service.go
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const versionPrefix = "v1:"

var ErrCiphertext = errors.New("security: invalid ciphertext")

// Cipher seals short secrets such as portal passwords. The associated data
// binds a ciphertext to its owner so it cannot be copied onto another row.
type Cipher interface {
	Encrypt(plaintext, associated string) (string, error)
	Decrypt(ciphertext, associated string) (string, error)
}

var _ Cipher = (*EncryptionService)(nil)

// EncryptionService is AES-GCM with a random nonce per message.
// Output format: "v1:" + base64(nonce || ciphertext).
type EncryptionService struct {
	gcm cipher.AEAD
}

// NewEncryptionService takes a 16, 24 or 32 byte key (AES-128/192/256).
func NewEncryptionService(key string) (*EncryptionService, error) {
	k := []byte(key)
	n := len(k)
	if n != 16 && n != 24 && n != 32 {
		return nil, fmt.Errorf("encryption key must be 16, 24, or 32 bytes; got %d", n)
	}
	block, err := aes.NewCipher(k)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return &EncryptionService{gcm: gcm}, nil
}

func (e *EncryptionService) Encrypt(plaintext, associated string) (string, error) {
	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}
	ct := e.gcm.Seal(nonce, nonce, []byte(plaintext), []byte(associated))
	return versionPrefix + base64.StdEncoding.EncodeToString(ct), nil
}

func (e *EncryptionService) Decrypt(ciphertext, associated string) (string, error) {
	if !strings.HasPrefix(ciphertext, versionPrefix) {
		return "", ErrCiphertext
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ciphertext, versionPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: base64: %v", ErrCiphertext, err)
	}
	ns := e.gcm.NonceSize()
	if len(data) < ns {
		return "", ErrCiphertext
	}
	nonce, ct := data[:ns], data[ns:]
	pt, err := e.gcm.Open(nil, nonce, ct, []byte(associated))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCiphertext, err)
	}
	return string(pt), nil
}

// CredentialAAD is the associated data used for insurance portal passwords.
func CredentialAAD(userID int64, siteKey string) string {
	return fmt.Sprintf("credential:%d:%s", userID, strings.ToUpper(siteKey))
}
