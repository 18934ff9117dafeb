// Package security holds at-rest encryption for meeting results.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// sealedPrefix versions the stored format so keys can be rotated later.
const sealedPrefix = "v1:"

var (
	ErrKeySize   = errors.New("encryption key must be 16, 24 or 32 bytes")
	ErrMalformed = errors.New("sealed value is malformed")
)

// EncryptionService seals stored transcripts with AES-GCM. Every value is
// bound to the job it belongs to, so a blob copied onto another row fails
// to open.
type EncryptionService struct {
	aead cipher.AEAD
}

// NewEncryptionService takes a raw 16/24/32 byte key or the same key in
// standard base64.
func NewEncryptionService(key string) (*EncryptionService, error) {
	k, err := parseKey(key)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(k)
	if err != nil {
		return nil, fmt.Errorf("aes: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &EncryptionService{aead: aead}, nil
}

func parseKey(key string) ([]byte, error) {
	if validSize(len(key)) {
		return []byte(key), nil
	}
	if raw, err := base64.StdEncoding.DecodeString(key); err == nil && validSize(len(raw)) {
		return raw, nil
	}
	return nil, fmt.Errorf("%w (got %d)", ErrKeySize, len(key))
}

func validSize(n int) bool { return n == 16 || n == 24 || n == 32 }

// Seal returns "v1:" + base64(nonce || ciphertext) with jobID as
// associated data.
func (e *EncryptionService) Seal(jobID, plaintext string) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	out := e.aead.Seal(nonce, nonce, []byte(plaintext), []byte(jobID))
	return sealedPrefix + base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal for the same jobID.
func (e *EncryptionService) Open(jobID, sealed string) (string, error) {
	body, ok := strings.CutPrefix(sealed, sealedPrefix)
	if !ok {
		return "", ErrMalformed
	}
	data, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	ns := e.aead.NonceSize()
	if len(data) < ns+e.aead.Overhead() {
		return "", ErrMalformed
	}
	pt, err := e.aead.Open(nil, data[:ns], data[ns:], []byte(jobID))
	if err != nil {
		return "", fmt.Errorf("open sealed content for %s: %w", jobID, err)
	}
	return string(pt), nil
}
