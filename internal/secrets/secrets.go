// Package secrets encrypts and decrypts stored credentials.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
)

// EnvKey names the environment variable holding the passphrase.
const EnvKey = "TASKPILOT_SECRET_KEY"

var (
	// ErrNoKey is returned when no passphrase is configured.
	ErrNoKey = errors.New("secret key not configured")
	// ErrMalformed is returned for tokens that are not valid ciphertext.
	ErrMalformed = errors.New("malformed secret token")
)

// Store seals values with AES-256-GCM under a key derived from a passphrase.
type Store struct {
	aead cipher.AEAD
}

// New derives a store from passphrase.
func New(passphrase string) (*Store, error) {
	if passphrase == "" {
		return nil, ErrNoKey
	}
	key := sha256.Sum256([]byte(passphrase))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return &Store{aead: aead}, nil
}

// FromEnv builds a store from TASKPILOT_SECRET_KEY.
func FromEnv() (*Store, error) {
	return New(os.Getenv(EnvKey))
}

// Encrypt returns a base64 token for plaintext.
func (s *Store) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (s *Store) Decrypt(token string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	n := s.aead.NonceSize()
	if len(raw) < n+s.aead.Overhead() {
		return "", ErrMalformed
	}
	plain, err := s.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return string(plain), nil
}
