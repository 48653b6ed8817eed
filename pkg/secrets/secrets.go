// Package secrets seals exchange credentials with AES-256-GCM so they can sit
// in .env files and YAML overlays as ENC[v1]:... values.
package secrets

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

const (
	// KeySize is the AES-256 key length.
	KeySize = 32
	// NonceSize is the GCM nonce length.
	NonceSize = 12

	prefixFormat = "ENC[v%d]:"
)

var (
	ErrInvalidKey        = errors.New("invalid credentials key: must be 32 bytes")
	ErrInvalidCiphertext = errors.New("invalid sealed value")
	ErrUnknownVersion    = errors.New("sealed with an unknown key version")
	ErrDecryptionFailed  = errors.New("decryption failed")
)

// Sealer encrypts and decrypts values under one key version.
type Sealer struct {
	aead    cipher.AEAD
	version int
}

// New creates a Sealer for a raw 32-byte key.
func New(key []byte, version int) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	if version <= 0 {
		version = 1
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Sealer{aead: gcm, version: version}, nil
}

// FromBase64 creates a version 1 Sealer from a base64-encoded key.
func FromBase64(encoded string) (*Sealer, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode credentials key: %w", err)
	}
	return New(key, 1)
}

// GenerateKey returns a fresh random key, base64-encoded.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Seal encrypts plaintext to ENC[vN]:base64(nonce+ciphertext).
func (s *Sealer) Seal(plaintext string) (string, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return fmt.Sprintf(prefixFormat, s.version) + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a sealed value. Values without the ENC prefix are returned
// unchanged so plain and sealed credentials can be mixed.
func (s *Sealer) Open(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	version, encoded, err := split(value)
	if err != nil {
		return "", err
	}
	if version != s.version {
		return "", fmt.Errorf("%w: v%d", ErrUnknownVersion, version)
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	if len(data) < NonceSize {
		return "", ErrInvalidCiphertext
	}
	plaintext, err := s.aead.Open(nil, data[:NonceSize], data[NonceSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// IsSealed reports whether value carries the ENC[vN]: prefix.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, "ENC[v") && strings.Contains(value, "]:")
}

func split(value string) (int, string, error) {
	var version int
	if _, err := fmt.Sscanf(value, "ENC[v%d]:", &version); err != nil {
		return 0, "", ErrInvalidCiphertext
	}
	idx := strings.Index(value, "]:")
	return version, value[idx+2:], nil
}
