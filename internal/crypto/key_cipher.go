// Package crypto seals provider API keys at rest with AES-256-GCM.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

const sealedPrefix = "ENC:v1:"

var ErrDecrypt = errors.New("provider key could not be decrypted")

// KeyCipher encrypts and decrypts provider keys. A KeyCipher without a key
// passes values through unchanged.
type KeyCipher struct {
	key []byte
}

// NewKeyCipher parses a hex-encoded 32-byte key. An empty string yields a
// pass-through cipher.
func NewKeyCipher(hexKey string) (*KeyCipher, error) {
	hexKey = strings.TrimSpace(hexKey)
	if hexKey == "" {
		return &KeyCipher{}, nil
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("key must be hex-encoded: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes (64 hex chars), got %d bytes", len(key))
	}
	return &KeyCipher{key: key}, nil
}

func (c *KeyCipher) Enabled() bool {
	return len(c.key) > 0
}

// Seal returns "ENC:v1:" + base64(nonce|ciphertext|tag).
func (c *KeyCipher) Seal(plaintext string) (string, error) {
	if !c.Enabled() {
		return plaintext, nil
	}
	gcm, err := newGCM(c.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Values without the prefix are returned as-is.
func (c *KeyCipher) Open(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	if !c.Enabled() {
		return "", fmt.Errorf("%w: no encryption key configured", ErrDecrypt)
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDecrypt, err)
	}
	gcm, err := newGCM(c.key)
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}
	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDecrypt, err)
	}
	return string(plain), nil
}

func IsSealed(value string) bool {
	return strings.HasPrefix(value, sealedPrefix)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
