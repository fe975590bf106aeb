// Package pii encrypts personally identifiable information at rest.
//
// Values are sealed with AES-256-GCM under a key derived from the
// configured encryption key. Because GCM output is randomized, a
// deterministic keyed digest of the plaintext accompanies each value
// so uniqueness constraints and lookups can match on the digest
// column without ever storing a stable ciphertext.
package pii

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const keyLen = 32

// Cipher seals and opens PII values and computes lookup digests.
type Cipher struct {
	aead    cipher.AEAD
	hmacKey []byte
}

// NewCipher derives the AES and digest keys from the master key via
// HKDF-SHA256 and returns a ready Cipher.
func NewCipher(masterKey string) (*Cipher, error) {
	if masterKey == "" {
		return nil, fmt.Errorf("op=pii.NewCipher: empty encryption key")
	}

	encKey, err := deriveKey(masterKey, "pii-encryption")
	if err != nil {
		return nil, fmt.Errorf("op=pii.NewCipher: %w", err)
	}
	macKey, err := deriveKey(masterKey, "pii-digest")
	if err != nil {
		return nil, fmt.Errorf("op=pii.NewCipher: %w", err)
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, fmt.Errorf("op=pii.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("op=pii.NewCipher: %w", err)
	}

	return &Cipher{aead: aead, hmacKey: macKey}, nil
}

func deriveKey(masterKey, info string) ([]byte, error) {
	r := hkdf.New(sha256.New, []byte(masterKey), nil, []byte(info))
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Encrypt seals plaintext and returns nonce||ciphertext. Encrypting the
// same value twice yields different bytes.
func (c *Cipher) Encrypt(plaintext string) ([]byte, error) {
	if plaintext == "" {
		return nil, nil
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("op=pii.Encrypt: %w", err)
	}
	return c.aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Decrypt opens a value produced by Encrypt.
func (c *Cipher) Decrypt(data []byte) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	ns := c.aead.NonceSize()
	if len(data) < ns {
		return "", fmt.Errorf("op=pii.Decrypt: ciphertext too short")
	}
	plaintext, err := c.aead.Open(nil, data[:ns], data[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("op=pii.Decrypt: %w", err)
	}
	return string(plaintext), nil
}

// Digest returns a deterministic hex HMAC-SHA256 of the value, suitable
// for equality lookups and unique indexes over encrypted columns.
func (c *Cipher) Digest(value string) string {
	mac := hmac.New(sha256.New, c.hmacKey)
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}
