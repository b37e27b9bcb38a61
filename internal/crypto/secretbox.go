// Package crypto seals refresh tokens and 2FA secrets at rest.
// Uses AES-256-GCM for authenticated encryption; the key is derived once
// from the configured 32-character string by hashing it with SHA-256.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/mailpool/mailpool/internal/apperr"
)

// nonceSize is 128 bits, matching the stored blob layout.
const nonceSize = 16

// SecretBox encrypts and decrypts small secrets.
// Stored blob format: hex(nonce):hex(tag):hex(ciphertext).
type SecretBox struct {
	aead cipher.AEAD
}

// NewSecretBox derives the AEAD key from the configured key string.
// There is no rotation path; re-keying means re-encrypting offline.
func NewSecretBox(key string) (*SecretBox, error) {
	sum := sha256.Sum256([]byte(key))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM mode: %w", err)
	}
	return &SecretBox{aead: aead}, nil
}

// Encrypt seals plaintext with a fresh random nonce per call.
func (b *SecretBox) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := b.aead.Seal(nil, nonce, []byte(plaintext), nil)

	// Seal appends the auth tag to the ciphertext; store them as separate
	// segments so the blob is self-describing.
	tagAt := len(sealed) - b.aead.Overhead()
	ciphertext, tag := sealed[:tagAt], sealed[tagAt:]

	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ciphertext), nil
}

// Decrypt opens a blob produced by Encrypt. Any malformed segment, wrong
// nonce length, or failed tag verification yields ErrCryptoInvalid.
func (b *SecretBox) Decrypt(blob string) (string, error) {
	parts := strings.Split(blob, ":")
	if len(parts) != 3 {
		return "", apperr.ErrCryptoInvalid
	}

	nonce, err := hex.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceSize {
		return "", apperr.ErrCryptoInvalid
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != b.aead.Overhead() {
		return "", apperr.ErrCryptoInvalid
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", apperr.ErrCryptoInvalid
	}

	plaintext, err := b.aead.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return "", apperr.ErrCryptoInvalid
	}
	return string(plaintext), nil
}
