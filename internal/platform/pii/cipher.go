package pii

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrIntegrity is returned when an authenticated decryption fails,
	// either because the ciphertext was tampered with or the wrong key
	// was used. No partial plaintext is ever returned.
	ErrIntegrity = errors.New("pii: ciphertext integrity check failed")

	// ErrMalformedCiphertext is returned when a packed ciphertext does not
	// have the expected iv:tag:ciphertext hex layout.
	ErrMalformedCiphertext = errors.New("pii: malformed packed ciphertext")
)

// gcmIVSize is the IV length used for at-rest encryption. The packed format
// carries the IV explicitly, so a non-default GCM nonce size is fine.
const gcmIVSize = 16

// Cipher provides AES-256-GCM encryption for values that must never be
// persisted in the clear, such as ABDM refresh tokens. Encrypted values are
// packed as three colon-separated hex segments: IV, auth tag, ciphertext.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates a Cipher from a 32-byte AES-256 key. The key length is
// enforced here so a misconfigured deployment fails at startup instead of
// silently producing ciphertext that a restarted process cannot read.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("pii cipher: key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("pii cipher: create cipher: %w", err)
	}

	aead, err := cipher.NewGCMWithNonceSize(block, gcmIVSize)
	if err != nil {
		return nil, fmt.Errorf("pii cipher: create GCM: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// NewCipherFromHex creates a Cipher from a 64-character hex key string.
func NewCipherFromHex(hexKey string) (*Cipher, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("pii cipher: key is not valid hex: %w", err)
	}
	return NewCipher(key)
}

// Encrypt encrypts the plaintext with a fresh random IV and returns the
// packed iv:tag:ciphertext hex string.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, gcmIVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("pii encrypt: generate iv: %w", err)
	}

	// Seal appends ciphertext||tag; split the tag off for the packed format.
	sealed := c.aead.Seal(nil, iv, []byte(plaintext), nil)
	tagAt := len(sealed) - c.aead.Overhead()
	ct, tag := sealed[:tagAt], sealed[tagAt:]

	return fmt.Sprintf("%s:%s:%s",
		hex.EncodeToString(iv),
		hex.EncodeToString(tag),
		hex.EncodeToString(ct),
	), nil
}

// Decrypt unpacks an iv:tag:ciphertext hex string and decrypts it, verifying
// the auth tag. Any tamper or malformed packing fails closed.
func (c *Cipher) Decrypt(packed string) (string, error) {
	parts := strings.Split(packed, ":")
	if len(parts) != 3 {
		return "", ErrMalformedCiphertext
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != gcmIVSize {
		return "", ErrMalformedCiphertext
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != c.aead.Overhead() {
		return "", ErrMalformedCiphertext
	}
	ct, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", ErrMalformedCiphertext
	}

	plaintext, err := c.aead.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", ErrIntegrity
	}
	return string(plaintext), nil
}
