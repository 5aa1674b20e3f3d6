package pii

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidKey is returned when the public key material cannot be
	// parsed as a PEM or bare base64 DER RSA public key.
	ErrInvalidKey = errors.New("pii: invalid RSA public key material")

	// ErrMessageTooLong is returned when the plaintext exceeds the
	// RSA-OAEP bound for the key's modulus. The value is never truncated.
	ErrMessageTooLong = errors.New("pii: plaintext exceeds RSA-OAEP bound")
)

// EncryptField encrypts a single outbound field with RSA-OAEP using SHA-1 as
// the OAEP hash and returns the ciphertext base64-encoded. SHA-1 here is
// mandated by the ABDM gateway for wire compatibility, not a local choice.
//
// The key may be a full PEM block or the bare base64 DER body the gateway's
// certificate endpoint sometimes returns; bare bodies are PEM-wrapped first.
func EncryptField(publicKeyPEM, plaintext string) (string, error) {
	pub, err := parsePublicKey(publicKeyPEM)
	if err != nil {
		return "", err
	}

	ciphertext, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, pub, []byte(plaintext), nil)
	if err != nil {
		if errors.Is(err, rsa.ErrMessageTooLong) {
			return "", fmt.Errorf("%w: %d bytes for %d-bit modulus",
				ErrMessageTooLong, len(plaintext), pub.N.BitLen())
		}
		return "", fmt.Errorf("pii: rsa encrypt: %w", err)
	}

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// WrapPEM normalizes key material to a PEM PUBLIC KEY block. Material that
// already carries PEM armor is returned unchanged.
func WrapPEM(material string) string {
	material = strings.TrimSpace(material)
	if strings.HasPrefix(material, "-----BEGIN") {
		return material
	}

	var b strings.Builder
	b.WriteString("-----BEGIN PUBLIC KEY-----\n")
	for len(material) > 64 {
		b.WriteString(material[:64])
		b.WriteByte('\n')
		material = material[64:]
	}
	b.WriteString(material)
	b.WriteString("\n-----END PUBLIC KEY-----")
	return b.String()
}

func parsePublicKey(material string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(WrapPEM(material)))
	if block == nil {
		return nil, ErrInvalidKey
	}

	// The gateway has served both PKIX and PKCS#1 encodings over time.
	if pub, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, ErrInvalidKey
		}
		return rsaPub, nil
	}
	if pub, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return pub, nil
	}
	return nil, ErrInvalidKey
}
