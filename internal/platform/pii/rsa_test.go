package pii

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"strings"
	"testing"
)

func testRSAKeyPEM(t *testing.T, bits int) (*rsa.PrivateKey, string) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return priv, string(pemKey)
}

func TestEncryptField_RoundTrip(t *testing.T) {
	priv, pemKey := testRSAKeyPEM(t, 2048)

	enc, err := EncryptField(pemKey, "123456")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		t.Fatalf("ciphertext is not base64: %v", err)
	}

	plain, err := rsa.DecryptOAEP(sha1.New(), rand.Reader, priv, ciphertext, nil)
	if err != nil {
		t.Fatalf("decrypt with matching private key: %v", err)
	}
	if string(plain) != "123456" {
		t.Errorf("round trip mismatch: got %q", plain)
	}
}

func TestEncryptField_BareBase64Key(t *testing.T) {
	// The gateway certificate endpoint sometimes returns the DER body
	// without PEM armor; EncryptField must accept it.
	priv, pemKey := testRSAKeyPEM(t, 2048)

	bare := strings.ReplaceAll(pemKey, "-----BEGIN PUBLIC KEY-----", "")
	bare = strings.ReplaceAll(bare, "-----END PUBLIC KEY-----", "")
	bare = strings.ReplaceAll(bare, "\n", "")

	enc, err := EncryptField(bare, "9876543210")
	if err != nil {
		t.Fatalf("encrypt with bare base64 key: %v", err)
	}

	ciphertext, _ := base64.StdEncoding.DecodeString(enc)
	plain, err := rsa.DecryptOAEP(sha1.New(), rand.Reader, priv, ciphertext, nil)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(plain) != "9876543210" {
		t.Errorf("round trip mismatch: got %q", plain)
	}
}

func TestEncryptField_InvalidKey(t *testing.T) {
	if _, err := EncryptField("not a key", "data"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
	if _, err := EncryptField("", "data"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey for empty material, got %v", err)
	}
}

func TestEncryptField_MessageTooLong(t *testing.T) {
	_, pemKey := testRSAKeyPEM(t, 2048)

	// 2048-bit OAEP/SHA-1 bound is 256 - 2*20 - 2 = 214 bytes.
	long := strings.Repeat("x", 215)
	if _, err := EncryptField(pemKey, long); !errors.Is(err, ErrMessageTooLong) {
		t.Errorf("expected ErrMessageTooLong, got %v", err)
	}

	// At the bound it must still succeed.
	if _, err := EncryptField(pemKey, strings.Repeat("x", 214)); err != nil {
		t.Errorf("expected success at OAEP bound, got %v", err)
	}
}

func TestWrapPEM(t *testing.T) {
	armored := "-----BEGIN PUBLIC KEY-----\nabc\n-----END PUBLIC KEY-----"
	if got := WrapPEM(armored); got != armored {
		t.Errorf("armored input should pass through unchanged, got %q", got)
	}

	wrapped := WrapPEM(strings.Repeat("A", 100))
	if !strings.HasPrefix(wrapped, "-----BEGIN PUBLIC KEY-----\n") {
		t.Error("expected PEM header")
	}
	if !strings.HasSuffix(wrapped, "-----END PUBLIC KEY-----") {
		t.Error("expected PEM footer")
	}
}
