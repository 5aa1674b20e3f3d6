package pii

import (
	"crypto/rand"
	"errors"
	"strings"
	"testing"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate test key: %v", err)
	}
	return key
}

func TestNewCipher(t *testing.T) {
	t.Run("valid 32-byte key", func(t *testing.T) {
		c, err := NewCipher(testKey(t))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if c == nil {
			t.Fatal("expected non-nil cipher")
		}
	})

	t.Run("key too short", func(t *testing.T) {
		if _, err := NewCipher(make([]byte, 16)); err == nil {
			t.Fatal("expected error for 16-byte key")
		}
	})

	t.Run("empty key", func(t *testing.T) {
		if _, err := NewCipher(nil); err == nil {
			t.Fatal("expected error for empty key")
		}
	})
}

func TestNewCipherFromHex(t *testing.T) {
	valid := strings.Repeat("ab", 32)
	if _, err := NewCipherFromHex(valid); err != nil {
		t.Fatalf("unexpected error for 64-hex-char key: %v", err)
	}
	if _, err := NewCipherFromHex("not-hex"); err == nil {
		t.Fatal("expected error for non-hex key")
	}
	if _, err := NewCipherFromHex("abcd"); err == nil {
		t.Fatal("expected error for short hex key")
	}
}

func TestCipher_RoundTrip(t *testing.T) {
	c, err := NewCipher(testKey(t))
	if err != nil {
		t.Fatalf("create cipher: %v", err)
	}

	cases := []string{
		"",
		"refresh-token-value",
		"eyJhbGciOiJSUzI1NiJ9.long.opaque-token",
		"\x00\x01binary\xff",
	}

	for _, plaintext := range cases {
		packed, err := c.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("encrypt %q: %v", plaintext, err)
		}

		if parts := strings.Split(packed, ":"); len(parts) != 3 {
			t.Fatalf("expected iv:tag:ct packing, got %q", packed)
		}

		got, err := c.Decrypt(packed)
		if err != nil {
			t.Fatalf("decrypt: %v", err)
		}
		if got != plaintext {
			t.Errorf("round trip mismatch: got %q, want %q", got, plaintext)
		}
	}
}

func TestCipher_FreshIVPerCall(t *testing.T) {
	c, _ := NewCipher(testKey(t))

	a, _ := c.Encrypt("same plaintext")
	b, _ := c.Encrypt("same plaintext")
	if a == b {
		t.Error("expected distinct ciphertexts for repeated encryption")
	}
}

func TestCipher_TamperFailsClosed(t *testing.T) {
	c, _ := NewCipher(testKey(t))
	packed, _ := c.Encrypt("sensitive")

	// Flip one hex digit of the ciphertext segment.
	parts := strings.Split(packed, ":")
	ct := []byte(parts[2])
	if ct[0] == 'a' {
		ct[0] = 'b'
	} else {
		ct[0] = 'a'
	}
	tampered := parts[0] + ":" + parts[1] + ":" + string(ct)

	if _, err := c.Decrypt(tampered); !errors.Is(err, ErrIntegrity) {
		t.Errorf("expected ErrIntegrity, got %v", err)
	}
}

func TestCipher_WrongKeyFailsClosed(t *testing.T) {
	c1, _ := NewCipher(testKey(t))
	c2, _ := NewCipher(testKey(t))

	packed, _ := c1.Encrypt("sensitive")
	if _, err := c2.Decrypt(packed); !errors.Is(err, ErrIntegrity) {
		t.Errorf("expected ErrIntegrity, got %v", err)
	}
}

func TestCipher_MalformedPacking(t *testing.T) {
	c, _ := NewCipher(testKey(t))

	cases := []string{
		"",
		"onlyonesegment",
		"two:segments",
		"a:b:c:d",
		"zz:gg:hh",                    // not hex
		"abcd:" + strings.Repeat("00", 16) + ":00", // iv wrong length
	}

	for _, packed := range cases {
		if _, err := c.Decrypt(packed); !errors.Is(err, ErrMalformedCiphertext) {
			t.Errorf("Decrypt(%q): expected ErrMalformedCiphertext, got %v", packed, err)
		}
	}
}
