package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func newTestKey(t *testing.T) []byte {
	t.Helper()

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate test key: %v", err)
	}
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := newTestKey(t)
	plaintext := []byte("hello from the paddy field")

	blob, err := EncryptMessage(key, plaintext)
	if err != nil {
		t.Fatalf("EncryptMessage failed: %v", err)
	}
	if !strings.HasPrefix(blob, "v1:") {
		t.Fatalf("expected version-prefixed blob, got %q", blob)
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(blob, "v1:"))
	if err != nil {
		t.Fatalf("blob body is not valid base64: %v", err)
	}
	if len(raw) <= 12 {
		t.Fatalf("expected nonce plus ciphertext, got %d bytes", len(raw))
	}

	decrypted, err := DecryptMessage(key, blob)
	if err != nil {
		t.Fatalf("DecryptMessage failed: %v", err)
	}
	if !bytes.Equal(plaintext, decrypted) {
		t.Fatalf("decrypted plaintext does not match original")
	}
}

func TestEncryptProducesFreshNonces(t *testing.T) {
	key := newTestKey(t)
	plaintext := []byte("same words twice")

	first, err := EncryptMessage(key, plaintext)
	if err != nil {
		t.Fatalf("first EncryptMessage failed: %v", err)
	}
	second, err := EncryptMessage(key, plaintext)
	if err != nil {
		t.Fatalf("second EncryptMessage failed: %v", err)
	}
	if first == second {
		t.Fatalf("two encryptions of the same plaintext produced identical blobs")
	}

	for _, blob := range []string{first, second} {
		decrypted, err := DecryptMessage(key, blob)
		if err != nil {
			t.Fatalf("DecryptMessage failed: %v", err)
		}
		if !bytes.Equal(plaintext, decrypted) {
			t.Fatalf("decrypted plaintext does not match original")
		}
	}
}

func TestDecryptDetectsTampering(t *testing.T) {
	key := newTestKey(t)

	blob, err := EncryptMessage(key, []byte("tamper target"))
	if err != nil {
		t.Fatalf("EncryptMessage failed: %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(blob, "v1:"))
	if err != nil {
		t.Fatalf("decode blob: %v", err)
	}
	raw[len(raw)-1] ^= 0x01
	tampered := "v1:" + base64.StdEncoding.EncodeToString(raw)

	if _, err := DecryptMessage(key, tampered); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("expected ErrDecryptFailed for tampered blob, got %v", err)
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	blob, err := EncryptMessage(newTestKey(t), []byte("secret"))
	if err != nil {
		t.Fatalf("EncryptMessage failed: %v", err)
	}

	if _, err := DecryptMessage(newTestKey(t), blob); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("expected ErrDecryptFailed for wrong key, got %v", err)
	}
}

func TestDecryptDistinguishesLegacyPlaintext(t *testing.T) {
	key := newTestKey(t)

	for _, payload := range []string{
		"plain legacy message",
		"data:audio/webm;base64,AAAA",
		"",
	} {
		if _, err := DecryptMessage(key, payload); !errors.Is(err, ErrNotEncrypted) {
			t.Fatalf("payload %q: expected ErrNotEncrypted, got %v", payload, err)
		}
	}
}

func TestDecryptRejectsTruncatedBlob(t *testing.T) {
	key := newTestKey(t)

	short := "v1:" + base64.StdEncoding.EncodeToString(make([]byte, 8))
	if _, err := DecryptMessage(key, short); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("expected ErrDecryptFailed for truncated blob, got %v", err)
	}

	if _, err := DecryptMessage(key, "v1:not-base64!!"); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("expected ErrDecryptFailed for malformed base64, got %v", err)
	}
}

func TestEncryptRejectsInvalidKeyLength(t *testing.T) {
	if _, err := EncryptMessage(make([]byte, 16), []byte("x")); err == nil {
		t.Fatalf("expected error for short key")
	}
	if _, err := DecryptMessage(make([]byte, 16), "v1:AAAA"); err == nil {
		t.Fatalf("expected error for short key")
	}
}
