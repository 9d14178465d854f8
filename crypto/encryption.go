package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const aes256KeySize = 32

// blobPrefix tags encrypted payloads so decrypt failure and legacy
// plaintext are distinguishable outcomes.
const blobPrefix = "v1:"

var (
	// ErrNotEncrypted indicates the payload carries no version marker and
	// was never produced by EncryptMessage.
	ErrNotEncrypted = errors.New("crypto: payload is not an encrypted blob")
	// ErrDecryptFailed indicates a tampered blob or a wrong key.
	ErrDecryptFailed = errors.New("crypto: decryption failed")
)

// EncryptMessage encrypts plaintext with AES-256-GCM under a derived
// conversation key. The result is "v1:" + base64(nonce‖ciphertext) with
// a fresh 12-byte nonce per call.
func EncryptMessage(key, plaintext []byte) (string, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return blobPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptMessage reverses EncryptMessage. It returns ErrNotEncrypted for
// payloads without the version marker and ErrDecryptFailed for blobs
// that fail authentication; callers choose how to render either case.
func DecryptMessage(key []byte, blob string) ([]byte, error) {
	if !strings.HasPrefix(blob, blobPrefix) {
		return nil, ErrNotEncrypted
	}

	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(blob, blobPrefix))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	if len(raw) <= aead.NonceSize() {
		return nil, fmt.Errorf("%w: blob too short", ErrDecryptFailed)
	}

	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}

	return plaintext, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != aes256KeySize {
		return nil, fmt.Errorf("invalid conversation key length: got %d want %d", len(key), aes256KeySize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return aead, nil
}
