package crypto

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// kdfIterations is the PBKDF2 iteration count for conversation keys.
	kdfIterations = 100_000
	// pairSeparator joins the sorted identity pair before derivation.
	pairSeparator = ":"
)

// kdfSalt is the fixed application-wide salt. Conversation keys are
// deterministic across devices, so the salt cannot be random per user.
var kdfSalt = []byte("farmchat-conversation-key-v1")

// DeriveConversationKey derives the shared AES-256-GCM key for a
// participant pair. The pair is sorted before concatenation, so both
// sides derive the same key regardless of argument order.
func DeriveConversationKey(selfID, otherID string) ([]byte, error) {
	if selfID == "" || otherID == "" {
		return nil, errors.New("both participant IDs are required")
	}
	if strings.Contains(selfID, pairSeparator) || strings.Contains(otherID, pairSeparator) {
		return nil, fmt.Errorf("participant ID must not contain %q", pairSeparator)
	}

	a, b := selfID, otherID
	if a > b {
		a, b = b, a
	}

	secret := []byte(a + pairSeparator + b)
	return pbkdf2.Key(secret, kdfSalt, kdfIterations, aes256KeySize, sha256.New), nil
}
