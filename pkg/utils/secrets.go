package utils

import (
	"crypto/rand"
	"encoding/hex"
)

// GenerateSecret generates a per-target bridge secret. The value is
// returned exactly once at issue time; rotation issues a fresh secret
// rather than editing the old one in place.
func GenerateSecret() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return "keepy_" + hex.EncodeToString(bytes), nil
}

// RedactSecret replaces all but the first few characters of a secret so
// it can appear in diagnostics without being recoverable.
func RedactSecret(secret string) string {
	if len(secret) <= 8 {
		return "********"
	}
	return secret[:8] + "********"
}
