package github

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// VerifyWebhookSignature verifies a GitHub webhook signature against a secret.
// Returns true if signature is valid, false otherwise.
func VerifyWebhookSignature(payload []byte, signature, secret string) bool {
	if secret == "" {
		// No secret configured, skip verification (development mode)
		return true
	}

	if !strings.HasPrefix(signature, "sha256=") {
		return false
	}

	expectedSig := signature[7:] // Remove "sha256=" prefix

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	actualSig := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expectedSig), []byte(actualSig))
}
