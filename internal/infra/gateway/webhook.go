package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignWebhookBody computes the hex HMAC-SHA256 of the exact request bytes.
// Verification must run over the raw body, before any JSON decoding.
func SignWebhookBody(secret string, body []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyWebhookSignature compares in constant time. An empty signature never
// verifies.
func VerifyWebhookSignature(secret string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	expected := SignWebhookBody(secret, body)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}
