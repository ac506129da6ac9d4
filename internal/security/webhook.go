package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"returns-credit-backend/internal/domain"
)

// SignPayload returns the hex HMAC-SHA256 of body under secret.
func SignPayload(secret string, body []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyWebhookSignature checks a carrier signature header against the raw
// request body.
func VerifyWebhookSignature(secret string, body []byte, signature string) error {
	if secret == "" || signature == "" {
		return domain.ErrInvalidSignature
	}
	expected := SignPayload(secret, body)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature)))) {
		return domain.ErrInvalidSignature
	}
	return nil
}
