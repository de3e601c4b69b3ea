// Package signing computes and verifies HMAC-SHA256 signatures over outbound
// payload bytes. Subscribers recompute the digest with their endpoint secret
// and compare it against the X-Webhook-Signature header, so Sign must be
// byte-exact over exactly the transmitted body.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign returns the lowercase hex HMAC-SHA256 digest of payload keyed by
// secret. The result is always 64 characters.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Header formats a digest for the X-Webhook-Signature header.
func Header(signature string) string {
	return "sha256=" + signature
}

// Verify reports whether signature matches the digest of payload under
// secret, in constant time. It accepts both the bare hex digest and the
// "sha256=" header form.
func Verify(secret string, payload []byte, signature string) bool {
	if len(signature) > 7 && signature[:7] == "sha256=" {
		signature = signature[7:]
	}
	expected := Sign(secret, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}
