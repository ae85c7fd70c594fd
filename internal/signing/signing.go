// Package signing provides HMAC-SHA256 signing and verification for
// worker-pool requests and callbacks.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign computes the hex HMAC-SHA256 digest of body using secret.
// The digest is computed over the exact body bytes, never a re-serialized
// object, so both sides must sign the same byte stream.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches the HMAC-SHA256 digest of body.
// Comparison is constant-time; a malformed or wrong-length signature fails
// without revealing how far the comparison got.
func Verify(secret string, body []byte, signature string) bool {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(expected, mac.Sum(nil))
}
