package cryptox

import (
	"crypto/sha256"
	"encoding/base64"
)

// FingerprintToken returns a deterministic SHA-256 fingerprint of a token.
// Bearer and refresh tokens must never reach the logs, the fingerprint is
// logged in their place so log lines can still be correlated.
//
// The fingerprint is returned as a base64url-encoded string (43 chars).
func FingerprintToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// ShortFingerprint returns the first 12 characters of FingerprintToken, enough
// to tell tokens apart in a log line. Empty tokens yield an empty string.
func ShortFingerprint(token string) string {
	if token == "" {
		return ""
	}
	return FingerprintToken(token)[:12]
}
