package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Prefix identifies the scheme in the transmitted signature header.
const Prefix = "sha256="

// Sign computes the keyed digest over the exact bytes transmitted.
// Any re-serialization of the payload (key reordering, whitespace)
// before verification will produce a mismatch; receivers must compare
// byte-for-byte.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return Prefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature and compares in constant time.
func Verify(secret string, body []byte, sig string) bool {
	if !strings.HasPrefix(sig, Prefix) {
		return false
	}
	expected := Sign(secret, body)
	return hmac.Equal([]byte(expected), []byte(sig))
}
