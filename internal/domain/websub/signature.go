package websub

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// SignaturePrefix is the algorithm tag hubs put in X-Hub-Signature.
const SignaturePrefix = "sha1="

const secretLength = 32

// NewSecret returns a random per-subscription secret. It is sent to
// the hub exactly once, in the subscribe request, and afterwards only
// used to verify notification signatures.
func NewSecret() (string, error) {
	b := make([]byte, secretLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Sign computes the hex-encoded HMAC-SHA1 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeader builds the X-Hub-Signature value for body.
func SignatureHeader(secret string, body []byte) string {
	return SignaturePrefix + Sign(secret, body)
}

// VerifySignature checks a "sha1=<hex>" header against the HMAC of
// body under secret, in constant time. A missing or malformed header
// fails verification.
func VerifySignature(secret string, body []byte, header string) bool {
	if !strings.HasPrefix(header, SignaturePrefix) {
		return false
	}
	got := strings.TrimPrefix(header, SignaturePrefix)
	want := Sign(secret, body)
	return hmac.Equal([]byte(got), []byte(want))
}
