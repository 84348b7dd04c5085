package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader is the HTTP header Stripe signs webhook deliveries with.
const SignatureHeader = "Stripe-Signature"

// VerifySignature checks a Stripe-Signature header value against the raw
// request body. The header carries comma-separated key=value pairs: a unix
// timestamp under "t" and one or more hex HMAC-SHA256 candidates under "v1".
// The signed payload is "{t}.{body}". Any matching candidate is accepted.
func VerifySignature(body []byte, header, secret string) bool {
	if secret == "" || header == "" {
		return false
	}

	var timestamp string
	var candidates []string
	for _, pair := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			return false
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			candidates = append(candidates, value)
		}
		// Unknown keys (v0 etc.) are skipped, same as Stripe's own SDKs.
	}
	if timestamp == "" || len(candidates) == 0 {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, candidate := range candidates {
		if hmac.Equal([]byte(expected), []byte(candidate)) {
			return true
		}
	}
	return false
}
