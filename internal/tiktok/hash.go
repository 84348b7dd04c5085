package tiktok

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashIdentifier returns the hex SHA-256 digest of the lowercased, trimmed
// value, the form the Events API expects for email/phone/external id.
func HashIdentifier(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
