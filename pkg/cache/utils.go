package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Key joins non-empty parts with ':'.
func Key(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ":")
}

// HashKey returns a short stable digest of s, for keys built from request bodies.
func HashKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:12])
}
