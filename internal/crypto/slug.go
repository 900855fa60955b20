package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// DefaultSlugBytes gives 128 bits of entropy, 22 URL-safe characters.
const DefaultSlugBytes = 16

// GenerateSlug returns a URL-safe random identifier built from n random bytes.
func GenerateSlug(n int) (string, error) {
	if n <= 0 {
		n = DefaultSlugBytes
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("crypto/rand failed: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
