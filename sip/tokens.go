package sip

import (
	"strings"

	"github.com/google/uuid"
)

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// randToken returns n pseudo-random alphanumeric characters, drawing entropy
// from a freshly generated UUIDv4 (16 random bytes, recycled as needed for
// n > 16).
func randToken(n int) string {
	var b strings.Builder
	b.Grow(n)
	for b.Len() < n {
		id := uuid.New()
		for _, by := range id {
			if b.Len() == n {
				break
			}
			b.WriteByte(tokenAlphabet[int(by)%len(tokenAlphabet)])
		}
	}
	return b.String()
}

// GenerateBranch returns a Via branch token: the RFC 3261 magic cookie
// followed by 25 random characters, 32 bytes total.
func GenerateBranch() string {
	return RFC3261BranchMagicCookie + randToken(25)
}

// GenerateTag returns a 16-character random dialog tag.
func GenerateTag() string {
	return randToken(16)
}

// GenerateCallID returns a 16-character random token concatenated with
// "@host" per the Call-ID grammar.
func GenerateCallID(host string) string {
	return randToken(16) + "@" + host
}
