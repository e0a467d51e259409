package sipmsg

import "math/rand/v2"

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func randToken(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = tokenAlphabet[rand.IntN(len(tokenAlphabet))]
	}
	return string(b)
}

// GenerateCallID returns a new Call-ID, constant for a session's lifetime.
func GenerateCallID() string {
	return "sipring-" + randToken(8)
}

// GenerateBranch returns a new Via branch parameter. The z9hG4bK magic
// cookie is required by RFC 3261.
func GenerateBranch() string {
	return "z9hG4bK" + randToken(12)
}

// GenerateTag returns a new From/To tag.
func GenerateTag() string {
	return randToken(8)
}
