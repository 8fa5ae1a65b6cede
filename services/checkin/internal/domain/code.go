package domain

import (
	"crypto/rand"
	"fmt"
)

// codeAlphabet omits 0/O/1/I/L so codes survive being read aloud or typed
// from a projector screen.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// NewCode generates a short organizer-facing check-in code. Codes only need
// to be unique among concurrently active sessions, but they are drawn from
// crypto/rand so they cannot be guessed before the QR is shown.
func NewCode(length int) (string, error) {
	if length <= 0 {
		length = 8
	}

	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}

	out := make([]byte, length)
	for i, b := range buf {
		out[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(out), nil
}
