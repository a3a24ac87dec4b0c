package protocol

import (
	"math/rand/v2"
	"strconv"
	"strings"
)

// saltAlphabet is the character set salts are drawn from.
const saltAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// BuildNonce returns the nonce for the Unix time now. With salt set, a fresh
// SaltLength-character salt is appended after SaltSeparator so that two knocks
// within the same second still produce distinct nonces.
func BuildNonce(now uint64, salt bool) string {
	ts := strconv.FormatUint(now, 10)
	if !salt {
		return ts
	}
	return ts + SaltSeparator + NewSalt()
}

// NewSalt returns SaltLength characters sampled uniformly from [A-Za-z0-9].
// The salt only diversifies replay cache keys; it is not secret material.
func NewSalt() string {
	var b strings.Builder
	b.Grow(SaltLength)
	for range SaltLength {
		b.WriteByte(saltAlphabet[rand.IntN(len(saltAlphabet))])
	}
	return b.String()
}

// NonceTimestamp extracts the Unix timestamp from a nonce: the part before
// SaltSeparator if present, otherwise the whole nonce. It returns
// ErrInvalidTimestamp if that part is not an unsigned 64-bit decimal.
func NonceTimestamp(nonce string) (uint64, error) {
	ts, _, _ := strings.Cut(nonce, SaltSeparator)
	n, err := strconv.ParseUint(ts, 10, 64)
	if err != nil {
		return 0, ErrInvalidTimestamp
	}
	return n, nil
}

// IsFresh reports whether a nonce timestamp is acceptable at time now. Only
// the current second and the one before it are accepted; anything older, and
// anything in the future, is not.
func IsFresh(ts, now uint64) bool {
	if ts == now {
		return true
	}
	return now > 0 && ts == now-1
}
