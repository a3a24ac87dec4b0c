// Package protocol defines the rknock knock wire format.
//
// A knock is a single UDP datagram carrying ASCII text:
//
//	<nonce>:<base64-tag>
//
// where the nonce is either a decimal Unix timestamp or a timestamp followed
// by '$' and a random alphanumeric salt:
//
//	1700000000
//	1700000000$Q3b9kX0aZp1Lm
//
// Neither the nonce alphabet nor the base64 alphabet contains ':', so the
// first ':' always separates the two halves.
//
// Security properties:
//   - Authenticity via a keyed digest over the nonce and a shared secret
//   - Freshness via a one-second timestamp window (see IsFresh)
//   - At-most-once acceptance via a bounded replay cache on the door
//
// The payload is not encrypted. An observer can read the nonce and tag, but
// cannot forge a tag for a new nonce without the secret.
package protocol

import (
	"strings"
)

const (
	// Separator splits the nonce from the tag.
	Separator = ":"

	// SaltSeparator splits the nonce timestamp from the optional salt.
	SaltSeparator = "$"

	// SaltLength is the number of alphanumeric characters in a nonce salt.
	SaltLength = 13

	// MaxMessageSize is the size of the door's receive buffer. A knock must
	// fit in it; longer datagrams are truncated and fail verification.
	MaxMessageSize = 256

	// DefaultPort is the UDP port used when a target omits one.
	DefaultPort = 20022
)

// Join assembles the wire message for a nonce and its tag.
func Join(nonce, tag string) string {
	return nonce + Separator + tag
}

// Split separates a wire message at the first Separator. It returns
// ErrInvalidFormat if the message has no separator.
func Split(message string) (nonce, tag string, err error) {
	nonce, tag, ok := strings.Cut(message, Separator)
	if !ok {
		return "", "", ErrInvalidFormat
	}
	return nonce, tag, nil
}
