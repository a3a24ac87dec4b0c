package protocol

import "errors"

var (
	// ErrInvalidFormat is returned when a message has no nonce/tag separator.
	ErrInvalidFormat = errors.New("invalid message format: missing separator")

	// ErrInvalidEncoding is returned when the tag is not valid base64.
	ErrInvalidEncoding = errors.New("invalid tag encoding")

	// ErrSignatureMismatch is returned when the tag does not match the one
	// recomputed from the nonce and the shared secret.
	ErrSignatureMismatch = errors.New("signature mismatch")

	// ErrInvalidTimestamp is returned when the nonce does not start with an
	// unsigned decimal timestamp.
	ErrInvalidTimestamp = errors.New("invalid nonce timestamp")

	// ErrStaleTimestamp is returned when the nonce timestamp falls outside the
	// freshness window, in either direction.
	ErrStaleTimestamp = errors.New("stale or future timestamp")

	// ErrReplayedNonce is returned when the nonce has already been accepted.
	ErrReplayedNonce = errors.New("replayed nonce")

	// ErrMessageTooLarge is returned when a message does not fit in a single
	// MaxMessageSize datagram.
	ErrMessageTooLarge = errors.New("message exceeds maximum datagram size")
)

// Reason returns a stable, low-cardinality label for a verification error,
// suitable for log attributes and metric labels. Unknown errors map to
// "error" and nil maps to "accepted".
func Reason(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, ErrInvalidFormat):
		return "invalid_format"
	case errors.Is(err, ErrInvalidEncoding):
		return "invalid_encoding"
	case errors.Is(err, ErrSignatureMismatch):
		return "signature_mismatch"
	case errors.Is(err, ErrInvalidTimestamp):
		return "invalid_timestamp"
	case errors.Is(err, ErrStaleTimestamp):
		return "stale_timestamp"
	case errors.Is(err, ErrReplayedNonce):
		return "replayed_nonce"
	case errors.Is(err, ErrMessageTooLarge):
		return "too_large"
	default:
		return "error"
	}
}
