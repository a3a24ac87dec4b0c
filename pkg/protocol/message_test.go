package protocol_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/merlos/rknock/pkg/protocol"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		msg       string
		wantNonce string
		wantTag   string
		wantErr   error
	}{
		{"1234:abc=", "1234", "abc=", nil},
		{"1234$saltsaltsalt1:abc=", "1234$saltsaltsalt1", "abc=", nil},
		{"1234:", "1234", "", nil},
		{":abc", "", "abc", nil},
		{"1234:a:b", "1234", "a:b", nil},
		{"1234", "", "", protocol.ErrInvalidFormat},
		{"", "", "", protocol.ErrInvalidFormat},
	}

	for _, tt := range tests {
		nonce, tag, err := protocol.Split(tt.msg)
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("Split(%q) error = %v, want %v", tt.msg, err, tt.wantErr)
			continue
		}
		if nonce != tt.wantNonce || tag != tt.wantTag {
			t.Errorf("Split(%q) = (%q, %q), want (%q, %q)", tt.msg, nonce, tag, tt.wantNonce, tt.wantTag)
		}
	}
}

func TestJoinSplit(t *testing.T) {
	msg := protocol.Join("7", "4ysptJn/m3dPxisFiC36xbacV02Nf32pCwrJ18KXOcs=")
	if msg != "7:4ysptJn/m3dPxisFiC36xbacV02Nf32pCwrJ18KXOcs=" {
		t.Fatalf("Join = %q", msg)
	}
	nonce, tag, err := protocol.Split(msg)
	if err != nil {
		t.Fatal(err)
	}
	if nonce != "7" || tag != "4ysptJn/m3dPxisFiC36xbacV02Nf32pCwrJ18KXOcs=" {
		t.Errorf("Split(Join) = (%q, %q)", nonce, tag)
	}
}

func TestReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "accepted"},
		{protocol.ErrInvalidFormat, "invalid_format"},
		{protocol.ErrInvalidEncoding, "invalid_encoding"},
		{protocol.ErrSignatureMismatch, "signature_mismatch"},
		{protocol.ErrInvalidTimestamp, "invalid_timestamp"},
		{protocol.ErrStaleTimestamp, "stale_timestamp"},
		{protocol.ErrReplayedNonce, "replayed_nonce"},
		{protocol.ErrMessageTooLarge, "too_large"},
		{fmt.Errorf("wrapped: %w", protocol.ErrReplayedNonce), "replayed_nonce"},
		{errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		if got := protocol.Reason(tt.err); got != tt.want {
			t.Errorf("Reason(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestMaxMessageSizeFitsSaltedKnock(t *testing.T) {
	// Largest timestamp, full salt, 32-byte digest in base64.
	nonce := "18446744073709551615" + protocol.SaltSeparator + strings.Repeat("a", protocol.SaltLength)
	msg := protocol.Join(nonce, strings.Repeat("A", 44))
	if len(msg) > protocol.MaxMessageSize {
		t.Errorf("salted knock is %d bytes, exceeds MaxMessageSize %d", len(msg), protocol.MaxMessageSize)
	}
}
