package server

import (
	"fmt"
	"net"
	"sync"

	"github.com/merlos/rknock/internal/crypto"
	"github.com/merlos/rknock/internal/replay"
	"github.com/merlos/rknock/pkg/protocol"
)

// Knock is an accepted knock.
type Knock struct {
	// Nonce is the accepted nonce, salt included.
	Nonce string

	// Timestamp is the Unix time embedded in the nonce.
	Timestamp uint64

	// Source is the sender's IP address, port stripped.
	Source net.IP
}

// Session decides whether a received datagram is a valid, fresh, first-seen
// knock. It is safe for concurrent use.
type Session struct {
	signer crypto.Signer
	cache  *replay.Cache

	// mu spans the replay lookup, the freshness check and the insert so a
	// nonce delivered twice concurrently is accepted once.
	mu sync.Mutex
}

// NewSession returns a Session verifying with signer and remembering
// accepted nonces in cache.
func NewSession(signer crypto.Signer, cache *replay.Cache) *Session {
	return &Session{signer: signer, cache: cache}
}

// Check verifies raw as received from src at Unix time now.
//
// The steps run in this order: tag verification, timestamp parse, replay
// lookup, freshness window. A stale replay is therefore reported as
// ErrReplayedNonce rather than ErrStaleTimestamp. On success the nonce is
// recorded before Check returns.
func (s *Session) Check(raw []byte, src net.Addr, now uint64) (*Knock, error) {
	nonce, err := s.signer.Verify(string(raw))
	if err != nil {
		return nil, err
	}

	ts, err := protocol.NonceTimestamp(nonce)
	if err != nil {
		return nil, fmt.Errorf("nonce %q: %w", nonce, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cache.Contains(nonce) {
		return nil, protocol.ErrReplayedNonce
	}
	if !protocol.IsFresh(ts, now) {
		return nil, fmt.Errorf("timestamp %d at %d: %w", ts, now, protocol.ErrStaleTimestamp)
	}
	s.cache.Insert(nonce)

	return &Knock{Nonce: nonce, Timestamp: ts, Source: extractIP(src)}, nil
}

// extractIP parses the IP address from a net.Addr (UDP remote address).
func extractIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case nil:
		return nil
	case *net.UDPAddr:
		return a.IP
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	return net.ParseIP(host)
}
