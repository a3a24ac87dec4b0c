// Package server implements the rknock door.
//
// The door:
//  1. Listens on a UDP port for knock datagrams.
//  2. Verifies each datagram's tag against the shared secret.
//  3. Checks the nonce against the replay cache and the freshness window.
//  4. Hands the sender's IP to the OnKnock handler (typically the
//     allow-action runner) without waiting for it.
//
// The door never replies. Every rejected datagram is dropped silently and
// logged at debug level with its rejection reason.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/merlos/rknock/pkg/protocol"
)

// ErrBind is wrapped by Run when the UDP socket cannot be opened.
var ErrBind = errors.New("binding door socket")

// KnockHandler is called, on its own goroutine, for each accepted knock.
type KnockHandler func(k *Knock)

// Observer receives the verification result of every datagram, labelled as
// by protocol.Reason.
type Observer interface {
	ObserveKnock(result string)
}

// Options holds door startup configuration.
type Options struct {
	// Listen is the UDP address to bind, e.g. "0.0.0.0:20022".
	Listen string

	// Session verifies datagrams.
	Session *Session

	// OnKnock is called for each accepted knock.
	OnKnock KnockHandler

	// Observer, if set, is told the result of every datagram.
	Observer Observer

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time

	// Log is the structured logger.
	Log *slog.Logger
}

// Server is a running door.
type Server struct {
	opts *Options

	// handlers tracks OnKnock calls still running.
	handlers sync.WaitGroup
}

// New creates a Server with the given options.
func New(opts *Options) *Server {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	return &Server{opts: opts}
}

// Run binds opts.Listen and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	conn, err := net.ListenPacket("udp", s.opts.Listen)
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrBind, s.opts.Listen, err)
	}
	return s.Serve(ctx, conn)
}

// Serve reads knocks from conn until ctx is cancelled, then closes conn.
// Datagrams are verified one at a time on the calling goroutine; only the
// OnKnock handler runs concurrently. Serve returns once every handler it
// started has returned.
func (s *Server) Serve(ctx context.Context, conn net.PacketConn) error {
	defer s.handlers.Wait()
	defer conn.Close()

	s.opts.Log.Info("rknock door listening", "addr", conn.LocalAddr())

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, protocol.MaxMessageSize)
	for {
		n, srcAddr, err := conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.opts.Log.Warn("UDP read error", "err", err)
			continue
		}
		s.handlePacket(buf[:n], srcAddr)
	}
}

// handlePacket processes a single received datagram.
func (s *Server) handlePacket(raw []byte, srcAddr net.Addr) {
	now := uint64(s.opts.Clock().Unix())

	k, err := s.opts.Session.Check(raw, srcAddr, now)
	if s.opts.Observer != nil {
		s.opts.Observer.ObserveKnock(protocol.Reason(err))
	}
	if err != nil {
		s.opts.Log.Debug("dropping knock",
			"src", srcAddr,
			"reason", protocol.Reason(err),
			"err", err,
		)
		return
	}

	s.opts.Log.Info("valid knock received", "src", k.Source, "nonce", k.Nonce)

	if s.opts.OnKnock != nil {
		s.handlers.Add(1)
		go func() {
			defer s.handlers.Done()
			s.opts.OnKnock(k)
		}()
	}
}
