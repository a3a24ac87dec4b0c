// Package client implements the rknock knocker.
//
// To send a knock:
//  1. Build a nonce from the current Unix time, optionally salted.
//  2. Sign it with the shared secret to get "<nonce>:<tag>".
//  3. Resolve the door's host.
//  4. Send the message as a single UDP datagram.
//
// Nothing is read back. The door never answers, so a successful send says
// nothing about whether the knock was accepted.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/merlos/rknock/internal/crypto"
	"github.com/merlos/rknock/pkg/protocol"
)

var (
	// ErrNoSuchHost is wrapped when the door's host cannot be resolved.
	ErrNoSuchHost = errors.New("no such host")

	// ErrSend is wrapped when the datagram cannot be sent.
	ErrSend = errors.New("sending knock")
)

// KnockOptions holds the parameters for a single knock.
type KnockOptions struct {
	// Target is "host", "host:port" or "[v6]:port". The port defaults to
	// protocol.DefaultPort.
	Target string

	// Signer signs the nonce with the shared secret.
	Signer crypto.Signer

	// Salt appends a random salt to the nonce.
	Salt bool

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// Log is the structured logger. Defaults to slog.Default.
	Log *slog.Logger
}

// ParseTarget splits target into host and port, filling in
// protocol.DefaultPort when no port is given. Bare IPv6 addresses are
// accepted without brackets.
func ParseTarget(target string) (host, port string, err error) {
	if target == "" {
		return "", "", errors.New("empty target")
	}
	if ip := net.ParseIP(target); ip != nil {
		return target, strconv.Itoa(protocol.DefaultPort), nil
	}
	if !strings.Contains(target, ":") {
		return target, strconv.Itoa(protocol.DefaultPort), nil
	}

	host, port, err = net.SplitHostPort(target)
	if err != nil {
		return "", "", fmt.Errorf("target %q: %w", target, err)
	}
	if host == "" {
		return "", "", fmt.Errorf("target %q: missing host", target)
	}
	if n, err := strconv.ParseUint(port, 10, 16); err != nil || n == 0 {
		return "", "", fmt.Errorf("target %q: invalid port %q", target, port)
	}
	return host, port, nil
}

// BuildMessage returns the signed wire message for the current time without
// sending it.
func BuildMessage(opts *KnockOptions) (string, error) {
	if opts.Signer == nil {
		return "", errors.New("no signer configured")
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	nonce := protocol.BuildNonce(uint64(now().Unix()), opts.Salt)
	msg := opts.Signer.Sign(nonce)
	if len(msg) > protocol.MaxMessageSize {
		return "", protocol.ErrMessageTooLarge
	}
	return msg, nil
}

// Knock builds a message and sends it to opts.Target. It returns the message
// sent. Resolution failures wrap ErrNoSuchHost; dial and write failures wrap
// ErrSend.
func Knock(ctx context.Context, opts *KnockOptions) (string, error) {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	host, port, err := ParseTarget(opts.Target)
	if err != nil {
		return "", err
	}

	msg, err := BuildMessage(opts)
	if err != nil {
		return "", fmt.Errorf("building knock message: %w", err)
	}

	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return "", fmt.Errorf("%w %s: %w", ErrNoSuchHost, host, err)
	}
	if len(ips) == 0 {
		return "", fmt.Errorf("%w %s", ErrNoSuchHost, host)
	}
	addr := net.JoinHostPort(ips[0].String(), port)

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return "", fmt.Errorf("%w to %s: %w", ErrSend, addr, err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(msg)); err != nil {
		return "", fmt.Errorf("%w to %s: %w", ErrSend, addr, err)
	}

	log.Debug("knock sent", "addr", addr, "message", msg)
	return msg, nil
}
