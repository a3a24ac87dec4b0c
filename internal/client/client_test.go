package client_test

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/merlos/rknock/internal/client"
	"github.com/merlos/rknock/internal/crypto"
	"github.com/merlos/rknock/internal/secret"
	"github.com/merlos/rknock/pkg/protocol"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		target   string
		host     string
		port     string
		wantFail bool
	}{
		{"door.example.com", "door.example.com", "20022", false},
		{"door.example.com:7000", "door.example.com", "7000", false},
		{"192.0.2.1", "192.0.2.1", "20022", false},
		{"192.0.2.1:9", "192.0.2.1", "9", false},
		{"2001:db8::1", "2001:db8::1", "20022", false},
		{"[2001:db8::1]:7000", "2001:db8::1", "7000", false},
		{"", "", "", true},
		{":7000", "", "", true},
		{"host:0", "", "", true},
		{"host:70000", "", "", true},
		{"host:ssh", "", "", true},
	}
	for _, tt := range tests {
		host, port, err := client.ParseTarget(tt.target)
		if tt.wantFail {
			if err == nil {
				t.Errorf("ParseTarget(%q) should fail, got %q %q", tt.target, host, port)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseTarget(%q) error = %v", tt.target, err)
			continue
		}
		if host != tt.host || port != tt.port {
			t.Errorf("ParseTarget(%q) = %q, %q; want %q, %q", tt.target, host, port, tt.host, tt.port)
		}
	}
}

func TestBuildMessage_KnownVector(t *testing.T) {
	opts := &client.KnockOptions{
		Signer: crypto.New(nil, secret.Secret("spooky")),
		Now:    func() time.Time { return time.Unix(7, 0) },
	}
	msg, err := client.BuildMessage(opts)
	if err != nil {
		t.Fatal(err)
	}
	const want = "7:4ysptJn/m3dPxisFiC36xbacV02Nf32pCwrJ18KXOcs="
	if msg != want {
		t.Errorf("BuildMessage = %q, want %q", msg, want)
	}
}

func TestBuildMessage_Salted(t *testing.T) {
	f := crypto.New(nil, secret.Secret("spooky"))
	opts := &client.KnockOptions{
		Signer: f,
		Salt:   true,
		Now:    func() time.Time { return time.Unix(7, 0) },
	}
	m1, err := client.BuildMessage(opts)
	if err != nil {
		t.Fatal(err)
	}
	m2, _ := client.BuildMessage(opts)
	if m1 == m2 {
		t.Error("two salted messages in the same second should differ")
	}

	nonce, err := f.Verify(m1)
	if err != nil {
		t.Fatalf("Verify(%q) error = %v", m1, err)
	}
	if !strings.HasPrefix(nonce, "7$") || len(nonce) != 2+protocol.SaltLength {
		t.Errorf("nonce = %q, want 7$ followed by %d salt characters", nonce, protocol.SaltLength)
	}
}

func TestBuildMessage_NoSigner(t *testing.T) {
	if _, err := client.BuildMessage(&client.KnockOptions{}); err == nil {
		t.Error("BuildMessage without a signer should fail")
	}
}

func TestKnock_Loopback(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	f := crypto.New(crypto.KeyedBLAKE2b, secret.Secret("loopback"))
	sent, err := client.Knock(context.Background(), &client.KnockOptions{
		Target: conn.LocalAddr().String(),
		Signer: f,
		Salt:   true,
	})
	if err != nil {
		t.Fatalf("Knock error = %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, protocol.MaxMessageSize)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if got := string(buf[:n]); got != sent {
		t.Errorf("received %q, want %q", got, sent)
	}
	if _, err := f.Verify(sent); err != nil {
		t.Errorf("door would reject knock: %v", err)
	}
}

func TestKnock_NoSuchHost(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Knock(ctx, &client.KnockOptions{
		Target: "door.rknock.invalid",
		Signer: crypto.New(nil, secret.Secret("x")),
	})
	if !errors.Is(err, client.ErrNoSuchHost) {
		t.Errorf("Knock error = %v, want ErrNoSuchHost", err)
	}
}

func TestKnock_BadTarget(t *testing.T) {
	_, err := client.Knock(context.Background(), &client.KnockOptions{
		Target: "host:notaport",
		Signer: crypto.New(nil, secret.Secret("x")),
	})
	if err == nil {
		t.Error("Knock with an invalid port should fail")
	}
}

// oversizeSigner produces messages too large for one datagram.
type oversizeSigner struct{}

func (oversizeSigner) Sign(nonce string) string {
	return nonce + ":" + strings.Repeat("A", protocol.MaxMessageSize)
}

func (oversizeSigner) Verify(string) (string, error) { return "", protocol.ErrSignatureMismatch }

func TestBuildMessage_TooLarge(t *testing.T) {
	_, err := client.BuildMessage(&client.KnockOptions{Signer: oversizeSigner{}})
	if !errors.Is(err, protocol.ErrMessageTooLarge) {
		t.Errorf("BuildMessage error = %v, want ErrMessageTooLarge", err)
	}
}
