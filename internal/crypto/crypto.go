// Package crypto computes and verifies knock tags.
//
// A tag is the base64 encoding of a keyed digest over the nonce. The digest
// algorithm is pluggable so knocker and door can move to a stronger scheme
// together without touching the session or replay logic:
//
//   - sha256: SHA-256 over "<nonce>:<secret>" (default, wire compatible with
//     older knockers)
//   - hmac-sha256: HMAC-SHA256 keyed by the secret
//   - blake2b-256: keyed BLAKE2b-256
//
// Both sides must be configured with the same algorithm.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/merlos/rknock/internal/secret"
	"github.com/merlos/rknock/pkg/protocol"
)

// tagEncoding is the transport encoding of tags. Strict decoding rejects
// non-zero padding bits, so every accepted tag has exactly one text form.
var tagEncoding = base64.StdEncoding.Strict()

// Algorithm computes the raw digest a tag is derived from.
type Algorithm interface {
	// Name returns the configuration name of the algorithm.
	Name() string

	// Digest returns the keyed digest of message under secret.
	Digest(secret []byte, message string) []byte
}

var (
	// ConcatSHA256 hashes message + ":" + secret with SHA-256.
	ConcatSHA256 Algorithm = concatSHA256{}

	// HMACSHA256 computes HMAC-SHA256(secret, message).
	HMACSHA256 Algorithm = hmacSHA256{}

	// KeyedBLAKE2b computes BLAKE2b-256 keyed with the secret. Secrets longer
	// than the 64-byte BLAKE2b key limit are first reduced with SHA-256.
	KeyedBLAKE2b Algorithm = keyedBLAKE2b{}
)

// DefaultAlgorithm is used when no algorithm is configured.
var DefaultAlgorithm = ConcatSHA256

// algorithms lists every supported algorithm by configuration name.
var algorithms = map[string]Algorithm{
	ConcatSHA256.Name(): ConcatSHA256,
	HMACSHA256.Name():   HMACSHA256,
	KeyedBLAKE2b.Name(): KeyedBLAKE2b,
}

// AlgorithmByName returns the algorithm registered under name. An empty name
// selects DefaultAlgorithm.
func AlgorithmByName(name string) (Algorithm, error) {
	if name == "" {
		return DefaultAlgorithm, nil
	}
	alg, ok := algorithms[name]
	if !ok {
		return nil, fmt.Errorf("unknown algorithm %q (use sha256, hmac-sha256 or blake2b-256)", name)
	}
	return alg, nil
}

type concatSHA256 struct{}

func (concatSHA256) Name() string { return "sha256" }

func (concatSHA256) Digest(secret []byte, message string) []byte {
	h := sha256.New()
	h.Write([]byte(message))
	h.Write([]byte(protocol.Separator))
	h.Write(secret)
	return h.Sum(nil)
}

type hmacSHA256 struct{}

func (hmacSHA256) Name() string { return "hmac-sha256" }

func (hmacSHA256) Digest(secret []byte, message string) []byte {
	m := hmac.New(sha256.New, secret)
	m.Write([]byte(message))
	return m.Sum(nil)
}

type keyedBLAKE2b struct{}

func (keyedBLAKE2b) Name() string { return "blake2b-256" }

func (keyedBLAKE2b) Digest(secret []byte, message string) []byte {
	key := secret
	if len(key) > blake2b.Size {
		sum := sha256.Sum256(key)
		key = sum[:]
	}
	// New256 only fails for keys over blake2b.Size bytes.
	h, err := blake2b.New256(key)
	if err != nil {
		panic(fmt.Sprintf("blake2b: %v", err))
	}
	h.Write([]byte(message))
	return h.Sum(nil)
}

// Signature returns the base64 tag of message under secret.
func Signature(alg Algorithm, secret []byte, message string) string {
	return tagEncoding.EncodeToString(alg.Digest(secret, message))
}

// SignWithSecret signs nonce with the default algorithm and returns the wire
// message "<nonce>:<tag>".
func SignWithSecret(secret []byte, nonce string) string {
	return protocol.Join(nonce, Signature(DefaultAlgorithm, secret, nonce))
}

// Verify checks message against secret with the default algorithm and
// returns the nonce it carries.
func Verify(secret []byte, message string) (string, error) {
	return verify(DefaultAlgorithm, secret, message)
}

func verify(alg Algorithm, secret []byte, message string) (string, error) {
	nonce, tag, err := protocol.Split(message)
	if err != nil {
		return "", err
	}
	got, err := tagEncoding.DecodeString(tag)
	if err != nil {
		return "", protocol.ErrInvalidEncoding
	}
	want := alg.Digest(secret, nonce)
	if !hmac.Equal(got, want) {
		return "", protocol.ErrSignatureMismatch
	}
	return nonce, nil
}

// Signer produces and checks knock messages. The door's session and the
// knock client depend on this interface rather than on a concrete scheme.
type Signer interface {
	// Sign returns the wire message for nonce.
	Sign(nonce string) string

	// Verify checks a wire message and returns its nonce, unmodified.
	Verify(message string) (string, error)
}

// Frobnicator binds an Algorithm to a Secret. It is immutable and safe for
// concurrent use.
type Frobnicator struct {
	alg    Algorithm
	secret secret.Secret
}

// New returns a Frobnicator for alg and s. A nil alg selects DefaultAlgorithm.
func New(alg Algorithm, s secret.Secret) *Frobnicator {
	if alg == nil {
		alg = DefaultAlgorithm
	}
	return &Frobnicator{alg: alg, secret: s}
}

// Algorithm returns the digest algorithm in use.
func (f *Frobnicator) Algorithm() Algorithm { return f.alg }

// Sign returns "<nonce>:<tag>".
func (f *Frobnicator) Sign(nonce string) string {
	return protocol.Join(nonce, Signature(f.alg, f.secret, nonce))
}

// Verify splits message on the first ':' and checks the tag in constant time.
// It returns ErrInvalidFormat, ErrInvalidEncoding or ErrSignatureMismatch
// from package protocol on failure.
func (f *Frobnicator) Verify(message string) (string, error) {
	return verify(f.alg, f.secret, message)
}
