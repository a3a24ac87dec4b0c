package crypto_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/merlos/rknock/internal/crypto"
	"github.com/merlos/rknock/internal/secret"
	"github.com/merlos/rknock/pkg/protocol"
)

const (
	refSecret  = "secret key"
	refMessage = "1234:iKC5sOqv+cjt3IG3qfQ/B4Xwyvz7069Zl7hGN+7ea2E="
	base64Set  = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"
)

func TestSignWithSecret_ReferenceVector(t *testing.T) {
	if got := crypto.SignWithSecret([]byte(refSecret), "1234"); got != refMessage {
		t.Errorf("SignWithSecret = %q, want %q", got, refMessage)
	}
}

func TestSignWithSecret_SpookyVector(t *testing.T) {
	want := "7:4ysptJn/m3dPxisFiC36xbacV02Nf32pCwrJ18KXOcs="
	if got := crypto.SignWithSecret([]byte("spooky"), "7"); got != want {
		t.Errorf("SignWithSecret = %q, want %q", got, want)
	}
}

func TestVerify_ReferenceVector(t *testing.T) {
	nonce, err := crypto.Verify([]byte(refSecret), refMessage)
	if err != nil {
		t.Fatalf("Verify error = %v", err)
	}
	if nonce != "1234" {
		t.Errorf("nonce = %q, want 1234", nonce)
	}
}

func TestVerify_AlteredTag(t *testing.T) {
	altered := "1234:iKC6sOqv+cjt3IG3qfQ/B4Xwyvz7069Zl7hGN+7ea2E="
	if _, err := crypto.Verify([]byte(refSecret), altered); !errors.Is(err, protocol.ErrSignatureMismatch) {
		t.Errorf("Verify(altered) error = %v, want ErrSignatureMismatch", err)
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	if _, err := crypto.Verify([]byte("other key"), refMessage); !errors.Is(err, protocol.ErrSignatureMismatch) {
		t.Errorf("Verify with wrong secret error = %v, want ErrSignatureMismatch", err)
	}
}

func TestVerify_AlteredNonce(t *testing.T) {
	msg := "1235" + refMessage[4:]
	if _, err := crypto.Verify([]byte(refSecret), msg); !errors.Is(err, protocol.ErrSignatureMismatch) {
		t.Errorf("Verify(altered nonce) error = %v, want ErrSignatureMismatch", err)
	}
}

func TestVerify_InvalidFormat(t *testing.T) {
	for _, msg := range []string{"", "1234", "iKC5sOqv+cjt3IG3qfQ/B4Xwyvz7069Zl7hGN+7ea2E="} {
		if _, err := crypto.Verify([]byte(refSecret), msg); !errors.Is(err, protocol.ErrInvalidFormat) {
			t.Errorf("Verify(%q) error = %v, want ErrInvalidFormat", msg, err)
		}
	}
}

func TestVerify_InvalidEncoding(t *testing.T) {
	for _, msg := range []string{
		"1234:not base64!",
		"1234:iKC5sOqv+cjt3IG3qfQ/B4Xwyvz7069Zl7hGN+7ea2E",  // missing padding
		"1234:iKC5sOqv+cjt3IG3qfQ/B4Xwyvz7069Zl7hGN+7ea2F=", // non-zero padding bits
		"1234:a:b",
	} {
		if _, err := crypto.Verify([]byte(refSecret), msg); !errors.Is(err, protocol.ErrInvalidEncoding) {
			t.Errorf("Verify(%q) error = %v, want ErrInvalidEncoding", msg, err)
		}
	}
}

func TestVerify_EmptyTag(t *testing.T) {
	// An empty tag is valid base64 for zero bytes and can never match.
	if _, err := crypto.Verify([]byte(refSecret), "1234:"); !errors.Is(err, protocol.ErrSignatureMismatch) {
		t.Errorf("Verify(empty tag) error = %v, want ErrSignatureMismatch", err)
	}
}

func TestSignature_Deterministic(t *testing.T) {
	for _, alg := range []crypto.Algorithm{crypto.ConcatSHA256, crypto.HMACSHA256, crypto.KeyedBLAKE2b} {
		a := crypto.Signature(alg, []byte("k"), "1700000000$abcdefghijklm")
		b := crypto.Signature(alg, []byte("k"), "1700000000$abcdefghijklm")
		if a != b {
			t.Errorf("%s: Signature not deterministic: %q vs %q", alg.Name(), a, b)
		}
		if len(a) != 44 {
			t.Errorf("%s: tag length = %d, want 44", alg.Name(), len(a))
		}
	}
}

func TestSignature_KnownVectors(t *testing.T) {
	tests := []struct {
		alg  crypto.Algorithm
		want string
	}{
		{crypto.ConcatSHA256, "iKC5sOqv+cjt3IG3qfQ/B4Xwyvz7069Zl7hGN+7ea2E="},
		{crypto.HMACSHA256, "wG8dd6C6hzcFwNPRVWc67OuasFUTNFLjGFwfC4LeX54="},
		{crypto.KeyedBLAKE2b, "Tw0XYGGQY26Oo1jfHxdUofdjNPyJb/0PMr153QSaRus="},
	}
	for _, tt := range tests {
		if got := crypto.Signature(tt.alg, []byte(refSecret), "1234"); got != tt.want {
			t.Errorf("%s: Signature = %q, want %q", tt.alg.Name(), got, tt.want)
		}
	}
}

func TestFrobnicator_RoundTrip(t *testing.T) {
	secrets := []string{"", "k", "secret key", strings.Repeat("long", 40)}
	nonces := []string{"0", "7", "1700000000", "1700000000$abcdefghijklm", protocol.BuildNonce(42, true)}

	for _, alg := range []crypto.Algorithm{crypto.ConcatSHA256, crypto.HMACSHA256, crypto.KeyedBLAKE2b} {
		for _, s := range secrets {
			f := crypto.New(alg, secret.Secret(s))
			for _, n := range nonces {
				got, err := f.Verify(f.Sign(n))
				if err != nil {
					t.Errorf("%s secret=%q nonce=%q: Verify error = %v", alg.Name(), s, n, err)
					continue
				}
				if got != n {
					t.Errorf("%s: Verify returned %q, want %q", alg.Name(), got, n)
				}
			}
		}
	}
}

func TestFrobnicator_AlgorithmsDoNotCrossVerify(t *testing.T) {
	s := secret.Secret(refSecret)
	sha := crypto.New(crypto.ConcatSHA256, s)
	mac := crypto.New(crypto.HMACSHA256, s)

	if _, err := mac.Verify(sha.Sign("1234")); !errors.Is(err, protocol.ErrSignatureMismatch) {
		t.Errorf("hmac verifying sha256 tag: error = %v, want ErrSignatureMismatch", err)
	}
}

func TestFrobnicator_DefaultAlgorithm(t *testing.T) {
	f := crypto.New(nil, secret.Secret(refSecret))
	if f.Algorithm() != crypto.DefaultAlgorithm {
		t.Errorf("Algorithm = %s, want %s", f.Algorithm().Name(), crypto.DefaultAlgorithm.Name())
	}
	if got := f.Sign("1234"); got != refMessage {
		t.Errorf("Sign = %q, want %q", got, refMessage)
	}
}

func TestFrobnicator_TamperSensitivity(t *testing.T) {
	f := crypto.New(crypto.ConcatSHA256, secret.Secret(refSecret))
	_, tag, _ := protocol.Split(refMessage)

	for i := 0; i < len(tag); i++ {
		for _, c := range base64Set + "=" {
			if byte(c) == tag[i] {
				continue
			}
			tampered := tag[:i] + string(c) + tag[i+1:]
			_, err := f.Verify(protocol.Join("1234", tampered))
			if err == nil {
				t.Fatalf("tampered tag %q verified", tampered)
			}
			// All characters before the final data character carry only
			// digest bits, so changing them to another base64 character
			// must be reported as a mismatch.
			if i < len(tag)-2 && c != '=' && !errors.Is(err, protocol.ErrSignatureMismatch) {
				t.Errorf("tampered tag %q: error = %v, want ErrSignatureMismatch", tampered, err)
			}
		}
	}
}

func TestAlgorithmByName(t *testing.T) {
	for _, name := range []string{"sha256", "hmac-sha256", "blake2b-256"} {
		alg, err := crypto.AlgorithmByName(name)
		if err != nil {
			t.Errorf("AlgorithmByName(%q) error = %v", name, err)
			continue
		}
		if alg.Name() != name {
			t.Errorf("AlgorithmByName(%q).Name() = %q", name, alg.Name())
		}
	}

	alg, err := crypto.AlgorithmByName("")
	if err != nil || alg != crypto.DefaultAlgorithm {
		t.Errorf("AlgorithmByName(\"\") = %v, %v; want default", alg, err)
	}

	if _, err := crypto.AlgorithmByName("md5"); err == nil {
		t.Error("AlgorithmByName(md5) should fail")
	}
}
