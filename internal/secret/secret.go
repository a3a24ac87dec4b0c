// Package secret resolves the shared knock secret and other operator values
// that may be given either literally or as a reference to a file.
//
// A value starting with '@' names a file: "@/etc/rknock/secret" is replaced
// by the contents of /etc/rknock/secret with trailing whitespace removed.
// Any other value is used verbatim.
package secret

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"unicode"
)

// FilePrefix marks a value as a file reference.
const FilePrefix = "@"

// redacted is what a Secret renders as in logs and format verbs.
const redacted = "[redacted]"

// Secret is the keying material shared by knocker and door. It never prints
// its contents: both fmt and slog render it as "[redacted]".
type Secret []byte

// String implements fmt.Stringer.
func (s Secret) String() string { return redacted }

// GoString implements fmt.GoStringer so %#v does not leak the bytes either.
func (s Secret) GoString() string { return redacted }

// LogValue implements slog.LogValuer.
func (s Secret) LogValue() slog.Value { return slog.StringValue(redacted) }

// Bytes returns the raw secret bytes.
func (s Secret) Bytes() []byte { return []byte(s) }

// Resolve turns a raw configured value into a Secret, reading the referenced
// file if raw starts with FilePrefix.
func Resolve(raw string) (Secret, error) {
	v, err := ResolveString(raw)
	if err != nil {
		return nil, err
	}
	return Secret(v), nil
}

// ResolveString applies the FilePrefix convention to an arbitrary string
// value, such as a command template.
func ResolveString(raw string) (string, error) {
	path, ok := strings.CutPrefix(raw, FilePrefix)
	if !ok {
		return raw, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return strings.TrimRightFunc(string(data), unicode.IsSpace), nil
}

// IsFileRef reports whether raw refers to a file rather than holding a value.
func IsFileRef(raw string) bool {
	return strings.HasPrefix(raw, FilePrefix)
}
