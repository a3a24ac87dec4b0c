// Package qr renders rknock knocker profiles as QR codes.
//
// The QR payload is the same YAML a knocker pastes into ~/.rknock/config.yaml:
// a client config holding a single named profile. When the profile carries a
// literal secret the QR code is itself secret material, so callers should
// warn users before displaying it.
package qr

import (
	"fmt"
	"io"
	"os"

	goqr "github.com/skip2/go-qrcode"

	"github.com/merlos/rknock/internal/config"
)

// Payload is the data encoded into the QR code.
type Payload struct {
	// ProfileName is the suggested name for this profile on the knocker.
	ProfileName string

	// Profile is the knock target, secret and options.
	Profile config.Profile
}

// GenerateOptions controls QR code generation.
type GenerateOptions struct {
	// OmitSecret leaves the secret out of the QR payload, for knockers that
	// receive the secret through another channel.
	OmitSecret bool

	// Size is the QR image size in pixels (default: 256).
	Size int

	// OutputPath is the file path to write the QR PNG to.
	// If empty, the QR is printed to Out as text.
	OutputPath string

	// Out receives the terminal rendering and status lines (default: stdout).
	Out io.Writer

	// RecoveryLevel is the QR error correction level (L, M, Q, H).
	// Default is M.
	RecoveryLevel goqr.RecoveryLevel
}

// Text returns the YAML client config encoded in the QR code.
func (p *Payload) Text(omitSecret bool) (string, error) {
	prof := p.Profile
	if omitSecret {
		prof.Secret = ""
	}
	name := p.ProfileName
	if name == "" {
		name = "default"
	}
	data, err := config.Marshal("profile.yaml", &config.ClientConfig{
		Profiles: map[string]*config.Profile{name: &prof},
	})
	if err != nil {
		return "", fmt.Errorf("marshalling QR payload: %w", err)
	}
	return string(data), nil
}

// Generate encodes payload into a QR code. If opts.OutputPath is set, the PNG
// is written to that path; otherwise the code is printed to opts.Out.
func Generate(payload *Payload, opts *GenerateOptions) error {
	if opts == nil {
		opts = &GenerateOptions{}
	}
	if opts.Size == 0 {
		opts.Size = 256
	}
	if opts.RecoveryLevel == 0 {
		opts.RecoveryLevel = goqr.Medium
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}

	text, err := payload.Text(opts.OmitSecret)
	if err != nil {
		return err
	}

	if opts.OutputPath != "" {
		if err := goqr.WriteFile(text, opts.RecoveryLevel, opts.Size, opts.OutputPath); err != nil {
			return fmt.Errorf("writing QR PNG to %s: %w", opts.OutputPath, err)
		}
		fmt.Fprintf(opts.Out, "QR code written to %s\n", opts.OutputPath)
		return nil
	}

	q, err := goqr.New(text, opts.RecoveryLevel)
	if err != nil {
		return fmt.Errorf("generating QR: %w", err)
	}
	fmt.Fprintln(opts.Out, q.ToSmallString(false))
	return nil
}
