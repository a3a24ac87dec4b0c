package main

import (
	"fmt"
	"io"
	"net"

	"github.com/spf13/cobra"

	"github.com/merlos/rknock/internal/config"
	"github.com/merlos/rknock/internal/qr"
	"github.com/merlos/rknock/internal/secret"
)

type shareOptions struct {
	host     string
	salt     bool
	noSecret bool
	showQR   bool
	qrOut    string
}

func newShareCmd() *cobra.Command {
	var opts shareOptions

	cmd := &cobra.Command{
		Use:   "share [name]",
		Short: "Print a knocker profile for this door",
		Long: `Print a knocker config profile for this door, ready to paste into
~/.rknock/config.yaml, and optionally as a QR code.

The profile contains the shared secret unless --no-secret is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "default"
			if len(args) > 0 {
				name = args[0]
			}
			return runShare(cmd.OutOrStdout(), name, opts)
		},
	}

	cmd.Flags().StringVar(&opts.host, "host", "", "public hostname or IP of the door (required)")
	cmd.Flags().BoolVar(&opts.salt, "salt", false, "enable nonce salting in the profile")
	cmd.Flags().BoolVar(&opts.noSecret, "no-secret", false, "leave the secret out of the profile")
	cmd.Flags().BoolVar(&opts.showQR, "qr", false, "display a QR code in the terminal")
	cmd.Flags().StringVar(&opts.qrOut, "qr-out", "", "write a QR PNG to this file path")
	_ = cmd.MarkFlagRequired("host")

	return cmd
}

func runShare(out io.Writer, name string, opts shareOptions) error {
	cfg, err := config.LoadServerConfig(serverConfigPath)
	if err != nil {
		return withExit(exitConfig, fmt.Errorf("loading door config: %w", err))
	}

	_, port, err := net.SplitHostPort(cfg.Door.Listen)
	if err != nil {
		return withExit(exitConfig, fmt.Errorf("door.listen: %w", err))
	}

	payload := &qr.Payload{
		ProfileName: name,
		Profile: config.Profile{
			Target:    net.JoinHostPort(opts.host, port),
			Algorithm: cfg.Door.Algorithm,
			Salt:      opts.salt,
		},
	}
	if !opts.noSecret {
		sec, err := secret.ResolveString(cfg.Door.Secret)
		if err != nil {
			return withExit(exitSecret, fmt.Errorf("loading secret: %w", err))
		}
		payload.Profile.Secret = sec
	}

	text, err := payload.Text(opts.noSecret)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "──── Knocker profile %s (copy to ~/.rknock/config.yaml) ────\n", name)
	fmt.Fprint(out, text)
	fmt.Fprintln(out, "────────────────────────────────────────────────────────────────")

	if opts.showQR || opts.qrOut != "" {
		if !opts.noSecret {
			fmt.Fprintln(out, "\n⚠ WARNING: QR contains the shared secret. Treat it as a secret!")
		}
		if err := qr.Generate(payload, &qr.GenerateOptions{
			OmitSecret: opts.noSecret,
			OutputPath: opts.qrOut,
			Out:        out,
		}); err != nil {
			return fmt.Errorf("generating QR: %w", err)
		}
	}
	return nil
}
