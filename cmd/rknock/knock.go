package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/merlos/rknock/internal/client"
	"github.com/merlos/rknock/internal/config"
	"github.com/merlos/rknock/internal/crypto"
	"github.com/merlos/rknock/internal/secret"
)

// knockFlags are command-line overrides for a profile. Empty strings and a
// nil salt mean "keep the profile's value".
type knockFlags struct {
	target    string
	secret    string
	algorithm string
	salt      *bool
	ssh       bool
}

func newKnockCmd() *cobra.Command {
	var (
		flags knockFlags
		salt  bool
	)

	cmd := &cobra.Command{
		Use:   "knock [profile]",
		Short: "Send a knock to a door",
		Long: `Send a single knock datagram.

The profile comes from the knocker config; flags override its fields. The
config file is optional when --target and --secret are given.

Example:
  rknock knock
  rknock knock home --ssh
  rknock knock --target door.example.com --secret @~/secret --salt`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("salt") {
				flags.salt = &salt
			}
			profileName := ""
			if len(args) > 0 {
				profileName = args[0]
			}
			return runKnock(cmd.Context(), cmd.OutOrStdout(), profileName, flags)
		},
	}

	cmd.Flags().StringVar(&flags.target, "target", "", "door address, host[:port]")
	cmd.Flags().StringVar(&flags.secret, "secret", "", "shared secret, or @file")
	cmd.Flags().StringVar(&flags.algorithm, "algorithm", "", "tag algorithm: sha256, hmac-sha256 or blake2b-256")
	cmd.Flags().BoolVar(&salt, "salt", false, "append a random salt to the nonce")
	cmd.Flags().BoolVar(&flags.ssh, "ssh", false, "run ssh to the door's host after knocking")

	return cmd
}

// resolveProfile loads the named profile from path and applies flags.
func resolveProfile(path, name string, flags knockFlags) (*config.Profile, error) {
	p := &config.Profile{}

	cfg, err := config.LoadClientConfig(path)
	switch {
	case err == nil:
		found, perr := config.GetProfile(cfg, name)
		if perr != nil && (name != "" || flags.target == "") {
			return nil, withExit(exitConfig, perr)
		}
		if found != nil {
			*p = *found
		}
	case errors.Is(err, fs.ErrNotExist) && name == "" && flags.target != "" && flags.secret != "":
	default:
		return nil, withExit(exitConfig, fmt.Errorf("loading knocker config: %w", err))
	}

	if flags.target != "" {
		p.Target = flags.target
	}
	if flags.secret != "" {
		p.Secret = flags.secret
	}
	if flags.algorithm != "" {
		p.Algorithm = flags.algorithm
	}
	if flags.salt != nil {
		p.Salt = *flags.salt
	}

	if err := p.Validate(); err != nil {
		return nil, withExit(exitConfig, err)
	}
	return p, nil
}

func runKnock(ctx context.Context, out io.Writer, profileName string, flags knockFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log := newLogger(logLevel)

	profile, err := resolveProfile(clientConfigPath, profileName, flags)
	if err != nil {
		return err
	}

	sec, err := secret.Resolve(profile.Secret)
	if err != nil {
		return withExit(exitSecret, fmt.Errorf("loading secret: %w", err))
	}
	alg, err := crypto.AlgorithmByName(profile.Algorithm)
	if err != nil {
		return withExit(exitConfig, err)
	}

	fmt.Fprintf(out, "Knocking %s ...\n", profile.Target)
	_, err = client.Knock(ctx, &client.KnockOptions{
		Target: profile.Target,
		Signer: crypto.New(alg, sec),
		Salt:   profile.Salt,
		Log:    log,
	})
	switch {
	case errors.Is(err, client.ErrNoSuchHost):
		return withExit(exitNoHost, err)
	case errors.Is(err, client.ErrSend):
		return withExit(exitSendFail, err)
	case err != nil:
		return err
	}
	fmt.Fprintln(out, "Knock sent.")

	return afterKnock(ctx, log, profile, flags.ssh)
}

// afterKnock runs ssh to the door's host, or the profile's post-knock
// command, attached to the terminal.
func afterKnock(ctx context.Context, log *slog.Logger, profile *config.Profile, ssh bool) error {
	var c *exec.Cmd
	switch {
	case ssh:
		host, _, err := client.ParseTarget(profile.Target)
		if err != nil {
			return err
		}
		c = exec.CommandContext(ctx, "ssh", host)
	case profile.PostKnock != "":
		c = exec.CommandContext(ctx, "sh", "-c", profile.PostKnock)
	default:
		return nil
	}

	log.Debug("running post-knock command", "args", c.Args)
	c.Stdin = os.Stdin
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	return c.Run()
}
