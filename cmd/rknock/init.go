package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/merlos/rknock/internal/config"
	"github.com/merlos/rknock/internal/firewall"
	"github.com/merlos/rknock/internal/secret"
)

const (
	defaultSecretPath = "/etc/rknock/secret"

	// secretSize is the number of random bytes in a generated secret.
	secretSize = 32
)

type initOptions struct {
	force      bool
	secretPath string
	listen     string
	firewall   string
	ports      []string
}

// newInitCmd creates the `rknock init` command.
func newInitCmd() *cobra.Command {
	opts := initOptions{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a shared secret and a default door configuration",
		Long: `Generate a random shared secret and write a default door config that
references it.

By default the config is written to /etc/rknock/door.yaml and the secret to
/etc/rknock/secret. Use --config and --secret-file to override the paths.

Example:
  sudo rknock init
  sudo rknock init --firewall nft --port 22/tcp --port 60000/udp
  sudo rknock init --listen 0.0.0.0:7000 --config /etc/rknock/door.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.force, "force", false, "overwrite an existing config and secret")
	cmd.Flags().StringVar(&opts.secretPath, "secret-file", defaultSecretPath, "where to write the generated secret")
	cmd.Flags().StringVar(&opts.listen, "listen", "", "UDP address for the door (default 0.0.0.0:20022)")
	cmd.Flags().StringVar(&opts.firewall, "firewall", "iptables", "firewall backend for the generated commands: iptables or nft")
	cmd.Flags().StringArrayVar(&opts.ports, "port", []string{"22/tcp"}, "port rule opened for knockers, e.g. 2222/tcp (repeatable)")

	return cmd
}

// runInit writes a fresh secret and a door config referencing it. It refuses
// to overwrite either file unless opts.force is set.
func runInit(out io.Writer, opts initOptions) error {
	// Validate the firewall settings early so we fail before writing anything.
	tmpl, err := initTemplates(opts)
	if err != nil {
		return withExit(exitConfig, err)
	}

	if !opts.force {
		for _, p := range []string{serverConfigPath, opts.secretPath} {
			if _, err := os.Stat(p); err == nil {
				return fmt.Errorf("%s already exists\nUse --force to overwrite", p)
			}
		}
	}

	cfg := config.DefaultServerConfig()
	if opts.listen != "" {
		cfg.Door.Listen = opts.listen
	}
	cfg.Door.Secret = secret.FilePrefix + opts.secretPath
	cfg.Door.AllowCommand = tmpl.Allow
	cfg.Door.RevokeCommand = tmpl.Revoke

	if err := cfg.Validate(); err != nil {
		return withExit(exitConfig, err)
	}

	key := make([]byte, secretSize)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("generating secret: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(key)

	if err := os.MkdirAll(filepath.Dir(opts.secretPath), 0o700); err != nil {
		return fmt.Errorf("creating secret directory: %w", err)
	}
	if err := os.WriteFile(opts.secretPath, []byte(encoded+"\n"), 0o600); err != nil {
		return fmt.Errorf("writing secret: %w", err)
	}
	if err := config.SaveServerConfig(serverConfigPath, cfg); err != nil {
		return withExit(exitConfig, fmt.Errorf("writing door config: %w", err))
	}

	fmt.Fprintf(out, `rknock door initialised.

  Config:   %s
  Secret:   %s
  Listen:   %s
  Firewall: %s

Next steps:
  1. Review allow_command and revoke_command in the config.

  2. Start the door:
       sudo rknock door

  3. Give a knocker its profile:
       sudo rknock share <name> --host <public address>

`, serverConfigPath, opts.secretPath, cfg.Door.Listen, opts.firewall)

	return nil
}

// initTemplates builds the allow and revoke commands for opts.
func initTemplates(opts initOptions) (*firewall.Templates, error) {
	backend := opts.firewall
	if backend == "" {
		backend = "iptables"
	}
	specs := opts.ports
	if len(specs) == 0 {
		specs = []string{"22/tcp"}
	}
	rules := make([]firewall.PortRule, 0, len(specs))
	for _, s := range specs {
		r, err := firewall.ParsePortRule(s)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return firewall.NewTemplates(backend, rules)
}
