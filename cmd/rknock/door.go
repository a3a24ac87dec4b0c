package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/merlos/rknock/internal/action"
	"github.com/merlos/rknock/internal/config"
	"github.com/merlos/rknock/internal/crypto"
	"github.com/merlos/rknock/internal/ledger"
	"github.com/merlos/rknock/internal/metrics"
	"github.com/merlos/rknock/internal/replay"
	"github.com/merlos/rknock/internal/secret"
	"github.com/merlos/rknock/internal/server"
)

// doorFlags are command-line overrides for the door config.
type doorFlags struct {
	listen  string
	secret  string
	command string
}

func newDoorCmd() *cobra.Command {
	var flags doorFlags

	cmd := &cobra.Command{
		Use:   "door",
		Short: "Run the knock listener",
		Long: `Listen for knocks and run the allow command for each accepted one.

The config file is optional when --secret and --command are given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoor(flags)
		},
	}

	cmd.Flags().StringVar(&flags.listen, "listen", "", "UDP address to listen on")
	cmd.Flags().StringVar(&flags.secret, "secret", "", "shared secret, or @file")
	cmd.Flags().StringVar(&flags.command, "command", "", "allow command template with {ip}, or @file")

	return cmd
}

func runDoor(flags doorFlags) error {
	log := newLogger(logLevel)

	cfg, err := loadDoorConfig(serverConfigPath, flags)
	if err != nil {
		return err
	}

	d, err := newDoor(cfg, log)
	if err != nil {
		return err
	}
	defer d.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return d.run(ctx)
}

// loadDoorConfig reads path and applies flags. A missing file is tolerated
// when the flags supply the secret.
func loadDoorConfig(path string, flags doorFlags) (*config.ServerConfig, error) {
	cfg, err := config.LoadServerConfig(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) || flags.secret == "" {
			return nil, withExit(exitConfig, fmt.Errorf("loading door config: %w", err))
		}
		cfg = config.DefaultServerConfig()
	}

	if flags.listen != "" {
		cfg.Door.Listen = flags.listen
	}
	if flags.secret != "" {
		cfg.Door.Secret = flags.secret
	}
	if flags.command != "" {
		cfg.Door.AllowCommand = flags.command
	}

	if err := cfg.Validate(); err != nil {
		return nil, withExit(exitConfig, err)
	}
	return cfg, nil
}

// door wires a validated config to its collaborators.
type door struct {
	cfg     *config.ServerConfig
	log     *slog.Logger
	srv     *server.Server
	runner  *action.Runner
	metrics *metrics.Metrics
	ledger  *ledger.Ledger
}

func newDoor(cfg *config.ServerConfig, log *slog.Logger) (*door, error) {
	sec, err := secret.Resolve(cfg.Door.Secret)
	if err != nil {
		return nil, withExit(exitSecret, fmt.Errorf("loading secret: %w", err))
	}
	if len(sec) == 0 {
		return nil, withExit(exitSecret, errors.New("secret is empty"))
	}
	allow, err := secret.ResolveString(cfg.Door.AllowCommand)
	if err != nil {
		return nil, withExit(exitSecret, fmt.Errorf("loading allow command: %w", err))
	}
	revoke, err := secret.ResolveString(cfg.Door.RevokeCommand)
	if err != nil {
		return nil, withExit(exitSecret, fmt.Errorf("loading revoke command: %w", err))
	}
	alg, err := crypto.AlgorithmByName(cfg.Door.Algorithm)
	if err != nil {
		return nil, withExit(exitConfig, err)
	}

	d := &door{cfg: cfg, log: log, metrics: metrics.New()}

	if cfg.Door.LedgerFile != "" {
		d.ledger, err = ledger.Open(cfg.Door.LedgerFile)
		if err != nil {
			return nil, err
		}
	}

	d.runner = action.NewRunner(action.Options{
		AllowCommand:  allow,
		RevokeCommand: revoke,
		RevokeAfter:   cfg.Door.RevokeAfter.Duration,
		Log:           log,
	})

	session := server.NewSession(crypto.New(alg, sec), replay.New(cfg.Door.ReplayCapacity))
	d.srv = server.New(&server.Options{
		Listen:   cfg.Door.Listen,
		Session:  session,
		OnKnock:  d.onKnock,
		Observer: d.metrics,
		Log:      log,
	})
	return d, nil
}

// onKnock records k and runs the allow command for its source.
func (d *door) onKnock(k *server.Knock) {
	if d.ledger != nil {
		ev := &ledger.Event{Source: k.Source.String(), Nonce: k.Nonce}
		if err := d.ledger.Record(ev); err != nil {
			d.log.Error("recording knock", "err", err)
		}
	}
	_, err := d.runner.Allow(context.Background(), k.Source)
	d.metrics.ObserveAction(err == nil)
}

func (d *door) run(ctx context.Context) error {
	if addr := d.cfg.Door.MetricsAddr; addr != "" {
		go func() {
			if err := d.metrics.Serve(ctx, addr, d.log); err != nil {
				d.log.Error("metrics server", "err", err)
			}
		}()
	}

	// Run returns only after in-flight onKnock calls finish, so no Allow
	// can arm a timer after Shutdown has drained them.
	err := d.srv.Run(ctx)
	d.runner.Shutdown(context.Background())
	if errors.Is(err, server.ErrBind) {
		return withExit(exitBind, err)
	}
	return err
}

func (d *door) close() {
	if d.ledger != nil {
		if err := d.ledger.Close(); err != nil {
			d.log.Warn("closing ledger", "err", err)
		}
	}
}
