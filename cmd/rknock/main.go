// Command rknock is a single-packet port knocker.
//
// A knock is one UDP datagram "<nonce>:<tag>" where the nonce is the current
// Unix time (optionally salted) and the tag is a keyed digest of it under a
// shared secret. The door verifies the tag, rejects stale and replayed
// nonces, and runs an operator command with the knocker's IP.
//
// Usage:
//
//	rknock init                     # write a secret and a door config
//	rknock door                     # run the door
//	rknock knock                    # knock using the default profile
//	rknock knock home --ssh         # knock using 'home', then ssh to it
//	rknock share laptop --qr        # print a knocker profile as YAML and QR
//	rknock history                  # list recently accepted knocks
package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/merlos/rknock/internal/config"
)

// Exit statuses.
const (
	exitGeneric  = 1
	exitConfig   = 2
	exitSecret   = 3
	exitBind     = 4
	exitNoHost   = 5
	exitSendFail = 6
)

var (
	serverConfigPath string
	clientConfigPath string
	logLevel         string
)

// exitError carries the process exit status for err.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withExit(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

// exitCode returns the status main exits with for err.
func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitGeneric
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "rknock",
		Short: "Single-packet authenticated port knocking",
		Long: `rknock opens a door with one UDP datagram.

The knocker signs the current Unix time with a shared secret. The door
checks the signature, accepts only the current and previous second, refuses
replays, and runs an operator command with the knocker's IP address.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&serverConfigPath, "config", config.DefaultServerConfigPath, "door config file path (.yaml or .toml)")
	root.PersistentFlags().StringVar(&clientConfigPath, "client-config", config.DefaultClientConfigPath(), "knocker config file path (.yaml or .toml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(
		newInitCmd(),
		newDoorCmd(),
		newKnockCmd(),
		newShareCmd(),
		newHistoryCmd(),
	)
	return root
}

// newLogger creates a slog.Logger at level.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
