package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/merlos/rknock/internal/config"
	"github.com/merlos/rknock/internal/ledger"
)

func newHistoryCmd() *cobra.Command {
	var (
		limit      int
		ledgerFile string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recently accepted knocks from the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd.OutOrStdout(), ledgerFile, limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of knocks to show (0 = all)")
	cmd.Flags().StringVar(&ledgerFile, "ledger", "", "ledger file (default: door.ledger_file from the config)")
	return cmd
}

func runHistory(out io.Writer, path string, limit int) error {
	if path == "" {
		cfg, err := config.LoadServerConfig(serverConfigPath)
		if err != nil {
			return withExit(exitConfig, fmt.Errorf("loading door config: %w", err))
		}
		path = cfg.Door.LedgerFile
	}
	if path == "" {
		return withExit(exitConfig, errors.New("no ledger configured (set door.ledger_file or use --ledger)"))
	}

	l, err := ledger.Open(path)
	if err != nil {
		return err
	}
	defer l.Close()

	events, err := l.Recent(limit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(out, "No knocks recorded.")
		return nil
	}

	fmt.Fprintf(out, "%-20s %-40s %-30s %s\n", "TIME", "SOURCE", "NONCE", "ID")
	fmt.Fprintln(out, "─────────────────────────────────────────────────────────────")
	for _, ev := range events {
		fmt.Fprintf(out, "%-20s %-40s %-30s %s\n",
			ev.Time.UTC().Format("2006-01-02 15:04:05"), ev.Source, ev.Nonce, ev.ID)
	}
	return nil
}
