package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmoreau/hydrod/internal/config"
	"github.com/jmoreau/hydrod/internal/verify"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [db-path]",
	Short: "Run integrity checks against the station store",
	Long: `verify runs three checks against a populated store: structural
consistency, zero foreign-key violations, and at least one row per table.
An optional positional argument points at a SQLite database file, overriding
the configured path.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	setupLogging()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if len(args) == 1 {
		cfg.Storage.Driver = "sqlite"
		cfg.Storage.SQLite.Path = args[0]
	}

	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close() //nolint:errcheck

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	results := verify.Run(ctx, s)
	for _, r := range results {
		if r.Err != nil {
			fmt.Printf("FAIL  %s: %v\n", r.Name, r.Err)
		} else {
			fmt.Printf("ok    %s\n", r.Name)
		}
	}

	if verify.Failed(results) {
		return errors.New("integrity checks failed")
	}
	return nil
}
