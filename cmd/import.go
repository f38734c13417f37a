package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/jmoreau/hydrod/internal/config"
	"github.com/jmoreau/hydrod/internal/hubeau"
	"github.com/jmoreau/hydrod/internal/importer"
	"github.com/jmoreau/hydrod/internal/observability"
)

var importStartPage int

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Fetch the Hub'Eau station referential into the store",
	Long: `import walks the paginated /stations endpoint page by page, normalizes
each flat record into the relational schema, and commits one transaction per
page. Records failing validation are skipped and logged; a transport error
aborts the run.`,
	RunE: runImport,
}

func init() {
	importCmd.Flags().IntVar(&importStartPage, "start-page", 0, "first page to fetch (overrides config)")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	setupLogging()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close() //nolint:errcheck

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := hubeau.NewClient(cfg.Hubeau.BaseURL,
		hubeau.WithHTTPClient(&http.Client{Timeout: cfg.Hubeau.Timeout}),
		hubeau.WithPageSize(cfg.Hubeau.PageSize),
		hubeau.WithPageDelay(cfg.Hubeau.PageDelay),
		hubeau.WithLogger(slog.Default()),
	)

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	im := importer.New(client, s, slog.Default(), metrics)

	startPage := cfg.Hubeau.StartPage
	if importStartPage > 0 {
		startPage = importStartPage
	}

	stats, err := im.Run(ctx, startPage)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	fmt.Printf("Import complete\n")
	fmt.Printf("  Pages:            %d\n", stats.Pages)
	fmt.Printf("  Records:          %d\n", stats.Records)
	fmt.Printf("  Stations stored:  %d\n", stats.StationsImported)
	fmt.Printf("  Stations skipped: %d\n", stats.StationsSkipped)
	return nil
}
