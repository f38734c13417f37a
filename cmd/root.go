// Package cmd implements the hydrod command-line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	cfgFile   string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "hydrod",
	Short: "Hub'Eau river-flow station mirror and browser",
	Long: `hydrod mirrors the Hub'Eau "écoulement" station referential into a local
SQLite or PostgreSQL database, normalizing the flat API records into a
relational region/departement/commune/bassin/cours_eau/station schema, and
serves a read-only HTML front-end for browsing the stored stations together
with live observations fetched from the API.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format (text or json)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
