// Package cli wires the abridge commands: flag parsing, logging setup,
// the extraction pipeline and the destination write loop.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/abridge-db/abridge/internal/configfile"
	"github.com/abridge-db/abridge/internal/database"
	"github.com/abridge-db/abridge/internal/model"
	"github.com/abridge-db/abridge/internal/schema"
	"github.com/abridge-db/abridge/internal/sink"
)

// errUsage marks errors caused by how the tool was invoked rather than
// by what it found; they exit with status 1.
var errUsage = errors.New("invalid usage")

var (
	dstURL  string
	dstFile string
	explain bool
	quiet   bool
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "abridge CONFIG_PATH SRC_URL",
	Short: "Extract a referentially consistent subset of a relational database",
	Long: `Abridge extracts a minimized, referentially consistent subset of a
relational database, suitable for testing, staging or reproduction.

Given an extraction configuration and a source database, it selects a
closure of rows preserving all enabled foreign-key relationships and
writes them, in an order satisfying NOT NULL constraints, to a sibling
database or a SQL script.

Examples:
  abridge config.yaml sqlite:///prod.db -f subset.sql
  abridge config.yaml postgresql://user@host/prod -u postgresql://user@host/staging
  abridge config.yaml sqlite:///prod.db -e`,
	Args:          usageArgs(2, "CONFIG_PATH and SRC_URL are required"),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runAbridge,
}

// usageArgs validates the positional argument count, marking failures
// as usage errors so they exit with status 1.
func usageArgs(n int, hint string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return fmt.Errorf("%w: %s", errUsage, hint)
		}
		return nil
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", errUsage, err)
	})

	rootCmd.Flags().StringVarP(&dstURL, "url", "u", "",
		"write to a live destination database (must be same dialect as source)")
	rootCmd.Flags().StringVarP(&dstFile, "file", "f", "",
		"write a SQL script; - means standard output")
	rootCmd.Flags().BoolVarP(&explain, "explain", "e", false,
		"print the extraction trail and exit without generating output")
	rootCmd.Flags().BoolVarP(&quiet, "quiet", "q", false,
		"suppress progress output")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false,
		"per-work-item progress output")
}

func initConfig() {
	// A .env next to the working directory may supply the ABRIDGE_*
	// variables; missing files are fine.
	_ = godotenv.Load()

	viper.SetEnvPrefix("ABRIDGE")
	_ = viper.BindEnv("destination_url")  // ABRIDGE_DESTINATION_URL
	_ = viper.BindEnv("destination_file") // ABRIDGE_DESTINATION_FILE
	_ = viper.BindEnv("quiet")            // ABRIDGE_QUIET
	viper.AutomaticEnv()
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Aborted")
		return exitCode(err)
	}
	return 0
}

// exitCode maps error kinds onto exit statuses: 1 for invalid usage or
// configuration, 2 for runtime failures.
func exitCode(err error) int {
	switch {
	case errors.Is(err, errUsage),
		errors.Is(err, model.ErrInvalidConfig),
		errors.Is(err, schema.ErrUnknownTable),
		errors.Is(err, schema.ErrUnknownColumn),
		errors.Is(err, schema.ErrRelationIntegrity),
		errors.Is(err, configfile.ErrFile),
		errors.Is(err, configfile.ErrData),
		errors.Is(err, configfile.ErrInclude),
		errors.Is(err, database.ErrDatabaseURL),
		errors.Is(err, sink.ErrDialectMismatch),
		errors.Is(err, sink.ErrCannotGenerateSQL):
		return 1
	default:
		return 2
	}
}

// setupLogging configures the global zerolog logger from the verbosity
// flags.
func setupLogging() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	switch {
	case quiet:
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// validateFlags applies the mutual-exclusion rules of the CLI surface.
func validateFlags() error {
	if dstURL == "" {
		dstURL = viper.GetString("destination_url")
	}
	if dstFile == "" {
		dstFile = viper.GetString("destination_file")
	}
	if !quiet {
		quiet = viper.GetBool("quiet")
	}

	if quiet && verbose {
		return fmt.Errorf("%w: --quiet and --verbose are mutually exclusive", errUsage)
	}
	if explain {
		if dstURL != "" || dstFile != "" {
			return fmt.Errorf("%w: --explain is incompatible with --url and --file", errUsage)
		}
		return nil
	}
	if (dstURL == "") == (dstFile == "") {
		return fmt.Errorf("%w: exactly one of --url and --file is required", errUsage)
	}
	return nil
}
