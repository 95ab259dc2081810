package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/quant-ingest/pkg/models"
)

var (
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "quant-ingest",
	Short: "Market data ingestion and alignment",
	Long: `quant-ingest fetches daily market data from equity, macro and synthetic
sources, normalizes it into canonical bars, aligns it onto a trading calendar
and persists it into a local store with a columnar mirror.

A YAML manifest drives each run: which symbols from which sources over which
window, with what missing-data policy. The run produces a JSON report with
per-symbol outcomes and data-quality counters.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// ExitError carries an explicit process exit code up through cobra.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps a command error onto the process exit contract: 0 on
// success, 2 for configuration and manifest faults raised before any task
// ran, 1 for everything else.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	var me *models.ManifestError
	if errors.As(err, &me) {
		return 2
	}
	var ce *models.MissingCredentialError
	if errors.As(err, &ce) {
		return 2
	}
	return 1
}
