package commands

import (
	"fmt"
	"math"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quant-ingest/internal/database"
	"github.com/quant-ingest/pkg/config"
	"github.com/quant-ingest/pkg/logger"
)

var (
	queryStorePath string
	querySymbols   string
	queryStart     string
	queryEnd       string
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query aligned bars from the store",
	Long: `Print aligned bars for one or more symbols over a date window.

Examples:
  quant-ingest query --symbols ACME --start 2020-01-02 --end 2020-01-10
  quant-ingest query --symbols ACME,US10Y --start 2020-01-02 --end 2020-03-31`,
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVar(&queryStorePath, "store", "bars.db", "Path to the bar store")
	queryCmd.Flags().StringVar(&querySymbols, "symbols", "", "Comma-separated symbols (required)")
	queryCmd.Flags().StringVar(&queryStart, "start", "0000-01-01", "Window start (ISO-8601)")
	queryCmd.Flags().StringVar(&queryEnd, "end", "9999-12-31", "Window end (ISO-8601)")
	queryCmd.MarkFlagRequired("symbols")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	store, err := database.Open(queryStorePath, log)
	if err != nil {
		return &ExitError{Code: 2, Err: fmt.Errorf("failed to open store: %w", err)}
	}
	defer store.Close()

	if err := store.RequireBarColumns(cmd.Context()); err != nil {
		return &ExitError{Code: 2, Err: err}
	}

	symbols := strings.Split(querySymbols, ",")
	bars, err := store.FetchBars(cmd.Context(), symbols, queryStart, queryEnd)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	fmt.Printf("%-10s %-12s %10s %10s %10s %10s %12s %-14s %s\n",
		"Symbol", "Date", "Open", "High", "Low", "Close", "Volume", "Source", "Filled")
	fmt.Println(strings.Repeat("-", 100))
	for _, bar := range bars {
		filled := ""
		if bar.IsFilled {
			filled = "yes"
		}
		fmt.Printf("%-10s %-12s %10s %10s %10s %10s %12d %-14s %s\n",
			bar.Symbol, bar.Date,
			fmtPrice(bar.Open), fmtPrice(bar.High), fmtPrice(bar.Low), fmtPrice(bar.Close),
			bar.Volume, string(bar.Source), filled)
	}
	fmt.Printf("\nTotal: %d bars\n", len(bars))
	return nil
}

func fmtPrice(v float64) string {
	if math.IsNaN(v) {
		return "null"
	}
	return fmt.Sprintf("%.4f", v)
}
