package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quant-ingest/internal/database"
	"github.com/quant-ingest/pkg/config"
	"github.com/quant-ingest/pkg/logger"
)

var symbolsStorePath string

var symbolsCmd = &cobra.Command{
	Use:   "symbols",
	Short: "Manage ingested symbols",
	Long:  "Commands for viewing ingested symbols and their sync state",
}

var listSymbolsCmd = &cobra.Command{
	Use:   "list",
	Short: "List all symbols",
	Long:  "List every symbol in the store with its last sync outcome",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		log, err := logger.New(&cfg.Logging)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		store, err := database.Open(symbolsStorePath, log)
		if err != nil {
			return &ExitError{Code: 2, Err: fmt.Errorf("failed to open store: %w", err)}
		}
		defer store.Close()

		ctx := context.Background()
		if err := store.RequireBarColumns(ctx); err != nil {
			return &ExitError{Code: 2, Err: err}
		}
		symbols, err := store.ListSymbols(ctx)
		if err != nil {
			return fmt.Errorf("failed to list symbols: %w", err)
		}
		statuses, err := store.GetSyncStatuses(ctx)
		if err != nil {
			return fmt.Errorf("failed to read sync status: %w", err)
		}
		byName := make(map[string]string, len(statuses))
		rows := make(map[string]int, len(statuses))
		for _, st := range statuses {
			byName[st.Symbol] = st.Status
			rows[st.Symbol] = st.RowsWritten
		}

		fmt.Printf("%-15s %-10s %-12s\n", "Symbol", "Status", "Last Rows")
		fmt.Println(strings.Repeat("-", 40))
		for _, sym := range symbols {
			status := byName[sym]
			if status == "" {
				status = "-"
			}
			fmt.Printf("%-15s %-10s %-12d\n", sym, status, rows[sym])
		}
		fmt.Printf("\nTotal: %d symbols\n", len(symbols))
		return nil
	},
}

func init() {
	symbolsCmd.PersistentFlags().StringVar(&symbolsStorePath, "store", "bars.db", "Path to the bar store")
	symbolsCmd.AddCommand(listSymbolsCmd)
	rootCmd.AddCommand(symbolsCmd)
}
