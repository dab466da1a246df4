package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	appName = "wheelbt"
	version = "v0.3.0"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Backtest the put/call options wheel",
		Version: version,
		Long: `wheelbt simulates selling cash-secured puts and, after assignment,
covered calls across a basket of underlyings, and reports return, drawdown
and risk-adjusted performance.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("log-level", "", "Log level (overrides LOG_LEVEL)")
	rootCmd.PersistentFlags().String("strategy", "", "Strategy YAML file (overrides STRATEGY_FILE)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run one backtest and print the performance summary",
		RunE:  runBacktest,
	}
	addRunFlags(runCmd.Flags())

	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "List persisted backtest runs",
		RunE:  listRuns,
	}
	runsCmd.Flags().Int("limit", 20, "Maximum number of runs to list (0 for all)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the backtest HTTP API",
		RunE:  serve,
	}
	serveCmd.Flags().String("addr", "", "Listen address (overrides SERVER_ADDR)")

	pruneCmd := &cobra.Command{
		Use:   "prune-cache",
		Short: "Delete cached daily bars older than a date",
		RunE:  pruneCache,
	}
	pruneCmd.Flags().String("before", "", "Delete bars dated before YYYY-MM-DD")
	_ = pruneCmd.MarkFlagRequired("before")

	rootCmd.AddCommand(runCmd, runsCmd, serveCmd, pruneCmd)
	return rootCmd
}
