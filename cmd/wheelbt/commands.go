package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"wheel-backtester/controllers"
	"wheel-backtester/services"
)

func addRunFlags(fs *pflag.FlagSet) {
	now := time.Now().UTC()
	fs.String("start", now.AddDate(-1, 0, 0).Format("2006-01-02"), "First day of the backtest (YYYY-MM-DD)")
	fs.String("end", now.Format("2006-01-02"), "Last day of the backtest (YYYY-MM-DD)")
	fs.Float64("capital", 100000, "Initial capital in dollars")
	fs.StringSlice("symbols", nil, "Subset of configured symbols to trade")
	fs.String("source", services.SourceSimulated, "Market data source (sim|alpaca)")
	fs.Uint64("seed", 42, "Seed for simulated market data")
	fs.Bool("save", false, "Persist the run to the database and journal")
	fs.Bool("json", false, "Print the report as JSON")
}

func runBacktest(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	fs := cmd.Flags()
	start, _ := fs.GetString("start")
	end, _ := fs.GetString("end")
	capital, _ := fs.GetFloat64("capital")
	symbols, _ := fs.GetStringSlice("symbols")
	source, _ := fs.GetString("source")
	seed, _ := fs.GetUint64("seed")
	save, _ := fs.GetBool("save")
	asJSON, _ := fs.GetBool("json")

	// the bar cache lives in the same database
	if save || source == services.SourceAlpaca {
		if err := a.openStorage(); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc := a.backtestService(nil)
	outcome, err := svc.RunBacktest(ctx, &services.BacktestRequest{
		Start:          start,
		End:            end,
		InitialCapital: capital,
		Symbols:        symbols,
		Source:         source,
		Seed:           seed,
		Save:           save,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(outcome.Report)
	}
	return outcome.Report.WriteSummary(out)
}

func listRuns(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	if err := a.openStorage(); err != nil {
		return err
	}
	defer a.close()

	limit, _ := cmd.Flags().GetInt("limit")
	runs, err := a.backtestService(nil).ListRuns(limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tSOURCE\tPERIOD\tFINAL VALUE\tRETURN\tMAX DD\tSHARPE\tTRADES")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s..%s\t%.2f\t%.2f%%\t%.2f%%\t%.2f\t%d\n",
			r.RunID, r.Source, r.Start.Format("2006-01-02"), r.End.Format("2006-01-02"),
			r.FinalValue, r.TotalReturn*100, r.MaxDrawdown*100, r.SharpeRatio, r.TradeCount)
	}
	return w.Flush()
}

func serve(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	if err := a.openStorage(); err != nil {
		return err
	}
	defer a.close()

	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		a.cfg.ServerAddr = addr
	}

	registry := prometheus.NewRegistry()
	metrics := services.NewBacktestMetrics(registry)

	router := controllers.NewRouter(
		controllers.NewBacktestController(a.backtestService(metrics)),
		controllers.NewJournalController(a.journal),
		registry,
		a.logger,
	)

	srv := &http.Server{
		Addr:              a.cfg.ServerAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		a.logger.WithField("addr", srv.Addr).Info("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func pruneCache(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	if err := a.openStorage(); err != nil {
		return err
	}
	defer a.close()

	raw, _ := cmd.Flags().GetString("before")
	before, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return fmt.Errorf("invalid --before date %q: %w", raw, err)
	}
	return a.storage.CleanupOldData(before)
}
