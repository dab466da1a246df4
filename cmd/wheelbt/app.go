package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"wheel-backtester/config"
	"wheel-backtester/database"
	"wheel-backtester/services"
)

// app holds the process wide collaborators built from env and flags
type app struct {
	cfg      *config.Config
	strategy config.StrategyConfig
	logger   *logrus.Logger
	calendar *services.TradingCalendar
	storage  *database.LocalStorage
	journal  *services.RunJournal
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if path, _ := cmd.Flags().GetString("strategy"); path != "" {
		cfg.StrategyFile = path
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	logger.SetLevel(level)

	strategy := config.DefaultStrategyConfig()
	if cfg.StrategyFile != "" {
		strategy, err = config.LoadStrategyFile(cfg.StrategyFile)
		if err != nil {
			return nil, err
		}
		logger.WithField("file", cfg.StrategyFile).Info("Loaded strategy config")
	}

	return &app{
		cfg:      cfg,
		strategy: strategy,
		logger:   logger,
		calendar: services.NewTradingCalendar(),
	}, nil
}

// openStorage opens the SQLite database and the journal directory
func (a *app) openStorage() error {
	storage, err := database.NewLocalStorage(a.cfg.DatabasePath)
	if err != nil {
		return err
	}
	storage.SetLogger(a.logger)
	a.storage = storage

	a.journal = services.NewRunJournal(a.cfg.JournalDir)
	return nil
}

func (a *app) close() {
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close database")
		}
	}
}

// backtestService builds the service; alpaca data is offered only when
// credentials are configured
func (a *app) backtestService(metrics *services.BacktestMetrics) *services.BacktestService {
	opts := services.DefaultSeriesOptions().WithMAWindow(a.strategy.IndexMAWindow)
	opts.IndexSymbol = a.strategy.IndexSymbol
	opts.LotSize = a.strategy.LotSize

	var alpaca *services.AlpacaMarketData
	if a.cfg.HasAlpacaCredentials() {
		client := services.NewAlpacaClient(a.cfg.AlpacaAPIKey, a.cfg.AlpacaSecretKey)
		if a.storage != nil {
			alpaca = services.NewAlpacaMarketData(client, a.storage, a.cfg.DataAPIRPS)
		} else {
			alpaca = services.NewAlpacaMarketData(client, nil, a.cfg.DataAPIRPS)
		}
		alpaca.SetLogger(a.logger)
	}

	var store services.RunStore
	if a.storage != nil {
		store = a.storage
	}

	svc := services.NewBacktestService(a.strategy, a.calendar, services.NewProviderFactory(a.calendar, alpaca, opts), store, a.journal)
	svc.SetLogger(a.logger)
	svc.SetMetrics(metrics)
	return svc
}
