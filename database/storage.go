package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"wheel-backtester/interfaces"
	"wheel-backtester/models"
)

// ErrRunNotFound is returned when no backtest run has the requested ID
var ErrRunNotFound = errors.New("backtest run not found")

const batchSize = 500

// LocalStorage implements the StorageService interface using SQLite
type LocalStorage struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewLocalStorage creates a new local storage service
func NewLocalStorage(dbPath string) (*LocalStorage, error) {
	// Ensure the directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(
		&models.DBBar{},
		&models.DBBacktestRun{},
		&models.DBTrade{},
		&models.DBEquityPoint{},
		&models.DBPortfolioSnapshot{},
		&models.DBSkipEvent{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &LocalStorage{
		db:     db,
		logger: logger,
	}, nil
}

// SetLogger replaces the storage logger
func (s *LocalStorage) SetLogger(logger *logrus.Logger) {
	s.logger = logger
}

// SaveBars saves multiple bars, ignoring ones already cached
func (s *LocalStorage) SaveBars(bars []*interfaces.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	dbBars := make([]*models.DBBar, len(bars))
	for i, bar := range bars {
		dbBars[i] = &models.DBBar{
			Symbol:    bar.Symbol,
			Timestamp: bar.Timestamp,
			Open:      bar.Open,
			High:      bar.High,
			Low:       bar.Low,
			Close:     bar.Close,
			Volume:    bar.Volume,
			VWAP:      bar.VWAP,
			Timeframe: "1Day",
		}
	}

	result := s.db.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&dbBars, batchSize)
	if result.Error != nil {
		return fmt.Errorf("failed to save bars: %w", result.Error)
	}

	s.logger.WithFields(logrus.Fields{
		"count": len(bars),
		"saved": result.RowsAffected,
	}).Debug("Bars saved")
	return nil
}

// GetBars retrieves bars for a symbol within a time range
func (s *LocalStorage) GetBars(symbol string, start, end time.Time) ([]*interfaces.Bar, error) {
	var dbBars []*models.DBBar

	result := s.db.Where("symbol = ? AND timestamp >= ? AND timestamp <= ?", symbol, start, end).
		Order("timestamp ASC").
		Find(&dbBars)

	if result.Error != nil {
		return nil, fmt.Errorf("failed to get bars: %w", result.Error)
	}

	bars := make([]*interfaces.Bar, len(dbBars))
	for i, dbBar := range dbBars {
		bars[i] = &interfaces.Bar{
			Symbol:    dbBar.Symbol,
			Timestamp: dbBar.Timestamp,
			Open:      dbBar.Open,
			High:      dbBar.High,
			Low:       dbBar.Low,
			Close:     dbBar.Close,
			Volume:    dbBar.Volume,
			VWAP:      dbBar.VWAP,
		}
	}

	return bars, nil
}

// RunRecord is everything persisted for one backtest
type RunRecord struct {
	Run       *models.DBBacktestRun
	Trades    []*models.DBTrade
	Equity    []*models.DBEquityPoint
	Snapshots []*models.DBPortfolioSnapshot
	Skips     []*models.DBSkipEvent
}

// SaveRun writes a run and its children in one transaction
func (s *LocalStorage) SaveRun(rec *RunRecord) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(rec.Run).Error; err != nil {
			return fmt.Errorf("failed to save run: %w", err)
		}
		if len(rec.Trades) > 0 {
			if err := tx.CreateInBatches(rec.Trades, batchSize).Error; err != nil {
				return fmt.Errorf("failed to save trades: %w", err)
			}
		}
		if len(rec.Equity) > 0 {
			if err := tx.CreateInBatches(rec.Equity, batchSize).Error; err != nil {
				return fmt.Errorf("failed to save equity curve: %w", err)
			}
		}
		if len(rec.Snapshots) > 0 {
			if err := tx.CreateInBatches(rec.Snapshots, batchSize).Error; err != nil {
				return fmt.Errorf("failed to save portfolio snapshots: %w", err)
			}
		}
		if len(rec.Skips) > 0 {
			if err := tx.CreateInBatches(rec.Skips, batchSize).Error; err != nil {
				return fmt.Errorf("failed to save skip events: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"run_id": rec.Run.RunID,
		"trades": len(rec.Trades),
		"days":   len(rec.Equity),
	}).Info("Backtest run saved")
	return nil
}

// GetRun retrieves a run by ID
func (s *LocalStorage) GetRun(runID string) (*models.DBBacktestRun, error) {
	var run models.DBBacktestRun

	result := s.db.Where("run_id = ?", runID).First(&run)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("failed to get run: %w", result.Error)
	}

	return &run, nil
}

// ListRuns returns the most recent runs first; limit <= 0 means all
func (s *LocalStorage) ListRuns(limit int) ([]*models.DBBacktestRun, error) {
	var runs []*models.DBBacktestRun

	query := s.db.Model(&models.DBBacktestRun{}).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	return runs, nil
}

// GetRunTrades returns a run's trades in execution order
func (s *LocalStorage) GetRunTrades(runID string) ([]*models.DBTrade, error) {
	var trades []*models.DBTrade

	if err := s.db.Where("run_id = ?", runID).Order("seq ASC").Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("failed to get trades: %w", err)
	}

	return trades, nil
}

// GetRunEquity returns a run's equity curve in date order
func (s *LocalStorage) GetRunEquity(runID string) ([]*models.DBEquityPoint, error) {
	var points []*models.DBEquityPoint

	if err := s.db.Where("run_id = ?", runID).Order("date ASC").Find(&points).Error; err != nil {
		return nil, fmt.Errorf("failed to get equity curve: %w", err)
	}

	return points, nil
}

// GetRunSkips returns a run's skip events in date order
func (s *LocalStorage) GetRunSkips(runID string) ([]*models.DBSkipEvent, error) {
	var skips []*models.DBSkipEvent

	if err := s.db.Where("run_id = ?", runID).Order("date ASC, id ASC").Find(&skips).Error; err != nil {
		return nil, fmt.Errorf("failed to get skip events: %w", err)
	}

	return skips, nil
}

// CleanupOldData removes cached bars older than before
func (s *LocalStorage) CleanupOldData(before time.Time) error {
	s.logger.WithField("before", before).Info("Cleaning up old data")

	if err := s.db.Unscoped().Where("timestamp < ?", before).Delete(&models.DBBar{}).Error; err != nil {
		return fmt.Errorf("failed to delete old bars: %w", err)
	}

	s.logger.Info("Old data cleaned up successfully")
	return nil
}

// Close closes the database connection
func (s *LocalStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
