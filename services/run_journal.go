package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"wheel-backtester/interfaces"
)

// ErrJournalNotFound is returned for an unknown or malformed run ID
var ErrJournalNotFound = errors.New("journal not found")

const journalPrefix = "run_"

// RunJournal writes one JSON file per backtest run
type RunJournal struct {
	logger *logrus.Logger
	dir    string
}

// JournalEntry is the on-disk content of one run journal
type JournalEntry struct {
	RunID     string                 `json:"run_id"`
	WrittenAt time.Time              `json:"written_at"`
	Report    *BacktestReport        `json:"report"`
	Trades    []interfaces.Trade     `json:"trades"`
	Skipped   []interfaces.SkipEvent `json:"skipped"`
}

// NewRunJournal creates a journal rooted at dir
func NewRunJournal(dir string) *RunJournal {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	if err := os.MkdirAll(dir, 0755); err != nil {
		logger.WithError(err).Error("Failed to create journal directory")
	}

	return &RunJournal{
		logger: logger,
		dir:    dir,
	}
}

// SetLogger replaces the journal logger
func (j *RunJournal) SetLogger(logger *logrus.Logger) {
	j.logger = logger
}

// Write stores the report, trade log and skip events of a run
func (j *RunJournal) Write(report *BacktestReport, trades []interfaces.Trade, skipped []interfaces.SkipEvent) error {
	if _, err := uuid.Parse(report.RunID); err != nil {
		return fmt.Errorf("invalid run id %q: %w", report.RunID, err)
	}

	entry := &JournalEntry{
		RunID:     report.RunID,
		WrittenAt: report.CreatedAt,
		Report:    report,
		Trades:    trades,
		Skipped:   skipped,
	}
	if entry.Trades == nil {
		entry.Trades = make([]interfaces.Trade, 0)
	}
	if entry.Skipped == nil {
		entry.Skipped = make([]interfaces.SkipEvent, 0)
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal journal: %w", err)
	}

	if err := os.MkdirAll(j.dir, 0755); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}
	if err := os.WriteFile(j.path(report.RunID), data, 0644); err != nil {
		return fmt.Errorf("failed to write journal file: %w", err)
	}

	j.logger.WithFields(logrus.Fields{
		"run_id": report.RunID,
		"trades": len(trades),
		"skips":  len(skipped),
	}).Info("Run journal written")
	return nil
}

// Get reads the journal of one run
func (j *RunJournal) Get(runID string) (*JournalEntry, error) {
	if _, err := uuid.Parse(runID); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrJournalNotFound, runID)
	}

	data, err := os.ReadFile(j.path(runID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrJournalNotFound, runID)
		}
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}

	var entry JournalEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to parse journal: %w", err)
	}

	return &entry, nil
}

// List returns the run IDs that have a journal, sorted
func (j *RunJournal) List() ([]string, error) {
	files, err := os.ReadDir(j.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, err
	}

	ids := make([]string, 0)
	for _, file := range files {
		name := file.Name()
		if file.IsDir() || filepath.Ext(name) != ".json" || !strings.HasPrefix(name, journalPrefix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(strings.TrimPrefix(name, journalPrefix), ".json"))
	}
	sort.Strings(ids)

	return ids, nil
}

func (j *RunJournal) path(runID string) string {
	return filepath.Join(j.dir, journalPrefix+runID+".json")
}
