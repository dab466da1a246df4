package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wheel-backtester/database"
	"wheel-backtester/interfaces"
	"wheel-backtester/services"
)

// setupEnv points the CLI at a scratch database and journal
func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "wheel.db")
	t.Setenv("DATABASE_PATH", dbPath)
	t.Setenv("JOURNAL_DIR", filepath.Join(dir, "journal"))
	t.Setenv("ALPACA_API_KEY", "")
	t.Setenv("ALPACA_SECRET_KEY", "")
	t.Setenv("STRATEGY_FILE", "")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("DATA_API_RPS", "3")
	return dbPath
}

func execute(args ...string) (string, error) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRunCommandSavesAndLists(t *testing.T) {
	setupEnv(t)

	out, err := execute("run",
		"--start", "2023-01-01", "--end", "2023-03-31",
		"--capital", "500000", "--symbols", "QQQ,NVDA",
		"--seed", "3", "--save", "--json")
	require.NoError(t, err)

	var report services.BacktestReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, []string{"QQQ", "NVDA"}, report.Symbols)
	assert.Equal(t, 500000.0, report.InitialCapital)
	require.NotEmpty(t, report.RunID)

	out, err = execute("runs", "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "RUN ID")
	assert.Contains(t, out, report.RunID)
}

func TestRunCommandPrintsSummary(t *testing.T) {
	setupEnv(t)

	out, err := execute("run", "--start", "2023-01-01", "--end", "2023-02-28", "--symbols", "qqq")
	require.NoError(t, err)
	assert.Contains(t, out, "STRATEGY PERFORMANCE SUMMARY")
	assert.Contains(t, out, "Symbols: QQQ")
	assert.Contains(t, out, "Initial Capital: $100000.00")
}

func TestRunCommandRejectsBadFlags(t *testing.T) {
	cases := map[string][]string{
		"bad start":      {"--start", "01/02/2023", "--end", "2023-03-31"},
		"inverted range": {"--start", "2023-03-31", "--end", "2023-01-01"},
		"zero capital":   {"--start", "2023-01-01", "--end", "2023-03-31", "--capital", "0"},
		"bad capital":    {"--start", "2023-01-01", "--end", "2023-03-31", "--capital", "lots"},
		"unknown symbol": {"--start", "2023-01-01", "--end", "2023-03-31", "--symbols", "AAPL"},
		"unknown source": {"--start", "2023-01-01", "--end", "2023-03-31", "--source", "csv"},
		"no alpaca":      {"--start", "2023-01-01", "--end", "2023-03-31", "--source", "alpaca"},
		"bad seed":       {"--start", "2023-01-01", "--end", "2023-03-31", "--seed", "-1"},
	}

	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			setupEnv(t)
			_, err := execute(append([]string{"run"}, args...)...)
			assert.Error(t, err)
		})
	}
}

func TestRunCommandRejectsBadLogLevel(t *testing.T) {
	setupEnv(t)
	_, err := execute("run", "--log-level", "loud", "--start", "2023-01-01", "--end", "2023-01-31")
	assert.ErrorContains(t, err, "invalid log level")
}

func seedBars(t *testing.T, dbPath string) {
	t.Helper()
	storage, err := database.NewLocalStorage(dbPath)
	require.NoError(t, err)
	defer storage.Close()

	var bars []*interfaces.Bar
	for _, d := range []string{"2024-01-02", "2024-01-03", "2024-01-04"} {
		ts, _ := time.Parse("2006-01-02", d)
		bars = append(bars, &interfaces.Bar{Symbol: "QQQ", Timestamp: ts, Close: 400})
	}
	require.NoError(t, storage.SaveBars(bars))
}

func countBars(t *testing.T, dbPath string) int {
	t.Helper()
	storage, err := database.NewLocalStorage(dbPath)
	require.NoError(t, err)
	defer storage.Close()

	from, _ := time.Parse("2006-01-02", "2024-01-01")
	to, _ := time.Parse("2006-01-02", "2024-01-31")
	bars, err := storage.GetBars("QQQ", from, to)
	require.NoError(t, err)
	return len(bars)
}

func TestPruneCache(t *testing.T) {
	cases := []struct {
		name    string
		args    []string
		wantErr string
		left    int
	}{
		{name: "prunes older bars", args: []string{"--before", "2024-01-03"}, left: 2},
		{name: "nothing older", args: []string{"--before", "2023-12-01"}, left: 3},
		{name: "everything", args: []string{"--before", "2024-02-01"}, left: 0},
		{name: "bad date", args: []string{"--before", "01/03/2024"}, wantErr: "invalid --before date", left: 3},
		{name: "missing flag", args: nil, wantErr: "before", left: 3},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dbPath := setupEnv(t)
			seedBars(t, dbPath)

			_, err := execute(append([]string{"prune-cache"}, tc.args...)...)
			if tc.wantErr != "" {
				assert.ErrorContains(t, err, tc.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tc.left, countBars(t, dbPath))
		})
	}
}
