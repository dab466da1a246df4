package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds process level settings read from the environment
type Config struct {
	AlpacaAPIKey    string
	AlpacaSecretKey string
	DatabasePath    string
	JournalDir      string
	ServerAddr      string
	LogLevel        string
	StrategyFile    string
	DataAPIRPS      float64
}

// HasAlpacaCredentials reports whether historical data can be fetched
func (c *Config) HasAlpacaCredentials() bool {
	return c.AlpacaAPIKey != "" && c.AlpacaSecretKey != ""
}

// Load reads .env (if present) and the environment
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AlpacaAPIKey:    os.Getenv("ALPACA_API_KEY"),
		AlpacaSecretKey: os.Getenv("ALPACA_SECRET_KEY"),
		DatabasePath:    getEnvDefault("DATABASE_PATH", "./data/backtests.db"),
		JournalDir:      getEnvDefault("JOURNAL_DIR", "./data/journal"),
		ServerAddr:      getEnvDefault("SERVER_ADDR", ":8080"),
		LogLevel:        getEnvDefault("LOG_LEVEL", "info"),
		StrategyFile:    os.Getenv("STRATEGY_FILE"),
	}

	rps, err := strconv.ParseFloat(getEnvDefault("DATA_API_RPS", "3"), 64)
	if err != nil || rps <= 0 {
		return nil, fmt.Errorf("DATA_API_RPS must be a positive number, got %q", os.Getenv("DATA_API_RPS"))
	}
	cfg.DataAPIRPS = rps

	return cfg, nil
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
