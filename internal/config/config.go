package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the alerttrader service.
type Config struct {
	Storage Storage       `yaml:"storage"`
	Server  Server        `yaml:"server"`
	Logging Logging       `yaml:"logging"`
	Brokers Brokers       `yaml:"brokers"`
	Trading TradingConfig `yaml:"trading"`
}

// Storage holds paths for data persistence.
type Storage struct {
	// DataDir receives the parquet archive of order attempts.
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Logging configures the application logger.
type Logging struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxAgeDays int    `yaml:"max_age_days"`
	MaxBackups int    `yaml:"max_backups"`
}

// Brokers holds per-venue settings.
type Brokers struct {
	// Timeout bounds every outbound venue call.
	Timeout     time.Duration `yaml:"timeout"`
	DriveWealth Venue         `yaml:"drivewealth"`
	Bitfinex    Venue         `yaml:"bitfinex"`
	ItBit       Venue         `yaml:"itbit"`
	Alpaca      AlpacaVenue   `yaml:"alpaca"`
}

// Venue configures one REST venue.
type Venue struct {
	BaseURL string `yaml:"base_url"`

	// AllocationPercent is the share of available quote currency spent on
	// a buy when neither the credential nor the intent sets one.
	AllocationPercent float64 `yaml:"allocation_percent"`

	// MinNotional rejects smaller buys before submission.
	MinNotional string `yaml:"min_notional"`

	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// Minimum parses MinNotional; empty means no minimum.
func (v Venue) Minimum() (decimal.Decimal, error) {
	if v.MinNotional == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(v.MinNotional)
}

// AlpacaVenue adds the market data endpoint to Venue.
type AlpacaVenue struct {
	Venue   `yaml:",inline"`
	DataURL string `yaml:"data_url"`
}

// TradingConfig defines execution parameters.
type TradingConfig struct {
	// PaperMode routes every credential to the in-memory simulator.
	PaperMode bool `yaml:"paper_mode"`

	// DefaultAllocationPercent applies to venues without their own default.
	DefaultAllocationPercent float64 `yaml:"default_allocation_percent"`

	// Paper seeds the simulator used in paper mode.
	Paper PaperConfig `yaml:"paper"`
}

// PaperConfig holds the simulator's starting state.
type PaperConfig struct {
	// StartingBalances are credited to every new simulated book, keyed by
	// currency.
	StartingBalances map[string]string `yaml:"starting_balances"`

	// Quotes maps "BASE/QUOTE" to a fixed bid and ask.
	Quotes map[string]PaperQuote `yaml:"quotes"`
}

// PaperQuote is a fixed simulator quote.
type PaperQuote struct {
	Bid string `yaml:"bid"`
	Ask string `yaml:"ask"`
}

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Storage: Storage{DataDir: "data", SQLitePath: "data/alerttrader.db"},
		Server:  Server{Host: "0.0.0.0", Port: 8080, GRPCPort: 9090},
		Logging: Logging{Level: "info", Format: "json"},
		Brokers: Brokers{
			Timeout: 15 * time.Second,
			DriveWealth: Venue{
				BaseURL:           "https://api.drivewealth.net/v1",
				AllocationPercent: 50,
				MinNotional:       "100",
			},
			Bitfinex: Venue{
				BaseURL:           "https://api.bitfinex.com",
				AllocationPercent: 100,
			},
			ItBit: Venue{
				BaseURL:           "https://api.itbit.com/v1",
				AllocationPercent: 100,
			},
			Alpaca: AlpacaVenue{
				Venue: Venue{
					BaseURL:           "https://paper-api.alpaca.markets",
					AllocationPercent: 50,
					MinNotional:       "1",
				},
				DataURL: "https://data.alpaca.markets",
			},
		},
		Trading: TradingConfig{DefaultAllocationPercent: 50},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path on top of
// Default(), then applies environment variable overrides. Variables from a
// .env file in the working directory are loaded first when present. An empty
// path skips the file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}

	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("GRPC_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.GRPCPort = n
		}
	}

	if v := os.Getenv("BROKER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Brokers.Timeout = d
		}
	}
	if v := os.Getenv("DRIVEWEALTH_BASE_URL"); v != "" {
		cfg.Brokers.DriveWealth.BaseURL = v
	}
	if v := os.Getenv("BITFINEX_BASE_URL"); v != "" {
		cfg.Brokers.Bitfinex.BaseURL = v
	}
	if v := os.Getenv("ITBIT_BASE_URL"); v != "" {
		cfg.Brokers.ItBit.BaseURL = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Brokers.Alpaca.BaseURL = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Brokers.Alpaca.DataURL = v
	}

	if v := os.Getenv("PAPER_MODE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Trading.PaperMode = b
		}
	}
}
