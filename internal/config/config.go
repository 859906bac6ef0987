package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"covercall/internal/backtest"
	"covercall/internal/calendar"
)

// DefaultPath is the configuration file read when COVERCALL_CONFIG is unset.
const DefaultPath = "config/covercall.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for covercall.
type Config struct {
	Storage  Storage  `yaml:"storage"`
	Server   Server   `yaml:"server"`
	Alpaca   Alpaca   `yaml:"alpaca"`
	Polygon  Polygon  `yaml:"polygon"`
	Logging  Logging  `yaml:"logging"`
	Backtest Backtest `yaml:"backtest"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host        string `yaml:"host"`
	GRPCPort    int    `yaml:"grpc_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// GRPCAddr returns the gRPC listen address.
func (s Server) GRPCAddr() string { return fmt.Sprintf("%s:%d", s.Host, s.GRPCPort) }

// MetricsAddr returns the Prometheus listen address.
func (s Server) MetricsAddr() string { return fmt.Sprintf("%s:%d", s.Host, s.MetricsPort) }

// Alpaca holds credentials and endpoints for the Alpaca trading calendar and
// market-data APIs.
type Alpaca struct {
	APIKey     string `yaml:"api_key"`
	APISecret  string `yaml:"api_secret"`
	BaseURL    string `yaml:"base_url"`
	DataURL    string `yaml:"data_url"`
	Feed       string `yaml:"feed"`
	Adjustment string `yaml:"adjustment"`
}

// Polygon holds the API key pool and request pacing for the option chain.
type Polygon struct {
	BaseURL         string        `yaml:"base_url"`
	APIKeys         []string      `yaml:"api_keys"`
	RateLimitPerMin int           `yaml:"rate_limit_per_min"` // per key
	PageDelay       time.Duration `yaml:"page_delay"`
	PageLimit       int           `yaml:"page_limit"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Backtest holds the default strategy parameters of a run. Dates use the
// YYYY-MM-DD layout.
type Backtest struct {
	Ticker                 string  `yaml:"ticker"`
	Calendar               string  `yaml:"calendar"`
	StartDate              string  `yaml:"start_date"`
	DurationMonths         int     `yaml:"duration_months"`
	RelativeStrike         float64 `yaml:"relative_strike"`
	InitialShares          int64   `yaml:"initial_shares"`
	ExpirationIndex        int     `yaml:"expiration_index"`
	StrikeBand             float64 `yaml:"strike_band"`
	CalendarPaddingMonths  int     `yaml:"calendar_padding_months"`
	LotSize                int64   `yaml:"lot_size"`
	ExpirationWindowMonths int     `yaml:"expiration_window_months"`
	BarWindowMonths        int     `yaml:"bar_window_months"`
}

// Params converts the section into run parameters.
func (b Backtest) Params() (backtest.Params, error) {
	start, err := calendar.ParseDate(b.StartDate)
	if err != nil {
		return backtest.Params{}, fmt.Errorf("backtest.start_date: %w", err)
	}
	p := backtest.Params{
		Ticker:                 b.Ticker,
		Calendar:               b.Calendar,
		StartDate:              start,
		DurationMonths:         b.DurationMonths,
		RelativeStrike:         b.RelativeStrike,
		InitialShares:          b.InitialShares,
		ExpirationIndex:        b.ExpirationIndex,
		StrikeBand:             b.StrikeBand,
		CalendarPaddingMonths:  b.CalendarPaddingMonths,
		LotSize:                b.LotSize,
		ExpirationWindowMonths: b.ExpirationWindowMonths,
	}.WithDefaults()
	return p, nil
}

// Validate checks the strategy parameters of the section.
func (b Backtest) Validate() error {
	p, err := b.Params()
	if err != nil {
		return err
	}
	return p.Validate()
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Defaults returns a Config populated with the built-in defaults.
func Defaults() *Config {
	p := backtest.DefaultParams()
	return &Config{
		Storage: Storage{
			DataDir:    "data",
			SQLitePath: "data/covercall.db",
		},
		Server: Server{
			Host:        "0.0.0.0",
			GRPCPort:    9090,
			MetricsPort: 9102,
		},
		Alpaca: Alpaca{
			Feed:       "sip",
			Adjustment: "raw",
		},
		Polygon: Polygon{
			RateLimitPerMin: 5,
			PageDelay:       50 * time.Millisecond,
			PageLimit:       1000,
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
		Backtest: Backtest{
			Ticker:                 p.Ticker,
			Calendar:               p.Calendar,
			StartDate:              calendar.Format(p.StartDate),
			DurationMonths:         p.DurationMonths,
			RelativeStrike:         p.RelativeStrike,
			InitialShares:          p.InitialShares,
			ExpirationIndex:        p.ExpirationIndex,
			StrikeBand:             p.StrikeBand,
			CalendarPaddingMonths:  p.CalendarPaddingMonths,
			LotSize:                p.LotSize,
			ExpirationWindowMonths: p.ExpirationWindowMonths,
			BarWindowMonths:        6,
		},
	}
}

// Path returns the configuration file path, honouring COVERCALL_CONFIG.
func Path() string {
	if v := os.Getenv("COVERCALL_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads the YAML configuration file at the given path over the
// defaults, and then applies environment variable overrides. A missing file
// is not an error when path is the default location.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case os.IsNotExist(err) && path == DefaultPath:
	default:
		return nil, err
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

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}
	if v := os.Getenv("ALPACA_FEED"); v != "" {
		cfg.Alpaca.Feed = v
	}

	// Standard Alpaca env vars take priority over the ALPACA_* aliases.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("POLYGON_API_KEYS"); v != "" {
		cfg.Polygon.APIKeys = splitKeys(v)
	}
	if v := os.Getenv("POLYGON_RATE_LIMIT_PER_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Polygon.RateLimitPerMin = n
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func splitKeys(s string) []string {
	var keys []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
