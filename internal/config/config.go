package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file binaries read when MARKETHOURS_CONFIG is unset.
const DefaultPath = "config/markethours.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the market-hours oracle.
type Config struct {
	Storage Storage `yaml:"storage"`
	Server  Server  `yaml:"server"`
	Program Program `yaml:"program"`
	Cranker Cranker `yaml:"cranker"`
	Alpaca  Alpaca  `yaml:"alpaca"`
	Logging Logging `yaml:"logging"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`    // parquet receipt archive root
	SQLitePath string `yaml:"sqlite_path"` // ledger
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`

	// AllowAirdrop enables the funding endpoint. Off in production.
	AllowAirdrop     bool `yaml:"allow_airdrop"`
	AirdropPerMinute int  `yaml:"airdrop_per_minute"`
}

// Program identifies the deployed oracle.
type Program struct {
	ProgramID string `yaml:"program_id"`
	// ClockSource selects the trusted clock: "system" or "alpaca".
	ClockSource string `yaml:"clock_source"`
}

// Cranker configures the scheduled crank bot.
type Cranker struct {
	// Identity is the address that signs cranks and receives rewards.
	Identity string `yaml:"identity"`
	// Target is the gRPC address of the oracle server.
	Target      string        `yaml:"target"`
	Schedules   []string      `yaml:"schedules"` // cron specs, UTC
	MaxAttempts int           `yaml:"max_attempts"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	Timeout     time.Duration `yaml:"timeout"`
	// CheckDrift compares the oracle's clock view with the Alpaca market
	// clock before each crank.
	CheckDrift bool `yaml:"check_drift"`
}

// Alpaca holds credentials and endpoints for the Alpaca trading API, used as
// a reference market clock.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// HTTPAddr is the REST listen address.
func (c *Config) HTTPAddr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// GRPCAddr is the gRPC listen address.
func (c *Config) GRPCAddr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.GRPCPort))
}

// Default returns a configuration usable without a file.
func Default() *Config {
	return &Config{
		Storage: Storage{
			DataDir:    "data",
			SQLitePath: "data/markethours.db",
		},
		Server: Server{
			Host:             "127.0.0.1",
			Port:             8080,
			GRPCPort:         9090,
			AirdropPerMinute: 10,
		},
		Program: Program{
			ProgramID:   "32RNH2JPGUCGdYp5TetkT1Y2CHwAUk2XzXn6VCFqvb7F",
			ClockSource: "system",
		},
		Cranker: Cranker{
			Target: "127.0.0.1:9090",
			Schedules: []string{
				"31 14 * * 1-5", // just after the open
				"1 21 * * 1-5",  // just after the close
			},
			MaxAttempts: 5,
			RetryDelay:  2 * time.Second,
			Timeout:     10 * time.Second,
		},
		Alpaca: Alpaca{
			BaseURL: "https://paper-api.alpaca.markets",
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate reports configuration that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if c.Storage.SQLitePath == "" {
		errs = append(errs, errors.New("storage.sqlite_path is required"))
	}
	if c.Program.ProgramID == "" {
		errs = append(errs, errors.New("program.program_id is required"))
	}
	switch c.Program.ClockSource {
	case "", "system", "alpaca":
	default:
		errs = append(errs, fmt.Errorf("program.clock_source %q must be system or alpaca", c.Program.ClockSource))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		errs = append(errs, fmt.Errorf("server.grpc_port %d out of range", c.Server.GRPCPort))
	}
	if c.Cranker.MaxAttempts < 1 {
		errs = append(errs, errors.New("cranker.max_attempts must be at least 1"))
	}
	return errors.Join(errs...)
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path over the defaults,
// and then applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// LoadFromEnv loads a .env file if present, then the config file named by
// MARKETHOURS_CONFIG. A missing file at the default path falls back to the
// defaults; a missing file that was asked for explicitly is an error.
func LoadFromEnv() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	path := DefaultPath
	explicit := false
	if p := os.Getenv("MARKETHOURS_CONFIG"); p != "" {
		path, explicit = p, true
	}

	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) && !explicit {
		cfg = Default()
		applyEnvOverrides(cfg)
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("MARKETHOURS_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("MARKETHOURS_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if n, ok := envInt("MARKETHOURS_HTTP_PORT"); ok {
		cfg.Server.Port = n
	}
	if n, ok := envInt("MARKETHOURS_GRPC_PORT"); ok {
		cfg.Server.GRPCPort = n
	}
	if v := os.Getenv("MARKETHOURS_ALLOW_AIRDROP"); v != "" {
		cfg.Server.AllowAirdrop, _ = strconv.ParseBool(v)
	}

	if v := os.Getenv("MARKETHOURS_PROGRAM_ID"); v != "" {
		cfg.Program.ProgramID = v
	}

	if v := os.Getenv("MARKETHOURS_IDENTITY"); v != "" {
		cfg.Cranker.Identity = v
	}
	if v := os.Getenv("MARKETHOURS_TARGET"); v != "" {
		cfg.Cranker.Target = v
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

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Standard Alpaca env vars (highest priority, canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
