package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeConfig writes content to a temp YAML file and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "markethours.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

// clearEnv unsets every override for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DATA_DIR", "MARKETHOURS_SQLITE_PATH", "MARKETHOURS_HOST", "MARKETHOURS_HTTP_PORT",
		"MARKETHOURS_GRPC_PORT", "MARKETHOURS_ALLOW_AIRDROP", "MARKETHOURS_PROGRAM_ID",
		"MARKETHOURS_IDENTITY", "MARKETHOURS_TARGET", "MARKETHOURS_CONFIG",
		"ALPACA_API_KEY", "ALPACA_API_SECRET", "ALPACA_BASE_URL",
		"APCA_API_KEY_ID", "APCA_API_SECRET_KEY", "LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
storage:
  data_dir: "/tmp/markethours/data"
  sqlite_path: "/tmp/markethours/ledger.db"
server:
  host: "0.0.0.0"
  port: 8088
  grpc_port: 9099
  allow_airdrop: true
  airdrop_per_minute: 3
program:
  program_id: "11111111111111111111111111111111"
cranker:
  identity: "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
  target: "oracle:9099"
  schedules: ["30 14 * * 1-5"]
  max_attempts: 3
  retry_delay: 500ms
  timeout: 3s
  check_drift: true
alpaca:
  api_key: "test-key"
  api_secret: "test-secret"
logging:
  level: "debug"
  format: "text"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// -- Storage --
	if cfg.Storage.DataDir != "/tmp/markethours/data" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Storage.SQLitePath != "/tmp/markethours/ledger.db" {
		t.Errorf("Storage.SQLitePath = %q", cfg.Storage.SQLitePath)
	}

	// -- Server --
	if got := cfg.HTTPAddr(); got != "0.0.0.0:8088" {
		t.Errorf("HTTPAddr() = %q, want %q", got, "0.0.0.0:8088")
	}
	if got := cfg.GRPCAddr(); got != "0.0.0.0:9099" {
		t.Errorf("GRPCAddr() = %q, want %q", got, "0.0.0.0:9099")
	}
	if !cfg.Server.AllowAirdrop || cfg.Server.AirdropPerMinute != 3 {
		t.Errorf("Server airdrop = %v/%d", cfg.Server.AllowAirdrop, cfg.Server.AirdropPerMinute)
	}

	// -- Cranker --
	if cfg.Cranker.Target != "oracle:9099" {
		t.Errorf("Cranker.Target = %q", cfg.Cranker.Target)
	}
	if len(cfg.Cranker.Schedules) != 1 || cfg.Cranker.Schedules[0] != "30 14 * * 1-5" {
		t.Errorf("Cranker.Schedules = %v", cfg.Cranker.Schedules)
	}
	if cfg.Cranker.RetryDelay != 500*time.Millisecond {
		t.Errorf("Cranker.RetryDelay = %v", cfg.Cranker.RetryDelay)
	}
	if cfg.Cranker.Timeout != 3*time.Second {
		t.Errorf("Cranker.Timeout = %v", cfg.Cranker.Timeout)
	}
	if !cfg.Cranker.CheckDrift {
		t.Error("Cranker.CheckDrift = false, want true")
	}

	// -- Alpaca --
	if cfg.Alpaca.APIKey != "test-key" {
		t.Errorf("Alpaca.APIKey = %q", cfg.Alpaca.APIKey)
	}
	if cfg.Alpaca.BaseURL != "https://paper-api.alpaca.markets" {
		t.Errorf("Alpaca.BaseURL = %q, want default", cfg.Alpaca.BaseURL)
	}

	// -- Logging --
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
alpaca:
  api_key: "yaml-key"
  api_secret: "yaml-secret"
storage:
  data_dir: "/original/data"
server:
  port: 8080
`)

	t.Setenv("ALPACA_API_KEY", "env-key")
	t.Setenv("DATA_DIR", "/env/data")
	t.Setenv("MARKETHOURS_HTTP_PORT", "18080")
	t.Setenv("MARKETHOURS_ALLOW_AIRDROP", "true")
	t.Setenv("APCA_API_SECRET_KEY", "apca-secret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Alpaca.APIKey != "env-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q (env override)", cfg.Alpaca.APIKey, "env-key")
	}
	if cfg.Alpaca.APISecret != "apca-secret" {
		t.Errorf("Alpaca.APISecret = %q, want %q (APCA override)", cfg.Alpaca.APISecret, "apca-secret")
	}
	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("Storage.DataDir = %q, want %q (env override)", cfg.Storage.DataDir, "/env/data")
	}
	if cfg.Server.Port != 18080 {
		t.Errorf("Server.Port = %d, want 18080", cfg.Server.Port)
	}
	if !cfg.Server.AllowAirdrop {
		t.Error("Server.AllowAirdrop = false, want true")
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	// No file at the default path: defaults.
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() returned error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want default", cfg.Server.Port)
	}

	// An explicit path must exist.
	t.Setenv("MARKETHOURS_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := LoadFromEnv(); err == nil {
		t.Error("expected error for missing explicit config")
	}

	// .env in the working directory is honoured.
	os.Unsetenv("MARKETHOURS_CONFIG")
	if err := os.WriteFile(".env", []byte("LOG_LEVEL=warn\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() returned error: %v", err)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn from .env", cfg.Logging.Level)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	cfg.Storage.SQLitePath = ""
	cfg.Cranker.MaxAttempts = 0
	cfg.Server.Port = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}
