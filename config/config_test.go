package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != DefaultPort || cfg.BaudRate != DefaultBaudRate {
		t.Errorf("port/baud = %d/%d", cfg.Port, cfg.BaudRate)
	}
	if !cfg.MDNS || cfg.TLS || cfg.Bluetooth {
		t.Errorf("flags = mdns %v tls %v bluetooth %v", cfg.MDNS, cfg.TLS, cfg.Bluetooth)
	}
	if cfg.InventoryInterval != DefaultInventoryInterval || cfg.PollInterval != DefaultPollInterval {
		t.Errorf("intervals = %v/%v", cfg.InventoryInterval, cfg.PollInterval)
	}
	if cfg.RedisAddr != "" || cfg.RedisKey != DefaultRedisKey {
		t.Errorf("redis = %q/%q", cfg.RedisAddr, cfg.RedisKey)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("RFID_AGENT_PORT", "19000")
	t.Setenv("RFID_AGENT_API_SECRET", " s3cret ")
	t.Setenv("RFID_AGENT_MDNS", "off")
	t.Setenv("RFID_AGENT_BLUETOOTH", "yes")
	t.Setenv("RFID_AGENT_POLL_INTERVAL", "5s")
	t.Setenv("RFID_AGENT_INVENTORY_INTERVAL", "250")
	t.Setenv("RFID_AGENT_RFCOMM", "00:11:22:33:44:aa=/dev/rfcomm0, 66:77:88:99:AA:BB=/dev/rfcomm1")
	t.Setenv("RFID_AGENT_REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != 19000 || cfg.APISecret != "s3cret" || cfg.MDNS || !cfg.Bluetooth {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.PollInterval != 5*time.Second || cfg.InventoryInterval != 250*time.Millisecond {
		t.Errorf("intervals = %v/%v", cfg.PollInterval, cfg.InventoryInterval)
	}
	if cfg.RFCOMM["00:11:22:33:44:AA"] != "/dev/rfcomm0" || cfg.RFCOMM["66:77:88:99:AA:BB"] != "/dev/rfcomm1" {
		t.Errorf("rfcomm = %v", cfg.RFCOMM)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("redis addr = %q", cfg.RedisAddr)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"port out of range", "RFID_AGENT_PORT", "70000"},
		{"bad rfcomm binding", "RFID_AGENT_RFCOMM", "00:11:22:33:44:55"},
		{"zero baud", "RFID_AGENT_BAUD", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestValidateClampsIntervals(t *testing.T) {
	cfg := Config{Port: 1, BaudRate: 9600, PollInterval: time.Millisecond, InventoryInterval: time.Millisecond}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if cfg.PollInterval != 500*time.Millisecond || cfg.InventoryInterval != DefaultInventoryInterval || cfg.CommandTimeout != time.Second {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("X_INT", "oops")
	t.Setenv("X_BOOL", "maybe")
	t.Setenv("X_DUR", "soon")
	t.Setenv("X_STR", "  ")

	if EnvInt("X_INT", 7) != 7 {
		t.Error("EnvInt should fall back on parse error")
	}
	if !EnvBool("X_BOOL", true) {
		t.Error("EnvBool should fall back on unknown value")
	}
	if EnvDuration("X_DUR", time.Minute) != time.Minute {
		t.Error("EnvDuration should fall back on parse error")
	}
	if EnvOr("X_STR", "dflt") != "dflt" {
		t.Error("EnvOr should fall back on blank value")
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := `# agent settings
RFID_AGENT_TEST_PORT=19100
export RFID_AGENT_TEST_SECRET="quoted value"
RFID_AGENT_TEST_KEPT=from-file
NOEQUALS
=novalue
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("RFID_AGENT_TEST_KEPT", "from-env")
	// Registered so t.Setenv restores them after the test
	t.Setenv("RFID_AGENT_TEST_PORT", "")
	t.Setenv("RFID_AGENT_TEST_SECRET", "")
	os.Unsetenv("RFID_AGENT_TEST_PORT")
	os.Unsetenv("RFID_AGENT_TEST_SECRET")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv() error: %v", err)
	}

	if got := os.Getenv("RFID_AGENT_TEST_PORT"); got != "19100" {
		t.Errorf("PORT = %q", got)
	}
	if got := os.Getenv("RFID_AGENT_TEST_SECRET"); got != "quoted value" {
		t.Errorf("SECRET = %q", got)
	}
	if got := os.Getenv("RFID_AGENT_TEST_KEPT"); got != "from-env" {
		t.Errorf("existing variable overwritten: %q", got)
	}
}

func TestLoadDotEnvMissingFile(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if err := LoadDotEnv(""); err != nil {
		t.Fatalf("empty path should not error: %v", err)
	}
}
