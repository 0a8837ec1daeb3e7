// Package config loads agent settings from the environment. Flags parsed
// by the main package take precedence over the values loaded here.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment variable prefix for every setting.
const EnvPrefix = "RFID_AGENT_"

// Defaults
const (
	DefaultPort              = 18080
	DefaultBaudRate          = 115200
	DefaultPollInterval      = 2 * time.Second
	DefaultInventoryInterval = 100 * time.Millisecond
	DefaultCommandTimeout    = 10 * time.Second
	DefaultRedisKey          = "rfid"
	DefaultEnvFile           = ".env"
)

type Config struct {
	Port      int
	APISecret string
	MDNS      bool
	TLS       bool
	ConfigDir string

	BaudRate          int
	PollInterval      time.Duration
	InventoryInterval time.Duration
	CommandTimeout    time.Duration

	Bluetooth bool
	// RFCOMM maps Bluetooth MAC addresses to bound serial devices.
	RFCOMM map[string]string

	RedisAddr     string
	RedisPassword string
	RedisKey      string
}

// Load returns the defaults merged with RFID_AGENT_* environment variables.
func Load() (Config, error) {
	cfg := Config{
		Port:              EnvInt(EnvPrefix+"PORT", DefaultPort),
		APISecret:         strings.TrimSpace(os.Getenv(EnvPrefix + "API_SECRET")),
		MDNS:              EnvBool(EnvPrefix+"MDNS", true),
		TLS:               EnvBool(EnvPrefix+"TLS", false),
		ConfigDir:         EnvOr(EnvPrefix+"CONFIG_DIR", ""),
		BaudRate:          EnvInt(EnvPrefix+"BAUD", DefaultBaudRate),
		PollInterval:      EnvDuration(EnvPrefix+"POLL_INTERVAL", DefaultPollInterval),
		InventoryInterval: EnvDuration(EnvPrefix+"INVENTORY_INTERVAL", DefaultInventoryInterval),
		CommandTimeout:    EnvDuration(EnvPrefix+"COMMAND_TIMEOUT", DefaultCommandTimeout),
		Bluetooth:         EnvBool(EnvPrefix+"BLUETOOTH", false),
		RFCOMM:            map[string]string{},
		RedisAddr:         strings.TrimSpace(os.Getenv(EnvPrefix + "REDIS_ADDR")),
		RedisPassword:     os.Getenv(EnvPrefix + "REDIS_PASSWORD"),
		RedisKey:          EnvOr(EnvPrefix+"REDIS_KEY", DefaultRedisKey),
	}

	if raw := strings.TrimSpace(os.Getenv(EnvPrefix + "RFCOMM")); raw != "" {
		for _, binding := range strings.Split(raw, ",") {
			if err := cfg.AddRFCOMM(binding); err != nil {
				return Config{}, err
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and clamps intervals that would hammer the reader.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.BaudRate <= 0 {
		return fmt.Errorf("baud rate %d must be positive", c.BaudRate)
	}
	if c.PollInterval < 500*time.Millisecond {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.InventoryInterval < 10*time.Millisecond {
		c.InventoryInterval = DefaultInventoryInterval
	}
	if c.CommandTimeout < time.Second {
		c.CommandTimeout = time.Second
	}
	if c.RedisKey == "" {
		c.RedisKey = DefaultRedisKey
	}
	return nil
}

// AddRFCOMM parses a "MAC=/dev/rfcommN" binding.
func (c *Config) AddRFCOMM(binding string) error {
	mac, dev, ok := strings.Cut(strings.TrimSpace(binding), "=")
	mac = strings.ToUpper(strings.TrimSpace(mac))
	dev = strings.TrimSpace(dev)
	if !ok || mac == "" || dev == "" {
		return fmt.Errorf("invalid rfcomm binding %q, want MAC=/dev/rfcommN", binding)
	}
	if c.RFCOMM == nil {
		c.RFCOMM = map[string]string{}
	}
	c.RFCOMM[mac] = dev
	return nil
}

// EnvOr returns the trimmed value of key, or fallback when unset or blank.
func EnvOr(key, fallback string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	return val
}

// EnvInt returns key parsed as an integer, or fallback.
func EnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

// EnvBool returns key parsed as a boolean, or fallback.
func EnvBool(key string, fallback bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// EnvDuration returns key parsed with time.ParseDuration, or fallback. A
// bare integer is read as milliseconds.
func EnvDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
