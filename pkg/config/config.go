// Package config loads the meshwatch YAML configuration.
//
// Precedence is flags over file over defaults; the file and defaults
// live here, flag overrides are applied by the serve command. A few
// secrets can also come from the environment so the file can stay
// checked in.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/meshwatch/meshwatch/pkg/jsontime"
	"github.com/meshwatch/meshwatch/pkg/meshproto"
)

// Environment variables consulted after the file is parsed. Each one
// overrides its file counterpart when non-empty.
const (
	EnvTelegramToken = "MESHWATCH_TELEGRAM_TOKEN"
	EnvRedisPassword = "MESHWATCH_REDIS_PASSWORD"
	EnvAdminSecret   = "MESHWATCH_ADMIN_SECRET"
)

// Broker is one upstream MQTT broker.
type Broker struct {
	Name     string `yaml:"name"`
	Address  string `yaml:"address"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// ForwardToChat enables chat notifications for broadcasts heard
	// on this broker.
	ForwardToChat bool `yaml:"forwardToChat"`
}

// Redis points at the primary store. Leave Address empty to run on
// the embedded Badger store instead.
type Redis struct {
	Address  string `yaml:"address"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Telegram configures the chat notifier. Chats maps channel names to
// Telegram chat ids.
type Telegram struct {
	Token string           `yaml:"token"`
	Chats map[string]int64 `yaml:"chats"`
}

// Config is the full service configuration.
type Config struct {
	Brokers []Broker `yaml:"brokers"`

	Redis     Redis  `yaml:"redis"`
	BadgerDir string `yaml:"badgerDir"`

	// Keys are base64 AES channel keys tried against encrypted packets.
	Keys []string `yaml:"keys"`

	MaxPortnumMessages int `yaml:"maxPortnumMessages"`
	MaxPacketBytes     int `yaml:"maxPacketBytes"`

	DedupWindow    jsontime.Duration `yaml:"dedupWindow"`
	GroupWindow    jsontime.Duration `yaml:"groupWindow"`
	ProcessedClear jsontime.Duration `yaml:"processedClear"`

	Workers int `yaml:"workers"`

	// AdminSecret authorizes destructive API calls. Empty disables them.
	AdminSecret string `yaml:"adminSecret"`

	// AllowedPrefixes are the topic roots notifications may come from.
	AllowedPrefixes []string `yaml:"allowedPrefixes"`

	// ChannelByPrefix routes notifications by topic root;
	// DefaultChannel catches the rest.
	ChannelByPrefix map[string]string `yaml:"channelByPrefix"`
	DefaultChannel  string            `yaml:"defaultChannel"`

	Telegram Telegram `yaml:"telegram"`

	HTTPListen string `yaml:"httpListen"`
	LogLevel   string `yaml:"logLevel"`
}

// Default returns the configuration used when the file leaves a field
// unset.
func Default() *Config {
	return &Config{
		Keys:               []string{meshproto.DefaultPSKBase64, "AQ=="},
		MaxPortnumMessages: 200,
		MaxPacketBytes:     512 * 1024,
		DedupWindow:        jsontime.Duration(3 * time.Second),
		GroupWindow:        jsontime.Duration(8 * time.Second),
		ProcessedClear:     jsontime.Duration(10 * time.Minute),
		Workers:            10,
		AllowedPrefixes:    []string{"msh/msk/", "msh/kgd/", "msh/ufa/"},
		ChannelByPrefix: map[string]string{
			"msh/kgd/": "Kaliningrad",
			"msh/ufa/": "Ufa",
		},
		DefaultChannel: "Main",
		HTTPListen:     ":8080",
		LogLevel:       "info",
	}
}

// Load reads and validates a configuration file. Defaults fill the
// gaps, the environment overrides secrets.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.UnmarshalWithOptions(data, cfg, yaml.UseJSONUnmarshaler()); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvTelegramToken); v != "" {
		c.Telegram.Token = v
	}
	if v := os.Getenv(EnvRedisPassword); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv(EnvAdminSecret); v != "" {
		c.AdminSecret = v
	}
}

func (c *Config) validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("config: at least one broker is required")
	}
	seen := make(map[string]bool, len(c.Brokers))
	for i, b := range c.Brokers {
		if b.Name == "" {
			return fmt.Errorf("config: brokers[%d]: name is required", i)
		}
		if b.Address == "" {
			return fmt.Errorf("config: broker %q: address is required", b.Name)
		}
		if seen[b.Name] {
			return fmt.Errorf("config: duplicate broker name %q", b.Name)
		}
		seen[b.Name] = true
	}
	if _, err := meshproto.NewKeyRing(c.Keys...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.MaxPortnumMessages <= 0 {
		return fmt.Errorf("config: maxPortnumMessages must be positive")
	}
	if c.MaxPacketBytes < meshproto.MinFrameBytes {
		return fmt.Errorf("config: maxPacketBytes below the minimum frame size")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("config: workers must be positive")
	}
	if time.Duration(c.DedupWindow) <= 0 {
		return fmt.Errorf("config: dedupWindow must be positive")
	}
	if time.Duration(c.GroupWindow) <= 0 {
		return fmt.Errorf("config: groupWindow must be positive")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a config log level string to slog.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("config: unknown log level %q", s)
	}
}
