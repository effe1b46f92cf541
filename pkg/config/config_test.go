package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/meshwatch/meshwatch/pkg/config"
	"github.com/meshwatch/meshwatch/pkg/meshproto"
)

const minimal = `
brokers:
  - name: main
    address: tcp://mqtt.example.net:1883
`

func TestParseDefaults(t *testing.T) {
	cfg, err := config.Parse([]byte(minimal))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := time.Duration(cfg.DedupWindow); got != 3*time.Second {
		t.Errorf("DedupWindow = %v, want 3s", got)
	}
	if got := time.Duration(cfg.GroupWindow); got != 8*time.Second {
		t.Errorf("GroupWindow = %v, want 8s", got)
	}
	if got := time.Duration(cfg.ProcessedClear); got != 10*time.Minute {
		t.Errorf("ProcessedClear = %v, want 10m", got)
	}
	if cfg.MaxPortnumMessages != 200 {
		t.Errorf("MaxPortnumMessages = %d, want 200", cfg.MaxPortnumMessages)
	}
	if cfg.MaxPacketBytes != 512*1024 {
		t.Errorf("MaxPacketBytes = %d, want 524288", cfg.MaxPacketBytes)
	}
	if cfg.Workers != 10 {
		t.Errorf("Workers = %d, want 10", cfg.Workers)
	}
	if len(cfg.Keys) != 2 || cfg.Keys[0] != meshproto.DefaultPSKBase64 || cfg.Keys[1] != "AQ==" {
		t.Errorf("Keys = %v", cfg.Keys)
	}
	if cfg.DefaultChannel != "Main" {
		t.Errorf("DefaultChannel = %q", cfg.DefaultChannel)
	}
}

func TestParseFull(t *testing.T) {
	cfg, err := config.Parse([]byte(`
brokers:
  - name: main
    address: tcp://mqtt.example.net:1883
    username: meshdev
    password: large4cats
    forwardToChat: true
  - name: backup
    address: tcp://mqtt2.example.net:1883
redis:
  address: localhost:6379
  db: 2
keys:
  - AQ==
dedupWindow: 5s
groupWindow: 12s
workers: 4
adminSecret: hunter2
allowedPrefixes: ["msh/msk/"]
telegram:
  token: bot123
  chats:
    Main: -100200300
httpListen: ":9090"
logLevel: debug
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cfg.Brokers) != 2 {
		t.Fatalf("brokers = %d, want 2", len(cfg.Brokers))
	}
	if !cfg.Brokers[0].ForwardToChat || cfg.Brokers[1].ForwardToChat {
		t.Errorf("ForwardToChat = %v/%v, want true/false",
			cfg.Brokers[0].ForwardToChat, cfg.Brokers[1].ForwardToChat)
	}
	if got := time.Duration(cfg.DedupWindow); got != 5*time.Second {
		t.Errorf("DedupWindow = %v, want 5s", got)
	}
	if got := time.Duration(cfg.GroupWindow); got != 12*time.Second {
		t.Errorf("GroupWindow = %v, want 12s", got)
	}
	if len(cfg.Keys) != 1 || cfg.Keys[0] != "AQ==" {
		t.Errorf("Keys = %v, want the file to replace the defaults", cfg.Keys)
	}
	if cfg.Telegram.Chats["Main"] != -100200300 {
		t.Errorf("Chats = %v", cfg.Telegram.Chats)
	}
	if cfg.Redis.DB != 2 {
		t.Errorf("Redis.DB = %d, want 2", cfg.Redis.DB)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no brokers", "workers: 2", "broker"},
		{"unnamed broker", "brokers:\n  - address: tcp://x:1883", "name"},
		{"no address", "brokers:\n  - name: main", "address"},
		{"duplicate name", "brokers:\n  - {name: a, address: tcp://x:1}\n  - {name: a, address: tcp://y:1}", "duplicate"},
		{"bad key", minimal + "keys: [\"not base64!!\"]", ""},
		{"zero workers", minimal + "workers: -1", "workers"},
		{"bad level", minimal + "logLevel: verbose", "log level"},
		{"zero dedup", minimal + "dedupWindow: 0s", "dedupWindow"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Parse succeeded, want error")
			}
			if tt.want != "" && !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meshwatch.yaml")
	if err := os.WriteFile(path, []byte(minimal), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Brokers[0].Name != "main" {
		t.Errorf("broker = %q", cfg.Brokers[0].Name)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load of a missing file must fail")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(config.EnvTelegramToken, "bot-env")
	t.Setenv(config.EnvAdminSecret, "secret-env")
	cfg, err := config.Parse([]byte(minimal + "adminSecret: file\ntelegram:\n  token: bot-file\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.Token != "bot-env" {
		t.Errorf("Token = %q, want env to win", cfg.Telegram.Token)
	}
	if cfg.AdminSecret != "secret-env" {
		t.Errorf("AdminSecret = %q, want env to win", cfg.AdminSecret)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"", slog.LevelInfo},
		{"Info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := config.ParseLevel(tt.in)
		if err != nil {
			t.Errorf("ParseLevel(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if _, err := config.ParseLevel("loud"); err == nil {
		t.Error("ParseLevel(loud) must fail")
	}
}
