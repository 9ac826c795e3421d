package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"TASKBOARD_CONFIG", "HTTP_ADDR", "SECRET_KEY", "SCHEDULER_TOKEN", "ALLOWED_ORIGINS",
		"ACCESS_TOKEN_TTL", "REFRESH_TOKEN_TTL", "WS_PING_INTERVAL", "WS_PONG_WAIT",
		"WS_SEND_TIMEOUT", "WS_SEND_BUFFER",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadRequiresSecret(t *testing.T) {
	clearEnv(t)
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "SECRET_KEY") {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("SECRET_KEY", "env-secret")
	t.Setenv("HTTP_ADDR", ":9000")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("ACCESS_TOKEN_TTL", "15m")
	t.Setenv("WS_SEND_BUFFER", "64")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SecretKey != "env-secret" || cfg.Addr != ":9000" || cfg.AccessTTL != 15*time.Minute {
		t.Errorf("cfg = %+v", cfg)
	}
	if want := []string{"https://a.example", "https://b.example"}; !reflect.DeepEqual(cfg.AllowedOrigins, want) {
		t.Errorf("origins = %v", cfg.AllowedOrigins)
	}
	if cfg.Realtime.SendBuffer != 64 || cfg.Realtime.PingInterval != Default().Realtime.PingInterval {
		t.Errorf("realtime = %+v", cfg.Realtime)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "taskboard.yaml")
	yaml := `
addr: "127.0.0.1:7000"
secret_key: file-secret
scheduler_token: tick
allowed_origins: ["https://app.example"]
realtime:
  ping_interval: 10s
  pong_wait: 30s
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TASKBOARD_CONFIG", path)
	t.Setenv("HTTP_ADDR", ":8080")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Addr != ":8080" {
		t.Errorf("env should override file, addr = %q", cfg.Addr)
	}
	if cfg.SecretKey != "file-secret" || cfg.SchedulerToken != "tick" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Realtime.PingInterval != 10*time.Second || cfg.Realtime.PongWait != 30*time.Second {
		t.Errorf("realtime = %+v", cfg.Realtime)
	}
	if cfg.Realtime.SendTimeout != Default().Realtime.SendTimeout {
		t.Errorf("unset file key lost its default: %v", cfg.Realtime.SendTimeout)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad duration", map[string]string{"SECRET_KEY": "k", "ACCESS_TOKEN_TTL": "soon"}},
		{"bad buffer", map[string]string{"SECRET_KEY": "k", "WS_SEND_BUFFER": "many"}},
		{"pong before ping", map[string]string{"SECRET_KEY": "k", "WS_PING_INTERVAL": "1m", "WS_PONG_WAIT": "30s"}},
		{"zero buffer", map[string]string{"SECRET_KEY": "k", "WS_SEND_BUFFER": "0"}},
		{"missing file", map[string]string{"SECRET_KEY": "k", "TASKBOARD_CONFIG": "/nonexistent/taskboard.yaml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(""); err == nil {
				t.Error("expected error")
			}
		})
	}
}
