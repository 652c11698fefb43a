package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", `
server:
  addr: "127.0.0.1:9090"
logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ""
accounts:
  path: "./accounts.db"
dispatch:
  dedup_max_entries: 500
  dedup_ttl: "5m"
  webhook_retry_max: 10
`)

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:9090" {
		t.Fatalf("Server.Addr = %q", cfg.Server.Addr)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("Logging.Level = %q", cfg.Logging.Level)
	}
	if cfg.Dispatch.DedupMaxEntries != 500 || cfg.Dispatch.DedupTTL != "5m" {
		t.Fatalf("unexpected dispatch config: %+v", cfg.Dispatch)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get should return committed config")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{"logging":{"level":"info","console":true,"file":{"enabled":false,"path":""}},"no_such_key":1}`)

	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected error for unknown top-level key")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{name: "empty", raw: "", want: 0},
		{name: "seconds", raw: "10s", want: 10 * time.Second},
		{name: "millis", raw: "250ms", want: 250 * time.Millisecond},
		{name: "negative", raw: "-1s", wantErr: true},
		{name: "garbage", raw: "soon", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDurationField("test.field", tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseDurationField(%q): expected error", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDurationField(%q): %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("ParseDurationField(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	got, err := ParseDurationOrDefault("test.field", "", 5*time.Second)
	if err != nil || got != 5*time.Second {
		t.Fatalf("got %v, %v; want 5s, nil", got, err)
	}
	got, err = ParseDurationOrDefault("test.field", "2s", 5*time.Second)
	if err != nil || got != 2*time.Second {
		t.Fatalf("got %v, %v; want 2s, nil", got, err)
	}
}
