package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoader_LoadValidConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "splitgate.yaml")

	yamlContent := `
server:
  port: 8080
  log_level: debug
  cors: true

experiments:
  source_url: https://config.example.com/experiments.json
  fetch_timeout: 3s
  cache_ttl: 30s

storage:
  driver: sqlite
  path: ./test.db
  retention: 168h

cookies:
  ttl: 4380h
  secure: true

analytics:
  log: true
  webhook:
    url: https://analytics.example.com/ingest
    secret: shh
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatal(err)
	}

	l := NewLoader()
	if err := l.Load(configPath); err != nil {
		t.Fatalf("Load: %v", err)
	}

	cfg := l.Get()
	if cfg.Server.Port != 8080 || cfg.Server.LogLevel != "debug" || !cfg.Server.CORS {
		t.Errorf("server config not applied: %+v", cfg.Server)
	}
	if cfg.Experiments.SourceURL != "https://config.example.com/experiments.json" {
		t.Errorf("source url: %q", cfg.Experiments.SourceURL)
	}
	if cfg.Experiments.CacheTTL != 30*time.Second {
		t.Errorf("cache ttl: %v", cfg.Experiments.CacheTTL)
	}
	if !cfg.Cookies.Secure || cfg.Cookies.TTL != 4380*time.Hour {
		t.Errorf("cookies config not applied: %+v", cfg.Cookies)
	}
	if cfg.Analytics.Webhook.URL == "" || cfg.Analytics.Webhook.Secret != "shh" {
		t.Errorf("analytics config not applied: %+v", cfg.Analytics)
	}
}

func TestLoader_DefaultConfig(t *testing.T) {
	l := NewLoader()
	cfg := l.Get()

	if cfg.Server.Port != 7340 {
		t.Errorf("default port: %d", cfg.Server.Port)
	}
	if cfg.Experiments.CacheTTL != 60*time.Second {
		t.Errorf("default cache ttl: %v", cfg.Experiments.CacheTTL)
	}
	if cfg.Cookies.TTL != 365*24*time.Hour {
		t.Errorf("default cookie ttl: %v", cfg.Cookies.TTL)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("default storage driver: %s", cfg.Storage.Driver)
	}
}

func TestLoader_PartialConfigKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "splitgate.yaml")
	if err := os.WriteFile(configPath, []byte("server:\n  port: 9000\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	l := NewLoader()
	if err := l.Load(configPath); err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg := l.Get()
	if cfg.Server.Port != 9000 {
		t.Errorf("override not applied: %d", cfg.Server.Port)
	}
	if cfg.Experiments.CacheTTL != 60*time.Second {
		t.Errorf("default lost on partial load: %v", cfg.Experiments.CacheTTL)
	}
}

func TestLoader_LoadNonExistentFile(t *testing.T) {
	l := NewLoader()
	if err := l.Load("/nonexistent/splitgate.yaml"); err == nil {
		t.Fatal("expected error loading nonexistent file")
	}
}

func TestLoader_LoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "splitgate.yaml")
	if err := os.WriteFile(configPath, []byte("server: ["), 0o644); err != nil {
		t.Fatal(err)
	}

	l := NewLoader()
	if err := l.Load(configPath); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoader_Reload(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "splitgate.yaml")
	if err := os.WriteFile(configPath, []byte("server:\n  port: 9000\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	l := NewLoader()
	if err := l.Load(configPath); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := os.WriteFile(configPath, []byte("server:\n  port: 9100\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := l.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := l.Get().Server.Port; got != 9100 {
		t.Errorf("reload not applied: %d", got)
	}
}

func TestLoader_ReloadWithoutLoad(t *testing.T) {
	l := NewLoader()
	if err := l.Reload(); err == nil {
		t.Fatal("Reload before Load must fail")
	}
}
