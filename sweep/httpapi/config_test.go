package httpapi

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadServerConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.yaml")
	content := `
addr: ":9090"
sharedSecret: "from-file"
databaseDsn: "./opt.db"
rateLimit:
  enabled: true
  requests: 10
  window: 30s
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("LoadServerConfig: %v", err)
	}
	if cfg.Addr != ":9090" || cfg.SharedSecret != "from-file" || cfg.DatabaseDSN != "./opt.db" {
		t.Errorf("cfg = %+v", cfg)
	}
	if !cfg.RateLimit.Enabled || cfg.RateLimit.Requests != 10 || cfg.RateLimit.Window != 30*time.Second {
		t.Errorf("rateLimit = %+v", cfg.RateLimit)
	}
}

func TestLoadServerConfigEnvOverrides(t *testing.T) {
	t.Setenv("OPTIMIZATION_ORCHESTRATOR_SECRET", "from-env")
	t.Setenv("OPTIMIZATION_DB_DSN", "env.db")

	cfg, err := LoadServerConfig("")
	if err != nil {
		t.Fatalf("LoadServerConfig: %v", err)
	}
	if cfg.SharedSecret != "from-env" || cfg.DatabaseDSN != "env.db" {
		t.Errorf("cfg = %+v, want env overrides applied", cfg)
	}
	if cfg.Addr != ":8080" || cfg.RateLimit.Requests != 60 || cfg.RateLimit.Window != time.Minute {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestLoadServerConfigMissingFile(t *testing.T) {
	if _, err := LoadServerConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
