package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	t.Parallel()

	yaml := `
server:
  addr: ":9090"
  read_timeout: 10s
database:
  dsn: ":memory:"
connectors:
  - id: slack
    name: Slack
    version: 1.0.0
    base_url: https://slack.com/api
    auth_type: oauth2
keys:
  - name: test-key
    key: crt_testkey
    org_id: default
    role: admin
`
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr = %q, want %q", cfg.Server.Addr, ":9090")
	}
	if cfg.Database.DSN != ":memory:" {
		t.Errorf("dsn = %q, want %q", cfg.Database.DSN, ":memory:")
	}
	if len(cfg.Connectors) != 1 {
		t.Fatalf("connectors count = %d, want 1", len(cfg.Connectors))
	}
	if cfg.Connectors[0].Name != "Slack" {
		t.Errorf("connector name = %q, want %q", cfg.Connectors[0].Name, "Slack")
	}
	if len(cfg.Keys) != 1 {
		t.Fatalf("keys count = %d, want 1", len(cfg.Keys))
	}
}

func TestExpandEnv(t *testing.T) {
	// Cannot use t.Parallel() with t.Setenv
	t.Setenv("TEST_API_KEY", "sk-secret-123")

	yaml := `auth:
  admin_key: ${TEST_API_KEY}`
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Auth.AdminKey != "sk-secret-123" {
		t.Errorf("admin_key = %q, want expanded value", cfg.Auth.AdminKey)
	}

	result := expandEnv([]byte("key: ${TEST_API_KEY}"))
	if string(result) != "key: sk-secret-123" {
		t.Errorf("expandEnv = %q, want %q", string(result), "key: sk-secret-123")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	yaml := `{}`
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("default addr = %q, want %q", cfg.Server.Addr, ":8080")
	}
	if cfg.Database.DSN != "connectorrt.db" {
		t.Errorf("default dsn = %q, want %q", cfg.Database.DSN, "connectorrt.db")
	}
	if cfg.Budget.DailyLimitUSD != 100 {
		t.Errorf("default daily budget = %v, want 100", cfg.Budget.DailyLimitUSD)
	}
}
