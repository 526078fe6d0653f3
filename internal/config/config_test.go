package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	vars := []string{
		"PORT", "BIND", "REPO_ROOT", "DB_PATH", "RATE_LIMIT_RPM",
		"LOG_LEVEL", "STRICT_MODE", "AUTH_ENABLED", "API_KEYS",
	}
	for _, v := range vars {
		old, had := os.LookupEnv(v)
		os.Unsetenv(v)
		if had {
			t.Cleanup(func() { os.Setenv(v, old) })
		}
	}
}

func TestLoadDefaultsWithNoEnvOrFile(t *testing.T) {
	clearEnv(t)
	c, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	def := Default()
	if !reflect.DeepEqual(c, def) {
		t.Fatalf("expected defaults, got %+v", c)
	}
}

func TestLoadLayersEnvOverDefaults(t *testing.T) {
	clearEnv(t)
	os.Setenv("PORT", "9090")
	os.Setenv("STRICT_MODE", "false")
	os.Setenv("API_KEYS", "key-a, key-b")

	c, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Port != 9090 {
		t.Fatalf("expected PORT env to override, got %d", c.Port)
	}
	if c.StrictMode {
		t.Fatalf("expected STRICT_MODE=false to override default true")
	}
	if len(c.APIKeys) != 2 || c.APIKeys[0] != "key-a" || c.APIKeys[1] != "key-b" {
		t.Fatalf("expected trimmed api keys, got %v", c.APIKeys)
	}
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	clearEnv(t)
	os.Setenv("PORT", "not-a-number")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected invalid PORT to error")
	}
}

func TestLoadMissingYamlFileIsNotAnError(t *testing.T) {
	clearEnv(t)
	c, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("expected missing config file to be tolerated, got %v", err)
	}
	if len(c.GateCommandAllowlist) != 0 {
		t.Fatalf("expected no allowlist override, got %v", c.GateCommandAllowlist)
	}
}

func TestLoadYamlOverridesGateAllowlist(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "kernel.yaml")
	if err := os.WriteFile(path, []byte("gateCommandAllowlist:\n  - \"npm \"\n  - \"go \"\n"), 0o644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(c.GateCommandAllowlist) != 2 || c.GateCommandAllowlist[0] != "npm " {
		t.Fatalf("expected allowlist override from yaml, got %v", c.GateCommandAllowlist)
	}
}

func TestLoadRejectsMalformedYaml(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "kernel.yaml")
	if err := os.WriteFile(path, []byte("gateCommandAllowlist: [unterminated"), 0o644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected malformed yaml to error")
	}
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	c := Default()
	c.LogLevel = "verbose"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected unknown log level to be rejected")
	}
}

func TestValidateRejectsOutOfRangePort(t *testing.T) {
	c := Default()
	c.Port = 0
	if err := c.Validate(); err == nil {
		t.Fatalf("expected port 0 to be rejected")
	}
	c.Port = 70000
	if err := c.Validate(); err == nil {
		t.Fatalf("expected out-of-range port to be rejected")
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}
