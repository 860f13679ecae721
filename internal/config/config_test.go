package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
source:
  endpoint: https://catalog.example.com/api/collections
`

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Engine.TTL != DefaultTTL {
		t.Errorf("TTL: got %s, want %s", cfg.Engine.TTL, DefaultTTL)
	}
	if cfg.Engine.FetchTimeout != DefaultFetchTimeout {
		t.Errorf("FetchTimeout: got %s, want %s", cfg.Engine.FetchTimeout, DefaultFetchTimeout)
	}
	if cfg.Engine.MaxConcurrentFetches != 1 {
		t.Errorf("MaxConcurrentFetches: got %d, want 1", cfg.Engine.MaxConcurrentFetches)
	}
	if cfg.Server.HTTPPort != DefaultHTTPPort {
		t.Errorf("HTTPPort: got %d, want %d", cfg.Server.HTTPPort, DefaultHTTPPort)
	}
}

func TestLoad_FullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
engine:
  ttl: 90s
  fetch_timeout: 5s
source:
  endpoint: https://catalog.example.com/api/collections
  auth:
    mode: bearer
    token_env: SHELF_TOKEN
  local_catalog: /var/lib/shelfsync/catalog.yaml
identity:
  session_file: /var/run/shelfsync/session.yaml
server:
  http_port: 9090
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Engine.TTL != 90*time.Second {
		t.Errorf("TTL: got %s, want 90s", cfg.Engine.TTL)
	}
	if cfg.Source.Auth.Mode != "bearer" {
		t.Errorf("auth mode: got %q, want bearer", cfg.Source.Auth.Mode)
	}
	if cfg.Source.LocalCatalog == "" {
		t.Error("LocalCatalog: not parsed")
	}
	if cfg.Identity.SessionFile == "" {
		t.Error("SessionFile: not parsed")
	}
	if cfg.Server.HTTPPort != 9090 {
		t.Errorf("HTTPPort: got %d, want 9090", cfg.Server.HTTPPort)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SHELFSYNC_HTTP_PORT", "7070")
	t.Setenv("SHELFSYNC_SOURCE_ENDPOINT", "https://override.example.com")

	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPPort != 7070 {
		t.Errorf("HTTPPort: got %d, want env override 7070", cfg.Server.HTTPPort)
	}
	if cfg.Source.Endpoint != "https://override.example.com" {
		t.Errorf("Endpoint: got %q, want env override", cfg.Source.Endpoint)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func TestLoad_MissingEndpoint(t *testing.T) {
	_, err := Load(writeConfig(t, "server:\n  http_port: 8080\n"))
	if err == nil || !strings.Contains(err.Error(), "endpoint") {
		t.Fatalf("Load() error = %v, want endpoint validation failure", err)
	}
}

func TestLoad_RejectsParallelFetches(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+"engine:\n  max_concurrent_fetches: 4\n"))
	if err == nil || !strings.Contains(err.Error(), "max_concurrent_fetches") {
		t.Fatalf("Load() error = %v, want max_concurrent_fetches rejection", err)
	}
}

func TestLoad_RejectsBadAuthMode(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+"  auth:\n    mode: kerberos\n"))
	if err == nil {
		t.Fatal("Load() expected error for unknown auth mode")
	}
}

func TestLoad_RejectsBadPort(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+"server:\n  http_port: 70000\n"))
	if err == nil {
		t.Fatal("Load() expected error for out-of-range port")
	}
}

func TestLoad_NegativeTTLRejected(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+"engine:\n  ttl: -10s\n"))
	if err == nil {
		t.Fatal("Load() expected error for negative TTL")
	}
}

func TestAuthConfig_EnvIndirection(t *testing.T) {
	t.Setenv("SHELF_KEY", "k")
	t.Setenv("SHELF_TOK", "tok")

	a := AuthConfig{KeyEnv: "SHELF_KEY", TokenEnv: "SHELF_TOK"}
	if a.Key() != "k" {
		t.Errorf("Key: got %q, want k", a.Key())
	}
	if a.Token() != "tok" {
		t.Errorf("Token: got %q, want tok", a.Token())
	}
	if (AuthConfig{}).Key() != "" {
		t.Error("Key with no env name: want empty")
	}
}

func TestAuthConfig_EffectiveHeader(t *testing.T) {
	if got := (AuthConfig{}).EffectiveHeader(); got != "x-api-key" {
		t.Errorf("EffectiveHeader default: got %q, want x-api-key", got)
	}
	if got := (AuthConfig{Header: "x-custom"}).EffectiveHeader(); got != "x-custom" {
		t.Errorf("EffectiveHeader: got %q, want x-custom", got)
	}
}
