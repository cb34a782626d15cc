package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Service.Address != DefaultAddress {
		t.Fatalf("expect %s, got %s", DefaultAddress, cfg.Service.Address)
	}
	if cfg.Client.CallTimeout != 0 {
		t.Fatalf("expect unbounded calls by default, got %v", cfg.Client.CallTimeout)
	}
	if cfg.Discovery() {
		t.Fatal("expect discovery off by default")
	}
	if cfg.Client.Prompt != "> " {
		t.Fatalf("expect the default prompt, got %q", cfg.Client.Prompt)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, "socketrpc.toml", `
[service]
address = "127.0.0.1:7070"
trace = true
handlerTimeout = "2s"
rateLimit = 50.0

[client]
callTimeout = "1500ms"
prompt = "name? "

[logging]
level = "debug"

[registry]
endpoints = ["127.0.0.1:2379"]
name = "greeter"
balancer = "hash"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Service.Address != "127.0.0.1:7070" || !cfg.Service.Trace {
		t.Fatalf("unexpected service section %+v", cfg.Service)
	}
	if cfg.Service.HandlerTimeout != 2*time.Second {
		t.Fatalf("expect 2s handler timeout, got %v", cfg.Service.HandlerTimeout)
	}
	if cfg.Service.RateBurst != 51 {
		t.Fatalf("expect burst derived from rate, got %d", cfg.Service.RateBurst)
	}
	if cfg.Client.CallTimeout != 1500*time.Millisecond {
		t.Fatalf("expect 1.5s call timeout, got %v", cfg.Client.CallTimeout)
	}
	if cfg.Client.Prompt != "name? " {
		t.Fatalf("expect prompt from file, got %q", cfg.Client.Prompt)
	}
	if !cfg.Discovery() || cfg.Registry.Balancer != "hash" {
		t.Fatalf("unexpected registry section %+v", cfg.Registry)
	}
	// Untouched keys keep their defaults.
	if cfg.Logging.MaxSizeMB != 10 || cfg.Registry.TTL != 10 {
		t.Fatalf("defaults lost: %+v %+v", cfg.Logging, cfg.Registry)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expect an error for a missing file")
	}
	if _, err := Load(writeFile(t, "bad.toml", "[service\n")); err == nil {
		t.Fatal("expect a parse error")
	}
	if _, err := Load(writeFile(t, "neg.toml", "[service]\nmaxFrameSize = -1\n")); err == nil {
		t.Fatal("expect a validation error")
	}
}

func TestEnvOverrides(t *testing.T) {
	env := map[string]string{
		"SOCKETRPC_ADDRESS":        "/run/app.sock",
		"SOCKETRPC_TRACE":          "true",
		"SOCKETRPC_CALL_TIMEOUT":   "3s",
		"SOCKETRPC_LOG_LEVEL":      "warn",
		"SOCKETRPC_ETCD_ENDPOINTS": "a:2379, b:2379,",
		"SOCKETRPC_REGISTRY_NAME":  "   ",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	cfg := Default()
	if err := cfg.applyEnv(lookup); err != nil {
		t.Fatal(err)
	}
	if cfg.Service.Address != "/run/app.sock" || !cfg.Service.Trace {
		t.Fatalf("unexpected service %+v", cfg.Service)
	}
	if cfg.Client.CallTimeout != 3*time.Second || cfg.Logging.Level != "warn" {
		t.Fatalf("unexpected overrides %+v %+v", cfg.Client, cfg.Logging)
	}
	if len(cfg.Registry.Endpoints) != 2 || cfg.Registry.Endpoints[1] != "b:2379" {
		t.Fatalf("unexpected endpoints %v", cfg.Registry.Endpoints)
	}
	if cfg.Registry.Name != "socketrpc" {
		t.Fatalf("blank variable should not override, got %q", cfg.Registry.Name)
	}

	env["SOCKETRPC_TRACE"] = "maybe"
	if err := Default().applyEnv(lookup); err == nil {
		t.Fatal("expect an error for a bad boolean")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := LoadDotEnv(dir); err != nil {
		t.Fatalf("missing .env should be ignored, got %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("SOCKETRPC_TEST_DOTENV=loaded\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("SOCKETRPC_TEST_DOTENV") })
	if err := LoadDotEnv(dir); err != nil {
		t.Fatal(err)
	}
	if v := os.Getenv("SOCKETRPC_TEST_DOTENV"); v != "loaded" {
		t.Fatalf("expect loaded, got %q", v)
	}
}
