// Package config loads the settings shared by the service, the caller and the
// command line tool.
//
// Settings come from three layers, later ones winning:
//
//	built-in defaults → TOML file → SOCKETRPC_* environment variables
//
// A .env file in the working directory is loaded into the environment first.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// DefaultAddress is the socket used when nothing else is configured.
const DefaultAddress = "/tmp/socketrpc.sock"

// EnvPrefix starts every environment override.
const EnvPrefix = "SOCKETRPC_"

// ServiceConfig configures the listening side.
type ServiceConfig struct {
	Address        string        `toml:"address"`
	ID             string        `toml:"id"`
	Trace          bool          `toml:"trace"`
	MaxFrameSize   int           `toml:"maxFrameSize"`
	HandlerTimeout time.Duration `toml:"handlerTimeout"`
	RateLimit      float64       `toml:"rateLimit"`
	RateBurst      int           `toml:"rateBurst"`
}

// ClientConfig configures the calling side.
type ClientConfig struct {
	CallTimeout  time.Duration `toml:"callTimeout"`
	Heartbeat    time.Duration `toml:"heartbeat"`
	CloseTimeout time.Duration `toml:"closeTimeout"`
	Prompt       string        `toml:"prompt"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level        string `toml:"level"`
	File         string `toml:"file"`
	MaxSizeMB    int    `toml:"maxSizeMB"`
	MaxBackups   int    `toml:"maxBackups"`
	ReportCaller bool   `toml:"reportCaller"`
}

// RegistryConfig configures service discovery. Discovery is off while
// Endpoints is empty.
type RegistryConfig struct {
	Endpoints   []string      `toml:"endpoints"`
	Name        string        `toml:"name"`
	Advertise   string        `toml:"advertise"`
	TTL         int64         `toml:"ttl"`
	DialTimeout time.Duration `toml:"dialTimeout"`
	Balancer    string        `toml:"balancer"`
	Weight      int           `toml:"weight"`
	Version     string        `toml:"version"`
}

// Config is the whole configuration file.
type Config struct {
	Service  ServiceConfig  `toml:"service"`
	Client   ClientConfig   `toml:"client"`
	Logging  LoggingConfig  `toml:"logging"`
	Registry RegistryConfig `toml:"registry"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Address:      DefaultAddress,
			MaxFrameSize: 1 << 20,
		},
		Client: ClientConfig{
			CloseTimeout: 5 * time.Second,
			Prompt:       "> ",
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Registry: RegistryConfig{
			Name:        "socketrpc",
			TTL:         10,
			DialTimeout: 5 * time.Second,
			Balancer:    "roundrobin",
			Weight:      1,
		},
	}
}

// Load reads the TOML file at path over the defaults, then applies the
// environment. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "read config")
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse %s", filepath.Base(path))
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads dir/.env into the process environment. A missing file is
// not an error; variables already set are kept.
func LoadDotEnv(dir string) error {
	err := godotenv.Load(filepath.Join(dir, ".env"))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "load .env")
	}
	return nil
}

type lookupFunc func(key string) (string, bool)

func (cfg *Config) applyEnv(lookup lookupFunc) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get("ADDRESS"); ok {
		cfg.Service.Address = v
	}
	if v, ok := get("SERVICE_ID"); ok {
		cfg.Service.ID = v
	}
	if v, ok := get("TRACE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrapf(err, "%sTRACE", EnvPrefix)
		}
		cfg.Service.Trace = b
	}
	if v, ok := get("CALL_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrapf(err, "%sCALL_TIMEOUT", EnvPrefix)
		}
		cfg.Client.CallTimeout = d
	}
	if v, ok := get("LOG_LEVEL"); ok {
		cfg.Logging.Level = v
	}
	if v, ok := get("LOG_FILE"); ok {
		cfg.Logging.File = v
	}
	if v, ok := get("ETCD_ENDPOINTS"); ok {
		cfg.Registry.Endpoints = splitList(v)
	}
	if v, ok := get("REGISTRY_NAME"); ok {
		cfg.Registry.Name = v
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (cfg *Config) validate() error {
	if cfg.Service.Address == "" {
		return errors.New("service.address required")
	}
	if cfg.Service.MaxFrameSize < 0 {
		return errors.Errorf("service.maxFrameSize must not be negative, got %d", cfg.Service.MaxFrameSize)
	}
	if cfg.Service.RateLimit < 0 {
		return errors.Errorf("service.rateLimit must not be negative, got %v", cfg.Service.RateLimit)
	}
	if cfg.Service.RateLimit > 0 && cfg.Service.RateBurst <= 0 {
		cfg.Service.RateBurst = int(cfg.Service.RateLimit) + 1
	}
	if cfg.Client.CallTimeout < 0 || cfg.Client.Heartbeat < 0 {
		return errors.New("client timeouts must not be negative")
	}
	if cfg.Client.CloseTimeout <= 0 {
		cfg.Client.CloseTimeout = 5 * time.Second
	}
	if len(cfg.Registry.Endpoints) > 0 && cfg.Registry.Name == "" {
		return errors.New("registry.name required when endpoints are set")
	}
	if cfg.Registry.TTL <= 0 {
		cfg.Registry.TTL = 10
	}
	return nil
}

// Discovery reports whether a registry is configured.
func (cfg *Config) Discovery() bool {
	return len(cfg.Registry.Endpoints) > 0
}
