// Package config loads firmcheck settings from defaults, an optional YAML
// file and the environment. Command-line flags are applied on top by the CLI.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rsclarke/firmcheck/internal/cache"
	"github.com/rsclarke/firmcheck/internal/domaincheck"
	"github.com/rsclarke/firmcheck/internal/existence"
	"github.com/rsclarke/firmcheck/internal/logging"
	"github.com/rsclarke/firmcheck/internal/oracle"
)

// Cache backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Resolver kinds.
const (
	ResolverDNS    = "dns"
	ResolverSystem = "system"
)

// ProviderNone disables the oracle.
const ProviderNone = "none"

type Config struct {
	Log    logging.Config `yaml:"log"`
	Oracle oracle.Config  `yaml:"oracle"`
	Cache  CacheConfig    `yaml:"cache"`
	Probe  ProbeConfig    `yaml:"probe"`
	Server ServerConfig   `yaml:"server"`
}

type CacheConfig struct {
	Backend  string        `yaml:"backend"`
	Dir      string        `yaml:"dir"`
	DBPath   string        `yaml:"db_path"`
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
}

type ProbeConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	Resolver    string        `yaml:"resolver"`
	DNSServers  []string      `yaml:"dns_servers"`
	ResolvConf  string        `yaml:"resolv_conf"`
	Concurrency int           `yaml:"concurrency"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr"`
	DBPath      string `yaml:"db_path"`
	Domain      string `yaml:"domain"`
	TLSCertFile string `yaml:"tls_cert"`
	TLSKeyFile  string `yaml:"tls_key"`
	HTTPAddr    string `yaml:"http_addr"`
	ACME        bool   `yaml:"acme"`
	ACMEEmail   string `yaml:"acme_email"`
	ACMEStaging bool   `yaml:"acme_staging"`
}

func Default() *Config {
	return &Config{
		Log: logging.Config{Level: "info", Format: "json"},
		Oracle: oracle.Config{
			Provider: oracle.ProviderGemini,
			Timeout:  oracle.DefaultTimeout,
		},
		Cache: CacheConfig{
			Backend: BackendFile,
			Dir:     "cache",
			DBPath:  "firmcheck.db",
			TTL:     cache.DefaultTTL,
		},
		Probe: ProbeConfig{
			Timeout:     domaincheck.DefaultProbeTimeout,
			Resolver:    ResolverDNS,
			ResolvConf:  domaincheck.DefaultResolvConf,
			Concurrency: existence.DefaultConcurrency,
		},
		Server: ServerConfig{
			Addr:     ":8080",
			HTTPAddr: ":80",
			DBPath:   "firmcheck.db",
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path (if any) and
// then the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := decode(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Log.Level = getEnv("FIRMCHECK_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("FIRMCHECK_LOG_FORMAT", cfg.Log.Format)

	cfg.Oracle.Provider = strings.ToLower(getEnv("FIRMCHECK_ORACLE_PROVIDER", cfg.Oracle.Provider))
	cfg.Oracle.Model = getEnv("FIRMCHECK_ORACLE_MODEL", cfg.Oracle.Model)
	cfg.Oracle.BaseURL = getEnv("FIRMCHECK_ORACLE_BASE_URL", cfg.Oracle.BaseURL)
	cfg.Oracle.Timeout = getEnvDuration("FIRMCHECK_ORACLE_TIMEOUT", cfg.Oracle.Timeout)
	cfg.Oracle.APIKey = getEnv("FIRMCHECK_ORACLE_API_KEY", providerKey(cfg.Oracle.Provider))
	if cfg.Oracle.Provider == oracle.ProviderOllama && cfg.Oracle.BaseURL == "" {
		cfg.Oracle.BaseURL = os.Getenv("OLLAMA_HOST")
	}

	cfg.Cache.Backend = strings.ToLower(getEnv("FIRMCHECK_CACHE_BACKEND", cfg.Cache.Backend))
	cfg.Cache.Dir = getEnv("FIRMCHECK_CACHE_DIR", cfg.Cache.Dir)
	cfg.Cache.DBPath = getEnv("FIRMCHECK_CACHE_DB", cfg.Cache.DBPath)
	cfg.Cache.RedisURL = getEnv("FIRMCHECK_REDIS_URL", cfg.Cache.RedisURL)
	cfg.Cache.TTL = getEnvDuration("FIRMCHECK_CACHE_TTL", cfg.Cache.TTL)

	cfg.Probe.Timeout = getEnvDuration("FIRMCHECK_PROBE_TIMEOUT", cfg.Probe.Timeout)
	cfg.Probe.Resolver = strings.ToLower(getEnv("FIRMCHECK_RESOLVER", cfg.Probe.Resolver))
	if v := os.Getenv("FIRMCHECK_DNS_SERVERS"); v != "" {
		cfg.Probe.DNSServers = splitList(v)
	}
	cfg.Probe.Concurrency = getEnvInt("FIRMCHECK_CONCURRENCY", cfg.Probe.Concurrency)

	cfg.Server.Addr = getEnv("FIRMCHECK_ADDR", cfg.Server.Addr)
	cfg.Server.DBPath = getEnv("FIRMCHECK_DB", cfg.Server.DBPath)
	cfg.Server.Domain = getEnv("FIRMCHECK_DOMAIN", cfg.Server.Domain)
	cfg.Server.ACMEEmail = getEnv("FIRMCHECK_ACME_EMAIL", cfg.Server.ACMEEmail)
}

func providerKey(provider string) string {
	switch provider {
	case oracle.ProviderGemini:
		return os.Getenv("GEMINI_API_KEY")
	case oracle.ProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	case oracle.ProviderAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	}
	return ""
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Oracle.Provider {
	case oracle.ProviderGemini, oracle.ProviderOpenAI, oracle.ProviderAnthropic, oracle.ProviderOllama, ProviderNone:
	default:
		errs = append(errs, fmt.Errorf("unknown oracle provider %q", c.Oracle.Provider))
	}
	if c.Oracle.Timeout <= 0 {
		errs = append(errs, errors.New("oracle timeout must be positive"))
	}

	switch c.Cache.Backend {
	case BackendFile:
		if c.Cache.Dir == "" {
			errs = append(errs, errors.New("cache dir is required for the file backend"))
		}
	case BackendSQLite:
		if c.Cache.DBPath == "" {
			errs = append(errs, errors.New("cache db_path is required for the sqlite backend"))
		}
	case BackendRedis:
		if c.Cache.RedisURL == "" {
			errs = append(errs, errors.New("redis_url is required for the redis backend"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown cache backend %q", c.Cache.Backend))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("cache ttl must be positive"))
	}

	if c.Probe.Timeout <= 0 {
		errs = append(errs, errors.New("probe timeout must be positive"))
	}
	if c.Probe.Concurrency < 1 {
		errs = append(errs, errors.New("probe concurrency must be at least 1"))
	}
	switch c.Probe.Resolver {
	case ResolverDNS, ResolverSystem:
	default:
		errs = append(errs, fmt.Errorf("unknown resolver %q", c.Probe.Resolver))
	}

	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs = append(errs, errors.New("tls_cert and tls_key must be set together"))
	}
	if c.Server.ACME {
		if c.Server.Domain == "" {
			errs = append(errs, errors.New("domain is required for acme"))
		}
		if c.Server.TLSCertFile != "" {
			errs = append(errs, errors.New("acme and tls_cert are mutually exclusive"))
		}
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
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
