package main

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/rsclarke/firmcheck/internal/cache"
	"github.com/rsclarke/firmcheck/internal/config"
	"github.com/rsclarke/firmcheck/internal/db"
	"github.com/rsclarke/firmcheck/internal/domaincheck"
	"github.com/rsclarke/firmcheck/internal/existence"
	"github.com/rsclarke/firmcheck/internal/logging"
	"github.com/rsclarke/firmcheck/internal/metrics"
	"github.com/rsclarke/firmcheck/internal/oracle"
	"github.com/rsclarke/firmcheck/internal/relevance"
)

// engine holds the locally wired components and the resources they own.
type engine struct {
	validator    *domaincheck.Validator
	orchestrator *existence.Orchestrator
	cache        *cache.Cache

	dbs     map[string]*sql.DB
	closers []func()
}

func newEngine(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	e := newResources()

	validator, err := newValidator(cfg)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.validator = validator

	c, err := e.openCache(ctx, cfg, m)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.cache = c

	o, err := newOracle(cfg)
	if err != nil {
		e.Close()
		return nil, err
	}

	ecfg := existence.Config{
		Validator:   validator,
		Scorer:      relevance.NewScorer(o, logger.Named("relevance")),
		Oracle:      o,
		Cache:       c,
		CacheTTL:    cfg.Cache.TTL,
		Concurrency: cfg.Probe.Concurrency,
		Logger:      logger.Named("existence"),
	}
	if m != nil {
		ecfg.Metrics = m
	}
	e.orchestrator = existence.New(ecfg)
	return e, nil
}

// newResources returns an engine with no components wired, for commands
// that only need its databases or cache.
func newResources() *engine {
	return &engine{dbs: make(map[string]*sql.DB)}
}

func newValidator(cfg *config.Config) (*domaincheck.Validator, error) {
	var resolver domaincheck.Resolver
	switch {
	case cfg.Probe.Resolver == config.ResolverSystem:
		resolver = domaincheck.SystemResolver{Timeout: cfg.Probe.Timeout}
	case len(cfg.Probe.DNSServers) > 0:
		resolver = domaincheck.NewDNSResolver(cfg.Probe.DNSServers, cfg.Probe.Timeout)
	default:
		r, err := domaincheck.NewDNSResolverFromFile(cfg.Probe.ResolvConf, cfg.Probe.Timeout)
		if err != nil {
			return nil, fmt.Errorf("configure resolver: %w", err)
		}
		resolver = r
	}

	prober := domaincheck.NewHTTPProber(domaincheck.ProberOptions{
		Timeout: cfg.Probe.Timeout,
		Logger:  logger.Named("probe"),
	})
	return domaincheck.NewValidator(resolver, prober, logger.Named("domaincheck")), nil
}

// newOracle returns a serialized oracle, or nil when the provider is "none".
func newOracle(cfg *config.Config) (oracle.Oracle, error) {
	if cfg.Oracle.Provider == config.ProviderNone {
		logger.Warn("oracle disabled; verdicts rest on domain evidence only")
		return nil, nil
	}
	client, err := oracle.New(cfg.Oracle, logger.Named("oracle"))
	if err != nil {
		return nil, fmt.Errorf("configure oracle: %w", err)
	}
	logger.Debug("oracle configured", logging.Provider(client.Provider()), logging.Model(client.Model()))
	return oracle.Serialize(client), nil
}

func (e *engine) openCache(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*cache.Cache, error) {
	var store cache.Store
	switch cfg.Cache.Backend {
	case config.BackendFile:
		fs, err := cache.NewFileStore(cfg.Cache.Dir)
		if err != nil {
			return nil, err
		}
		store = fs
	case config.BackendSQLite:
		d, err := e.openDB(cfg.Cache.DBPath)
		if err != nil {
			return nil, err
		}
		store = cache.NewSQLiteStore(d)
	case config.BackendRedis:
		rc, err := cache.DialRedis(ctx, cfg.Cache.RedisURL)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, func() { _ = rc.Close() })
		store = cache.NewRedisStore(rc, cache.DefaultRedisPrefix)
	case config.BackendMemory:
		store = cache.NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}

	opts := []cache.Option{
		cache.WithTTL(cfg.Cache.TTL),
		cache.WithLogger(logger.Named("cache")),
	}
	if m != nil {
		opts = append(opts, cache.WithObserver(m))
	}
	logger.Debug("cache configured", zap.String("backend", cfg.Cache.Backend))
	return cache.New(store, opts...), nil
}

// openDB opens each database path once, so the cache and the server can
// share a handle.
func (e *engine) openDB(path string) (*sql.DB, error) {
	if d, ok := e.dbs[path]; ok {
		return d, nil
	}
	d, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	e.dbs[path] = d
	e.closers = append(e.closers, func() { _ = d.Close() })
	return d, nil
}

func (e *engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}
