// Package logging provides structured logging configuration.
package logging

import (
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration options.
type Config struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // json|console
}

// New creates a new configured zap logger.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
			return nil, err
		}
	}

	format := strings.ToLower(cfg.Format)
	if format == "" {
		format = "json"
	}

	var zcfg zap.Config
	if format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}

	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.LevelKey = "level"
	zcfg.EncoderConfig.MessageKey = "msg"
	zcfg.EncoderConfig.CallerKey = "caller"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	// Reports go to stdout; keep logs off it so --json output stays parseable.
	zcfg.OutputPaths = []string{"stderr"}

	logger, err := zcfg.Build(zap.AddCaller())
	if err != nil {
		return nil, err
	}

	return logger.With(zap.String("service", "firmcheck")), nil
}

// Sync flushes any buffered log entries.
func Sync(logger *zap.Logger) {
	_ = logger.Sync()
}

// Addr returns a zap field for an address.
func Addr(addr string) zap.Field { return zap.String("addr", addr) }

// Domain returns a zap field for a domain name.
func Domain(domain string) zap.Field { return zap.String("domain", domain) }

// Company returns a zap field for a company name.
func Company(name string) zap.Field { return zap.String("company", name) }

// CheckID returns a zap field for an existence check identifier.
func CheckID(id string) zap.Field { return zap.String("check_id", id) }

// Namespace returns a zap field for a cache namespace.
func Namespace(ns string) zap.Field { return zap.String("namespace", ns) }

// CacheKey returns a zap field for a cache key.
func CacheKey(key string) zap.Field { return zap.String("cache_key", key) }

// Provider returns a zap field for an oracle provider name.
func Provider(name string) zap.Field { return zap.String("provider", name) }

// Model returns a zap field for an oracle model name.
func Model(name string) zap.Field { return zap.String("model", name) }

// Method returns a zap field for an HTTP method.
func Method(method string) zap.Field { return zap.String("method", method) }

// Path returns a zap field for a URL path.
func Path(path string) zap.Field { return zap.String("path", path) }

// Status returns a zap field for an HTTP status code.
func Status(code int) zap.Field { return zap.Int("status", code) }

// RequestID returns a zap field for a request identifier.
func RequestID(id string) zap.Field { return zap.String("request_id", id) }

// Duration returns a zap field for an elapsed duration.
func Duration(d time.Duration) zap.Field { return zap.Duration("duration", d) }
