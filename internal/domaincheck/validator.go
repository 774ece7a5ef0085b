// Package domaincheck decides whether a candidate domain is well formed,
// resolves in DNS and answers over HTTP(S).
package domaincheck

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rsclarke/firmcheck/internal/logging"
)

// Validation is the per-domain verdict.
type Validation struct {
	Domain            string   `json:"domain"`
	RegistrableDomain string   `json:"registrable_domain,omitempty"`
	IsValidFormat     bool     `json:"is_valid_format"`
	DNSResolves       bool     `json:"dns_resolves"`
	Addresses         []string `json:"addresses,omitempty"`
	Reachable         bool     `json:"reachable"`
	HTTPSSupported    bool     `json:"https_supported"`
	TLSVerified       bool     `json:"tls_verified"`
	StatusCode        int      `json:"status_code,omitempty"`
	StatusMessage     string   `json:"status_message"`
}

// Validator runs the format, DNS and reachability checks in sequence and
// stops at the first failing stage.
type Validator struct {
	resolver Resolver
	prober   Prober
	logger   *zap.Logger
}

// NewValidator creates a Validator.
func NewValidator(resolver Resolver, prober Prober, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{resolver: resolver, prober: prober, logger: logger}
}

// Validate checks a raw domain string. It never returns an error: every
// failure is reported through the returned Validation.
func (v *Validator) Validate(ctx context.Context, raw string) Validation {
	res := Validation{Domain: Normalize(raw)}
	log := v.logger.With(logging.Domain(res.Domain))

	parts, err := CheckFormat(res.Domain)
	if err != nil {
		res.StatusMessage = "Invalid domain format: " + err.Error()
		log.Debug("invalid domain format", zap.Error(err))
		return res
	}
	res.IsValidFormat = true
	res.RegistrableDomain = parts.Registrable()

	start := time.Now()
	addrs, err := v.resolver.LookupHost(ctx, res.Domain)
	if err != nil {
		res.StatusMessage = "Domain does not exist (DNS lookup failed)"
		log.Debug("dns lookup failed", zap.Error(err), logging.Duration(time.Since(start)))
		return res
	}
	res.DNSResolves = true
	res.Addresses = addrs

	probe := v.prober.Probe(ctx, res.Domain)
	res.Reachable = probe.Reachable
	res.HTTPSSupported = probe.HTTPSSupported
	res.TLSVerified = probe.TLSVerified
	res.StatusCode = probe.StatusCode
	res.StatusMessage = probe.Message

	log.Debug("domain validated",
		zap.Bool("reachable", res.Reachable),
		zap.Bool("https", res.HTTPSSupported),
		logging.Duration(time.Since(start)),
	)
	return res
}
