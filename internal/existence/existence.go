// Package existence answers whether a named company exists by combining
// candidate-domain verification with an oracle opinion.
package existence

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rsclarke/firmcheck/internal/cache"
	"github.com/rsclarke/firmcheck/internal/domaincheck"
	"github.com/rsclarke/firmcheck/internal/evidence"
	"github.com/rsclarke/firmcheck/internal/extract"
	"github.com/rsclarke/firmcheck/internal/logging"
	"github.com/rsclarke/firmcheck/internal/oracle"
	"github.com/rsclarke/firmcheck/internal/relevance"
)

// Namespace is the cache namespace for existence reports.
const Namespace = "existence_check"

// DefaultConcurrency bounds how many domains are checked at once.
const DefaultConcurrency = 4

// ErrEmptyCompanyName is returned when the company name is blank.
var ErrEmptyCompanyName = errors.New("company name is required")

// DomainValidator checks a single domain.
type DomainValidator interface {
	Validate(ctx context.Context, raw string) domaincheck.Validation
}

// RelevanceScorer judges whether a reachable domain belongs to a company.
type RelevanceScorer interface {
	Score(ctx context.Context, domain, company string) relevance.Judgment
}

// Metrics receives check instrumentation.
type Metrics interface {
	ObserveCheck(confidence string, cached bool)
	ObserveDomainCheck(start time.Time)
	ObserveOracleCall(start time.Time, failed bool)
}

// Config wires an Orchestrator. Cache and Metrics are optional.
type Config struct {
	Validator   DomainValidator
	Scorer      RelevanceScorer
	Oracle      oracle.Oracle
	Cache       *cache.Cache
	CacheTTL    time.Duration
	Metrics     Metrics
	Concurrency int
	Logger      *zap.Logger
	Now         func() time.Time
}

// Orchestrator runs existence checks.
type Orchestrator struct {
	validator   DomainValidator
	scorer      RelevanceScorer
	oracle      oracle.Oracle
	cache       *cache.Cache
	cacheTTL    time.Duration
	metrics     Metrics
	concurrency int
	logger      *zap.Logger
	now         func() time.Time
}

// New creates an Orchestrator. The oracle is serialized; pass the same
// serialized oracle to the relevance scorer so the two never overlap.
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		validator:   cfg.Validator,
		scorer:      cfg.Scorer,
		cache:       cfg.Cache,
		cacheTTL:    cfg.CacheTTL,
		metrics:     cfg.Metrics,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger,
		now:         cfg.Now,
	}
	if cfg.Oracle != nil {
		o.oracle = oracle.Serialize(cfg.Oracle)
	}
	if o.metrics == nil {
		o.metrics = nopMetrics{}
	}
	if o.concurrency <= 0 {
		o.concurrency = DefaultConcurrency
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

type cacheKey struct {
	CompanyName string   `json:"company_name"`
	Domains     []string `json:"domains"`
}

// query is a normalized existence query.
type query struct {
	company string
	domains []string // normalized, deduplicated, in first-seen order
}

func newQuery(company string, domains []string) (query, error) {
	q := query{company: strings.TrimSpace(company)}
	if q.company == "" {
		return q, ErrEmptyCompanyName
	}
	seen := make(map[string]bool, len(domains))
	for _, raw := range domains {
		d := domaincheck.Normalize(raw)
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		q.domains = append(q.domains, d)
	}
	return q, nil
}

func (q query) key() cacheKey {
	sorted := append([]string{}, q.domains...)
	sort.Strings(sorted)
	return cacheKey{CompanyName: strings.ToLower(q.company), Domains: sorted}
}

// Check reports whether company exists, using domains as corroborating
// evidence. The only error is ErrEmptyCompanyName: every other failure
// lowers the confidence of the report instead.
func (o *Orchestrator) Check(ctx context.Context, company string, domains ...string) (*Report, error) {
	q, err := newQuery(company, domains)
	if err != nil {
		return nil, err
	}
	log := o.logger.With(logging.Company(q.company))

	if o.cache != nil {
		var cached Report
		if o.cache.Get(ctx, Namespace, q.key(), &cached) {
			cached.ServedFrom = evidence.SourceCache
			o.metrics.ObserveCheck(string(cached.Confidence), true)
			log.Info("existence check served from cache", logging.CheckID(cached.CheckID))
			return &cached, nil
		}
	}

	report := &Report{
		CheckID:          uuid.NewString(),
		CompanyName:      q.company,
		Domains:          make(map[string]DomainResult, len(q.domains)),
		DomainOrder:      append([]string{}, q.domains...),
		RelatedDomains:   []string{},
		UnrelatedDomains: []string{},
		CheckedAt:        o.now().UTC(),
	}
	log = log.With(logging.CheckID(report.CheckID))

	results := o.checkDomains(ctx, q)
	for i, d := range q.domains {
		r := results[i]
		report.Domains[d] = r
		if r.Relevance == nil {
			continue
		}
		if r.Relevance.IsRelated {
			report.RelatedDomains = append(report.RelatedDomains, d)
		} else {
			report.UnrelatedDomains = append(report.UnrelatedDomains, d)
		}
	}

	report.OracleOpinion = o.askOracle(ctx, log, q)

	report.DomainEvidence = evidence.Signal{Value: domainSignal(report), Source: evidence.SourceWebsite}
	report.OracleEvidence = evidence.Signal{Value: report.OracleOpinion.Signal(), Source: evidence.SourceOracle}
	report.Exists = Merge(report.DomainEvidence.Value, report.OracleEvidence.Value)
	report.Confidence = Rate(report.DomainEvidence.Value, report.OracleEvidence.Value, report.AnyReachable())

	o.metrics.ObserveCheck(string(report.Confidence), false)
	log.Info("existence check complete",
		zap.Stringer("exists", report.Exists),
		zap.String("confidence", string(report.Confidence)),
		zap.Int("domains", len(q.domains)),
		zap.Int("related", len(report.RelatedDomains)),
	)

	// A failed oracle call is likely transient; leave the query uncached so
	// it is asked again.
	if o.cache != nil && report.OracleOpinion.Status != extract.StatusFailed {
		o.cache.Set(ctx, Namespace, q.key(), report, o.cacheTTL)
	}
	return report, nil
}

// Forget drops the cached report for a query and reports whether there was
// one.
func (o *Orchestrator) Forget(ctx context.Context, company string, domains ...string) (bool, error) {
	q, err := newQuery(company, domains)
	if err != nil {
		return false, err
	}
	if o.cache == nil {
		return false, nil
	}
	return o.cache.Delete(ctx, Namespace, q.key()), nil
}

func (o *Orchestrator) checkDomains(ctx context.Context, q query) []DomainResult {
	results := make([]DomainResult, len(q.domains))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, d := range q.domains {
		g.Go(func() error {
			results[i] = o.checkDomain(gctx, d, q.company)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (o *Orchestrator) checkDomain(ctx context.Context, domain, company string) DomainResult {
	defer o.metrics.ObserveDomainCheck(time.Now())

	r := DomainResult{Validation: o.validator.Validate(ctx, domain)}
	if r.Validation.Reachable && o.scorer != nil {
		j := o.scorer.Score(ctx, r.Validation.Domain, company)
		r.Relevance = &j
	}
	return r
}

// domainSignal is true when any supplied domain is well formed and resolves.
// Reachability and relevance are not required: they feed confidence and the
// related/unrelated lists, not bare existence.
func domainSignal(r *Report) evidence.Tristate {
	if len(r.Domains) == 0 {
		return evidence.Unknown
	}
	for _, d := range r.Domains {
		if d.Validation.IsValidFormat && d.Validation.DNSResolves {
			return evidence.True
		}
	}
	return evidence.False
}

func (o *Orchestrator) askOracle(ctx context.Context, log *zap.Logger, q query) OracleOpinion {
	start := time.Now()
	res := oracle.Ask(ctx, o.oracle, oracle.ExistencePrompt(q.company, q.domains))
	o.metrics.ObserveOracleCall(start, !res.Usable())

	if !res.Usable() {
		op := OracleOpinion{
			Exists: OracleUnclear,
			Reason: "Could not verify company existence",
			Status: extract.StatusFailed,
		}
		if res.Failure != nil {
			op.Error = res.Failure.Reason
		}
		log.Warn("existence oracle unavailable", zap.String("error", op.Error))
		return op
	}

	op := OracleOpinion{Exists: OracleUnclear, Status: res.Status}
	if exists, ok := res.Record.Bool("exists"); ok {
		op.Exists = OracleNo
		if exists {
			op.Exists = OracleYes
		}
	}
	op.Reason, _ = res.Record.String("reason")
	if industry, ok := res.Record.String("industry"); ok {
		industry = strings.TrimSpace(industry)
		if industry != "" && !strings.EqualFold(industry, "null") {
			op.Industry = &industry
		}
	}
	return op
}

type nopMetrics struct{}

func (nopMetrics) ObserveCheck(string, bool)         {}
func (nopMetrics) ObserveDomainCheck(time.Time)      {}
func (nopMetrics) ObserveOracleCall(time.Time, bool) {}
