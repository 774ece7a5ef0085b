// Package relevance decides whether a reachable domain plausibly belongs to
// a named company. Cheap name-matching rules run first; the oracle is only
// consulted when none of them fire.
package relevance

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/rsclarke/firmcheck/internal/domaincheck"
	"github.com/rsclarke/firmcheck/internal/evidence"
	"github.com/rsclarke/firmcheck/internal/logging"
	"github.com/rsclarke/firmcheck/internal/oracle"
)

// Relationship classifies how a domain relates to a company.
type Relationship string

// Relationship types.
const (
	Direct     Relationship = "direct"
	Brand      Relationship = "brand"
	Subsidiary Relationship = "subsidiary"
	Unrelated  Relationship = "unrelated"
)

// Trusted reports whether an oracle classification of r may be accepted.
func (r Relationship) Trusted() bool {
	return r == Direct || r == Brand || r == Subsidiary
}

// DefaultRemediation is attached to unrelated verdicts when the oracle did
// not supply a warning of its own.
const DefaultRemediation = "Verify the spelling of the domain, confirm the company's official " +
	"website through independent sources such as registry filings or press releases, and treat " +
	"this domain as a possible phishing or typosquatting site until it is confirmed."

// Judgment is the relevance verdict for one domain.
type Judgment struct {
	Domain           string              `json:"domain"`
	IsRelated        bool                `json:"is_related"`
	RelationshipType Relationship        `json:"relationship_type"`
	Confidence       evidence.Confidence `json:"confidence"`
	Reason           string              `json:"reason"`
	RiskLevel        string              `json:"risk_level,omitempty"`
	MatchedWords     []string            `json:"matched_words,omitempty"`
	Remediation      string              `json:"remediation,omitempty"`
	Source           evidence.Source     `json:"source"`
}

var corporateSuffixes = map[string]bool{
	"inc": true, "corp": true, "corporation": true, "llc": true, "ltd": true,
	"limited": true, "company": true, "co": true, "group": true, "holdings": true,
	"international": true, "plc": true, "gmbh": true,
}

var stopWords = map[string]bool{
	"the": true, "and": true, "of": true, "for": true, "in": true,
	"at": true, "by": true, "to": true, "a": true, "an": true,
}

// Name is a company name reduced for matching against domain labels.
type Name struct {
	Words       []string // all words after suffix removal
	Normalized  string   // Words joined, alphanumerics only
	Significant []string // words longer than two characters that are not stop words
}

// NormalizeName lowercases name, turns punctuation into word breaks and
// drops trailing corporate suffixes. A lone suffix word is kept so that a
// company called "Group" still has a name.
func NormalizeName(name string) Name {
	words := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for len(words) > 1 && corporateSuffixes[words[len(words)-1]] {
		words = words[:len(words)-1]
	}

	n := Name{Words: words, Normalized: strings.Join(words, "")}
	for _, w := range words {
		if len(w) > 2 && !stopWords[w] {
			n.Significant = append(n.Significant, w)
		}
	}
	return n
}

// Acronym returns the initials of the significant words, or "" when there
// are fewer than two.
func (n Name) Acronym() string {
	if len(n.Significant) < 2 {
		return ""
	}
	var b strings.Builder
	for _, w := range n.Significant {
		r, _ := firstRune(w)
		b.WriteRune(r)
	}
	return b.String()
}

func firstRune(s string) (rune, bool) {
	for _, r := range s {
		return r, true
	}
	return 0, false
}

func alnum(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return -1
	}, strings.ToLower(s))
}

// Scorer produces relevance judgments.
type Scorer struct {
	oracle oracle.Oracle
	logger *zap.Logger
}

// NewScorer creates a Scorer. o may be nil, in which case every domain the
// rules cannot match is judged unrelated.
func NewScorer(o oracle.Oracle, logger *zap.Logger) *Scorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scorer{oracle: o, logger: logger}
}

// Score judges whether domain belongs to company.
func (s *Scorer) Score(ctx context.Context, domain, company string) Judgment {
	domain = domaincheck.Normalize(domain)
	log := s.logger.With(logging.Domain(domain), logging.Company(company))

	parts, err := domaincheck.CheckFormat(domain)
	if err != nil {
		return unrelated(domain, evidence.ConfidenceHigh, "Invalid domain format: "+err.Error(), "high", "", evidence.SourceWebsite)
	}

	if j, ok := MatchRules(parts, NormalizeName(company)); ok {
		j.Domain = domain
		log.Debug("domain matched by name rules", zap.String("relationship", string(j.RelationshipType)))
		return j
	}

	return s.askOracle(ctx, log, domain, company)
}

// MatchRules applies the name-matching rules in priority order across all
// candidate labels of the domain. ok is false when no rule fires.
func MatchRules(parts domaincheck.Parts, name Name) (Judgment, bool) {
	var labels []string
	for _, l := range parts.Labels() {
		if a := alnum(l); a != "" {
			labels = append(labels, a)
		}
	}

	if name.Normalized != "" {
		for _, l := range labels {
			if l == name.Normalized {
				return related(Direct, evidence.ConfidenceHigh,
					fmt.Sprintf("Domain part '%s' exactly matches company name", l), nil), true
			}
		}
		for _, l := range labels {
			if strings.Contains(l, name.Normalized) {
				return related(Direct, evidence.ConfidenceHigh,
					fmt.Sprintf("Domain part '%s' contains full company name", l), nil), true
			}
		}
	}

	var matches []string
	seen := make(map[string]bool)
	for _, l := range labels {
		for _, w := range name.Significant {
			if !seen[w] && strings.Contains(l, w) {
				seen[w] = true
				matches = append(matches, w)
			}
		}
	}
	if len(matches) > 0 {
		return related(Brand, evidence.ConfidenceMedium,
			"Domain contains company name parts: "+strings.Join(matches, ", "), matches), true
	}

	if acronym := name.Acronym(); acronym != "" {
		for _, l := range labels {
			if l == acronym {
				return related(Brand, evidence.ConfidenceMedium,
					fmt.Sprintf("Domain '%s' matches company abbreviation (%s)", l, acronym), nil), true
			}
		}
	}

	return Judgment{}, false
}

func (s *Scorer) askOracle(ctx context.Context, log *zap.Logger, domain, company string) Judgment {
	res := oracle.Ask(ctx, s.oracle, oracle.RelevancePrompt(domain, company))
	if !res.Usable() {
		reason := "Relevance could not be confirmed"
		if res.Failure != nil {
			reason += ": " + res.Failure.Reason
		}
		log.Warn("relevance oracle unavailable", zap.String("reason", reason))
		return unrelated(domain, evidence.ConfidenceLow, reason, "unknown", "", evidence.SourceOracle)
	}

	rec := res.Record
	relType, _ := rec.String("relationship_type")
	rel := Relationship(strings.ToLower(strings.TrimSpace(relType)))
	isRelated, known := rec.Bool("is_related")
	confidence, _ := rec.String("confidence")
	reason, _ := rec.String("reason")
	risk, _ := rec.String("risk_level")
	warning, _ := rec.String("warning")

	if rel.Trusted() && (!known || isRelated) {
		if reason == "" {
			reason = fmt.Sprintf("Oracle classified the domain as %s", rel)
		}
		j := related(rel, evidence.ParseConfidence(confidence), reason, nil)
		j.Domain = domain
		j.RiskLevel = strings.ToLower(risk)
		j.Source = evidence.SourceOracle
		return j
	}

	if reason == "" {
		reason = "Domain doesn't appear to be related to the company"
	}
	if risk == "" {
		risk = "high"
	}
	log.Info("domain judged unrelated", zap.String("relationship", string(rel)), zap.String("risk_level", risk))
	return unrelated(domain, evidence.ParseConfidence(confidence), reason, strings.ToLower(risk), warning, evidence.SourceOracle)
}

func related(rel Relationship, c evidence.Confidence, reason string, matched []string) Judgment {
	return Judgment{
		IsRelated:        true,
		RelationshipType: rel,
		Confidence:       c,
		Reason:           reason,
		MatchedWords:     matched,
		Source:           evidence.SourceWebsite,
	}
}

func unrelated(domain string, c evidence.Confidence, reason, risk, warning string, src evidence.Source) Judgment {
	remediation := strings.TrimSpace(warning)
	if remediation == "" {
		remediation = DefaultRemediation
	}
	return Judgment{
		Domain:           domain,
		RelationshipType: Unrelated,
		Confidence:       c,
		Reason:           reason,
		RiskLevel:        risk,
		Remediation:      remediation,
		Source:           src,
	}
}
