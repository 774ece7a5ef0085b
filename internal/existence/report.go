package existence

import (
	"time"

	"github.com/rsclarke/firmcheck/internal/domaincheck"
	"github.com/rsclarke/firmcheck/internal/evidence"
	"github.com/rsclarke/firmcheck/internal/extract"
	"github.com/rsclarke/firmcheck/internal/relevance"
)

// Oracle verdicts.
const (
	OracleYes     = "yes"
	OracleNo      = "no"
	OracleUnclear = "unclear"
)

// OracleOpinion is the oracle's name-based verdict. It is evidence, never
// the final answer on its own.
type OracleOpinion struct {
	Exists   string         `json:"exists"`
	Reason   string         `json:"reason"`
	Industry *string        `json:"industry"`
	Status   extract.Status `json:"status"`
	Error    string         `json:"error,omitempty"`
}

// Signal maps the opinion to a tri-state existence signal.
func (o OracleOpinion) Signal() evidence.Tristate {
	switch o.Exists {
	case OracleYes:
		return evidence.True
	case OracleNo:
		return evidence.False
	default:
		return evidence.Unknown
	}
}

// DomainResult holds everything learned about one candidate domain.
// Relevance is nil unless the domain was reachable.
type DomainResult struct {
	Validation domaincheck.Validation `json:"validation"`
	Relevance  *relevance.Judgment    `json:"relevance"`
}

// Report is the outcome of an existence check.
type Report struct {
	CheckID          string                  `json:"check_id"`
	CompanyName      string                  `json:"company_name"`
	Domains          map[string]DomainResult `json:"domains"`
	DomainOrder      []string                `json:"domain_order"`
	RelatedDomains   []string                `json:"related_domains"`
	UnrelatedDomains []string                `json:"unrelated_domains"`
	OracleOpinion    OracleOpinion           `json:"oracle_opinion"`
	DomainEvidence   evidence.Signal         `json:"domain_evidence"`
	OracleEvidence   evidence.Signal         `json:"oracle_evidence"`
	Exists           evidence.Tristate       `json:"exists"`
	Confidence       evidence.Confidence     `json:"confidence"`
	CheckedAt        time.Time               `json:"checked_at"`
	ServedFrom       evidence.Source         `json:"served_from,omitempty"`
}

// AnyReachable reports whether at least one domain answered over the web.
func (r *Report) AnyReachable() bool {
	for _, d := range r.Domains {
		if d.Validation.Reachable {
			return true
		}
	}
	return false
}

// Merge combines the domain and oracle signals into the final verdict: the
// logical AND when both are known, the known one when only one is, unknown
// otherwise.
func Merge(domain, oracle evidence.Tristate) evidence.Tristate {
	return evidence.And(domain, oracle)
}

// Rate assigns a confidence label. High needs both signals, in agreement,
// and at least one reachable domain. Any shortfall rounds down.
func Rate(domain, oracle evidence.Tristate, anyReachable bool) evidence.Confidence {
	switch {
	case domain.Known() && oracle.Known():
		if domain == oracle && anyReachable {
			return evidence.ConfidenceHigh
		}
		return evidence.ConfidenceMedium
	case domain.Known() || oracle.Known():
		return evidence.ConfidenceMedium
	default:
		return evidence.ConfidenceLow
	}
}
