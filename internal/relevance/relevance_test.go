package relevance

import (
	"context"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rsclarke/firmcheck/internal/evidence"
	"github.com/rsclarke/firmcheck/internal/extract"
	"github.com/rsclarke/firmcheck/internal/oracle"
)

// countingOracle returns a fixed reply and records how often it was asked.
type countingOracle struct {
	reply string
	calls atomic.Int32
}

func (o *countingOracle) Generate(context.Context, string) extract.Result {
	o.calls.Add(1)
	return extract.Extract(o.reply)
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		name        string
		normalized  string
		significant []string
		acronym     string
	}{
		{"Example Corp", "example", []string{"example"}, ""},
		{"Acme, Inc.", "acme", []string{"acme"}, ""},
		{"The Coca-Cola Company", "thecocacola", []string{"coca", "cola"}, "cc"},
		{"Bank of America Holdings Group", "bankofamerica", []string{"bank", "america"}, "ba"},
		{"International Business Machines Corporation", "internationalbusinessmachines", []string{"international", "business", "machines"}, "ibm"},
		{"Group", "group", []string{"group"}, ""},
		{"!!!", "", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := NormalizeName(tt.name)
			if n.Normalized != tt.normalized {
				t.Errorf("Normalized = %q, want %q", n.Normalized, tt.normalized)
			}
			if !reflect.DeepEqual(n.Significant, tt.significant) {
				t.Errorf("Significant = %v, want %v", n.Significant, tt.significant)
			}
			if got := n.Acronym(); got != tt.acronym {
				t.Errorf("Acronym() = %q, want %q", got, tt.acronym)
			}
		})
	}
}

func TestScore_Rules(t *testing.T) {
	tests := []struct {
		name       string
		domain     string
		company    string
		rel        Relationship
		confidence evidence.Confidence
		matched    []string
	}{
		{"exact label", "example.com", "Example Corp", Direct, evidence.ConfidenceHigh, nil},
		{"exact with url noise", "https://www.Example.com/about", "Example, Inc.", Direct, evidence.ConfidenceHigh, nil},
		{"exact subdomain label", "example.hosting.co.uk", "Example Ltd", Direct, evidence.ConfidenceHigh, nil},
		{"label contains name", "exampleshop.com", "Example Corp", Direct, evidence.ConfidenceHigh, nil},
		{"hyphenated name", "coca-cola.com", "The Coca-Cola Company", Brand, evidence.ConfidenceMedium, []string{"coca", "cola"}},
		{"significant word", "americanbanking.com", "Bank of America", Brand, evidence.ConfidenceMedium, []string{"bank", "america"}},
		{"acronym", "ibm.com", "International Business Machines Corporation", Brand, evidence.ConfidenceMedium, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &countingOracle{reply: `{"is_related": false}`}
			s := NewScorer(o, nil)

			got := s.Score(context.Background(), tt.domain, tt.company)
			if !got.IsRelated {
				t.Fatalf("IsRelated = false: %+v", got)
			}
			if got.RelationshipType != tt.rel || got.Confidence != tt.confidence {
				t.Errorf("got %s/%s, want %s/%s", got.RelationshipType, got.Confidence, tt.rel, tt.confidence)
			}
			if tt.matched != nil && !reflect.DeepEqual(got.MatchedWords, tt.matched) {
				t.Errorf("MatchedWords = %v, want %v", got.MatchedWords, tt.matched)
			}
			if got.Source != evidence.SourceWebsite {
				t.Errorf("Source = %s, want website", got.Source)
			}
			if n := o.calls.Load(); n != 0 {
				t.Errorf("oracle consulted %d times for a rule match", n)
			}
		})
	}
}

func TestScore_EmptyNormalizedNameSkipsNameRules(t *testing.T) {
	o := &countingOracle{reply: `{"is_related": false, "relationship_type": "unrelated"}`}
	s := NewScorer(o, nil)

	got := s.Score(context.Background(), "example.com", "???")
	if got.IsRelated {
		t.Errorf("empty company name matched %+v", got)
	}
	if o.calls.Load() != 1 {
		t.Error("expected oracle fallback")
	}
}

func TestScore_Oracle(t *testing.T) {
	tests := []struct {
		name        string
		reply       string
		related     bool
		rel         Relationship
		risk        string
		remediation string
		source      evidence.Source
	}{
		{
			name:    "subsidiary trusted",
			reply:   `{"is_related": true, "confidence": "High", "relationship_type": "subsidiary", "reason": "owned by parent", "risk_level": "low"}`,
			related: true, rel: Subsidiary, risk: "low", source: evidence.SourceOracle,
		},
		{
			name:    "trusted type without is_related",
			reply:   `{"relationship_type": "brand", "confidence": "medium"}`,
			related: true, rel: Brand, source: evidence.SourceOracle,
		},
		{
			name:    "explicit false overrides type",
			reply:   `{"is_related": false, "relationship_type": "brand", "warning": "Looks like a lookalike domain."}`,
			related: false, rel: Unrelated, risk: "high", remediation: "Looks like a lookalike domain.", source: evidence.SourceOracle,
		},
		{
			name:    "unrelated with warning",
			reply:   "```json\n{\"is_related\": false, \"relationship_type\": \"unrelated\", \"warning\": \"Do not enter credentials.\", \"risk_level\": \"HIGH\"}\n```",
			related: false, rel: Unrelated, risk: "high", remediation: "Do not enter credentials.", source: evidence.SourceOracle,
		},
		{
			name:    "related true but unknown type",
			reply:   `{"is_related": true, "relationship_type": "partner"}`,
			related: false, rel: Unrelated, risk: "high", remediation: DefaultRemediation, source: evidence.SourceOracle,
		},
		{
			name:    "error payload",
			reply:   `{"error": "quota exceeded"}`,
			related: false, rel: Unrelated, risk: "unknown", remediation: DefaultRemediation, source: evidence.SourceOracle,
		},
		{
			name:    "unparseable",
			reply:   "no idea",
			related: false, rel: Unrelated, risk: "unknown", remediation: DefaultRemediation, source: evidence.SourceOracle,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScorer(&countingOracle{reply: tt.reply}, nil)

			got := s.Score(context.Background(), "examp1e-secure-login.biz", "Example Corp")
			if got.IsRelated != tt.related || got.RelationshipType != tt.rel {
				t.Errorf("got related=%v type=%s, want %v %s", got.IsRelated, got.RelationshipType, tt.related, tt.rel)
			}
			if tt.risk != "" && got.RiskLevel != tt.risk {
				t.Errorf("RiskLevel = %q, want %q", got.RiskLevel, tt.risk)
			}
			if !tt.related && got.Remediation != tt.remediation {
				t.Errorf("Remediation = %q, want %q", got.Remediation, tt.remediation)
			}
			if got.Source != tt.source {
				t.Errorf("Source = %s, want %s", got.Source, tt.source)
			}
			if got.Domain != "examp1e-secure-login.biz" {
				t.Errorf("Domain = %q", got.Domain)
			}
		})
	}
}

func TestScore_NilOracle(t *testing.T) {
	s := NewScorer(nil, nil)
	got := s.Score(context.Background(), "unrelated-site.org", "Globex Corporation")
	if got.IsRelated || got.Remediation == "" {
		t.Errorf("got %+v, want unrelated with remediation", got)
	}
	if got.Source != evidence.SourceOracle {
		t.Errorf("Source = %s, want %s", got.Source, evidence.SourceOracle)
	}
}

func TestScore_Serialized(t *testing.T) {
	o := &countingOracle{reply: `{"is_related": true, "relationship_type": "direct"}`}
	s := NewScorer(oracle.Serialize(o), nil)
	got := s.Score(context.Background(), "initech-solutions.net", "Globex")
	if !got.IsRelated || got.RelationshipType != Direct {
		t.Errorf("got %+v", got)
	}
	if !strings.Contains(got.Reason, "direct") {
		t.Errorf("Reason = %q, want default reason naming the relationship", got.Reason)
	}
}
