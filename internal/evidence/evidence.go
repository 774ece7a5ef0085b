// Package evidence defines the shared vocabulary used to describe and merge
// verification signals: tri-state values, confidence labels and provenance.
package evidence

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Source identifies where a piece of evidence came from.
type Source string

// Evidence sources.
const (
	SourceWebsite Source = "website"
	SourceOracle  Source = "oracle"
	SourceCache   Source = "cache"
)

// Confidence is a coarse confidence label.
type Confidence string

// Confidence levels, ordered low to high.
const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// ParseConfidence maps free text to a Confidence, defaulting to low.
func ParseConfidence(s string) Confidence {
	switch c := Confidence(strings.ToLower(strings.TrimSpace(s))); c {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return c
	}
	return ConfidenceLow
}

// Tristate is a boolean that may also be unknown. It encodes to JSON as
// true, false or null.
type Tristate int8

// Tristate values. The zero value is Unknown.
const (
	Unknown Tristate = iota
	True
	False
)

// FromBool converts a bool to a known Tristate.
func FromBool(b bool) Tristate {
	if b {
		return True
	}
	return False
}

// Known reports whether the value is True or False.
func (t Tristate) Known() bool { return t != Unknown }

func (t Tristate) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "unknown"
	}
}

// And combines two tri-state values. If both are known it is their logical
// AND; if only one is known that value wins; otherwise Unknown.
func And(a, b Tristate) Tristate {
	switch {
	case a.Known() && b.Known():
		return FromBool(a == True && b == True)
	case a.Known():
		return a
	default:
		return b
	}
}

// MarshalJSON implements json.Marshaler.
func (t Tristate) MarshalJSON() ([]byte, error) {
	switch t {
	case True:
		return []byte("true"), nil
	case False:
		return []byte("false"), nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Tristate) UnmarshalJSON(data []byte) error {
	var b *bool
	if err := json.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("decode tristate: %w", err)
	}
	if b == nil {
		*t = Unknown
		return nil
	}
	*t = FromBool(*b)
	return nil
}

// Signal is a single tri-state piece of evidence tagged with its source.
type Signal struct {
	Value  Tristate `json:"value"`
	Source Source   `json:"source"`
}
