package evidence

import (
	"encoding/json"
	"testing"
)

func TestAnd(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Tristate
		expected Tristate
	}{
		{"both true", True, True, True},
		{"true and false", True, False, False},
		{"false and true", False, True, False},
		{"only first known", True, Unknown, True},
		{"only second known", Unknown, False, False},
		{"neither known", Unknown, Unknown, Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := And(tt.a, tt.b); got != tt.expected {
				t.Errorf("And(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.expected)
			}
		})
	}
}

func TestTristateJSON(t *testing.T) {
	type wrapper struct {
		Exists Tristate `json:"exists"`
	}

	for _, v := range []Tristate{True, False, Unknown} {
		data, err := json.Marshal(wrapper{Exists: v})
		if err != nil {
			t.Fatalf("marshal %v: %v", v, err)
		}
		var got wrapper
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if got.Exists != v {
			t.Errorf("round trip of %v produced %v (%s)", v, got.Exists, data)
		}
	}

	data, _ := json.Marshal(wrapper{})
	if string(data) != `{"exists":null}` {
		t.Errorf("unknown should encode as null, got %s", data)
	}
}

func TestParseConfidence(t *testing.T) {
	if ParseConfidence("high") != ConfidenceHigh {
		t.Error("expected high")
	}
	if ParseConfidence(" Medium ") != ConfidenceMedium {
		t.Error("expected case-insensitive match")
	}
	if ParseConfidence("very sure") != ConfidenceLow {
		t.Error("unrecognised confidence should default to low")
	}
}
