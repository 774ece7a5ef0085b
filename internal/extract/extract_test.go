package extract

import (
	"reflect"
	"strings"
	"testing"
)

func TestExtract_StrictJSON(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected any
	}{
		{
			name:     "bare object",
			text:     `{"exists": "Yes", "reason": "well known", "industry": null}`,
			expected: map[string]any{"exists": "Yes", "reason": "well known", "industry": nil},
		},
		{
			name:     "json fence",
			text:     "Here you go:\n```json\n{\"exists\": \"No\", \"count\": 3}\n```\nHope this helps.",
			expected: map[string]any{"exists": "No", "count": float64(3)},
		},
		{
			name:     "untagged fence",
			text:     "```\n{\"a\": [1, 2, {\"b\": true}]}\n```",
			expected: map[string]any{"a": []any{float64(1), float64(2), map[string]any{"b": true}}},
		},
		{
			name:     "unterminated fence",
			text:     "```json\n{\"ticker\": \"ACME\"}",
			expected: map[string]any{"ticker": "ACME"},
		},
		{
			name:     "fence marker inside a string value",
			text:     "{\"description\": \"Use ```json blocks\", \"exists\": \"yes\", \"is_related\": true}",
			expected: map[string]any{"description": "Use ```json blocks", "exists": "yes", "is_related": true},
		},
		{
			name:     "object wrapped in prose",
			text:     "Sure: {\"exists\": \"yes\", \"relationship_type\": \"direct\",} Let me know if you need more.",
			expected: map[string]any{"exists": "yes", "relationship_type": "direct"},
		},
		{
			name:     "top level array",
			text:     `[1, "two"]`,
			expected: []any{float64(1), "two"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.text)
			if got.Status != StatusOK {
				t.Fatalf("status = %s, want ok (failure: %+v)", got.Status, got.Failure)
			}
			if !reflect.DeepEqual(got.Value, tt.expected) {
				t.Errorf("value = %#v, want %#v", got.Value, tt.expected)
			}
		})
	}
}

func TestExtract_RecordOnlyForObjects(t *testing.T) {
	if got := Extract(`[1]`); got.Record != nil {
		t.Errorf("expected nil record for array, got %v", got.Record)
	}
	if got := Extract(`{"a": 1}`); got.Record == nil {
		t.Error("expected record for object")
	}
}

func TestExtract_CommentsAndTrailingCommas(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{
			name: "line comments",
			text: "{\n  \"exists\": \"Yes\", // confident\n  \"reason\": \"listed\" // source: filings\n}",
		},
		{
			name: "block comment",
			text: "{\n  /* the model explains itself */\n  \"exists\": \"Yes\",\n  \"reason\": \"listed\"\n}",
		},
		{
			name: "trailing comma left by comment",
			text: "{\n  \"exists\": \"Yes\",\n  \"reason\": \"listed\", // last\n}",
		},
		{
			name: "trailing comma in array and object",
			text: "```json\n{\"exists\": \"Yes\", \"reason\": \"listed\", \"tags\": [],}\n```",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.text)
			if got.Status != StatusOK {
				t.Fatalf("status = %s, want ok (failure: %+v)", got.Status, got.Failure)
			}
			if v, _ := got.Record.String("exists"); v != "Yes" {
				t.Errorf("exists = %q, want Yes", v)
			}
			if v, _ := got.Record.String("reason"); v != "listed" {
				t.Errorf("reason = %q, want listed", v)
			}
		})
	}
}

func TestExtract_CommentMarkersInsideStrings(t *testing.T) {
	text := `{"website": "https://example.com/a,]", "note": "/* not a comment */"}`
	got := Extract(text)
	if got.Status != StatusOK {
		t.Fatalf("status = %s, want ok", got.Status)
	}
	if v, _ := got.Record.String("website"); v != "https://example.com/a,]" {
		t.Errorf("website = %q", v)
	}
	if v, _ := got.Record.String("note"); v != "/* not a comment */" {
		t.Errorf("note = %q", v)
	}
}

func TestExtract_ControlCharacters(t *testing.T) {
	text := "{\"reason\": \"line\x01break\", \"exists\": \"Yes\"}"
	got := Extract(text)
	if got.Status != StatusOK {
		t.Fatalf("status = %s, want ok", got.Status)
	}
	if v, _ := got.Record.String("reason"); v != "linebreak" {
		t.Errorf("reason = %q, want control character removed", v)
	}
}

func TestExtract_DegradedFallback(t *testing.T) {
	text := `{"company": "Acme", "Exists": "Yes", "reason": "found filings" "industry": "Retail"`
	got := Extract(text)
	if got.Status != StatusDegraded {
		t.Fatalf("status = %s, want degraded", got.Status)
	}
	want := Record{
		"company":      "Acme",
		"company_name": "Acme",
		"exists":       "Yes",
		"reason":       "found filings",
		"industry":     "Retail",
	}
	if !reflect.DeepEqual(got.Record, want) {
		t.Errorf("record = %#v, want %#v", got.Record, want)
	}
	if !got.Usable() {
		t.Error("degraded result with fields should be usable")
	}
}

func TestExtract_DegradedAliasFromCompanyName(t *testing.T) {
	got := Extract(`oops "company_name": "Globex" {`)
	if got.Status != StatusDegraded {
		t.Fatalf("status = %s, want degraded", got.Status)
	}
	if v, _ := got.Record.String("company"); v != "Globex" {
		t.Errorf("company alias = %q, want Globex", v)
	}
}

func TestExtract_Failure(t *testing.T) {
	text := "{\n  \"unexpected\": \n" + strings.Repeat("x", 2000)
	got := Extract(text)
	if got.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.Usable() {
		t.Error("failed result must not be usable")
	}
	f := got.Failure
	if f == nil {
		t.Fatal("expected failure details")
	}
	if !strings.HasPrefix(f.Reason, "failed to parse JSON response") {
		t.Errorf("reason = %q", f.Reason)
	}
	if len(f.RawPreview) != PreviewLimit+len("...") || !strings.HasSuffix(f.RawPreview, "...") {
		t.Errorf("preview not truncated: len=%d", len(f.RawPreview))
	}
	if !strings.HasPrefix(f.ErrorPosition, "line 3 column") {
		t.Errorf("error position = %q, want line 3", f.ErrorPosition)
	}
}

func TestExtract_EmptyInput(t *testing.T) {
	got := Extract("")
	if got.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.Failure.RawPreview != "" {
		t.Errorf("preview = %q, want empty", got.Failure.RawPreview)
	}
}

func TestRecordBool(t *testing.T) {
	rec := Record{"a": true, "b": "No", "c": "maybe", "d": 1}
	tests := []struct {
		key    string
		value  bool
		wantOK bool
	}{
		{"a", true, true},
		{"b", false, true},
		{"c", false, false},
		{"d", false, false},
		{"missing", false, false},
	}
	for _, tt := range tests {
		v, ok := rec.Bool(tt.key)
		if v != tt.value || ok != tt.wantOK {
			t.Errorf("Bool(%q) = (%v, %v), want (%v, %v)", tt.key, v, ok, tt.value, tt.wantOK)
		}
	}
}
