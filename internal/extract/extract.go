// Package extract pulls a structured record out of free text produced by a
// language model. The model is not trusted to emit valid JSON: it wraps
// records in markdown fences, annotates them with comments and leaves
// trailing commas behind. Extract never fails; the result is tagged with how
// much of the input could be recovered.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Status describes how a Result was obtained.
type Status string

// Extraction outcomes, in decreasing order of confidence.
const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusFailed   Status = "failed"
)

// PreviewLimit bounds the raw text kept on a failed extraction.
const PreviewLimit = 1000

// Record is a decoded JSON object.
type Record map[string]any

// Failure explains why nothing could be extracted.
type Failure struct {
	Reason        string `json:"reason"`
	RawPreview    string `json:"raw_preview"`
	ErrorPosition string `json:"error_position,omitempty"`
}

// Result is the tagged outcome of Extract.
//
// StatusOK carries the exact parsed value in Value (and in Record when the
// value is an object). StatusDegraded carries only the allow-listed fields
// recovered by pattern matching. StatusFailed carries Failure.
type Result struct {
	Status  Status   `json:"status"`
	Value   any      `json:"value,omitempty"`
	Record  Record   `json:"record,omitempty"`
	Failure *Failure `json:"failure,omitempty"`
}

// OK reports whether the input parsed as strict JSON.
func (r Result) OK() bool { return r.Status == StatusOK }

// Usable reports whether the result carries a record, strict or degraded.
func (r Result) Usable() bool {
	return r.Status != StatusFailed && r.Record != nil
}

// Failed builds a failed Result, used by callers that could not even obtain
// text to extract from.
func Failed(reason, raw string) Result {
	return Result{
		Status:  StatusFailed,
		Failure: &Failure{Reason: reason, RawPreview: preview(raw)},
	}
}

// String returns the string value stored under key.
func (r Record) String(key string) (string, bool) {
	v, ok := r[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Bool returns the boolean value stored under key. Strings such as "true",
// "yes" and "false" are accepted since models are inconsistent about it.
func (r Record) Bool(key string) (value bool, ok bool) {
	switch v := r[key].(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes":
			return true, true
		case "false", "no":
			return false, true
		}
	}
	return false, false
}

// Extract recovers a structured record from text.
func Extract(text string) Result {
	if value, err := parse(strings.TrimSpace(text)); err == nil {
		return okResult(value)
	}

	candidate := cleanup(fenced(text))

	value, err := parse(candidate)
	if err == nil {
		return okResult(value)
	}

	if value, perr := parse(stripControlChars(candidate)); perr == nil {
		return okResult(value)
	}

	if obj, ok := braced(candidate); ok {
		if value, perr := parse(stripControlChars(obj)); perr == nil {
			return okResult(value)
		}
	}

	if rec := fallbackFields(text); len(rec) > 0 {
		return Result{Status: StatusDegraded, Record: rec}
	}

	return Result{
		Status: StatusFailed,
		Failure: &Failure{
			Reason:        fmt.Sprintf("failed to parse JSON response: %v", err),
			RawPreview:    preview(text),
			ErrorPosition: errorPosition(candidate, err),
		},
	}
}

func okResult(value any) Result {
	res := Result{Status: StatusOK, Value: value}
	if obj, ok := value.(map[string]any); ok {
		res.Record = Record(obj)
	}
	return res
}

func parse(s string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return v, nil
}

// fenced returns the content of the first markdown code fence, preferring a
// fence tagged json. Text without a fence is returned trimmed.
func fenced(text string) string {
	start := -1
	if i := strings.Index(text, "```json"); i != -1 {
		start = i + len("```json")
	} else if i := strings.Index(text, "```"); i != -1 {
		start = i + len("```")
	}
	if start == -1 {
		return strings.TrimSpace(text)
	}
	rest := text[start:]
	if end := strings.Index(rest, "```"); end != -1 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// braced returns the span from the first '{' to the last '}', for objects
// wrapped in prose.
func braced(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end <= start || (start == 0 && end == len(s)-1) {
		return "", false
	}
	return s[start : end+1], true
}

// cleanup removes comments and trailing commas outside string literals.
func cleanup(s string) string {
	return dropTrailingCommas(stripComments(s))
}

func stripComments(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch {
		case c == '"':
			inString = true
			b.WriteByte(c)
		case c == '/' && i+1 < len(s) && s[i+1] == '/':
			for i < len(s) && s[i] != '\n' {
				i++
			}
			if i < len(s) {
				b.WriteByte('\n')
			}
		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			end := strings.Index(s[i+2:], "*/")
			if end == -1 {
				return b.String()
			}
			i += 2 + end + 1
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func dropTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			b.WriteByte(c)
			continue
		}
		if c == '"' {
			inString = true
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && isSpace(s[j]) {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

var controlChars = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f]`)

// stripControlChars drops control characters line by line. They are removed
// rather than escaped, which also drops them from inside string values.
func stripControlChars(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = controlChars.ReplaceAllString(line, "")
	}
	return strings.Join(lines, "\n")
}

var fallbackKeys = []string{"company", "company_name", "ticker", "exists", "industry", "description", "reason"}

var fallbackPatterns = func() map[string]*regexp.Regexp {
	m := make(map[string]*regexp.Regexp, len(fallbackKeys))
	for _, k := range fallbackKeys {
		m[k] = regexp.MustCompile(`(?i)"` + regexp.QuoteMeta(k) + `"\s*:\s*"([^"]*)"`)
	}
	return m
}()

func fallbackFields(text string) Record {
	rec := make(Record)
	for _, k := range fallbackKeys {
		if m := fallbackPatterns[k].FindStringSubmatch(text); m != nil {
			rec[k] = m[1]
		}
	}

	_, hasCompany := rec["company"]
	_, hasName := rec["company_name"]
	switch {
	case hasCompany && !hasName:
		rec["company_name"] = rec["company"]
	case hasName && !hasCompany:
		rec["company"] = rec["company_name"]
	}
	return rec
}

func preview(text string) string {
	if len(text) <= PreviewLimit {
		return text
	}
	cut := PreviewLimit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}

func errorPosition(s string, err error) string {
	var syntaxErr *json.SyntaxError
	if !errors.As(err, &syntaxErr) {
		return ""
	}
	offset := int(syntaxErr.Offset)
	if offset > len(s) {
		offset = len(s)
	}
	line, col := 1, 1
	for _, c := range s[:offset] {
		if c == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return fmt.Sprintf("line %d column %d", line, col)
}
