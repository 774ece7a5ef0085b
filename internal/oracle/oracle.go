// Package oracle defines the contract with the generative model that is
// consulted for company and domain opinions, and a langchaingo backed
// implementation of it. Oracle output is untrusted: every response goes
// through extract.Extract and error-shaped payloads count as failures.
package oracle

import (
	"context"
	"fmt"
	"sync"

	"github.com/rsclarke/firmcheck/internal/extract"
)

// Oracle turns a prompt into a structured record.
type Oracle interface {
	Generate(ctx context.Context, prompt string) extract.Result
}

// Func adapts a function to the Oracle interface.
type Func func(ctx context.Context, prompt string) extract.Result

// Generate calls f.
func (f Func) Generate(ctx context.Context, prompt string) extract.Result {
	return f(ctx, prompt)
}

type serialized struct {
	mu   sync.Mutex
	next Oracle
}

// Serialize wraps o so that at most one call is in flight at a time.
func Serialize(o Oracle) Oracle {
	if s, ok := o.(*serialized); ok {
		return s
	}
	return &serialized{next: o}
}

func (s *serialized) Generate(ctx context.Context, prompt string) extract.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return extract.Failed(fmt.Sprintf("oracle call not started: %v", err), "")
	}
	return s.next.Generate(ctx, prompt)
}

// Ask calls o and demotes error-shaped payloads to failures, so callers only
// ever see usable records or a failed result.
func Ask(ctx context.Context, o Oracle, prompt string) extract.Result {
	if o == nil {
		return extract.Failed("no oracle configured", "")
	}
	res := o.Generate(ctx, prompt)
	if res.Status == extract.StatusFailed {
		return res
	}
	if res.Record == nil {
		return extract.Failed("oracle returned a non-object response", "")
	}
	if msg, ok := res.Record["error"]; ok && msg != nil {
		return extract.Failed(fmt.Sprintf("oracle returned an error: %v", msg), "")
	}
	return res
}
