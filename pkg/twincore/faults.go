package twincore

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// Fault makes the backend misbehave for requests matching a path pattern.
type Fault struct {
	// Method restricts the fault to one HTTP method; empty matches all.
	Method string `json:"method,omitempty"`
	// Status is written instead of calling the handler. Zero passes the
	// request through after the delay.
	Status  int    `json:"status_code,omitempty"`
	Body    string `json:"body,omitempty"`
	DelayMS int    `json:"delay_ms,omitempty"`
	// Rate is the probability the fault fires; zero means always.
	Rate float64 `json:"rate,omitempty"`
	// Times is how often the fault fires before it is dropped; zero means
	// until removed.
	Times int `json:"times,omitempty"`
}

func (f Fault) validate() error {
	switch {
	case f.Status == 0 && f.DelayMS == 0:
		return errors.New("fault needs a status_code or a delay_ms")
	case f.Status != 0 && (f.Status < 100 || f.Status > 599):
		return fmt.Errorf("status_code %d out of range", f.Status)
	case f.DelayMS < 0:
		return errors.New("delay_ms must not be negative")
	case f.Rate < 0 || f.Rate > 1:
		return errors.New("rate must be between 0 and 1")
	case f.Times < 0:
		return errors.New("times must not be negative")
	}
	return nil
}

// FaultRule is a registered fault and the pattern it applies to.
type FaultRule struct {
	Pattern string `json:"pattern"`
	Fault
}

// FaultTable holds the injected faults, keyed by doublestar path pattern:
// "/api/v1/tasks/*" matches one segment below /tasks, "/api/**" matches
// everything under /api.
type FaultTable struct {
	mu    sync.Mutex
	rules map[string]*Fault
}

// NewFaultTable returns an empty table.
func NewFaultTable() *FaultTable {
	return &FaultTable{rules: make(map[string]*Fault)}
}

// Put registers f for pattern, replacing any fault already there.
func (ft *FaultTable) Put(pattern string, f Fault) error {
	if !strings.HasPrefix(pattern, "/") || !doublestar.ValidatePattern(pattern) {
		return fmt.Errorf("bad fault pattern %q", pattern)
	}
	if err := f.validate(); err != nil {
		return err
	}
	f.Method = strings.ToUpper(f.Method)

	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.rules[pattern] = &f
	return nil
}

// Drop removes the fault for pattern and reports whether there was one.
func (ft *FaultTable) Drop(pattern string) bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	_, ok := ft.rules[pattern]
	delete(ft.rules, pattern)
	return ok
}

// Match returns the fault that fires for a request, if any. Exact paths
// are tried before wildcards, then longer patterns before shorter ones.
// A fault with Times set is used up by firing.
func (ft *FaultTable) Match(method, path string) (Fault, bool) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	for _, pattern := range ft.bySpecificity() {
		f := ft.rules[pattern]
		if f.Method != "" && f.Method != method {
			continue
		}
		if ok, _ := doublestar.Match(pattern, path); !ok {
			continue
		}
		if f.Rate > 0 && rand.Float64() >= f.Rate {
			continue
		}
		fired := *f
		if f.Times > 0 {
			f.Times--
			if f.Times == 0 {
				delete(ft.rules, pattern)
			}
		}
		return fired, true
	}
	return Fault{}, false
}

// List returns the registered faults ordered by pattern.
func (ft *FaultTable) List() []FaultRule {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	out := make([]FaultRule, 0, len(ft.rules))
	for pattern, f := range ft.rules {
		out = append(out, FaultRule{Pattern: pattern, Fault: *f})
	}
	slices.SortFunc(out, func(a, b FaultRule) int { return strings.Compare(a.Pattern, b.Pattern) })
	return out
}

// Clear removes every fault.
func (ft *FaultTable) Clear() {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	clear(ft.rules)
}

// bySpecificity orders literal patterns first, then longest first.
// Callers hold mu.
func (ft *FaultTable) bySpecificity() []string {
	patterns := make([]string, 0, len(ft.rules))
	for p := range ft.rules {
		patterns = append(patterns, p)
	}
	slices.SortFunc(patterns, func(a, b string) int {
		if la, lb := isLiteral(a), isLiteral(b); la != lb {
			if la {
				return -1
			}
			return 1
		}
		if len(a) != len(b) {
			return len(b) - len(a)
		}
		return strings.Compare(a, b)
	})
	return patterns
}

func isLiteral(pattern string) bool {
	return !strings.ContainsAny(pattern, `*?[{\`)
}
