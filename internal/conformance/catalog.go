package conformance

import (
	"context"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/wondertwin-ai/apiconform/internal/report"
)

// Scenario is one named check of the built-in suite.
type Scenario struct {
	Name        string
	Description string
	Run         func(ctx context.Context, env *Env) report.Outcome
}

// Catalog returns every built-in scenario in execution order.
func Catalog() []Scenario {
	return []Scenario{
		{"auth/login", "valid credentials return a token", loginValid},
		{"auth/login-invalid", "a wrong password is rejected", loginInvalid},
		{"auth/login-missing-fields", "an empty login body is a validation error", loginMissingFields},
		{"users/me", "the current user matches the login and exposes no password", usersMe},
		{"users/me-unauthorized", "the current user requires a token", usersMeUnauthorized},
		{"tasks/lifecycle", "create, read, update and delete one task", tasksLifecycle},
		{"tasks/round-trip", "updated fields read back unchanged", tasksRoundTrip},
		{"tasks/validation", "a task without a title is rejected", tasksValidation},
		{"tasks/not-found", "an absent task is a 404", tasksNotFound},
		{"tasks/idempotent-get", "repeated reads are identical", tasksIdempotentGet},
		{"tasks/pagination", "a full walk over tagged fixtures", tasksPagination},
		{"tasks/pagination-empty", "the empty collection boundary", tasksPaginationEmpty},
		{"cors/preflight", "preflight requests are answered", corsPreflight},
		{"concurrency/reads", "parallel reads are each valid", concurrentReads},
		{"concurrency/creates", "parallel creates yield distinct ids", concurrentCreates},
	}
}

// Names lists the catalog's scenario names.
func Names() []string {
	var names []string
	for _, s := range Catalog() {
		names = append(names, s.Name)
	}
	return names
}

// Select returns the scenarios whose names match any of the doublestar
// patterns, in catalog order. No patterns selects everything.
func Select(patterns []string) ([]Scenario, error) {
	all := Catalog()
	if len(patterns) == 0 {
		return all, nil
	}
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("bad scenario pattern %q", p)
		}
	}

	var out []Scenario
	for _, s := range all {
		for _, p := range patterns {
			if ok, _ := doublestar.Match(p, s.Name); ok {
				out = append(out, s)
				break
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no scenario matches %s", strings.Join(patterns, ", "))
	}
	return out, nil
}
