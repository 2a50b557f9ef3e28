package conformance_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wondertwin-ai/apiconform/internal/auth"
	"github.com/wondertwin-ai/apiconform/internal/client"
	"github.com/wondertwin-ai/apiconform/internal/conformance"
	"github.com/wondertwin-ai/apiconform/internal/contract"
	"github.com/wondertwin-ai/apiconform/internal/report"
	"github.com/wondertwin-ai/apiconform/internal/twin/store"
	"github.com/wondertwin-ai/apiconform/pkg/testutil"
	"github.com/wondertwin-ai/apiconform/pkg/twincore"
)

var adminCreds = auth.Credentials{Email: store.DefaultEmail, Password: store.DefaultPassword}

func newEnv(t *testing.T, baseURL string) *conformance.Env {
	t.Helper()
	c, err := client.New(baseURL, client.WithTimeout(2*time.Second))
	require.NoError(t, err)
	return conformance.NewEnv(c, nil, adminCreds, conformance.Options{PageLimit: 3, FixtureCount: 7, Concurrency: 6}, nil)
}

func failures(rep report.Report) map[string]string {
	out := map[string]string{}
	for _, f := range rep.Failures {
		out[f.Scenario] = f.Message
	}
	return out
}

func TestCatalogPassesAgainstTwin(t *testing.T) {
	tw := testutil.StartTwin(t)
	env := newEnv(t, tw.APIURL())

	rep := conformance.Run(context.Background(), env, conformance.Catalog(), 4)
	assert.Empty(t, failures(rep))
	assert.Equal(t, 15, rep.Total)
	assert.Equal(t, 15, rep.Passed)
	assert.Equal(t, 0, rep.ExitCode())
	assert.Equal(t, conformance.Names(), scenarioNames(rep), "report keeps catalog order")
	assert.Equal(t, 0, tw.Backend.Store.Tasks.Count(), "every fixture is cleaned up")
}

func scenarioNames(rep report.Report) []string {
	var names []string
	for _, e := range rep.Scenarios {
		names = append(names, e.Name)
	}
	return names
}

func TestSelect(t *testing.T) {
	tests := []struct {
		patterns []string
		want     []string
	}{
		{nil, conformance.Names()},
		{[]string{"auth/*"}, []string{"auth/login", "auth/login-invalid", "auth/login-missing-fields"}},
		{[]string{"tasks/pagination*", "cors/**"}, []string{"tasks/pagination", "tasks/pagination-empty", "cors/preflight"}},
		{[]string{"users/me"}, []string{"users/me"}},
	}
	for _, tt := range tests {
		got, err := conformance.Select(tt.patterns)
		require.NoError(t, err)
		var names []string
		for _, s := range got {
			names = append(names, s.Name)
		}
		assert.Equal(t, tt.want, names, "%v", tt.patterns)
	}

	_, err := conformance.Select([]string{"billing/*"})
	assert.EqualError(t, err, "no scenario matches billing/*")
	_, err = conformance.Select([]string{"auth/[login"})
	assert.ErrorContains(t, err, "bad scenario pattern")
}

func TestFaultsAreReportedPerScenario(t *testing.T) {
	tw := testutil.StartTwin(t)
	tw.Admin.InjectFault("/api/v1/users/me", twincore.Fault{Method: http.MethodGet, Status: http.StatusInternalServerError})
	env := newEnv(t, tw.APIURL())

	scenarios, err := conformance.Select([]string{"auth/**", "users/**", "tasks/not-found"})
	require.NoError(t, err)
	rep := conformance.Run(context.Background(), env, scenarios, 1)

	assert.Equal(t, map[string]string{
		"users/me":              "users/me: expected status 200, got 500",
		"users/me-unauthorized": "users/me-unauthorized: expected status 401, got 500",
	}, failures(rep))
	assert.Equal(t, 4, rep.Passed)
	assert.Equal(t, 1, rep.ExitCode())
}

func TestPaginationAndCreatesUnderFaults(t *testing.T) {
	tw := testutil.StartTwin(t)
	tw.Admin.InjectFault("/api/v1/tasks", twincore.Fault{Method: http.MethodGet, Status: http.StatusServiceUnavailable})
	env := newEnv(t, tw.APIURL())

	scenarios, err := conformance.Select([]string{"tasks/pagination", "concurrency/creates"})
	require.NoError(t, err)
	rep := conformance.Run(context.Background(), env, scenarios, 2)

	assert.Equal(t, map[string]string{
		"tasks/pagination": "page 1: expected status 200, got 503",
	}, failures(rep))
	assert.Equal(t, 0, tw.Backend.Store.Tasks.Count(), "fixtures are deleted even when the walk fails")
}

func TestUnreachableBackendFailsEveryScenario(t *testing.T) {
	env := newEnv(t, "http://127.0.0.1:1")
	rep := conformance.Run(context.Background(), env, conformance.Catalog(), 8)
	assert.Equal(t, 15, rep.Failed)
	for _, f := range rep.Failures {
		assert.Contains(t, f.Message, "127.0.0.1:1", f.Scenario)
	}
}

func TestPreflightChecksHeaders(t *testing.T) {
	tests := []struct {
		name    string
		origin  string
		methods string
		want    string
	}{
		{"wildcard", "*", "GET, POST", ""},
		{"echoed origin", "http://localhost:3000", "POST", ""},
		{"wrong origin", "https://example.org", "POST", `preflight: access-control-allow-origin is "https://example.org", want * or http://localhost:3000`},
		{"no methods", "*", "", "preflight: access-control-allow-methods is missing"},
		{"method not allowed", "*", "GET, HEAD", `preflight: access-control-allow-methods "GET, HEAD" does not include POST`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := chi.NewRouter()
			r.Options("/tasks", func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Access-Control-Allow-Origin", tt.origin)
				if tt.methods != "" {
					w.Header().Set("Access-Control-Allow-Methods", tt.methods)
				}
				w.WriteHeader(http.StatusNoContent)
			})
			srv := httptest.NewServer(r)
			defer srv.Close()

			scenarios, err := conformance.Select([]string{"cors/preflight"})
			require.NoError(t, err)
			rep := conformance.Run(context.Background(), newEnv(t, srv.URL), scenarios, 1)
			if tt.want == "" {
				assert.Empty(t, rep.Failures)
				return
			}
			require.Len(t, rep.Failures, 1)
			assert.Equal(t, tt.want, rep.Failures[0].Message)
		})
	}
}

func TestCustomContractCodes(t *testing.T) {
	tw := testutil.StartTwin(t)
	ct := contract.Default()
	ct.Resource.NotFound = contract.Codes{410}

	c, err := client.New(tw.APIURL())
	require.NoError(t, err)
	env := conformance.NewEnv(c, ct, adminCreds, conformance.Options{}, nil)
	scenarios, err := conformance.Select([]string{"tasks/not-found"})
	require.NoError(t, err)

	rep := conformance.Run(context.Background(), env, scenarios, 1)
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, "not-found: expected status 410, got 404", rep.Failures[0].Message)
}
