// Package scenario loads declarative JSON and YAML test scenarios and runs
// them against the API under test.
package scenario

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/wondertwin-ai/apiconform/internal/auth"
	"github.com/wondertwin-ai/apiconform/internal/client"
	"github.com/wondertwin-ai/apiconform/internal/report"
	"github.com/wondertwin-ai/apiconform/internal/schema"
)

// StepResult records the outcome of a single step.
type StepResult struct {
	Name     string
	Passed   bool
	Duration time.Duration
	Error    string // empty when passed
}

// Result records the outcome of an entire scenario.
type Result struct {
	ScenarioName string
	Passed       bool
	Steps        []StepResult
	Teardown     []StepResult
	Duration     time.Duration
	// Err is a setup failure; no step ran when it is set.
	Err error
}

// Outcome converts r for the report. Step failures win over teardown
// failures.
func (r *Result) Outcome() report.Outcome {
	if r.Err != nil {
		return report.FromError(r.Err)
	}
	for _, group := range [][]StepResult{r.Steps, r.Teardown} {
		for _, sr := range group {
			if !sr.Passed {
				return report.Failf("%s: %s", sr.Name, sr.Error)
			}
		}
	}
	return report.Pass()
}

// Runner executes scenarios through the HTTP client adapter.
type Runner struct {
	client   *client.Client
	auth     *auth.Provider
	creds    auth.Credentials
	adminURL string
	logger   *slog.Logger
	exprs    *exprEngine
}

// Option configures a Runner.
type Option func(*Runner)

// WithAdminURL sets the base URL of the backend's /admin control plane,
// which setup.reset requires.
func WithAdminURL(u string) Option {
	return func(r *Runner) { r.adminURL = strings.TrimRight(u, "/") }
}

// WithLogger sets the runner's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates a Runner. creds are used by setup.login.
func NewRunner(c *client.Client, p *auth.Provider, creds auth.Credentials, opts ...Option) (*Runner, error) {
	exprs, err := newExprEngine()
	if err != nil {
		return nil, err
	}
	r := &Runner{client: c, auth: p, creds: creds, logger: slog.Default(), exprs: exprs}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// execution is the state of one scenario run.
type execution struct {
	r    *Runner
	ctx  context.Context
	s    *Scenario
	vars  map[string]any
	sess  *auth.Session
	creds auth.Credentials
}

// Run executes a single scenario. Steps run in order and all run even after
// a failure; teardown steps always run last.
func (r *Runner) Run(ctx context.Context, s *Scenario) *Result {
	start := time.Now()
	result := &Result{ScenarioName: s.Name, Passed: true}

	ex := &execution{r: r, ctx: ctx, s: s, vars: map[string]any{"base_url": r.client.BaseURL()}}
	maps.Copy(ex.vars, s.Variables)

	if s.Setup != nil {
		if err := ex.setup(s.Setup); err != nil {
			result.Err = fmt.Errorf("setup failed: %w", err)
			result.Passed = false
			result.Duration = time.Since(start)
			return result
		}
	}

	for i := range s.Steps {
		sr := ex.runStep(&s.Steps[i])
		result.Steps = append(result.Steps, sr)
		result.Passed = result.Passed && sr.Passed
	}
	for i := range s.Teardown {
		sr := ex.runStep(&s.Teardown[i])
		result.Teardown = append(result.Teardown, sr)
		result.Passed = result.Passed && sr.Passed
	}

	result.Duration = time.Since(start)
	r.logger.Debug("scenario finished", "scenario", s.Name, "passed", result.Passed, "duration", result.Duration)
	return result
}

func (ex *execution) setup(setup *Setup) error {
	if setup.Reset {
		if ex.r.adminURL == "" {
			return fmt.Errorf("reset: no admin URL configured")
		}
		resp, err := ex.r.client.Post(ex.ctx, ex.r.adminURL+"/admin/reset", nil, nil)
		if err != nil {
			return fmt.Errorf("reset: %w", err)
		}
		if resp.Status != http.StatusOK {
			return fmt.Errorf("reset: status %d", resp.Status)
		}
	}

	if setup.Login != nil && !setup.Login.Disabled {
		creds := auth.Credentials{
			Email:    cmp.Or(setup.Login.Email, ex.r.creds.Email),
			Password: cmp.Or(setup.Login.Password, ex.r.creds.Password),
		}
		sess, err := ex.r.auth.Login(ex.ctx, creds)
		if err != nil {
			return err
		}
		ex.creds = creds
		ex.useSession(sess)
	}
	return nil
}

func (ex *execution) useSession(sess *auth.Session) {
	ex.sess = sess
	ex.vars["token"] = sess.Token
	ex.vars["email"] = sess.Email
}

// renewSession logs in again when the setup session has expired, so long
// scenarios outlive short token lifetimes.
func (ex *execution) renewSession() error {
	if ex.sess == nil {
		return nil
	}
	sess, err := ex.r.auth.Renew(ex.ctx, ex.sess, ex.creds)
	if err != nil {
		return err
	}
	if sess != ex.sess {
		ex.useSession(sess)
	}
	return nil
}

// runStep executes a single scenario step and returns its result.
func (ex *execution) runStep(step *Step) StepResult {
	start := time.Now()
	sr := StepResult{Name: step.Name}
	if sr.Name == "" {
		sr.Name = strings.TrimSpace(step.Request.Method + " " + step.Request.Path)
	}

	if err := ex.execute(step); err != nil {
		sr.Error = err.Error()
	} else {
		sr.Passed = true
	}
	sr.Duration = time.Since(start)
	return sr
}

func (ex *execution) execute(step *Step) error {
	if err := ex.renewSession(); err != nil {
		return err
	}
	req, err := ex.buildRequest(&step.Request)
	if err != nil {
		return err
	}

	resp, err := ex.r.client.Do(ex.ctx, req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	for _, varName := range sortedKeys(step.Capture) {
		val, err := ExtractJSONPath(resp.JSON, step.Capture[varName])
		if err != nil {
			return fmt.Errorf("capture %q: %w", varName, err)
		}
		ex.vars[varName] = val
	}

	if step.Assert != nil {
		return ex.runAssertions(step.Assert, resp)
	}
	return nil
}

func (ex *execution) buildRequest(in *Request) (client.Request, error) {
	path, err := ExpandTemplates(in.Path, ex.vars)
	if err != nil {
		return client.Request{}, fmt.Errorf("template expansion in path: %w", err)
	}
	headers, err := expandMap(in.Headers, ex.vars)
	if err != nil {
		return client.Request{}, fmt.Errorf("template expansion in header %w", err)
	}
	query, err := expandMap(in.Query, ex.vars)
	if err != nil {
		return client.Request{}, fmt.Errorf("template expansion in query %w", err)
	}

	if headers == nil {
		headers = map[string]string{}
	}
	useAuth := in.Auth == nil || *in.Auth
	if _, set := headers["Authorization"]; useAuth && !set && ex.sess != nil {
		maps.Copy(headers, auth.AuthHeader(ex.sess))
	}

	req := client.Request{
		Method:  cmp.Or(strings.ToUpper(in.Method), http.MethodGet),
		Path:    path,
		Headers: headers,
		Query:   query,
	}
	switch {
	case len(in.Form) > 0:
		form, err := expandMap(in.Form, ex.vars)
		if err != nil {
			return client.Request{}, fmt.Errorf("template expansion in form %w", err)
		}
		values := url.Values{}
		for k, v := range form {
			values.Set(k, v)
		}
		req.Body = values
	case in.Body != nil:
		body, err := expandValue(in.Body, ex.vars)
		if err != nil {
			return client.Request{}, fmt.Errorf("template expansion in body: %w", err)
		}
		req.Body = body
	}
	return req, nil
}

// runAssertions evaluates all assertions against the response.
func (ex *execution) runAssertions(a *Assert, resp *client.Response) error {
	if len(a.Status) > 0 && !a.Status.Allows(resp.Status) {
		return fmt.Errorf("expected status %s, got %d", a.Status, resp.Status)
	}

	if a.BodyContains != "" {
		want, err := ExpandTemplates(a.BodyContains, ex.vars)
		if err != nil {
			return fmt.Errorf("template expansion in body_contains: %w", err)
		}
		if !strings.Contains(string(resp.Body), want) {
			return fmt.Errorf("body does not contain %q", want)
		}
	}

	for _, key := range sortedKeys(a.Headers) {
		expected, err := ExpandTemplates(a.Headers[key], ex.vars)
		if err != nil {
			return fmt.Errorf("template expansion in header %q: %w", key, err)
		}
		if actual := resp.Header(key); actual != expected {
			return fmt.Errorf("header %q: expected %q, got %q", key, expected, actual)
		}
	}

	if len(a.Body) > 0 {
		expanded, err := expandValue(map[string]any(a.Body), ex.vars)
		if err != nil {
			return fmt.Errorf("template expansion in assertion %w", err)
		}
		if err := EvaluateBodyAssertions(resp.JSON, expanded.(map[string]any)); err != nil {
			return err
		}
	}

	if a.Schema != "" {
		path := a.Schema
		if !filepath.IsAbs(path) && ex.s.Path != "" {
			path = filepath.Join(filepath.Dir(ex.s.Path), path)
		}
		sch, err := schema.LoadFile(path)
		if err != nil {
			return err
		}
		if res := schema.ValidateJSON(resp.Body, sch); !res.Valid {
			return fmt.Errorf("schema %s: %s", filepath.Base(path), strings.Join(res.Violations, "; "))
		}
	}

	if len(a.Expr) > 0 {
		input := map[string]any{
			"status":  resp.Status,
			"body":    resp.JSON,
			"headers": flattenHeaders(resp.Headers),
			"vars":    ex.vars,
		}
		for _, expr := range a.Expr {
			if err := ex.r.exprs.Eval(expr, input); err != nil {
				return err
			}
		}
	}
	return nil
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
