// Package conformance is the built-in suite: a catalog of named scenarios
// that exercise authentication, resource CRUD, pagination, CORS and
// concurrent access against the API described by a contract.
//
// Every scenario logs in on its own, tags the fixtures it creates with a
// fresh UUID and deletes them before returning.
package conformance

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/wondertwin-ai/apiconform/internal/auth"
	"github.com/wondertwin-ai/apiconform/internal/client"
	"github.com/wondertwin-ai/apiconform/internal/concurrency"
	"github.com/wondertwin-ai/apiconform/internal/contract"
	"github.com/wondertwin-ai/apiconform/internal/jsonutil"
)

// Options tunes the scenarios that create load or fixtures.
type Options struct {
	// PageLimit is the page size used by the pagination walk.
	PageLimit int
	// MaxPages bounds the pagination walk.
	MaxPages int
	// FixtureCount is how many tagged tasks the pagination walk creates.
	FixtureCount int
	// Concurrency is the fan-out of the concurrency scenarios.
	Concurrency int
	// LatencyBound is the per-response bound under concurrent load.
	LatencyBound time.Duration
}

// DefaultOptions returns the options used when a field is left zero.
func DefaultOptions() Options {
	return Options{
		PageLimit:    5,
		MaxPages:     50,
		FixtureCount: 12,
		Concurrency:  10,
		LatencyBound: concurrency.DefaultLatencyBound,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PageLimit <= 0 {
		o.PageLimit = d.PageLimit
	}
	if o.MaxPages <= 0 {
		o.MaxPages = d.MaxPages
	}
	if o.FixtureCount <= 0 {
		o.FixtureCount = d.FixtureCount
	}
	if o.Concurrency <= 0 {
		o.Concurrency = d.Concurrency
	}
	if o.LatencyBound <= 0 {
		o.LatencyBound = d.LatencyBound
	}
	return o
}

// Env is everything a scenario needs to talk to the API under test.
type Env struct {
	Client   *client.Client
	Contract *contract.Contract
	Auth     *auth.Provider
	Creds    auth.Credentials
	Options  Options
	Logger   *slog.Logger
}

// NewEnv assembles an Env. A nil contract means contract.Default() and a
// nil logger means slog.Default().
func NewEnv(c *client.Client, ct *contract.Contract, creds auth.Credentials, opts Options, logger *slog.Logger) *Env {
	if ct == nil {
		ct = contract.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Env{
		Client:   c,
		Contract: ct,
		Auth:     auth.NewProvider(c, ct.Auth, logger),
		Creds:    creds,
		Options:  opts.withDefaults(),
		Logger:   logger,
	}
}

func (e *Env) login(ctx context.Context) (*auth.Session, error) {
	return e.Auth.Login(ctx, e.Creds)
}

// newTag returns a unique marker for fixture titles.
func newTag() string {
	return "apiconform-" + uuid.NewString()
}

// fixturePayload is the contract's create payload with tag in the title.
func (e *Env) fixturePayload(tag string) map[string]any {
	payload := maps.Clone(e.Contract.Fixture.Create)
	field := e.Contract.Resource.TitleField
	if field == "" {
		return payload
	}
	if title, ok := payload[field].(string); ok && title != "" {
		payload[field] = title + " " + tag
	} else {
		payload[field] = tag
	}
	return payload
}

// createFixture creates one tagged resource and returns its id and body.
func (e *Env) createFixture(ctx context.Context, sess *auth.Session, check, tag string) (int64, map[string]any, error) {
	rc := e.Contract.Resource
	resp, err := e.Client.Post(ctx, rc.CollectionPath, e.fixturePayload(tag), auth.AuthHeader(sess))
	if err != nil {
		return 0, nil, fmt.Errorf("%s: create fixture: %w", check, err)
	}
	if err := contract.ExpectStatus(check+": create fixture", resp.Status, rc.Create); err != nil {
		return 0, nil, err
	}
	obj := resp.Object()
	id, ok := jsonutil.Int64(obj[rc.IDField])
	if !ok {
		return 0, nil, contract.Violationf(check, "created %s %v is not an integer", rc.IDField, obj[rc.IDField])
	}
	return id, obj, nil
}

// deleteFixtures removes fixtures on a best-effort basis. Failures are
// logged; they never fail the scenario.
func (e *Env) deleteFixtures(ctx context.Context, sess *auth.Session, ids ...int64) {
	if len(ids) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), client.DefaultTimeout)
	defer cancel()
	for _, id := range ids {
		resp, err := e.Client.Delete(ctx, e.Contract.ItemURL(id), auth.AuthHeader(sess))
		if err != nil {
			e.Logger.Warn("fixture cleanup failed", "id", id, "error", err)
			continue
		}
		if !e.Contract.Resource.Delete.Allows(resp.Status) {
			e.Logger.Warn("fixture cleanup rejected", "id", id, "status", resp.Status)
		}
	}
}

// requireDetail checks that an error response carries a detail key.
func requireDetail(check string, resp *client.Response) error {
	if _, ok := resp.Field("detail"); !ok {
		return contract.Violationf(check, "error body has no \"detail\"")
	}
	return nil
}
