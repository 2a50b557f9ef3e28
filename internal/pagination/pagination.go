// Package pagination checks page-number pagination: the envelope
// invariants of each page and the consistency of a full walk.
package pagination

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/wondertwin-ai/apiconform/internal/auth"
	"github.com/wondertwin-ai/apiconform/internal/client"
	"github.com/wondertwin-ai/apiconform/internal/contract"
	"github.com/wondertwin-ai/apiconform/internal/jsonutil"
	"github.com/wondertwin-ai/apiconform/internal/report"
)

// DefaultMaxPages bounds a walk whose has_next never turns false.
const DefaultMaxPages = 50

// Envelope is a decoded page.
type Envelope struct {
	Items   []any
	Total   int
	Page    int
	Limit   int
	HasNext bool
	HasPrev bool
}

// ParseEnvelope reads a page from a decoded JSON body using the key names
// in fields.
func ParseEnvelope(body any, fields contract.EnvelopeFields) (Envelope, error) {
	obj, ok := body.(map[string]any)
	if !ok {
		return Envelope{}, fmt.Errorf("envelope: expected object, got %s", jsonutil.TypeName(body))
	}
	var env Envelope

	items, ok := obj[fields.Items].([]any)
	if !ok {
		return Envelope{}, fmt.Errorf("envelope: %q is %s, want array", fields.Items, jsonutil.TypeName(obj[fields.Items]))
	}
	env.Items = items

	for _, f := range []struct {
		key string
		dst *int
	}{
		{fields.Total, &env.Total},
		{fields.Page, &env.Page},
		{fields.Limit, &env.Limit},
	} {
		n, ok := jsonutil.Int64(obj[f.key])
		if !ok {
			return Envelope{}, fmt.Errorf("envelope: %q is %s, want integer", f.key, jsonutil.TypeName(obj[f.key]))
		}
		*f.dst = int(n)
	}

	for _, f := range []struct {
		key string
		dst *bool
	}{
		{fields.HasNext, &env.HasNext},
		{fields.HasPrev, &env.HasPrev},
	} {
		b, ok := obj[f.key].(bool)
		if !ok {
			return Envelope{}, fmt.Errorf("envelope: %q is %s, want boolean", f.key, jsonutil.TypeName(obj[f.key]))
		}
		*f.dst = b
	}
	return env, nil
}

// CheckEnvelope returns the invariants env breaks for a request of page
// number page with page size limit. An empty result means env is valid.
func CheckEnvelope(env Envelope, page, limit int) []string {
	var v []string
	if env.Total < 0 {
		v = append(v, fmt.Sprintf("total is negative (%d)", env.Total))
	}
	if env.Page != page {
		v = append(v, fmt.Sprintf("page is %d, requested %d", env.Page, page))
	}
	if env.Limit != limit {
		v = append(v, fmt.Sprintf("limit is %d, requested %d", env.Limit, limit))
	}
	if len(env.Items) > limit {
		v = append(v, fmt.Sprintf("%d items exceed limit %d", len(env.Items), limit))
	}
	if want := page > 1; env.HasPrev != want {
		v = append(v, fmt.Sprintf("has_prev is %t, want %t", env.HasPrev, want))
	}
	if want := page*limit < env.Total; env.HasNext != want {
		v = append(v, fmt.Sprintf("has_next is %t, want %t (page %d, limit %d, total %d)", env.HasNext, want, page, limit, env.Total))
	}
	return v
}

// Result is the outcome of a walk. Err is set when the walk could not
// continue; Violations collects contract breaks seen before that.
type Result struct {
	PagesChecked int
	Total        int
	Violations   []string
	Err          error
}

// Outcome converts r for the report.
func (r Result) Outcome() report.Outcome {
	if r.Err != nil {
		return report.FromError(r.Err)
	}
	if len(r.Violations) > 0 {
		return report.Fail(r.Violations[0])
	}
	return report.Pass()
}

// Checker walks list endpoints.
type Checker struct {
	MaxPages int

	client   *client.Client
	contract *contract.Contract
	logger   *slog.Logger
}

// NewChecker creates a Checker. A nil logger means slog.Default().
func NewChecker(c *client.Client, ct *contract.Contract, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{MaxPages: DefaultMaxPages, client: c, contract: ct, logger: logger}
}

// fetch requests one page and decodes it.
func (c *Checker) fetch(ctx context.Context, sess *auth.Session, path string, page, limit int, query map[string]string) (Envelope, error) {
	pc := c.contract.Pagination
	q := make(map[string]string, len(query)+2)
	for k, v := range query {
		q[k] = v
	}
	q[pc.PageParam] = strconv.Itoa(page)
	q[pc.LimitParam] = strconv.Itoa(limit)

	check := fmt.Sprintf("page %d", page)
	resp, err := c.client.Do(ctx, client.Request{Method: http.MethodGet, Path: path, Headers: auth.AuthHeader(sess), Query: q})
	if err != nil {
		return Envelope{}, fmt.Errorf("%s: %w", check, err)
	}
	if err := contract.ExpectStatus(check, resp.Status, c.contract.Resource.List); err != nil {
		return Envelope{}, err
	}
	env, err := ParseEnvelope(resp.JSON, pc.Envelope)
	if err != nil {
		return Envelope{}, contract.Violationf(check, "%v", err)
	}
	return env, nil
}

// Check walks the collection from page 1, following has_next.
func (c *Checker) Check(ctx context.Context, sess *auth.Session, path string, limit int, query map[string]string) Result {
	var (
		res     Result
		seen    = mapset.NewThreadUnsafeSet[string]()
		natural bool
	)
	idField := c.contract.Resource.IDField

	for page := 1; page <= c.MaxPages; page++ {
		env, err := c.fetch(ctx, sess, path, page, limit, query)
		if err != nil {
			res.Err = err
			return res
		}
		res.PagesChecked++

		for _, msg := range CheckEnvelope(env, page, limit) {
			res.Violations = append(res.Violations, fmt.Sprintf("page %d: %s", page, msg))
		}
		if page == 1 {
			res.Total = env.Total
		} else if env.Total != res.Total {
			res.Violations = append(res.Violations, fmt.Sprintf("page %d: total changed from %d to %d", page, res.Total, env.Total))
		}
		for _, item := range env.Items {
			key, ok := itemKey(item, idField)
			if !ok {
				res.Violations = append(res.Violations, fmt.Sprintf("page %d: item without %q", page, idField))
				continue
			}
			if !seen.Add(key) {
				res.Violations = append(res.Violations, fmt.Sprintf("page %d: duplicate %s %s", page, idField, key))
			}
		}

		c.logger.Debug("page checked", "path", path, "page", page, "items", len(env.Items), "has_next", env.HasNext)
		if !env.HasNext {
			natural = true
			break
		}
	}

	if !natural {
		res.Violations = append(res.Violations, fmt.Sprintf("has_next still true after %d pages", c.MaxPages))
		return res
	}
	if want := expectedPages(res.Total, limit); res.PagesChecked != want {
		res.Violations = append(res.Violations, fmt.Sprintf("walked %d pages, want %d for total %d and limit %d", res.PagesChecked, want, res.Total, limit))
	}
	if seen.Cardinality() != res.Total {
		res.Violations = append(res.Violations, fmt.Sprintf("saw %d distinct items, total is %d", seen.Cardinality(), res.Total))
	}
	return res
}

// CheckEmpty asserts the first page of an empty collection.
func (c *Checker) CheckEmpty(ctx context.Context, sess *auth.Session, path string, limit int, query map[string]string) Result {
	var res Result
	env, err := c.fetch(ctx, sess, path, 1, limit, query)
	if err != nil {
		res.Err = err
		return res
	}
	res.PagesChecked = 1
	res.Total = env.Total

	if env.Total != 0 {
		res.Violations = append(res.Violations, fmt.Sprintf("total is %d, want 0", env.Total))
	}
	if len(env.Items) != 0 {
		res.Violations = append(res.Violations, fmt.Sprintf("%d items on an empty collection", len(env.Items)))
	}
	if env.HasNext {
		res.Violations = append(res.Violations, "has_next is true on an empty collection")
	}
	if env.HasPrev {
		res.Violations = append(res.Violations, "has_prev is true on page 1")
	}
	return res
}

// expectedPages is ceil(total/limit), with one page for an empty collection.
func expectedPages(total, limit int) int {
	if total <= 0 {
		return 1
	}
	return (total + limit - 1) / limit
}

func itemKey(item any, idField string) (string, bool) {
	obj, ok := item.(map[string]any)
	if !ok {
		return "", false
	}
	v, ok := obj[idField]
	if !ok || v == nil {
		return "", false
	}
	if n, ok := jsonutil.Int64(v); ok {
		return strconv.FormatInt(n, 10), true
	}
	b, err := jsonutil.CanonicalValue(v)
	if err != nil {
		return "", false
	}
	return string(b), true
}
