package pagination

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wondertwin-ai/apiconform/internal/auth"
	"github.com/wondertwin-ai/apiconform/internal/client"
	"github.com/wondertwin-ai/apiconform/internal/contract"
	"github.com/wondertwin-ai/apiconform/internal/jsonutil"
	twinstore "github.com/wondertwin-ai/apiconform/internal/twin/store"
	"github.com/wondertwin-ai/apiconform/pkg/store"
	"github.com/wondertwin-ai/apiconform/pkg/testutil"
	"github.com/wondertwin-ai/apiconform/pkg/twincore"
)

var fields = contract.Default().Pagination.Envelope

// envelopeOf turns a store page into the decoded form a client sees.
func envelopeOf(t *testing.T, p store.Page[int]) Envelope {
	data, err := jsonutil.Marshal(p)
	require.NoError(t, err)
	doc, err := jsonutil.Decode(data)
	require.NoError(t, err)
	env, err := ParseEnvelope(doc, fields)
	require.NoError(t, err)
	return env
}

func TestCheckEnvelopeProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	items := func(n int) []int {
		out := make([]int, n)
		for i := range out {
			out[i] = i + 1
		}
		return out
	}

	properties.Property("a correct envelope has no violations", prop.ForAll(
		func(total, page, limit int) bool {
			env := envelopeOf(t, store.Paginate(items(total), page, limit))
			return len(CheckEnvelope(env, page, limit)) == 0
		},
		gen.IntRange(0, 300),
		gen.IntRange(1, 40),
		gen.IntRange(1, 100),
	))

	properties.Property("a flipped has_next is always caught", prop.ForAll(
		func(total, page, limit int) bool {
			env := envelopeOf(t, store.Paginate(items(total), page, limit))
			env.HasNext = !env.HasNext
			return len(CheckEnvelope(env, page, limit)) == 1
		},
		gen.IntRange(0, 300),
		gen.IntRange(1, 40),
		gen.IntRange(1, 100),
	))

	properties.Property("a flipped has_prev is always caught", prop.ForAll(
		func(total, page, limit int) bool {
			env := envelopeOf(t, store.Paginate(items(total), page, limit))
			env.HasPrev = !env.HasPrev
			return len(CheckEnvelope(env, page, limit)) == 1
		},
		gen.IntRange(0, 300),
		gen.IntRange(1, 40),
		gen.IntRange(1, 100),
	))

	properties.TestingRun(t)
}

func TestCheckEnvelopeReportsEachBreak(t *testing.T) {
	env := Envelope{Items: make([]any, 5), Total: -1, Page: 2, Limit: 3, HasNext: true, HasPrev: true}
	v := CheckEnvelope(env, 1, 4)
	assert.Len(t, v, 6)
	assert.Contains(t, v, "total is negative (-1)")
	assert.Contains(t, v, "page is 2, requested 1")
	assert.Contains(t, v, "5 items exceed limit 4")
}

func TestParseEnvelopeRejectsWrongTypes(t *testing.T) {
	_, err := ParseEnvelope([]any{}, fields)
	assert.EqualError(t, err, "envelope: expected object, got array")

	_, err = ParseEnvelope(map[string]any{"items": []any{}, "total": "3"}, fields)
	assert.EqualError(t, err, `envelope: "total" is string, want integer`)

	_, err = ParseEnvelope(map[string]any{
		"items": []any{}, "total": 0.0, "page": 1.0, "limit": 10.0, "has_next": "no", "has_prev": false,
	}, fields)
	assert.EqualError(t, err, `envelope: "has_next" is string, want boolean`)
}

func TestExpectedPages(t *testing.T) {
	assert.Equal(t, 1, expectedPages(0, 10))
	assert.Equal(t, 1, expectedPages(10, 10))
	assert.Equal(t, 2, expectedPages(11, 10))
	assert.Equal(t, 3, expectedPages(7, 3))
}

func loginTwin(t *testing.T) (*testutil.Twin, *Checker, *auth.Session) {
	t.Helper()
	tw := testutil.StartTwin(t)
	c, err := client.New(tw.APIURL())
	require.NoError(t, err)
	ct := contract.Default()
	sess, err := auth.NewProvider(c, ct.Auth, nil).Login(context.Background(), auth.Credentials{
		Email: twinstore.DefaultEmail, Password: twinstore.DefaultPassword,
	})
	require.NoError(t, err)
	return tw, NewChecker(c, ct, nil), sess
}

func TestCheckWalksTwin(t *testing.T) {
	tw, checker, sess := loginTwin(t)
	for i := range 7 {
		tw.Backend.Store.CreateTask(1, twinstore.Task{Title: fmt.Sprintf("walk-tag %d", i), Status: "TODO", Priority: "LOW"})
	}
	tw.Backend.Store.CreateTask(1, twinstore.Task{Title: "unrelated", Status: "TODO", Priority: "LOW"})

	res := checker.Check(context.Background(), sess, "/tasks", 3, map[string]string{"search": "walk-tag"})
	require.NoError(t, res.Err)
	assert.Empty(t, res.Violations)
	assert.Equal(t, 3, res.PagesChecked)
	assert.Equal(t, 7, res.Total)
	assert.True(t, res.Outcome().Passed)
}

func TestCheckEmptyOnTwin(t *testing.T) {
	_, checker, sess := loginTwin(t)

	res := checker.CheckEmpty(context.Background(), sess, "/tasks", 10, map[string]string{"search": "nothing-matches-this"})
	require.NoError(t, res.Err)
	assert.Empty(t, res.Violations)

	res = checker.Check(context.Background(), sess, "/tasks", 10, map[string]string{"search": "nothing-matches-this"})
	assert.Empty(t, res.Violations)
	assert.Equal(t, 1, res.PagesChecked)
}

func TestCheckUnauthorizedIsFatal(t *testing.T) {
	_, checker, _ := loginTwin(t)
	res := checker.Check(context.Background(), nil, "/tasks", 10, nil)
	assert.EqualError(t, res.Err, "page 1: expected status 200, got 401")
	assert.False(t, res.Outcome().Passed)
}

// brokenList serves a fixed-size collection with a chosen defect.
func brokenList(t *testing.T, page func(n, limit int) map[string]any) *Checker {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, _ := strconv.Atoi(r.URL.Query().Get("page"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		twincore.JSON(w, http.StatusOK, page(n, limit))
	}))
	t.Cleanup(srv.Close)
	c, err := client.New(srv.URL)
	require.NoError(t, err)
	return NewChecker(c, contract.Default(), nil)
}

func TestCheckDetectsBrokenBackends(t *testing.T) {
	t.Run("has_next never false", func(t *testing.T) {
		checker := brokenList(t, func(n, limit int) map[string]any {
			return map[string]any{"items": []any{}, "total": 1000, "page": n, "limit": limit, "has_next": true, "has_prev": n > 1}
		})
		checker.MaxPages = 4
		res := checker.Check(context.Background(), nil, "/tasks", 2, nil)
		assert.Equal(t, 4, res.PagesChecked)
		assert.Contains(t, res.Violations, "has_next still true after 4 pages")
	})

	t.Run("same page repeated", func(t *testing.T) {
		checker := brokenList(t, func(n, limit int) map[string]any {
			items := []any{map[string]any{"id": 1}, map[string]any{"id": 2}}
			return map[string]any{"items": items, "total": 4, "page": n, "limit": limit, "has_next": n*limit < 4, "has_prev": n > 1}
		})
		res := checker.Check(context.Background(), nil, "/tasks", 2, nil)
		require.NoError(t, res.Err)
		assert.Contains(t, res.Violations, "page 2: duplicate id 1")
		assert.Contains(t, res.Violations, "saw 2 distinct items, total is 4")
	})

	t.Run("total drifts", func(t *testing.T) {
		checker := brokenList(t, func(n, limit int) map[string]any {
			total := 3 + n
			items := []any{map[string]any{"id": n*10 + 1}, map[string]any{"id": n*10 + 2}}
			if n == 2 {
				items = items[:1]
			}
			return map[string]any{"items": items, "total": total, "page": n, "limit": limit, "has_next": n == 1, "has_prev": n > 1}
		})
		res := checker.Check(context.Background(), nil, "/tasks", 2, nil)
		assert.Contains(t, res.Violations, "page 2: total changed from 4 to 5")
	})

	t.Run("not an envelope", func(t *testing.T) {
		checker := brokenList(t, func(int, int) map[string]any {
			return map[string]any{"results": []any{}}
		})
		res := checker.Check(context.Background(), nil, "/tasks", 2, nil)
		assert.EqualError(t, res.Err, `page 1: envelope: "items" is null, want array`)
	})
}
