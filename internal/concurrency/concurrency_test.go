package concurrency

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wondertwin-ai/apiconform/internal/client"
	"github.com/wondertwin-ai/apiconform/internal/contract"
	"github.com/wondertwin-ai/apiconform/pkg/testutil"
	"github.com/wondertwin-ai/apiconform/pkg/twincore"
)

func setup(t *testing.T) (*testutil.Twin, *Driver, map[string]string) {
	t.Helper()
	tw := testutil.StartTwin(t)
	c, err := client.New(tw.APIURL())
	require.NoError(t, err)
	return tw, NewDriver(c, nil), map[string]string{"Authorization": "Bearer " + tw.Login()}
}

func TestParallelCreatesGetDistinctIDs(t *testing.T) {
	tw, d, h := setup(t)

	specs := make([]RequestSpec, 10)
	for i := range specs {
		specs[i] = RequestSpec{
			Name:         fmt.Sprintf("create %d", i),
			Request:      client.Request{Method: http.MethodPost, Path: "/tasks", Headers: h, Body: map[string]any{"title": fmt.Sprintf("c%d", i)}},
			ExpectStatus: contract.Codes{http.StatusCreated},
		}
	}
	results := d.Run(context.Background(), specs)
	require.Len(t, results, 10)

	ids := mapset.NewSet[float64]()
	for i, r := range results {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, specs[i].Name, r.Name)
		assert.True(t, r.Passed, r.Message)
		ids.Add(r.Response.Object()["id"].(float64))
	}
	assert.Equal(t, 10, ids.Cardinality())
	assert.Equal(t, 10, tw.Backend.Store.Tasks.Count())
	assert.True(t, Summarize(results).Passed)
}

func TestEachResultIsJudgedIndependently(t *testing.T) {
	tw, d, h := setup(t)
	tw.Admin.InjectFault("/api/v1/tasks/2", twincore.Fault{Status: http.StatusInternalServerError})

	specs := []RequestSpec{
		{Name: "me", Request: client.Request{Path: "/users/me", Headers: h}, ExpectStatus: contract.Codes{200}},
		{Name: "faulted", Request: client.Request{Path: "/tasks/2", Headers: h}, ExpectStatus: contract.Codes{404}},
		{Name: "invalid body", Request: client.Request{Path: "/users/me", Headers: h}, ExpectStatus: contract.Codes{200},
			Validate: func(*client.Response) error { return errors.New("email mismatch") }},
		{Name: "missing", Request: client.Request{Path: "/tasks/3", Headers: h}, ExpectStatus: contract.Codes{404}},
	}
	results := d.Run(context.Background(), specs)

	assert.True(t, results[0].Passed)
	assert.False(t, results[1].Passed)
	assert.Equal(t, "expected status 404, got 500", results[1].Message)
	assert.False(t, results[2].Passed)
	assert.Equal(t, "email mismatch", results[2].Message)
	assert.True(t, results[3].Passed)

	out := Summarize(results)
	assert.False(t, out.Passed)
	assert.Equal(t, "2 of 4 requests failed; faulted: expected status 404, got 500", out.Message)
}

func TestLatencyBound(t *testing.T) {
	tw, d, h := setup(t)
	tw.Admin.SetConfig(map[string]any{"latency": "150ms"})
	d.LatencyBound = 50 * time.Millisecond

	results := d.Run(context.Background(), []RequestSpec{
		{Request: client.Request{Path: "/users/me", Headers: h}, ExpectStatus: contract.Codes{200}},
	})
	require.Len(t, results, 1)
	assert.False(t, results[0].Passed)
	assert.Equal(t, "request 0", results[0].Name)
	assert.Contains(t, results[0].Message, "exceeds bound 50ms")
}

func TestTransportErrorFailsOnlyThatRequest(t *testing.T) {
	_, d, h := setup(t)

	results := d.Run(context.Background(), []RequestSpec{
		{Name: "ok", Request: client.Request{Path: "/users/me", Headers: h}, ExpectStatus: contract.Codes{200}},
		{Name: "dead", Request: client.Request{Path: "http://127.0.0.1:1/x", Timeout: 200 * time.Millisecond}},
	})
	assert.True(t, results[0].Passed)
	assert.False(t, results[1].Passed)
	assert.Nil(t, results[1].Response)
	assert.NotEmpty(t, results[1].Message)
}

func TestSummarizeEmptyPasses(t *testing.T) {
	assert.True(t, Summarize(nil).Passed)
}
