// Package concurrency dispatches a batch of requests at once and judges
// each response on its own.
package concurrency

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wondertwin-ai/apiconform/internal/client"
	"github.com/wondertwin-ai/apiconform/internal/contract"
	"github.com/wondertwin-ai/apiconform/internal/report"
	"golang.org/x/sync/errgroup"
)

// DefaultLatencyBound is the slowest acceptable response.
const DefaultLatencyBound = 2 * time.Second

// RequestSpec is one request of a batch. Validate, when set, runs on
// responses whose status was expected.
type RequestSpec struct {
	Name         string
	Request      client.Request
	ExpectStatus contract.Codes
	Validate     func(*client.Response) error
}

// ResponseResult is the verdict for one RequestSpec. Response is nil when
// the request failed in transport.
type ResponseResult struct {
	Index    int
	Name     string
	Status   int
	Latency  time.Duration
	Passed   bool
	Message  string
	Response *client.Response
}

// Driver fans a batch out and waits for all of it.
type Driver struct {
	LatencyBound time.Duration

	client *client.Client
	logger *slog.Logger
}

// NewDriver creates a Driver. A nil logger means slog.Default().
func NewDriver(c *client.Client, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{LatencyBound: DefaultLatencyBound, client: c, logger: logger}
}

// Run sends every spec concurrently and returns one result per spec, in
// input order. A failing request never cancels the others.
func (d *Driver) Run(ctx context.Context, specs []RequestSpec) []ResponseResult {
	results := make([]ResponseResult, len(specs))
	var g errgroup.Group
	for i, spec := range specs {
		g.Go(func() error {
			results[i] = d.one(ctx, i, spec)
			return nil
		})
	}
	_ = g.Wait()
	d.logger.Debug("batch complete", "requests", len(specs))
	return results
}

func (d *Driver) one(ctx context.Context, i int, spec RequestSpec) ResponseResult {
	res := ResponseResult{Index: i, Name: spec.Name}
	if res.Name == "" {
		res.Name = fmt.Sprintf("request %d", i)
	}

	resp, err := d.client.Do(ctx, spec.Request)
	if err != nil {
		res.Message = err.Error()
		return res
	}
	res.Status = resp.Status
	res.Latency = resp.Latency
	res.Response = resp

	switch {
	case len(spec.ExpectStatus) > 0 && !spec.ExpectStatus.Allows(resp.Status):
		res.Message = fmt.Sprintf("expected status %s, got %d", spec.ExpectStatus, resp.Status)
	case d.LatencyBound > 0 && resp.Latency > d.LatencyBound:
		res.Message = fmt.Sprintf("latency %s exceeds bound %s", resp.Latency.Round(time.Millisecond), d.LatencyBound)
	case spec.Validate != nil:
		if err := spec.Validate(resp); err != nil {
			res.Message = err.Error()
		}
	}
	res.Passed = res.Message == ""
	return res
}

// Summarize folds a batch into one outcome. It fails on the first failing
// result and reports how many failed.
func Summarize(results []ResponseResult) report.Outcome {
	var (
		failed int
		first  *ResponseResult
	)
	for i := range results {
		if !results[i].Passed {
			failed++
			if first == nil {
				first = &results[i]
			}
		}
	}
	if first == nil {
		return report.Pass()
	}
	return report.Failf("%d of %d requests failed; %s: %s", failed, len(results), first.Name, first.Message)
}
