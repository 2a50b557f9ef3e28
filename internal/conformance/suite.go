package conformance

import (
	"context"
	"time"

	"github.com/wondertwin-ai/apiconform/internal/report"
	"golang.org/x/sync/errgroup"
)

// Run executes scenarios with at most parallel of them in flight and
// returns the summarized report. Outcomes are recorded in the order the
// scenarios were given, whatever order they finish in.
func Run(ctx context.Context, env *Env, scenarios []Scenario, parallel int) report.Report {
	if parallel < 1 {
		parallel = 1
	}
	rec := report.NewRecorder()

	type finished struct {
		outcome  report.Outcome
		duration time.Duration
	}
	results := make([]finished, len(scenarios))

	var g errgroup.Group
	g.SetLimit(parallel)
	for i, s := range scenarios {
		g.Go(func() error {
			start := time.Now()
			env.Logger.Debug("scenario started", "scenario", s.Name)
			o := s.Run(ctx, env)
			results[i] = finished{outcome: o, duration: time.Since(start)}
			env.Logger.Info("scenario finished", "scenario", s.Name, "passed", o.Passed, "duration", results[i].duration)
			return nil
		})
	}
	_ = g.Wait()

	for i, s := range scenarios {
		rec.RecordTimed(s.Name, results[i].outcome, results[i].duration)
	}
	return rec.Summarize()
}
