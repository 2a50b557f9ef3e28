// Package report collects scenario outcomes and summarizes them into a
// pass/fail report.
//
// Every assertion in the harness ends up as an Outcome recorded under a
// scenario name. A scenario with several recorded outcomes passes only if
// all of them passed; its failure message is the first failing one.
package report

import (
	"fmt"
	"sync"
	"time"
)

// Outcome is the result of one assertion: a pass, or a failure with a
// message naming the violated expectation.
type Outcome struct {
	Passed  bool
	Message string
}

// Pass returns a passing Outcome.
func Pass() Outcome { return Outcome{Passed: true} }

// Fail returns a failing Outcome.
func Fail(msg string) Outcome { return Outcome{Message: msg} }

// Failf returns a failing Outcome with a formatted message.
func Failf(format string, args ...any) Outcome {
	return Outcome{Message: fmt.Sprintf(format, args...)}
}

// FromError maps nil to Pass and any other error to Fail(err.Error()).
func FromError(err error) Outcome {
	if err == nil {
		return Pass()
	}
	return Fail(err.Error())
}

func (o Outcome) String() string {
	if o.Passed {
		return "PASS"
	}
	return "FAIL: " + o.Message
}

// Entry is the summarized result of one scenario.
type Entry struct {
	Name     string
	Passed   bool
	Message  string
	Checks   int
	Duration time.Duration
}

// Failure pairs a failed scenario with its first violation.
type Failure struct {
	Scenario string
	Message  string
}

// Report is the summary of a run.
type Report struct {
	Total     int
	Passed    int
	Failed    int
	Duration  time.Duration
	Scenarios []Entry
	Failures  []Failure
}

// ExitCode is 0 when no scenario failed, 1 otherwise.
func (r *Report) ExitCode() int {
	if r.Failed == 0 {
		return 0
	}
	return 1
}

type record struct {
	scenario string
	outcome  Outcome
	duration time.Duration
}

// Recorder accumulates outcomes. It is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	records []record
	started time.Time
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{started: time.Now()}
}

// Record appends an outcome for scenario.
func (r *Recorder) Record(scenario string, o Outcome) {
	r.RecordTimed(scenario, o, 0)
}

// RecordTimed appends an outcome together with the time it took.
func (r *Recorder) RecordTimed(scenario string, o Outcome, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record{scenario: scenario, outcome: o, duration: d})
}

// Summarize folds the recorded outcomes into a Report. Scenarios appear in
// the order they were first recorded.
func (r *Recorder) Summarize() Report {
	r.mu.Lock()
	records := make([]record, len(r.records))
	copy(records, r.records)
	started := r.started
	r.mu.Unlock()

	index := map[string]int{}
	var entries []Entry
	for _, rec := range records {
		i, ok := index[rec.scenario]
		if !ok {
			i = len(entries)
			index[rec.scenario] = i
			entries = append(entries, Entry{Name: rec.scenario, Passed: true})
		}
		e := &entries[i]
		e.Checks++
		e.Duration += rec.duration
		if !rec.outcome.Passed && e.Passed {
			e.Passed = false
			e.Message = rec.outcome.Message
		}
	}

	rep := Report{Scenarios: entries, Total: len(entries)}
	if !started.IsZero() {
		rep.Duration = time.Since(started)
	}
	for _, e := range entries {
		if e.Passed {
			rep.Passed++
			continue
		}
		rep.Failed++
		rep.Failures = append(rep.Failures, Failure{Scenario: e.Name, Message: e.Message})
	}
	return rep
}
