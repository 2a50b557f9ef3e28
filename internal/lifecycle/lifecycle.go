// Package lifecycle drives one resource through create, read, update,
// delete and confirms it is gone.
//
// Each step sends exactly one request. The first failing step aborts the
// run; nothing is retried. When a run aborts after the resource was
// created, the driver deletes it on a best-effort basis.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wondertwin-ai/apiconform/internal/auth"
	"github.com/wondertwin-ai/apiconform/internal/client"
	"github.com/wondertwin-ai/apiconform/internal/contract"
	"github.com/wondertwin-ai/apiconform/internal/jsonutil"
	"github.com/wondertwin-ai/apiconform/internal/report"
	"github.com/wondertwin-ai/apiconform/internal/schema"
)

// Step names a lifecycle stage.
type Step string

const (
	StepCreate          Step = "create"
	StepRead            Step = "read"
	StepUpdate          Step = "update"
	StepReadUpdated     Step = "read-updated"
	StepDelete          Step = "delete"
	StepReadAfterDelete Step = "read-after-delete"
)

// Steps lists the stages in execution order.
var Steps = []Step{StepCreate, StepRead, StepUpdate, StepReadUpdated, StepDelete, StepReadAfterDelete}

// Result records what a run observed. FailedStep and Err are empty when the
// whole lifecycle passed.
type Result struct {
	ID               int64
	Created          map[string]any
	Read             map[string]any
	Updated          map[string]any
	DeletedConfirmed bool
	FailedStep       Step
	Err              error
}

// Passed reports whether every step succeeded.
func (r *Result) Passed() bool {
	return r.Err == nil && r.DeletedConfirmed
}

// Outcome converts r for the report.
func (r *Result) Outcome() report.Outcome {
	if r.Err != nil {
		return report.FromError(r.Err)
	}
	if !r.DeletedConfirmed {
		return report.Fail("lifecycle ended without confirming deletion")
	}
	return report.Pass()
}

// Driver runs lifecycles against one resource contract.
type Driver struct {
	client   *client.Client
	contract *contract.Contract
	schema   *schema.Schema
	logger   *slog.Logger
}

// NewDriver creates a Driver. A nil logger means slog.Default().
func NewDriver(c *client.Client, ct *contract.Contract, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{client: c, contract: ct, schema: ct.TaskSchema(), logger: logger}
}

type run struct {
	d       *Driver
	ctx     context.Context
	headers map[string]string
	res     *Result

	createdAt time.Time
	deleted   bool
}

// Run executes the lifecycle with the given payloads.
func (d *Driver) Run(ctx context.Context, sess *auth.Session, create, update map[string]any) Result {
	res := Result{}
	r := &run{d: d, ctx: ctx, headers: auth.AuthHeader(sess), res: &res}

	steps := []struct {
		step Step
		fn   func() error
	}{
		{StepCreate, func() error { return r.create(create) }},
		{StepRead, r.read},
		{StepUpdate, func() error { return r.update(update) }},
		{StepReadUpdated, func() error { return r.readUpdated(update) }},
		{StepDelete, r.delete},
		{StepReadAfterDelete, r.readAfterDelete},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			res.FailedStep = s.step
			res.Err = err
			d.logger.Debug("lifecycle aborted", "step", s.step, "id", res.ID, "error", err)
			r.cleanup()
			return res
		}
	}
	return res
}

func (r *run) rc() contract.ResourceContract { return r.d.contract.Resource }

func (r *run) create(payload map[string]any) error {
	resp, err := r.d.client.Post(r.ctx, r.rc().CollectionPath, payload, r.headers)
	if err != nil {
		return fmt.Errorf("%s: %w", StepCreate, err)
	}
	obj, err := r.record(StepCreate, resp, r.rc().Create)
	if err != nil {
		return err
	}
	id, ok := jsonutil.Int64(obj[r.rc().IDField])
	if !ok {
		return contract.Violationf(string(StepCreate), "%s %v is not an integer", r.rc().IDField, obj[r.rc().IDField])
	}
	r.res.ID = id
	r.res.Created = obj
	if err := r.fieldsMatch(StepCreate, obj, payload); err != nil {
		return err
	}
	ts, err := r.updatedAt(StepCreate, obj)
	if err != nil {
		return err
	}
	r.createdAt = ts
	return nil
}

func (r *run) read() error {
	obj, err := r.get(StepRead, r.rc().Read)
	if err != nil {
		return err
	}
	r.res.Read = obj
	return nil
}

func (r *run) update(update map[string]any) error {
	resp, err := r.d.client.Put(r.ctx, r.d.contract.ItemURL(r.res.ID), update, r.headers)
	if err != nil {
		return fmt.Errorf("%s: %w", StepUpdate, err)
	}
	obj, err := r.record(StepUpdate, resp, r.rc().Update)
	if err != nil {
		return err
	}
	if err := r.checkUpdated(StepUpdate, obj, update); err != nil {
		return err
	}
	r.res.Updated = obj
	return nil
}

func (r *run) readUpdated(update map[string]any) error {
	obj, err := r.get(StepReadUpdated, r.rc().Read)
	if err != nil {
		return err
	}
	return r.checkUpdated(StepReadUpdated, obj, update)
}

func (r *run) delete() error {
	resp, err := r.d.client.Delete(r.ctx, r.d.contract.ItemURL(r.res.ID), r.headers)
	if err != nil {
		return fmt.Errorf("%s: %w", StepDelete, err)
	}
	if err := contract.ExpectStatus(string(StepDelete), resp.Status, r.rc().Delete); err != nil {
		return err
	}
	r.deleted = true
	return nil
}

func (r *run) readAfterDelete() error {
	resp, err := r.d.client.Get(r.ctx, r.d.contract.ItemURL(r.res.ID), r.headers)
	if err != nil {
		return fmt.Errorf("%s: %w", StepReadAfterDelete, err)
	}
	if err := contract.ExpectStatus(string(StepReadAfterDelete), resp.Status, r.rc().NotFound); err != nil {
		return err
	}
	r.res.DeletedConfirmed = true
	return nil
}

// cleanup deletes a created resource that the run did not get to delete.
func (r *run) cleanup() {
	if r.res.ID == 0 || r.deleted {
		return
	}
	// The caller's context may be what failed; give cleanup its own budget.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), client.DefaultTimeout)
	defer cancel()
	resp, err := r.d.client.Delete(ctx, r.d.contract.ItemURL(r.res.ID), r.headers)
	if err != nil {
		r.d.logger.Warn("cleanup delete failed", "id", r.res.ID, "error", err)
		return
	}
	r.d.logger.Debug("cleanup delete", "id", r.res.ID, "status", resp.Status)
}

// get reads the resource and checks status, shape and id stability.
func (r *run) get(step Step, want contract.Codes) (map[string]any, error) {
	resp, err := r.d.client.Get(r.ctx, r.d.contract.ItemURL(r.res.ID), r.headers)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", step, err)
	}
	return r.record(step, resp, want)
}

// record checks status and schema of a single-resource response and, once
// the id is known, that it has not changed.
func (r *run) record(step Step, resp *client.Response, want contract.Codes) (map[string]any, error) {
	if err := contract.ExpectStatus(string(step), resp.Status, want); err != nil {
		return nil, err
	}
	res := schema.Validate(resp.JSON, r.d.schema)
	if !res.Valid {
		return nil, contract.Violationf(string(step), "schema: %s", res.Violations[0])
	}
	obj := resp.Object()
	if r.res.ID != 0 {
		id, _ := jsonutil.Int64(obj[r.rc().IDField])
		if id != r.res.ID {
			return nil, contract.Violationf(string(step), "%s changed from %d to %v", r.rc().IDField, r.res.ID, obj[r.rc().IDField])
		}
	}
	return obj, nil
}

// checkUpdated requires updated_at to advance only when update differs
// from the record the server returned on create.
func (r *run) checkUpdated(step Step, obj, update map[string]any) error {
	if err := r.fieldsMatch(step, obj, update); err != nil {
		return err
	}
	ts, err := r.updatedAt(step, obj)
	if err != nil {
		return err
	}
	field := r.rc().UpdatedAtField
	if ts.Before(r.createdAt) {
		return contract.Violationf(string(step), "%s went backwards: %s before %s", field, ts.Format(time.RFC3339Nano), r.createdAt.Format(time.RFC3339Nano))
	}
	if changes(r.res.Created, update) && !ts.After(r.createdAt) {
		return contract.Violationf(string(step), "%s did not advance after a change", field)
	}
	return nil
}

func (r *run) fieldsMatch(step Step, obj, want map[string]any) error {
	for _, key := range sortedKeys(want) {
		got, ok := obj[key]
		if !ok {
			return contract.Violationf(string(step), "field %q missing from response", key)
		}
		if !jsonutil.Equal(got, want[key]) {
			return contract.Violationf(string(step), "field %q is %v, want %v", key, got, want[key])
		}
	}
	return nil
}

func (r *run) updatedAt(step Step, obj map[string]any) (time.Time, error) {
	field := r.rc().UpdatedAtField
	raw, _ := obj[field].(string)
	ts, err := ParseTimestamp(raw)
	if err != nil {
		return time.Time{}, contract.Violationf(string(step), "%s %q is not a timestamp", field, raw)
	}
	return ts, nil
}

// changes reports whether applying update to record alters any field.
func changes(record, update map[string]any) bool {
	for k, v := range update {
		if prev, ok := record[k]; !ok || !jsonutil.Equal(prev, v) {
			return true
		}
	}
	return false
}
