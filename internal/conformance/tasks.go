package conformance

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/wondertwin-ai/apiconform/internal/auth"
	"github.com/wondertwin-ai/apiconform/internal/contract"
	"github.com/wondertwin-ai/apiconform/internal/jsonutil"
	"github.com/wondertwin-ai/apiconform/internal/lifecycle"
	"github.com/wondertwin-ai/apiconform/internal/pagination"
	"github.com/wondertwin-ai/apiconform/internal/report"
)

func tasksLifecycle(ctx context.Context, env *Env) report.Outcome {
	sess, err := env.login(ctx)
	if err != nil {
		return report.FromError(err)
	}
	d := lifecycle.NewDriver(env.Client, env.Contract, env.Logger)
	res := d.Run(ctx, sess, env.fixturePayload(newTag()), env.Contract.Fixture.Update)
	return res.Outcome()
}

func tasksRoundTrip(ctx context.Context, env *Env) report.Outcome {
	const check = "round-trip"
	rc := env.Contract.Resource
	sess, err := env.login(ctx)
	if err != nil {
		return report.FromError(err)
	}
	tag := newTag()
	id, created, err := env.createFixture(ctx, sess, check, tag)
	if err != nil {
		return report.FromError(err)
	}
	defer env.deleteFixtures(ctx, sess, id)

	update := map[string]any{}
	if rc.TitleField != "" {
		update[rc.TitleField] = "renamed " + tag
	}
	if v, ok := another(rc.Statuses, created[rc.StatusField]); ok && rc.StatusField != "" {
		update[rc.StatusField] = v
	}
	if v, ok := another(rc.Priorities, created[rc.PriorityField]); ok && rc.PriorityField != "" {
		update[rc.PriorityField] = v
	}

	resp, err := env.Client.Put(ctx, env.Contract.ItemURL(id), update, auth.AuthHeader(sess))
	if err != nil {
		return report.FromError(err)
	}
	if err := contract.ExpectStatus(check+": update", resp.Status, rc.Update); err != nil {
		return report.FromError(err)
	}

	resp, err = env.Client.Get(ctx, env.Contract.ItemURL(id), auth.AuthHeader(sess))
	if err != nil {
		return report.FromError(err)
	}
	if err := contract.ExpectStatus(check+": read", resp.Status, rc.Read); err != nil {
		return report.FromError(err)
	}
	got := resp.Object()
	for _, field := range slices.Sorted(maps.Keys(update)) {
		if !jsonutil.Equal(got[field], update[field]) {
			return report.FromError(contract.Violationf(check, "%s is %v after update, want %v", field, got[field], update[field]))
		}
	}
	return report.Pass()
}

// another picks a value from values that differs from current.
func another(values []string, current any) (string, bool) {
	for _, v := range values {
		if v != current {
			return v, true
		}
	}
	return "", false
}

func tasksValidation(ctx context.Context, env *Env) report.Outcome {
	const check = "validation"
	rc := env.Contract.Resource
	sess, err := env.login(ctx)
	if err != nil {
		return report.FromError(err)
	}
	payload := env.fixturePayload(newTag())
	delete(payload, rc.TitleField)

	resp, err := env.Client.Post(ctx, rc.CollectionPath, payload, auth.AuthHeader(sess))
	if err != nil {
		return report.FromError(err)
	}
	if rc.Create.Allows(resp.Status) {
		// The backend accepted it; do not leave it behind.
		if id, ok := jsonutil.Int64(resp.Object()[rc.IDField]); ok {
			env.deleteFixtures(ctx, sess, id)
		}
	}
	if err := contract.ExpectStatus(check, resp.Status, rc.Invalid); err != nil {
		return report.FromError(err)
	}
	return report.FromError(requireDetail(check, resp))
}

func tasksNotFound(ctx context.Context, env *Env) report.Outcome {
	const check = "not-found"
	rc := env.Contract.Resource
	sess, err := env.login(ctx)
	if err != nil {
		return report.FromError(err)
	}
	resp, err := env.Client.Get(ctx, env.Contract.ItemURL(rc.AbsentID), auth.AuthHeader(sess))
	if err != nil {
		return report.FromError(err)
	}
	if err := contract.ExpectStatus(check, resp.Status, rc.NotFound); err != nil {
		return report.FromError(err)
	}
	return report.FromError(requireDetail(check, resp))
}

func tasksIdempotentGet(ctx context.Context, env *Env) report.Outcome {
	const check = "idempotent-get"
	sess, err := env.login(ctx)
	if err != nil {
		return report.FromError(err)
	}
	id, _, err := env.createFixture(ctx, sess, check, newTag())
	if err != nil {
		return report.FromError(err)
	}
	defer env.deleteFixtures(ctx, sess, id)

	var bodies [2][]byte
	for i := range bodies {
		resp, err := env.Client.Get(ctx, env.Contract.ItemURL(id), auth.AuthHeader(sess))
		if err != nil {
			return report.FromError(err)
		}
		if err := contract.ExpectStatus(fmt.Sprintf("%s: read %d", check, i+1), resp.Status, env.Contract.Resource.Read); err != nil {
			return report.FromError(err)
		}
		canonical, err := jsonutil.Canonical(resp.Body)
		if err != nil {
			return report.FromError(contract.Violationf(check, "read %d: body is not JSON: %v", i+1, err))
		}
		bodies[i] = canonical
	}
	if !bytes.Equal(bodies[0], bodies[1]) {
		return report.FromError(contract.Violationf(check, "responses differ: %s vs %s", bodies[0], bodies[1]))
	}
	return report.Pass()
}

func tasksPagination(ctx context.Context, env *Env) report.Outcome {
	const check = "pagination"
	pc := env.Contract.Pagination
	if pc.SearchParam == "" {
		return report.FromError(contract.Violationf(check, "contract has no pagination.search_param to isolate fixtures"))
	}
	sess, err := env.login(ctx)
	if err != nil {
		return report.FromError(err)
	}

	tag := newTag()
	var ids []int64
	defer func() { env.deleteFixtures(ctx, sess, ids...) }()
	for range env.Options.FixtureCount {
		id, _, err := env.createFixture(ctx, sess, check, tag)
		if err != nil {
			return report.FromError(err)
		}
		ids = append(ids, id)
	}

	pg := pagination.NewChecker(env.Client, env.Contract, env.Logger)
	pg.MaxPages = env.Options.MaxPages
	res := pg.Check(ctx, sess, env.Contract.Resource.CollectionPath, env.Options.PageLimit, map[string]string{pc.SearchParam: tag})
	if o := res.Outcome(); !o.Passed {
		return o
	}
	if res.Total != len(ids) {
		return report.FromError(contract.Violationf(check, "total is %d for %d tagged fixtures", res.Total, len(ids)))
	}
	return report.Pass()
}

func tasksPaginationEmpty(ctx context.Context, env *Env) report.Outcome {
	pc := env.Contract.Pagination
	if pc.SearchParam == "" {
		return report.FromError(contract.Violationf("pagination-empty", "contract has no pagination.search_param to filter the collection"))
	}
	sess, err := env.login(ctx)
	if err != nil {
		return report.FromError(err)
	}
	pg := pagination.NewChecker(env.Client, env.Contract, env.Logger)
	res := pg.CheckEmpty(ctx, sess, env.Contract.Resource.CollectionPath, env.Options.PageLimit, map[string]string{pc.SearchParam: newTag()})
	return res.Outcome()
}
