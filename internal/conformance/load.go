package conformance

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/wondertwin-ai/apiconform/internal/auth"
	"github.com/wondertwin-ai/apiconform/internal/client"
	"github.com/wondertwin-ai/apiconform/internal/concurrency"
	"github.com/wondertwin-ai/apiconform/internal/contract"
	"github.com/wondertwin-ai/apiconform/internal/jsonutil"
	"github.com/wondertwin-ai/apiconform/internal/report"
	"github.com/wondertwin-ai/apiconform/internal/schema"
)

func corsPreflight(ctx context.Context, env *Env) report.Outcome {
	const check = "preflight"
	cc := env.Contract.CORS
	resp, err := env.Client.Options(ctx, cc.Path, map[string]string{
		"Origin":                        cc.Origin,
		"Access-Control-Request-Method": cc.RequestMethod,
	})
	if err != nil {
		return report.FromError(err)
	}
	if err := contract.ExpectStatus(check, resp.Status, cc.Codes); err != nil {
		return report.FromError(err)
	}
	if origin := resp.Header("Access-Control-Allow-Origin"); origin != "*" && origin != cc.Origin {
		return report.FromError(contract.Violationf(check, "access-control-allow-origin is %q, want * or %s", origin, cc.Origin))
	}
	methods := resp.Header("Access-Control-Allow-Methods")
	if methods == "" {
		return report.FromError(contract.Violationf(check, "access-control-allow-methods is missing"))
	}
	if !allowsMethod(methods, cc.RequestMethod) {
		return report.FromError(contract.Violationf(check, "access-control-allow-methods %q does not include %s", methods, cc.RequestMethod))
	}
	return report.Pass()
}

func allowsMethod(header, method string) bool {
	for _, m := range strings.Split(header, ",") {
		m = strings.TrimSpace(m)
		if m == "*" || strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

func (e *Env) concurrencyDriver() *concurrency.Driver {
	d := concurrency.NewDriver(e.Client, e.Logger)
	d.LatencyBound = e.Options.LatencyBound
	return d
}

// validTask checks a response body against the task shape and, when id is
// non-zero, that it is the expected resource.
func (e *Env) validTask(id int64) func(*client.Response) error {
	sch := e.Contract.TaskSchema()
	idField := e.Contract.Resource.IDField
	return func(resp *client.Response) error {
		if err := schema.Validate(resp.JSON, sch).Error(); err != nil {
			return err
		}
		if id == 0 {
			return nil
		}
		if got, _ := jsonutil.Int64(resp.Object()[idField]); got != id {
			return fmt.Errorf("%s is %d, want %d", idField, got, id)
		}
		return nil
	}
}

func concurrentReads(ctx context.Context, env *Env) report.Outcome {
	sess, err := env.login(ctx)
	if err != nil {
		return report.FromError(err)
	}
	id, _, err := env.createFixture(ctx, sess, "concurrent-reads", newTag())
	if err != nil {
		return report.FromError(err)
	}
	defer env.deleteFixtures(ctx, sess, id)

	specs := make([]concurrency.RequestSpec, env.Options.Concurrency)
	for i := range specs {
		specs[i] = concurrency.RequestSpec{
			Name:         fmt.Sprintf("read %d", i+1),
			Request:      client.Request{Method: http.MethodGet, Path: env.Contract.ItemURL(id), Headers: auth.AuthHeader(sess)},
			ExpectStatus: env.Contract.Resource.Read,
			Validate:     env.validTask(id),
		}
	}
	return concurrency.Summarize(env.concurrencyDriver().Run(ctx, specs))
}

func concurrentCreates(ctx context.Context, env *Env) report.Outcome {
	const check = "concurrent-creates"
	rc := env.Contract.Resource
	sess, err := env.login(ctx)
	if err != nil {
		return report.FromError(err)
	}

	tag := newTag()
	specs := make([]concurrency.RequestSpec, env.Options.Concurrency)
	for i := range specs {
		specs[i] = concurrency.RequestSpec{
			Name: fmt.Sprintf("create %d", i+1),
			Request: client.Request{
				Method:  http.MethodPost,
				Path:    rc.CollectionPath,
				Headers: auth.AuthHeader(sess),
				Body:    env.fixturePayload(tag),
			},
			ExpectStatus: rc.Create,
			Validate:     env.validTask(0),
		}
	}
	results := env.concurrencyDriver().Run(ctx, specs)

	ids := mapset.NewThreadUnsafeSet[int64]()
	var created []int64
	for _, r := range results {
		if r.Response == nil || !rc.Create.Allows(r.Status) {
			continue
		}
		if id, ok := jsonutil.Int64(r.Response.Object()[rc.IDField]); ok {
			created = append(created, id)
			ids.Add(id)
		}
	}
	env.deleteFixtures(ctx, sess, ids.ToSlice()...)

	if o := concurrency.Summarize(results); !o.Passed {
		return o
	}
	if ids.Cardinality() != len(created) {
		return report.FromError(contract.Violationf(check, "%d creates returned only %d distinct ids", len(created), ids.Cardinality()))
	}
	return report.Pass()
}
