package lifecycle

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wondertwin-ai/apiconform/internal/auth"
	"github.com/wondertwin-ai/apiconform/internal/client"
	"github.com/wondertwin-ai/apiconform/internal/contract"
	"github.com/wondertwin-ai/apiconform/internal/twin/store"
	"github.com/wondertwin-ai/apiconform/pkg/testutil"
	"github.com/wondertwin-ai/apiconform/pkg/twincore"
)

func startDriver(t *testing.T) (*testutil.Twin, *Driver, *auth.Session) {
	t.Helper()
	tw := testutil.StartTwin(t)
	c, err := client.New(tw.APIURL())
	require.NoError(t, err)
	ct := contract.Default()
	sess, err := auth.NewProvider(c, ct.Auth, nil).Login(context.Background(), auth.Credentials{
		Email: store.DefaultEmail, Password: store.DefaultPassword,
	})
	require.NoError(t, err)
	return tw, NewDriver(c, ct, nil), sess
}

func TestLifecyclePasses(t *testing.T) {
	tw, d, sess := startDriver(t)
	ct := contract.Default()

	res := d.Run(context.Background(), sess, ct.Fixture.Create, ct.Fixture.Update)
	require.NoError(t, res.Err)
	assert.True(t, res.Passed())
	assert.True(t, res.DeletedConfirmed)
	assert.Equal(t, "IN_PROGRESS", res.Updated["status"])
	assert.Equal(t, "API Test Task", res.Read["title"])
	assert.True(t, res.Outcome().Passed)
	assert.Equal(t, 0, tw.Backend.Store.Tasks.Count())
}

func TestLifecycleUpdateFailureCleansUp(t *testing.T) {
	tw, d, sess := startDriver(t)
	ct := contract.Default()
	tw.Admin.InjectFault("/api/v1/tasks/*", twincore.Fault{Method: http.MethodPut, Status: http.StatusInternalServerError})

	res := d.Run(context.Background(), sess, ct.Fixture.Create, ct.Fixture.Update)
	assert.False(t, res.Passed())
	assert.Equal(t, StepUpdate, res.FailedStep)
	assert.EqualError(t, res.Err, "update: expected status 200, got 500")
	assert.NotZero(t, res.ID)
	assert.Equal(t, 0, tw.Backend.Store.Tasks.Count(), "aborted run should delete its resource")
}

func TestLifecycleCreateFailureHasNoID(t *testing.T) {
	tw, d, sess := startDriver(t)
	tw.Admin.InjectFault("/api/v1/tasks", twincore.Fault{Method: http.MethodPost, Status: http.StatusBadRequest})

	res := d.Run(context.Background(), sess, contract.Default().Fixture.Create, nil)
	assert.Equal(t, StepCreate, res.FailedStep)
	assert.Zero(t, res.ID)
	assert.Contains(t, res.Outcome().Message, "create: expected status 201, got 400")
}

func TestLifecycleTransportError(t *testing.T) {
	c, err := client.New("http://127.0.0.1:1", client.WithTimeout(200*time.Millisecond))
	require.NoError(t, err)
	d := NewDriver(c, contract.Default(), nil)

	res := d.Run(context.Background(), nil, map[string]any{"title": "x"}, nil)
	assert.Equal(t, StepCreate, res.FailedStep)
	var te *client.TransportError
	assert.ErrorAs(t, res.Err, &te)
}

// fakeBackend is a task API with switchable defects.
type fakeBackend struct {
	mu     sync.Mutex
	tasks  map[int64]map[string]any
	nextID int64

	keepOnDelete   bool // DELETE answers 204 but the task remains
	freezeUpdateAt bool // updates do not touch updated_at
	dropOnUpdate   string
}

func newFakeBackend(t *testing.T, f *fakeBackend) *client.Client {
	t.Helper()
	f.tasks = map[int64]map[string]any{}
	r := chi.NewRouter()
	r.Post("/tasks", func(w http.ResponseWriter, r *http.Request) {
		var in map[string]any
		_ = json.NewDecoder(r.Body).Decode(&in)
		f.mu.Lock()
		f.nextID++
		now := time.Now().UTC().Format(time.RFC3339Nano)
		in["id"] = f.nextID
		in["created_at"] = now
		in["updated_at"] = now
		in["description"] = nil
		in["project_id"] = nil
		f.tasks[f.nextID] = in
		f.mu.Unlock()
		twincore.JSON(w, http.StatusCreated, in)
	})
	item := func(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
		id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		task, ok := f.tasks[id]
		if !ok {
			twincore.Error(w, http.StatusNotFound, "Task not found")
		}
		return task, ok
	}
	r.Get("/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if task, ok := item(w, r); ok {
			twincore.JSON(w, http.StatusOK, task)
		}
	})
	r.Put("/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		var in map[string]any
		_ = json.NewDecoder(r.Body).Decode(&in)
		f.mu.Lock()
		defer f.mu.Unlock()
		task, ok := item(w, r)
		if !ok {
			return
		}
		for k, v := range in {
			if k != f.dropOnUpdate {
				task[k] = v
			}
		}
		if !f.freezeUpdateAt {
			task["updated_at"] = time.Now().UTC().Add(time.Millisecond).Format(time.RFC3339Nano)
		}
		twincore.JSON(w, http.StatusOK, task)
	})
	r.Delete("/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := item(w, r); !ok {
			return
		}
		if !f.keepOnDelete {
			id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
			delete(f.tasks, id)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	c, err := client.New(srv.URL)
	require.NoError(t, err)
	return c
}

func TestLifecycleDetectsDefects(t *testing.T) {
	create := map[string]any{"title": "API Test Task", "priority": "HIGH", "status": "TODO"}
	update := map[string]any{"status": "IN_PROGRESS"}

	cases := []struct {
		name    string
		backend fakeBackend
		step    Step
		msg     string
	}{
		{"delete is a no-op", fakeBackend{keepOnDelete: true}, StepReadAfterDelete, "read-after-delete: expected status 404, got 200"},
		{"updated_at frozen", fakeBackend{freezeUpdateAt: true}, StepUpdate, "update: updated_at did not advance after a change"},
		{"update ignored", fakeBackend{dropOnUpdate: "status"}, StepUpdate, `update: field "status" is TODO, want IN_PROGRESS`},
	}
	for i := range cases {
		tc := &cases[i]
		t.Run(tc.name, func(t *testing.T) {
			c := newFakeBackend(t, &tc.backend)
			res := NewDriver(c, contract.Default(), nil).Run(context.Background(), nil, create, update)
			assert.False(t, res.Passed())
			assert.Equal(t, tc.step, res.FailedStep)
			assert.EqualError(t, res.Err, tc.msg)
		})
	}
}

func TestUnchangedUpdateMayKeepTimestamp(t *testing.T) {
	create := map[string]any{"title": "same", "priority": "LOW", "status": "TODO"}

	for name, update := range map[string]map[string]any{
		"field from payload":       {"status": "TODO"},
		"field the server set":     {"description": nil},
		"several unchanged fields": {"title": "same", "project_id": nil},
	} {
		t.Run(name, func(t *testing.T) {
			f := &fakeBackend{freezeUpdateAt: true}
			c := newFakeBackend(t, f)
			res := NewDriver(c, contract.Default(), nil).Run(context.Background(), nil, create, update)
			require.NoError(t, res.Err)
			assert.True(t, res.Passed())
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	for _, s := range []string{
		"2024-01-02T03:04:05Z",
		"2024-01-02T03:04:05.123456+02:00",
		"2024-01-02T03:04:05.123456",
		"2024-01-02 03:04:05",
	} {
		_, err := ParseTimestamp(s)
		assert.NoError(t, err, s)
	}
	_, err := ParseTimestamp("yesterday")
	assert.Error(t, err)

	naive, err := ParseTimestamp("2024-01-02T03:04:05")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, naive.Location())
}

func TestChanges(t *testing.T) {
	create := map[string]any{"status": "TODO", "priority": float64(1)}
	assert.False(t, changes(create, map[string]any{"status": "TODO"}))
	assert.False(t, changes(create, map[string]any{"priority": int64(1)}))
	assert.True(t, changes(create, map[string]any{"status": "DONE"}))
	assert.True(t, changes(create, map[string]any{"title": "new"}))
	assert.False(t, changes(map[string]any{"description": nil}, map[string]any{"description": nil}))
	assert.Equal(t, fmt.Sprint(Steps), "[create read update read-updated delete read-after-delete]")
}
