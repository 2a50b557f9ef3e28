package twincore

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }

// ---------------------------------------------------------------------------
// Journal
// ---------------------------------------------------------------------------

func TestJournalKeepsNewest(t *testing.T) {
	j := NewJournal(3)
	for _, p := range []string{"/a", "/b", "/c", "/d"} {
		j.Record(Exchange{Method: "GET", Path: p})
	}

	got := j.Since(0)
	require.Len(t, got, 3)
	assert.Equal(t, "/b", got[0].Path)
	assert.Equal(t, uint64(2), got[0].Seq)
	assert.Equal(t, "/d", got[2].Path)
	assert.Equal(t, 3, j.Len())

	got[0].Path = "/mutated"
	assert.Equal(t, "/b", j.Since(0)[0].Path)

	tail := j.Since(3)
	require.Len(t, tail, 1)
	assert.Equal(t, "/d", tail[0].Path)
	assert.Empty(t, j.Since(4))
}

func TestJournalClearKeepsSequence(t *testing.T) {
	j := NewJournal(10)
	j.Record(Exchange{Path: "/a"})
	j.Record(Exchange{Path: "/b"})
	j.Clear()
	assert.Zero(t, j.Len())
	assert.Empty(t, j.Since(0))

	assert.Equal(t, uint64(3), j.Record(Exchange{Path: "/c"}))
	got := j.Since(0)
	require.Len(t, got, 1)
	assert.Equal(t, "/c", got[0].Path)
}

// ---------------------------------------------------------------------------
// FaultTable
// ---------------------------------------------------------------------------

func TestFaultTableMatching(t *testing.T) {
	ft := NewFaultTable()
	require.NoError(t, ft.Put("/api/v1/tasks", Fault{Status: 503}))
	require.NoError(t, ft.Put("/api/v1/tasks/*", Fault{Status: 500, Method: "put"}))
	require.NoError(t, ft.Put("/api/v1/tasks/7", Fault{Status: 409, Method: "PUT"}))
	require.NoError(t, ft.Put("/api/**", Fault{Status: 418, Method: "DELETE"}))

	f, hit := ft.Match("GET", "/api/v1/tasks")
	require.True(t, hit)
	assert.Equal(t, 503, f.Status)

	f, hit = ft.Match("PUT", "/api/v1/tasks/3")
	require.True(t, hit)
	assert.Equal(t, 500, f.Status)

	f, hit = ft.Match("PUT", "/api/v1/tasks/7")
	require.True(t, hit)
	assert.Equal(t, 409, f.Status, "exact path beats the wildcard")

	f, hit = ft.Match("DELETE", "/api/v1/tasks/7")
	require.True(t, hit)
	assert.Equal(t, 418, f.Status)

	_, hit = ft.Match("GET", "/api/v1/tasks/7")
	assert.False(t, hit)
	_, hit = ft.Match("GET", "/api/v1/users/me")
	assert.False(t, hit)
}

func TestFaultTableTimes(t *testing.T) {
	ft := NewFaultTable()
	require.NoError(t, ft.Put("/x", Fault{Status: 500, Times: 2}))

	for range 2 {
		_, hit := ft.Match("GET", "/x")
		assert.True(t, hit)
	}
	_, hit := ft.Match("GET", "/x")
	assert.False(t, hit)
	assert.Empty(t, ft.List())
}

func TestFaultTablePutRejects(t *testing.T) {
	ft := NewFaultTable()
	tests := []struct {
		name    string
		pattern string
		fault   Fault
	}{
		{"relative pattern", "api/v1", Fault{Status: 500}},
		{"bad pattern", "/api/[", Fault{Status: 500}},
		{"nothing to do", "/x", Fault{}},
		{"bad status", "/x", Fault{Status: 42}},
		{"bad rate", "/x", Fault{Status: 500, Rate: 1.5}},
		{"negative delay", "/x", Fault{Status: 500, DelayMS: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, ft.Put(tt.pattern, tt.fault))
		})
	}
	assert.Empty(t, ft.List())
}

func TestFaultTableListDropClear(t *testing.T) {
	ft := NewFaultTable()
	require.NoError(t, ft.Put("/b", Fault{Status: 502}))
	require.NoError(t, ft.Put("/a", Fault{Status: 500, Method: "get"}))

	rules := ft.List()
	require.Len(t, rules, 2)
	assert.Equal(t, "/a", rules[0].Pattern)
	assert.Equal(t, "GET", rules[0].Method)

	assert.True(t, ft.Drop("/a"))
	assert.False(t, ft.Drop("/a"))

	ft.Clear()
	assert.Empty(t, ft.List())
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

func TestCORS(t *testing.T) {
	ctl := NewControls(&Config{}, nil)
	called := false
	h := ctl.CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/tasks", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.True(t, called)

	called = false
	req := httptest.NewRequest("OPTIONS", "/tasks", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
	assert.False(t, called)
}

func TestRecord(t *testing.T) {
	ctl := NewControls(&Config{Verbose: true}, nil)
	h := ctl.Record(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusCreated, map[string]int{"id": 1})
	}))

	req := httptest.NewRequest("POST", "/api/v1/tasks?x=1", nil)
	req.Header.Set("X-Custom", "value")
	req.Header.Set("Authorization", "Bearer secret")
	h.ServeHTTP(httptest.NewRecorder(), req)

	got := ctl.Journal.Since(0)
	require.Len(t, got, 1)
	ex := got[0]
	assert.Equal(t, uint64(1), ex.Seq)
	assert.Equal(t, "POST", ex.Method)
	assert.Equal(t, "/api/v1/tasks", ex.Path)
	assert.Equal(t, "x=1", ex.Query)
	assert.Equal(t, http.StatusCreated, ex.Status)
	assert.Positive(t, ex.Bytes)
	assert.Equal(t, "value", ex.Headers["X-Custom"])
	assert.NotContains(t, ex.Headers, "Authorization")
}

func TestRecordWithoutExplicitStatus(t *testing.T) {
	ctl := NewControls(&Config{}, nil)
	ctl.Record(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hi"))
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	ex := ctl.Journal.Since(0)[0]
	assert.Equal(t, http.StatusOK, ex.Status)
	assert.Nil(t, ex.Headers)
}

func TestInjectFaults(t *testing.T) {
	ctl := NewControls(&Config{}, nil)
	require.NoError(t, ctl.Faults.Put("/api/v1/tasks", Fault{Status: 503}))
	require.NoError(t, ctl.Faults.Put("/api/v1/users/me", Fault{Status: 429, Body: `{"detail":"slow down"}`}))
	require.NoError(t, ctl.Faults.Put("/api/v1/slow", Fault{DelayMS: 30}))

	called := false
	h := ctl.InjectFaults(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/tasks", nil))
	assert.Equal(t, 503, rec.Code)
	assert.JSONEq(t, `{"detail":"Service Unavailable (injected)"}`, rec.Body.String())
	assert.False(t, called)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/users/me", nil))
	assert.Equal(t, 429, rec.Code)
	assert.Equal(t, `{"detail":"slow down"}`, rec.Body.String())

	start := time.Now()
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/slow", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.True(t, called)
}

func TestDelay(t *testing.T) {
	h := NewControls(&Config{Latency: 50 * time.Millisecond}, nil).Delay(http.HandlerFunc(ok))

	start := time.Now()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestChaos(t *testing.T) {
	always := NewControls(&Config{FailRate: 1.0}, nil).Chaos(http.HandlerFunc(ok))
	rec := httptest.NewRecorder()
	always.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	never := NewControls(&Config{}, nil).Chaos(http.HandlerFunc(ok))
	rec = httptest.NewRecorder()
	never.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
