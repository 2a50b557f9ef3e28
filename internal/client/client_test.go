package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/echo", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Method", r.Method)
		w.Header().Set("X-Query", r.URL.RawQuery)
		w.Header().Set("X-Auth", r.Header.Get("Authorization"))
		w.Header().Set("X-Content-Type", r.Header.Get("Content-Type"))
		if len(body) == 0 {
			body = []byte(`{}`)
		}
		w.Write(body)
	})
	mux.HandleFunc("/api/v1/missing", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail":"Task not found"}`))
	})
	mux.HandleFunc("/api/v1/text", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	})
	mux.HandleFunc("/api/v1/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	for _, raw := range []string{"", "localhost:8000", "ftp://x/api", "http://"} {
		_, err := New(raw)
		assert.Error(t, err, raw)
	}
}

func TestURL(t *testing.T) {
	c, err := New("http://localhost:8000/api/v1/")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000/api/v1/tasks", c.URL("/tasks"))
	assert.Equal(t, "http://localhost:8000/api/v1/tasks", c.URL("tasks"))
	assert.Equal(t, "http://other/x", c.URL("http://other/x"))
	assert.Equal(t, "http://localhost:8000/api/v1", c.URL(""))
}

func TestDoSendsJSONBodyHeadersAndQuery(t *testing.T) {
	srv := echoServer(t)
	c, err := New(srv.URL + "/api/v1")
	require.NoError(t, err)

	resp, err := c.Do(context.Background(), Request{
		Method:  "post",
		Path:    "/echo",
		Headers: map[string]string{"Authorization": "Bearer abc"},
		Query:   map[string]string{"page": "2"},
		Body:    map[string]any{"title": "x"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "POST", resp.Header("X-Method"))
	assert.Equal(t, "page=2", resp.Header("X-Query"))
	assert.Equal(t, "Bearer abc", resp.Header("X-Auth"))
	assert.Contains(t, resp.Header("X-Content-Type"), "application/json")

	title, ok := resp.Field("title")
	require.True(t, ok)
	assert.Equal(t, "x", title)
	assert.Greater(t, resp.Latency, time.Duration(0))
}

func TestDoRawBytesDefaultToJSON(t *testing.T) {
	srv := echoServer(t)
	c, err := New(srv.URL + "/api/v1")
	require.NoError(t, err)

	resp, err := c.Post(context.Background(), "/echo", []byte(`{"a":1}`), nil)
	require.NoError(t, err)
	assert.Contains(t, resp.Header("X-Content-Type"), "application/json")
	assert.Equal(t, float64(1), resp.Object()["a"])
}

func TestDoNeverErrorsOnHTTPStatus(t *testing.T) {
	srv := echoServer(t)
	c, err := New(srv.URL + "/api/v1")
	require.NoError(t, err)

	resp, err := c.Get(context.Background(), "/missing", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Status)
	detail, ok := resp.Field("detail")
	assert.True(t, ok)
	assert.Equal(t, "Task not found", detail)

	resp, err = c.Get(context.Background(), "/text", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.Status)
	assert.Nil(t, resp.JSON)
	assert.Equal(t, "boom", string(resp.Body))
}

func TestDoTimeoutIsTransportError(t *testing.T) {
	srv := echoServer(t)
	c, err := New(srv.URL+"/api/v1", WithTimeout(time.Second))
	require.NoError(t, err)

	_, err = c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/slow", Timeout: 50 * time.Millisecond})
	require.Error(t, err)

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.True(t, te.Timeout)
	assert.Equal(t, http.MethodGet, te.Method)
	assert.Contains(t, te.URL, "/slow")
}

func TestDoConnectionRefusedIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c, err := New(base)
	require.NoError(t, err)
	_, err = c.Get(context.Background(), "/tasks", nil)

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.False(t, te.Timeout)
}

func TestCommonHeader(t *testing.T) {
	srv := echoServer(t)
	c, err := New(srv.URL+"/api/v1", WithHeader("Authorization", "Bearer common"))
	require.NoError(t, err)

	resp, err := c.Options(context.Background(), "/echo", nil)
	require.NoError(t, err)
	assert.Equal(t, "Bearer common", resp.Header("X-Auth"))
	assert.Equal(t, "OPTIONS", resp.Header("X-Method"))
}
