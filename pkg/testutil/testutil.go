// Package testutil runs the reference backend in-process for tests and
// wraps its API and /admin control plane in assertion-friendly helpers.
package testutil

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
	"github.com/wondertwin-ai/apiconform/internal/twin"
	"github.com/wondertwin-ai/apiconform/internal/twin/api"
	"github.com/wondertwin-ai/apiconform/internal/twin/store"
	"github.com/wondertwin-ai/apiconform/pkg/twincore"
	"golang.org/x/crypto/bcrypt"
)

// Twin is a reference backend served by an httptest server.
type Twin struct {
	*Client
	Backend *twin.Backend
	Admin   *Admin
}

// StartTwin serves a fresh backend for the rest of the test. Passwords
// hash at the minimum bcrypt cost and logs are discarded.
func StartTwin(t testing.TB) *Twin {
	t.Helper()
	backend, err := twin.New(twin.Options{
		Config:   &twincore.Config{Name: "test-twin"},
		Logger:   slog.New(slog.DiscardHandler),
		HashCost: bcrypt.MinCost,
		Secret:   []byte("test-secret"),
	})
	require.NoError(t, err)

	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	c := &Client{BaseURL: srv.URL, HTTP: srv.Client(), t: t}
	return &Twin{Client: c, Backend: backend, Admin: &Admin{c}}
}

// APIURL is where the task API is mounted.
func (tw *Twin) APIURL() string {
	return tw.BaseURL + api.Prefix
}

// Login signs in with the default account and returns its access token.
func (tw *Twin) Login() string {
	tw.t.Helper()
	body := tw.Post(api.Prefix+"/auth/login", map[string]string{
		"email":    store.DefaultEmail,
		"password": store.DefaultPassword,
	}).AssertStatus(http.StatusOK).JSONMap()
	token, _ := body["access_token"].(string)
	require.NotEmpty(tw.t, token, "login returned no token")
	return token
}

// Client sends requests to a server under test and fails the test on
// transport errors.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	t       testing.TB
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
	t          testing.TB
}

// AssertStatus fails the test unless the status is want.
func (r *Response) AssertStatus(want int) *Response {
	r.t.Helper()
	require.Equal(r.t, want, r.StatusCode, "body: %s", r.Body)
	return r
}

// JSONMap decodes the body as a JSON object.
func (r *Response) JSONMap() map[string]any {
	r.t.Helper()
	var m map[string]any
	r.Decode(&m)
	return m
}

// Decode unmarshals the body into v.
func (r *Response) Decode(v any) {
	r.t.Helper()
	require.NoError(r.t, json.Unmarshal(r.Body, v), "body: %s", r.Body)
}

// Get sends a GET.
func (c *Client) Get(path string) *Response {
	c.t.Helper()
	return c.Do(http.MethodGet, path, nil, nil)
}

// Post sends body as JSON.
func (c *Client) Post(path string, body any) *Response {
	c.t.Helper()
	return c.Do(http.MethodPost, path, body, nil)
}

// PostForm sends values form-encoded.
func (c *Client) PostForm(path string, values url.Values) *Response {
	c.t.Helper()
	return c.send(http.MethodPost, path, strings.NewReader(values.Encode()),
		map[string]string{"Content-Type": "application/x-www-form-urlencoded"})
}

// Delete sends a DELETE.
func (c *Client) Delete(path string) *Response {
	c.t.Helper()
	return c.Do(http.MethodDelete, path, nil, nil)
}

// Do sends body, when not nil, as JSON with the extra headers.
func (c *Client) Do(method, path string, body any, headers map[string]string) *Response {
	c.t.Helper()
	if body == nil {
		return c.send(method, path, nil, headers)
	}
	data, err := json.Marshal(body)
	require.NoError(c.t, err)
	h := map[string]string{"Content-Type": "application/json"}
	for k, v := range headers {
		h[k] = v
	}
	return c.send(method, path, bytes.NewReader(data), h)
}

func (c *Client) send(method, path string, body io.Reader, headers map[string]string) *Response {
	c.t.Helper()
	req, err := http.NewRequest(method, c.BaseURL+path, body)
	require.NoError(c.t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTP.Do(req)
	require.NoError(c.t, err, "%s %s", method, path)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err, "reading %s %s", method, path)
	return &Response{StatusCode: resp.StatusCode, Body: data, Headers: resp.Header, t: c.t}
}

// Admin drives the /admin control plane. Every call asserts success
// except RemoveFault, whose 404 is meaningful.
type Admin struct {
	c *Client
}

// Reset restores the seeded state and clears faults, journal and clock.
func (a *Admin) Reset() {
	a.c.t.Helper()
	a.c.Post("/admin/reset", nil).AssertStatus(http.StatusOK)
}

// InjectFault registers fault for a doublestar path pattern such as
// "/api/v1/tasks/*".
func (a *Admin) InjectFault(pattern string, fault twincore.Fault) {
	a.c.t.Helper()
	a.c.Post("/admin/fault/"+strings.TrimPrefix(pattern, "/"), fault).AssertStatus(http.StatusOK)
}

// RemoveFault drops the fault registered for pattern.
func (a *Admin) RemoveFault(pattern string) *Response {
	a.c.t.Helper()
	return a.c.Delete("/admin/fault/" + strings.TrimPrefix(pattern, "/"))
}

// SetConfig changes runtime settings such as latency or fail_rate.
func (a *Admin) SetConfig(updates map[string]any) {
	a.c.t.Helper()
	a.c.Post("/admin/config", updates).AssertStatus(http.StatusOK)
}

// AdvanceTime moves the simulated clock by a Go duration string.
func (a *Admin) AdvanceTime(d string) {
	a.c.t.Helper()
	a.c.Post("/admin/time/advance", map[string]string{"duration": d}).AssertStatus(http.StatusOK)
}

// Requests returns the journaled exchanges after sequence number since.
func (a *Admin) Requests(since uint64) []twincore.Exchange {
	a.c.t.Helper()
	var out []twincore.Exchange
	a.c.Get(fmt.Sprintf("/admin/requests?since=%d", since)).AssertStatus(http.StatusOK).Decode(&out)
	return out
}
