package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wondertwin-ai/apiconform/internal/conformance"
	"github.com/wondertwin-ai/apiconform/pkg/testutil"
)

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunAgainstTwin(t *testing.T) {
	tw := testutil.StartTwin(t)
	code, out, errOut := run(t, "run", "--base-url", tw.APIURL(), "--only", "auth/*,users/*", "--format", "json", "--parallel", "2")
	require.Equal(t, 0, code, errOut)

	var rep struct {
		Total     int `json:"total"`
		Failed    int `json:"failed"`
		Scenarios []struct {
			Name string `json:"name"`
		} `json:"scenarios"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, 5, rep.Total)
	assert.Zero(t, rep.Failed)
	assert.Equal(t, "auth/login", rep.Scenarios[0].Name)
}

func TestRunFailuresExitOne(t *testing.T) {
	code, out, _ := run(t, "run", "--base-url", "http://127.0.0.1:1", "--timeout", "1s", "--only", "users/me-unauthorized", "--format", "junit")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, `<testsuite name="apiconform" tests="1" failures="1"`)
}

func TestUsageErrorsExitTwo(t *testing.T) {
	tests := [][]string{
		{"run", "--format", "yaml"},
		{"run", "--only", "billing/*"},
		{"run", "--base-url", "not a url"},
		{"run", "--page-limit", "-1"},
		{"test", "does-not-exist/*.yaml"},
		{"twin", "--seed", filepath.Join("does-not-exist", "seed.json")},
		{"frobnicate"},
	}
	for _, args := range tests {
		code, _, errOut := run(t, args...)
		assert.Equal(t, 2, code, "%v", args)
		assert.True(t, strings.HasPrefix(errOut, "apiconform: ") || strings.Contains(errOut, "apiconform: "), "%v: %s", args, errOut)
	}
}

func TestTestCommandRunsScenarioFiles(t *testing.T) {
	tw := testutil.StartTwin(t)
	code, out, errOut := run(t, "test", "--base-url", tw.APIURL(), "--format", "json",
		filepath.Join("..", "..", "internal", "scenario", "testdata", "suite"))
	require.Equal(t, 0, code, errOut+out)
	assert.Contains(t, out, `"name": "task crud"`)
	assert.Contains(t, out, `"name": "current user"`)
	assert.Equal(t, 0, tw.Backend.Store.Tasks.Count())
}

func TestList(t *testing.T) {
	code, out, _ := run(t, "list")
	require.Equal(t, 0, code)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, len(conformance.Names()))
	for i, name := range conformance.Names() {
		assert.True(t, strings.HasPrefix(lines[i], name+" "), lines[i])
	}
}

func TestVersion(t *testing.T) {
	code, out, _ := run(t, "version")
	assert.Equal(t, 0, code)
	assert.Equal(t, "apiconform version dev\n", out)
}
