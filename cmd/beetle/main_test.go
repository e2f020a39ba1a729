package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/beetle/internal/models"
	"github.com/starford/beetle/internal/testutil"
)

type cliEnv struct {
	t    *testing.T
	base []string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	return &cliEnv{t: t, base: []string{
		"beetle",
		"--config", filepath.Join(dir, "absent.yaml"),
		"--root", filepath.Join(dir, "indexes"),
	}}
}

func (e *cliEnv) run(args ...string) (string, error) {
	e.t.Helper()
	var out bytes.Buffer
	err := newCommand(&out).Run(context.Background(), append(append([]string{}, e.base...), args...))
	return out.String(), err
}

func (e *cliEnv) mustRun(args ...string) string {
	e.t.Helper()
	out, err := e.run(args...)
	require.NoError(e.t, err, "beetle %s", strings.Join(args, " "))
	return out
}

func TestCLI_Lifecycle(t *testing.T) {
	env := newCLIEnv(t)
	repo := testutil.TestRepo(t, testutil.Files{
		"main.go":   "package main\n\nfunc quokka() {}\n",
		"README.md": "nothing here",
	})

	out := env.mustRun("new", "--index", "proj", "--path", repo)
	assert.Contains(t, out, "created proj")
	assert.Contains(t, out, "2 added")

	out = env.mustRun("search", "--index", "proj", "--query", "quokka")
	assert.Contains(t, out, "main.go")
	assert.Contains(t, out, "<b>quokka</b>")

	out = env.mustRun("search", "--index", "proj", "--query", "quokka", "--format", "json")
	var hits []models.Hit
	require.NoError(t, json.Unmarshal([]byte(out), &hits))
	require.Len(t, hits, 1)
	assert.Equal(t, "main.go", hits[0].Path)

	assert.Equal(t, "no results\n", env.mustRun("search", "--index", "proj", "--query", "absent"))

	testutil.WriteFile(t, repo, "extra.go", "package main // quokka again")
	out = env.mustRun("update", "--index", "proj")
	assert.Contains(t, out, "proj (incremental): 1 added, 0 modified, 0 removed")

	out = env.mustRun("update", "--index", "proj", "--reindex")
	assert.Contains(t, out, "proj (full)")

	out = env.mustRun("list")
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "proj")

	var items []map[string]any
	require.NoError(t, json.Unmarshal([]byte(env.mustRun("list", "--format", "json")), &items))
	require.Len(t, items, 1)
	assert.EqualValues(t, 3, items[0]["documents"])

	assert.Equal(t, "removed proj\n", env.mustRun("delete", "--index", "proj"))
	_, err := env.run("search", "--index", "proj", "--query", "quokka")
	assert.Error(t, err)
}

func TestCLI_Errors(t *testing.T) {
	env := newCLIEnv(t)
	repo := testutil.TestRepo(t, testutil.Files{"a.txt": "a"})

	_, err := env.run("update", "--index", "missing")
	assert.Error(t, err)

	env.mustRun("new", "--index", "proj", "--path", repo)
	_, err = env.run("new", "--index", "proj", "--path", repo)
	assert.Error(t, err, "duplicate name")

	_, err = env.run("update", "--index", "proj", "--incremental", "--reindex")
	assert.Error(t, err)

	_, err = env.run("list", "--format", "yaml")
	assert.Error(t, err)

	_, err = env.run("search", "--index", "proj", "--query", "a", "--limit", "5000")
	assert.Error(t, err)
}
