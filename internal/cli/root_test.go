package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbsetup/internal/config"
	"dbsetup/internal/refresh"
	"dbsetup/internal/script"
)

// withCredentials sets the store variables for the rest of the test; empty
// values leave the store unconfigured.
func withCredentials(t *testing.T, url, key string) {
	t.Helper()
	t.Setenv("DBSETUP_STORE_URL", url)
	t.Setenv("DBSETUP_STORE_KEY", key)
}

func TestMain(m *testing.M) {
	// Start every test without store credentials from the environment.
	for _, kv := range os.Environ() {
		if name, _, _ := strings.Cut(kv, "="); strings.HasPrefix(name, config.EnvPrefix) {
			_ = os.Unsetenv(name)
		}
	}
	os.Exit(m.Run())
}

// run executes the command tree in-process.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestInitConfig(t *testing.T) {
	t.Chdir(t.TempDir())

	out, err := run(t, "init-config", "--provider", "mysql")
	require.NoError(t, err)
	assert.Contains(t, out, "sample config written to dbsetup.yaml")

	data, err := os.ReadFile("dbsetup.yaml")
	require.NoError(t, err)
	assert.Contains(t, string(data), "store_provider: mysql")

	_, err = run(t, "init-config")
	assert.ErrorContains(t, err, "already exists")

	// The written sample must load cleanly.
	_, err = run(t, "refresh", "--dry-run")
	assert.NoError(t, err)
}

func TestExec_MissingScript(t *testing.T) {
	t.Chdir(t.TempDir())
	withCredentials(t, "postgres://app@127.0.0.1:1/app", "secret")

	_, err := run(t, "exec", "nope.sql")
	var readErr *script.ReadError
	require.ErrorAs(t, err, &readErr)
	assert.Equal(t, "nope.sql", readErr.Path)
}

func TestExec_MissingCredentials(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.MkdirAll("db", 0o755))
	require.NoError(t, os.WriteFile(filepath.Join("db", "setup.sql"), []byte("SELECT 1;"), 0o644))

	_, err := run(t, "exec")
	require.ErrorIs(t, err, config.ErrMissingCredentials)
	assert.ErrorContains(t, err, "DBSETUP_STORE_URL")

	// Credentials are checked before the script is read.
	_, err = run(t, "exec", "nope.sql")
	require.ErrorIs(t, err, config.ErrMissingCredentials)
	var readErr *script.ReadError
	assert.False(t, errors.As(err, &readErr))
}

func TestRefresh_DryRun(t *testing.T) {
	t.Chdir(t.TempDir())

	out, err := run(t, "refresh", "--dry-run", "--no-tx", "-o", "json")
	require.NoError(t, err)

	var plan struct {
		Transactional bool `json:"transactional"`
		Steps         []struct {
			Action string `json:"action"`
			Table  string `json:"table"`
		} `json:"steps"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &plan))
	assert.False(t, plan.Transactional)

	var got []string
	for _, s := range plan.Steps {
		got = append(got, s.Action+" "+s.Table)
	}
	assert.Equal(t, []string{
		"clear procedure_companies",
		"clear procedures",
		"clear companies",
		"reload companies",
		"reload procedures",
		"reload procedure_companies",
	}, got)
}

func TestRows_UnknownTable(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := run(t, "rows", "users")
	assert.ErrorContains(t, err, `unknown table "users"`)
}

func TestHistory(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	out, err := run(t, "history", "--journal", filepath.Join(dir, "state", "history.db"))
	require.NoError(t, err)
	assert.Contains(t, out, "no runs recorded")

	_, err = run(t, "history", "--journal", filepath.Join(dir, "state", "history.db"), "--run", "missing")
	assert.Error(t, err)

	_, err = run(t, "history", "--journal", "")
	assert.ErrorContains(t, err, "disabled")
}

func TestInvalidSettings(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := run(t, "refresh", "--dry-run", "--log-level", "verbose")
	assert.ErrorContains(t, err, "log_level")

	_, err = run(t, "refresh", "--dry-run", "-o", "yaml")
	assert.ErrorContains(t, err, "output")

	_, err = run(t, "exec", "--config", "missing.yaml")
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestRefreshError(t *testing.T) {
	boom := errors.New("boom")
	step := refresh.Step{Action: refresh.ActionReload, Table: refresh.TableCompanies}

	err := refreshError(refresh.Result{
		FailedStep: step.String(),
		Error:      "boom",
		Err:        &refresh.StepError{Step: step, Err: boom},
	})
	assert.EqualError(t, err, "refresh failed: reload companies: boom")
	assert.ErrorIs(t, err, boom)

	err = refreshError(refresh.Result{FailedStep: "transaction", Error: "begin: refused", Err: errors.New("begin: refused")})
	assert.EqualError(t, err, "refresh failed at transaction: begin: refused")

	err = refreshError(refresh.Result{FailedStep: "clear procedures", Error: "locked"})
	assert.EqualError(t, err, "refresh failed at clear procedures: locked")
}
