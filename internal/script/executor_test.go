package script

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbsetup/internal/db"
	"dbsetup/internal/testutil"
)

// fakeStore remembers created tables and fails a second CREATE of the same
// table with duplicate_table, like Postgres does.
type fakeStore struct {
	created  map[string]bool
	fail     map[string]error
	executed []string
	onExec   func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{created: map[string]bool{}, fail: map[string]error{}}
}

func (f *fakeStore) Exec(ctx context.Context, stmt string) (db.Result, error) {
	if err := ctx.Err(); err != nil {
		return db.Result{}, err
	}
	f.executed = append(f.executed, stmt)
	if f.onExec != nil {
		f.onExec()
	}
	if err, ok := f.fail[stmt]; ok {
		return db.Result{}, err
	}
	if name, ok := strings.CutPrefix(stmt, "CREATE TABLE "); ok {
		name, _, _ = strings.Cut(name, " ")
		if f.created[name] {
			return db.Result{}, &pgconn.PgError{Code: "42P07", Message: `relation "` + name + `" already exists`}
		}
		f.created[name] = true
		return db.Result{}, nil
	}
	if strings.HasPrefix(stmt, "SELECT") {
		return db.Result{Columns: []string{"n"}, Rows: []db.Row{{"n": int64(1)}}, RowsAffected: 1}, nil
	}
	return db.Result{RowsAffected: 2}, nil
}

func TestExecutor_RepeatedCreateIsSkipped(t *testing.T) {
	store := newFakeStore()
	exec := New(store, Options{Logger: testutil.NewTestLogger(t)})

	report, err := exec.Execute(context.Background(), Script{
		Name: "inline",
		Text: "CREATE TABLE t (x int); CREATE TABLE t (x int);",
	})
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 2)

	assert.Equal(t, StatusSucceeded, report.Outcomes[0].Status)
	assert.Equal(t, StatusSkipped, report.Outcomes[1].Status)
	assert.Contains(t, report.Outcomes[1].Message, "42P07")
	assert.False(t, report.Failed())
	assert.Equal(t, "inline", report.Script)
	assert.NotEqual(t, uuid.Nil, report.RunID)
}

func TestExecutor_FailureDoesNotStopLaterStatements(t *testing.T) {
	store := newFakeStore()
	boom := &pgconn.PgError{Code: "42601", Message: `syntax error at or near "CRATE"`}
	store.fail["CRATE TABLE x (id int)"] = boom

	var streamed []Outcome
	exec := New(store, Options{
		Logger:    testutil.NewTestLogger(t),
		OnOutcome: func(o Outcome) { streamed = append(streamed, o) },
	})

	report, err := exec.Execute(context.Background(), Script{
		Text: "CREATE TABLE a (id int);\nCRATE TABLE x (id int);\nSELECT 1;\nUPDATE a SET id = 2",
	})
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 4)

	statuses := []Status{StatusSucceeded, StatusFailed, StatusSucceeded, StatusSucceeded}
	for i, o := range report.Outcomes {
		assert.Equal(t, i, o.Index)
		assert.Equal(t, statuses[i], o.Status, o.Statement)
	}

	failed := report.Outcomes[1]
	assert.ErrorIs(t, failed.Err, boom)
	assert.Contains(t, failed.Message, "syntax error")

	selected := report.Outcomes[2]
	require.NotNil(t, selected.Result)
	assert.Equal(t, []db.Row{{"n": int64(1)}}, selected.Result.Rows)
	assert.Equal(t, int64(2), report.Outcomes[3].Result.RowsAffected)

	assert.True(t, report.Failed())
	assert.Equal(t, 3, report.Count(StatusSucceeded))
	assert.Equal(t, 1, report.Count(StatusFailed))
	assert.Equal(t, report.Outcomes, streamed)
}

func TestExecutor_EmptyScript(t *testing.T) {
	store := newFakeStore()
	report, err := New(store, Options{}).Execute(context.Background(), Script{Text: " ;\n-- nothing\n;"})
	require.NoError(t, err)
	assert.Empty(t, report.Outcomes)
	assert.Empty(t, store.executed)
	assert.False(t, report.Failed())
}

func TestExecutor_NaiveSplit(t *testing.T) {
	store := newFakeStore()
	exec := New(store, Options{Naive: true})

	report, err := exec.Execute(context.Background(), Script{Text: "SELECT 'a;b'"})
	require.NoError(t, err)
	assert.Equal(t, []string{"SELECT 'a", "b'"}, store.executed)
	assert.Len(t, report.Outcomes, 2)
}

func TestExecutor_CancelStopsBeforeNextStatement(t *testing.T) {
	store := newFakeStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store.onExec = cancel

	report, err := New(store, Options{}).Execute(ctx, Script{Text: "UPDATE a SET x = 1; UPDATE b SET x = 1"})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Equal(t, []string{"UPDATE a SET x = 1"}, store.executed)
	assert.Len(t, report.Outcomes, 1)
}

type slowStore struct{}

func (slowStore) Exec(ctx context.Context, _ string) (db.Result, error) {
	<-ctx.Done()
	return db.Result{}, ctx.Err()
}

func TestExecutor_StatementTimeout(t *testing.T) {
	exec := New(slowStore{}, Options{StatementTimeout: 10 * time.Millisecond})

	report, err := exec.Execute(context.Background(), Script{Text: "SELECT pg_sleep(10); SELECT 1"})
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 2)
	for _, o := range report.Outcomes {
		assert.Equal(t, StatusFailed, o.Status)
		assert.True(t, errors.Is(o.Err, context.DeadlineExceeded))
	}
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "setup.sql")
	require.NoError(t, os.WriteFile(path, []byte("SELECT 1;"), 0o600))

	s, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, Script{Name: path, Text: "SELECT 1;"}, s)

	_, err = ReadFile(filepath.Join(dir, "missing.sql"))
	var readErr *ReadError
	require.ErrorAs(t, err, &readErr)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Contains(t, err.Error(), "missing.sql")
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "SELECT 1", preview("SELECT 1"))
	assert.Equal(t, "CREATE TABLE t ( ...", preview("CREATE TABLE t (\n  id int\n)"))
	assert.Equal(t, strings.Repeat("x", 80)+"...", preview(strings.Repeat("x", 100)))
}
