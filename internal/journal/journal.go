package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"dbsetup/internal/refresh"
	"dbsetup/internal/script"
	"dbsetup/migrations"
)

const driverName = "sqlite"

// Fixed-width timestamps so started_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const (
	KindScript  = "script"
	KindRefresh = "refresh"
)

const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	// StatusPartial is a script run where some statements failed.
	StatusPartial = "completed_with_failures"
	// StatusRolledBack marks a refresh step undone by the failure of a
	// later step in the same transaction.
	StatusRolledBack = "rolled_back"
)

var ErrRunNotFound = errors.New("run not found")

type Run struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	Succeeded  int       `json:"succeeded"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Entry is one statement of a script run or one step of a refresh.
type Entry struct {
	Position int           `json:"position"`
	Label    string        `json:"label"`
	Status   string        `json:"status"`
	Rows     int64         `json:"rows"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Journal keeps the history of runs in a local SQLite file. A nil *Journal
// is valid and records nothing.
type Journal struct {
	path string
	db   *sql.DB
}

// Open creates the file and its directory if needed and applies pending
// migrations. An empty path disables the journal and returns nil.
func Open(ctx context.Context, path string) (*Journal, error) {
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return nil, nil
	}
	if info, err := os.Stat(cleanPath); err == nil && info.IsDir() {
		return nil, fmt.Errorf("journal path %q is a directory, expected file", cleanPath)
	}
	if dir := filepath.Dir(cleanPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory %q: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(2000)&_pragma=foreign_keys(ON)", cleanPath)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal %q: %w", cleanPath, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping journal %q: %w", cleanPath, err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate journal %q: %w", cleanPath, err)
	}
	return &Journal{path: cleanPath, db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	return migrations.Up(ctx, db)
}

func (j *Journal) Path() string {
	if j == nil {
		return ""
	}
	return j.path
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *Journal) RecordScript(ctx context.Context, report *script.Report) error {
	if j == nil || report == nil {
		return nil
	}
	status := StatusSucceeded
	if report.Failed() {
		status = StatusPartial
	}
	run := Run{
		ID:         report.RunID.String(),
		Kind:       KindScript,
		Name:       report.Script,
		Status:     status,
		Succeeded:  report.Count(script.StatusSucceeded),
		Skipped:    report.Count(script.StatusSkipped),
		Failed:     report.Count(script.StatusFailed),
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
	}
	entries := make([]Entry, len(report.Outcomes))
	for i, o := range report.Outcomes {
		var rows int64
		if o.Result != nil {
			rows = o.Result.RowsAffected
		}
		entries[i] = Entry{
			Position: o.Index,
			Label:    o.Statement,
			Status:   string(o.Status),
			Rows:     rows,
			Message:  o.Message,
			Duration: o.Duration,
		}
	}
	return j.insert(ctx, run, entries)
}

func (j *Journal) RecordRefresh(ctx context.Context, res refresh.Result) error {
	if j == nil {
		return nil
	}
	run := Run{
		ID:         res.RunID.String(),
		Kind:       KindRefresh,
		Name:       "refresh",
		Status:     StatusSucceeded,
		Succeeded:  len(res.Steps),
		Error:      res.Error,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}
	if res.Transactional {
		run.Name = "refresh (transactional)"
	}
	rolledBack := res.Transactional && !res.Success
	entries := make([]Entry, 0, len(res.Steps)+1)
	for i, s := range res.Steps {
		e := Entry{
			Position: i,
			Label:    s.Step,
			Status:   StatusSucceeded,
			Rows:     s.Rows,
			Duration: s.Duration,
		}
		if rolledBack {
			e.Status = StatusRolledBack
			e.Rows = 0
			e.Message = fmt.Sprintf("%d rows rolled back", s.Rows)
		}
		entries = append(entries, e)
	}
	if rolledBack {
		run.Succeeded = 0
	}
	if !res.Success {
		run.Status = StatusFailed
		run.Failed = 1
		entries = append(entries, Entry{
			Position: len(res.Steps),
			Label:    res.FailedStep,
			Status:   StatusFailed,
			Message:  res.Error,
		})
	}
	return j.insert(ctx, run, entries)
}

func (j *Journal) insert(ctx context.Context, run Run, entries []Entry) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin journal tx: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	if _, err := tx.ExecContext(ctx, `
INSERT INTO runs (id, kind, name, status, succeeded, skipped, failed, error, started_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, run.ID, run.Kind, run.Name, run.Status, run.Succeeded, run.Skipped, run.Failed, run.Error,
		formatTime(run.StartedAt), formatTime(run.FinishedAt)); err != nil {
		return fmt.Errorf("record run %s: %w", run.ID, err)
	}

	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO run_entries (run_id, position, label, status, row_count, message, duration_ms)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, run.ID, e.Position, e.Label, e.Status, e.Rows, e.Message, e.Duration.Milliseconds()); err != nil {
			return fmt.Errorf("record entry %d of run %s: %w", e.Position, run.ID, err)
		}
	}
	return tx.Commit()
}

// List returns the most recent runs first. A limit of zero or less returns
// every run.
func (j *Journal) List(ctx context.Context, limit int) ([]Run, error) {
	if j == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, kind, name, status, succeeded, skipped, failed, error, started_at, finished_at
FROM runs
ORDER BY started_at DESC, rowid DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r                 Run
			started, finished string
		)
		if err := rows.Scan(&r.ID, &r.Kind, &r.Name, &r.Status, &r.Succeeded, &r.Skipped, &r.Failed, &r.Error, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = parseTime(started)
		r.FinishedAt = parseTime(finished)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (j *Journal) Entries(ctx context.Context, runID string) ([]Entry, error) {
	if j == nil {
		return nil, ErrRunNotFound
	}
	var exists int
	err := j.db.QueryRowContext(ctx, `SELECT 1 FROM runs WHERE id = ?`, runID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}

	rows, err := j.db.QueryContext(ctx, `
SELECT position, label, status, row_count, message, duration_ms
FROM run_entries
WHERE run_id = ?
ORDER BY position
`, runID)
	if err != nil {
		return nil, fmt.Errorf("list entries of run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e  Entry
			ms int64
		)
		if err := rows.Scan(&e.Position, &e.Label, &e.Status, &e.Rows, &e.Message, &ms); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
