package script

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"dbsetup/internal/db"
	"dbsetup/internal/metrics"
)

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusSkipped   Status = "skipped_idempotent"
	StatusFailed    Status = "failed"
)

// Script is the raw text of a multi-statement SQL file.
type Script struct {
	Name string
	Text string
}

// ReadError means the script could not be read; nothing was executed.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read script %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

func ReadFile(path string) (Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Script{}, &ReadError{Path: path, Err: err}
	}
	return Script{Name: path, Text: string(data)}, nil
}

type Outcome struct {
	Index     int           `json:"index"`
	Statement string        `json:"statement"`
	Status    Status        `json:"status"`
	Result    *db.Result    `json:"result,omitempty"`
	Message   string        `json:"message,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
	Err       error         `json:"-"`
}

type Report struct {
	RunID      uuid.UUID `json:"run_id"`
	Script     string    `json:"script"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Outcomes   []Outcome `json:"outcomes"`
}

func (r *Report) Count(status Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// Failed reports whether any statement failed. Skipped statements do not count.
func (r *Report) Failed() bool {
	return r.Count(StatusFailed) > 0
}

type Options struct {
	// Naive selects SplitNaive instead of the quote-aware splitter.
	Naive            bool
	BackslashEscapes bool
	// StatementTimeout bounds each statement; zero disables it.
	StatementTimeout time.Duration
	Logger           *slog.Logger
	// OnOutcome is called after every statement, in order.
	OnOutcome func(Outcome)
}

// Executor runs the statements of a script one at a time. A failed statement
// is recorded and execution moves on to the next one.
type Executor struct {
	client    db.StatementExecer
	split     func(string) []string
	timeout   time.Duration
	logger    *slog.Logger
	onOutcome func(Outcome)
}

func New(client db.StatementExecer, opts Options) *Executor {
	split := Splitter{BackslashEscapes: opts.BackslashEscapes}.Split
	if opts.Naive {
		split = SplitNaive
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Executor{
		client:    client,
		split:     split,
		timeout:   opts.StatementTimeout,
		logger:    logger,
		onOutcome: opts.OnOutcome,
	}
}

// Execute runs every statement and returns the report. The error is non-nil
// only when ctx is done before the script finished; the partial report is
// returned with it.
func (e *Executor) Execute(ctx context.Context, s Script) (*Report, error) {
	statements := e.split(s.Text)
	report := &Report{
		RunID:     uuid.New(),
		Script:    s.Name,
		StartedAt: time.Now().UTC(),
		Outcomes:  make([]Outcome, 0, len(statements)),
	}
	logger := e.logger.With("run_id", report.RunID.String(), "script", s.Name)
	logger.Info("executing script", "statements", len(statements))

	for i, stmt := range statements {
		if err := ctx.Err(); err != nil {
			report.FinishedAt = time.Now().UTC()
			logger.Warn("script execution interrupted", "index", i, "error", err)
			return report, err
		}

		out := e.run(ctx, logger, i, stmt)
		report.Outcomes = append(report.Outcomes, out)
		metrics.StatementsTotal.WithLabelValues(string(out.Status)).Inc()
		metrics.StatementDuration.Observe(out.Duration.Seconds())
		if e.onOutcome != nil {
			e.onOutcome(out)
		}
	}

	report.FinishedAt = time.Now().UTC()
	logger.Info("script finished",
		"succeeded", report.Count(StatusSucceeded),
		"skipped", report.Count(StatusSkipped),
		"failed", report.Count(StatusFailed),
		"duration_ms", report.FinishedAt.Sub(report.StartedAt).Milliseconds(),
	)
	return report, nil
}

func (e *Executor) run(ctx context.Context, logger *slog.Logger, index int, stmt string) Outcome {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := e.client.Exec(ctx, stmt)
	out := Outcome{Index: index, Statement: stmt, Duration: time.Since(start)}

	if err == nil {
		out.Status = StatusSucceeded
		out.Result = &res
		logger.Info("statement succeeded", "index", index, "rows_affected", res.RowsAffected)
		return out
	}

	if class, reason := classify(err); class == Ignorable {
		out.Status = StatusSkipped
		out.Message = reason
		logger.Warn("statement skipped", "index", index, "reason", reason)
		return out
	}

	out.Status = StatusFailed
	out.Message = err.Error()
	out.Err = err
	logger.Error("statement failed", "index", index, "statement", preview(stmt), "error", err)
	return out
}

// preview shortens a statement to its first line for log output.
func preview(stmt string) string {
	line, _, cut := strings.Cut(stmt, "\n")
	if len(line) > 80 {
		return line[:80] + "..."
	}
	if cut {
		return line + " ..."
	}
	return line
}
