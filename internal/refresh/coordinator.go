package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"dbsetup/internal/db"
	"dbsetup/internal/metrics"
)

// Source yields the canonical rows of a table.
type Source interface {
	Rows(ctx context.Context, table string) ([]db.Row, error)
}

// StepError is the failure of one refresh step.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

type StepResult struct {
	Step     string        `json:"step"`
	Action   Action        `json:"action"`
	Table    string        `json:"table"`
	Rows     int64         `json:"rows"`
	Duration time.Duration `json:"duration_ns"`
}

// Result is the single outcome of a refresh. Error carries the failing
// step's underlying message.
type Result struct {
	RunID         uuid.UUID    `json:"run_id"`
	Success       bool         `json:"success"`
	Error         string       `json:"error,omitempty"`
	FailedStep    string       `json:"failed_step,omitempty"`
	Transactional bool         `json:"transactional"`
	Steps         []StepResult `json:"steps"`
	StartedAt     time.Time    `json:"started_at"`
	FinishedAt    time.Time    `json:"finished_at"`
	Err           error        `json:"-"`
}

type Options struct {
	// Transactional runs all steps in one transaction when the store
	// implements db.Transactor.
	Transactional bool
	Logger        *slog.Logger
}

type Coordinator struct {
	store         db.TableStore
	source        Source
	plan          []Step
	transactional bool
	logger        *slog.Logger
}

func New(store db.TableStore, source Source, job Job, opts Options) (*Coordinator, error) {
	plan, err := job.Plan()
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	_, canTx := store.(db.Transactor)
	return &Coordinator{
		store:         store,
		source:        source,
		plan:          plan,
		transactional: opts.Transactional && canTx,
		logger:        logger,
	}, nil
}

// Plan returns the steps Refresh will run, in order.
func (c *Coordinator) Plan() []Step {
	return append([]Step(nil), c.plan...)
}

func (c *Coordinator) Transactional() bool { return c.transactional }

// Refresh clears and reloads every table of the job. The first failing step
// aborts the rest. Without a transaction the store keeps whatever the steps
// before the failure did.
func (c *Coordinator) Refresh(ctx context.Context) Result {
	res := Result{
		RunID:         uuid.New(),
		Transactional: c.transactional,
		StartedAt:     time.Now().UTC(),
	}
	logger := c.logger.With("run_id", res.RunID.String())
	logger.Info("refresh started", "steps", len(c.plan), "transactional", c.transactional)

	var err error
	if c.transactional {
		err = c.store.(db.Transactor).WithinTx(ctx, func(tx db.TableStore) error {
			return c.run(ctx, tx, logger, &res)
		})
	} else {
		err = c.run(ctx, c.store, logger, &res)
	}
	res.FinishedAt = time.Now().UTC()

	if err != nil {
		res.Err = err
		var stepErr *StepError
		if errors.As(err, &stepErr) {
			res.FailedStep = stepErr.Step.String()
			res.Error = stepErr.Err.Error()
		} else {
			res.FailedStep = "transaction"
			res.Error = err.Error()
		}
		metrics.RefreshTotal.WithLabelValues("failure").Inc()
		logger.Error("refresh failed", "step", res.FailedStep, "error", err, "rolled_back", c.transactional)
		return res
	}

	res.Success = true
	metrics.RefreshTotal.WithLabelValues("success").Inc()
	logger.Info("refresh finished", "duration_ms", res.FinishedAt.Sub(res.StartedAt).Milliseconds())
	return res
}

func (c *Coordinator) run(ctx context.Context, store db.TableStore, logger *slog.Logger, res *Result) error {
	for _, step := range c.plan {
		if err := ctx.Err(); err != nil {
			return &StepError{Step: step, Err: err}
		}

		start := time.Now()
		n, err := c.apply(ctx, store, step)
		elapsed := time.Since(start)
		metrics.RefreshStepDuration.WithLabelValues(string(step.Action)).Observe(elapsed.Seconds())
		if err != nil {
			logger.Error("refresh step failed", "step", step.String(), "error", err)
			return &StepError{Step: step, Err: err}
		}

		res.Steps = append(res.Steps, StepResult{
			Step:     step.String(),
			Action:   step.Action,
			Table:    step.Table,
			Rows:     n,
			Duration: elapsed,
		})
		logger.Info("refresh step done", "step", step.String(), "rows", n)
	}
	return nil
}

func (c *Coordinator) apply(ctx context.Context, store db.TableStore, step Step) (int64, error) {
	switch step.Action {
	case ActionClear:
		return store.Delete(ctx, step.Table)
	case ActionReload:
		rows, err := c.source.Rows(ctx, step.Table)
		if err != nil {
			return 0, err
		}
		return store.Insert(ctx, step.Table, rows)
	default:
		return 0, fmt.Errorf("unknown action %q", step.Action)
	}
}
