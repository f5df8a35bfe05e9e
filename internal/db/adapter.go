package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// StatementExecer runs one raw SQL statement.
type StatementExecer interface {
	Exec(ctx context.Context, statement string) (Result, error)
}

// ProcedureCaller invokes a named server-side procedure.
type ProcedureCaller interface {
	Call(ctx context.Context, procedure string, args map[string]any) ([]Row, error)
}

// TableStore exposes row-level access to a single table.
type TableStore interface {
	Select(ctx context.Context, table string) ([]Row, error)
	Insert(ctx context.Context, table string, rows []Row) (int64, error)
	Delete(ctx context.Context, table string) (int64, error)
}

// Transactor runs fn against a TableStore bound to one transaction. The
// transaction commits when fn returns nil and rolls back otherwise.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(TableStore) error) error
}

// Client abstracts provider-specific behavior.
type Client interface {
	StatementExecer
	ProcedureCaller
	TableStore
	Transactor
	Provider() string
	Ping(ctx context.Context) error
	Close() error
}

// Open builds a client for the given options and verifies the connection.
func Open(ctx context.Context, opts Options) (*SQLClient, error) {
	provider := strings.ToLower(strings.TrimSpace(opts.Provider))
	var (
		sqlDB *sql.DB
		err   error
	)
	switch provider {
	case "", "postgres", "postgresql":
		provider = "postgres"
		sqlDB, err = openPostgres(opts)
	case "mysql":
		sqlDB, err = openMySQL(opts)
	default:
		return nil, fmt.Errorf("unsupported provider %s", opts.Provider)
	}
	if err != nil {
		return nil, err
	}

	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	maxOpen := opts.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 5
	}
	sqlDB.SetMaxOpenConns(maxOpen)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping %s: %w", provider, err)
	}

	client, err := NewSQLClient(sqlDB, provider, opts.BatchSize)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	if opts.Logger != nil {
		client.logger = opts.Logger
	}
	client.logger.Debug("store connected", slog.String("provider", provider))
	return client, nil
}
