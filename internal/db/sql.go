package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
)

type dialect struct {
	name        string
	quoteIdent  func(string) string
	placeholder func(n int) string
	callSQL     func(name string, args map[string]any) (string, []any)
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// SQLClient implements Client over database/sql. A client returned from
// WithinTx is bound to the transaction and has no underlying *sql.DB.
type SQLClient struct {
	db        *sql.DB
	q         querier
	dialect   dialect
	batchSize int
	logger    *slog.Logger
}

// NewSQLClient wraps an open database handle for the named provider.
func NewSQLClient(sqlDB *sql.DB, provider string, batchSize int) (*SQLClient, error) {
	var d dialect
	switch strings.ToLower(provider) {
	case "postgres", "postgresql":
		d = postgresDialect
	case "mysql":
		d = mysqlDialect
	default:
		return nil, fmt.Errorf("unsupported provider %s", provider)
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &SQLClient{
		db:        sqlDB,
		q:         sqlDB,
		dialect:   d,
		batchSize: batchSize,
		logger:    slog.New(slog.DiscardHandler),
	}, nil
}

func (c *SQLClient) Provider() string { return c.dialect.name }

func (c *SQLClient) Ping(ctx context.Context) error {
	if c.db == nil {
		return errors.New("database connection not established")
	}
	return c.db.PingContext(ctx)
}

func (c *SQLClient) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Exec runs a single statement. Statements that produce rows are queried so
// their rows can be returned; everything else reports rows affected.
func (c *SQLClient) Exec(ctx context.Context, statement string) (Result, error) {
	if returnsRows(statement) {
		rows, err := c.q.QueryContext(ctx, statement)
		if err != nil {
			return Result{}, err
		}
		cols, out, err := scanRows(rows)
		if err != nil {
			return Result{}, err
		}
		return Result{Columns: cols, Rows: out, RowsAffected: int64(len(out))}, nil
	}
	res, err := c.q.ExecContext(ctx, statement)
	if err != nil {
		return Result{}, err
	}
	n, _ := res.RowsAffected()
	return Result{RowsAffected: n}, nil
}

func (c *SQLClient) Call(ctx context.Context, procedure string, args map[string]any) ([]Row, error) {
	stmt, values := c.dialect.callSQL(procedure, args)
	c.logger.Debug("calling procedure", slog.String("procedure", procedure))
	rows, err := c.q.QueryContext(ctx, stmt, values...)
	if err != nil {
		return nil, err
	}
	_, out, err := scanRows(rows)
	return out, err
}

func (c *SQLClient) Select(ctx context.Context, table string) ([]Row, error) {
	rows, err := c.q.QueryContext(ctx, "SELECT * FROM "+qualified(table, c.dialect.quoteIdent))
	if err != nil {
		return nil, err
	}
	_, out, err := scanRows(rows)
	return out, err
}

// Insert writes rows in batches. The column list is the sorted union of all
// row keys; a row missing a column inserts NULL for it.
func (c *SQLClient) Insert(ctx context.Context, table string, rows []Row) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	cols := columnUnion(rows)
	if len(cols) == 0 {
		return 0, fmt.Errorf("rows for %s have no columns", table)
	}

	var total int64
	for start := 0; start < len(rows); start += c.batchSize {
		end := min(start+c.batchSize, len(rows))
		stmt, args := c.insertSQL(table, cols, rows[start:end])
		res, err := c.q.ExecContext(ctx, stmt, args...)
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func (c *SQLClient) Delete(ctx context.Context, table string) (int64, error) {
	res, err := c.q.ExecContext(ctx, "DELETE FROM "+qualified(table, c.dialect.quoteIdent))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (c *SQLClient) WithinTx(ctx context.Context, fn func(TableStore) error) error {
	if c.db == nil {
		return errors.New("transaction already in progress")
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	txClient := &SQLClient{q: tx, dialect: c.dialect, batchSize: c.batchSize, logger: c.logger}
	if err := fn(txClient); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (c *SQLClient) insertSQL(table string, cols []string, rows []Row) (string, []any) {
	quoted := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = c.dialect.quoteIdent(col)
	}

	args := make([]any, 0, len(rows)*len(cols))
	tuples := make([]string, len(rows))
	n := 1
	for i, row := range rows {
		marks := make([]string, len(cols))
		for j, col := range cols {
			marks[j] = c.dialect.placeholder(n)
			args = append(args, row[col])
			n++
		}
		tuples[i] = "(" + strings.Join(marks, ", ") + ")"
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		qualified(table, c.dialect.quoteIdent),
		strings.Join(quoted, ", "),
		strings.Join(tuples, ", "))
	return stmt, args
}

var (
	leadingNoise = regexp.MustCompile(`(?s)^(\s+|--[^\n]*\n?|/\*.*?\*/|\()*`)
	returningKw  = regexp.MustCompile(`(?i)\bRETURNING\b`)
	rowKeywords  = map[string]bool{
		"SELECT": true, "WITH": true, "SHOW": true, "VALUES": true,
		"EXPLAIN": true, "DESCRIBE": true, "DESC": true, "TABLE": true,
	}
)

// returnsRows guesses from the leading keyword whether a statement yields a
// result set.
func returnsRows(statement string) bool {
	s := leadingNoise.ReplaceAllString(statement, "")
	end := strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
	})
	if end < 0 {
		end = len(s)
	}
	if rowKeywords[strings.ToUpper(s[:end])] {
		return true
	}
	return returningKw.MatchString(statement)
}

func scanRows(rows *sql.Rows) ([]string, []Row, error) {
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			val := values[i]
			if b, ok := val.([]byte); ok {
				val = string(b)
			}
			row[col] = val
		}
		out = append(out, row)
	}
	return cols, out, rows.Err()
}

func columnUnion(rows []Row) []string {
	seen := map[string]struct{}{}
	for _, row := range rows {
		for k := range row {
			seen[k] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// qualified quotes each dot-separated part of a possibly schema-qualified name.
func qualified(name string, quote func(string) string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = quote(strings.TrimSpace(p))
	}
	return strings.Join(parts, ".")
}
