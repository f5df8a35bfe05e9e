package db

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

var postgresDialect = dialect{
	name:        "postgres",
	quoteIdent:  quoteIdent,
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	callSQL:     postgresCall,
}

// openPostgres parses the store URL and injects the access key as the
// connection password.
func openPostgres(opts Options) (*sql.DB, error) {
	connCfg, err := pgx.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	if opts.Key != "" {
		connCfg.Password = opts.Key
	}
	return stdlib.OpenDB(*connCfg), nil
}

// postgresCall uses named notation so argument order does not matter to the
// server: SELECT * FROM "fn"("arg" => $1).
func postgresCall(name string, args map[string]any) (string, []any) {
	keys := sortedKeys(args)
	parts := make([]string, len(keys))
	values := make([]any, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s => $%d", quoteIdent(k), i+1)
		values[i] = args[k]
	}
	return fmt.Sprintf("SELECT * FROM %s(%s)", qualified(name, quoteIdent), strings.Join(parts, ", ")), values
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
