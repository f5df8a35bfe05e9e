package db

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
)

var mysqlDialect = dialect{
	name:        "mysql",
	quoteIdent:  quoteBacktick,
	placeholder: func(int) string { return "?" },
	callSQL:     mysqlCall,
}

func openMySQL(opts Options) (*sql.DB, error) {
	// Validate DSN early to provide actionable errors.
	cfg, err := mysql.ParseDSN(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql dsn: %w", err)
	}
	if opts.Key != "" {
		cfg.Passwd = opts.Key
	}
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}
	return sql.OpenDB(connector), nil
}

// mysqlCall passes arguments positionally in sorted key order; stored
// procedures have no named notation.
func mysqlCall(name string, args map[string]any) (string, []any) {
	keys := sortedKeys(args)
	marks := make([]string, len(keys))
	values := make([]any, len(keys))
	for i, k := range keys {
		marks[i] = "?"
		values[i] = args[k]
	}
	return fmt.Sprintf("CALL %s(%s)", qualified(name, quoteBacktick), strings.Join(marks, ", ")), values
}

func quoteBacktick(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
