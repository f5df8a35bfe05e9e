package introspect

import (
	"context"
	"fmt"
	"log/slog"

	"dbsetup/internal/db"
	"dbsetup/internal/metrics"
)

const (
	DefaultSchemasProcedure = "get_schemas"
	DefaultTablesProcedure  = "get_tables"
)

type Table struct {
	Schema string `json:"schema"`
	Name   string `json:"name"`
	Type   string `json:"type,omitempty"`
}

// SchemaTables is the listing of one schema. Err is set when the listing
// failed; Tables is then empty.
type SchemaTables struct {
	Schema string  `json:"schema"`
	Tables []Table `json:"tables"`
	Error  string  `json:"error,omitempty"`
	Err    error   `json:"-"`
}

type Inventory struct {
	Schemas []SchemaTables `json:"schemas"`
}

// Failed returns the schemas whose table listing failed.
func (inv Inventory) Failed() []SchemaTables {
	var out []SchemaTables
	for _, s := range inv.Schemas {
		if s.Err != nil {
			out = append(out, s)
		}
	}
	return out
}

type Options struct {
	SchemasProcedure string
	TablesProcedure  string
	// Only restricts Walk to these schemas when non-empty.
	Only   []string
	Logger *slog.Logger
}

type Introspector struct {
	caller     db.ProcedureCaller
	schemasRPC string
	tablesRPC  string
	only       map[string]bool
	logger     *slog.Logger
}

func New(caller db.ProcedureCaller, opts Options) *Introspector {
	in := &Introspector{
		caller:     caller,
		schemasRPC: opts.SchemasProcedure,
		tablesRPC:  opts.TablesProcedure,
		logger:     opts.Logger,
	}
	if in.schemasRPC == "" {
		in.schemasRPC = DefaultSchemasProcedure
	}
	if in.tablesRPC == "" {
		in.tablesRPC = DefaultTablesProcedure
	}
	if in.logger == nil {
		in.logger = slog.New(slog.DiscardHandler)
	}
	if len(opts.Only) > 0 {
		in.only = make(map[string]bool, len(opts.Only))
		for _, s := range opts.Only {
			in.only[s] = true
		}
	}
	return in
}

func (in *Introspector) ListSchemas(ctx context.Context) ([]string, error) {
	rows, err := in.caller.Call(ctx, in.schemasRPC, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", in.schemasRPC, err)
	}
	schemas := make([]string, 0, len(rows))
	for _, row := range rows {
		name, ok := column(row, "schema_name")
		if !ok {
			return nil, fmt.Errorf("call %s: row has no schema_name column", in.schemasRPC)
		}
		schemas = append(schemas, name)
	}
	return schemas, nil
}

func (in *Introspector) ListTables(ctx context.Context, schema string) ([]Table, error) {
	rows, err := in.caller.Call(ctx, in.tablesRPC, map[string]any{"schema_name": schema})
	if err != nil {
		return nil, fmt.Errorf("call %s(%s): %w", in.tablesRPC, schema, err)
	}
	tables := make([]Table, 0, len(rows))
	for _, row := range rows {
		name, ok := column(row, "table_name")
		if !ok {
			return nil, fmt.Errorf("call %s(%s): row has no table_name column", in.tablesRPC, schema)
		}
		t := Table{Schema: schema, Name: name}
		if v, ok := row["table_type"]; ok && v != nil {
			t.Type = fmt.Sprint(v)
		}
		tables = append(tables, t)
	}
	return tables, nil
}

// Walk lists every schema and then the tables of each one, in order. A failed
// table listing is logged and recorded in the inventory and the walk goes on;
// only a failed schema listing is returned as an error.
func (in *Introspector) Walk(ctx context.Context) (Inventory, error) {
	schemas, err := in.ListSchemas(ctx)
	if err != nil {
		return Inventory{}, err
	}
	in.logger.Info("schemas listed", "count", len(schemas))

	var inv Inventory
	for _, schema := range schemas {
		if in.only != nil && !in.only[schema] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return inv, err
		}

		tables, err := in.ListTables(ctx, schema)
		if err != nil {
			metrics.IntrospectionErrorsTotal.Inc()
			in.logger.Error("table listing failed", "schema", schema, "error", err)
			inv.Schemas = append(inv.Schemas, SchemaTables{Schema: schema, Error: err.Error(), Err: err})
			continue
		}
		in.logger.Info("tables listed", "schema", schema, "count", len(tables))
		inv.Schemas = append(inv.Schemas, SchemaTables{Schema: schema, Tables: tables})
	}
	return inv, nil
}

// column reads name from row, falling back to the only column of a
// single-column row.
func column(row db.Row, name string) (string, bool) {
	if v, ok := row[name]; ok && v != nil {
		return fmt.Sprint(v), true
	}
	if len(row) == 1 {
		for _, v := range row {
			if v != nil {
				return fmt.Sprint(v), true
			}
		}
	}
	return "", false
}
