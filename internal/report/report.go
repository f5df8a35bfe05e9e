// Package report renders command results as terminal tables or JSON.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"dbsetup/internal/db"
	"dbsetup/internal/introspect"
	"dbsetup/internal/journal"
	"dbsetup/internal/refresh"
	"dbsetup/internal/script"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

func ValidFormat(format string) bool {
	return format == FormatText || format == FormatJSON
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer, header ...any) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row(header))
	return t
}

// Outcome prints a one-line summary as each statement finishes.
func Outcome(w io.Writer, o script.Outcome) {
	line := fmt.Sprintf("[%d] %-18s %s", o.Index+1, o.Status, firstLine(o.Statement, 70))
	if o.Message != "" {
		line += "\n      " + o.Message
	}
	_, _ = fmt.Fprintln(w, line)
}

func Script(w io.Writer, r *script.Report, format string) error {
	if format == FormatJSON {
		return writeJSON(w, r)
	}
	t := newTable(w, "#", "Status", "Statement", "Rows", "Time", "Message")
	for _, o := range r.Outcomes {
		rows := ""
		if o.Result != nil {
			rows = fmt.Sprint(o.Result.RowsAffected)
		}
		t.AppendRow(table.Row{o.Index + 1, o.Status, firstLine(o.Statement, 50), rows, round(o.Duration), o.Message})
	}
	t.Render()
	return Summary(w, r)
}

// Summary prints the per-status counts of a script run.
func Summary(w io.Writer, r *script.Report) error {
	_, err := fmt.Fprintf(w, "run %s: %d succeeded, %d skipped, %d failed\n",
		r.RunID, r.Count(script.StatusSucceeded), r.Count(script.StatusSkipped), r.Count(script.StatusFailed))
	return err
}

func Refresh(w io.Writer, res refresh.Result, format string) error {
	if format == FormatJSON {
		return writeJSON(w, res)
	}
	t := newTable(w, "Step", "Rows", "Time")
	for _, s := range res.Steps {
		t.AppendRow(table.Row{s.Step, s.Rows, round(s.Duration)})
	}
	if !res.Success {
		t.AppendRow(table.Row{res.FailedStep, "failed", ""})
	}
	t.Render()

	if res.Success {
		_, err := fmt.Fprintf(w, "refresh %s succeeded\n", res.RunID)
		return err
	}
	note := ""
	if res.Transactional {
		note = " (rolled back)"
	}
	_, err := fmt.Fprintf(w, "refresh %s failed at %s%s: %s\n", res.RunID, res.FailedStep, note, res.Error)
	return err
}

func Plan(w io.Writer, steps []refresh.Step, transactional bool, format string) error {
	if format == FormatJSON {
		return writeJSON(w, map[string]any{"transactional": transactional, "steps": steps})
	}
	t := newTable(w, "#", "Action", "Table")
	for i, s := range steps {
		t.AppendRow(table.Row{i + 1, s.Action, s.Table})
	}
	t.Render()
	_, err := fmt.Fprintf(w, "transactional: %t\n", transactional)
	return err
}

func Inventory(w io.Writer, inv introspect.Inventory, format string) error {
	if format == FormatJSON {
		return writeJSON(w, inv)
	}
	t := newTable(w, "Schema", "Table", "Type")
	for _, s := range inv.Schemas {
		if s.Err != nil {
			t.AppendRow(table.Row{s.Schema, "error: " + s.Err.Error(), ""})
			continue
		}
		if len(s.Tables) == 0 {
			t.AppendRow(table.Row{s.Schema, "(no tables)", ""})
		}
		for _, tbl := range s.Tables {
			t.AppendRow(table.Row{s.Schema, tbl.Name, tbl.Type})
		}
	}
	t.Render()
	return nil
}

// Rows prints table rows with columns in sorted order.
func Rows(w io.Writer, rows []db.Row, format string) error {
	if format == FormatJSON {
		if rows == nil {
			rows = []db.Row{}
		}
		return writeJSON(w, rows)
	}
	if len(rows) == 0 {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return nil
	}

	seen := map[string]bool{}
	for _, r := range rows {
		for k := range r {
			seen[k] = true
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)

	header := make([]any, len(cols))
	for i, c := range cols {
		header[i] = c
	}
	t := newTable(w, header...)
	for _, r := range rows {
		row := make(table.Row, len(cols))
		for i, c := range cols {
			row[i] = formatValue(r[c])
		}
		t.AppendRow(row)
	}
	t.Render()
	_, err := fmt.Fprintf(w, "(%d rows)\n", len(rows))
	return err
}

func Runs(w io.Writer, runs []journal.Run, format string) error {
	if format == FormatJSON {
		if runs == nil {
			runs = []journal.Run{}
		}
		return writeJSON(w, runs)
	}
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(w, "no runs recorded")
		return nil
	}
	t := newTable(w, "ID", "Kind", "Name", "Status", "OK", "Skipped", "Failed", "Started")
	for _, r := range runs {
		t.AppendRow(table.Row{r.ID, r.Kind, r.Name, r.Status, r.Succeeded, r.Skipped, r.Failed,
			r.StartedAt.Local().Format(time.DateTime)})
	}
	t.Render()
	return nil
}

func Entries(w io.Writer, entries []journal.Entry, format string) error {
	if format == FormatJSON {
		return writeJSON(w, entries)
	}
	t := newTable(w, "#", "Status", "Entry", "Rows", "Message")
	for _, e := range entries {
		t.AppendRow(table.Row{e.Position + 1, e.Status, firstLine(e.Label, 60), e.Rows, e.Message})
	}
	t.Render()
	return nil
}

func formatValue(v any) string {
	if v == nil {
		return "NULL"
	}
	return fmt.Sprintf("%v", v)
}

func firstLine(s string, limit int) string {
	line, _, cut := strings.Cut(s, "\n")
	if len(line) > limit {
		return line[:limit] + "..."
	}
	if cut {
		return line + " ..."
	}
	return line
}

func round(d time.Duration) time.Duration {
	return d.Round(time.Millisecond)
}
