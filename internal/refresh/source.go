package refresh

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"dbsetup/internal/db"
)

// Extensions FileSource looks for, in lookup order.
var dataExtensions = []string{".yaml", ".yml", ".json", ".csv"}

var ErrNoData = errors.New("no data definition")

// FileSource reads table rows from <dir>/<table>.<ext>.
type FileSource struct {
	Dir string
}

func NewFileSource(dir string) *FileSource {
	return &FileSource{Dir: dir}
}

func (s *FileSource) Rows(_ context.Context, table string) ([]db.Row, error) {
	path, err := s.find(table)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var rows []db.Row
	if filepath.Ext(path) == ".csv" {
		rows, err = decodeCSV(f)
	} else {
		// JSON is valid YAML; decoding both with yaml.v3 keeps integers as int.
		rows, err = decodeYAML(f)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return rows, nil
}

// Tables lists the tables that have a data definition in Dir, sorted.
func (s *FileSource) Tables() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		for _, known := range dataExtensions {
			if ext == known {
				seen[strings.TrimSuffix(e.Name(), ext)] = true
			}
		}
	}
	tables := make([]string, 0, len(seen))
	for t := range seen {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables, nil
}

func (s *FileSource) find(table string) (string, error) {
	if table == "" || strings.ContainsAny(table, `/\`) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	for _, ext := range dataExtensions {
		path := filepath.Join(s.Dir, table+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w for table %s in %s", ErrNoData, table, s.Dir)
}

func decodeYAML(r io.Reader) ([]db.Row, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	root := &doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}
	if root.Kind == yaml.MappingNode {
		if err := onlyRowsKey(root); err != nil {
			return nil, err
		}
		var wrapped struct {
			Rows []db.Row `yaml:"rows"`
		}
		if err := root.Decode(&wrapped); err != nil {
			return nil, err
		}
		return wrapped.Rows, nil
	}
	var rows []db.Row
	if err := root.Decode(&rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// onlyRowsKey rejects mappings other than {rows: [...]}, which would
// otherwise decode to no rows and empty the table.
func onlyRowsKey(m *yaml.Node) error {
	var keys []string
	for i := 0; i+1 < len(m.Content); i += 2 {
		keys = append(keys, m.Content[i].Value)
	}
	if len(keys) != 1 || keys[0] != "rows" {
		return fmt.Errorf("line %d: expected a list of rows or a mapping with only a rows key, got keys %v", m.Line, keys)
	}
	return nil
}

// decodeCSV maps each record onto the header row. Empty cells are NULL.
func decodeCSV(r io.Reader) ([]db.Row, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var rows []db.Row
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		row := make(db.Row, len(header))
		for i, col := range header {
			if record[i] == "" {
				row[col] = nil
				continue
			}
			row[col] = record[i]
		}
		rows = append(rows, row)
	}
}
