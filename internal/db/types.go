package db

import "log/slog"

// Row is a single record keyed by column name.
type Row map[string]any

// Result is the payload of a successfully executed statement.
type Result struct {
	Columns      []string `json:"columns,omitempty"`
	Rows         []Row    `json:"rows,omitempty"`
	RowsAffected int64    `json:"rows_affected"`
}

// Options describes how to reach the store.
type Options struct {
	Provider     string
	URL          string
	Key          string
	MaxOpenConns int
	BatchSize    int
	Logger       *slog.Logger
}

const defaultBatchSize = 500
