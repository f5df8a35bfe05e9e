package db

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockClient(t *testing.T, provider string, batchSize int) (*SQLClient, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	client, err := NewSQLClient(sqlDB, provider, batchSize)
	require.NoError(t, err)
	return client, mock
}

func TestNewSQLClient_UnsupportedProvider(t *testing.T) {
	sqlDB, _, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = sqlDB.Close() }()

	_, err = NewSQLClient(sqlDB, "oracle", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported provider")
}

func TestSQLClient_Exec(t *testing.T) {
	tests := []struct {
		name      string
		statement string
		setupMock func(mock sqlmock.Sqlmock)
		want      Result
		expectErr bool
	}{
		{
			name:      "ddl reports rows affected",
			statement: "CREATE TABLE t (x int)",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("CREATE TABLE t (x int)").WillReturnResult(sqlmock.NewResult(0, 0))
			},
			want: Result{RowsAffected: 0},
		},
		{
			name:      "update reports rows affected",
			statement: "UPDATE t SET x = 1",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE t SET x = 1").WillReturnResult(sqlmock.NewResult(0, 3))
			},
			want: Result{RowsAffected: 3},
		},
		{
			name:      "select captures rows",
			statement: "SELECT id, name FROM companies",
			setupMock: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{"id", "name"}).
					AddRow(int64(1), []byte("Acme")).
					AddRow(int64(2), "Globex")
				mock.ExpectQuery("SELECT id, name FROM companies").WillReturnRows(rows)
			},
			want: Result{
				Columns:      []string{"id", "name"},
				Rows:         []Row{{"id": int64(1), "name": "Acme"}, {"id": int64(2), "name": "Globex"}},
				RowsAffected: 2,
			},
		},
		{
			name:      "insert returning is queried",
			statement: "INSERT INTO t (x) VALUES (1) RETURNING x",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("INSERT INTO t (x) VALUES (1) RETURNING x").
					WillReturnRows(sqlmock.NewRows([]string{"x"}).AddRow(int64(1)))
			},
			want: Result{Columns: []string{"x"}, Rows: []Row{{"x": int64(1)}}, RowsAffected: 1},
		},
		{
			name:      "driver error is returned unchanged",
			statement: "DROP TABLE missing",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("DROP TABLE missing").WillReturnError(assert.AnError)
			},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, mock := newMockClient(t, "postgres", 0)
			tt.setupMock(mock)

			got, err := client.Exec(context.Background(), tt.statement)
			if tt.expectErr {
				require.ErrorIs(t, err, assert.AnError)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSQLClient_Call(t *testing.T) {
	t.Run("postgres uses named notation", func(t *testing.T) {
		client, mock := newMockClient(t, "postgres", 0)
		mock.ExpectQuery(`SELECT * FROM "get_tables"("schema_name" => $1)`).
			WithArgs("public").
			WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("companies"))

		rows, err := client.Call(context.Background(), "get_tables", map[string]any{"schema_name": "public"})
		require.NoError(t, err)
		assert.Equal(t, []Row{{"table_name": "companies"}}, rows)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("postgres schema qualified without args", func(t *testing.T) {
		client, mock := newMockClient(t, "postgres", 0)
		mock.ExpectQuery(`SELECT * FROM "api"."get_schemas"()`).
			WillReturnRows(sqlmock.NewRows([]string{"schema_name"}).AddRow("public"))

		rows, err := client.Call(context.Background(), "api.get_schemas", nil)
		require.NoError(t, err)
		assert.Len(t, rows, 1)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("mysql uses CALL with positional args", func(t *testing.T) {
		client, mock := newMockClient(t, "mysql", 0)
		mock.ExpectQuery("CALL `get_tables`(?, ?)").
			WithArgs("x", "public").
			WillReturnRows(sqlmock.NewRows([]string{"table_name"}))

		rows, err := client.Call(context.Background(), "get_tables", map[string]any{"schema_name": "public", "a": "x"})
		require.NoError(t, err)
		assert.Empty(t, rows)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSQLClient_Insert(t *testing.T) {
	t.Run("batches and fills missing columns with NULL", func(t *testing.T) {
		client, mock := newMockClient(t, "postgres", 2)
		mock.ExpectExec(`INSERT INTO "companies" ("id", "name") VALUES ($1, $2), ($3, $4)`).
			WithArgs(1, "Acme", 2, nil).
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectExec(`INSERT INTO "companies" ("id", "name") VALUES ($1, $2)`).
			WithArgs(3, "Initech").
			WillReturnResult(sqlmock.NewResult(0, 1))

		n, err := client.Insert(context.Background(), "companies", []Row{
			{"id": 1, "name": "Acme"},
			{"id": 2},
			{"id": 3, "name": "Initech"},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("mysql placeholders", func(t *testing.T) {
		client, mock := newMockClient(t, "mysql", 0)
		mock.ExpectExec("INSERT INTO `procedures` (`id`) VALUES (?)").
			WithArgs(7).
			WillReturnResult(sqlmock.NewResult(0, 1))

		n, err := client.Insert(context.Background(), "procedures", []Row{{"id": 7}})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no rows is a no-op", func(t *testing.T) {
		client, mock := newMockClient(t, "postgres", 0)
		n, err := client.Insert(context.Background(), "companies", nil)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rows without columns are rejected", func(t *testing.T) {
		client, _ := newMockClient(t, "postgres", 0)
		_, err := client.Insert(context.Background(), "companies", []Row{{}})
		require.Error(t, err)
	})
}

func TestSQLClient_SelectDelete(t *testing.T) {
	client, mock := newMockClient(t, "postgres", 0)
	mock.ExpectQuery(`SELECT * FROM "public"."companies"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2))
	mock.ExpectExec(`DELETE FROM "procedure_companies"`).
		WillReturnResult(sqlmock.NewResult(0, 4))

	rows, err := client.Select(context.Background(), "public.companies")
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	n, err := client.Delete(context.Background(), "procedure_companies")
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLClient_WithinTx(t *testing.T) {
	t.Run("commits on success", func(t *testing.T) {
		client, mock := newMockClient(t, "postgres", 0)
		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM "companies"`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := client.WithinTx(context.Background(), func(store TableStore) error {
			_, err := store.Delete(context.Background(), "companies")
			return err
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on failure", func(t *testing.T) {
		client, mock := newMockClient(t, "postgres", 0)
		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM "companies"`).WillReturnError(assert.AnError)
		mock.ExpectRollback()

		err := client.WithinTx(context.Background(), func(store TableStore) error {
			_, err := store.Delete(context.Background(), "companies")
			return err
		})
		require.ErrorIs(t, err, assert.AnError)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nested transaction is rejected", func(t *testing.T) {
		client, mock := newMockClient(t, "postgres", 0)
		mock.ExpectBegin()
		mock.ExpectRollback()

		err := client.WithinTx(context.Background(), func(store TableStore) error {
			return store.(Transactor).WithinTx(context.Background(), func(TableStore) error { return nil })
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already in progress")
	})
}

func TestReturnsRows(t *testing.T) {
	tests := []struct {
		statement string
		want      bool
	}{
		{"SELECT 1", true},
		{"  select * from t", true},
		{"-- leading comment\nSELECT 1", true},
		{"/* hint */ WITH x AS (SELECT 1) SELECT * FROM x", true},
		{"(SELECT 1) UNION (SELECT 2)", true},
		{"SHOW TABLES", true},
		{"CREATE TABLE t (x int)", false},
		{"INSERT INTO t VALUES (1)", false},
		{"DELETE FROM t RETURNING id", true},
		{"DO $$ BEGIN END $$", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, returnsRows(tt.statement), tt.statement)
	}
}
