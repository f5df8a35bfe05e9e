package script

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

// Class tells the executor whether a statement failure stops being a failure.
type Class int

const (
	Fatal Class = iota
	Ignorable
)

func (c Class) String() string {
	if c == Ignorable {
		return "ignorable"
	}
	return "fatal"
}

// SQLSTATE codes Postgres raises when the created object is already there.
var duplicateSQLStates = map[string]string{
	"42P07": "duplicate_table",
	"42710": "duplicate_object",
	"42P06": "duplicate_schema",
	"42723": "duplicate_function",
	"42701": "duplicate_column",
	"42P04": "duplicate_database",
}

// MySQL server error numbers with the same meaning.
var duplicateMySQLErrors = map[uint16]string{
	1007: "database exists",
	1050: "table exists",
	1060: "duplicate column",
	1061: "duplicate key name",
	1304: "routine exists",
	1359: "trigger exists",
	1826: "duplicate foreign key name",
}

// Classify reports Ignorable for failures caused only by the target object
// already existing, and Fatal for everything else.
func Classify(err error) Class {
	class, _ := classify(err)
	return class
}

// Reason describes why an ignorable failure was skipped.
func Reason(err error) string {
	_, reason := classify(err)
	return reason
}

func classify(err error) (Class, string) {
	if err == nil {
		return Fatal, ""
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if name, ok := duplicateSQLStates[pgErr.Code]; ok {
			return Ignorable, fmt.Sprintf("already exists (SQLSTATE %s %s)", pgErr.Code, name)
		}
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		if name, ok := duplicateMySQLErrors[myErr.Number]; ok {
			return Ignorable, fmt.Sprintf("already exists (mysql %d %s)", myErr.Number, name)
		}
	}

	// Stores that only surface text still get the same treatment.
	if strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return Ignorable, "already exists: " + err.Error()
	}
	return Fatal, err.Error()
}
