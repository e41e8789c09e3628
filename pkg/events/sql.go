package events

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SQLRowCount fires when its query returns at least one row.
type SQLRowCount struct {
	db        *sql.DB
	query     string
	args      []any
	frequency time.Duration
}

// NewSQLRowCount polls query with args every frequency.
func NewSQLRowCount(db *sql.DB, frequency time.Duration, query string, args ...any) *SQLRowCount {
	return &SQLRowCount{db: db, query: query, args: args, frequency: frequencyOrDefault(frequency)}
}

func (e *SQLRowCount) Frequency() time.Duration { return e.frequency }

func (e *SQLRowCount) Resolve(ctx context.Context, _ any) (bool, error) {
	rows, err := e.db.QueryContext(ctx, e.query, e.args...)
	if err != nil {
		return false, fmt.Errorf("sql row count event: %w", err)
	}
	defer rows.Close()
	found := rows.Next()
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("sql row count event: %w", err)
	}
	return found, nil
}

// SQLResultSet fires when the first column of the first row is truthy.
// NULL, false, zero, the empty string and "0" are falsy; no row is falsy.
type SQLResultSet struct {
	db        *sql.DB
	query     string
	args      []any
	frequency time.Duration
}

// NewSQLResultSet polls query with args every frequency.
func NewSQLResultSet(db *sql.DB, frequency time.Duration, query string, args ...any) *SQLResultSet {
	return &SQLResultSet{db: db, query: query, args: args, frequency: frequencyOrDefault(frequency)}
}

func (e *SQLResultSet) Frequency() time.Duration { return e.frequency }

func (e *SQLResultSet) Resolve(ctx context.Context, _ any) (bool, error) {
	rows, err := e.db.QueryContext(ctx, e.query, e.args...)
	if err != nil {
		return false, fmt.Errorf("sql result set event: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return false, rows.Err()
	}
	cols, err := rows.Columns()
	if err != nil {
		return false, fmt.Errorf("sql result set event: %w", err)
	}
	dest := make([]any, len(cols))
	var first any
	dest[0] = &first
	for i := 1; i < len(dest); i++ {
		dest[i] = new(any)
	}
	if err := rows.Scan(dest...); err != nil {
		return false, fmt.Errorf("sql result set event: %w", err)
	}
	return truthy(first), nil
}

// Healthy reports whether the database answers.
func (e *SQLResultSet) Healthy(ctx context.Context) bool {
	return e.db.PingContext(ctx) == nil
}

// Healthy reports whether the database answers.
func (e *SQLRowCount) Healthy(ctx context.Context) bool {
	return e.db.PingContext(ctx) == nil
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case int64:
		return x != 0
	case float64:
		return x != 0
	case []byte:
		return truthyString(string(x))
	case string:
		return truthyString(x)
	default:
		return true
	}
}

func truthyString(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && s != "0"
}
