// Package replica runs SQL against a database copy of a wiki, such as
// the Toolforge wiki replicas or a local import of a dump. The SQLite
// driver is registered by default; other database/sql drivers can be
// used by importing them and naming them in Open.
package replica

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// DefaultDriver is used when Open is given no driver name.
const DefaultDriver = "sqlite"

// ErrStop ends a Query early without an error.
var ErrStop = errors.New("replica: stop")

// Row is one result row keyed by column name. Byte slices are
// returned as strings, since replicas store titles as binary.
type Row map[string]any

// String returns a column as a string.
func (r Row) String(column string) string {
	switch v := r[column].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// DB is an open replica connection.
type DB struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open connects to a replica.
func Open(driver, dsn string) (*DB, error) {
	if driver == "" {
		driver = DefaultDriver
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DefaultDriver {
		// One connection keeps in-memory databases alive between calls.
		db.SetMaxOpenConns(1)
	}
	return &DB{db: db, logger: slog.Default()}, nil
}

// SetLogger replaces the logger.
func (d *DB) SetLogger(l *slog.Logger) {
	if l != nil {
		d.logger = l
	}
}

// Close closes the connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// Exec runs a statement that returns no rows.
func (d *DB) Exec(ctx context.Context, query string, args ...any) error {
	_, err := d.db.ExecContext(ctx, query, args...)
	return err
}

// Query runs query and calls fn for every row, returning when all rows
// were processed. If fn returns ErrStop the remaining rows are skipped;
// any other error is returned. The count of rows passed to fn is
// returned.
func (d *DB) Query(ctx context.Context, query string, fn func(Row) error, args ...any) (int, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return 0, err
	}

	n := 0
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return n, fmt.Errorf("scan row %d: %w", n, err)
		}

		row := make(Row, len(columns))
		for i, c := range columns {
			if b, ok := values[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = values[i]
			}
		}
		n++
		if err := fn(row); err != nil {
			if errors.Is(err, ErrStop) {
				return n, nil
			}
			return n, err
		}
	}
	if err := rows.Err(); err != nil {
		return n, err
	}
	d.logger.Debug("replica query done", "rows", n)
	return n, nil
}
