package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrNotSelect is returned by QueryTable for anything but a SELECT
var ErrNotSelect = errors.New("only SELECT queries are allowed")

// QueryTable runs an ad hoc SELECT and returns the column names and every
// row rendered as text. NULL renders as "NULL".
func QueryTable(ctx context.Context, conn *sql.DB, query string) ([]string, [][]string, error) {
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "SELECT") {
		return nil, nil, ErrNotSelect
	}

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var out [][]string
	cells := make([]sql.RawBytes, len(cols))
	dest := make([]interface{}, len(cols))
	for i := range cells {
		dest[i] = &cells[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make([]string, len(cells))
		for i, c := range cells {
			if c == nil {
				row[i] = "NULL"
			} else {
				row[i] = string(c)
			}
		}
		out = append(out, row)
	}
	return cols, out, rows.Err()
}

// QueryTable runs an ad hoc SELECT against this database
func (db *DB) QueryTable(ctx context.Context, query string) ([]string, [][]string, error) {
	return QueryTable(ctx, db.conn, query)
}
