package dbconn

import (
	"context"
	"fmt"
	"strings"
)

// Columns lists the column names of a table in ordinal order, from
// information_schema (available on both supported vendors). The differ
// front-end uses it to compare every column when -columns is '*'.
func (c *Conn) Columns(ctx context.Context, path []string) ([]string, error) {
	var schema, table string
	switch len(path) {
	case 1:
		table = path[0]
	case 2:
		schema, table = path[0], path[1]
	default:
		return nil, fmt.Errorf("table path %q must have one or two parts", strings.Join(path, "."))
	}

	query := `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_name = ?`
	args := []any{table}
	if schema != "" {
		query += " AND table_schema = ?"
		args = append(args, schema)
	}
	query += " ORDER BY ordinal_position"
	if c.dialect.Name() == "postgres" {
		query = numberPlaceholders(query)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration (columns): %w", err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %s not found", strings.Join(path, "."))
	}
	return cols, nil
}

// numberPlaceholders rewrites ? placeholders to the $1 form.
func numberPlaceholders(q string) string {
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
