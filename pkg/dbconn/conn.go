package dbconn

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/alex-mirkin/reladiff/pkg/sqlgen"
)

// Conn implements Database over a *sql.DB and a dialect. database/sql
// pooling makes it safe for the differ's concurrent fan-outs; sizing the
// pool against the differ's query cap is the caller's job.
type Conn struct {
	db      *sql.DB
	dialect sqlgen.Dialect
}

// OpenPostgres opens a PostgreSQL connection pool for the given DSN.
func OpenPostgres(dsn string) (*Conn, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return &Conn{db: db, dialect: sqlgen.Postgres}, nil
}

// OpenMySQL opens a MySQL connection pool for the given DSN.
func OpenMySQL(dsn string) (*Conn, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	return &Conn{db: db, dialect: sqlgen.MySQL}, nil
}

// NewConn wraps an already-open pool with a dialect.
func NewConn(db *sql.DB, dialect sqlgen.Dialect) *Conn {
	return &Conn{db: db, dialect: dialect}
}

func (c *Conn) Dialect() sqlgen.Dialect { return c.dialect }

func (c *Conn) Close() error { return c.db.Close() }

func (c *Conn) Ping(ctx context.Context) error { return c.db.PingContext(ctx) }

func (c *Conn) QueryMinMax(ctx context.Context, sel sqlgen.Select) (int64, int64, bool, error) {
	q, err := sqlgen.Compile(c.dialect, sel)
	if err != nil {
		return 0, 0, false, err
	}
	var minKey, maxKey sql.NullInt64
	if err := c.db.QueryRowContext(ctx, q).Scan(&minKey, &maxKey); err != nil {
		return 0, 0, false, fmt.Errorf("query key range: %w", err)
	}
	if !minKey.Valid || !maxKey.Valid {
		return 0, 0, false, nil
	}
	return minKey.Int64, maxKey.Int64, true, nil
}

func (c *Conn) QueryCount(ctx context.Context, sel sqlgen.Select) (int64, error) {
	q, err := sqlgen.Compile(c.dialect, sel)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := c.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("query count: %w", err)
	}
	return n, nil
}

func (c *Conn) QueryCountChecksum(ctx context.Context, sel sqlgen.Select) (int64, Checksum, error) {
	q, err := sqlgen.Compile(c.dialect, sel)
	if err != nil {
		return 0, Checksum{}, err
	}
	var n int64
	var sum sql.NullString
	if err := c.db.QueryRowContext(ctx, q).Scan(&n, &sum); err != nil {
		return 0, Checksum{}, fmt.Errorf("query count and checksum: %w", err)
	}
	return n, Checksum{Sum: sum.String, Valid: sum.Valid}, nil
}

func (c *Conn) QueryRows(ctx context.Context, sel sqlgen.Select) ([]Row, error) {
	q, err := sqlgen.Compile(c.dialect, sel)
	if err != nil {
		return nil, err
	}
	rows, err := c.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query rows: %w", err)
	}
	defer rows.Close()

	width := len(sel.Columns)
	var out []Row
	for rows.Next() {
		scanned := make([]sql.NullString, width)
		ptrs := make([]any, width)
		for i := range scanned {
			ptrs[i] = &scanned[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(Row, width)
		for i, v := range scanned {
			row[i] = Value{Str: v.String, Null: !v.Valid}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration: %w", err)
	}
	return out, nil
}
