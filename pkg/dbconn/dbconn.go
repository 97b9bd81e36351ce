// Package dbconn is the narrow database capability the differ consumes:
// compile a fragment tree, run it, decode the result into one of a small
// set of shapes. It also carries the Value/Row types materialized rows
// decode into.
package dbconn

import (
	"context"
	"strings"

	"github.com/alex-mirkin/reladiff/pkg/sqlgen"
)

// Value is one column of a materialized row, in the vendor's text form.
// Text normalization happens server-side (sqlgen.Text), so two databases
// holding the same logical value decode to the same Value.
type Value struct {
	Str  string
	Null bool
}

// Row is a materialized row in canonical column order.
type Row []Value

// Key returns a string that is equal for two rows iff the rows are equal,
// distinguishing NULL from any string (including the literal NULL marker).
func (r Row) Key() string {
	var b strings.Builder
	for _, v := range r {
		if v.Null {
			b.WriteString("\x00n")
		} else {
			b.WriteString("\x00s")
			b.WriteString(v.Str)
		}
	}
	return b.String()
}

// Checksum is the decoded checksum aggregate: an exact decimal sum, or
// NULL over an empty segment.
type Checksum struct {
	Sum   string
	Valid bool
}

func (c Checksum) Equal(o Checksum) bool {
	return c.Valid == o.Valid && c.Sum == o.Sum
}

// Database executes compiled fragment trees. The four methods are the
// decode shapes the differ needs: a min/max tuple, a scalar count, a
// (count, checksum) tuple, and a list of rows.
//
// Implementations must be safe for concurrent use; errors propagate
// unchanged and are not retried at this layer.
type Database interface {
	// QueryMinMax reports the key bounds of a segment. ok is false when
	// the segment holds no rows (NULL aggregates).
	QueryMinMax(ctx context.Context, sel sqlgen.Select) (min, max int64, ok bool, err error)

	// QueryCount reports the row count of a segment.
	QueryCount(ctx context.Context, sel sqlgen.Select) (int64, error)

	// QueryCountChecksum reports count and checksum in one round-trip.
	QueryCountChecksum(ctx context.Context, sel sqlgen.Select) (int64, Checksum, error)

	// QueryRows materializes a segment's rows.
	QueryRows(ctx context.Context, sel sqlgen.Select) ([]Row, error)
}
