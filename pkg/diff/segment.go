// Package diff implements hash-based bisection differencing of two
// relational tables. A TableSegment describes a key-bounded slice of one
// table; the Differ drives a pair of segments through recursive
// checksum comparison, materializing and set-diffing only the small
// ranges that disagree.
package diff

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/alex-mirkin/reladiff/pkg/dbconn"
	"github.com/alex-mirkin/reladiff/pkg/sqlgen"
)

var (
	// ErrConfig marks invalid parameter combinations, caught at
	// construction or entry.
	ErrConfig = errors.New("invalid configuration")

	// ErrEmptyTable is returned when key-bound discovery finds no rows
	// on one side.
	ErrEmptyTable = errors.New("table appears to be empty")
)

// TableSegment is an immutable description of a key-bounded, optionally
// time-bounded slice of one table on one database. Mutations return
// fresh copies, so segments are safely shared across workers.
type TableSegment struct {
	db           dbconn.Database
	path         []string
	keyColumn    string
	updateColumn string
	extraColumns []string

	// Semi-open bounds: [startKey, endKey), [minTime, maxTime).
	startKey, endKey *int64
	minTime, maxTime *time.Time
}

// SegmentOption configures a TableSegment at construction.
type SegmentOption func(*TableSegment)

// WithUpdateColumn includes a timestamp column in the checksummed
// columns and enables time bounds.
func WithUpdateColumn(name string) SegmentOption {
	return func(s *TableSegment) { s.updateColumn = name }
}

// WithExtraColumns includes additional columns in the checksum and in
// materialized rows.
func WithExtraColumns(names ...string) SegmentOption {
	return func(s *TableSegment) { s.extraColumns = append([]string(nil), names...) }
}

// WithKeyBounds restricts the segment to [start, end).
func WithKeyBounds(start, end int64) SegmentOption {
	return func(s *TableSegment) { s.startKey, s.endKey = &start, &end }
}

// WithMinTime restricts the segment to rows with updateColumn >= t.
func WithMinTime(t time.Time) SegmentOption {
	return func(s *TableSegment) { s.minTime = &t }
}

// WithMaxTime restricts the segment to rows with updateColumn < t.
func WithMaxTime(t time.Time) SegmentOption {
	return func(s *TableSegment) { s.maxTime = &t }
}

// NewTableSegment describes a slice of the table at path on db, ordered
// by keyColumn.
func NewTableSegment(db dbconn.Database, path []string, keyColumn string, opts ...SegmentOption) (*TableSegment, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: nil database", ErrConfig)
	}
	if len(path) == 0 || keyColumn == "" {
		return nil, fmt.Errorf("%w: table path and key column are required", ErrConfig)
	}
	s := &TableSegment{
		db:        db,
		path:      append([]string(nil), path...),
		keyColumn: keyColumn,
	}
	for _, o := range opts {
		o(s)
	}
	if s.updateColumn == "" && (s.minTime != nil || s.maxTime != nil) {
		return nil, fmt.Errorf("%w: min/max time bounds require an update column", ErrConfig)
	}
	return s, nil
}

// IsBounded reports whether both key bounds are set.
func (s *TableSegment) IsBounded() bool {
	return s.startKey != nil && s.endKey != nil
}

// StartKey returns the inclusive lower bound; only valid when IsBounded.
func (s *TableSegment) StartKey() int64 { return *s.startKey }

// EndKey returns the exclusive upper bound; only valid when IsBounded.
func (s *TableSegment) EndKey() int64 { return *s.endKey }

// withKeyRange returns a copy bounded to [start, end).
func (s *TableSegment) withKeyRange(start, end int64) *TableSegment {
	c := *s
	c.startKey, c.endKey = &start, &end
	return &c
}

// RelevantColumns is the canonical column list: the key column first,
// then the extra columns plus the update column, sorted. Both sides of a
// diff must agree on this order for checksums to match.
func (s *TableSegment) RelevantColumns() []string {
	seen := map[string]bool{}
	var extras []string
	for _, c := range s.extraColumns {
		if !seen[c] {
			seen[c] = true
			extras = append(extras, c)
		}
	}
	if s.updateColumn != "" && !seen[s.updateColumn] {
		extras = append(extras, s.updateColumn)
	}
	sort.Strings(extras)
	return append([]string{s.keyColumn}, extras...)
}

func (s *TableSegment) keyRange() []sqlgen.Expr {
	var where []sqlgen.Expr
	if s.startKey != nil {
		where = append(where, sqlgen.Compare{Op: sqlgen.OpLE, Lhs: sqlgen.Int{Value: *s.startKey}, Rhs: sqlgen.Ident{Name: s.keyColumn}})
	}
	if s.endKey != nil {
		where = append(where, sqlgen.Compare{Op: sqlgen.OpLT, Lhs: sqlgen.Ident{Name: s.keyColumn}, Rhs: sqlgen.Int{Value: *s.endKey}})
	}
	return where
}

func (s *TableSegment) updateRange() []sqlgen.Expr {
	var where []sqlgen.Expr
	if s.minTime != nil {
		where = append(where, sqlgen.Compare{Op: sqlgen.OpLE, Lhs: sqlgen.Time{Value: *s.minTime}, Rhs: sqlgen.Ident{Name: s.updateColumn}})
	}
	if s.maxTime != nil {
		where = append(where, sqlgen.Compare{Op: sqlgen.OpLT, Lhs: sqlgen.Ident{Name: s.updateColumn}, Rhs: sqlgen.Time{Value: *s.maxTime}})
	}
	return where
}

func (s *TableSegment) makeSelect(columns []sqlgen.Expr) sqlgen.Select {
	return sqlgen.Select{
		Table:   sqlgen.TableName{Path: s.path},
		Columns: columns,
		Where:   append(s.keyRange(), s.updateRange()...),
	}
}

// QueryKeyRange discovers the min and max key of the segment. Used for
// setting the initial bounds.
func (s *TableSegment) QueryKeyRange(ctx context.Context) (int64, int64, error) {
	sel := s.makeSelect([]sqlgen.Expr{
		sqlgen.Min{Column: s.keyColumn},
		sqlgen.Max{Column: s.keyColumn},
	})
	minKey, maxKey, ok, err := s.db.QueryMinMax(ctx, sel)
	if err != nil {
		return 0, 0, err
	}
	if !ok {
		return 0, 0, ErrEmptyTable
	}
	return minKey, maxKey, nil
}

// Count reports the segment's row count.
func (s *TableSegment) Count(ctx context.Context) (int64, error) {
	return s.db.QueryCount(ctx, s.makeSelect([]sqlgen.Expr{sqlgen.Count{}}))
}

// CountAndChecksum reports count and checksum in one round-trip; the hot
// path of the bisection.
func (s *TableSegment) CountAndChecksum(ctx context.Context) (int64, dbconn.Checksum, error) {
	sel := s.makeSelect([]sqlgen.Expr{
		sqlgen.Count{},
		sqlgen.Checksum{Columns: s.RelevantColumns()},
	})
	return s.db.QueryCountChecksum(ctx, sel)
}

// GetValues materializes the segment's rows in canonical column order.
func (s *TableSegment) GetValues(ctx context.Context) ([]dbconn.Row, error) {
	cols := s.RelevantColumns()
	exprs := make([]sqlgen.Expr, len(cols))
	for i, c := range cols {
		exprs[i] = sqlgen.Text{Column: c}
	}
	return s.db.QueryRows(ctx, s.makeSelect(exprs))
}

// ChooseCheckpoints suggests up to count evenly-spaced interior keys to
// split by, exclusive of both bounds. A range too narrow for count keys
// yields fewer, possibly none.
func (s *TableSegment) ChooseCheckpoints(count int) ([]int64, error) {
	if !s.IsBounded() {
		return nil, fmt.Errorf("%w: cannot choose checkpoints on an unbounded segment", ErrConfig)
	}
	size := *s.endKey - *s.startKey
	step := (size + int64(count) + 1) / (int64(count) + 1) // ceil((size+1)/(count+1))
	if step < 1 {
		step = 1
	}
	var cps []int64
	for c := *s.startKey + step; c < *s.endKey && len(cps) < count; c += step {
		cps = append(cps, c)
	}
	return cps, nil
}

// SegmentByCheckpoints splits the segment into len(checkpoints)+1
// contiguous children joined at the given keys.
func (s *TableSegment) SegmentByCheckpoints(checkpoints []int64) ([]*TableSegment, error) {
	if !s.IsBounded() {
		return nil, fmt.Errorf("%w: cannot segment an unbounded segment", ErrConfig)
	}
	cps := append([]int64(nil), checkpoints...)
	sort.Slice(cps, func(i, j int) bool { return cps[i] < cps[j] })
	for _, c := range cps {
		if c < *s.startKey || c >= *s.endKey {
			return nil, fmt.Errorf("%w: checkpoint %d outside [%d, %d)", ErrConfig, c, *s.startKey, *s.endKey)
		}
	}
	positions := make([]int64, 0, len(cps)+2)
	positions = append(positions, *s.startKey)
	positions = append(positions, cps...)
	positions = append(positions, *s.endKey)

	segments := make([]*TableSegment, len(positions)-1)
	for i := range segments {
		segments[i] = s.withKeyRange(positions[i], positions[i+1])
	}
	return segments, nil
}
