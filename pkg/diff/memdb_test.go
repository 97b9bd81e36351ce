package diff

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/alex-mirkin/reladiff/pkg/dbconn"
	"github.com/alex-mirkin/reladiff/pkg/sqlgen"
)

// memDB implements dbconn.Database over in-memory rows, interpreting the
// fragment trees the differ builds and computing checksums with the
// reference RowHash. It lets the whole engine run hermetically, and its
// call counters back the query-complexity assertions.
type memDB struct {
	cols []string
	rows []memRow

	minMaxCalls        atomic.Int64
	countChecksumCalls atomic.Int64
	rowQueries         atomic.Int64
}

type memRow map[string]dbconn.Value

const memTimeFormat = "2006-01-02 15:04:05.000000"

// newMemDB builds a table with the given columns; each tuple's values
// may be int, int64, string, time.Time, or nil for NULL.
func newMemDB(cols []string, tuples ...[]any) *memDB {
	m := &memDB{cols: cols}
	for _, tup := range tuples {
		if len(tup) != len(cols) {
			panic(fmt.Sprintf("tuple width %d != %d columns", len(tup), len(cols)))
		}
		row := memRow{}
		for i, v := range tup {
			row[cols[i]] = memValue(v)
		}
		m.rows = append(m.rows, row)
	}
	return m
}

func memValue(v any) dbconn.Value {
	switch t := v.(type) {
	case nil:
		return dbconn.Value{Null: true}
	case int:
		return dbconn.Value{Str: strconv.Itoa(t)}
	case int64:
		return dbconn.Value{Str: strconv.FormatInt(t, 10)}
	case string:
		return dbconn.Value{Str: t}
	case time.Time:
		return dbconn.Value{Str: t.UTC().Format(memTimeFormat)}
	default:
		panic(fmt.Sprintf("unsupported value %T", v))
	}
}

func (m *memDB) filter(sel sqlgen.Select) []memRow {
	var out []memRow
	for _, r := range m.rows {
		keep := true
		for _, w := range sel.Where {
			cmp, ok := w.(sqlgen.Compare)
			if !ok {
				panic(fmt.Sprintf("unexpected where fragment %T", w))
			}
			if !evalCompare(r, cmp) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, r)
		}
	}
	return out
}

func operand(r memRow, e sqlgen.Expr) dbconn.Value {
	switch t := e.(type) {
	case sqlgen.Ident:
		return r[t.Name]
	case sqlgen.Int:
		return dbconn.Value{Str: strconv.FormatInt(t.Value, 10)}
	case sqlgen.Time:
		return dbconn.Value{Str: t.Value.UTC().Format(memTimeFormat)}
	default:
		panic(fmt.Sprintf("unsupported operand %T", e))
	}
}

func evalCompare(r memRow, c sqlgen.Compare) bool {
	lhs, rhs := operand(r, c.Lhs), operand(r, c.Rhs)
	if lhs.Null || rhs.Null {
		return false
	}
	var cmp int
	ln, lerr := strconv.ParseInt(lhs.Str, 10, 64)
	rn, rerr := strconv.ParseInt(rhs.Str, 10, 64)
	if lerr == nil && rerr == nil {
		switch {
		case ln < rn:
			cmp = -1
		case ln > rn:
			cmp = 1
		}
	} else {
		switch {
		case lhs.Str < rhs.Str:
			cmp = -1
		case lhs.Str > rhs.Str:
			cmp = 1
		}
	}
	switch c.Op {
	case sqlgen.OpLT:
		return cmp < 0
	case sqlgen.OpLE:
		return cmp <= 0
	case sqlgen.OpEQ:
		return cmp == 0
	case sqlgen.OpNE:
		return cmp != 0
	}
	panic("unknown operator " + c.Op)
}

func (m *memDB) QueryMinMax(_ context.Context, sel sqlgen.Select) (int64, int64, bool, error) {
	m.minMaxCalls.Add(1)
	col := sel.Columns[0].(sqlgen.Min).Column
	var minKey, maxKey int64
	found := false
	for _, r := range m.filter(sel) {
		v := r[col]
		if v.Null {
			continue
		}
		n, err := strconv.ParseInt(v.Str, 10, 64)
		if err != nil {
			return 0, 0, false, err
		}
		if !found || n < minKey {
			minKey = n
		}
		if !found || n > maxKey {
			maxKey = n
		}
		found = true
	}
	return minKey, maxKey, found, nil
}

func (m *memDB) QueryCount(_ context.Context, sel sqlgen.Select) (int64, error) {
	return int64(len(m.filter(sel))), nil
}

func (m *memDB) QueryCountChecksum(_ context.Context, sel sqlgen.Select) (int64, dbconn.Checksum, error) {
	m.countChecksumCalls.Add(1)
	cols := sel.Columns[1].(sqlgen.Checksum).Columns
	rows := m.filter(sel)
	if len(rows) == 0 {
		return 0, dbconn.Checksum{}, nil
	}
	sum := new(big.Int)
	for _, r := range rows {
		fields := make([]string, len(cols))
		for i, c := range cols {
			v := r[c]
			if v.Null {
				fields[i] = sqlgen.NullText
			} else {
				fields[i] = v.Str
			}
		}
		h := sqlgen.RowHash(sqlgen.ChecksumInput(fields))
		sum.Add(sum, new(big.Int).SetUint64(h))
	}
	return int64(len(rows)), dbconn.Checksum{Sum: sum.String(), Valid: true}, nil
}

func (m *memDB) QueryRows(_ context.Context, sel sqlgen.Select) ([]dbconn.Row, error) {
	m.rowQueries.Add(1)
	var out []dbconn.Row
	for _, r := range m.filter(sel) {
		row := make(dbconn.Row, len(sel.Columns))
		for i, c := range sel.Columns {
			row[i] = r[c.(sqlgen.Text).Column]
		}
		out = append(out, row)
	}
	return out, nil
}
