package diff

import (
	"sort"
	"strconv"

	"github.com/alex-mirkin/reladiff/pkg/dbconn"
)

// Sign marks which side of the diff a row belongs to.
type Sign string

const (
	// SignAdd marks a row present in the left table, absent in the right.
	SignAdd Sign = "+"
	// SignRemove marks a row present in the right table, absent in the left.
	SignRemove Sign = "-"
)

// Event is one element of the diff stream: a signed row in canonical
// column order.
type Event struct {
	Sign Sign
	Row  dbconn.Row
}

// diffSets computes the local set difference of two materialized
// segments. Events are grouped by key in ascending key order, additions
// before removals within a group, so the +/- pair of an updated row is
// adjacent in the stream.
func diffSets(a, b []dbconn.Row) []Event {
	s1 := make(map[string]dbconn.Row, len(a))
	for _, r := range a {
		s1[r.Key()] = r
	}
	s2 := make(map[string]dbconn.Row, len(b))
	for _, r := range b {
		s2[r.Key()] = r
	}

	type group struct {
		adds, removes []dbconn.Row
	}
	groups := make(map[rowKey]*group)
	at := func(k rowKey) *group {
		g, ok := groups[k]
		if !ok {
			g = &group{}
			groups[k] = g
		}
		return g
	}
	for k, r := range s1 {
		if _, ok := s2[k]; !ok {
			g := at(keyOf(r))
			g.adds = append(g.adds, r)
		}
	}
	for k, r := range s2 {
		if _, ok := s1[k]; !ok {
			g := at(keyOf(r))
			g.removes = append(g.removes, r)
		}
	}

	keys := make([]rowKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })

	var out []Event
	for _, k := range keys {
		g := groups[k]
		sortRows(g.adds)
		sortRows(g.removes)
		for _, r := range g.adds {
			out = append(out, Event{Sign: SignAdd, Row: r})
		}
		for _, r := range g.removes {
			out = append(out, Event{Sign: SignRemove, Row: r})
		}
	}
	return out
}

// rowKey orders events by the key column (row position 0). Keys are
// integral in practice; the raw form breaks ties and carries anything
// that failed to parse.
type rowKey struct {
	num  int64
	null bool
	raw  string
}

func keyOf(r dbconn.Row) rowKey {
	if len(r) == 0 || r[0].Null {
		return rowKey{null: true}
	}
	n, err := strconv.ParseInt(r[0].Str, 10, 64)
	if err != nil {
		return rowKey{raw: r[0].Str}
	}
	return rowKey{num: n, raw: r[0].Str}
}

func (k rowKey) less(o rowKey) bool {
	if k.null != o.null {
		return k.null
	}
	if k.num != o.num {
		return k.num < o.num
	}
	return k.raw < o.raw
}

func sortRows(rows []dbconn.Row) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key() < rows[j].Key() })
}
