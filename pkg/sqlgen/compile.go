package sqlgen

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Dialect renders the vendor-specific leaves of a fragment tree. The
// shared compiler handles everything structural.
type Dialect interface {
	Name() string

	// QuoteIdent quotes a single identifier part.
	QuoteIdent(name string) string

	// TimeLiteral renders a timestamp literal comparable against a
	// timestamp column.
	TimeLiteral(t time.Time) string

	// TextExpr renders a column cast to the vendor's text form. This is
	// the cast the checksum input uses, so selecting through it keeps
	// materialized rows and checksums consistent.
	TextExpr(column string) string

	// ChecksumExpr renders the full checksum aggregate over the given
	// columns, honoring the contract documented on Checksum.
	ChecksumExpr(columns []string) string
}

// Compile renders a Select for the given dialect.
func Compile(d Dialect, sel Select) (string, error) {
	var b strings.Builder
	b.WriteString("SELECT ")

	if len(sel.Columns) == 0 {
		return "", fmt.Errorf("sqlgen: select with no columns")
	}
	for i, c := range sel.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		s, err := compileExpr(d, c)
		if err != nil {
			return "", err
		}
		b.WriteString(s)
	}

	b.WriteString(" FROM ")
	b.WriteString(compileTable(d, sel.Table))

	if len(sel.Where) > 0 {
		b.WriteString(" WHERE ")
		for i, w := range sel.Where {
			if i > 0 {
				b.WriteString(" AND ")
			}
			s, err := compileExpr(d, w)
			if err != nil {
				return "", err
			}
			b.WriteString(s)
		}
	}

	if err := compileList(d, &b, " GROUP BY ", sel.GroupBy); err != nil {
		return "", err
	}
	if err := compileList(d, &b, " ORDER BY ", sel.OrderBy); err != nil {
		return "", err
	}
	return b.String(), nil
}

func compileList(d Dialect, b *strings.Builder, keyword string, exprs []Expr) error {
	if len(exprs) == 0 {
		return nil
	}
	b.WriteString(keyword)
	for i, e := range exprs {
		if i > 0 {
			b.WriteString(", ")
		}
		s, err := compileExpr(d, e)
		if err != nil {
			return err
		}
		b.WriteString(s)
	}
	return nil
}

func compileTable(d Dialect, t TableName) string {
	parts := make([]string, len(t.Path))
	for i, p := range t.Path {
		parts[i] = d.QuoteIdent(p)
	}
	return strings.Join(parts, ".")
}

func compileExpr(d Dialect, e Expr) (string, error) {
	switch v := e.(type) {
	case Ident:
		return d.QuoteIdent(v.Name), nil
	case Text:
		return d.TextExpr(v.Column), nil
	case Int:
		return strconv.FormatInt(v.Value, 10), nil
	case Time:
		return d.TimeLiteral(v.Value), nil
	case Count:
		return "count(*)", nil
	case Min:
		return "min(" + d.QuoteIdent(v.Column) + ")", nil
	case Max:
		return "max(" + d.QuoteIdent(v.Column) + ")", nil
	case Checksum:
		return d.ChecksumExpr(v.Columns), nil
	case Compare:
		switch v.Op {
		case OpLT, OpLE, OpEQ, OpNE:
		default:
			return "", fmt.Errorf("sqlgen: unknown comparison operator %q", v.Op)
		}
		lhs, err := compileExpr(d, v.Lhs)
		if err != nil {
			return "", err
		}
		rhs, err := compileExpr(d, v.Rhs)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s %s %s)", lhs, v.Op, rhs), nil
	case TableName:
		return compileTable(d, v), nil
	case Select:
		return "", fmt.Errorf("sqlgen: nested selects are not supported")
	default:
		return "", fmt.Errorf("sqlgen: unknown fragment %T", e)
	}
}
