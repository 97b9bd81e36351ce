package sqlgen

import (
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Postgres renders fragments for PostgreSQL.
var Postgres Dialect = postgresDialect{}

type postgresDialect struct{}

func (postgresDialect) Name() string { return "postgres" }

func (postgresDialect) QuoteIdent(name string) string {
	return pq.QuoteIdentifier(name)
}

func (postgresDialect) TimeLiteral(t time.Time) string {
	return pq.QuoteLiteral(t.UTC().Format("2006-01-02 15:04:05.000000")) + "::timestamp"
}

func (d postgresDialect) TextExpr(column string) string {
	return d.QuoteIdent(column) + "::text"
}

func (d postgresDialect) ChecksumExpr(columns []string) string {
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = fmt.Sprintf("coalesce(%s, %s)", d.TextExpr(c), pq.QuoteLiteral(NullText))
	}
	input := fmt.Sprintf("concat_ws('|', %s)", strings.Join(parts, ", "))
	return fmt.Sprintf("sum(('x' || substr(md5(%s), 18))::bit(60)::bigint)", input)
}
