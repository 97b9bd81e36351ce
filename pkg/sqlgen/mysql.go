package sqlgen

import (
	"fmt"
	"strings"
	"time"
)

// MySQL renders fragments for MySQL.
var MySQL Dialect = mysqlDialect{}

type mysqlDialect struct{}

func (mysqlDialect) Name() string { return "mysql" }

func (mysqlDialect) QuoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (mysqlDialect) TimeLiteral(t time.Time) string {
	return "'" + t.UTC().Format("2006-01-02 15:04:05.000000") + "'"
}

func (d mysqlDialect) TextExpr(column string) string {
	return fmt.Sprintf("cast(%s as char)", d.QuoteIdent(column))
}

func (d mysqlDialect) ChecksumExpr(columns []string) string {
	parts := make([]string, len(columns))
	for i, c := range columns {
		// backslash is an escape character in MySQL string literals,
		// so the NULL marker needs doubling.
		parts[i] = fmt.Sprintf("coalesce(%s, '\\\\N')", d.TextExpr(c))
	}
	input := fmt.Sprintf("concat_ws('|', %s)", strings.Join(parts, ", "))
	return fmt.Sprintf("sum(cast(conv(substr(md5(%s), 18), 16, 10) as unsigned))", input)
}
