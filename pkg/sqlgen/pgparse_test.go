package sqlgen

import (
	"testing"
	"time"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// Every query shape the differ emits must be syntactically valid
// PostgreSQL. pg_query embeds the real server parser, so this catches
// rendering slips the golden tests don't anticipate.
func TestPostgresRendersParse(t *testing.T) {
	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	keyRange := []Expr{
		Compare{Op: OpLE, Lhs: Int{Value: 10}, Rhs: Ident{Name: "id"}},
		Compare{Op: OpLT, Lhs: Ident{Name: "id"}, Rhs: Int{Value: 500}},
		Compare{Op: OpLE, Lhs: Time{Value: ts}, Rhs: Ident{Name: "updated_at"}},
	}
	selects := []Select{
		{
			Table:   TableName{Path: []string{"public", "ratings"}},
			Columns: []Expr{Min{Column: "id"}, Max{Column: "id"}},
			Where:   keyRange,
		},
		{
			Table:   TableName{Path: []string{"ratings"}},
			Columns: []Expr{Count{}},
			Where:   keyRange,
		},
		{
			Table:   TableName{Path: []string{"ratings"}},
			Columns: []Expr{Count{}, Checksum{Columns: []string{"id", "rating", "updated_at"}}},
			Where:   keyRange,
		},
		{
			Table:   TableName{Path: []string{"ratings"}},
			Columns: []Expr{Text{Column: "id"}, Text{Column: "rating"}},
			Where:   keyRange,
		},
	}
	for _, sel := range selects {
		sql, err := Compile(Postgres, sel)
		if err != nil {
			t.Fatalf("compile: %v", err)
		}
		if _, err := pg_query.Parse(sql); err != nil {
			t.Errorf("generated SQL does not parse: %v\n%s", err, sql)
		}
	}
}
