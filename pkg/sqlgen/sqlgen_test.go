package sqlgen

import (
	"testing"
	"time"
)

func mustCompile(t *testing.T, d Dialect, sel Select) string {
	t.Helper()
	s, err := Compile(d, sel)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return s
}

func TestCompilePostgres(t *testing.T) {
	sel := Select{
		Table:   TableName{Path: []string{"public", "ratings"}},
		Columns: []Expr{Count{}, Checksum{Columns: []string{"id", "rating"}}},
		Where: []Expr{
			Compare{Op: OpLE, Lhs: Int{Value: 1}, Rhs: Ident{Name: "id"}},
			Compare{Op: OpLT, Lhs: Ident{Name: "id"}, Rhs: Int{Value: 100}},
		},
	}
	got := mustCompile(t, Postgres, sel)
	// lib/pq renders the backslash-carrying NULL marker as an E-string
	// with a leading space.
	want := `SELECT count(*), sum(('x' || substr(md5(concat_ws('|', coalesce("id"::text,  E'\\N'), coalesce("rating"::text,  E'\\N'))), 18))::bit(60)::bigint) ` +
		`FROM "public"."ratings" WHERE (1 <= "id") AND ("id" < 100)`
	if got != want {
		t.Errorf("postgres compile mismatch\nwant: %s\ngot:  %s", want, got)
	}
}

func TestCompileMySQL(t *testing.T) {
	sel := Select{
		Table:   TableName{Path: []string{"ratings"}},
		Columns: []Expr{Min{Column: "id"}, Max{Column: "id"}},
	}
	got := mustCompile(t, MySQL, sel)
	want := "SELECT min(`id`), max(`id`) FROM `ratings`"
	if got != want {
		t.Errorf("mysql compile mismatch\nwant: %s\ngot:  %s", want, got)
	}
}

func TestCompileMySQLChecksumNullMarker(t *testing.T) {
	sel := Select{
		Table:   TableName{Path: []string{"t"}},
		Columns: []Expr{Checksum{Columns: []string{"v"}}},
	}
	got := mustCompile(t, MySQL, sel)
	// The marker must arrive at the server as the two bytes \N, which in
	// a MySQL string literal takes a doubled backslash.
	want := "SELECT sum(cast(conv(substr(md5(concat_ws('|', coalesce(cast(`v` as char), '\\\\N'))), 18), 16, 10) as unsigned)) FROM `t`"
	if got != want {
		t.Errorf("mysql checksum mismatch\nwant: %s\ngot:  %s", want, got)
	}
}

func TestCompileTimeLiteral(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	sel := Select{
		Table:   TableName{Path: []string{"t"}},
		Columns: []Expr{Count{}},
		Where: []Expr{
			Compare{Op: OpLE, Lhs: Time{Value: ts}, Rhs: Ident{Name: "updated_at"}},
		},
	}
	pg := mustCompile(t, Postgres, sel)
	wantPG := `SELECT count(*) FROM "t" WHERE ('2024-03-01 12:30:00.000000'::timestamp <= "updated_at")`
	if pg != wantPG {
		t.Errorf("postgres time literal\nwant: %s\ngot:  %s", wantPG, pg)
	}
	my := mustCompile(t, MySQL, sel)
	wantMy := "SELECT count(*) FROM `t` WHERE ('2024-03-01 12:30:00.000000' <= `updated_at`)"
	if my != wantMy {
		t.Errorf("mysql time literal\nwant: %s\ngot:  %s", wantMy, my)
	}
}

func TestCompileRejectsUnknownOperator(t *testing.T) {
	sel := Select{
		Table:   TableName{Path: []string{"t"}},
		Columns: []Expr{Count{}},
		Where:   []Expr{Compare{Op: ">=", Lhs: Ident{Name: "id"}, Rhs: Int{Value: 1}}},
	}
	if _, err := Compile(Postgres, sel); err == nil {
		t.Fatal("expected an error for operator >=")
	}
}

func TestQuoteIdentMySQL(t *testing.T) {
	got := MySQL.QuoteIdent("we`ird")
	if got != "`we``ird`" {
		t.Errorf("mysql quoting: got %s", got)
	}
}

func TestRowHash(t *testing.T) {
	// Vectors computed independently from the contract definition.
	cases := []struct {
		input string
		want  uint64
	}{
		{"1|a", 748370962453631196},
		{"2|b", 689865992552237787},
		{NullText, 930608461240600253},
	}
	for _, c := range cases {
		if got := RowHash(c.input); got != c.want {
			t.Errorf("RowHash(%q) = %d, want %d", c.input, got, c.want)
		}
	}
}

func TestChecksumInput(t *testing.T) {
	if got := ChecksumInput([]string{"1", "a", NullText}); got != `1|a|\N` {
		t.Errorf("ChecksumInput: got %q", got)
	}
}
