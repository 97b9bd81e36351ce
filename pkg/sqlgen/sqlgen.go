// Package sqlgen defines the small, closed family of SQL fragments the
// differ emits, and compiles them to vendor SQL through a Dialect.
//
// The fragments are deliberately minimal: the differ only ever builds
// SELECTs over one table with range predicates and a handful of
// aggregates. Anything fancier belongs in the driver, not here.
package sqlgen

import "time"

// Expr is a node in the fragment tree.
type Expr interface {
	expr()
}

// Comparison operators accepted by Compare.
const (
	OpLT = "<"
	OpLE = "<="
	OpEQ = "="
	OpNE = "<>"
)

// Select is the root fragment. Table is required; the clause slices may
// be empty.
type Select struct {
	Table   TableName
	Columns []Expr
	Where   []Expr
	GroupBy []Expr
	OrderBy []Expr
}

// TableName is a possibly-qualified table identifier.
type TableName struct {
	Path []string
}

// Ident names a column.
type Ident struct {
	Name string
}

// Text names a column cast to its vendor text form. Materialized rows are
// selected through Text so both sides of a diff compare the same bytes the
// checksum hashed.
type Text struct {
	Column string
}

// Int is an integer literal.
type Int struct {
	Value int64
}

// Time is a timestamp literal.
type Time struct {
	Value time.Time
}

// Count is the cardinality aggregate, count(*).
type Count struct{}

// Min is the minimum aggregate over one column.
type Min struct {
	Column string
}

// Max is the maximum aggregate over one column.
type Max struct {
	Column string
}

// Checksum is the order-independent aggregate the whole diff pivots on.
//
// Contract, which every dialect must implement byte-for-byte:
//
//	input(row) = concat_ws('|', coalesce(text(c1), '\N'), ..., coalesce(text(cn), '\N'))
//	hash(row)  = last 15 hex digits of md5(input(row)), as an unsigned integer
//	checksum   = SUM(hash(row)) as an exact decimal, NULL over zero rows
//
// Two drivers handed the same logical rows must return the same decimal
// string, regardless of row order or vendor. RowHash in this package is
// the reference implementation of hash(row).
type Checksum struct {
	Columns []string
}

// Compare applies an operator to two operands, typically an identifier
// and a literal.
type Compare struct {
	Op  string
	Lhs Expr
	Rhs Expr
}

func (Select) expr()    {}
func (TableName) expr() {}
func (Ident) expr()     {}
func (Text) expr()      {}
func (Int) expr()       {}
func (Time) expr()      {}
func (Count) expr()     {}
func (Min) expr()       {}
func (Max) expr()       {}
func (Checksum) expr()  {}
func (Compare) expr()   {}
