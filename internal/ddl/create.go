// Package ddl defines a small model for SQL DDL and renders CREATE TABLE
// statements for the load sinks.
//
// Dialect differences are kept to three knobs: identifier quoting, logical →
// SQL type mapping and how "create if missing" is spelled. Storage backends
// declare their Dialect next to their repository and register a bootstrapper
// with the storage package.
package ddl

import (
	"fmt"
	"strings"

	"gdbexport/internal/schema"
)

// ColumnDef describes a single column.
//
// Fields:
//   - Name: logical column name (unquoted; quoting happens at render time)
//   - SQLType: target SQL type (e.g., TEXT, BIGINT, DOUBLE PRECISION)
//   - Nullable: whether NULL is allowed
//   - PrimaryKey: whether the column is part of the primary key
type ColumnDef struct {
	Name       string
	SQLType    string
	Nullable   bool
	PrimaryKey bool
}

// TableDef holds the table name in dotted form ("schema.table" or "table")
// and an ordered list of columns.
type TableDef struct {
	FQN     string
	Columns []ColumnDef
}

// Dialect captures what differs between target databases.
type Dialect struct {
	Name string

	// Quote quotes one identifier segment.
	Quote func(string) string

	// MapType maps a logical schema type ("text", "bigint", "double") to SQL.
	MapType func(string) string

	// GuardMissing wraps a CREATE TABLE so it only runs when the table is
	// absent. Nil means the dialect supports CREATE TABLE IF NOT EXISTS.
	GuardMissing func(fqn, create string) string
}

// QuoteDouble quotes with ANSI double quotes (Postgres, SQLite).
func QuoteDouble(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// QuoteBacktick quotes MySQL style.
func QuoteBacktick(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}

// QuoteBracket quotes SQL Server style.
func QuoteBracket(s string) string {
	return "[" + strings.ReplaceAll(s, "]", "]]") + "]"
}

// QuoteFQN quotes each non-empty dotted segment of fqn.
func QuoteFQN(fqn string, quote func(string) string) string {
	parts := strings.Split(fqn, ".")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, quote(p))
		}
	}
	return strings.Join(out, ".")
}

// FromColumns derives a TableDef for an output schema. Every column is
// nullable; the first column (the H3 cell) is NOT NULL since exported
// records always carry it.
func FromColumns(table string, cols []schema.Column, d Dialect) (TableDef, error) {
	if strings.TrimSpace(table) == "" {
		return TableDef{}, fmt.Errorf("ddl: table is required")
	}
	if len(cols) == 0 {
		return TableDef{}, fmt.Errorf("ddl: columns must not be empty")
	}
	defs := make([]ColumnDef, len(cols))
	for i, c := range cols {
		defs[i] = ColumnDef{
			Name:     c.Name,
			SQLType:  d.MapType(c.Type),
			Nullable: i != 0,
		}
	}
	return TableDef{FQN: table, Columns: defs}, nil
}

// BuildCreateTableSQL renders a deterministic CREATE TABLE statement that is
// a no-op when the table already exists.
//
//   - t.FQN must be non-empty.
//   - Each column must have a non-empty Name and SQLType.
//   - Primary-key columns are always NOT NULL and are rendered as a trailing
//     PRIMARY KEY (...) clause in declaration order.
func BuildCreateTableSQL(t TableDef, d Dialect) (string, error) {
	fqn := strings.TrimSpace(t.FQN)
	if fqn == "" {
		return "", fmt.Errorf("ddl: table FQN must not be empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("ddl: at least one column is required")
	}
	quote := d.Quote
	if quote == nil {
		quote = QuoteDouble
	}

	cols := make([]string, 0, len(t.Columns)+1)
	pks := make([]string, 0, len(t.Columns))

	for _, c := range t.Columns {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return "", fmt.Errorf("ddl: column with empty name in table %s", fqn)
		}
		typ := strings.TrimSpace(c.SQLType)
		if typ == "" {
			return "", fmt.Errorf("ddl: column %s missing SQLType", name)
		}

		var sb strings.Builder
		sb.WriteString(quote(name))
		sb.WriteByte(' ')
		sb.WriteString(typ)
		if !c.Nullable || c.PrimaryKey {
			sb.WriteString(" NOT NULL")
		}
		cols = append(cols, sb.String())

		if c.PrimaryKey {
			pks = append(pks, quote(name))
		}
	}
	if len(pks) > 0 {
		cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(pks, ", ")))
	}

	qfqn := QuoteFQN(fqn, quote)
	body := fmt.Sprintf("(\n  %s\n)", strings.Join(cols, ",\n  "))
	if d.GuardMissing != nil {
		return d.GuardMissing(fqn, fmt.Sprintf("CREATE TABLE %s %s", qfqn, body)) + ";", nil
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s %s;", qfqn, body), nil
}
