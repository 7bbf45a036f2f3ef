package storage

import (
	"fmt"
	"strings"
)

// Statement is one SQL text plus its bound arguments.
type Statement struct {
	SQL  string
	Args []any
}

// Dialect captures the per-backend differences of the statements the sync
// engine issues: identifier quoting, placeholder syntax and the bound-parameter
// ceiling of a single statement.
//
// Builders on Dialect are pure and deterministic so each backend can unit test
// placeholder numbering and quoting without a database.
type Dialect struct {
	// Ident quotes one identifier part (no dots).
	Ident func(name string) string

	// Placeholder renders the n-th (1-based) bind placeholder.
	Placeholder func(n int) string

	// MaxParams is the maximum number of bound parameters per statement.
	// Zero means unlimited.
	MaxParams int
}

// Table quotes a possibly schema-qualified table name.
//
// Example (postgres):
//
//	"public.bencineras" -> "public"."bencineras"
func (d Dialect) Table(name string) string {
	parts := strings.Split(strings.TrimSpace(name), ".")
	for i := range parts {
		parts[i] = d.Ident(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

func (d Dialect) identList(columns []string) string {
	var b strings.Builder
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.Ident(c))
	}
	return b.String()
}

// BuildSelect returns "SELECT cols FROM table [ORDER BY orderBy]".
func (d Dialect) BuildSelect(table string, columns []string, orderBy string) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(d.identList(columns))
	b.WriteString(" FROM ")
	b.WriteString(d.Table(table))
	if orderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(d.Ident(orderBy))
	}
	return b.String()
}

// BuildSelectWhere returns a SELECT filtered by "column = <placeholder 1>".
func (d Dialect) BuildSelectWhere(table string, columns []string, column string, value any) Statement {
	sql := d.BuildSelect(table, columns, "") + " WHERE " + d.Ident(column) + " = " + d.Placeholder(1)
	return Statement{SQL: sql, Args: []any{value}}
}

// BuildMax returns "SELECT MAX(column) FROM table".
func (d Dialect) BuildMax(table, column string) string {
	return fmt.Sprintf("SELECT MAX(%s) FROM %s", d.Ident(column), d.Table(table))
}

// BuildCount returns a COUNT(*) filtered by "column = <placeholder 1>".
func (d Dialect) BuildCount(table, column string, value any) Statement {
	return Statement{
		SQL:  fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = %s", d.Table(table), d.Ident(column), d.Placeholder(1)),
		Args: []any{value},
	}
}

// BuildDelete returns a DELETE filtered by "column = <placeholder 1>".
func (d Dialect) BuildDelete(table, column string, value any) Statement {
	return Statement{
		SQL:  fmt.Sprintf("DELETE FROM %s WHERE %s = %s", d.Table(table), d.Ident(column), d.Placeholder(1)),
		Args: []any{value},
	}
}

// BuildUpdate returns "UPDATE table SET a = ?, b = ? WHERE key = ?".
//
// Only the given assignments are written; the key is always the last argument.
//
// Errors:
//   - set is empty (an UPDATE with nothing to set is a caller bug).
func (d Dialect) BuildUpdate(table string, set []Assignment, keyColumn string, key any) (Statement, error) {
	if len(set) == 0 {
		return Statement{}, fmt.Errorf("storage: update %s: no columns to set", table)
	}
	if keyColumn == "" {
		return Statement{}, fmt.Errorf("storage: update %s: key column is empty", table)
	}

	var b strings.Builder
	b.WriteString("UPDATE ")
	b.WriteString(d.Table(table))
	b.WriteString(" SET ")

	args := make([]any, 0, len(set)+1)
	for i, a := range set {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.Ident(a.Column))
		b.WriteString(" = ")
		b.WriteString(d.Placeholder(i + 1))
		args = append(args, a.Value)
	}

	b.WriteString(" WHERE ")
	b.WriteString(d.Ident(keyColumn))
	b.WriteString(" = ")
	b.WriteString(d.Placeholder(len(set) + 1))
	args = append(args, key)

	return Statement{SQL: b.String(), Args: args}, nil
}

// BuildInsert builds multi-row INSERT ... VALUES statements for rows.
//
// Rows are split into as many statements as needed to keep each statement at
// or below MaxParams bound parameters (SQL Server allows 2100 per request).
// Placeholder numbering restarts at 1 in each statement.
//
// Errors:
//   - columns is empty.
//   - a row's length differs from len(columns).
//   - a single row needs more parameters than MaxParams.
func (d Dialect) BuildInsert(table string, columns []string, rows [][]any) ([]Statement, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("storage: insert %s: no columns", table)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	perStmt := len(rows)
	if d.MaxParams > 0 {
		perStmt = d.MaxParams / len(columns)
		if perStmt == 0 {
			return nil, fmt.Errorf("storage: insert %s: %d columns exceed %d parameters", table, len(columns), d.MaxParams)
		}
	}

	head := "INSERT INTO " + d.Table(table) + " (" + d.identList(columns) + ") VALUES "

	var out []Statement
	for start := 0; start < len(rows); start += perStmt {
		end := start + perStmt
		if end > len(rows) {
			end = len(rows)
		}

		var b strings.Builder
		b.WriteString(head)
		args := make([]any, 0, (end-start)*len(columns))
		p := 1
		for i, row := range rows[start:end] {
			if len(row) != len(columns) {
				return nil, fmt.Errorf("storage: insert %s: row %d has %d values, want %d", table, start+i, len(row), len(columns))
			}
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString("(")
			for j := range columns {
				if j > 0 {
					b.WriteString(", ")
				}
				b.WriteString(d.Placeholder(p))
				args = append(args, row[j])
				p++
			}
			b.WriteString(")")
		}
		out = append(out, Statement{SQL: b.String(), Args: args})
	}
	return out, nil
}
