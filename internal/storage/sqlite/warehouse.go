package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"fuelsync/internal/storage"
)

// Key design points vs Postgres:
//   - SQLite has no DATE or BOOLEAN storage class. Dates are stored as
//     "YYYY-MM-DD" TEXT and booleans as INTEGER 0/1; storage.EqualValue and
//     storage.AsDate absorb the difference when diffing.
//   - "INTEGER PRIMARY KEY" aliases the rowid. Explicit key values are always
//     supplied by the sync engine, so rowid auto-assignment never kicks in.
//   - The pool is limited to one connection: ":memory:" databases are
//     per-connection and the engine is sequential anyway.

func init() {
	storage.Register("sqlite", New)
}

// maxParams matches SQLITE_MAX_VARIABLE_NUMBER in SQLite >= 3.32.
const maxParams = 32766

// Dialect renders identifiers as "x" and placeholders as ?.
var Dialect = storage.Dialect{
	Ident:       sqlIdent,
	Placeholder: func(int) string { return "?" },
	MaxParams:   maxParams,
}

// New opens a SQLite warehouse with foreign keys enforced.
func New(ctx context.Context, cfg storage.Config) (storage.Warehouse, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: enable foreign keys: %w", err)
	}
	return storage.NewSQLWarehouse(db, Dialect, buildCreateSQL), nil
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func columnType(typ string) string {
	base, _ := storage.ColumnSpec{Type: typ}.LogicalType()
	switch base {
	case storage.TypeText, storage.TypeVarchar, storage.TypeDate:
		return "TEXT"
	case storage.TypeInt, storage.TypeBigInt, storage.TypeBool:
		return "INTEGER"
	case storage.TypeFloat:
		return "REAL"
	default:
		return strings.TrimSpace(typ)
	}
}

// buildCreateSQL renders CREATE TABLE IF NOT EXISTS for one table.
func buildCreateSQL(t storage.TableSpec) ([]string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return nil, fmt.Errorf("table name is empty")
	}

	var parts []string
	if t.PrimaryKey != nil {
		if strings.TrimSpace(t.PrimaryKey.Name) == "" {
			return nil, fmt.Errorf("%s: primary key name is empty", t.Name)
		}
		parts = append(parts, fmt.Sprintf(`%s %s PRIMARY KEY`, sqlIdent(t.PrimaryKey.Name), columnType(t.PrimaryKey.Type)))
	}

	for _, c := range t.Columns {
		if strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.Type) == "" {
			return nil, fmt.Errorf("%s: column name/type must be set", t.Name)
		}
		col := fmt.Sprintf("%s %s", sqlIdent(c.Name), columnType(c.Type))
		if !c.IsNullable() {
			col += " NOT NULL"
		}
		// SQLite supports REFERENCES, but enforcement depends on PRAGMA foreign_keys=ON.
		if c.References != "" {
			col += " REFERENCES " + c.References
		}
		parts = append(parts, col)
	}

	for _, con := range t.Constraints {
		if !strings.EqualFold(con.Kind, "unique") {
			return nil, fmt.Errorf("%s unsupported constraint kind: %s", t.Name, con.Kind)
		}
		var cols []string
		for _, c := range con.Columns {
			cols = append(cols, sqlIdent(c))
		}
		parts = append(parts, fmt.Sprintf("UNIQUE (%s)", strings.Join(cols, ", ")))
	}

	if len(parts) == 0 {
		return nil, fmt.Errorf("%s: no columns", t.Name)
	}

	return []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", Dialect.Table(t.Name), strings.Join(parts, ",\n  ")),
	}, nil
}
