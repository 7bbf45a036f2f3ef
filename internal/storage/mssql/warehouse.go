package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"fuelsync/internal/storage"
)

// Note on driver registration:
//   - This package does NOT blank-import a SQL Server driver. The "sqlserver"
//     driver is registered by fuelsync/internal/storage/all, which the
//     entrypoints import.

func init() {
	storage.Register("mssql", New)
}

// SQL Server rejects requests with more than 2100 parameters; keep a margin.
const maxParams = 2000

// Dialect renders identifiers as [x] and placeholders as @pN.
var Dialect = storage.Dialect{
	Ident:       mssqlIdent,
	Placeholder: func(n int) string { return fmt.Sprintf("@p%d", n) },
	MaxParams:   maxParams,
}

// New constructs a warehouse using database/sql and the "sqlserver" driver.
//
// This method validates connectivity via PingContext.
func New(ctx context.Context, cfg storage.Config) (storage.Warehouse, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}

	raw.SetMaxOpenConns(8)
	raw.SetMaxIdleConns(8)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return storage.NewSQLWarehouse(raw, Dialect, buildCreateSQL), nil
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// columnType maps a logical type to SQL Server DDL.
//
// Text columns that take part in a key are bounded to NVARCHAR(450) because
// NVARCHAR(MAX) cannot be indexed.
func columnType(typ string, key bool) string {
	base, size := storage.ColumnSpec{Type: typ}.LogicalType()
	switch base {
	case storage.TypeText:
		if key {
			return "NVARCHAR(450)"
		}
		return "NVARCHAR(MAX)"
	case storage.TypeVarchar:
		if size == "" {
			size = "450"
		}
		return "NVARCHAR(" + size + ")"
	case storage.TypeInt:
		return "INT"
	case storage.TypeBigInt:
		return "BIGINT"
	case storage.TypeBool:
		return "BIT"
	case storage.TypeFloat:
		return "FLOAT"
	case storage.TypeDate:
		return "DATE"
	default:
		return strings.TrimSpace(typ)
	}
}

// buildCreateSQL builds idempotent CREATE TABLE SQL for one table.
//
// SQL Server has no CREATE TABLE IF NOT EXISTS; the statement is wrapped in an
// OBJECT_ID guard instead.
func buildCreateSQL(t storage.TableSpec) ([]string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return nil, fmt.Errorf("mssql: table name is empty")
	}

	keyCols := map[string]bool{}
	for _, con := range t.Constraints {
		for _, c := range con.Columns {
			keyCols[strings.ToLower(strings.TrimSpace(c))] = true
		}
	}

	var parts []string
	if t.PrimaryKey != nil {
		if strings.TrimSpace(t.PrimaryKey.Name) == "" {
			return nil, fmt.Errorf("mssql: primary key name is empty")
		}
		parts = append(parts, fmt.Sprintf("%s %s NOT NULL PRIMARY KEY",
			mssqlIdent(t.PrimaryKey.Name), columnType(t.PrimaryKey.Type, true)))
	}

	for _, c := range t.Columns {
		def, err := mssqlColumnDef(c, keyCols[strings.ToLower(strings.TrimSpace(c.Name))])
		if err != nil {
			return nil, err
		}
		parts = append(parts, def)
	}

	for _, con := range t.Constraints {
		if !strings.EqualFold(con.Kind, "unique") {
			return nil, fmt.Errorf("%s unsupported constraint kind: %s", t.Name, con.Kind)
		}
		if len(con.Columns) == 0 {
			return nil, fmt.Errorf("%s unique constraint has no columns", t.Name)
		}
		var cols []string
		for _, c := range con.Columns {
			cols = append(cols, mssqlIdent(c))
		}
		parts = append(parts, fmt.Sprintf("UNIQUE (%s)", strings.Join(cols, ", ")))
	}

	if len(parts) == 0 {
		return nil, fmt.Errorf("mssql: %s has no columns", t.Name)
	}
	return []string{wrapCreateIfMissing(t.Name, strings.Join(parts, ", "))}, nil
}

// wrapCreateIfMissing wraps a CREATE TABLE statement in an OBJECT_ID guard.
func wrapCreateIfMissing(tableName string, innerDefs string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		strings.ReplaceAll(tableName, "'", "''"),
		Dialect.Table(tableName),
		innerDefs,
	)
}

// mssqlColumnDef builds a SQL Server column definition from storage.ColumnSpec.
//
// It respects nullability and attaches a raw REFERENCES clause if provided.
func mssqlColumnDef(c storage.ColumnSpec, key bool) (string, error) {
	if strings.TrimSpace(c.Name) == "" {
		return "", fmt.Errorf("mssql: column name is empty")
	}
	if strings.TrimSpace(c.Type) == "" {
		return "", fmt.Errorf("mssql: column %s type is empty", c.Name)
	}

	var b strings.Builder
	b.WriteString(mssqlIdent(c.Name))
	b.WriteString(" ")
	b.WriteString(columnType(c.Type, key))
	if c.IsNullable() {
		b.WriteString(" NULL")
	} else {
		b.WriteString(" NOT NULL")
	}
	if strings.TrimSpace(c.References) != "" {
		b.WriteString(" REFERENCES ")
		b.WriteString(c.References)
	}
	return b.String(), nil
}
