package postgres

import (
	"fmt"
	"strings"

	"fuelsync/internal/storage"
)

// columnType maps a logical column type to Postgres DDL.
// Unknown types are passed through verbatim.
func columnType(typ string) string {
	base, size := storage.ColumnSpec{Type: typ}.LogicalType()
	switch base {
	case storage.TypeText:
		return "TEXT"
	case storage.TypeInt:
		return "INTEGER"
	case storage.TypeBigInt:
		return "BIGINT"
	case storage.TypeBool:
		return "BOOLEAN"
	case storage.TypeFloat:
		return "DOUBLE PRECISION"
	case storage.TypeDate:
		return "DATE"
	case storage.TypeVarchar:
		if size != "" {
			return "VARCHAR(" + size + ")"
		}
		return "VARCHAR"
	default:
		return strings.TrimSpace(typ)
	}
}

// buildColumnDef renders a single column definition.
//
// Nullable semantics:
//   - nullable == nil   => NULL allowed.
//   - nullable == false => NOT NULL.
func buildColumnDef(c storage.ColumnSpec) (string, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" || strings.TrimSpace(c.Type) == "" {
		return "", fmt.Errorf("column name/type must be set")
	}

	var b strings.Builder
	b.WriteString(pgIdent(name))
	b.WriteString(" ")
	b.WriteString(columnType(c.Type))
	if !c.IsNullable() {
		b.WriteString(" NOT NULL")
	}
	if ref := strings.TrimSpace(c.References); ref != "" {
		b.WriteString(" REFERENCES ")
		b.WriteString(ref)
	}
	return b.String(), nil
}

// splitQualifiedName splits a schema-qualified name into (schema, table).
//
// Examples:
//   - "public.bencineras" => ("public", "bencineras")
//   - "bencineras"        => ("", "bencineras")
func splitQualifiedName(name string) (schema string, table string) {
	name = strings.TrimSpace(name)
	parts := strings.Split(name, ".")
	if len(parts) != 2 {
		return "", name
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}

// buildCreateSQL builds idempotent DDL for one table.
//
// The primary key is declared with its logical type; surrogate keys are
// allocated by the sync engine, never by a sequence.
func buildCreateSQL(t storage.TableSpec) (schemaSQL, tableSQL string, err error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", "", fmt.Errorf("table name is empty")
	}

	if schema, _ := splitQualifiedName(t.Name); schema != "" {
		schemaSQL = fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s;`, pgIdent(schema))
	}

	defs := make([]string, 0, len(t.Columns)+len(t.Constraints)+1)
	if t.PrimaryKey != nil {
		pk := strings.TrimSpace(t.PrimaryKey.Name)
		if pk == "" || strings.TrimSpace(t.PrimaryKey.Type) == "" {
			return "", "", fmt.Errorf("table %s: primary_key.name and primary_key.type are required", t.Name)
		}
		defs = append(defs, fmt.Sprintf(`%s %s PRIMARY KEY`, pgIdent(pk), columnType(t.PrimaryKey.Type)))
	}

	for _, c := range t.Columns {
		def, err := buildColumnDef(c)
		if err != nil {
			return "", "", fmt.Errorf("table %s: %w", t.Name, err)
		}
		defs = append(defs, def)
	}
	if len(defs) == 0 {
		return "", "", fmt.Errorf("table %s: no columns", t.Name)
	}

	for _, con := range t.Constraints {
		if !strings.EqualFold(strings.TrimSpace(con.Kind), "unique") {
			return "", "", fmt.Errorf("table %s: unsupported constraint kind %q", t.Name, con.Kind)
		}
		if len(con.Columns) == 0 {
			return "", "", fmt.Errorf("table %s: unique constraint requires columns", t.Name)
		}
		cols := make([]string, 0, len(con.Columns))
		for _, c := range con.Columns {
			cols = append(cols, pgIdent(strings.TrimSpace(c)))
		}
		defs = append(defs, "UNIQUE ("+strings.Join(cols, ", ")+")")
	}

	tableSQL = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s);`, Dialect.Table(t.Name), strings.Join(defs, ", "))
	return schemaSQL, tableSQL, nil
}
