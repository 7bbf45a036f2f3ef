package postgres

import (
	"strings"
	"testing"

	"fuelsync/internal/storage"
)

// boolPtr is a tiny helper to avoid repeating &[]bool literals in tests.
func boolPtr(v bool) *bool { return &v }

func TestBuildCreateSQL_SchemaQualifiedTable(t *testing.T) {
	t.Parallel()

	spec := storage.TableSpec{
		Name:            "public.ubicacion",
		AutoCreateTable: true,
		PrimaryKey:      &storage.PrimaryKeySpec{Name: "id_ubicacion", Type: storage.TypeBigInt},
		Columns: []storage.ColumnSpec{
			{Name: "id_bencinera", Type: storage.TypeText, Nullable: boolPtr(false)},
			{Name: "latitud", Type: storage.TypeFloat},
			{Name: "direccion", Type: "varchar(200)"},
		},
		Constraints: []storage.ConstraintSpec{{Kind: "unique", Columns: []string{"id_bencinera"}}},
	}

	schemaSQL, tableSQL, err := buildCreateSQL(spec)
	if err != nil {
		t.Fatalf("buildCreateSQL: %v", err)
	}
	if schemaSQL != `CREATE SCHEMA IF NOT EXISTS "public";` {
		t.Fatalf("unexpected schema SQL: %q", schemaSQL)
	}
	for _, want := range []string{
		`CREATE TABLE IF NOT EXISTS "public"."ubicacion"`,
		`"id_ubicacion" BIGINT PRIMARY KEY`,
		`"id_bencinera" TEXT NOT NULL`,
		`"latitud" DOUBLE PRECISION`,
		`"direccion" VARCHAR(200)`,
		`UNIQUE ("id_bencinera")`,
	} {
		if !strings.Contains(tableSQL, want) {
			t.Fatalf("tableSQL missing %q:\n%s", want, tableSQL)
		}
	}
	if strings.Contains(tableSQL, `"latitud" DOUBLE PRECISION NOT NULL`) {
		t.Fatalf("nullable column rendered NOT NULL:\n%s", tableSQL)
	}
}

func TestBuildCreateSQL_ReferencesAndUnqualified(t *testing.T) {
	t.Parallel()

	spec := storage.TableSpec{
		Name:       "precio_combustible",
		PrimaryKey: &storage.PrimaryKeySpec{Name: "id_precio_combustible", Type: storage.TypeBigInt},
		Columns: []storage.ColumnSpec{
			{Name: "id_fecha", Type: storage.TypeBigInt, References: "fecha(id_fecha)", Nullable: boolPtr(false)},
		},
	}

	schemaSQL, tableSQL, err := buildCreateSQL(spec)
	if err != nil {
		t.Fatalf("buildCreateSQL: %v", err)
	}
	if schemaSQL != "" {
		t.Fatalf("expected no schema SQL, got %q", schemaSQL)
	}
	if !strings.Contains(tableSQL, `"id_fecha" BIGINT NOT NULL REFERENCES fecha(id_fecha)`) {
		t.Fatalf("missing FK definition:\n%s", tableSQL)
	}
}

func TestBuildCreateSQL_Errors(t *testing.T) {
	t.Parallel()

	if _, _, err := buildCreateSQL(storage.TableSpec{}); err == nil {
		t.Fatalf("expected error for empty table name")
	}
	bad := storage.TableSpec{
		Name:        "t",
		Columns:     []storage.ColumnSpec{{Name: "a", Type: storage.TypeInt}},
		Constraints: []storage.ConstraintSpec{{Kind: "check", Columns: []string{"a"}}},
	}
	if _, _, err := buildCreateSQL(bad); err == nil {
		t.Fatalf("expected error for unsupported constraint kind")
	}
}

func TestDialect_UpdateUsesDollarPlaceholders(t *testing.T) {
	t.Parallel()

	st, err := Dialect.BuildUpdate("bencineras",
		[]storage.Assignment{{Column: "tienda", Value: false}},
		"id_bencinera", "co1")
	if err != nil {
		t.Fatalf("BuildUpdate: %v", err)
	}
	want := `UPDATE "bencineras" SET "tienda" = $1 WHERE "id_bencinera" = $2`
	if st.SQL != want {
		t.Fatalf("got %s, want %s", st.SQL, want)
	}
}

func TestPgIdent_EscapesQuotes(t *testing.T) {
	t.Parallel()

	if got := pgIdent(`we"ird`); got != `"we""ird"` {
		t.Fatalf("pgIdent = %s", got)
	}
}
