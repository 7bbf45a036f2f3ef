// Package warehouse is the incremental synchronization engine: it keeps the
// stations and locations dimensions in step with each snapshot, maintains the
// date dimension, and replaces the day's price facts exactly once per date.
package warehouse

import (
	"strings"

	"fuelsync/internal/fuel"
	"fuelsync/internal/storage"
)

// Sequence table columns.
const (
	colSeqTable = "table_name"
	colSeqValue = "last_value"
)

// Names holds the (optionally schema-qualified) table names of one warehouse.
type Names struct {
	Stations  string `json:"stations"`
	Locations string `json:"locations"`
	Dates     string `json:"dates"`
	Prices    string `json:"prices"`
	Sequences string `json:"sequences"`
}

// DefaultNames returns the standard table names, qualified with schema when
// it is non-empty (e.g. "bencinas.fecha").
func DefaultNames(schema string) Names {
	q := func(t string) string {
		if s := strings.TrimSpace(schema); s != "" {
			return s + "." + t
		}
		return t
	}
	return Names{
		Stations:  q("bencineras"),
		Locations: q("ubicacion"),
		Dates:     q("fecha"),
		Prices:    q("precio_combustible"),
		Sequences: q("key_sequences"),
	}
}

func (n Names) withDefaults() Names {
	d := DefaultNames("")
	if n.Stations == "" {
		n.Stations = d.Stations
	}
	if n.Locations == "" {
		n.Locations = d.Locations
	}
	if n.Dates == "" {
		n.Dates = d.Dates
	}
	if n.Prices == "" {
		n.Prices = d.Prices
	}
	if n.Sequences == "" {
		n.Sequences = d.Sequences
	}
	return n
}

// TableSpecs describes the warehouse schema in creation order: referenced
// tables come before the fact table.
//
// Station ids are bounded varchar so every backend can index them and use them
// as foreign keys.
func (n Names) TableSpecs(autoCreate bool) []storage.TableSpec {
	n = n.withDefaults()
	notNull := false

	ref := func(table, column string) string { return table + "(" + column + ")" }

	stationCols := []storage.ColumnSpec{{Name: fuel.ColRazonSocial, Type: storage.TypeText}}
	for _, c := range fuel.StationColumns[2:] {
		typ := storage.TypeText
		if !strings.HasPrefix(c, "distribuidor_") {
			typ = storage.TypeBool
		}
		stationCols = append(stationCols, storage.ColumnSpec{Name: c, Type: typ})
	}

	return []storage.TableSpec{
		{
			Name:            n.Dates,
			AutoCreateTable: autoCreate,
			PrimaryKey:      &storage.PrimaryKeySpec{Name: fuel.ColDateID, Type: storage.TypeBigInt},
			Columns:         []storage.ColumnSpec{{Name: fuel.ColDate, Type: storage.TypeDate, Nullable: &notNull}},
			Constraints:     []storage.ConstraintSpec{{Kind: "unique", Columns: []string{fuel.ColDate}}},
		},
		{
			Name:            n.Stations,
			AutoCreateTable: autoCreate,
			PrimaryKey:      &storage.PrimaryKeySpec{Name: fuel.ColStationID, Type: "varchar(64)"},
			Columns:         stationCols,
		},
		{
			Name:            n.Locations,
			AutoCreateTable: autoCreate,
			PrimaryKey:      &storage.PrimaryKeySpec{Name: fuel.ColLocationID, Type: storage.TypeBigInt},
			Columns: []storage.ColumnSpec{
				{Name: fuel.ColStationID, Type: "varchar(64)", Nullable: &notNull, References: ref(n.Stations, fuel.ColStationID)},
				{Name: "nombre_comuna", Type: storage.TypeText},
				{Name: "nombre_region", Type: storage.TypeText},
				{Name: "latitud", Type: storage.TypeFloat},
				{Name: "longitud", Type: storage.TypeFloat},
				{Name: fuel.ColDireccion, Type: storage.TypeText},
			},
			Constraints: []storage.ConstraintSpec{{Kind: "unique", Columns: []string{fuel.ColStationID}}},
		},
		{
			Name:            n.Prices,
			AutoCreateTable: autoCreate,
			PrimaryKey:      &storage.PrimaryKeySpec{Name: fuel.ColPriceID, Type: storage.TypeBigInt},
			Columns: []storage.ColumnSpec{
				{Name: fuel.ColStationID, Type: "varchar(64)", Nullable: &notNull, References: ref(n.Stations, fuel.ColStationID)},
				{Name: fuel.ColLocationID, Type: storage.TypeBigInt, Nullable: &notNull, References: ref(n.Locations, fuel.ColLocationID)},
				{Name: fuel.ColDateID, Type: storage.TypeBigInt, Nullable: &notNull, References: ref(n.Dates, fuel.ColDateID)},
				{Name: fuel.ColFuelType, Type: "varchar(32)", Nullable: &notNull},
				{Name: fuel.ColPrice, Type: storage.TypeBigInt, Nullable: &notNull},
			},
			Constraints: []storage.ConstraintSpec{{
				Kind:    "unique",
				Columns: []string{fuel.ColStationID, fuel.ColFuelType, fuel.ColDateID},
			}},
		},
		{
			Name:            n.Sequences,
			AutoCreateTable: autoCreate,
			PrimaryKey:      &storage.PrimaryKeySpec{Name: colSeqTable, Type: "varchar(128)"},
			Columns:         []storage.ColumnSpec{{Name: colSeqValue, Type: storage.TypeBigInt, Nullable: &notNull}},
		},
	}
}

// priceColumns is the insert column order of the fact table.
var priceColumns = []string{
	fuel.ColPriceID,
	fuel.ColStationID,
	fuel.ColLocationID,
	fuel.ColDateID,
	fuel.ColFuelType,
	fuel.ColPrice,
}
