package warehouse

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"fuelsync/internal/fuel"
	"fuelsync/internal/storage"
)

func TestSynchronize_UpdatesOnlyChangedColumn(t *testing.T) {
	t.Parallel()

	q := newFake()
	cols := []string{"id_bencinera", "razon_social", "tienda"}
	q.seed("bencineras", cols, []any{int64(7), "Copec", int64(1)})

	res, err := Synchronize(context.Background(), q, TableSync{
		Table:      "bencineras",
		Columns:    cols,
		NaturalKey: "id_bencinera",
		Rows:       [][]any{{"7", "Copec Sur", true}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Updated)
	require.Zero(t, res.Inserted)

	require.Len(t, q.updates, 1)
	require.Equal(t, []storage.Assignment{{Column: "razon_social", Value: "Copec Sur"}}, q.updates[0].set)
	require.Equal(t, "7", q.updates[0].key)
	require.Empty(t, q.inserts)
}

func TestSynchronize_EqualRowsIssueNoStatements(t *testing.T) {
	t.Parallel()

	q := newFake()
	cols := []string{"id_bencinera", "razon_social", "latitud", "tienda"}
	q.seed("bencineras", cols,
		[]any{"a", "Shell", -33.45, int64(0)},
		[]any{"b", "Copec", nil, nil},
	)

	res, err := Synchronize(context.Background(), q, TableSync{
		Table:      "bencineras",
		Columns:    cols,
		NaturalKey: "id_bencinera",
		Rows: [][]any{
			{"a", "Shell", -33.45, false},
			{"b", "Copec", nil, nil},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 2, res.Unchanged)
	require.Empty(t, q.updates)
	require.Empty(t, q.inserts)
	require.Equal(t, 1, q.selects, "the table is read once")
}

func TestSynchronize_NullChangesAreUpdates(t *testing.T) {
	t.Parallel()

	q := newFake()
	cols := []string{"id_bencinera", "tienda"}
	q.seed("bencineras", cols, []any{"a", int64(1)})

	res, err := Synchronize(context.Background(), q, TableSync{
		Table: "bencineras", Columns: cols, NaturalKey: "id_bencinera",
		Rows: [][]any{{"a", nil}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Updated)
	require.Nil(t, q.rows("bencineras")[0]["tienda"])
}

func TestSynchronize_EmptyLocationsGetOrderedKeys(t *testing.T) {
	t.Parallel()

	q := newFake()
	cols := []string{"id_bencinera", "nombre_comuna"}

	res, err := Synchronize(context.Background(), q, TableSync{
		Table:        "ubicacion",
		Columns:      cols,
		NaturalKey:   "id_bencinera",
		SurrogateKey: "id_ubicacion",
		Sequence:     MaxScanSequence{},
		Rows:         [][]any{{"1", "Ñuñoa"}, {"2", "Maipú"}},
	})
	require.NoError(t, err)
	require.Equal(t, 2, res.Inserted)
	require.Equal(t, map[string]int64{"1": 1, "2": 2}, res.Keys)

	require.Len(t, q.inserts, 1)
	require.Equal(t, []string{"id_ubicacion", "id_bencinera", "nombre_comuna"}, q.inserts[0].columns)
	require.Equal(t, [][]any{{int64(1), "1", "Ñuñoa"}, {int64(2), "2", "Maipú"}}, q.inserts[0].rows)
}

func TestSynchronize_MixedInsertAndUpdateKeepsSurrogate(t *testing.T) {
	t.Parallel()

	q := newFake()
	stored := []string{"id_ubicacion", "id_bencinera", "direccion"}
	q.seed("ubicacion", stored, []any{int64(5), "a", "Calle 1, 10"})

	res, err := Synchronize(context.Background(), q, TableSync{
		Table:        "ubicacion",
		Columns:      []string{"id_bencinera", "direccion"},
		NaturalKey:   "id_bencinera",
		SurrogateKey: "id_ubicacion",
		Rows:         [][]any{{"new", "Calle 2, 20"}, {"a", "Calle 1, 12"}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Inserted)
	require.Equal(t, 1, res.Updated)
	require.Equal(t, map[string]int64{"a": 5, "new": 6}, res.Keys)

	require.Len(t, q.updates, 1)
	require.Equal(t, []storage.Assignment{{Column: "direccion", Value: "Calle 1, 12"}}, q.updates[0].set)
	require.EqualValues(t, 5, q.rows("ubicacion")[0]["id_ubicacion"], "surrogate key is never reassigned")
}

func TestSynchronize_StoredDuplicateAbortsBeforeWrites(t *testing.T) {
	t.Parallel()

	q := newFake()
	cols := []string{"id_bencinera", "razon_social"}
	q.seed("bencineras", cols, []any{"a", "x"}, []any{"a", "y"})

	_, err := Synchronize(context.Background(), q, TableSync{
		Table: "bencineras", Columns: cols, NaturalKey: "id_bencinera",
		Rows: [][]any{{"b", "new"}, {"a", "z"}},
	})
	require.ErrorIs(t, err, ErrDuplicateNaturalKey)
	require.True(t, IsDataIntegrity(err))
	require.Empty(t, q.inserts)
	require.Empty(t, q.updates)
}

func TestSynchronize_StoredDuplicateOfUntouchedKeyIsIgnored(t *testing.T) {
	t.Parallel()

	q := newFake()
	cols := []string{"id_bencinera", "razon_social"}
	q.seed("bencineras", cols, []any{"a", "x"}, []any{"a", "y"})

	res, err := Synchronize(context.Background(), q, TableSync{
		Table: "bencineras", Columns: cols, NaturalKey: "id_bencinera",
		Rows: [][]any{{"b", "new"}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Inserted)
}

func TestSynchronize_IncomingDuplicateIsRejected(t *testing.T) {
	t.Parallel()

	_, err := Synchronize(context.Background(), newFake(), TableSync{
		Table: "bencineras", Columns: []string{"id_bencinera"}, NaturalKey: "id_bencinera",
		Rows: [][]any{{"a"}, {" a "}},
	})
	require.ErrorIs(t, err, ErrDuplicateNaturalKey)
}

func TestSynchronize_InvalidInput(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := newFake()

	_, err := Synchronize(ctx, q, TableSync{Table: "t", Columns: []string{"a"}, NaturalKey: "id"})
	require.ErrorContains(t, err, "natural key")

	_, err = Synchronize(ctx, q, TableSync{Table: "t", Columns: []string{"id", "sk"}, NaturalKey: "id", SurrogateKey: "sk"})
	require.ErrorContains(t, err, "surrogate key")

	_, err = Synchronize(ctx, q, TableSync{Table: "t", Columns: []string{"id", "a"}, NaturalKey: "id", Rows: [][]any{{"x"}}})
	require.ErrorContains(t, err, "row 0")
}

func TestSynchronize_UpdateFailureSurfaces(t *testing.T) {
	t.Parallel()

	q := newFake()
	cols := []string{"id_bencinera", "razon_social"}
	q.seed("bencineras", cols, []any{"a", "x"})
	q.failUpdate = errors.New("deadlock")

	_, err := Synchronize(context.Background(), q, TableSync{
		Table: "bencineras", Columns: cols, NaturalKey: "id_bencinera",
		Rows: [][]any{{"a", "y"}},
	})
	require.ErrorContains(t, err, "deadlock")
}

func TestLoadFacts_SkipsUnsoldAndUsesLocationKeys(t *testing.T) {
	t.Parallel()

	q := newFake()
	p93, p97 := int64(1290), int64(1350)
	prices := []fuel.PriceSet{
		{StationID: "a", Prices: map[fuel.FuelType]*int64{fuel.Gasolina93: &p93, fuel.Gasolina95: nil}},
		{StationID: "b", Prices: map[fuel.FuelType]*int64{fuel.Gasolina97: &p97}},
	}

	n, err := LoadFacts(context.Background(), q, FactLoad{
		DateID:    3,
		Prices:    prices,
		Locations: map[string]int64{"a": 10, "b": 11},
		Sequence:  MaxScanSequence{},
	})
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
	require.Equal(t, priceColumns, q.inserts[0].columns)
	require.Equal(t, [][]any{
		{int64(1), "a", int64(10), int64(3), "gasolina_93", int64(1290)},
		{int64(2), "b", int64(11), int64(3), "gasolina_97", int64(1350)},
	}, q.inserts[0].rows)
}

func TestLoadFacts_MissingLocationIsAnError(t *testing.T) {
	t.Parallel()

	p := int64(1)
	_, err := LoadFacts(context.Background(), newFake(), FactLoad{
		DateID:    1,
		Prices:    []fuel.PriceSet{{StationID: "a", Prices: map[fuel.FuelType]*int64{fuel.GNC: &p}}},
		Locations: map[string]int64{},
	})
	require.ErrorContains(t, err, "id_ubicacion")
}
