package warehouse

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestGetOrCreateDateID_EmptyTableThenSameDay(t *testing.T) {
	t.Parallel()

	q := newFake()
	ctx := context.Background()
	r := DateRegistry{}

	id, err := r.GetOrCreateDateID(ctx, q, day("2024-03-01"))
	require.NoError(t, err)
	require.EqualValues(t, 1, id)
	require.Len(t, q.inserts, 1)
	require.Equal(t, []any{int64(1), "2024-03-01"}, q.inserts[0].rows[0])

	id, err = r.GetOrCreateDateID(ctx, q, day("2024-03-01"))
	require.NoError(t, err)
	require.EqualValues(t, 1, id)
	require.Len(t, q.inserts, 1, "same day must not insert")
}

func TestGetOrCreateDateID_NextDayContinuesFromMax(t *testing.T) {
	t.Parallel()

	q := newFake()
	q.seed("fecha", []string{"id_fecha", "fecha"},
		[]any{int64(1), "2024-02-28"},
		[]any{int64(2), "2024-02-29"},
	)

	id, err := DateRegistry{}.GetOrCreateDateID(context.Background(), q, day("2024-03-01"))
	require.NoError(t, err)
	require.EqualValues(t, 3, id)
	require.Len(t, q.rows("fecha"), 3)
}

func TestGetOrCreateDateID_StoredTimeValues(t *testing.T) {
	t.Parallel()

	// Postgres and SQL Server scan DATE as time.Time.
	q := newFake()
	q.seed("fecha", []string{"id_fecha", "fecha"}, []any{int32(4), day("2024-03-01")})

	id, err := DateRegistry{}.GetOrCreateDateID(context.Background(), q, day("2024-03-01").Add(15*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 4, id)
	require.Empty(t, q.inserts)
}

func TestGetOrCreateDateID_LatestRowOnlyVersusStrict(t *testing.T) {
	t.Parallel()

	seed := func() *fakeQuerier {
		q := newFake()
		q.seed("fecha", []string{"id_fecha", "fecha"},
			[]any{int64(1), "2024-03-01"},
			[]any{int64(2), "2024-03-02"},
		)
		return q
	}

	// Reprocessing an older day: the default check only sees the latest row.
	q := seed()
	id, err := DateRegistry{}.GetOrCreateDateID(context.Background(), q, day("2024-03-01"))
	require.NoError(t, err)
	require.EqualValues(t, 3, id)

	q = seed()
	id, err = DateRegistry{StrictLookup: true}.GetOrCreateDateID(context.Background(), q, day("2024-03-01"))
	require.NoError(t, err)
	require.EqualValues(t, 1, id)
	require.Empty(t, q.inserts)
}

func TestGetOrCreateDateID_StrictInsertsAfterMax(t *testing.T) {
	t.Parallel()

	q := newFake()
	q.seed("fecha", []string{"id_fecha", "fecha"}, []any{int64(9), "2024-02-01"})

	id, err := DateRegistry{StrictLookup: true}.GetOrCreateDateID(context.Background(), q, day("2024-03-01"))
	require.NoError(t, err)
	require.EqualValues(t, 10, id)
}

func TestGetOrCreateDateID_WriteFailureIsWrapped(t *testing.T) {
	t.Parallel()

	q := newFake()
	q.failInsert = errors.New("disk full")

	_, err := DateRegistry{}.GetOrCreateDateID(context.Background(), q, day("2024-03-01"))
	require.ErrorIs(t, err, ErrDateRegistry)
	require.ErrorContains(t, err, "disk full")
}
