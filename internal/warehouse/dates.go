package warehouse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fuelsync/internal/fuel"
	"fuelsync/internal/storage"
)

// ErrDateRegistry wraps every failure to resolve or create a date id.
var ErrDateRegistry = errors.New("date registry")

// DateRegistry maps a calendar day to its surrogate id_fecha.
//
// By default only the most recently inserted date row is compared with today:
// if a past day were reprocessed after a later one, a second row for that day
// would be created. StrictLookup switches to a lookup by date value.
type DateRegistry struct {
	Table        string
	StrictLookup bool
}

// GetOrCreateDateID returns the id for today's date, inserting a new row when
// needed. New ids are max(id_fecha)+1, or 1 on an empty table.
//
// Errors:
//   - Every read or write failure is wrapped with ErrDateRegistry. Callers must
//     not load facts without a valid id.
func (r DateRegistry) GetOrCreateDateID(ctx context.Context, q storage.Querier, today time.Time) (int64, error) {
	table := r.Table
	if table == "" {
		table = DefaultNames("").Dates
	}
	day := today.Format(storage.DateLayout)

	var (
		id  int64
		err error
	)
	if r.StrictLookup {
		id, err = r.byDate(ctx, q, table, day)
	} else {
		id, err = r.byLatest(ctx, q, table, day)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrDateRegistry, day, err)
	}
	return id, nil
}

func (r DateRegistry) byLatest(ctx context.Context, q storage.Querier, table, day string) (int64, error) {
	rows, err := q.SelectRows(ctx, table, []string{fuel.ColDateID, fuel.ColDate}, fuel.ColDateID)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return insertDate(ctx, q, table, 1, day)
	}

	last := rows[len(rows)-1]
	lastID, err := storage.AsInt64(last[0])
	if err != nil {
		return 0, err
	}
	lastDay, err := storage.AsDate(last[1])
	if err != nil {
		return 0, err
	}
	if lastDay == day {
		return lastID, nil
	}
	return insertDate(ctx, q, table, lastID+1, day)
}

func (r DateRegistry) byDate(ctx context.Context, q storage.Querier, table, day string) (int64, error) {
	rows, err := q.SelectRowsWhere(ctx, table, []string{fuel.ColDateID}, fuel.ColDate, day)
	if err != nil {
		return 0, err
	}
	if len(rows) > 0 {
		return storage.AsInt64(rows[0][0])
	}

	hi, ok, err := q.MaxInt(ctx, table, fuel.ColDateID)
	if err != nil {
		return 0, err
	}
	if !ok {
		hi = 0
	}
	return insertDate(ctx, q, table, hi+1, day)
}

func insertDate(ctx context.Context, q storage.Querier, table string, id int64, day string) (int64, error) {
	if _, err := q.InsertRows(ctx, table, []string{fuel.ColDateID, fuel.ColDate}, [][]any{{id, day}}); err != nil {
		return 0, err
	}
	return id, nil
}

// lookupDateIDs returns every id_fecha recorded for day.
func lookupDateIDs(ctx context.Context, q storage.Querier, table, day string) ([]int64, error) {
	rows, err := q.SelectRowsWhere(ctx, table, []string{fuel.ColDateID}, fuel.ColDate, day)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(rows))
	for _, r := range rows {
		id, err := storage.AsInt64(r[0])
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
