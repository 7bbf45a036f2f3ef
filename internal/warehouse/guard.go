package warehouse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fuelsync/internal/fuel"
	"fuelsync/internal/storage"
)

// ErrRunGuard wraps failures to clear a previous same-day fact batch.
var ErrRunGuard = errors.New("run guard")

// RunGuard makes the fact load idempotent per calendar day.
type RunGuard struct {
	Dates  string
	Prices string
}

// ResetIfAlreadyRun deletes every fact row that references today's id_fecha
// and returns how many were removed. It is a no-op when today has no date row
// or no facts.
//
// It must complete before the day's facts are computed. Any error is wrapped
// with ErrRunGuard and the run must stop.
func (g RunGuard) ResetIfAlreadyRun(ctx context.Context, q storage.Querier, today time.Time) (int64, error) {
	names := Names{Dates: g.Dates, Prices: g.Prices}.withDefaults()
	day := today.Format(storage.DateLayout)

	ids, err := lookupDateIDs(ctx, q, names.Dates, day)
	if err != nil {
		return 0, fmt.Errorf("%w: lookup %s: %v", ErrRunGuard, day, err)
	}

	var deleted int64
	for _, id := range ids {
		n, err := q.CountWhere(ctx, names.Prices, fuel.ColDateID, id)
		if err != nil {
			return deleted, fmt.Errorf("%w: count facts for id_fecha=%d: %v", ErrRunGuard, id, err)
		}
		if n == 0 {
			continue
		}
		d, err := q.DeleteWhere(ctx, names.Prices, fuel.ColDateID, id)
		if err != nil {
			return deleted, fmt.Errorf("%w: delete facts for id_fecha=%d: %v", ErrRunGuard, id, err)
		}
		// Some drivers do not report affected rows.
		if d <= 0 {
			d = n
		}
		deleted += d
	}
	return deleted, nil
}
