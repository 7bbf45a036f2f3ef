package warehouse

import (
	"context"
	"errors"
	"fmt"

	"fuelsync/internal/storage"
)

// ErrDuplicateNaturalKey reports more than one row sharing a natural key,
// either stored in the target table or within one incoming batch.
var ErrDuplicateNaturalKey = errors.New("duplicate natural key")

// TableSync describes one dimension table to synchronize.
type TableSync struct {
	Table string

	// Columns are aligned with every row in Rows and must include NaturalKey.
	// SurrogateKey, when set, must not be part of Columns.
	Columns    []string
	NaturalKey string
	Rows       [][]any

	// SurrogateKey is allocated from Sequence for rows inserted for the first
	// time and never changed afterwards. Empty for tables keyed by the
	// natural key itself.
	SurrogateKey string
	Sequence     Sequence
}

// SyncResult summarizes one Synchronize call.
type SyncResult struct {
	Table     string `json:"table"`
	Inserted  int    `json:"inserted"`
	Updated   int    `json:"updated"`
	Unchanged int    `json:"unchanged"`

	// Keys maps each incoming natural key (storage.NormalizeKey form) to its
	// surrogate key. Empty when the table has no surrogate key.
	Keys map[string]int64 `json:"-"`
}

type update struct {
	key any
	set []storage.Assignment
}

// Synchronize brings the table in line with ts.Rows:
//   - rows whose natural key is not stored are bulk-inserted, with fresh
//     surrogate keys in incoming order;
//   - rows whose stored copy differs get one UPDATE setting only the changed
//     columns, filtered by the natural key;
//   - rows equal to their stored copy issue no statement.
//
// The table is read once. Stored rows absent from the input are left alone.
// The plan is computed before any write, so a data-integrity error leaves the
// table untouched. Run it inside storage.Warehouse.InTx to make the applied
// writes atomic.
//
// Errors:
//   - ErrDuplicateNaturalKey when an incoming key matches several stored rows
//     or appears twice in the input.
func Synchronize(ctx context.Context, q storage.Querier, ts TableSync) (SyncResult, error) {
	res := SyncResult{Table: ts.Table, Keys: map[string]int64{}}

	nk := indexOf(ts.Columns, ts.NaturalKey)
	if nk < 0 {
		return res, fmt.Errorf("sync %s: natural key %q not in columns", ts.Table, ts.NaturalKey)
	}
	if ts.SurrogateKey != "" && indexOf(ts.Columns, ts.SurrogateKey) >= 0 {
		return res, fmt.Errorf("sync %s: surrogate key %q must not be an input column", ts.Table, ts.SurrogateKey)
	}
	for i, r := range ts.Rows {
		if len(r) != len(ts.Columns) {
			return res, fmt.Errorf("sync %s: row %d has %d values, want %d", ts.Table, i, len(r), len(ts.Columns))
		}
	}

	readCols := ts.Columns
	offset := 0
	if ts.SurrogateKey != "" {
		readCols = append([]string{ts.SurrogateKey}, ts.Columns...)
		offset = 1
	}

	stored, err := q.SelectRows(ctx, ts.Table, readCols, "")
	if err != nil {
		return res, fmt.Errorf("sync %s: read: %w", ts.Table, err)
	}
	byKey := make(map[string][][]any, len(stored))
	for _, r := range stored {
		k := storage.NormalizeKey(r[offset+nk])
		byKey[k] = append(byKey[k], r)
	}

	var (
		inserts [][]any
		updates []update
		seen    = make(map[string]bool, len(ts.Rows))
	)
	for _, row := range ts.Rows {
		k := storage.NormalizeKey(row[nk])
		if seen[k] {
			return res, fmt.Errorf("sync %s: %w: %q repeated in input", ts.Table, ErrDuplicateNaturalKey, k)
		}
		seen[k] = true

		matches := byKey[k]
		switch len(matches) {
		case 0:
			inserts = append(inserts, row)
			continue
		case 1:
		default:
			return res, fmt.Errorf("sync %s: %w: %q stored %d times", ts.Table, ErrDuplicateNaturalKey, k, len(matches))
		}

		cur := matches[0]
		if ts.SurrogateKey != "" {
			id, err := storage.AsInt64(cur[0])
			if err != nil {
				return res, fmt.Errorf("sync %s: %s of %q: %w", ts.Table, ts.SurrogateKey, k, err)
			}
			res.Keys[k] = id
		}

		var set []storage.Assignment
		for i, col := range ts.Columns {
			if i == nk {
				continue
			}
			if !storage.EqualValue(cur[offset+i], row[i]) {
				set = append(set, storage.Assignment{Column: col, Value: row[i]})
			}
		}
		if len(set) == 0 {
			res.Unchanged++
			continue
		}
		updates = append(updates, update{key: row[nk], set: set})
	}

	for _, u := range updates {
		if _, err := q.UpdateRow(ctx, ts.Table, u.set, ts.NaturalKey, u.key); err != nil {
			return res, fmt.Errorf("sync %s: update %q: %w", ts.Table, storage.NormalizeKey(u.key), err)
		}
		res.Updated++
	}

	if len(inserts) == 0 {
		return res, nil
	}

	cols := ts.Columns
	if ts.SurrogateKey != "" {
		keys, err := AllocateKeys(ctx, q, ts.Sequence, ts.Table, ts.SurrogateKey, len(inserts))
		if err != nil {
			return res, fmt.Errorf("sync %s: %w", ts.Table, err)
		}
		cols = readCols
		withKeys := make([][]any, len(inserts))
		for i, r := range inserts {
			withKeys[i] = append([]any{keys[i]}, r...)
			res.Keys[storage.NormalizeKey(r[nk])] = keys[i]
		}
		inserts = withKeys
	}

	if _, err := q.InsertRows(ctx, ts.Table, cols, inserts); err != nil {
		return res, fmt.Errorf("sync %s: insert %d rows: %w", ts.Table, len(inserts), err)
	}
	res.Inserted = len(inserts)
	return res, nil
}

func indexOf(cols []string, name string) int {
	for i, c := range cols {
		if c == name {
			return i
		}
	}
	return -1
}
