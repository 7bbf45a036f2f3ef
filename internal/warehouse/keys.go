package warehouse

import (
	"context"
	"fmt"

	"fuelsync/internal/storage"
)

// Sequence hands out blocks of surrogate keys for one table.
//
// Next reserves n keys and returns the first; the block is first..first+n-1.
// Implementations must never return a value <= the current MAX(column).
type Sequence interface {
	Next(ctx context.Context, q storage.Querier, table, column string, n int) (int64, error)
}

// MaxScanSequence continues from MAX(column) in the target table. Keys of
// deleted rows that held the maximum are handed out again.
type MaxScanSequence struct{}

func (MaxScanSequence) Next(ctx context.Context, q storage.Querier, table, column string, n int) (int64, error) {
	hi, ok, err := q.MaxInt(ctx, table, column)
	if err != nil {
		return 0, err
	}
	if !ok {
		hi = 0
	}
	return hi + 1, nil
}

// CounterSequence keeps the last issued key per table in a counter table
// (table_name, last_value). The next block starts after
// max(last_value, MAX(column)), so keys are not reused after the rows holding
// them are deleted, and rows loaded outside the engine are still respected.
type CounterSequence struct {
	Table string
}

func (s CounterSequence) Next(ctx context.Context, q storage.Querier, table, column string, n int) (int64, error) {
	seqTable := s.Table
	if seqTable == "" {
		seqTable = DefaultNames("").Sequences
	}

	rows, err := q.SelectRowsWhere(ctx, seqTable, []string{colSeqValue}, colSeqTable, table)
	if err != nil {
		return 0, fmt.Errorf("read counter %s: %w", table, err)
	}
	var last int64
	if len(rows) > 0 {
		if last, err = storage.AsInt64(rows[0][0]); err != nil {
			return 0, fmt.Errorf("read counter %s: %w", table, err)
		}
	}

	hi, ok, err := q.MaxInt(ctx, table, column)
	if err != nil {
		return 0, err
	}
	if ok && hi > last {
		last = hi
	}

	next := last + int64(n)
	if len(rows) > 0 {
		_, err = q.UpdateRow(ctx, seqTable, []storage.Assignment{{Column: colSeqValue, Value: next}}, colSeqTable, table)
	} else {
		_, err = q.InsertRows(ctx, seqTable, []string{colSeqTable, colSeqValue}, [][]any{{table, next}})
	}
	if err != nil {
		return 0, fmt.Errorf("advance counter %s: %w", table, err)
	}
	return last + 1, nil
}

// AllocateKeys returns n contiguous, strictly increasing keys for table.
// Index i of the result belongs to incoming row i. A nil seq scans MAX(column).
func AllocateKeys(ctx context.Context, q storage.Querier, seq Sequence, table, column string, n int) ([]int64, error) {
	if n < 0 {
		return nil, fmt.Errorf("allocate %s: negative count %d", table, n)
	}
	if n == 0 {
		return nil, nil
	}
	if seq == nil {
		seq = MaxScanSequence{}
	}

	first, err := seq.Next(ctx, q, table, column, n)
	if err != nil {
		return nil, fmt.Errorf("allocate %s.%s: %w", table, column, err)
	}
	keys := make([]int64, n)
	for i := range keys {
		keys[i] = first + int64(i)
	}
	return keys, nil
}
