package warehouse

import (
	"context"
	"errors"
	"sort"

	"fuelsync/internal/storage"
)

// fakeQuerier is an in-memory storage.Querier that records every write.
type fakeQuerier struct {
	tables map[string][]map[string]any

	inserts []fakeInsert
	updates []fakeUpdate
	deletes []fakeDelete
	selects int

	failInsert error
	failUpdate error
	failDelete error
}

type fakeInsert struct {
	table   string
	columns []string
	rows    [][]any
}

type fakeUpdate struct {
	table string
	set   []storage.Assignment
	key   any
}

type fakeDelete struct {
	table  string
	column string
	value  any
	n      int64
}

func newFake() *fakeQuerier {
	return &fakeQuerier{tables: map[string][]map[string]any{}}
}

func (f *fakeQuerier) seed(table string, columns []string, rows ...[]any) {
	for _, r := range rows {
		m := make(map[string]any, len(columns))
		for i, c := range columns {
			m[c] = r[i]
		}
		f.tables[table] = append(f.tables[table], m)
	}
}

func (f *fakeQuerier) rows(table string) []map[string]any { return f.tables[table] }

func (f *fakeQuerier) SelectRows(_ context.Context, table string, columns []string, orderBy string) ([][]any, error) {
	f.selects++
	src := append([]map[string]any(nil), f.tables[table]...)
	if orderBy != "" {
		sort.SliceStable(src, func(i, j int) bool {
			a, _ := storage.AsInt64(src[i][orderBy])
			b, _ := storage.AsInt64(src[j][orderBy])
			return a < b
		})
	}
	return project(src, columns), nil
}

func (f *fakeQuerier) SelectRowsWhere(_ context.Context, table string, columns []string, column string, value any) ([][]any, error) {
	f.selects++
	var src []map[string]any
	for _, r := range f.tables[table] {
		if storage.NormalizeKey(r[column]) == storage.NormalizeKey(value) {
			src = append(src, r)
		}
	}
	return project(src, columns), nil
}

func (f *fakeQuerier) MaxInt(_ context.Context, table string, column string) (int64, bool, error) {
	var (
		hi int64
		ok bool
	)
	for _, r := range f.tables[table] {
		v, err := storage.AsInt64(r[column])
		if err != nil {
			return 0, false, err
		}
		if !ok || v > hi {
			hi, ok = v, true
		}
	}
	return hi, ok, nil
}

func (f *fakeQuerier) CountWhere(_ context.Context, table string, column string, value any) (int64, error) {
	var n int64
	for _, r := range f.tables[table] {
		if storage.NormalizeKey(r[column]) == storage.NormalizeKey(value) {
			n++
		}
	}
	return n, nil
}

func (f *fakeQuerier) InsertRows(_ context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if f.failInsert != nil {
		return 0, f.failInsert
	}
	f.inserts = append(f.inserts, fakeInsert{table: table, columns: columns, rows: rows})
	f.seed(table, columns, rows...)
	return int64(len(rows)), nil
}

func (f *fakeQuerier) UpdateRow(_ context.Context, table string, set []storage.Assignment, keyColumn string, key any) (int64, error) {
	if f.failUpdate != nil {
		return 0, f.failUpdate
	}
	if len(set) == 0 {
		return 0, errors.New("empty set")
	}
	f.updates = append(f.updates, fakeUpdate{table: table, set: set, key: key})
	var n int64
	for _, r := range f.tables[table] {
		if storage.NormalizeKey(r[keyColumn]) != storage.NormalizeKey(key) {
			continue
		}
		for _, a := range set {
			r[a.Column] = a.Value
		}
		n++
	}
	return n, nil
}

func (f *fakeQuerier) DeleteWhere(_ context.Context, table string, column string, value any) (int64, error) {
	if f.failDelete != nil {
		return 0, f.failDelete
	}
	var kept []map[string]any
	var n int64
	for _, r := range f.tables[table] {
		if storage.NormalizeKey(r[column]) == storage.NormalizeKey(value) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	f.tables[table] = kept
	f.deletes = append(f.deletes, fakeDelete{table: table, column: column, value: value, n: n})
	return n, nil
}

func project(src []map[string]any, columns []string) [][]any {
	out := make([][]any, 0, len(src))
	for _, r := range src {
		row := make([]any, len(columns))
		for i, c := range columns {
			row[i] = r[c]
		}
		out = append(out, row)
	}
	return out
}

var _ storage.Querier = (*fakeQuerier)(nil)
