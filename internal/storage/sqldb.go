package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// DBTX is the subset of *sql.DB and *sql.Tx used by SQLQuerier.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLQuerier implements Querier on top of database/sql for a given Dialect.
//
// It is shared by the SQLite and SQL Server backends; Postgres uses pgx natively.
type SQLQuerier struct {
	DB      DBTX
	Dialect Dialect
}

var _ Querier = SQLQuerier{}

// SelectRows implements Querier.
func (q SQLQuerier) SelectRows(ctx context.Context, table string, columns []string, orderBy string) ([][]any, error) {
	return q.query(ctx, len(columns), q.Dialect.BuildSelect(table, columns, orderBy))
}

// SelectRowsWhere implements Querier.
func (q SQLQuerier) SelectRowsWhere(ctx context.Context, table string, columns []string, column string, value any) ([][]any, error) {
	st := q.Dialect.BuildSelectWhere(table, columns, column, value)
	return q.query(ctx, len(columns), st.SQL, st.Args...)
}

// MaxInt implements Querier.
func (q SQLQuerier) MaxInt(ctx context.Context, table string, column string) (int64, bool, error) {
	var v sql.NullInt64
	if err := q.DB.QueryRowContext(ctx, q.Dialect.BuildMax(table, column)).Scan(&v); err != nil {
		return 0, false, fmt.Errorf("max %s.%s: %w", table, column, err)
	}
	return v.Int64, v.Valid, nil
}

// CountWhere implements Querier.
func (q SQLQuerier) CountWhere(ctx context.Context, table string, column string, value any) (int64, error) {
	st := q.Dialect.BuildCount(table, column, value)
	var n int64
	if err := q.DB.QueryRowContext(ctx, st.SQL, st.Args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// InsertRows implements Querier.
func (q SQLQuerier) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	stmts, err := q.Dialect.BuildInsert(table, columns, rows)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, st := range stmts {
		n, err := q.exec(ctx, st)
		if err != nil {
			return total, fmt.Errorf("insert %s: %w", table, err)
		}
		total += n
	}
	return total, nil
}

// UpdateRow implements Querier.
func (q SQLQuerier) UpdateRow(ctx context.Context, table string, set []Assignment, keyColumn string, key any) (int64, error) {
	st, err := q.Dialect.BuildUpdate(table, set, keyColumn, key)
	if err != nil {
		return 0, err
	}
	n, err := q.exec(ctx, st)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", table, err)
	}
	return n, nil
}

// DeleteWhere implements Querier.
func (q SQLQuerier) DeleteWhere(ctx context.Context, table string, column string, value any) (int64, error) {
	n, err := q.exec(ctx, q.Dialect.BuildDelete(table, column, value))
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", table, err)
	}
	return n, nil
}

func (q SQLQuerier) exec(ctx context.Context, st Statement) (int64, error) {
	res, err := q.DB.ExecContext(ctx, st.SQL, st.Args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		// Some drivers cannot report affected rows; the statement still ran.
		return 0, nil
	}
	return n, nil
}

func (q SQLQuerier) query(ctx context.Context, width int, query string, args ...any) ([][]any, error) {
	rows, err := q.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]any
	for rows.Next() {
		vals := make([]any, width)
		ptrs := make([]any, width)
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range vals {
			// Drivers may reuse the []byte buffer between rows.
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		out = append(out, vals)
	}
	return out, rows.Err()
}

// SQLWarehouse is a Warehouse over *sql.DB.
//
// DDL is delegated to the backend; everything else goes through SQLQuerier.
type SQLWarehouse struct {
	SQLQuerier

	db  *sql.DB
	ddl func(TableSpec) ([]string, error)
}

// NewSQLWarehouse wraps an opened *sql.DB. ddl renders the idempotent CREATE
// statements for one table in the backend's dialect.
func NewSQLWarehouse(db *sql.DB, d Dialect, ddl func(TableSpec) ([]string, error)) *SQLWarehouse {
	return &SQLWarehouse{
		SQLQuerier: SQLQuerier{DB: db, Dialect: d},
		db:         db,
		ddl:        ddl,
	}
}

// EnsureTables implements Warehouse. Tables without AutoCreateTable are skipped.
func (w *SQLWarehouse) EnsureTables(ctx context.Context, tables []TableSpec) error {
	for _, t := range tables {
		if !t.AutoCreateTable {
			continue
		}
		stmts, err := w.ddl(t)
		if err != nil {
			return err
		}
		for _, s := range stmts {
			if _, err := w.db.ExecContext(ctx, s); err != nil {
				return fmt.Errorf("create table %s: %w", t.Name, err)
			}
		}
	}
	return nil
}

// InTx implements Warehouse.
func (w *SQLWarehouse) InTx(ctx context.Context, fn func(q Querier) error) (err error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
			return
		}
		if cErr := tx.Commit(); cErr != nil {
			err = fmt.Errorf("commit: %w", cErr)
		}
	}()

	return fn(SQLQuerier{DB: tx, Dialect: w.Dialect})
}

// Close implements Warehouse.
func (w *SQLWarehouse) Close() {
	if w == nil || w.db == nil {
		return
	}
	_ = w.db.Close()
}
