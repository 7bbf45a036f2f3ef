package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"fuelsync/internal/storage"
)

func init() {
	storage.Register("postgres", New)
}

// maxParams is the Postgres wire-protocol limit on bind parameters.
const maxParams = 65535

// Dialect renders identifiers as "x" and placeholders as $n.
var Dialect = storage.Dialect{
	Ident:       pgIdent,
	Placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	MaxParams:   maxParams,
}

/*
Warehouse implements storage.Warehouse for Postgres on a pgx connection pool.

Statements run through the same querier type for the pool and for an open
pgx.Tx, so the sync engine does not care whether it is inside InTx.
*/
type Warehouse struct {
	querier
	pool *pgxpool.Pool
}

var _ storage.Warehouse = (*Warehouse)(nil)

// New creates a Postgres-backed warehouse and verifies connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Warehouse, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Warehouse{querier: querier{conn: pool}, pool: pool}, nil
}

// Close closes the connection pool.
func (w *Warehouse) Close() {
	w.pool.Close()
}

// InTx runs fn in one transaction (pgx.BeginFunc commits on nil, rolls back otherwise).
func (w *Warehouse) InTx(ctx context.Context, fn func(q storage.Querier) error) error {
	return pgx.BeginFunc(ctx, w.pool, func(tx pgx.Tx) error {
		return fn(querier{conn: tx})
	})
}

// EnsureTables creates schemas and tables when AutoCreateTable is enabled.
//
// This method is idempotent (IF NOT EXISTS everywhere).
func (w *Warehouse) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		if !t.AutoCreateTable {
			continue
		}
		schemaSQL, tableSQL, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if schemaSQL != "" {
			if _, err := w.pool.Exec(ctx, schemaSQL); err != nil {
				return fmt.Errorf("create schema for %s: %w", t.Name, err)
			}
		}
		if _, err := w.pool.Exec(ctx, tableSQL); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// pgxConn is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgxConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type querier struct {
	conn pgxConn
}

var _ storage.Querier = querier{}

func (q querier) SelectRows(ctx context.Context, table string, columns []string, orderBy string) ([][]any, error) {
	return q.query(ctx, Dialect.BuildSelect(table, columns, orderBy))
}

func (q querier) SelectRowsWhere(ctx context.Context, table string, columns []string, column string, value any) ([][]any, error) {
	st := Dialect.BuildSelectWhere(table, columns, column, value)
	return q.query(ctx, st.SQL, st.Args...)
}

func (q querier) MaxInt(ctx context.Context, table string, column string) (int64, bool, error) {
	var v *int64
	if err := q.conn.QueryRow(ctx, Dialect.BuildMax(table, column)).Scan(&v); err != nil {
		return 0, false, fmt.Errorf("max %s.%s: %w", table, column, err)
	}
	if v == nil {
		return 0, false, nil
	}
	return *v, true, nil
}

func (q querier) CountWhere(ctx context.Context, table string, column string, value any) (int64, error) {
	st := Dialect.BuildCount(table, column, value)
	var n int64
	if err := q.conn.QueryRow(ctx, st.SQL, st.Args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func (q querier) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	stmts, err := Dialect.BuildInsert(table, columns, rows)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, st := range stmts {
		tag, err := q.conn.Exec(ctx, st.SQL, st.Args...)
		if err != nil {
			return total, fmt.Errorf("insert %s: %w", table, err)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

func (q querier) UpdateRow(ctx context.Context, table string, set []storage.Assignment, keyColumn string, key any) (int64, error) {
	st, err := Dialect.BuildUpdate(table, set, keyColumn, key)
	if err != nil {
		return 0, err
	}
	tag, err := q.conn.Exec(ctx, st.SQL, st.Args...)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", table, err)
	}
	return tag.RowsAffected(), nil
}

func (q querier) DeleteWhere(ctx context.Context, table string, column string, value any) (int64, error) {
	st := Dialect.BuildDelete(table, column, value)
	tag, err := q.conn.Exec(ctx, st.SQL, st.Args...)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", table, err)
	}
	return tag.RowsAffected(), nil
}

func (q querier) query(ctx context.Context, sql string, args ...any) ([][]any, error) {
	rows, err := q.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		out = append(out, vals)
	}
	return out, rows.Err()
}

// pgIdent quotes an identifier part, doubling embedded quotes.
func pgIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
