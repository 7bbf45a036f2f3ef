package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Config is the minimal configuration needed to open a warehouse backend.
//
// When to use:
//   - Use Config when constructing a Warehouse via Open.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Assignment is one "column = value" pair of an UPDATE statement.
type Assignment struct {
	Column string
	Value  any
}

// Querier is the set of statement primitives the synchronization engine issues.
//
// Every method binds values as placeholders; only identifiers are interpolated
// (quoted per backend). Implementations exist for a connection pool and for an
// open transaction so the same engine code runs inside or outside InTx.
type Querier interface {
	// SelectRows reads the whole table. orderBy is an optional column name.
	SelectRows(ctx context.Context, table string, columns []string, orderBy string) ([][]any, error)

	// SelectRowsWhere reads rows whose column equals value.
	SelectRowsWhere(ctx context.Context, table string, columns []string, column string, value any) ([][]any, error)

	// MaxInt returns MAX(column). ok is false when the table is empty.
	MaxInt(ctx context.Context, table string, column string) (max int64, ok bool, err error)

	// CountWhere returns COUNT(*) of rows whose column equals value.
	CountWhere(ctx context.Context, table string, column string, value any) (int64, error)

	// InsertRows bulk-loads rows. Rows must be aligned with columns.
	InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)

	// UpdateRow sets exactly the given columns on the row(s) matching keyColumn = key.
	UpdateRow(ctx context.Context, table string, set []Assignment, keyColumn string, key any) (int64, error)

	// DeleteWhere deletes rows whose column equals value.
	DeleteWhere(ctx context.Context, table string, column string, value any) (int64, error)
}

// Warehouse is a backend-agnostic handle to the relational warehouse.
//
// IMPORTANT: This interface is intentionally minimal and focused on the
// operations the sync engine needs. Each backend implements these semantics in
// its own idiomatic way (pgx for Postgres, database/sql for SQLite and SQL Server).
type Warehouse interface {
	Querier

	// EnsureTables creates tables and constraints as needed (create-if-not-exists).
	EnsureTables(ctx context.Context, tables []TableSpec) error

	// InTx runs fn inside a single transaction. The transaction is committed when
	// fn returns nil and rolled back on any error or panic.
	InTx(ctx context.Context, fn func(q Querier) error) error

	// Close releases any backend resources (connections, pools).
	//
	// Edge cases:
	//   - Callers should treat Close as "call once".
	Close()
}

// ErrUnsupportedKind is returned by Open for unknown backend kinds.
var ErrUnsupportedKind = errors.New("storage: unsupported kind")

type factory func(ctx context.Context, cfg Config) (Warehouse, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a warehouse backend under a kind (e.g. "postgres", "sqlite").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//
// Panics:
//   - If kind is empty, f is nil, or kind is already registered. Registering
//     twice is a wiring bug and fails fast.
func Register(kind string, f func(ctx context.Context, cfg Config) (Warehouse, error)) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// Open constructs a Warehouse using the registered backend factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or not registered.
//   - Returns whatever error the registered factory returns.
func Open(ctx context.Context, cfg Config) (Warehouse, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, cfg.Kind)
	}
	return f(ctx, cfg)
}

// Kinds returns the registered backend kinds.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	return out
}
