// Package backup keeps one dated CSV copy of each fetched snapshot and prunes
// copies older than the retention window.
package backup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fuelsync/internal/storage"
)

// ContentType of every backup object.
const ContentType = "text/csv"

// DefaultRetention matches the historical two-week window.
const DefaultRetention = 14 * 24 * time.Hour

const suffix = ".csv"

// Logger is the minimal logging interface used by the manager.
type Logger interface {
	Printf(format string, v ...any)
}

// Store is a flat namespace of named objects (a bucket or a directory).
type Store interface {
	Put(ctx context.Context, name string, data []byte, contentType string) error
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, name string) error
}

// Manager writes and prunes "<YYYY-MM-DD>.csv" objects in a Store.
type Manager struct {
	Store     Store
	Retention time.Duration
	Logger    Logger
}

// Name returns the object name of day's backup.
func Name(day time.Time) string {
	return day.Format(storage.DateLayout) + suffix
}

// Save replaces day's backup with records encoded as CSV and returns the
// object name. An existing object for the same day is deleted first.
func (m *Manager) Save(ctx context.Context, day time.Time, records []map[string]any) (string, error) {
	if m.Store == nil {
		return "", fmt.Errorf("backup: store is nil")
	}
	name := Name(day)

	data, err := EncodeCSV(records)
	if err != nil {
		return "", fmt.Errorf("backup: encode %s: %w", name, err)
	}

	names, err := m.Store.List(ctx)
	if err != nil {
		return "", fmt.Errorf("backup: list: %w", err)
	}
	for _, n := range names {
		if n != name {
			continue
		}
		m.logf("stage=backup replacing=%s", name)
		if err := m.Store.Delete(ctx, name); err != nil {
			return "", fmt.Errorf("backup: delete %s: %w", name, err)
		}
	}

	if err := m.Store.Put(ctx, name, data, ContentType); err != nil {
		return "", fmt.Errorf("backup: put %s: %w", name, err)
	}
	m.logf("stage=backup saved=%s records=%d bytes=%d", name, len(records), len(data))
	return name, nil
}

// Prune deletes backups whose name date is older than now minus Retention
// and returns the deleted names. Objects whose names are not dated backups
// are left alone.
func (m *Manager) Prune(ctx context.Context, now time.Time) ([]string, error) {
	if m.Store == nil {
		return nil, fmt.Errorf("backup: store is nil")
	}
	retention := m.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	cutoff := now.Add(-retention)

	names, err := m.Store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("backup: list: %w", err)
	}

	var deleted []string
	for _, n := range names {
		day, ok := parseName(n, now.Location())
		if !ok {
			m.logf("stage=prune skip=%q reason=not_a_backup", n)
			continue
		}
		if !day.Before(cutoff) {
			continue
		}
		if err := m.Store.Delete(ctx, n); err != nil {
			return deleted, fmt.Errorf("backup: delete %s: %w", n, err)
		}
		m.logf("stage=prune deleted=%s", n)
		deleted = append(deleted, n)
	}
	return deleted, nil
}

func parseName(name string, loc *time.Location) (time.Time, bool) {
	if !strings.HasSuffix(name, suffix) {
		return time.Time{}, false
	}
	day, err := time.ParseInLocation(storage.DateLayout, strings.TrimSuffix(name, suffix), loc)
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}

func (m *Manager) logf(format string, v ...any) {
	if m.Logger == nil {
		return
	}
	m.Logger.Printf(format, v...)
}
