// Package lease provides per-date mutual exclusion between overlapping runs.
package lease

import (
	"context"
	"errors"
	"time"
)

// ErrLeaseHeld is returned by Acquire when another holder owns the key.
var ErrLeaseHeld = errors.New("lease: held by another run")

// ReleaseFunc gives the lease back. It is safe to call after the lease expired.
type ReleaseFunc func(ctx context.Context) error

// Lease grants exclusive ownership of a key for at most ttl.
type Lease interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, error)
}

// Nop always grants the lease. It fits deployments with a single trigger.
type Nop struct{}

func (Nop) Acquire(context.Context, string, time.Duration) (ReleaseFunc, error) {
	return func(context.Context) error { return nil }, nil
}

// DayKey is the lease key guarding one job's run for one calendar day.
func DayKey(job string, day time.Time) string {
	return "fuelsync:lease:" + job + ":" + day.Format("2006-01-02")
}
