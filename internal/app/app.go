// Package app assembles a warehouse.Pipeline and its collaborators from a
// config.Config. Entrypoints own the process; this package owns the wiring.
package app

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"fuelsync/internal/backup"
	"fuelsync/internal/backup/gcs"
	"fuelsync/internal/config"
	"fuelsync/internal/events"
	"fuelsync/internal/lease"
	leaseredis "fuelsync/internal/lease/redis"
	"fuelsync/internal/logging"
	"fuelsync/internal/storage"
	"fuelsync/internal/upstream"
	"fuelsync/internal/warehouse"

	// every configured warehouse kind must resolve in storage.Open
	_ "fuelsync/internal/storage/all"
)

// closers runs cleanup functions in reverse order of registration.
type closers []func()

func (c *closers) add(f func()) { *c = append(*c, f) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

// BuildPipeline opens every collaborator named by cfg and returns a ready
// pipeline. cleanup releases them and is non-nil even on error.
//
// Errors:
//   - unknown kinds and connection failures are returned with the config path
//     of the failing section; anything opened so far is closed.
func BuildPipeline(ctx context.Context, cfg config.Config, logger *zap.Logger) (p *warehouse.Pipeline, cleanup func(), err error) {
	var cs closers
	defer func() {
		if err != nil {
			cs.run()
			p, cleanup = nil, func() {}
			return
		}
		cleanup = cs.run
	}()

	if logger == nil {
		logger = zap.NewNop()
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, nil, fmt.Errorf("timezone: %w", err)
	}

	wh, err := storage.Open(ctx, storage.Config{Kind: cfg.Warehouse.Kind, DSN: cfg.Warehouse.DSN})
	if err != nil {
		return nil, nil, fmt.Errorf("warehouse: %w", err)
	}
	cs.add(wh.Close)

	store, closeStore, err := OpenBackupStore(ctx, cfg.Backup)
	if err != nil {
		return nil, nil, fmt.Errorf("backup: %w", err)
	}
	cs.add(closeStore)

	ls, closeLease, err := openLease(ctx, cfg.Lease)
	if err != nil {
		return nil, nil, fmt.Errorf("lease: %w", err)
	}
	cs.add(closeLease)

	names := warehouse.DefaultNames(cfg.Warehouse.Schema)
	p = &warehouse.Pipeline{
		Fetcher: &upstream.Client{
			URL:         cfg.Upstream.URL,
			Token:       cfg.Upstream.Token,
			HTTP:        &http.Client{Timeout: cfg.Upstream.Timeout.Std()},
			MaxAttempts: cfg.Upstream.MaxAttempts,
			RetryDelay:  cfg.Upstream.RetryDelay.Std(),
			Job:         cfg.Job,
			Logger:      logging.Printf(logger, "upstream"),
		},
		Warehouse:        wh,
		Tables:           names,
		Sequence:         sequence(cfg.Warehouse.Sequence, names),
		StrictDateLookup: cfg.Warehouse.StrictDateLookup,
		AutoCreateTables: cfg.Warehouse.AutoCreateTables,
		Lease:            ls,
		LeaseTTL:         cfg.Lease.TTL.Std(),
		Location:         loc,
		Job:              cfg.Job,
		Logger:           logging.Printf(logger, "pipeline"),
	}
	if store != nil {
		p.Backup = &backup.Manager{
			Store:     store,
			Retention: cfg.Backup.Retention.Std(),
			Logger:    logging.Printf(logger, "backup"),
		}
	}

	if cfg.Events.Kind == "kafka" {
		pub, err := events.NewPublisher(cfg.Events.Brokers, cfg.Events.Topic)
		if err != nil {
			return nil, nil, fmt.Errorf("events: %w", err)
		}
		cs.add(func() { _ = pub.Close() })
		p.Events = pub
	} else if cfg.Events.Kind != "none" && cfg.Events.Kind != "" {
		return nil, nil, fmt.Errorf("events: unknown kind %q", cfg.Events.Kind)
	}

	return p, nil, nil
}

// OpenBackupStore returns the configured store, or nil for kind "none".
func OpenBackupStore(ctx context.Context, cfg config.Backup) (backup.Store, func(), error) {
	nop := func() {}
	switch cfg.Kind {
	case "none", "":
		return nil, nop, nil
	case "fs":
		if cfg.Dir == "" {
			return nil, nop, fmt.Errorf("dir is empty")
		}
		return backup.DirStore{Dir: cfg.Dir}, nop, nil
	case "gcs":
		s, err := gcs.New(ctx, cfg.Bucket, cfg.Prefix, cfg.CredentialsFile)
		if err != nil {
			return nil, nop, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, nop, fmt.Errorf("unknown kind %q (none|fs|gcs)", cfg.Kind)
	}
}

func openLease(ctx context.Context, cfg config.Lease) (lease.Lease, func(), error) {
	nop := func() {}
	switch cfg.Kind {
	case "none", "":
		return lease.Nop{}, nop, nil
	case "redis":
		l, err := leaseredis.New(ctx, leaseredis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
		if err != nil {
			return nil, nop, err
		}
		return l, func() { _ = l.Close() }, nil
	default:
		return nil, nop, fmt.Errorf("unknown kind %q (none|redis)", cfg.Kind)
	}
}

func sequence(kind string, names warehouse.Names) warehouse.Sequence {
	if kind == "max_scan" {
		return warehouse.MaxScanSequence{}
	}
	return warehouse.CounterSequence{Table: names.Sequences}
}
