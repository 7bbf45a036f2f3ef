// Command prune_backups deletes dated snapshot backups older than the
// configured retention window.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"fuelsync/internal/app"
	"fuelsync/internal/backup"
	"fuelsync/internal/config"
	"fuelsync/internal/logging"
)

type pruneDeps struct {
	readFile    func(path string) ([]byte, error)
	parseConfig func(raw []byte) (config.Config, error)
	openStore   func(ctx context.Context, cfg config.Backup) (backup.Store, func(), error)
	now         func() time.Time
}

type report struct {
	Status    string   `json:"status"`
	Retention string   `json:"retention"`
	Deleted   []string `json:"deleted"`
	Error     string   `json:"error,omitempty"`
}

func main() {
	config.LoadDotenv(".env")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, pruneDeps{
		readFile:    os.ReadFile,
		parseConfig: func(raw []byte) (config.Config, error) { return config.Parse(raw, os.Getenv) },
		openStore:   app.OpenBackupStore,
		now:         time.Now,
	})
	stop()
	os.Exit(code)
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps pruneDeps) int {
	fs := flag.NewFlagSet("prune_backups", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String("config", "", "config JSON path")
	dryRun := fs.Bool("dry-run", false, "list what would be deleted without deleting")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(*cfgPath) == "" {
		fmt.Fprintln(stderr, "usage: prune_backups -config <path> [-dry-run]")
		return 2
	}

	raw, err := deps.readFile(*cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "read config: %v\n", err)
		return 1
	}
	cfg, err := deps.parseConfig(raw)
	if err != nil {
		fmt.Fprintf(stderr, "parse config: %v\n", err)
		return 1
	}
	if cfg.Backup.Kind == "none" {
		fmt.Fprintln(stderr, "backup.kind is none; nothing to prune")
		return 1
	}
	loc, err := cfg.Location()
	if err != nil {
		fmt.Fprintf(stderr, "timezone: %v\n", err)
		return 1
	}

	store, closeStore, err := deps.openStore(ctx, cfg.Backup)
	if err != nil {
		fmt.Fprintf(stderr, "open backup store: %v\n", err)
		return 1
	}
	defer closeStore()

	if *dryRun {
		store = dryRunStore{Store: store}
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		fmt.Fprintf(stderr, "init logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	m := &backup.Manager{
		Store:     store,
		Retention: cfg.Backup.Retention.Std(),
		Logger:    logging.Printf(logger, "prune"),
	}
	deleted, err := m.Prune(ctx, deps.now().In(loc))

	rep := report{Status: "ok", Retention: cfg.Backup.Retention.Std().String(), Deleted: deleted}
	if rep.Deleted == nil {
		rep.Deleted = []string{}
	}
	if err != nil {
		rep.Status = "failed"
		rep.Error = err.Error()
	}
	_ = json.NewEncoder(stdout).Encode(rep)
	if err != nil {
		fmt.Fprintf(stderr, "prune: %v\n", err)
		return 1
	}
	return 0
}

// dryRunStore reports deletions without performing them.
type dryRunStore struct {
	backup.Store
}

func (dryRunStore) Delete(context.Context, string) error { return nil }
