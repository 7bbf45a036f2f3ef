package warehouse

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"fuelsync/internal/fuel"
	"fuelsync/internal/lease"
	"fuelsync/internal/metrics"
	"fuelsync/internal/storage"
)

// Logger is the minimal logging interface used by the pipeline.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Fetcher retrieves the current full snapshot of station records.
type Fetcher interface {
	Fetch(ctx context.Context) ([]map[string]any, error)
}

// Backup stores the raw snapshot of a day and returns the object name.
type Backup interface {
	Save(ctx context.Context, day time.Time, records []map[string]any) (string, error)
}

// Publisher announces a finished run (e.g. on a message bus).
type Publisher interface {
	Publish(ctx context.Context, key string, v any) error
}

// Run statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// StepResult is the outcome of one pipeline stage.
type StepResult struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	DurationMS int64  `json:"duration_ms"`
}

// RunResult is the structured report of one run.
type RunResult struct {
	Job    string `json:"job"`
	Status string `json:"status"`
	Date   string `json:"date"`
	DateID int64  `json:"date_id,omitempty"`

	Fetched    int    `json:"fetched"`
	Skipped    int    `json:"skipped"`
	Duplicates int    `json:"duplicates"`
	Backup     string `json:"backup,omitempty"`

	Stations  SyncResult `json:"stations"`
	Locations SyncResult `json:"locations"`

	FactsDeleted  int64 `json:"facts_deleted"`
	FactsInserted int64 `json:"facts_inserted"`

	Steps      []StepResult `json:"steps"`
	Error      string       `json:"error,omitempty"`
	DurationMS int64        `json:"duration_ms"`
}

// Pipeline runs one synchronization of the warehouse against a fresh snapshot.
//
// Order of a run:
//  1. fetch the snapshot (nothing is written when this fails);
//  2. save the raw backup;
//  3. normalize;
//  4. take the per-day lease;
//  5. synchronize stations, then locations (each in its own transaction);
//  6. in one transaction: reset today's facts, resolve id_fecha, allocate
//     price ids and load the fact rows.
//
// Collaborators are passed in; the pipeline holds no global clients.
type Pipeline struct {
	Fetcher   Fetcher
	Backup    Backup
	Warehouse storage.Warehouse
	Events    Publisher

	Tables           Names
	Sequence         Sequence
	StrictDateLookup bool
	AutoCreateTables bool

	Lease    lease.Lease
	LeaseTTL time.Duration

	// Now and Location decide "today". Defaults: time.Now and time.Local.
	Now      func() time.Time
	Location *time.Location

	Job    string
	Logger Logger
}

// Run executes one pipeline run. The returned RunResult is always populated;
// err is the first fatal error, also recorded in RunResult.Error.
func (p *Pipeline) Run(ctx context.Context) (res RunResult, err error) {
	start := time.Now()
	today := p.today()
	names := p.Tables.withDefaults()

	res = RunResult{Job: p.job(), Status: StatusOK, Date: today.Format(storage.DateLayout)}
	defer func() {
		res.DurationMS = time.Since(start).Milliseconds()
		if err != nil {
			res.Status = StatusFailed
			res.Error = err.Error()
		}
		metrics.RecordStep(p.job(), "run", res.Status, time.Since(start))
		p.logger()("stage=run %s date=%s duration=%s", res.Status, res.Date, durMS(start))
		p.publish(ctx, res)
	}()

	if p.Fetcher == nil || p.Warehouse == nil {
		return res, fmt.Errorf("pipeline: Fetcher and Warehouse are required")
	}

	var records []map[string]any
	if err := p.step(&res, "fetch", func() error {
		var ferr error
		records, ferr = p.Fetcher.Fetch(ctx)
		return ferr
	}); err != nil {
		return res, fmt.Errorf("fetch: %w", err)
	}
	res.Fetched = len(records)

	if p.Backup != nil {
		if err := p.step(&res, "backup", func() error {
			name, berr := p.Backup.Save(ctx, today, records)
			res.Backup = name
			return berr
		}); err != nil {
			return res, fmt.Errorf("backup: %w", err)
		}
	}

	var batch fuel.Batch
	_ = p.step(&res, "normalize", func() error {
		batch = fuel.Normalize(records)
		return nil
	})
	res.Skipped, res.Duplicates = batch.Skipped, batch.Duplicates

	var release lease.ReleaseFunc
	if err := p.step(&res, "lease", func() error {
		var lerr error
		release, lerr = p.lease().Acquire(ctx, lease.DayKey(p.job(), today), p.leaseTTL())
		return lerr
	}); err != nil {
		return res, err
	}
	defer func() {
		if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
			p.logger()("stage=lease release err=%q", rerr.Error())
		}
	}()

	if p.AutoCreateTables {
		if err := p.step(&res, "ddl", func() error {
			return p.Warehouse.EnsureTables(ctx, names.TableSpecs(true))
		}); err != nil {
			return res, fmt.Errorf("ddl: %w", err)
		}
	}

	if err := p.step(&res, "sync_stations", func() error {
		rows := make([][]any, len(batch.Stations))
		for i, s := range batch.Stations {
			rows[i] = s.Row()
		}
		return p.Warehouse.InTx(ctx, func(q storage.Querier) error {
			r, serr := Synchronize(ctx, q, TableSync{
				Table:      names.Stations,
				Columns:    fuel.StationColumns,
				NaturalKey: fuel.ColStationID,
				Rows:       rows,
			})
			res.Stations = r
			return serr
		})
	}); err != nil {
		return res, err
	}
	p.recordSync(res.Stations)

	if err := p.step(&res, "sync_locations", func() error {
		rows := make([][]any, len(batch.Locations))
		for i, l := range batch.Locations {
			rows[i] = l.Row()
		}
		return p.Warehouse.InTx(ctx, func(q storage.Querier) error {
			r, serr := Synchronize(ctx, q, TableSync{
				Table:        names.Locations,
				Columns:      fuel.LocationColumns,
				NaturalKey:   fuel.ColStationID,
				Rows:         rows,
				SurrogateKey: fuel.ColLocationID,
				Sequence:     p.sequence(names),
			})
			res.Locations = r
			return serr
		})
	}); err != nil {
		return res, err
	}
	p.recordSync(res.Locations)

	if err := p.step(&res, "load_facts", func() error {
		return p.Warehouse.InTx(ctx, func(q storage.Querier) error {
			deleted, gerr := RunGuard{Dates: names.Dates, Prices: names.Prices}.ResetIfAlreadyRun(ctx, q, today)
			if gerr != nil {
				return gerr
			}

			dateID, derr := DateRegistry{Table: names.Dates, StrictLookup: p.StrictDateLookup}.GetOrCreateDateID(ctx, q, today)
			if derr != nil {
				return derr
			}

			inserted, ferr := LoadFacts(ctx, q, FactLoad{
				Table:     names.Prices,
				DateID:    dateID,
				Prices:    batch.Prices,
				Locations: res.Locations.Keys,
				Sequence:  p.sequence(names),
			})
			if ferr != nil {
				return ferr
			}
			res.FactsDeleted, res.DateID, res.FactsInserted = deleted, dateID, inserted
			return nil
		})
	}); err != nil {
		res.FactsDeleted, res.DateID, res.FactsInserted = 0, 0, 0
		return res, fmt.Errorf("load facts: %w", err)
	}
	metrics.RecordRows(p.job(), names.Prices, "delete", res.FactsDeleted)
	metrics.RecordRows(p.job(), names.Prices, "insert", res.FactsInserted)

	return res, nil
}

// FactLoad describes one day's fact rows.
type FactLoad struct {
	Table  string
	DateID int64
	Prices []fuel.PriceSet

	// Locations maps station id to id_ubicacion.
	Locations map[string]int64
	Sequence  Sequence
}

// LoadFacts inserts one row per sold fuel per station, skipping unsold fuels,
// with freshly allocated price ids in station then fuel-type order.
//
// Errors:
//   - A station without a location key is a data-integrity error; nothing is
//     inserted.
func LoadFacts(ctx context.Context, q storage.Querier, fl FactLoad) (int64, error) {
	table := fl.Table
	if table == "" {
		table = DefaultNames("").Prices
	}

	var rows [][]any
	for _, ps := range fl.Prices {
		locID, ok := fl.Locations[storage.NormalizeKey(ps.StationID)]
		if !ok {
			return 0, fmt.Errorf("facts: station %q has no %s", ps.StationID, fuel.ColLocationID)
		}
		for _, o := range ps.Observations() {
			rows = append(rows, []any{nil, o.StationID, locID, fl.DateID, string(o.FuelType), o.Price})
		}
	}
	if len(rows) == 0 {
		return 0, nil
	}

	keys, err := AllocateKeys(ctx, q, fl.Sequence, table, fuel.ColPriceID, len(rows))
	if err != nil {
		return 0, fmt.Errorf("facts: %w", err)
	}
	for i := range rows {
		rows[i][0] = keys[i]
	}
	if _, err := q.InsertRows(ctx, table, priceColumns, rows); err != nil {
		return 0, fmt.Errorf("facts: insert %d rows: %w", len(rows), err)
	}
	return int64(len(rows)), nil
}

func (p *Pipeline) step(res *RunResult, name string, fn func() error) error {
	start := time.Now()
	err := fn()

	status := StatusOK
	if err != nil {
		status = "error"
	}
	res.Steps = append(res.Steps, StepResult{Name: name, Status: status, DurationMS: time.Since(start).Milliseconds()})
	metrics.RecordStep(p.job(), name, status, time.Since(start))

	if err != nil {
		p.logger()("stage=%s error duration=%s err=%q", name, durMS(start), err.Error())
		return err
	}
	p.logger()("stage=%s ok duration=%s", name, durMS(start))
	return nil
}

func (p *Pipeline) recordSync(r SyncResult) {
	metrics.RecordRows(p.job(), r.Table, "insert", int64(r.Inserted))
	metrics.RecordRows(p.job(), r.Table, "update", int64(r.Updated))
	p.logger()("stage=sync table=%s inserted=%d updated=%d unchanged=%d", r.Table, r.Inserted, r.Updated, r.Unchanged)
}

func (p *Pipeline) publish(ctx context.Context, res RunResult) {
	if p.Events == nil {
		return
	}
	if err := p.Events.Publish(context.WithoutCancel(ctx), res.Date, res); err != nil {
		p.logger()("stage=events error err=%q", err.Error())
	}
}

func (p *Pipeline) today() time.Time {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	loc := p.Location
	if loc == nil {
		loc = time.Local
	}
	return now().In(loc)
}

func (p *Pipeline) sequence(names Names) Sequence {
	if p.Sequence != nil {
		return p.Sequence
	}
	return CounterSequence{Table: names.Sequences}
}

func (p *Pipeline) lease() lease.Lease {
	if p.Lease != nil {
		return p.Lease
	}
	return lease.Nop{}
}

func (p *Pipeline) leaseTTL() time.Duration {
	if p.LeaseTTL > 0 {
		return p.LeaseTTL
	}
	return 30 * time.Minute
}

func (p *Pipeline) job() string {
	if p.Job == "" {
		return "fuelsync"
	}
	return p.Job
}

func (p *Pipeline) logger() func(format string, v ...any) {
	if p.Logger == nil {
		return log.New(discardWriter{}, "", 0).Printf
	}
	return p.Logger.Printf
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }

// IsDataIntegrity reports whether err is a data-integrity failure rather than
// an infrastructure one.
func IsDataIntegrity(err error) bool {
	return errors.Is(err, ErrDuplicateNaturalKey)
}
