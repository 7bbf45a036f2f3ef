// Package config loads the job configuration: a JSON file, then .env and
// FUELSYNC_* environment overrides for deployment-specific values and secrets.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

// Duration is a time.Duration written as a Go duration string ("3s", "336h").
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n float64
		if nerr := json.Unmarshal(b, &n); nerr != nil {
			return fmt.Errorf("duration must be a string like \"3s\": %w", err)
		}
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Job      string `json:"job"`
	Timezone string `json:"timezone"`
	// Schedule is a standard 5-field cron expression; empty runs once.
	Schedule string `json:"schedule"`

	Upstream  Upstream  `json:"upstream"`
	Warehouse Warehouse `json:"warehouse"`
	Backup    Backup    `json:"backup"`
	Lease     Lease     `json:"lease"`
	Metrics   Metrics   `json:"metrics"`
	Events    Events    `json:"events"`
	Log       Log       `json:"log"`
}

type Upstream struct {
	URL         string   `json:"url"`
	Token       string   `json:"token"`
	MaxAttempts int      `json:"max_attempts"`
	RetryDelay  Duration `json:"retry_delay"`
	Timeout     Duration `json:"timeout"`
}

type Warehouse struct {
	// Kind is "postgres" | "sqlite" | "mssql".
	Kind   string `json:"kind"`
	DSN    string `json:"dsn"`
	Schema string `json:"schema"`

	AutoCreateTables bool `json:"auto_create_tables"`
	StrictDateLookup bool `json:"strict_date_lookup"`

	// Sequence is "counter" (default) or "max_scan".
	Sequence string `json:"sequence"`
}

type Backup struct {
	// Kind is "none" | "fs" | "gcs".
	Kind            string   `json:"kind"`
	Dir             string   `json:"dir"`
	Bucket          string   `json:"bucket"`
	Prefix          string   `json:"prefix"`
	CredentialsFile string   `json:"credentials_file"`
	Retention       Duration `json:"retention"`
}

type Lease struct {
	// Kind is "none" | "redis".
	Kind     string   `json:"kind"`
	Addr     string   `json:"addr"`
	Password string   `json:"password"`
	DB       int      `json:"db"`
	TTL      Duration `json:"ttl"`
}

type Metrics struct {
	// Backend is "none" | "datadog".
	Backend    string   `json:"backend"`
	Tags       []string `json:"tags"`
	FlushEvery Duration `json:"flush_every"`
}

type Events struct {
	// Kind is "none" | "kafka".
	Kind    string   `json:"kind"`
	Brokers []string `json:"brokers"`
	Topic   string   `json:"topic"`
}

type Log struct {
	Level    string `json:"level"`
	Encoding string `json:"encoding"`
}

// Defaults.
const (
	DefaultJob         = "fuelsync"
	DefaultTimezone    = "America/Santiago"
	DefaultMaxAttempts = 5
	DefaultRetryDelay  = 3 * time.Second
	DefaultTimeout     = 60 * time.Second
	DefaultRetention   = 14 * 24 * time.Hour
	DefaultLeaseTTL    = 30 * time.Minute
	DefaultFlushEvery  = 60 * time.Second
)

// Load reads the JSON file at path, loads .env from the working directory if
// present, and applies environment overrides and defaults.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	LoadDotenv(".env")
	return Parse(raw, os.Getenv)
}

// LoadDotenv copies KEY=VALUE pairs from files into the process environment.
// Missing files are ignored and variables that are already set win.
func LoadDotenv(files ...string) {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		_ = godotenv.Load(f)
	}
}

// Parse decodes raw and applies overrides from getenv and defaults. Unknown
// fields are rejected so typos do not silently fall back to defaults.
func Parse(raw []byte, getenv func(string) string) (Config, error) {
	var c Config
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := c.applyEnv(getenv); err != nil {
		return Config{}, err
	}
	c.applyDefaults()
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}

	str(&c.Job, "FUELSYNC_JOB")
	str(&c.Timezone, "FUELSYNC_TIMEZONE")
	str(&c.Schedule, "FUELSYNC_SCHEDULE")
	str(&c.Upstream.URL, "FUELSYNC_API_URL")
	str(&c.Upstream.Token, "FUELSYNC_API_TOKEN")
	str(&c.Warehouse.Kind, "FUELSYNC_WAREHOUSE_KIND")
	str(&c.Warehouse.DSN, "FUELSYNC_WAREHOUSE_DSN")
	str(&c.Warehouse.Schema, "FUELSYNC_WAREHOUSE_SCHEMA")
	str(&c.Backup.Kind, "FUELSYNC_BACKUP_KIND")
	str(&c.Backup.Dir, "FUELSYNC_BACKUP_DIR")
	str(&c.Backup.Bucket, "FUELSYNC_BACKUP_BUCKET")
	str(&c.Backup.CredentialsFile, "GOOGLE_APPLICATION_CREDENTIALS")
	str(&c.Lease.Kind, "FUELSYNC_LEASE_KIND")
	str(&c.Lease.Addr, "FUELSYNC_REDIS_ADDR")
	str(&c.Lease.Password, "FUELSYNC_REDIS_PASSWORD")
	str(&c.Metrics.Backend, "METRICS_BACKEND")
	str(&c.Events.Kind, "FUELSYNC_EVENTS_KIND")
	str(&c.Events.Topic, "FUELSYNC_KAFKA_TOPIC")
	str(&c.Log.Level, "LOG_LEVEL")
	str(&c.Log.Encoding, "LOG_ENCODING")

	if v := strings.TrimSpace(getenv("FUELSYNC_KAFKA_BROKERS")); v != "" {
		c.Events.Brokers = splitCSV(v)
	}
	if v := strings.TrimSpace(getenv("METRICS_TAGS")); v != "" {
		c.Metrics.Tags = append(c.Metrics.Tags, splitCSV(v)...)
	}
	if v := strings.TrimSpace(getenv("FUELSYNC_REDIS_DB")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid FUELSYNC_REDIS_DB: %w", err)
		}
		c.Lease.DB = n
	}
	if v := strings.TrimSpace(getenv("FUELSYNC_STRICT_DATE_LOOKUP")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid FUELSYNC_STRICT_DATE_LOOKUP: %w", err)
		}
		c.Warehouse.StrictDateLookup = b
	}

	// DSNs may reference other variables, e.g. "postgres://app:${PGPASSWORD}@db/dw".
	c.Warehouse.DSN = os.Expand(c.Warehouse.DSN, getenv)
	return nil
}

func (c *Config) applyDefaults() {
	if c.Job == "" {
		c.Job = DefaultJob
	}
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	if c.Upstream.MaxAttempts == 0 {
		c.Upstream.MaxAttempts = DefaultMaxAttempts
	}
	if c.Upstream.RetryDelay == 0 {
		c.Upstream.RetryDelay = Duration(DefaultRetryDelay)
	}
	if c.Upstream.Timeout == 0 {
		c.Upstream.Timeout = Duration(DefaultTimeout)
	}
	if c.Warehouse.Sequence == "" {
		c.Warehouse.Sequence = "counter"
	}
	if c.Backup.Kind == "" {
		c.Backup.Kind = "none"
	}
	if c.Backup.Retention == 0 {
		c.Backup.Retention = Duration(DefaultRetention)
	}
	if c.Lease.Kind == "" {
		c.Lease.Kind = "none"
	}
	if c.Lease.TTL == 0 {
		c.Lease.TTL = Duration(DefaultLeaseTTL)
	}
	if c.Metrics.Backend == "" {
		c.Metrics.Backend = "none"
	}
	if c.Metrics.FlushEvery == 0 {
		c.Metrics.FlushEvery = Duration(DefaultFlushEvery)
	}
	if c.Events.Kind == "" {
		c.Events.Kind = "none"
	}
}

// Location resolves Timezone.
func (c Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
