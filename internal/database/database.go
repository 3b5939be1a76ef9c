// Package database opens the SQL backends and applies schema migrations.
package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"time"

	_ "github.com/lib/pq"       // postgres driver
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrations embed.FS

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var ErrUnknownDriver = errors.New("unknown database driver")

// Options controls how a connection is opened.
type Options struct {
	// ConnectRetries is how many times a failed ping is retried.
	ConnectRetries uint64
	// RetryBase is the first backoff interval.
	RetryBase time.Duration
	// MaxOpenConns caps the pool for postgres. SQLite always uses one.
	MaxOpenConns int
	Logger       *log.Logger
}

func (o Options) withDefaults() Options {
	if o.RetryBase <= 0 {
		o.RetryBase = 200 * time.Millisecond
	}
	if o.MaxOpenConns <= 0 {
		o.MaxOpenConns = 10
	}
	if o.Logger == nil {
		o.Logger = log.New(log.Writer(), "[DB] ", log.LstdFlags)
	}
	return o
}

// Open connects to the named driver, waits for it to answer and migrates the
// schema to the latest version.
func Open(ctx context.Context, driver, target string, opts Options) (*sql.DB, error) {
	opts = opts.withDefaults()

	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case DriverSQLite:
		db, err = openSQLite(target)
	case DriverPostgres:
		db, err = openPostgres(target, opts.MaxOpenConns)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
	if err != nil {
		return nil, err
	}

	if err := waitForDB(ctx, db, opts); err != nil {
		db.Close()
		return nil, err
	}
	if err := Migrate(ctx, db, driver, opts.Logger); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func openSQLite(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite is not concurrent for writes
	return db, nil
}

func openPostgres(dsn string, maxOpen int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen / 2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// waitForDB pings with exponential backoff until the database answers.
func waitForDB(ctx context.Context, db *sql.DB, opts Options) error {
	backoff := retry.WithMaxRetries(opts.ConnectRetries, retry.NewExponential(opts.RetryBase))
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := db.PingContext(ctx); err != nil {
			opts.Logger.Printf("ping failed attempt=%d err=%v", attempt, err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	return nil
}

// Migrate applies every pending migration for driver.
func Migrate(ctx context.Context, db *sql.DB, driver string, logger *log.Logger) error {
	var (
		dialect goose.Dialect
		dir     string
	)
	switch driver {
	case DriverSQLite:
		dialect, dir = goose.DialectSQLite3, "migrations/sqlite"
	case DriverPostgres:
		dialect, dir = goose.DialectPostgres, "migrations/postgres"
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}

	fsys, err := fs.Sub(migrations, dir)
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return fmt.Errorf("creating migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	for _, r := range results {
		if logger != nil {
			logger.Printf("migration applied version=%d duration=%s", r.Source.Version, r.Duration)
		}
	}
	return nil
}
