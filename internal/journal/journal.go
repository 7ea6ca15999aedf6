package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Journal configuration constants.
const (
	// dirPermissions is the permission mode for the journal directory.
	dirPermissions = 0750

	// filePermissions is the permission mode for the journal file.
	filePermissions = 0600

	// msPerSecond converts seconds to milliseconds.
	msPerSecond = 1000

	// connectionTimeout bounds the connectivity check on open.
	connectionTimeout = 5 * time.Second

	// recordTimeout bounds a single insert so the control loop is never
	// held up by a slow disk.
	recordTimeout = 2 * time.Second
)

// schema is the journal's single table. Created on open if absent; there is
// no migration chain because nothing else ever touches this file.
const schema = `
CREATE TABLE IF NOT EXISTS registration_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	recorded_at TEXT NOT NULL,
	phase       TEXT NOT NULL,
	event       TEXT NOT NULL,
	detail      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_registration_events_recorded_at
	ON registration_events(recorded_at);
`

// Config contains journal storage options.
type Config struct {
	// Path is the filesystem path to the SQLite journal file.
	// The directory will be created if it doesn't exist.
	Path string

	// WALMode enables Write-Ahead Logging.
	WALMode bool

	// BusyTimeout is the maximum time to wait for a database lock (seconds).
	BusyTimeout int
}

// Logger is the small logging interface the journal needs.
type Logger interface {
	Warn(msg string, args ...any)
}

// noopLogger discards all log output. Used when no logger is set.
type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Entry is one recorded registration lifecycle event.
type Entry struct {
	ID         int64
	RecordedAt time.Time
	Phase      string
	Event      string
	Detail     string
}

// Journal is an append-only SQLite audit log of the registration handshake.
//
// It is strictly observational: the handshake never reads it, so losing or
// wiping the journal never changes registration behaviour. Record failures
// are logged and swallowed for the same reason.
type Journal struct {
	db     *sql.DB
	logger Logger
}

// Open creates (or reopens) the journal at the configured path.
//
// It performs the following setup:
//  1. Creates the journal directory if it doesn't exist
//  2. Opens the database file with busy-timeout and optional WAL pragmas
//  3. Bootstraps the schema
//  4. Verifies the connection with a ping
//
// Returns:
//   - *Journal: Ready journal
//   - error: If open, schema bootstrap, or the ping fails
func Open(cfg Config) (*Journal, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on",
		cfg.Path,
		cfg.BusyTimeout*msPerSecond,
	)
	if cfg.WALMode {
		connStr += "&_journal_mode=WAL&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	// SQLite supports one writer; the journal has exactly one anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("verifying journal connection: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("bootstrapping journal schema: %w", err)
	}

	_ = os.Chmod(cfg.Path, filePermissions) //nolint:errcheck // File may not exist until first write

	return &Journal{
		db:     db,
		logger: noopLogger{},
	}, nil
}

// SetLogger sets a logger for write-failure diagnostics.
func (j *Journal) SetLogger(logger Logger) {
	if logger != nil {
		j.logger = logger
	}
}

// Record appends one lifecycle entry. It satisfies the coordinator's
// Recorder interface: best-effort, never returns an error, never blocks
// beyond a short insert timeout.
func (j *Journal) Record(phase, event, detail string) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO registration_events (recorded_at, phase, event, detail) VALUES (?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano),
		phase,
		event,
		detail,
	)
	if err != nil {
		j.logger.Warn("journal write failed",
			"phase", phase,
			"event", event,
			"error", err,
		)
	}
}

// Entries returns the most recent entries, newest first, up to limit.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - limit: Maximum number of entries to return
func (j *Journal) Entries(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, recorded_at, phase, event, detail
		 FROM registration_events
		 ORDER BY id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only cursor

	var entries []Entry
	for rows.Next() {
		var e Entry
		var recordedAt string
		if err := rows.Scan(&e.ID, &recordedAt, &e.Phase, &e.Event, &e.Detail); err != nil {
			return nil, fmt.Errorf("scanning journal entry: %w", err)
		}
		e.RecordedAt, err = time.Parse(time.RFC3339Nano, recordedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing journal timestamp: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal entries: %w", err)
	}

	return entries, nil
}

// Close releases the underlying database handle.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}
