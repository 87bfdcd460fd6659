// Package history persists device state snapshots to a local SQLite
// database.
//
// The store is optional: it records states fetched over the REST API
// and telemetry received over the realtime session, so device behaviour
// can be inspected after the fact without another round trip to the
// cloud.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/helicopterrun/aiophyn/internal/device"
	"github.com/helicopterrun/aiophyn/internal/infrastructure/config"
	"github.com/helicopterrun/aiophyn/internal/infrastructure/logging"
)

const (
	defaultLimit = 50
	maxLimit     = 200

	dirPermissions  = 0o750
	filePermissions = 0o600

	msPerSecond    = 1000
	connectTimeout = 5 * time.Second
)

// Entry sources.
const (
	SourceMQTT = "mqtt"
	SourcePoll = "poll"
)

const schema = `
CREATE TABLE IF NOT EXISTS device_state_history (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	device_id  TEXT NOT NULL,
	state      TEXT NOT NULL,
	source     TEXT NOT NULL DEFAULT 'mqtt',
	created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now'))
);
CREATE INDEX IF NOT EXISTS idx_state_history_device
	ON device_state_history(device_id, created_at);
`

// Entry is one recorded state snapshot.
type Entry struct {
	ID        int64
	DeviceID  string
	State     device.Record
	Source    string
	CreatedAt time.Time
}

// Store records device states in SQLite.
type Store struct {
	db     *sql.DB
	logger *logging.Logger
}

// Open opens (creating if necessary) the history database at the
// configured path and ensures the schema exists.
func Open(cfg config.HistoryConfig, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("history path is required")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	busyTimeout := cfg.BusyTimeout
	if busyTimeout <= 0 {
		busyTimeout = 5
	}
	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on",
		cfg.Path,
		busyTimeout*msPerSecond,
	)
	if cfg.WALMode {
		connStr += "&_journal_mode=WAL&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}

	// SQLite supports a single writer; keep the pool at one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("verifying history database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating history schema: %w", err)
	}

	_ = os.Chmod(cfg.Path, filePermissions)

	return &Store{db: db, logger: logger.With("component", "history")}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordState inserts one state snapshot for a device.
func (s *Store) RecordState(ctx context.Context, deviceID string, state device.Record, source string) error {
	if deviceID == "" {
		return fmt.Errorf("device id is required")
	}
	if source == "" {
		source = SourceMQTT
	}
	if state == nil {
		state = device.Record{}
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO device_state_history (device_id, state, source) VALUES (?, ?, ?)",
		deviceID,
		string(stateJSON),
		source,
	)
	if err != nil {
		return fmt.Errorf("inserting state history: %w", err)
	}
	return nil
}

// RecordMessage records a realtime telemetry message. The device
// identifier is taken from the final topic segment; a payload that is
// not a JSON object is stored wrapped under a raw key.
func (s *Store) RecordMessage(ctx context.Context, topic string, payload []byte) error {
	segments := strings.Split(strings.Trim(topic, "/"), "/")
	deviceID := segments[len(segments)-1]
	if deviceID == "" {
		return fmt.Errorf("cannot derive device id from topic %q", topic)
	}

	var state device.Record
	if err := json.Unmarshal(payload, &state); err != nil {
		state = device.Record{"raw": string(payload)}
	}
	return s.RecordState(ctx, deviceID, state, SourceMQTT)
}

// RecentStates returns recent snapshots for a device, newest first.
// limit defaults to 50 and is capped at 200.
func (s *Store) RecentStates(ctx context.Context, deviceID string, limit int) ([]Entry, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, device_id, state, source, created_at
		 FROM device_state_history
		 WHERE device_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		deviceID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var entry Entry
		var stateJSON, createdAt string
		if err := rows.Scan(&entry.ID, &entry.DeviceID, &stateJSON, &entry.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning state history: %w", err)
		}
		if err := json.Unmarshal([]byte(stateJSON), &entry.State); err != nil {
			return nil, fmt.Errorf("unmarshalling state: %w", err)
		}
		timestamp, err := parseTimestamp(createdAt)
		if err != nil {
			return nil, err
		}
		entry.CreatedAt = timestamp
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}
	return entries, nil
}

// Prune deletes snapshots older than the given retention and returns
// the number of rows removed.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM device_state_history WHERE created_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting state history: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return deleted, nil
}

func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("created_at is empty")
	}
	timestamp, err := time.Parse(time.RFC3339, value)
	if err == nil {
		return timestamp, nil
	}
	fallback, fallbackErr := time.Parse("2006-01-02 15:04:05", value)
	if fallbackErr == nil {
		return fallback, nil
	}
	return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
}
