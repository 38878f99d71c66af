package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/goccy/go-json"
)

// SQLiteStore is the append-only record log plus a small key/value metadata table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database with WAL mode enabled.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One writer; WAL lets the ops API read concurrently.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=-2000;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			key TEXT NOT NULL,
			ts INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_records_kind_ts ON records(kind, ts);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Write appends a batch of records in one transaction.
func (s *SQLiteStore) Write(ctx context.Context, recs []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO records (kind, key, ts, payload) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		payload, err := json.Marshal(rec.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s record: %w", rec.Kind, err)
		}
		if _, err := stmt.ExecContext(ctx, string(rec.Kind), rec.Key, int64(rec.Ts), payload); err != nil {
			return fmt.Errorf("failed to insert record: %w", err)
		}
	}
	return tx.Commit()
}

// StoredRecord is a persisted record with its raw payload.
type StoredRecord struct {
	ID      int64
	Kind    Kind
	Key     string
	Ts      int64
	Payload json.RawMessage
}

// LoadRecords returns up to limit records of one kind, oldest first.
func (s *SQLiteStore) LoadRecords(ctx context.Context, kind Kind, limit int) ([]StoredRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, kind, key, ts, payload FROM records WHERE kind = ? ORDER BY id ASC LIMIT ?",
		string(kind), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var out []StoredRecord
	for rows.Next() {
		var r StoredRecord
		var k string
		var payload []byte
		if err := rows.Scan(&r.ID, &k, &r.Key, &r.Ts, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		r.Kind = Kind(k)
		r.Payload = payload
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}

// CountRecords returns how many records of kind exist.
func (s *SQLiteStore) CountRecords(ctx context.Context, kind Kind) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records WHERE kind = ?", string(kind)).Scan(&n)
	return n, err
}

// UpsertMetadata saves a key-value pair to the metadata table.
func (s *SQLiteStore) UpsertMetadata(ctx context.Context, key, value string, ts int64) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO metadata (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at",
		key, value, ts,
	)
	return err
}

// GetMetadata retrieves a value from the metadata table. A missing key returns "".
func (s *SQLiteStore) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// PutJSON stores v as JSON under key.
func (s *SQLiteStore) PutJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return s.UpsertMetadata(ctx, key, string(data), time.Now().UnixMilli())
}

// GetJSON decodes the value under key into out. It reports false when the key is absent.
func (s *SQLiteStore) GetJSON(ctx context.Context, key string, out any) (bool, error) {
	raw, err := s.GetMetadata(ctx, key)
	if err != nil || raw == "" {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
