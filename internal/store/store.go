package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/upd8r/upd8r/internal/watermark"
)

// Store is a sqlite database holding watermarks. It implements
// watermark.Backend.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("path is required")
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite allows a single writer.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load returns the watermark of media key, or watermark.ErrNotFound.
func (s *Store) Load(ctx context.Context, key string) (uint64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store is not initialized")
	}

	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM watermarks WHERE media = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, watermark.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("query watermark: %w", err)
	}

	v, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse watermark %q: %w", value, err)
	}
	return v, nil
}

// Save upserts the watermark of media key. Values are stored as decimal text
// because sqlite integers are signed.
func (s *Store) Save(ctx context.Context, key string, value uint64) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if strings.TrimSpace(key) == "" {
		return errors.New("media key is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO watermarks (media, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(media) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, key, strconv.FormatUint(value, 10), formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("upsert watermark: %w", err)
	}
	return tx.Commit()
}

// List returns every stored watermark ordered by media key.
func (s *Store) List(ctx context.Context) ([]watermark.Record, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}

	rows, err := s.db.QueryContext(ctx, "SELECT media, value, updated_at FROM watermarks ORDER BY media ASC")
	if err != nil {
		return nil, fmt.Errorf("query watermarks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []watermark.Record
	for rows.Next() {
		var key, value, updatedAt string
		if err := rows.Scan(&key, &value, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan watermark: %w", err)
		}
		v, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			continue
		}
		ts, err := parseTime(updatedAt)
		if err != nil {
			return nil, fmt.Errorf("parse updated_at: %w", err)
		}
		out = append(out, watermark.Record{Key: key, Value: v, UpdatedAt: ts})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate watermarks: %w", err)
	}
	return out, nil
}

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	return time.Parse(time.RFC3339, value)
}
