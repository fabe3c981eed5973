package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mmuslimabdulj/goat-space/internal/domain"
)

const (
	defaultBusyTimeout = 5000
	sqliteOpTimeout    = 10 * time.Second
)

// SQLiteStore keeps the snapshot in a single table with typed columns
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the database at path. Call Close when done.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = filepath.Join("data", "presence.db")
	}
	if !strings.HasPrefix(path, ":memory:") && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", buildDSN(path))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), sqliteOpTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate snapshot database: %w", err)
	}
	return s, nil
}

func buildDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = path[len("sqlite://"):]
	case strings.HasPrefix(path, "file:"), strings.HasPrefix(path, ":memory:"):
	default:
		path = "file:" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d&_pragma=journal_mode=WAL", path, separator, defaultBusyTimeout)
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS presence_snapshot (
		row_order    INTEGER NOT NULL,
		id           TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		description  TEXT NOT NULL,
		tx           REAL NOT NULL,
		ty           REAL NOT NULL,
		tz           REAL NOT NULL,
		afk          INTEGER NOT NULL,
		text_stream  TEXT NOT NULL,
		listening_to TEXT NOT NULL,
		saved_at     DATETIME NOT NULL
	);`)
	return err
}

// Save replaces the table contents in one transaction
func (s *SQLiteStore) Save(records []domain.PresenceRecord) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), sqliteOpTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM presence_snapshot`); err != nil {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO presence_snapshot
		(row_order, id, display_name, description, tx, ty, tz, afk, text_stream, listening_to, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare snapshot insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i, rec := range records {
		listening, encErr := encodeListening(rec.ListeningTo)
		if encErr != nil {
			err = fmt.Errorf("failed to encode listeningTo for %s: %w", rec.ID, encErr)
			return err
		}
		if _, err = stmt.ExecContext(ctx, i, rec.ID, rec.DisplayName, rec.Description,
			rec.Position.TX, rec.Position.TY, rec.Position.TZ, rec.AFK, rec.TextStream, listening, now); err != nil {
			return fmt.Errorf("failed to insert snapshot row %s: %w", rec.ID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// Load returns the saved records in their saved order
func (s *SQLiteStore) Load() ([]domain.PresenceRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), sqliteOpTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT id, display_name, description, tx, ty, tz, afk, text_stream, listening_to
		FROM presence_snapshot ORDER BY row_order`)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	defer rows.Close()

	var records []domain.PresenceRecord
	for rows.Next() {
		var rec domain.PresenceRecord
		var listening string
		if err := rows.Scan(&rec.ID, &rec.DisplayName, &rec.Description,
			&rec.Position.TX, &rec.Position.TY, &rec.Position.TZ, &rec.AFK, &rec.TextStream, &listening); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		if rec.ListeningTo, err = decodeListening(listening); err != nil {
			return nil, fmt.Errorf("snapshot row %s: %w", rec.ID, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close releases the database handle
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
