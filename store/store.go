// Package store persists confirmed cards and final tracker confidences in
// SQLite. A nil *Store is a valid, disabled store: every method is a no-op.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type Store struct {
	db   *sql.DB
	path string
}

// CardRecord 一次新确认的卡片
type CardRecord struct {
	SessionID   string
	Fingerprint string
	Confidence  float64
	// normalized card image, JPEG encoded
	Image       []byte
	ConfirmedAt time.Time
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = min(delay*2, busyRetryMaxBackoff)
	}
	return lastErr
}

// Open creates or opens the database at path. An empty path returns a nil
// Store.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// RecordConfirmation 记录一张新确认的卡片
func (s *Store) RecordConfirmation(ctx context.Context, rec CardRecord) error {
	if s == nil {
		return nil
	}
	if rec.ConfirmedAt.IsZero() {
		rec.ConfirmedAt = time.Now()
	}
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO cards (session_id, fingerprint, confidence, image, confirmed_at) VALUES (?, ?, ?, ?, ?)`,
			rec.SessionID, rec.Fingerprint, rec.Confidence, rec.Image, rec.ConfirmedAt.UnixMilli())
		return err
	})
}

// SaveSnapshot replaces the stored confidence map of a session.
func (s *Store) SaveSnapshot(ctx context.Context, sessionID string, confidences map[string]float64) error {
	if s == nil {
		return nil
	}
	now := time.Now().UnixMilli()
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE session_id = ?`, sessionID); err != nil {
			return err
		}
		for fp, c := range confidences {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO snapshots (session_id, fingerprint, confidence, taken_at) VALUES (?, ?, ?, ?)`,
				sessionID, fp, c, now); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// ListCards returns the confirmations of a session in insertion order.
func (s *Store) ListCards(ctx context.Context, sessionID string) ([]CardRecord, error) {
	if s == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, fingerprint, confidence, image, confirmed_at FROM cards WHERE session_id = ? ORDER BY id`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("query cards: %w", err)
	}
	defer rows.Close()

	var out []CardRecord
	for rows.Next() {
		var (
			rec CardRecord
			ms  int64
		)
		if err := rows.Scan(&rec.SessionID, &rec.Fingerprint, &rec.Confidence, &rec.Image, &ms); err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		rec.ConfirmedAt = time.UnixMilli(ms)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Snapshot returns the last saved confidence map of a session.
func (s *Store) Snapshot(ctx context.Context, sessionID string) (map[string]float64, error) {
	if s == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT fingerprint, confidence FROM snapshots WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var (
			fp string
			c  float64
		)
		if err := rows.Scan(&fp, &c); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out[fp] = c
	}
	return out, rows.Err()
}
