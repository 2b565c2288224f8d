// Package sqlite provides a SQLite-backed coordination store. Every commit
// also appends to a change log so other processes sharing the database file
// can follow writes with Tail.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bnema/hiddenprofile/internal/adapters/store/sqlite/migrations"
	"github.com/bnema/hiddenprofile/internal/domain"
	"github.com/bnema/hiddenprofile/internal/ports"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

const (
	storeDirMode = 0o700
	tailBatch    = 256
)

// Store persists coordination state in SQLite.
type Store struct {
	sqlDB     *sql.DB
	logger    *slog.Logger
	mu        sync.RWMutex
	publisher ports.ChangePublisher
}

var _ ports.Store = (*Store)(nil)

type Option func(*Store)

func WithPublisher(publisher ports.ChangePublisher) Option {
	return func(s *Store) {
		s.publisher = publisher
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func nullMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}

func fromNullMillis(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := fromMillis(value.Int64)
	return &t
}

// Open opens a SQLite store at path and applies embedded migrations.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), storeDirMode); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}

	dsn := "file:" + cleanPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", connectivity(err))
	}
	if err := applyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	store := &Store{sqlDB: sqlDB, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(store)
	}

	return store, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// SetPublisher installs the in-process receiver of change signals.
func (s *Store) SetPublisher(publisher ports.ChangePublisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publisher = publisher
}

func (s *Store) PurgeAll(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) ([]domain.Change, error) {
		for _, table := range []string{"decisions", "task_groups", "participants", "sessions"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return nil, fmt.Errorf("purge %s: %w", table, connectivity(err))
			}
		}
		return []domain.Change{{Collection: domain.CollectionAll}}, nil
	})
}

// withTx runs fn in one immediate transaction, appends the changes it reports
// to the change log and publishes them once the commit succeeded.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) ([]domain.Change, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", connectivity(err))
	}

	changes, err := fn(tx)
	if err != nil {
		return rollbackWith(tx, err)
	}

	committedAt := toMillis(time.Now())
	for _, change := range changes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO changes (collection, session_id, committed_at) VALUES (?, ?, ?)`,
			string(change.Collection),
			string(change.SessionID),
			committedAt,
		); err != nil {
			return rollbackWith(tx, fmt.Errorf("record change: %w", connectivity(err)))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", connectivity(err))
	}

	s.publish(changes...)
	return nil
}

func (s *Store) publish(changes ...domain.Change) {
	s.mu.RLock()
	publisher := s.publisher
	s.mu.RUnlock()

	if publisher == nil {
		return
	}
	for _, change := range changes {
		publisher.Publish(change)
	}
}

// Tail forwards change log entries committed after the call to publisher,
// polling every interval until ctx is done. Writes from other processes
// sharing the database file show up here.
func (s *Store) Tail(ctx context.Context, interval time.Duration, publisher ports.ChangePublisher) error {
	if interval <= 0 {
		return fmt.Errorf("tail interval must be positive")
	}

	var cursor int64
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM changes`).Scan(&cursor); err != nil {
		return fmt.Errorf("read change cursor: %w", connectivity(err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		next, err := s.drainChanges(ctx, cursor, publisher)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("tail change log", "error", err, "cursor", cursor)
			continue
		}
		cursor = next
	}
}

func (s *Store) drainChanges(ctx context.Context, cursor int64, publisher ports.ChangePublisher) (int64, error) {
	for {
		rows, err := s.sqlDB.QueryContext(ctx,
			`SELECT seq, collection, session_id FROM changes WHERE seq > ? ORDER BY seq ASC LIMIT ?`,
			cursor,
			tailBatch,
		)
		if err != nil {
			return cursor, connectivity(err)
		}

		var batch []domain.Change
		for rows.Next() {
			var (
				seq        int64
				collection string
				sessionID  string
			)
			if err := rows.Scan(&seq, &collection, &sessionID); err != nil {
				_ = rows.Close()
				return cursor, connectivity(err)
			}
			cursor = seq
			batch = append(batch, domain.Change{Collection: domain.Collection(collection), SessionID: domain.SessionID(sessionID)})
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return cursor, connectivity(err)
		}
		_ = rows.Close()

		for _, change := range batch {
			publisher.Publish(change)
		}
		if len(batch) < tailBatch {
			return cursor, nil
		}
	}
}

// PruneChanges drops change log entries committed before cutoff.
func (s *Store) PruneChanges(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.sqlDB.ExecContext(ctx, `DELETE FROM changes WHERE committed_at < ?`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune change log: %w", connectivity(err))
	}
	return result.RowsAffected()
}

func connectivity(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrConnectivity, err)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
