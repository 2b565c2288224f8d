package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bnema/hiddenprofile/internal/domain"
)

const sessionColumns = `id, name, created_by, status, current_stage, created_at, updated_at, closed_at`

// ActivateSession closes every active session and inserts session in one transaction.
func (s *Store) ActivateSession(ctx context.Context, session domain.Session) error {
	return s.withTx(ctx, func(tx *sql.Tx) ([]domain.Change, error) {
		rows, err := tx.QueryContext(ctx, `SELECT id FROM sessions WHERE status = ?`, string(domain.SessionActive))
		if err != nil {
			return nil, fmt.Errorf("list active sessions: %w", connectivity(err))
		}
		var changes []domain.Change
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("scan active session: %w", connectivity(err))
			}
			changes = append(changes, domain.Change{Collection: domain.CollectionSessions, SessionID: domain.SessionID(id)})
		}
		if err := rows.Close(); err != nil {
			return nil, fmt.Errorf("list active sessions: %w", connectivity(err))
		}

		closedAt := toMillis(session.CreatedAt)
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET status = ?, closed_at = ?, updated_at = ? WHERE status = ?`,
			string(domain.SessionInactive),
			closedAt,
			closedAt,
			string(domain.SessionActive),
		); err != nil {
			return nil, fmt.Errorf("close active sessions: %w", connectivity(err))
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			string(session.ID),
			session.Name,
			session.CreatedBy,
			string(session.Status),
			string(session.CurrentStage),
			toMillis(session.CreatedAt),
			nullMillis(session.UpdatedAt),
			nullMillis(session.ClosedAt),
		); err != nil {
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("insert session: %w", domain.ErrVersionConflict)
			}
			return nil, fmt.Errorf("insert session: %w", connectivity(err))
		}

		return append(changes, domain.Change{Collection: domain.CollectionSessions, SessionID: session.ID}), nil
	})
}

func (s *Store) GetSession(ctx context.Context, id domain.SessionID) (domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return domain.Session{}, err
	}

	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, string(id))
	return scanSession(row)
}

func (s *Store) ActiveSession(ctx context.Context) (domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return domain.Session{}, err
	}

	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE status = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		string(domain.SessionActive),
	)
	return scanSession(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (domain.Session, error) {
	var (
		session   domain.Session
		id        string
		status    string
		stage     string
		createdAt int64
		updatedAt sql.NullInt64
		closedAt  sql.NullInt64
	)
	err := row.Scan(&id, &session.Name, &session.CreatedBy, &status, &stage, &createdAt, &updatedAt, &closedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Session{}, domain.ErrSessionNotFound
		}
		return domain.Session{}, fmt.Errorf("get session: %w", connectivity(err))
	}

	session.ID = domain.SessionID(id)
	session.Status = domain.SessionStatus(status)
	session.CurrentStage = domain.Stage(stage)
	session.CreatedAt = fromMillis(createdAt)
	session.UpdatedAt = fromNullMillis(updatedAt)
	session.ClosedAt = fromNullMillis(closedAt)
	return session, nil
}
