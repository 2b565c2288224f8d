package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bnema/hiddenprofile/internal/domain"
)

// CommitGroups inserts groups and advances the session to the task stage in one transaction.
func (s *Store) CommitGroups(ctx context.Context, sessionID domain.SessionID, groups []domain.Group, at time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) ([]domain.Change, error) {
		var stage string
		err := tx.QueryRowContext(ctx, `SELECT current_stage FROM sessions WHERE id = ?`, string(sessionID)).Scan(&stage)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, domain.ErrSessionNotFound
			}
			return nil, fmt.Errorf("read session stage: %w", connectivity(err))
		}
		if domain.Stage(stage) != domain.StageIdentity {
			return nil, domain.ErrTaskAlreadyStarted
		}

		for _, group := range groups {
			stored := group.Clone()
			stored.SessionID = sessionID
			stored.Version = 1
			doc, err := json.Marshal(stored)
			if err != nil {
				return nil, fmt.Errorf("encode group %s: %w", group.ID, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO task_groups (id, session_id, position, version, created_at, updated_at, doc) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				string(stored.ID),
				string(sessionID),
				stored.Position,
				stored.Version,
				toMillis(stored.CreatedAt),
				nullMillis(stored.UpdatedAt),
				string(doc),
			); err != nil {
				return nil, fmt.Errorf("insert group %s: %w", group.ID, connectivity(err))
			}
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET current_stage = ?, updated_at = ? WHERE id = ?`,
			string(domain.StageTask),
			toMillis(at),
			string(sessionID),
		); err != nil {
			return nil, fmt.Errorf("advance session stage: %w", connectivity(err))
		}

		return []domain.Change{
			{Collection: domain.CollectionGroups, SessionID: sessionID},
			{Collection: domain.CollectionSessions, SessionID: sessionID},
		}, nil
	})
}

func (s *Store) GetGroup(ctx context.Context, id domain.GroupID) (domain.Group, error) {
	if err := ctx.Err(); err != nil {
		return domain.Group{}, err
	}

	row := s.sqlDB.QueryRowContext(ctx, `SELECT version, doc FROM task_groups WHERE id = ?`, string(id))
	return scanGroup(row)
}

func (s *Store) ListGroups(ctx context.Context, sessionID domain.SessionID) ([]domain.Group, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT version, doc
		   FROM task_groups
		  WHERE session_id = ?
		  ORDER BY created_at ASC, position ASC, rowid ASC`,
		string(sessionID),
	)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", connectivity(err))
	}
	defer rows.Close()

	groups := make([]domain.Group, 0)
	for rows.Next() {
		group, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list groups: %w", connectivity(err))
	}

	return groups, nil
}

// UpdateGroup writes group only when the stored version equals expectedVersion.
// Membership, position and creation time always come from the stored row.
func (s *Store) UpdateGroup(ctx context.Context, group domain.Group, expectedVersion int64) (domain.Group, error) {
	var stored domain.Group
	err := s.withTx(ctx, func(tx *sql.Tx) ([]domain.Change, error) {
		existing, err := scanGroup(tx.QueryRowContext(ctx, `SELECT version, doc FROM task_groups WHERE id = ?`, string(group.ID)))
		if err != nil {
			return nil, err
		}
		if existing.Version != expectedVersion {
			return nil, domain.ErrVersionConflict
		}

		stored = group.Clone()
		stored.SessionID = existing.SessionID
		stored.Members = existing.Members
		stored.CreatedAt = existing.CreatedAt
		stored.Position = existing.Position
		stored.Version = expectedVersion + 1

		doc, err := json.Marshal(stored)
		if err != nil {
			return nil, fmt.Errorf("encode group %s: %w", group.ID, err)
		}
		result, err := tx.ExecContext(ctx,
			`UPDATE task_groups SET version = ?, updated_at = ?, doc = ? WHERE id = ? AND version = ?`,
			stored.Version,
			nullMillis(stored.UpdatedAt),
			string(doc),
			string(group.ID),
			expectedVersion,
		)
		if err != nil {
			return nil, fmt.Errorf("update group %s: %w", group.ID, connectivity(err))
		}
		if affected, err := result.RowsAffected(); err == nil && affected == 0 {
			return nil, domain.ErrVersionConflict
		}

		return []domain.Change{{Collection: domain.CollectionGroups, SessionID: stored.SessionID}}, nil
	})
	if err != nil {
		return domain.Group{}, err
	}

	return stored.Clone(), nil
}

func scanGroup(row rowScanner) (domain.Group, error) {
	var (
		version int64
		doc     string
	)
	if err := row.Scan(&version, &doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Group{}, domain.ErrGroupNotFound
		}
		return domain.Group{}, fmt.Errorf("get group: %w", connectivity(err))
	}

	var group domain.Group
	if err := json.Unmarshal([]byte(doc), &group); err != nil {
		return domain.Group{}, fmt.Errorf("decode group: %w", err)
	}
	group.Version = version
	if group.Ready == nil {
		group.Ready = map[domain.ParticipantID]domain.Readiness{}
	}
	if group.Approvals == nil {
		group.Approvals = map[domain.ParticipantID]bool{}
	}

	return group, nil
}
