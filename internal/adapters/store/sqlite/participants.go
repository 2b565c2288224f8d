package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bnema/hiddenprofile/internal/domain"
)

func (s *Store) AddParticipant(ctx context.Context, participant domain.Participant) error {
	return s.withTx(ctx, func(tx *sql.Tx) ([]domain.Change, error) {
		var found int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, string(participant.SessionID)).Scan(&found)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, domain.ErrSessionNotFound
			}
			return nil, fmt.Errorf("check session: %w", connectivity(err))
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO participants (id, session_id, name, status, joined_at) VALUES (?, ?, ?, ?, ?)`,
			string(participant.ID),
			string(participant.SessionID),
			participant.Name,
			string(participant.Status),
			toMillis(participant.JoinedAt),
		); err != nil {
			return nil, fmt.Errorf("insert participant: %w", connectivity(err))
		}

		return []domain.Change{{Collection: domain.CollectionParticipants, SessionID: participant.SessionID}}, nil
	})
}

func (s *Store) ListParticipants(ctx context.Context, sessionID domain.SessionID) ([]domain.Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, session_id, name, status, joined_at
		   FROM participants
		  WHERE session_id = ? AND status = ?
		  ORDER BY joined_at ASC, rowid ASC`,
		string(sessionID),
		string(domain.ParticipantActive),
	)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", connectivity(err))
	}
	defer rows.Close()

	participants := make([]domain.Participant, 0)
	for rows.Next() {
		var (
			participant domain.Participant
			id          string
			session     string
			status      string
			joinedAt    int64
		)
		if err := rows.Scan(&id, &session, &participant.Name, &status, &joinedAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", connectivity(err))
		}
		participant.ID = domain.ParticipantID(id)
		participant.SessionID = domain.SessionID(session)
		participant.Status = domain.ParticipantStatus(status)
		participant.JoinedAt = fromMillis(joinedAt)
		participants = append(participants, participant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list participants: %w", connectivity(err))
	}

	return participants, nil
}
