package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/bnema/hiddenprofile/internal/domain"
)

// FinalizeDecision relies on the unique group_id column, so concurrent
// finalizers of the same group end up with a single row.
func (s *Store) FinalizeDecision(ctx context.Context, decision domain.Decision) (domain.Decision, bool, error) {
	var (
		stored  domain.Decision
		created bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) ([]domain.Change, error) {
		doc, err := json.Marshal(decision)
		if err != nil {
			return nil, fmt.Errorf("encode decision: %w", err)
		}

		result, err := tx.ExecContext(ctx,
			`INSERT INTO decisions (id, session_id, group_id, approved_at, doc)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (group_id) DO NOTHING`,
			string(decision.ID),
			string(decision.SessionID),
			string(decision.GroupID),
			toMillis(decision.ApprovedAt),
			string(doc),
		)
		if err != nil {
			return nil, fmt.Errorf("insert decision: %w", connectivity(err))
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("insert decision: %w", connectivity(err))
		}

		if affected == 1 {
			stored, created = decision, true
			return []domain.Change{{Collection: domain.CollectionDecisions, SessionID: decision.SessionID}}, nil
		}

		stored, err = scanDecision(tx.QueryRowContext(ctx, `SELECT doc FROM decisions WHERE group_id = ?`, string(decision.GroupID)))
		if err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return domain.Decision{}, false, err
	}

	return stored, created, nil
}

func (s *Store) ListDecisions(ctx context.Context, sessionID domain.SessionID) ([]domain.Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT doc FROM decisions WHERE session_id = ? ORDER BY approved_at DESC, rowid DESC`,
		string(sessionID),
	)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", connectivity(err))
	}
	defer rows.Close()

	decisions := make([]domain.Decision, 0)
	for rows.Next() {
		decision, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, decision)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list decisions: %w", connectivity(err))
	}

	return decisions, nil
}

func scanDecision(row rowScanner) (domain.Decision, error) {
	var doc string
	if err := row.Scan(&doc); err != nil {
		return domain.Decision{}, fmt.Errorf("get decision: %w", connectivity(err))
	}

	var decision domain.Decision
	if err := json.Unmarshal([]byte(doc), &decision); err != nil {
		return domain.Decision{}, fmt.Errorf("decode decision: %w", err)
	}

	return decision, nil
}
