package ports

import (
	"context"
	"time"

	"github.com/bnema/hiddenprofile/internal/domain"
)

type SessionStore interface {
	// ActivateSession closes every active session and inserts session as the
	// only active one, atomically.
	ActivateSession(ctx context.Context, session domain.Session) error
	GetSession(ctx context.Context, id domain.SessionID) (domain.Session, error)
	ActiveSession(ctx context.Context) (domain.Session, error)
}

type ParticipantStore interface {
	AddParticipant(ctx context.Context, participant domain.Participant) error
	ListParticipants(ctx context.Context, sessionID domain.SessionID) ([]domain.Participant, error)
}

type GroupStore interface {
	// CommitGroups inserts groups and moves the session to the task stage in one
	// write. It fails with domain.ErrTaskAlreadyStarted when the session left identity.
	CommitGroups(ctx context.Context, sessionID domain.SessionID, groups []domain.Group, at time.Time) error
	GetGroup(ctx context.Context, id domain.GroupID) (domain.Group, error)
	ListGroups(ctx context.Context, sessionID domain.SessionID) ([]domain.Group, error)
	// UpdateGroup replaces group when the stored version still equals
	// expectedVersion and returns the stored copy with its new version.
	// A mismatch yields domain.ErrVersionConflict.
	UpdateGroup(ctx context.Context, group domain.Group, expectedVersion int64) (domain.Group, error)
}

type DecisionStore interface {
	// FinalizeDecision inserts decision unless one already exists for its group,
	// in which case the stored record is returned with created=false.
	FinalizeDecision(ctx context.Context, decision domain.Decision) (stored domain.Decision, created bool, err error)
	ListDecisions(ctx context.Context, sessionID domain.SessionID) ([]domain.Decision, error)
}

type Store interface {
	SessionStore
	ParticipantStore
	GroupStore
	DecisionStore
	// PurgeAll hard-deletes every session, participant, group and decision.
	PurgeAll(ctx context.Context) error
	Close() error
}

// ChangePublisher receives a signal after every committed write.
type ChangePublisher interface {
	Publish(change domain.Change)
}

type ChangePublisherFunc func(domain.Change)

func (f ChangePublisherFunc) Publish(change domain.Change) {
	f(change)
}

type CatalogSource interface {
	Load(ctx context.Context) (domain.Catalog, error)
}
