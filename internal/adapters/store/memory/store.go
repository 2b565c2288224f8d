// Package memory keeps coordination state in process memory. It backs tests
// and single-process demos where nothing must survive a restart.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/bnema/hiddenprofile/internal/domain"
	"github.com/bnema/hiddenprofile/internal/ports"
)

type record[T any] struct {
	value T
	seq   int64
}

type Store struct {
	mu           sync.RWMutex
	seq          int64
	sessions     map[domain.SessionID]record[domain.Session]
	participants map[domain.SessionID][]record[domain.Participant]
	groups       map[domain.GroupID]record[domain.Group]
	decisions    map[domain.GroupID]record[domain.Decision]
	publisher    ports.ChangePublisher
}

var _ ports.Store = (*Store)(nil)

func NewStore(publisher ports.ChangePublisher) *Store {
	s := &Store{publisher: publisher}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.sessions = map[domain.SessionID]record[domain.Session]{}
	s.participants = map[domain.SessionID][]record[domain.Participant]{}
	s.groups = map[domain.GroupID]record[domain.Group]{}
	s.decisions = map[domain.GroupID]record[domain.Decision]{}
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) ActivateSession(ctx context.Context, session domain.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	changes := []domain.Change{}
	for id, existing := range s.sessions {
		if !existing.value.Active() {
			continue
		}
		closedAt := session.CreatedAt
		existing.value.Status = domain.SessionInactive
		existing.value.ClosedAt = &closedAt
		existing.value.UpdatedAt = &closedAt
		s.sessions[id] = existing
		changes = append(changes, domain.Change{Collection: domain.CollectionSessions, SessionID: id})
	}
	s.sessions[session.ID] = record[domain.Session]{value: session, seq: s.nextSeq()}
	changes = append(changes, domain.Change{Collection: domain.CollectionSessions, SessionID: session.ID})
	s.mu.Unlock()

	s.publish(changes...)
	return nil
}

func (s *Store) GetSession(ctx context.Context, id domain.SessionID) (domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return domain.Session{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}

	return entry.value, nil
}

func (s *Store) ActiveSession(ctx context.Context) (domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return domain.Session{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *record[domain.Session]
	for _, entry := range s.sessions {
		if !entry.value.Active() {
			continue
		}
		if latest == nil || newerSession(entry, *latest) {
			candidate := entry
			latest = &candidate
		}
	}
	if latest == nil {
		return domain.Session{}, domain.ErrSessionNotFound
	}

	return latest.value, nil
}

func newerSession(a, b record[domain.Session]) bool {
	if !a.value.CreatedAt.Equal(b.value.CreatedAt) {
		return a.value.CreatedAt.After(b.value.CreatedAt)
	}
	return a.seq > b.seq
}

func (s *Store) AddParticipant(ctx context.Context, participant domain.Participant) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if _, ok := s.sessions[participant.SessionID]; !ok {
		s.mu.Unlock()
		return domain.ErrSessionNotFound
	}
	s.participants[participant.SessionID] = append(s.participants[participant.SessionID], record[domain.Participant]{
		value: participant,
		seq:   s.nextSeq(),
	})
	s.mu.Unlock()

	s.publish(domain.Change{Collection: domain.CollectionParticipants, SessionID: participant.SessionID})
	return nil
}

func (s *Store) ListParticipants(ctx context.Context, sessionID domain.SessionID) ([]domain.Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	entries := slices.Clone(s.participants[sessionID])
	s.mu.RUnlock()

	slices.SortStableFunc(entries, func(a, b record[domain.Participant]) int {
		return cmp.Or(a.value.JoinedAt.Compare(b.value.JoinedAt), cmp.Compare(a.seq, b.seq))
	})

	participants := make([]domain.Participant, 0, len(entries))
	for _, entry := range entries {
		if entry.value.Status != domain.ParticipantActive {
			continue
		}
		participants = append(participants, entry.value)
	}

	return participants, nil
}

func (s *Store) CommitGroups(ctx context.Context, sessionID domain.SessionID, groups []domain.Group, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return domain.ErrSessionNotFound
	}
	if session.value.CurrentStage != domain.StageIdentity {
		s.mu.Unlock()
		return domain.ErrTaskAlreadyStarted
	}

	for _, group := range groups {
		stored := group.Clone()
		stored.SessionID = sessionID
		stored.Version = 1
		s.groups[group.ID] = record[domain.Group]{value: stored, seq: s.nextSeq()}
	}
	session.value.CurrentStage = domain.StageTask
	updatedAt := at
	session.value.UpdatedAt = &updatedAt
	s.sessions[sessionID] = session
	s.mu.Unlock()

	s.publish(
		domain.Change{Collection: domain.CollectionGroups, SessionID: sessionID},
		domain.Change{Collection: domain.CollectionSessions, SessionID: sessionID},
	)
	return nil
}

func (s *Store) GetGroup(ctx context.Context, id domain.GroupID) (domain.Group, error) {
	if err := ctx.Err(); err != nil {
		return domain.Group{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.groups[id]
	if !ok {
		return domain.Group{}, domain.ErrGroupNotFound
	}

	return entry.value.Clone(), nil
}

func (s *Store) ListGroups(ctx context.Context, sessionID domain.SessionID) ([]domain.Group, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	entries := make([]record[domain.Group], 0)
	for _, entry := range s.groups {
		if entry.value.SessionID == sessionID {
			entries = append(entries, entry)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(entries, func(a, b record[domain.Group]) int {
		return cmp.Or(
			a.value.CreatedAt.Compare(b.value.CreatedAt),
			cmp.Compare(a.value.Position, b.value.Position),
			cmp.Compare(a.seq, b.seq),
		)
	})

	groups := make([]domain.Group, 0, len(entries))
	for _, entry := range entries {
		groups = append(groups, entry.value.Clone())
	}

	return groups, nil
}

func (s *Store) UpdateGroup(ctx context.Context, group domain.Group, expectedVersion int64) (domain.Group, error) {
	if err := ctx.Err(); err != nil {
		return domain.Group{}, err
	}

	s.mu.Lock()
	existing, ok := s.groups[group.ID]
	if !ok {
		s.mu.Unlock()
		return domain.Group{}, domain.ErrGroupNotFound
	}
	if existing.value.Version != expectedVersion {
		s.mu.Unlock()
		return domain.Group{}, domain.ErrVersionConflict
	}

	stored := group.Clone()
	stored.SessionID = existing.value.SessionID
	stored.Members = existing.value.Clone().Members
	stored.CreatedAt = existing.value.CreatedAt
	stored.Position = existing.value.Position
	stored.Version = expectedVersion + 1
	existing.value = stored
	s.groups[group.ID] = existing
	s.mu.Unlock()

	s.publish(domain.Change{Collection: domain.CollectionGroups, SessionID: stored.SessionID})
	return stored.Clone(), nil
}

func (s *Store) FinalizeDecision(ctx context.Context, decision domain.Decision) (domain.Decision, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Decision{}, false, err
	}

	s.mu.Lock()
	if existing, ok := s.decisions[decision.GroupID]; ok {
		s.mu.Unlock()
		return existing.value, false, nil
	}
	s.decisions[decision.GroupID] = record[domain.Decision]{value: decision, seq: s.nextSeq()}
	s.mu.Unlock()

	s.publish(domain.Change{Collection: domain.CollectionDecisions, SessionID: decision.SessionID})
	return decision, true, nil
}

func (s *Store) ListDecisions(ctx context.Context, sessionID domain.SessionID) ([]domain.Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	entries := make([]record[domain.Decision], 0)
	for _, entry := range s.decisions {
		if entry.value.SessionID == sessionID {
			entries = append(entries, entry)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(entries, func(a, b record[domain.Decision]) int {
		return cmp.Or(b.value.ApprovedAt.Compare(a.value.ApprovedAt), cmp.Compare(b.seq, a.seq))
	})

	decisions := make([]domain.Decision, 0, len(entries))
	for _, entry := range entries {
		decisions = append(decisions, entry.value)
	}

	return decisions, nil
}

func (s *Store) PurgeAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.reset()
	s.mu.Unlock()

	s.publish(domain.Change{Collection: domain.CollectionAll})
	return nil
}

func (s *Store) nextSeq() int64 {
	s.seq++
	return s.seq
}

// SetPublisher installs the receiver of change signals. Signals are sent
// after the write is visible to readers.
func (s *Store) SetPublisher(publisher ports.ChangePublisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publisher = publisher
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
