package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"

	"github.com/bnema/hiddenprofile/internal/domain"
	"github.com/bnema/hiddenprofile/internal/ports"
	"github.com/google/uuid"
)

const DefaultConflictRetries = 8

type Service struct {
	store           ports.Store
	catalog         domain.Catalog
	clock           ports.Clock
	newID           func() string
	shuffle         domain.Shuffler
	logger          *slog.Logger
	requireApproval bool
	conflictRetries uint
}

type Option func(*Service)

func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		s.newID = newID
	}
}

func WithShuffler(shuffle domain.Shuffler) Option {
	return func(s *Service) {
		s.shuffle = shuffle
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithRequireApproval gates ratings behind unanimous approval of the group decision.
func WithRequireApproval(required bool) Option {
	return func(s *Service) {
		s.requireApproval = required
	}
}

func WithConflictRetries(retries uint) Option {
	return func(s *Service) {
		s.conflictRetries = retries
	}
}

func NewService(store ports.Store, catalog domain.Catalog, clock ports.Clock, opts ...Option) *Service {
	if clock == nil {
		clock = ports.SystemClock{}
	}

	s := &Service{
		store:           store,
		catalog:         catalog,
		clock:           clock,
		newID:           uuid.NewString,
		shuffle:         rand.Shuffle,
		logger:          slog.New(slog.DiscardHandler),
		conflictRetries: DefaultConflictRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "coordinator")

	return s
}

func (s *Service) Catalog() domain.Catalog {
	return s.catalog
}

func (s *Service) RequireApproval() bool {
	return s.requireApproval
}

// CreateSession opens a new session and closes whichever session was active.
func (s *Service) CreateSession(ctx context.Context, meta domain.SessionMeta) (domain.Session, error) {
	now := s.clock.Now()
	name := strings.TrimSpace(meta.Name)
	if name == "" {
		name = "Session " + now.Format("2006-01-02 15:04")
	}
	createdBy := strings.TrimSpace(meta.CreatedBy)
	if createdBy == "" {
		createdBy = "instructor"
	}

	session := domain.Session{
		ID:           domain.SessionID(s.newID()),
		Name:         name,
		CreatedBy:    createdBy,
		Status:       domain.SessionActive,
		CurrentStage: domain.StageIdentity,
		CreatedAt:    now,
	}
	if err := s.store.ActivateSession(ctx, session); err != nil {
		return domain.Session{}, fmt.Errorf("activate session: %w", err)
	}

	s.logger.Info("session created", "session", session.ID, "name", session.Name)
	return session, nil
}

func (s *Service) ActiveSession(ctx context.Context) (domain.Session, error) {
	session, err := s.store.ActiveSession(ctx)
	if err != nil {
		return domain.Session{}, fmt.Errorf("get active session: %w", err)
	}

	return session, nil
}

func (s *Service) GetSession(ctx context.Context, id domain.SessionID) (domain.Session, error) {
	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		return domain.Session{}, fmt.Errorf("get session %s: %w", id, err)
	}

	return session, nil
}

func (s *Service) SessionExists(ctx context.Context, id domain.SessionID) (bool, error) {
	_, err := s.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("get session %s: %w", id, err)
	}

	return true, nil
}

// JoinSession registers a participant. Names need not be unique.
func (s *Service) JoinSession(ctx context.Context, sessionID domain.SessionID, name string) (domain.Participant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Participant{}, domain.ErrEmptyName
	}

	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Participant{}, err
	}
	if !session.Active() {
		return domain.Participant{}, fmt.Errorf("join session %s: %w", sessionID, domain.ErrSessionInactive)
	}

	participant := domain.Participant{
		ID:        domain.ParticipantID(s.newID()),
		SessionID: sessionID,
		Name:      name,
		Status:    domain.ParticipantActive,
		JoinedAt:  s.clock.Now(),
	}
	if err := s.store.AddParticipant(ctx, participant); err != nil {
		return domain.Participant{}, fmt.Errorf("add participant: %w", err)
	}

	s.logger.Info("participant joined", "session", sessionID, "participant", participant.ID)
	return participant, nil
}

func (s *Service) ListParticipants(ctx context.Context, sessionID domain.SessionID) ([]domain.Participant, error) {
	participants, err := s.store.ListParticipants(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}

	return participants, nil
}

// StartTask partitions the roster into groups and moves the session to the task stage.
func (s *Service) StartTask(ctx context.Context, sessionID domain.SessionID) ([]domain.Group, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.Active() {
		return nil, fmt.Errorf("start task: %w", domain.ErrSessionInactive)
	}
	if session.CurrentStage != domain.StageIdentity {
		return nil, fmt.Errorf("start task: %w", domain.ErrTaskAlreadyStarted)
	}

	participants, err := s.ListParticipants(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(participants) < domain.MinParticipants {
		return nil, fmt.Errorf("start task with %d participants: %w", len(participants), domain.ErrTooFewParticipants)
	}

	groups, err := domain.FormGroups(sessionID, participants, s.shuffle)
	if err != nil {
		return nil, fmt.Errorf("form groups: %w", err)
	}

	now := s.clock.Now()
	for i := range groups {
		groups[i].ID = domain.GroupID(s.newID())
		groups[i].CreatedAt = now
		groups[i].Version = 1
	}

	if err := s.store.CommitGroups(ctx, sessionID, groups, now); err != nil {
		return nil, fmt.Errorf("commit groups: %w", err)
	}

	s.logger.Info("task started", "session", sessionID, "participants", len(participants), "groups", len(groups))
	return groups, nil
}

// ResetAllData hard-deletes every session and everything attached to it.
func (s *Service) ResetAllData(ctx context.Context, confirmed bool) error {
	if !confirmed {
		return domain.ErrConfirmationNeeded
	}

	if err := s.store.PurgeAll(ctx); err != nil {
		return fmt.Errorf("purge all data: %w", err)
	}

	s.logger.Warn("all data deleted")
	return nil
}
