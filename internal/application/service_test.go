package application

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bnema/hiddenprofile/internal/adapters/store/memory"
	"github.com/bnema/hiddenprofile/internal/domain"
	"github.com/bnema/hiddenprofile/internal/ports/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

func testCatalog() domain.Catalog {
	return domain.Catalog{
		Candidates: []domain.Candidate{
			{ID: "candidate_a", Name: "Candidate A"},
			{ID: "candidate_b", Name: "Candidate B"},
		},
		Items: []domain.Item{
			{ID: "candidate_a_shared_0", Candidate: "candidate_a", Shared: true, Label: "team player"},
			{ID: "candidate_a_v1_0", Candidate: "candidate_a", Variant: "v1", Label: "missed deadlines"},
			{ID: "candidate_b_shared_0", Candidate: "candidate_b", Shared: true, Label: "late twice"},
			{ID: "candidate_b_v2_0", Candidate: "candidate_b", Variant: "v2", Label: "led a rollout"},
		},
		RatingMin: domain.DefaultRatingMin,
		RatingMax: domain.DefaultRatingMax,
	}
}

func fullRatings() map[domain.ItemID]int {
	return map[domain.ItemID]int{
		"candidate_a_shared_0": 8,
		"candidate_a_v1_0":     2,
		"candidate_b_shared_0": 6,
		"candidate_b_v2_0":     4,
	}
}

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("id-%d", n.Add(1))
	}
}

func keepOrder(int, func(i, j int)) {}

func newTestService(t *testing.T, store *memory.Store, opts ...Option) *Service {
	t.Helper()

	clock := mocks.NewMockClock(t)
	clock.EXPECT().Now().Return(t0).Maybe()

	opts = append([]Option{WithIDGenerator(sequentialIDs()), WithShuffler(keepOrder)}, opts...)
	return NewService(store, testCatalog(), clock, opts...)
}

// startedSession creates a session, joins n participants and starts the task.
func startedSession(t *testing.T, service *Service, n int) (domain.Session, []domain.Group) {
	t.Helper()
	ctx := context.Background()

	session, err := service.CreateSession(ctx, domain.SessionMeta{Name: "Seminar"})
	require.NoError(t, err)
	for i := range n {
		_, err := service.JoinSession(ctx, session.ID, fmt.Sprintf("P%d", i+1))
		require.NoError(t, err)
	}

	groups, err := service.StartTask(ctx, session.ID)
	require.NoError(t, err)
	return session, groups
}

func readyAll(t *testing.T, service *Service, group domain.Group, choice domain.CandidateID) domain.Group {
	t.Helper()

	var err error
	for _, member := range group.Members {
		group, err = service.MarkReady(context.Background(), group.ID, member.ID, choice)
		require.NoError(t, err)
	}
	return group
}

func TestCreateSessionDeactivatesPrevious(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.NewStore(nil)
	service := newTestService(t, store)

	first, err := service.CreateSession(ctx, domain.SessionMeta{Name: "  Morning "})
	require.NoError(t, err)
	assert.Equal(t, "Morning", first.Name)
	assert.Equal(t, "instructor", first.CreatedBy)
	assert.Equal(t, domain.StageIdentity, first.CurrentStage)

	second, err := service.CreateSession(ctx, domain.SessionMeta{})
	require.NoError(t, err)
	assert.Equal(t, "Session 2026-05-04 09:30", second.Name)

	active, err := service.ActiveSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)

	old, err := service.GetSession(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionInactive, old.Status)
	require.NotNil(t, old.ClosedAt)

	exists, err := service.SessionExists(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = service.SessionExists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestJoinSessionValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.NewStore(nil)
	service := newTestService(t, store)

	first, err := service.CreateSession(ctx, domain.SessionMeta{})
	require.NoError(t, err)

	_, err = service.JoinSession(ctx, first.ID, "   ")
	assert.ErrorIs(t, err, domain.ErrEmptyName)

	_, err = service.JoinSession(ctx, "missing", "Ana")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	participant, err := service.JoinSession(ctx, first.ID, " Ana ")
	require.NoError(t, err)
	assert.Equal(t, "Ana", participant.Name)
	assert.Equal(t, t0, participant.JoinedAt)

	_, err = service.JoinSession(ctx, first.ID, "Ana")
	require.NoError(t, err, "names need not be unique")

	_, err = service.CreateSession(ctx, domain.SessionMeta{})
	require.NoError(t, err)
	_, err = service.JoinSession(ctx, first.ID, "Bo")
	assert.ErrorIs(t, err, domain.ErrSessionInactive)
	assert.ErrorIs(t, err, domain.ErrValidation)

	participants, err := service.ListParticipants(ctx, first.ID)
	require.NoError(t, err)
	assert.Len(t, participants, 2)
}

func TestStartTaskFormsGroupsAndAdvancesStage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.NewStore(nil)
	service := newTestService(t, store)

	session, groups := startedSession(t, service, 7)
	require.Len(t, groups, 2)
	assert.Len(t, groups[0].Members, 3)
	assert.Len(t, groups[1].Members, 4)

	seen := map[domain.ParticipantID]int{}
	for _, group := range groups {
		for _, member := range group.Members {
			seen[member.ID]++
		}
	}
	assert.Len(t, seen, 7)
	for id, count := range seen {
		assert.Equal(t, 1, count, id)
	}

	updated, err := service.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StageTask, updated.CurrentStage)

	stored, err := service.ListGroups(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "Group 1", stored[0].Name)

	_, err = service.StartTask(ctx, session.ID)
	assert.ErrorIs(t, err, domain.ErrTaskAlreadyStarted)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestStartTaskRejectsTooFewBeforeMutating(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.NewStore(nil)
	service := newTestService(t, store)

	session, err := service.CreateSession(ctx, domain.SessionMeta{})
	require.NoError(t, err)
	for _, name := range []string{"Ana", "Bo"} {
		_, err := service.JoinSession(ctx, session.ID, name)
		require.NoError(t, err)
	}

	_, err = service.StartTask(ctx, session.ID)
	assert.ErrorIs(t, err, domain.ErrTooFewParticipants)

	unchanged, err := service.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StageIdentity, unchanged.CurrentStage)
	groups, err := service.ListGroups(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestMarkReadyAggregatesAndFreezesChoices(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.NewStore(nil)
	service := newTestService(t, store)
	_, groups := startedSession(t, service, 3)
	group := groups[0]
	members := group.Members

	_, err := service.MarkReady(ctx, group.ID, members[0].ID, "candidate_z")
	assert.ErrorIs(t, err, domain.ErrUnknownCandidate)

	_, err = service.MarkReady(ctx, group.ID, "stranger", "candidate_a")
	assert.ErrorIs(t, err, domain.ErrNotGroupMember)

	_, err = service.MarkReady(ctx, "missing", members[0].ID, "candidate_a")
	assert.ErrorIs(t, err, domain.ErrGroupNotFound)

	updated, err := service.MarkReady(ctx, group.ID, members[2].ID, "candidate_a")
	require.NoError(t, err)
	assert.Equal(t, 1, updated.ReadyCount())

	updated, err = service.MarkReady(ctx, group.ID, members[2].ID, "candidate_b")
	require.NoError(t, err, "choice may change before the group is ready")
	assert.Equal(t, domain.CandidateID("candidate_b"), updated.Ready[members[2].ID].IndividualChoice)

	_, err = service.MarkReady(ctx, group.ID, members[0].ID, "candidate_a")
	require.NoError(t, err)
	updated, err = service.MarkReady(ctx, group.ID, members[1].ID, "candidate_a")
	require.NoError(t, err)
	assert.True(t, updated.AllReady())

	version := updated.Version
	again, err := service.MarkReady(ctx, group.ID, members[1].ID, "candidate_a")
	require.NoError(t, err)
	assert.Equal(t, version, again.Version, "identical resubmission must not write")

	_, err = service.MarkReady(ctx, group.ID, members[1].ID, "candidate_b")
	assert.ErrorIs(t, err, domain.ErrChoicesFrozen)
}

func TestDecisionApprovalAndRatingsFlow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.NewStore(nil)
	service := newTestService(t, store, WithRequireApproval(true))
	session, groups := startedSession(t, service, 3)
	group := groups[0]
	members := group.Members

	_, err := service.SubmitGroupDecision(ctx, group.ID, members[0].ID, "candidate_a")
	assert.ErrorIs(t, err, domain.ErrGroupNotReady)

	group = readyAll(t, service, group, "candidate_b")

	_, err = service.ApproveGroupDecision(ctx, group.ID, members[0].ID, true)
	assert.ErrorIs(t, err, domain.ErrDecisionMissing)

	group, err = service.SubmitGroupDecision(ctx, group.ID, members[0].ID, "candidate_a")
	require.NoError(t, err)
	require.NotNil(t, group.Decision)
	assert.Equal(t, members[0].ID, group.Decision.SubmittedBy)

	_, err = service.SubmitGroupDecision(ctx, group.ID, members[1].ID, "candidate_a")
	require.NoError(t, err, "identical resubmission is a no-op")
	_, err = service.SubmitGroupDecision(ctx, group.ID, members[1].ID, "candidate_b")
	assert.ErrorIs(t, err, domain.ErrAlreadySubmitted)

	_, err = service.SubmitGroupRatings(ctx, group.ID, members[0].ID, fullRatings())
	assert.ErrorIs(t, err, domain.ErrApprovalPending)

	_, err = service.ApproveGroupDecision(ctx, group.ID, members[0].ID, true)
	require.NoError(t, err)
	_, err = service.ApproveGroupDecision(ctx, group.ID, members[1].ID, false)
	require.NoError(t, err)

	decisions, err := service.ListDecisions(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, decisions, "no decision before unanimous approval")

	_, err = service.ApproveGroupDecision(ctx, group.ID, members[1].ID, true)
	require.NoError(t, err)
	group, err = service.ApproveGroupDecision(ctx, group.ID, members[2].ID, true)
	require.NoError(t, err)
	require.True(t, group.Finalized())

	for _, member := range members {
		_, err = service.ApproveGroupDecision(ctx, group.ID, member.ID, true)
		require.NoError(t, err)
	}
	_, err = service.ApproveGroupDecision(ctx, group.ID, members[0].ID, false)
	assert.ErrorIs(t, err, domain.ErrDecisionFinalized)

	decisions, err = service.ListDecisions(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, domain.CandidateID("candidate_a"), decisions[0].Choice)
	assert.Equal(t, group.ID, decisions[0].GroupID)
	assert.Len(t, decisions[0].IndividualChoices, 3)

	partial := fullRatings()
	delete(partial, "candidate_b_v2_0")
	_, err = service.SubmitGroupRatings(ctx, group.ID, members[0].ID, partial)
	assert.ErrorIs(t, err, domain.ErrIncompleteRatings)

	tooHigh := fullRatings()
	tooHigh["candidate_a_v1_0"] = 11
	_, err = service.SubmitGroupRatings(ctx, group.ID, members[0].ID, tooHigh)
	assert.ErrorIs(t, err, domain.ErrRatingOutOfRange)

	group, err = service.SubmitGroupRatings(ctx, group.ID, members[2].ID, fullRatings())
	require.NoError(t, err)
	assert.Equal(t, fullRatings(), group.Ratings)
	assert.Equal(t, members[2].ID, group.RatingsSubmittedBy)
	assert.Equal(t, domain.PhaseRated, group.Phase(true))

	_, err = service.SubmitGroupRatings(ctx, group.ID, members[0].ID, fullRatings())
	require.NoError(t, err)
	changed := fullRatings()
	changed["candidate_a_v1_0"] = 9
	_, err = service.SubmitGroupRatings(ctx, group.ID, members[0].ID, changed)
	assert.ErrorIs(t, err, domain.ErrAlreadySubmitted)
}

func TestRatingsWithoutApprovalGate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.NewStore(nil)
	service := newTestService(t, store)
	_, groups := startedSession(t, service, 4)
	group := readyAll(t, service, groups[0], "candidate_a")

	_, err := service.SubmitGroupRatings(ctx, group.ID, group.Members[0].ID, fullRatings())
	assert.ErrorIs(t, err, domain.ErrDecisionMissing)

	_, err = service.SubmitGroupDecision(ctx, group.ID, group.Members[3].ID, "candidate_b")
	require.NoError(t, err)

	group, err = service.SubmitGroupRatings(ctx, group.ID, group.Members[0].ID, fullRatings())
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseRated, group.Phase(false))
}

func TestConcurrentMarkReadyLosesNoMember(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.NewStore(nil)
	service := newTestService(t, store, WithConflictRetries(100))
	_, groups := startedSession(t, service, 5)
	group := groups[0]
	require.Len(t, group.Members, 5)

	var wg sync.WaitGroup
	errs := make(chan error, len(group.Members))
	for _, member := range group.Members {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.MarkReady(ctx, group.ID, member.ID, "candidate_a")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stored, err := service.GetGroup(ctx, group.ID)
	require.NoError(t, err)
	assert.True(t, stored.AllReady())
	assert.Equal(t, 5, stored.ReadyCount())
}

func TestConcurrentApprovalsCreateOneDecision(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.NewStore(nil)
	service := newTestService(t, store, WithConflictRetries(100))
	session, groups := startedSession(t, service, 5)
	group := readyAll(t, service, groups[0], "candidate_a")
	_, err := service.SubmitGroupDecision(ctx, group.ID, group.Members[0].ID, "candidate_b")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 2*len(group.Members))
	for _, member := range group.Members {
		for range 2 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := service.ApproveGroupDecision(ctx, group.ID, member.ID, true)
				errs <- err
			}()
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stored, err := service.GetGroup(ctx, group.ID)
	require.NoError(t, err)
	assert.True(t, stored.Finalized())
	assert.Equal(t, 5, stored.ApprovalCount())

	decisions, err := service.ListDecisions(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, group.ID, decisions[0].GroupID)
	assert.Equal(t, domain.CandidateID("candidate_b"), decisions[0].Choice)
}

// racingStore lets another writer slip in between the read and the write of
// the first few group updates.
type racingStore struct {
	*memory.Store
	races atomic.Int32
}

func (s *racingStore) UpdateGroup(ctx context.Context, group domain.Group, expectedVersion int64) (domain.Group, error) {
	if s.races.Load() > 0 {
		s.races.Add(-1)
		current, err := s.Store.GetGroup(ctx, group.ID)
		if err != nil {
			return domain.Group{}, err
		}
		if _, err := s.Store.UpdateGroup(ctx, current, current.Version); err != nil {
			return domain.Group{}, err
		}
	}
	return s.Store.UpdateGroup(ctx, group, expectedVersion)
}

func TestConflictsAreRetriedThenSurfaced(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	base := memory.NewStore(nil)
	store := &racingStore{Store: base}

	clock := mocks.NewMockClock(t)
	clock.EXPECT().Now().Return(t0).Maybe()
	service := NewService(store, testCatalog(), clock, WithIDGenerator(sequentialIDs()), WithShuffler(keepOrder), WithConflictRetries(2))

	_, groups := startedSession(t, service, 3)
	group := groups[0]

	store.races.Store(2)
	updated, err := service.MarkReady(ctx, group.ID, group.Members[0].ID, "candidate_a")
	require.NoError(t, err)
	assert.Equal(t, int64(4), updated.Version)
	assert.True(t, updated.Ready[group.Members[0].ID].Ready)

	store.races.Store(10)
	_, err = service.MarkReady(ctx, group.ID, group.Members[1].ID, "candidate_a")
	assert.ErrorIs(t, err, domain.ErrVersionConflict)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestExportAnalysisAndBoard(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.NewStore(nil)
	service := newTestService(t, store)
	session, groups := startedSession(t, service, 6)

	group := readyAll(t, service, groups[0], "candidate_b")
	_, err := service.SubmitGroupDecision(ctx, group.ID, group.Members[0].ID, "candidate_a")
	require.NoError(t, err)
	for _, member := range group.Members {
		_, err = service.ApproveGroupDecision(ctx, group.ID, member.ID, true)
		require.NoError(t, err)
	}
	_, err = service.SubmitGroupRatings(ctx, group.ID, group.Members[0].ID, fullRatings())
	require.NoError(t, err)

	report, err := service.ExportAnalysis(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, report.GroupCount)
	assert.Equal(t, 1, report.DecisionCount)
	assert.InDelta(t, 0.5, report.CompletionRate, 0.001)
	assert.Equal(t, domain.CandidateID("candidate_a"), report.MostChosen)
	require.Len(t, report.IndividualChoices, 2)
	assert.Equal(t, 3, report.IndividualChoices[1].Count)

	_, err = service.ExportAnalysis(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	board, err := service.Board(ctx, session.ID)
	require.NoError(t, err)
	assert.Len(t, board.Participants, 6)
	require.Len(t, board.Groups, 2)
	assert.Equal(t, domain.PhaseRated, board.Groups[0].Phase)
	assert.Equal(t, 3, board.Groups[0].Approved)
	assert.Equal(t, domain.PhaseCollecting, board.Groups[1].Phase)
	assert.Equal(t, report, board.Report)
}

func TestParticipantView(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.NewStore(nil)
	service := newTestService(t, store)

	session, err := service.CreateSession(ctx, domain.SessionMeta{})
	require.NoError(t, err)
	first, err := service.JoinSession(ctx, session.ID, "Ana")
	require.NoError(t, err)

	view, err := service.ParticipantView(ctx, session.ID, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ParticipantWaiting, view.Stage)
	assert.Nil(t, view.Group)

	for _, name := range []string{"Bo", "Cy"} {
		_, err := service.JoinSession(ctx, session.ID, name)
		require.NoError(t, err)
	}
	_, err = service.StartTask(ctx, session.ID)
	require.NoError(t, err)

	view, err = service.ParticipantView(ctx, session.ID, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ParticipantIndividualChoice, view.Stage)
	require.NotNil(t, view.Member)
	assert.Equal(t, domain.Variant("v1"), view.Member.Variant)
	ids := make([]domain.ItemID, 0, len(view.Items))
	for _, item := range view.Items {
		ids = append(ids, item.ID)
	}
	assert.Equal(t, []domain.ItemID{"candidate_a_shared_0", "candidate_a_v1_0", "candidate_b_shared_0"}, ids)

	_, err = service.ParticipantView(ctx, session.ID, "nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestResetAllDataRequiresConfirmation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.NewStore(nil)
	service := newTestService(t, store)
	session, _ := startedSession(t, service, 3)

	err := service.ResetAllData(ctx, false)
	assert.ErrorIs(t, err, domain.ErrConfirmationNeeded)
	exists, err := service.SessionExists(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, service.ResetAllData(ctx, true))
	exists, err = service.SessionExists(ctx, session.ID)
	require.NoError(t, err)
	assert.False(t, exists)
	_, err = service.ActiveSession(ctx)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}
