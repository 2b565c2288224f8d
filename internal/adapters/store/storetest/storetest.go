// Package storetest holds the behaviour every ports.Store implementation must share.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bnema/hiddenprofile/internal/application"
	"github.com/bnema/hiddenprofile/internal/domain"
	"github.com/bnema/hiddenprofile/internal/feed"
	"github.com/bnema/hiddenprofile/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh empty store that reports committed writes to publisher.
type Factory func(t *testing.T, publisher ports.ChangePublisher) ports.Store

type Recorder struct {
	mu      sync.Mutex
	changes []domain.Change
}

func (r *Recorder) Publish(change domain.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, change)
}

func (r *Recorder) Changes() []domain.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Change(nil), r.changes...)
}

var base = time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)

func session(id string, offset time.Duration) domain.Session {
	return domain.Session{
		ID:           domain.SessionID(id),
		Name:         "Session " + id,
		CreatedBy:    "instructor",
		Status:       domain.SessionActive,
		CurrentStage: domain.StageIdentity,
		CreatedAt:    base.Add(offset),
	}
}

func participant(sessionID, id string, offset time.Duration) domain.Participant {
	return domain.Participant{
		ID:        domain.ParticipantID(id),
		SessionID: domain.SessionID(sessionID),
		Name:      "name-" + id,
		Status:    domain.ParticipantActive,
		JoinedAt:  base.Add(offset),
	}
}

func seedGroups(t *testing.T, store ports.Store, sessionID string, n int) []domain.Group {
	t.Helper()

	ctx := context.Background()
	participants := make([]domain.Participant, 0, n)
	for i := range n {
		p := participant(sessionID, sessionID+"-p"+string(rune('a'+i)), time.Duration(i)*time.Second)
		require.NoError(t, store.AddParticipant(ctx, p))
		participants = append(participants, p)
	}

	groups, err := domain.FormGroups(domain.SessionID(sessionID), participants, nil)
	require.NoError(t, err)
	for i := range groups {
		groups[i].ID = domain.GroupID(sessionID + "-g" + string(rune('1'+i)))
		groups[i].CreatedAt = base.Add(time.Minute)
	}
	require.NoError(t, store.CommitGroups(ctx, domain.SessionID(sessionID), groups, base.Add(time.Minute)))

	stored, err := store.ListGroups(ctx, domain.SessionID(sessionID))
	require.NoError(t, err)
	return stored
}

func Run(t *testing.T, newStore Factory) {
	t.Run("activate keeps a single active session", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t, nil)

		_, err := store.ActiveSession(ctx)
		require.ErrorIs(t, err, domain.ErrSessionNotFound)

		require.NoError(t, store.ActivateSession(ctx, session("s-1", 0)))
		require.NoError(t, store.ActivateSession(ctx, session("s-2", time.Minute)))
		require.NoError(t, store.ActivateSession(ctx, session("s-3", 2*time.Minute)))

		active, err := store.ActiveSession(ctx)
		require.NoError(t, err)
		assert.Equal(t, domain.SessionID("s-3"), active.ID)

		for _, id := range []domain.SessionID{"s-1", "s-2"} {
			closed, err := store.GetSession(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, domain.SessionInactive, closed.Status)
			require.NotNil(t, closed.ClosedAt)
		}

		_, err = store.GetSession(ctx, "missing")
		require.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("participants ordered by join time", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t, nil)
		require.NoError(t, store.ActivateSession(ctx, session("s-1", 0)))

		require.NoError(t, store.AddParticipant(ctx, participant("s-1", "late", 3*time.Second)))
		require.NoError(t, store.AddParticipant(ctx, participant("s-1", "early", time.Second)))
		require.NoError(t, store.AddParticipant(ctx, participant("s-1", "tie-1", 2*time.Second)))
		require.NoError(t, store.AddParticipant(ctx, participant("s-1", "tie-2", 2*time.Second)))

		participants, err := store.ListParticipants(ctx, "s-1")
		require.NoError(t, err)
		ids := make([]domain.ParticipantID, 0, len(participants))
		for _, p := range participants {
			ids = append(ids, p.ID)
		}
		assert.Equal(t, []domain.ParticipantID{"early", "tie-1", "tie-2", "late"}, ids)

		err = store.AddParticipant(ctx, participant("missing", "x", 0))
		require.ErrorIs(t, err, domain.ErrSessionNotFound)

		empty, err := store.ListParticipants(ctx, "other")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("commit groups advances stage once", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t, nil)
		require.NoError(t, store.ActivateSession(ctx, session("s-1", 0)))

		groups := seedGroups(t, store, "s-1", 7)
		require.Len(t, groups, 2)
		assert.Equal(t, "Group 1", groups[0].Name)
		assert.Len(t, groups[0].Members, 3)
		assert.Len(t, groups[1].Members, 4)
		assert.Equal(t, int64(1), groups[0].Version)

		stored, err := store.GetSession(ctx, "s-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StageTask, stored.CurrentStage)

		err = store.CommitGroups(ctx, "s-1", groups, base.Add(time.Hour))
		require.ErrorIs(t, err, domain.ErrTaskAlreadyStarted)

		after, err := store.ListGroups(ctx, "s-1")
		require.NoError(t, err)
		assert.Len(t, after, 2)

		_, err = store.GetGroup(ctx, "missing")
		require.ErrorIs(t, err, domain.ErrGroupNotFound)
	})

	t.Run("update group is a compare and swap", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t, nil)
		require.NoError(t, store.ActivateSession(ctx, session("s-1", 0)))
		group := seedGroups(t, store, "s-1", 3)[0]

		first := group.Clone()
		first.Ready[first.Members[0].ID] = domain.Readiness{Ready: true, IndividualChoice: "candidate_a", At: base}
		updated, err := store.UpdateGroup(ctx, first, group.Version)
		require.NoError(t, err)
		assert.Equal(t, group.Version+1, updated.Version)

		stale := group.Clone()
		stale.Ready[stale.Members[1].ID] = domain.Readiness{Ready: true, IndividualChoice: "candidate_b", At: base}
		_, err = store.UpdateGroup(ctx, stale, group.Version)
		require.ErrorIs(t, err, domain.ErrVersionConflict)
		assert.ErrorIs(t, err, domain.ErrConflict)

		reloaded, err := store.GetGroup(ctx, group.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, reloaded.ReadyCount())
		assert.True(t, reloaded.Ready[group.Members[0].ID].Ready)

		missing := group.Clone()
		missing.ID = "missing"
		_, err = store.UpdateGroup(ctx, missing, 1)
		require.ErrorIs(t, err, domain.ErrGroupNotFound)
	})

	t.Run("finalize decision is idempotent per group", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t, nil)
		require.NoError(t, store.ActivateSession(ctx, session("s-1", 0)))
		groups := seedGroups(t, store, "s-1", 6)

		first := domain.Decision{ID: "d-1", SessionID: "s-1", GroupID: groups[0].ID, GroupName: groups[0].Name, Choice: "candidate_a", ApprovedAt: base.Add(time.Hour)}
		stored, created, err := store.FinalizeDecision(ctx, first)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, domain.DecisionID("d-1"), stored.ID)

		again := first
		again.ID = "d-1-dup"
		stored, created, err = store.FinalizeDecision(ctx, again)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, domain.DecisionID("d-1"), stored.ID)

		second := domain.Decision{ID: "d-2", SessionID: "s-1", GroupID: groups[1].ID, GroupName: groups[1].Name, Choice: "candidate_b", ApprovedAt: base.Add(2 * time.Hour)}
		_, created, err = store.FinalizeDecision(ctx, second)
		require.NoError(t, err)
		assert.True(t, created)

		decisions, err := store.ListDecisions(ctx, "s-1")
		require.NoError(t, err)
		require.Len(t, decisions, 2)
		assert.Equal(t, domain.DecisionID("d-2"), decisions[0].ID)
		assert.Equal(t, domain.DecisionID("d-1"), decisions[1].ID)
	})

	t.Run("fresh group subscriber receives submitted ratings", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t, nil)
		catalog := domain.Catalog{
			Candidates: []domain.Candidate{
				{ID: "candidate_a", Name: "Candidate A"},
				{ID: "candidate_b", Name: "Candidate B"},
			},
			Items: []domain.Item{
				{ID: "candidate_a_shared_0", Candidate: "candidate_a", Shared: true, Label: "team player"},
				{ID: "candidate_b_v1_0", Candidate: "candidate_b", Variant: "v1", Label: "led a rollout"},
			},
			RatingMin: domain.DefaultRatingMin,
			RatingMax: domain.DefaultRatingMax,
		}
		service := application.NewService(store, catalog, nil, application.WithShuffler(func(int, func(i, j int)) {}))

		created, err := service.CreateSession(ctx, domain.SessionMeta{Name: "Ratings"})
		require.NoError(t, err)
		for _, name := range []string{"Ana", "Bo", "Cy"} {
			_, err := service.JoinSession(ctx, created.ID, name)
			require.NoError(t, err)
		}
		groups, err := service.StartTask(ctx, created.ID)
		require.NoError(t, err)
		require.Len(t, groups, 1)
		group := groups[0]

		for _, member := range group.Members {
			_, err := service.MarkReady(ctx, group.ID, member.ID, "candidate_a")
			require.NoError(t, err)
		}
		_, err = service.SubmitGroupDecision(ctx, group.ID, group.Members[0].ID, "candidate_b")
		require.NoError(t, err)

		ratings := map[domain.ItemID]int{"candidate_a_shared_0": 9, "candidate_b_v1_0": 3}
		_, err = service.SubmitGroupRatings(ctx, group.ID, group.Members[1].ID, ratings)
		require.NoError(t, err)

		notifier := feed.NewNotifier(store)
		defer notifier.Close()
		sub := notifier.Groups(ctx, created.ID)
		defer sub.Close()

		select {
		case snapshot := <-sub.C():
			require.NoError(t, snapshot.Err)
			require.Len(t, snapshot.Items, 1)
			loaded := snapshot.Items[0]
			assert.Equal(t, ratings, loaded.Ratings)
			assert.Equal(t, group.Members[1].ID, loaded.RatingsSubmittedBy)
			require.NotNil(t, loaded.RatingsSubmittedAt)
			require.NotNil(t, loaded.Decision)
			assert.Equal(t, domain.CandidateID("candidate_b"), loaded.Decision.Choice)
		case <-time.After(2 * time.Second):
			require.FailNow(t, "timed out waiting for group snapshot")
		}
	})

	t.Run("purge removes everything", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t, nil)
		require.NoError(t, store.ActivateSession(ctx, session("s-1", 0)))
		groups := seedGroups(t, store, "s-1", 3)
		_, _, err := store.FinalizeDecision(ctx, domain.Decision{ID: "d-1", SessionID: "s-1", GroupID: groups[0].ID, ApprovedAt: base})
		require.NoError(t, err)

		require.NoError(t, store.PurgeAll(ctx))

		_, err = store.ActiveSession(ctx)
		require.ErrorIs(t, err, domain.ErrSessionNotFound)
		participants, err := store.ListParticipants(ctx, "s-1")
		require.NoError(t, err)
		assert.Empty(t, participants)
		remaining, err := store.ListGroups(ctx, "s-1")
		require.NoError(t, err)
		assert.Empty(t, remaining)
		decisions, err := store.ListDecisions(ctx, "s-1")
		require.NoError(t, err)
		assert.Empty(t, decisions)
	})

	t.Run("committed writes are published", func(t *testing.T) {
		ctx := context.Background()
		recorder := &Recorder{}
		store := newStore(t, recorder)

		require.NoError(t, store.ActivateSession(ctx, session("s-1", 0)))
		require.NoError(t, store.AddParticipant(ctx, participant("s-1", "p-1", 0)))
		require.NoError(t, store.PurgeAll(ctx))

		assert.Equal(t, []domain.Change{
			{Collection: domain.CollectionSessions, SessionID: "s-1"},
			{Collection: domain.CollectionParticipants, SessionID: "s-1"},
			{Collection: domain.CollectionAll},
		}, recorder.Changes())
	})

	t.Run("cancelled context is rejected", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		store := newStore(t, nil)

		err := store.ActivateSession(ctx, session("s-1", 0))
		require.ErrorIs(t, err, context.Canceled)
	})
}
