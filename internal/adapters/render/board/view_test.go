package board

import (
	"testing"
	"time"

	"github.com/bnema/hiddenprofile/internal/application"
	"github.com/bnema/hiddenprofile/internal/domain"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func testCatalog() domain.Catalog {
	return domain.Catalog{
		Candidates: []domain.Candidate{
			{ID: "candidate_a", Name: "Candidate A"},
			{ID: "candidate_b", Name: "Candidate B"},
		},
		Items: []domain.Item{
			{ID: "candidate_a_shared_0", Candidate: "candidate_a", Shared: true},
			{ID: "candidate_a_v1_0", Candidate: "candidate_a", Variant: "v1"},
		},
		RatingMin: 1,
		RatingMax: 10,
	}
}

func testBoard() application.Board {
	session := domain.Session{ID: "s-1", Name: "Seminar", Status: domain.SessionActive, CurrentStage: domain.StageTask}
	participants := []domain.Participant{
		{ID: "p1", Name: "Ana", JoinedAt: now.Add(-5 * time.Minute)},
		{ID: "p2", Name: "Bo", JoinedAt: now.Add(-30 * time.Second)},
		{ID: "p3", Name: "Cy", JoinedAt: now.Add(-2 * time.Hour)},
	}
	members := []domain.Member{{ID: "p1", Name: "Ana", Variant: "v1"}, {ID: "p2", Name: "Bo", Variant: "v2"}, {ID: "p3", Name: "Cy", Variant: "v3"}}
	finalized := now
	rated := domain.Group{
		ID: "g-1", Name: "Group 1", Members: members,
		Ready: map[domain.ParticipantID]domain.Readiness{
			"p1": {Ready: true, IndividualChoice: "candidate_b"},
			"p2": {Ready: true, IndividualChoice: "candidate_b"},
			"p3": {Ready: true, IndividualChoice: "candidate_a"},
		},
		Approvals:   map[domain.ParticipantID]bool{"p1": true, "p2": true, "p3": true},
		Decision:    &domain.GroupDecision{Choice: "candidate_a", SubmittedBy: "p1"},
		Ratings:     map[domain.ItemID]int{"candidate_a_shared_0": 9, "candidate_a_v1_0": 3},
		FinalizedAt: &finalized,
	}
	collecting := domain.Group{
		ID: "g-2", Name: "Group 2", Members: members,
		Ready: map[domain.ParticipantID]domain.Readiness{"p1": {Ready: true, IndividualChoice: "candidate_a"}},
	}
	decisions := []domain.Decision{{ID: "d-1", GroupID: "g-1", Choice: "candidate_a", ApprovedAt: now}}

	return application.BuildBoard(testCatalog(), session, participants, []domain.Group{rated, collecting}, decisions, false)
}

func TestRenderBoard(t *testing.T) {
	output, err := Render(testBoard(), RenderOptions{Now: now, Catalog: testCatalog()})

	require.NoError(t, err)
	assert.Contains(t, output, "Seminar (s-1)")
	assert.Contains(t, output, "participants: 3  groups: 2")
	assert.Contains(t, output, "Ana joined 5 minutes ago")
	assert.Contains(t, output, "Bo joined just now")
	assert.Contains(t, output, "Cy joined at 08:00")
	assert.Contains(t, output, "Group 1 (3 members) done")
	assert.Contains(t, output, "decision: Candidate A")
	assert.Contains(t, output, "approvals: 3/3")
	assert.Contains(t, output, "Group 2 (3 members) collecting choices")
	assert.Contains(t, output, "1/3")
	assert.Contains(t, output, "decisions: 1/2 (50% complete)")
	assert.Contains(t, output, "most chosen: Candidate A")
	assert.Contains(t, output, "Candidate B 2")
	assert.Contains(t, output, "Group 1 bias: +6.00 (shared 9.00, unique 3.00)")
	assert.NotContains(t, output, "[stale]")
}

func TestRenderEmptySession(t *testing.T) {
	board := application.BuildBoard(testCatalog(), domain.Session{ID: "s-2", Name: "Empty"}, nil, nil, nil, false)

	output, err := Render(board, RenderOptions{Now: now, Catalog: testCatalog(), Stale: true})

	require.NoError(t, err)
	assert.Contains(t, output, "Waiting for participants to join.")
	assert.Contains(t, output, "No groups yet.")
	assert.Contains(t, output, "[stale]")
}

func TestRenderProgressBar(t *testing.T) {
	s := newStyles()
	assert.Contains(t, renderProgressBar(1, 2, 4, s), "==")
	assert.NotContains(t, renderProgressBar(0, 0, 4, s), "=")
	assert.Empty(t, renderProgressBar(1, 1, 0, s))
}

func TestWatchModelShowsSpinnerUntilFirstUpdate(t *testing.T) {
	updates := make(chan Update, 1)
	m := newWatchModel(updates, RenderOptions{Catalog: testCatalog()}, func() time.Time { return now })

	assert.Contains(t, m.View(), "Waiting for session data...")

	next, cmd := m.Update(spinner.TickMsg{})
	require.NotNil(t, cmd)
	m = next.(watchModel)

	updates <- Update{Board: testBoard()}
	msg := m.waitForUpdate()
	next, cmd = m.Update(msg)
	m = next.(watchModel)
	require.NotNil(t, cmd)
	assert.Contains(t, m.View(), "Group 1 (3 members) done")
	assert.Contains(t, m.View(), "Ana joined 5 minutes ago")

	next, cmd = m.Update(spinner.TickMsg{})
	assert.Nil(t, cmd, "spinner stops once a board is shown")
	m = next.(watchModel)

	updates <- Update{Board: testBoard(), Stale: true}
	next, _ = m.Update(m.waitForUpdate())
	m = next.(watchModel)
	assert.Contains(t, m.View(), "[stale]")

	close(updates)
	closedMsg := m.waitForUpdate()
	assert.IsType(t, feedClosedMsg{}, closedMsg)
	next, cmd = m.Update(closedMsg)
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.True(t, next.(watchModel).closed)
}

func TestWatchModelQuitsOnKey(t *testing.T) {
	m := newWatchModel(make(chan Update), RenderOptions{}, time.Now)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}
