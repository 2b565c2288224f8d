package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	tomlrepo "github.com/bnema/hiddenprofile/internal/adapters/repo/toml"
	"github.com/bnema/hiddenprofile/internal/adapters/store/memory"
	"github.com/bnema/hiddenprofile/internal/application"
	"github.com/bnema/hiddenprofile/internal/domain"
	"github.com/bnema/hiddenprofile/internal/feed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var trailingID = regexp.MustCompile(`\(([^()]+)\)\s*$`)

func TestVersionCommand(t *testing.T) {
	stdout, _, err := executeCLI(t, t.TempDir(), "version")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", stdout)
}

func TestHelpDescribesGroupSizes(t *testing.T) {
	stdout, _, err := executeCLI(t, t.TempDir(), "--help")
	require.NoError(t, err)
	assert.Contains(t, stdout, "groups of 3-5")
	assert.NotContains(t, stdout, "groups of 3-4")
}

func TestSessionCreateThenShow(t *testing.T) {
	home := t.TempDir()

	stdout, _, err := executeCLI(t, home, "session", "create", "--name", "Seminar A")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Created session Seminar A")

	stdout, _, err = executeCLI(t, home, "session", "show")
	require.NoError(t, err)
	assert.Contains(t, stdout, "name: Seminar A")
	assert.Contains(t, stdout, "status: active")
	assert.Contains(t, stdout, "stage: identity")
}

func TestSessionShowJSONOutput(t *testing.T) {
	home := t.TempDir()
	_, _, err := executeCLI(t, home, "session", "create", "--name", "Seminar A")
	require.NoError(t, err)

	stdout, _, err := executeCLI(t, home, "session", "show", "--json")
	require.NoError(t, err)
	assert.True(t, json.Valid([]byte(stdout)))
	assert.Contains(t, stdout, "\"currentStage\": \"identity\"")
}

func TestJoinWithoutActiveSession(t *testing.T) {
	_, _, err := executeCLI(t, t.TempDir(), "join", "Ana")
	require.Error(t, err)
	assert.ErrorIs(t, err, errNoActiveSession)
}

func TestStartRequiresThreeParticipants(t *testing.T) {
	home := t.TempDir()
	_, _, err := executeCLI(t, home, "session", "create")
	require.NoError(t, err)
	joinAll(t, home, "Ana", "Bo")

	_, _, err = executeCLI(t, home, "start")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTooFewParticipants)
}

func TestResetRequiresConfirmation(t *testing.T) {
	home := t.TempDir()
	_, _, err := executeCLI(t, home, "session", "create")
	require.NoError(t, err)

	_, _, err = executeCLI(t, home, "reset")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pass --yes")

	stdout, _, err := executeCLI(t, home, "reset", "--yes")
	require.NoError(t, err)
	assert.Contains(t, stdout, "All data deleted")

	_, _, err = executeCLI(t, home, "session", "show")
	assert.ErrorIs(t, err, errNoActiveSession)
}

func TestCatalogFiltersByVariant(t *testing.T) {
	stdout, _, err := executeCLI(t, t.TempDir(), "catalog", "--variant", "v2")
	require.NoError(t, err)
	assert.Contains(t, stdout, "ratings: 1..10")
	assert.Contains(t, stdout, "candidate_a_shared_0")
	assert.Contains(t, stdout, "candidate_b_v2_1")
	assert.NotContains(t, stdout, "candidate_a_v1_0")
	assert.NotContains(t, stdout, "candidate_c_v3_0")
}

func TestFullTaskFlow(t *testing.T) {
	home := t.TempDir()
	_, _, err := executeCLI(t, home, "session", "create", "--name", "Seminar")
	require.NoError(t, err)

	participants := joinAll(t, home, "Ana", "Bo", "Cy")

	stdout, _, err := executeCLI(t, home, "start")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Started task with 1 groups")
	groupID := strings.Fields(strings.Split(stdout, "\n")[1])[0]

	stdout, _, err = executeCLI(t, home, "view", "--participant", participants[0])
	require.NoError(t, err)
	assert.Contains(t, stdout, "stage: individual_choice")
	assert.Contains(t, stdout, "Candidate A")

	for _, participant := range participants {
		_, _, err = executeCLI(t, home, "ready", "--group", groupID, "--participant", participant, "--choice", "candidate_b")
		require.NoError(t, err)
	}

	_, _, err = executeCLI(t, home, "ready", "--group", groupID, "--participant", participants[0], "--choice", "candidate_c")
	assert.ErrorIs(t, err, domain.ErrChoicesFrozen)

	stdout, _, err = executeCLI(t, home, "decide", "--group", groupID, "--participant", participants[1], "--choice", "candidate_c")
	require.NoError(t, err)
	assert.Contains(t, stdout, "decided on Candidate C")

	for _, participant := range participants {
		stdout, _, err = executeCLI(t, home, "approve", "--group", groupID, "--participant", participant)
		require.NoError(t, err)
	}
	assert.Contains(t, stdout, "3/3 approved")
	assert.Contains(t, stdout, "decision finalized")

	stdout, _, err = executeCLI(t, home, "rate", "--group", groupID, "--participant", participants[2], "--rating", allRatings(8, 3))
	require.NoError(t, err)
	assert.Contains(t, stdout, "rated 36 items")

	stdout, _, err = executeCLI(t, home, "report", "--json")
	require.NoError(t, err)
	var report domain.Report
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.Equal(t, 1, report.DecisionCount)
	assert.Equal(t, domain.CandidateID("candidate_c"), report.MostChosen)
	require.Len(t, report.Weights, 1)
	assert.InDelta(t, 5.0, report.Weights[0].Bias, 0.001)

	stdout, _, err = executeCLI(t, home, "status")
	require.NoError(t, err)
	assert.Contains(t, stdout, "participants: 3")
	assert.Contains(t, stdout, "Group 1")

	out := filepath.Join(home, "exports", "report.toml")
	stdout, _, err = executeCLI(t, home, "report", "--out", out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Report written to")
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "candidate_c")
}

func TestFollowBoardMergesSessionFeeds(t *testing.T) {
	t.Parallel()

	store := memory.NewStore(nil)
	notifier := feed.NewNotifier(store)
	t.Cleanup(notifier.Close)
	store.SetPublisher(notifier)

	catalog := tomlrepo.DefaultCatalog()
	service := application.NewService(store, catalog, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session, err := service.CreateSession(ctx, domain.SessionMeta{Name: "Live"})
	require.NoError(t, err)

	updates := followBoard(ctx, notifier, catalog, session.ID, false)
	first := receiveUpdate(t, updates)
	assert.Equal(t, session.ID, first.Board.Session.ID)
	assert.Empty(t, first.Board.Participants)
	assert.False(t, first.Stale)

	_, err = service.JoinSession(ctx, session.ID, "Ana")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		select {
		case update := <-updates:
			return len(update.Board.Participants) == 1
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-updates:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func receiveUpdate[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	select {
	case value, ok := <-ch:
		require.True(t, ok, "channel closed")
		return value
	case <-time.After(2 * time.Second):
		require.FailNow(t, "timed out waiting for update")
	}

	var zero T
	return zero
}

func joinAll(t *testing.T, home string, names ...string) []string {
	t.Helper()

	ids := make([]string, 0, len(names))
	for _, name := range names {
		stdout, _, err := executeCLI(t, home, "join", name)
		require.NoError(t, err)
		match := trailingID.FindStringSubmatch(stdout)
		require.Len(t, match, 2, "join output: %s", stdout)
		ids = append(ids, match[1])
	}
	return ids
}

// allRatings rates every shared item with shared and every unique item with unique.
func allRatings(shared, unique int) string {
	var pairs []string
	for _, candidate := range []string{"candidate_a", "candidate_b", "candidate_c"} {
		for i := range 6 {
			pairs = append(pairs, fmt.Sprintf("%s_shared_%d=%d", candidate, i, shared))
		}
		for _, variant := range []string{"v1", "v2", "v3"} {
			for i := range 2 {
				pairs = append(pairs, fmt.Sprintf("%s_%s_%d=%d", candidate, variant, i, unique))
			}
		}
	}
	return strings.Join(pairs, ",")
}

func executeCLI(t *testing.T, home string, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("HOME", home)
	t.Setenv("HP_LOG_LEVEL", "error")

	root := newRootCmd()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}
