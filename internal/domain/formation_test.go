package domain

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeParticipants(n int) []Participant {
	participants := make([]Participant, 0, n)
	for i := range n {
		participants = append(participants, Participant{
			ID:        ParticipantID(fmt.Sprintf("p-%02d", i+1)),
			SessionID: "s-1",
			Name:      fmt.Sprintf("Participant %d", i+1),
			Status:    ParticipantActive,
		})
	}
	return participants
}

func groupSizes(groups []Group) []int {
	sizes := make([]int, 0, len(groups))
	for _, group := range groups {
		sizes = append(sizes, len(group.Members))
	}
	return sizes
}

func TestFormGroupsSizes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		n    int
		want []int
	}{
		{n: 3, want: []int{3}},
		{n: 4, want: []int{4}},
		{n: 5, want: []int{5}},
		{n: 6, want: []int{3, 3}},
		{n: 7, want: []int{3, 4}},
		{n: 8, want: []int{3, 5}},
		{n: 10, want: []int{3, 3, 4}},
		{n: 11, want: []int{3, 3, 5}},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("n=%d", tt.n), func(t *testing.T) {
			groups, err := FormGroups("s-1", makeParticipants(tt.n), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, groupSizes(groups))
		})
	}
}

func TestFormGroupsPartitionIsCompleteForAnyShuffle(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))
	for n := 3; n <= 40; n++ {
		participants := makeParticipants(n)
		groups, err := FormGroups("s-1", participants, rng.Shuffle)
		require.NoError(t, err)

		seen := map[ParticipantID]int{}
		allThree := true
		for _, group := range groups {
			size := len(group.Members)
			assert.Contains(t, []int{3, 4, 5}, size, "n=%d", n)
			if size != 3 {
				allThree = false
			}
			for _, member := range group.Members {
				seen[member.ID]++
			}
		}

		assert.Len(t, seen, n)
		for id, count := range seen {
			assert.Equal(t, 1, count, "participant %s placed %d times", id, count)
		}
		assert.Equal(t, n%3 == 0, allThree, "n=%d", n)
	}
}

func TestFormGroupsNamesKeysAndVariants(t *testing.T) {
	t.Parallel()

	groups, err := FormGroups("s-1", makeParticipants(8), nil)
	require.NoError(t, err)
	require.Len(t, groups, 2)

	assert.Equal(t, "Group 1", groups[0].Name)
	assert.Equal(t, "group1", groups[0].Key)
	assert.Equal(t, 0, groups[0].Position)
	assert.Equal(t, "Group 2", groups[1].Name)
	assert.Equal(t, "group2", groups[1].Key)
	assert.Equal(t, SessionID("s-1"), groups[1].SessionID)

	variants := make([]Variant, 0, len(groups[1].Members))
	for _, member := range groups[1].Members {
		variants = append(variants, member.Variant)
	}
	assert.Equal(t, []Variant{"v1", "v2", "v3", "v1", "v2"}, variants)
	assert.NotNil(t, groups[1].Ready)
	assert.NotNil(t, groups[1].Approvals)
}

func TestFormGroupsRejectsTooFewParticipants(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 1, 2} {
		groups, err := FormGroups("s-1", makeParticipants(n), nil)
		require.ErrorIs(t, err, ErrTooFewParticipants)
		assert.ErrorIs(t, err, ErrValidation)
		assert.Nil(t, groups)
	}
}

func TestFormGroupsDoesNotReorderInput(t *testing.T) {
	t.Parallel()

	participants := makeParticipants(6)
	_, err := FormGroups("s-1", participants, rand.New(rand.NewSource(7)).Shuffle)
	require.NoError(t, err)

	for i, participant := range participants {
		assert.Equal(t, ParticipantID(fmt.Sprintf("p-%02d", i+1)), participant.ID)
	}
}
