package domain

import (
	"fmt"
	"slices"
)

const (
	MinParticipants = 3
	GroupChunkSize  = 3
)

var Variants = []Variant{"v1", "v2", "v3"}

// Shuffler permutes n elements in place through swap, like rand.Shuffle.
type Shuffler func(n int, swap func(i, j int))

// FormGroups partitions participants into groups of three after shuffling.
// A trailing chunk of one or two participants joins the previous group, so
// sizes are always 3, 4 or 5. IDs, timestamps and versions are left to the caller.
func FormGroups(sessionID SessionID, participants []Participant, shuffle Shuffler) ([]Group, error) {
	if len(participants) < MinParticipants {
		return nil, ErrTooFewParticipants
	}

	order := slices.Clone(participants)
	if shuffle != nil {
		shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}

	groups := make([]Group, 0, len(order)/GroupChunkSize)
	for start := 0; start < len(order); start += GroupChunkSize {
		chunk := order[start:min(start+GroupChunkSize, len(order))]
		if len(chunk) < GroupChunkSize {
			last := &groups[len(groups)-1]
			for _, participant := range chunk {
				last.Members = append(last.Members, newMember(participant, len(last.Members)))
			}
			continue
		}

		number := len(groups) + 1
		group := Group{
			SessionID: sessionID,
			Name:      fmt.Sprintf("Group %d", number),
			Key:       fmt.Sprintf("group%d", number),
			Position:  number - 1,
			Members:   make([]Member, 0, GroupChunkSize),
			Ready:     map[ParticipantID]Readiness{},
			Approvals: map[ParticipantID]bool{},
		}
		for _, participant := range chunk {
			group.Members = append(group.Members, newMember(participant, len(group.Members)))
		}
		groups = append(groups, group)
	}

	return groups, nil
}

func newMember(participant Participant, index int) Member {
	return Member{
		ID:      participant.ID,
		Name:    participant.Name,
		Variant: Variants[index%len(Variants)],
	}
}
