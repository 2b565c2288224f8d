package domain

import (
	"maps"
	"slices"
	"time"
)

type GroupID string

type Variant string

type Member struct {
	ID      ParticipantID `json:"id"`
	Name    string        `json:"name"`
	Variant Variant       `json:"variant"`
}

type Readiness struct {
	Ready            bool        `json:"ready"`
	IndividualChoice CandidateID `json:"individualChoice"`
	At               time.Time   `json:"timestamp"`
}

type GroupDecision struct {
	Choice      CandidateID   `json:"choice"`
	SubmittedBy ParticipantID `json:"submittedBy"`
	At          time.Time     `json:"timestamp"`
}

type Group struct {
	ID                 GroupID                     `json:"id"`
	SessionID          SessionID                   `json:"sessionId"`
	Name               string                      `json:"name"`
	Key                string                      `json:"key"`
	Position           int                         `json:"position"`
	Members            []Member                    `json:"members"`
	Ready              map[ParticipantID]Readiness `json:"readyMembers"`
	Approvals          map[ParticipantID]bool      `json:"approvals"`
	Decision           *GroupDecision              `json:"groupDecision,omitempty"`
	Ratings            map[ItemID]int              `json:"ratings,omitempty"`
	RatingsSubmittedBy ParticipantID               `json:"ratingsSubmittedBy,omitempty"`
	RatingsSubmittedAt *time.Time                  `json:"ratingsSubmittedAt,omitempty"`
	FinalizedAt        *time.Time                  `json:"finalizedAt,omitempty"`
	CreatedAt          time.Time                   `json:"createdAt"`
	UpdatedAt          *time.Time                  `json:"updatedAt,omitempty"`
	Version            int64                       `json:"version"`
}

type GroupPhase string

const (
	PhaseCollecting       GroupPhase = "collecting_individual_choices"
	PhaseAllReady         GroupPhase = "all_ready"
	PhaseAwaitingApproval GroupPhase = "awaiting_unanimous_approval"
	PhaseDecided          GroupPhase = "decision_submitted"
	PhaseRated            GroupPhase = "ratings_submitted"
)

func (g Group) Member(id ParticipantID) (Member, bool) {
	for _, member := range g.Members {
		if member.ID == id {
			return member, true
		}
	}

	return Member{}, false
}

func (g Group) HasMember(id ParticipantID) bool {
	_, ok := g.Member(id)
	return ok
}

// ReadyCount counts members flagged ready. Entries for non-members are ignored.
func (g Group) ReadyCount() int {
	count := 0
	for _, member := range g.Members {
		if g.Ready[member.ID].Ready {
			count++
		}
	}

	return count
}

func (g Group) AllReady() bool {
	return len(g.Members) > 0 && g.ReadyCount() == len(g.Members)
}

func (g Group) ApprovalCount() int {
	count := 0
	for _, member := range g.Members {
		if g.Approvals[member.ID] {
			count++
		}
	}

	return count
}

func (g Group) AllApproved() bool {
	return len(g.Members) > 0 && g.ApprovalCount() == len(g.Members)
}

func (g Group) Finalized() bool {
	return g.FinalizedAt != nil
}

func (g Group) IndividualChoices() map[ParticipantID]CandidateID {
	choices := make(map[ParticipantID]CandidateID, len(g.Ready))
	for _, member := range g.Members {
		entry, ok := g.Ready[member.ID]
		if !ok || entry.IndividualChoice == "" {
			continue
		}
		choices[member.ID] = entry.IndividualChoice
	}

	return choices
}

func (g Group) Phase(requireApproval bool) GroupPhase {
	switch {
	case g.Ratings != nil:
		return PhaseRated
	case g.Decision != nil && requireApproval && !g.Finalized():
		return PhaseAwaitingApproval
	case g.Decision != nil:
		return PhaseDecided
	case g.AllReady():
		return PhaseAllReady
	default:
		return PhaseCollecting
	}
}

func (g Group) Clone() Group {
	clone := g
	clone.Members = slices.Clone(g.Members)
	clone.Ready = maps.Clone(g.Ready)
	clone.Approvals = maps.Clone(g.Approvals)
	clone.Ratings = maps.Clone(g.Ratings)
	if clone.Ready == nil {
		clone.Ready = map[ParticipantID]Readiness{}
	}
	if clone.Approvals == nil {
		clone.Approvals = map[ParticipantID]bool{}
	}
	if g.Decision != nil {
		decision := *g.Decision
		clone.Decision = &decision
	}
	clone.RatingsSubmittedAt = cloneTime(g.RatingsSubmittedAt)
	clone.FinalizedAt = cloneTime(g.FinalizedAt)
	clone.UpdatedAt = cloneTime(g.UpdatedAt)

	return clone
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	value := *t
	return &value
}

type DecisionID string

type Decision struct {
	ID                DecisionID                    `json:"id"`
	SessionID         SessionID                     `json:"sessionId"`
	GroupID           GroupID                       `json:"groupId"`
	GroupName         string                        `json:"groupName"`
	Choice            CandidateID                   `json:"choice"`
	SubmittedBy       ParticipantID                 `json:"submittedBy"`
	IndividualChoices map[ParticipantID]CandidateID `json:"individualChoices"`
	ApprovedAt        time.Time                     `json:"approvedAt"`
}

// NewDecision snapshots the submitted choice of a unanimously approved group.
func NewDecision(id DecisionID, group Group, approvedAt time.Time) (Decision, error) {
	if group.Decision == nil {
		return Decision{}, ErrDecisionMissing
	}

	return Decision{
		ID:                id,
		SessionID:         group.SessionID,
		GroupID:           group.ID,
		GroupName:         group.Name,
		Choice:            group.Decision.Choice,
		SubmittedBy:       group.Decision.SubmittedBy,
		IndividualChoices: group.IndividualChoices(),
		ApprovedAt:        approvedAt,
	}, nil
}
