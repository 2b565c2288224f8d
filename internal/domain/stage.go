package domain

type ParticipantStage string

const (
	ParticipantWaiting          ParticipantStage = "waiting"
	ParticipantUnassigned       ParticipantStage = "unassigned"
	ParticipantIndividualChoice ParticipantStage = "individual_choice"
	ParticipantWaitingForOthers ParticipantStage = "waiting_for_others"
	ParticipantGroupDecision    ParticipantStage = "group_decision"
	ParticipantApproval         ParticipantStage = "approval"
	ParticipantRating           ParticipantStage = "rating"
	ParticipantComplete         ParticipantStage = "complete"
)

// DeriveParticipantStage computes where a participant stands from the latest
// snapshots only. Group membership wins over the session stage, so a groups
// snapshot that arrives before the session update still routes the participant.
func DeriveParticipantStage(session *Session, groups []Group, id ParticipantID, requireApproval bool) ParticipantStage {
	for _, group := range groups {
		if group.HasMember(id) {
			return groupStage(group, id, requireApproval)
		}
	}

	if session != nil && session.CurrentStage == StageTask {
		return ParticipantUnassigned
	}

	return ParticipantWaiting
}

func groupStage(group Group, id ParticipantID, requireApproval bool) ParticipantStage {
	switch group.Phase(requireApproval) {
	case PhaseRated:
		return ParticipantComplete
	case PhaseAwaitingApproval:
		if group.Approvals[id] {
			return ParticipantWaitingForOthers
		}
		return ParticipantApproval
	case PhaseDecided:
		return ParticipantRating
	case PhaseAllReady:
		return ParticipantGroupDecision
	default:
		if group.Ready[id].Ready {
			return ParticipantWaitingForOthers
		}
		return ParticipantIndividualChoice
	}
}

type Collection string

const (
	CollectionSessions     Collection = "sessions"
	CollectionParticipants Collection = "participants"
	CollectionGroups       Collection = "groups"
	CollectionDecisions    Collection = "decisions"
	CollectionAll          Collection = "all"
)

func (c Collection) Valid() bool {
	switch c {
	case CollectionSessions, CollectionParticipants, CollectionGroups, CollectionDecisions:
		return true
	default:
		return false
	}
}

// Change signals a committed write. CollectionAll with an empty session marks a purge.
type Change struct {
	Collection Collection `json:"collection"`
	SessionID  SessionID  `json:"sessionId,omitempty"`
}
