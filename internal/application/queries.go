package application

import (
	"context"
	"fmt"

	"github.com/bnema/hiddenprofile/internal/domain"
)

type GroupStatus struct {
	Group    domain.Group      `json:"group"`
	Phase    domain.GroupPhase `json:"phase"`
	Ready    int               `json:"ready"`
	Approved int               `json:"approved"`
}

// Board is the instructor's view of one session.
type Board struct {
	Session         domain.Session       `json:"session"`
	Participants    []domain.Participant `json:"participants"`
	Groups          []GroupStatus        `json:"groups"`
	Decisions       []domain.Decision    `json:"decisions"`
	Report          domain.Report        `json:"report"`
	RequireApproval bool                 `json:"requireApproval"`
}

func BuildBoard(catalog domain.Catalog, session domain.Session, participants []domain.Participant, groups []domain.Group, decisions []domain.Decision, requireApproval bool) Board {
	statuses := make([]GroupStatus, 0, len(groups))
	for _, group := range groups {
		statuses = append(statuses, GroupStatus{
			Group:    group,
			Phase:    group.Phase(requireApproval),
			Ready:    group.ReadyCount(),
			Approved: group.ApprovalCount(),
		})
	}

	return Board{
		Session:         session,
		Participants:    participants,
		Groups:          statuses,
		Decisions:       decisions,
		Report:          domain.Analyze(catalog, groups, decisions),
		RequireApproval: requireApproval,
	}
}

func (s *Service) Board(ctx context.Context, sessionID domain.SessionID) (Board, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return Board{}, err
	}
	participants, err := s.ListParticipants(ctx, sessionID)
	if err != nil {
		return Board{}, err
	}
	groups, err := s.ListGroups(ctx, sessionID)
	if err != nil {
		return Board{}, err
	}
	decisions, err := s.ListDecisions(ctx, sessionID)
	if err != nil {
		return Board{}, err
	}

	return BuildBoard(s.catalog, session, participants, groups, decisions, s.requireApproval), nil
}

// ParticipantView is what one participant's client shows: where they stand
// and, once grouped, the information items their variant reveals.
type ParticipantView struct {
	Participant domain.Participant      `json:"participant"`
	Stage       domain.ParticipantStage `json:"stage"`
	Group       *domain.Group           `json:"group,omitempty"`
	Member      *domain.Member          `json:"member,omitempty"`
	Items       []domain.Item           `json:"items,omitempty"`
}

func (s *Service) ParticipantView(ctx context.Context, sessionID domain.SessionID, participantID domain.ParticipantID) (ParticipantView, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return ParticipantView{}, err
	}
	participants, err := s.ListParticipants(ctx, sessionID)
	if err != nil {
		return ParticipantView{}, err
	}

	view := ParticipantView{}
	found := false
	for _, participant := range participants {
		if participant.ID == participantID {
			view.Participant = participant
			found = true
			break
		}
	}
	if !found {
		return ParticipantView{}, fmt.Errorf("participant %s in session %s: %w", participantID, sessionID, domain.ErrNotFound)
	}

	groups, err := s.ListGroups(ctx, sessionID)
	if err != nil {
		return ParticipantView{}, err
	}

	view.Stage = domain.DeriveParticipantStage(&session, groups, participantID, s.requireApproval)
	for _, group := range groups {
		member, ok := group.Member(participantID)
		if !ok {
			continue
		}
		view.Group = &group
		view.Member = &member
		view.Items = s.catalog.ItemsFor(member.Variant)
		break
	}

	return view, nil
}
