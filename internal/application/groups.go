package application

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/bnema/hiddenprofile/internal/domain"
	"github.com/cenkalti/backoff/v5"
)

// errUnchanged lets a mutation report that the stored group already holds the
// requested value, so no write is issued.
var errUnchanged = errors.New("group unchanged")

// mutateGroup applies fn to a fresh copy of the group and writes it back with
// a compare-and-swap on the group version. Lost races re-read and re-apply fn.
func (s *Service) mutateGroup(ctx context.Context, id domain.GroupID, fn func(group *domain.Group, now time.Time) error) (domain.Group, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond
	b.Reset()

	attempt := 0
	group, err := backoff.Retry(ctx, func() (domain.Group, error) {
		attempt++
		current, err := s.store.GetGroup(ctx, id)
		if err != nil {
			return domain.Group{}, backoff.Permanent(err)
		}

		next := current.Clone()
		now := s.clock.Now()
		if err := fn(&next, now); err != nil {
			if errors.Is(err, errUnchanged) {
				return current, nil
			}
			return domain.Group{}, backoff.Permanent(err)
		}
		next.UpdatedAt = &now

		stored, err := s.store.UpdateGroup(ctx, next, current.Version)
		if err != nil {
			if errors.Is(err, domain.ErrVersionConflict) {
				s.logger.Debug("group write lost a race, retrying", "group", id, "attempt", attempt)
				return domain.Group{}, err
			}
			return domain.Group{}, backoff.Permanent(err)
		}

		return stored, nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.conflictRetries+1),
	)
	if err != nil {
		return domain.Group{}, err
	}

	return group, nil
}

func (s *Service) requireMember(group *domain.Group, participantID domain.ParticipantID) error {
	if !group.HasMember(participantID) {
		return fmt.Errorf("%w: %s in %s", domain.ErrNotGroupMember, participantID, group.Name)
	}

	return nil
}

func (s *Service) requireCandidate(choice domain.CandidateID) error {
	if !s.catalog.HasCandidate(choice) {
		return fmt.Errorf("%w: %q", domain.ErrUnknownCandidate, choice)
	}

	return nil
}

// MarkReady records a member's individual choice and flags them ready. The
// choice can change until every member is ready; after that it is frozen.
func (s *Service) MarkReady(ctx context.Context, groupID domain.GroupID, participantID domain.ParticipantID, choice domain.CandidateID) (domain.Group, error) {
	if err := s.requireCandidate(choice); err != nil {
		return domain.Group{}, err
	}

	group, err := s.mutateGroup(ctx, groupID, func(group *domain.Group, now time.Time) error {
		if err := s.requireMember(group, participantID); err != nil {
			return err
		}
		if group.AllReady() {
			if group.Ready[participantID].IndividualChoice == choice {
				return errUnchanged
			}
			return domain.ErrChoicesFrozen
		}
		if entry, ok := group.Ready[participantID]; ok && entry.Ready && entry.IndividualChoice == choice {
			return errUnchanged
		}

		group.Ready[participantID] = domain.Readiness{
			Ready:            true,
			IndividualChoice: choice,
			At:               now,
		}
		return nil
	})
	if err != nil {
		return domain.Group{}, fmt.Errorf("mark ready in group %s: %w", groupID, err)
	}

	s.logger.Info("member ready", "group", groupID, "participant", participantID, "ready", group.ReadyCount(), "members", len(group.Members))
	return group, nil
}

// SubmitGroupDecision records the group's joint choice once every member is ready.
func (s *Service) SubmitGroupDecision(ctx context.Context, groupID domain.GroupID, submittedBy domain.ParticipantID, choice domain.CandidateID) (domain.Group, error) {
	if err := s.requireCandidate(choice); err != nil {
		return domain.Group{}, err
	}

	group, err := s.mutateGroup(ctx, groupID, func(group *domain.Group, now time.Time) error {
		if err := s.requireMember(group, submittedBy); err != nil {
			return err
		}
		if group.Decision != nil {
			if group.Decision.Choice == choice {
				return errUnchanged
			}
			return fmt.Errorf("%w: group decision is %s", domain.ErrAlreadySubmitted, group.Decision.Choice)
		}
		if !group.AllReady() {
			return fmt.Errorf("%w: %d of %d ready", domain.ErrGroupNotReady, group.ReadyCount(), len(group.Members))
		}

		group.Decision = &domain.GroupDecision{
			Choice:      choice,
			SubmittedBy: submittedBy,
			At:          now,
		}
		return nil
	})
	if err != nil {
		return domain.Group{}, fmt.Errorf("submit decision for group %s: %w", groupID, err)
	}

	s.logger.Info("group decision submitted", "group", groupID, "choice", choice)
	return group, nil
}

// ApproveGroupDecision records one member's verdict on the submitted decision.
// The last approval of a unanimous vote finalizes the group and creates its
// Decision record. Repeated calls never create a second record.
func (s *Service) ApproveGroupDecision(ctx context.Context, groupID domain.GroupID, participantID domain.ParticipantID, approved bool) (domain.Group, error) {
	group, err := s.mutateGroup(ctx, groupID, func(group *domain.Group, now time.Time) error {
		if err := s.requireMember(group, participantID); err != nil {
			return err
		}
		if group.Decision == nil {
			return domain.ErrDecisionMissing
		}
		if group.Finalized() {
			if approved {
				return errUnchanged
			}
			return domain.ErrDecisionFinalized
		}
		if current, ok := group.Approvals[participantID]; ok && current == approved {
			return errUnchanged
		}

		group.Approvals[participantID] = approved
		if group.AllApproved() {
			group.FinalizedAt = &now
		}
		return nil
	})
	if err != nil {
		return domain.Group{}, fmt.Errorf("approve decision for group %s: %w", groupID, err)
	}

	if group.Finalized() {
		if err := s.finalizeDecision(ctx, group); err != nil {
			return domain.Group{}, err
		}
	}

	s.logger.Info("group decision vote", "group", groupID, "participant", participantID, "approved", approved, "approvals", group.ApprovalCount())
	return group, nil
}

// finalizeDecision creates the Decision record for a finalized group. The store
// keeps at most one record per group, so a retry after a crash between the
// group write and this insert is safe.
func (s *Service) finalizeDecision(ctx context.Context, group domain.Group) error {
	decision, err := domain.NewDecision(domain.DecisionID(s.newID()), group, *group.FinalizedAt)
	if err != nil {
		return fmt.Errorf("build decision for group %s: %w", group.ID, err)
	}

	_, created, err := s.store.FinalizeDecision(ctx, decision)
	if err != nil {
		return fmt.Errorf("finalize decision for group %s: %w", group.ID, err)
	}
	if created {
		s.logger.Info("group decision finalized", "group", group.ID, "choice", decision.Choice)
	}

	return nil
}

// SubmitGroupRatings stores the group's post-discussion weights for every
// information item.
func (s *Service) SubmitGroupRatings(ctx context.Context, groupID domain.GroupID, submittedBy domain.ParticipantID, ratings map[domain.ItemID]int) (domain.Group, error) {
	if err := s.catalog.ValidateRatings(ratings); err != nil {
		return domain.Group{}, err
	}

	group, err := s.mutateGroup(ctx, groupID, func(group *domain.Group, now time.Time) error {
		if err := s.requireMember(group, submittedBy); err != nil {
			return err
		}
		if group.Ratings != nil {
			if maps.Equal(group.Ratings, ratings) {
				return errUnchanged
			}
			return fmt.Errorf("%w: ratings were submitted by %s", domain.ErrAlreadySubmitted, group.RatingsSubmittedBy)
		}
		if group.Decision == nil {
			return domain.ErrDecisionMissing
		}
		if s.requireApproval && !group.Finalized() {
			return fmt.Errorf("%w: %d of %d approved", domain.ErrApprovalPending, group.ApprovalCount(), len(group.Members))
		}

		group.Ratings = maps.Clone(ratings)
		group.RatingsSubmittedBy = submittedBy
		group.RatingsSubmittedAt = &now
		return nil
	})
	if err != nil {
		return domain.Group{}, fmt.Errorf("submit ratings for group %s: %w", groupID, err)
	}

	s.logger.Info("group ratings submitted", "group", groupID, "items", len(ratings))
	return group, nil
}

func (s *Service) GetGroup(ctx context.Context, id domain.GroupID) (domain.Group, error) {
	group, err := s.store.GetGroup(ctx, id)
	if err != nil {
		return domain.Group{}, fmt.Errorf("get group %s: %w", id, err)
	}

	return group, nil
}

func (s *Service) ListGroups(ctx context.Context, sessionID domain.SessionID) ([]domain.Group, error) {
	groups, err := s.store.ListGroups(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}

	return groups, nil
}

func (s *Service) ListDecisions(ctx context.Context, sessionID domain.SessionID) ([]domain.Decision, error) {
	decisions, err := s.store.ListDecisions(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}

	return decisions, nil
}

// ExportAnalysis aggregates the session's groups and decisions into a report.
func (s *Service) ExportAnalysis(ctx context.Context, sessionID domain.SessionID) (domain.Report, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return domain.Report{}, err
	}

	groups, err := s.ListGroups(ctx, sessionID)
	if err != nil {
		return domain.Report{}, err
	}
	decisions, err := s.ListDecisions(ctx, sessionID)
	if err != nil {
		return domain.Report{}, err
	}

	return domain.Analyze(s.catalog, groups, decisions), nil
}
