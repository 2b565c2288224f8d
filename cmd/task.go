package cmd

import (
	"fmt"
	"strings"

	"github.com/bnema/hiddenprofile/internal/domain"
	"github.com/spf13/cobra"
)

func newJoinCmd(app *app) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "join <name>",
		Short: "Join a session as a participant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := app.resolveSession(cmd.Context(), sessionID)
			if err != nil {
				return err
			}
			participant, err := app.service.JoinSession(cmd.Context(), id, args[0])
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Joined as %s (%s)\n", participant.Name, participant.ID)
			return nil
		},
	}

	addSessionFlag(cmd, &sessionID)

	return cmd
}

func newStartCmd(app *app) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Form groups and start the task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := app.resolveSession(cmd.Context(), sessionID)
			if err != nil {
				return err
			}
			groups, err := app.service.StartTask(cmd.Context(), id)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Started task with %d groups\n", len(groups))
			writeGroups(cmd.OutOrStdout(), groups)
			return nil
		},
	}

	addSessionFlag(cmd, &sessionID)

	return cmd
}

func newViewCmd(app *app) *cobra.Command {
	var sessionID, participantID string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "view",
		Short: "Show what a participant currently sees",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := app.resolveSession(cmd.Context(), sessionID)
			if err != nil {
				return err
			}
			view, err := app.service.ParticipantView(cmd.Context(), id, domain.ParticipantID(participantID))
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), view)
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "participant: %s\n", view.Participant.Name)
			_, _ = fmt.Fprintf(out, "stage: %s\n", view.Stage)
			if view.Group == nil {
				return nil
			}
			_, _ = fmt.Fprintf(out, "group: %s (%s)\n", view.Group.Name, view.Group.ID)

			catalog := app.service.Catalog()
			current := domain.CandidateID("")
			for _, item := range view.Items {
				if item.Candidate != current {
					current = item.Candidate
					_, _ = fmt.Fprintf(out, "\n%s\n", catalog.CandidateName(current))
				}
				_, _ = fmt.Fprintf(out, "  - %s\n", item.Label)
			}
			return nil
		},
	}

	addSessionFlag(cmd, &sessionID)
	cmd.Flags().StringVar(&participantID, "participant", "", "Participant id")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	_ = cmd.MarkFlagRequired("participant")

	return cmd
}

type groupActionFlags struct {
	groupID       string
	participantID string
}

func (f *groupActionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.groupID, "group", "", "Group id")
	cmd.Flags().StringVar(&f.participantID, "participant", "", "Acting participant id")
	_ = cmd.MarkFlagRequired("group")
	_ = cmd.MarkFlagRequired("participant")
}

func newReadyCmd(app *app) *cobra.Command {
	var flags groupActionFlags
	var choice string

	cmd := &cobra.Command{
		Use:   "ready",
		Short: "Record a member's individual choice and mark them ready",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			group, err := app.service.MarkReady(cmd.Context(), domain.GroupID(flags.groupID), domain.ParticipantID(flags.participantID), domain.CandidateID(choice))
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %d/%d ready\n", group.Name, group.ReadyCount(), len(group.Members))
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&choice, "choice", "", "Candidate id")
	_ = cmd.MarkFlagRequired("choice")

	return cmd
}

func newDecideCmd(app *app) *cobra.Command {
	var flags groupActionFlags
	var choice string

	cmd := &cobra.Command{
		Use:   "decide",
		Short: "Submit the group's joint decision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			group, err := app.service.SubmitGroupDecision(cmd.Context(), domain.GroupID(flags.groupID), domain.ParticipantID(flags.participantID), domain.CandidateID(choice))
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s decided on %s\n", group.Name, app.service.Catalog().CandidateName(group.Decision.Choice))
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&choice, "choice", "", "Candidate id")
	_ = cmd.MarkFlagRequired("choice")

	return cmd
}

func newApproveCmd(app *app) *cobra.Command {
	var flags groupActionFlags
	var reject bool

	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Approve or reject the group's submitted decision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			group, err := app.service.ApproveGroupDecision(cmd.Context(), domain.GroupID(flags.groupID), domain.ParticipantID(flags.participantID), !reject)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "%s: %d/%d approved\n", group.Name, group.ApprovalCount(), len(group.Members))
			if group.Finalized() {
				_, _ = fmt.Fprintln(out, "decision finalized")
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&reject, "reject", false, "Reject instead of approve")

	return cmd
}

func newRateCmd(app *app) *cobra.Command {
	var flags groupActionFlags
	var ratings map[string]int

	cmd := &cobra.Command{
		Use:   "rate",
		Short: "Submit the group's weight for every information item",
		Long:  "Submit the group's weight for every information item, e.g. --rating candidate_a_shared_0=7 --rating candidate_a_v1_0=3. Run `hp catalog` for item ids.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			weights := make(map[domain.ItemID]int, len(ratings))
			for id, weight := range ratings {
				weights[domain.ItemID(strings.TrimSpace(id))] = weight
			}

			group, err := app.service.SubmitGroupRatings(cmd.Context(), domain.GroupID(flags.groupID), domain.ParticipantID(flags.participantID), weights)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s rated %d items\n", group.Name, len(group.Ratings))
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringToIntVar(&ratings, "rating", nil, "Item weight as item=weight, repeatable")
	_ = cmd.MarkFlagRequired("rating")

	return cmd
}
