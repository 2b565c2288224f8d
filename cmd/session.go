package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/bnema/hiddenprofile/internal/domain"
	"github.com/spf13/cobra"
)

func newSessionCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Create and inspect sessions",
	}

	cmd.AddCommand(
		newSessionCreateCmd(app),
		newSessionShowCmd(app),
		newSessionParticipantsCmd(app),
		newSessionGroupsCmd(app),
	)

	return cmd
}

func newSessionCreateCmd(app *app) *cobra.Command {
	var name, createdBy string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a new session and close the active one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			session, err := app.service.CreateSession(cmd.Context(), domain.SessionMeta{Name: name, CreatedBy: createdBy})
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created session %s (%s)\n", session.Name, session.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Session name (defaults to the creation time)")
	cmd.Flags().StringVar(&createdBy, "created-by", "", "Who opened the session")

	return cmd
}

func newSessionShowCmd(app *app) *cobra.Command {
	var sessionID string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a session, the active one by default",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := app.resolveSession(cmd.Context(), sessionID)
			if err != nil {
				return err
			}
			session, err := app.service.GetSession(cmd.Context(), id)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), session)
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "id: %s\n", session.ID)
			_, _ = fmt.Fprintf(out, "name: %s\n", session.Name)
			_, _ = fmt.Fprintf(out, "status: %s\n", session.Status)
			_, _ = fmt.Fprintf(out, "stage: %s\n", session.CurrentStage)
			_, _ = fmt.Fprintf(out, "created: %s by %s\n", session.CreatedAt.Local().Format("2006-01-02 15:04"), session.CreatedBy)
			return nil
		},
	}

	addSessionFlag(cmd, &sessionID)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")

	return cmd
}

func newSessionParticipantsCmd(app *app) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "participants",
		Short: "List participants in join order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := app.resolveSession(cmd.Context(), sessionID)
			if err != nil {
				return err
			}
			participants, err := app.service.ListParticipants(cmd.Context(), id)
			if err != nil {
				return err
			}

			for _, participant := range participants {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", participant.ID, participant.Name)
			}
			return nil
		},
	}

	addSessionFlag(cmd, &sessionID)

	return cmd
}

func newSessionGroupsCmd(app *app) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "groups",
		Short: "List groups with their members",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := app.resolveSession(cmd.Context(), sessionID)
			if err != nil {
				return err
			}
			groups, err := app.service.ListGroups(cmd.Context(), id)
			if err != nil {
				return err
			}

			writeGroups(cmd.OutOrStdout(), groups)
			return nil
		},
	}

	addSessionFlag(cmd, &sessionID)

	return cmd
}

func addSessionFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVar(target, "session", "", "Session id (defaults to the active session)")
}

func writeGroups(w io.Writer, groups []domain.Group) {
	for _, group := range groups {
		members := make([]string, 0, len(group.Members))
		for _, member := range group.Members {
			members = append(members, fmt.Sprintf("%s [%s] (%s)", member.Name, member.Variant, member.ID))
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", group.ID, group.Name, strings.Join(members, ", "))
	}
}

func writeJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
