package cmd

import (
	"fmt"

	boardadapter "github.com/bnema/hiddenprofile/internal/adapters/render/board"
	"github.com/bnema/hiddenprofile/internal/application"
	"github.com/spf13/cobra"
)

func newStatusCmd(app *app) *cobra.Command {
	var sessionID string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the instructor board for a session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := app.resolveSession(cmd.Context(), sessionID)
			if err != nil {
				return err
			}
			board, err := app.service.Board(cmd.Context(), id)
			if err != nil {
				return err
			}

			return writeBoardOutput(cmd, app, board, asJSON)
		},
	}

	addSessionFlag(cmd, &sessionID)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")

	return cmd
}

func writeBoardOutput(cmd *cobra.Command, app *app, board application.Board, asJSON bool) error {
	if asJSON {
		return writeJSON(cmd.OutOrStdout(), board)
	}

	rendered, err := app.boardRenderer(board, boardadapter.RenderOptions{
		Now:     app.now(),
		Catalog: app.service.Catalog(),
	})
	if err != nil {
		return fmt.Errorf("render board: %w", err)
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
	return err
}
