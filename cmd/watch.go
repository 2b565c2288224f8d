package cmd

import (
	"context"
	"errors"

	boardadapter "github.com/bnema/hiddenprofile/internal/adapters/render/board"
	"github.com/bnema/hiddenprofile/internal/application"
	"github.com/bnema/hiddenprofile/internal/domain"
	"github.com/bnema/hiddenprofile/internal/feed"
	"github.com/spf13/cobra"
)

func newWatchCmd(app *app) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the instructor board live",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := app.resolveSession(cmd.Context(), sessionID)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			app.follow(ctx)

			updates := followBoard(ctx, app.notifier, app.service.Catalog(), id, app.service.RequireApproval())
			return boardadapter.Watch(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), updates, boardadapter.RenderOptions{
				Catalog: app.service.Catalog(),
			})
		},
	}

	addSessionFlag(cmd, &sessionID)

	return cmd
}

var errSessionGone = errors.New("session no longer exists")

// followBoard merges the four session feeds into board updates. Nothing is
// sent until every feed delivered its first snapshot. A slow reader only
// ever receives the newest board.
func followBoard(ctx context.Context, notifier *feed.Notifier, catalog domain.Catalog, sessionID domain.SessionID, requireApproval bool) <-chan boardadapter.Update {
	feeds := notifier.SubscribeSession(ctx, sessionID)
	out := make(chan boardadapter.Update, 1)

	go func() {
		defer close(out)
		defer feeds.Close()

		var (
			session      domain.Session
			participants []domain.Participant
			groups       []domain.Group
			decisions    []domain.Decision
			stale        [4]bool
			errs         [4]error
			seen         [4]bool
		)

		for {
			select {
			case <-ctx.Done():
				return
			case snapshot, ok := <-feeds.Session.C():
				if !ok {
					return
				}
				seen[0], stale[0], errs[0] = true, snapshot.Stale, snapshot.Err
				if len(snapshot.Items) == 0 {
					stale[0], errs[0] = true, errSessionGone
				} else {
					session = snapshot.Items[0]
				}
			case snapshot, ok := <-feeds.Participants.C():
				if !ok {
					return
				}
				seen[1], stale[1], errs[1] = true, snapshot.Stale, snapshot.Err
				participants = snapshot.Items
			case snapshot, ok := <-feeds.Groups.C():
				if !ok {
					return
				}
				seen[2], stale[2], errs[2] = true, snapshot.Stale, snapshot.Err
				groups = snapshot.Items
			case snapshot, ok := <-feeds.Decisions.C():
				if !ok {
					return
				}
				seen[3], stale[3], errs[3] = true, snapshot.Stale, snapshot.Err
				decisions = snapshot.Items
			}

			if seen != [4]bool{true, true, true, true} {
				continue
			}

			update := boardadapter.Update{
				Board: application.BuildBoard(catalog, session, participants, groups, decisions, requireApproval),
				Stale: stale != [4]bool{},
				Err:   errors.Join(errs[:]...),
			}
			select {
			case out <- update:
			default:
				select {
				case <-out:
				default:
				}
				out <- update
			}
		}
	}()

	return out
}
