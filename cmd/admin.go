package cmd

import (
	"errors"
	"fmt"

	"github.com/bnema/hiddenprofile/internal/domain"
	"github.com/spf13/cobra"
)

func newResetCmd(app *app) *cobra.Command {
	var confirmed bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every session, participant, group and decision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := app.service.ResetAllData(cmd.Context(), confirmed)
			if errors.Is(err, domain.ErrConfirmationNeeded) {
				return fmt.Errorf("%w: pass --yes", err)
			}
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "All data deleted")
			return nil
		},
	}

	cmd.Flags().BoolVar(&confirmed, "yes", false, "Confirm deleting all data")

	return cmd
}

func newCatalogCmd(app *app) *cobra.Command {
	var variant string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List candidates and information items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			catalog := app.service.Catalog()
			items := catalog.Items
			if variant != "" {
				items = catalog.ItemsFor(domain.Variant(variant))
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), items)
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "ratings: %d..%d\n", catalog.RatingMin, catalog.RatingMax)
			for _, candidate := range catalog.Candidates {
				_, _ = fmt.Fprintf(out, "\n%s (%s)\n", candidate.Name, candidate.ID)
				for _, item := range items {
					if item.Candidate != candidate.ID {
						continue
					}
					scope := "shared"
					if !item.Shared {
						scope = string(item.Variant)
					}
					_, _ = fmt.Fprintf(out, "  %-24s %-6s %s\n", item.ID, scope, item.Label)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&variant, "variant", "", "Only items visible to this information variant (v1, v2, v3)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")

	return cmd
}
