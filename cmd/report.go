package cmd

import (
	"fmt"
	"io"

	tomlrepo "github.com/bnema/hiddenprofile/internal/adapters/repo/toml"
	"github.com/bnema/hiddenprofile/internal/domain"
	"github.com/spf13/cobra"
)

func newReportCmd(app *app) *cobra.Command {
	var sessionID, outPath string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Export the session analysis",
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
			report, err := app.service.ExportAnalysis(cmd.Context(), id)
			if err != nil {
				return err
			}

			if outPath != "" {
				writer, err := tomlrepo.NewReportWriter(outPath)
				if err != nil {
					return fmt.Errorf("prepare report file: %w", err)
				}
				if err := writer.Write(cmd.Context(), session, report, app.now()); err != nil {
					return fmt.Errorf("write report: %w", err)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Report written to %s\n", writer.Path())
				return nil
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), report)
			}

			writeReport(cmd.OutOrStdout(), app.service.Catalog(), session, report)
			return nil
		},
	}

	addSessionFlag(cmd, &sessionID)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	cmd.Flags().StringVar(&outPath, "out", "", "Write the report to a TOML file")
	cmd.MarkFlagsMutuallyExclusive("json", "out")

	return cmd
}

func writeReport(w io.Writer, catalog domain.Catalog, session domain.Session, report domain.Report) {
	_, _ = fmt.Fprintf(w, "session: %s (%s)\n", session.Name, session.ID)
	_, _ = fmt.Fprintf(w, "groups: %d  decisions: %d  completion: %.0f%%\n", report.GroupCount, report.DecisionCount, report.CompletionRate*100)
	if report.MostChosen != "" {
		_, _ = fmt.Fprintf(w, "most chosen: %s\n", catalog.CandidateName(report.MostChosen))
	}

	_, _ = fmt.Fprintln(w, "\nindividual choices:")
	for _, count := range report.IndividualChoices {
		_, _ = fmt.Fprintf(w, "  %s\t%d\n", count.Name, count.Count)
	}

	_, _ = fmt.Fprintln(w, "\ngroup decisions:")
	for _, choice := range report.GroupChoices {
		approved := ""
		if choice.Approved {
			approved = " (approved)"
		}
		_, _ = fmt.Fprintf(w, "  %s\t%s%s\n", choice.GroupName, choice.ChoiceName, approved)
	}

	_, _ = fmt.Fprintln(w, "\nweights (shared / unique / bias):")
	for _, weight := range report.Weights {
		_, _ = fmt.Fprintf(w, "  %s\t%.2f / %.2f / %+.2f\n", weight.GroupName, weight.MeanShared, weight.MeanUnique, weight.Bias)
	}
}
