package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

func Execute(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "hp",
		Short:         "Hidden profile (hp): run group decision sessions",
		Long:          "hp runs hidden profile classroom sessions: participants join, get split into groups of 3-5 with partially different information, agree on a candidate, and rate how much each piece of information weighed.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	app, err := wireApp()
	if err != nil {
		rootCmd.RunE = func(_ *cobra.Command, _ []string) error {
			return err
		}
		return rootCmd
	}
	rootCmd.PersistentPostRunE = func(_ *cobra.Command, _ []string) error {
		return app.close()
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newSessionCmd(app),
		newJoinCmd(app),
		newStartCmd(app),
		newViewCmd(app),
		newReadyCmd(app),
		newDecideCmd(app),
		newApproveCmd(app),
		newRateCmd(app),
		newReportCmd(app),
		newStatusCmd(app),
		newWatchCmd(app),
		newServeCmd(app),
		newResetCmd(app),
		newCatalogCmd(app),
	)

	return rootCmd
}
