package cmd

import (
	"context"
	"fmt"

	"github.com/bnema/hiddenprofile/internal/adapters/httpapi"
	"github.com/spf13/cobra"
)

const instructorTokenKey = "api/instructor_token"

func newServeCmd(app *app) *cobra.Command {
	var listen string
	var showToken bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and live feeds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			token, created, err := app.secretStore.GetOrCreate(cmd.Context(), instructorTokenKey, httpapi.NewToken)
			if err != nil {
				return fmt.Errorf("load instructor token: %w", err)
			}

			out := cmd.OutOrStdout()
			if created || showToken {
				_, _ = fmt.Fprintf(out, "instructor token: %s\n", token)
			}
			if listen == "" {
				listen = app.cfg.ServerListen
			}
			_, _ = fmt.Fprintf(out, "listening on http://%s\n", listen)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			app.follow(ctx)
			app.maintain(ctx)

			server := httpapi.NewServer(app.service, app.notifier, token,
				httpapi.WithLogger(app.logger),
			)
			return server.ListenAndServe(ctx, listen)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (defaults to server.listen)")
	cmd.Flags().BoolVar(&showToken, "show-token", false, "Print the stored instructor token")

	return cmd
}
