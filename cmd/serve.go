package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/serp-rank-tracker/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Starts the HTTP API, the run workers and the scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			app, err := server.Build(cmd.Context(), e.cfg, e.logger)
			if err != nil {
				return err
			}
			return app.Serve(cmd.Context())
		},
	}
}
