package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/serp-rank-tracker/internal/project"
)

func newProjectsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "Lists or deletes project definitions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Lists the configured projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := projectStore(cmd)
			if err != nil {
				return err
			}
			projects, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tLOCATION\tKEYWORDS\tTARGETS")
			for _, p := range projects {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", p.Name, p.Location, len(p.Keywords), strings.Join(p.TargetDomains, ","))
			}
			return w.Flush()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete NAME",
		Short: "Removes a project from the projects file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := projectStore(cmd)
			if err != nil {
				return err
			}
			if err := store.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted project %s\n", args[0])
			return nil
		},
	})
	return cmd
}

func projectStore(cmd *cobra.Command) (*project.FileStore, error) {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return nil, err
	}
	return project.NewFileStore(e.cfg.Projects.File)
}
