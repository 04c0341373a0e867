package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/serp-rank-tracker/internal/runner"
	"github.com/JakeFAU/serp-rank-tracker/internal/server"
)

func newRunCmd() *cobra.Command {
	var (
		projectName string
		pages       int
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs one project in the foreground and writes its report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			var override *int
			if cmd.Flags().Changed("pages") {
				override = &pages
			}
			return runProject(cmd.Context(), e, projectName, override, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&projectName, "project", "p", "", "project name from the projects file")
	cmd.Flags().IntVar(&pages, "pages", 0, "result pages per keyword; overrides the project's depth")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func runProject(ctx context.Context, e *env, name string, pages *int, out io.Writer) error {
	if pages != nil && *pages < 1 {
		return fmt.Errorf("--pages must be at least 1")
	}
	app, err := server.Build(ctx, e.cfg, e.logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := app.Close(context.WithoutCancel(ctx)); cerr != nil {
			e.logger.Warn("close failed", zap.Error(cerr))
		}
	}()

	outcome, err := app.RunOnce(ctx, name, pages, func(processed, total, matches int) {
		fmt.Fprintf(out, "[%d/%d] keywords processed, %d rows\n", processed, total, matches)
	})
	printOutcome(out, outcome)
	if err != nil {
		return fmt.Errorf("run %s: %w", name, err)
	}
	return nil
}

func printOutcome(out io.Writer, o runner.Outcome) {
	if o.Result.RunID == "" {
		return
	}
	c := o.Result.Counters
	fmt.Fprintf(out, "run %s: %s\n", o.Result.RunID, o.Result.Status)
	fmt.Fprintf(out, "  keywords %d/%d, rows %d, target hits %d, failed pages %d\n",
		c.KeywordsProcessed, c.KeywordsTotal, c.Rows, c.TargetHits, c.FailedPages)
	if len(o.Analysis.Lost) > 0 {
		fmt.Fprintf(out, "  lost keywords: %d\n", len(o.Analysis.Lost))
	}
	for _, a := range o.Alerts {
		fmt.Fprintf(out, "  alert %s: %s (%d -> %d keywords)\n", a.Kind, a.Domain, a.Previous, a.Current)
	}
	if o.ReportURI != "" {
		fmt.Fprintf(out, "  report: %s\n", o.ReportURI)
	}
	if o.ReportSHA256 != "" {
		fmt.Fprintf(out, "  sha256: %s\n", o.ReportSHA256)
	}
}
