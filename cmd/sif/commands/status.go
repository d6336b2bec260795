package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	var (
		target string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "status [job-id]",
		Short: "Show a job or list recent jobs",
		Example: `  # Show one job with its steps
  sif status 3f0c...

  # List recent jobs of a project
  sif status --target ./myproject`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx, envOptions{})
			if err != nil {
				return err
			}
			defer e.close()

			if len(args) == 1 {
				job, err := e.orch.Status(ctx, args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(job)
				}
				fmt.Printf("Job %s: %s\nTarget: %s\nCreated: %s\n", job.ID, statusText(string(job.Status)), job.TargetPath, job.CreatedAt.Format(time.RFC3339))
				if job.Error != "" {
					fmt.Printf("Error: %s\n", job.Error)
				}
				fmt.Println()
				printSteps(job)
				return nil
			}

			jobs, err := e.orch.Jobs(ctx, target, limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(jobs)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tTARGET\tCOMPONENTS\tCREATED")
			for _, j := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\n", j.ID, statusText(string(j.Status)), j.TargetPath, j.Components, j.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "", "only list jobs of this project")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of jobs to list")

	return cmd
}
