package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sif-factory/sif/pkg/assets"
	"github.com/sif-factory/sif/pkg/engine"
)

func newSyncCommand() *cobra.Command {
	var (
		target         string
		dryRun         bool
		failOnConflict bool
	)

	cmd := &cobra.Command{
		Use:   "sync <library>",
		Short: "Synchronize a reuse library into a project",
		Long: `Copy a reuse library's files into a project using checksums.

Files unchanged in the library are left alone. Library changes overwrite
project files that were not edited locally; files edited on both sides are
reported as conflicts and never overwritten.`,
		Example: `  # Preview what would change
  sif sync core --target ./myproject --dry-run

  # Sync and fail when anything conflicts
  sif sync core --fail-on-conflict`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx, envOptions{})
			if err != nil {
				return err
			}
			defer e.close()

			results, err := e.orch.Sync(ctx, args[0], target, assets.SyncOptions{
				DryRun:         dryRun,
				FailOnConflict: failOnConflict,
			})
			if err != nil && !engine.IsConflict(err) {
				return err
			}
			if jsonOutput {
				if perr := printJSON(results); perr != nil {
					return perr
				}
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PATH\tACTION\tNOTE")
			for _, r := range results {
				note := ""
				switch {
				case r.Deleted:
					note = "deleted locally"
				case r.LocalModified:
					note = "modified locally"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", r.Path, actionText(r.Action), note)
			}
			_ = w.Flush()

			counts := assets.Summarize(results)
			fmt.Printf("\n%d created, %d overwritten, %d unchanged, %d conflict(s)\n",
				counts[assets.ActionCreated], counts[assets.ActionOverwritten],
				counts[assets.ActionNoop], counts[assets.ActionConflict])
			return err
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", ".", "target project directory")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report decisions without writing")
	cmd.Flags().BoolVar(&failOnConflict, "fail-on-conflict", false, "exit with an error when any file conflicts")

	return cmd
}
