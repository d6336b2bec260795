package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sif-factory/sif/pkg/telemetry"
)

func newResumeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume <job-id>",
		Short: "Continue an interrupted job",
		Long: `Continue a job that stopped before finishing, for example because the
process was killed.

The journal decides where each step stands. Steps that had succeeded are
kept, steps caught mid-run are run again, and a job that had started
compensating finishes compensating. Finished jobs are shown unchanged.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx, envOptions{})
			if err != nil {
				return err
			}
			defer e.close()

			if !jsonOutput {
				e.tel.Events.Subscribe(printProgress, telemetry.FilterByJobID(args[0]))
			}

			log.Info().Str("job_id", args[0]).Msg("Resuming job")
			job, err := e.orch.Resume(ctx, args[0])
			if job == nil {
				return err
			}
			return reportJob(job)
		},
	}

	return cmd
}
