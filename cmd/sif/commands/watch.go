package commands

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sif-factory/sif/pkg/assets"
	"github.com/sif-factory/sif/pkg/engine"
)

func newWatchCommand() *cobra.Command {
	var (
		target string
		delay  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-sync libraries into a project when they change",
		Long: `Watch every library of the catalog and synchronize a library into the
target project whenever its files change. Conflicts are reported and left
alone. Stop with Ctrl+C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx, envOptions{})
			if err != nil {
				return err
			}
			defer e.close()

			w := assets.NewWatcher(e.orch.Libraries(), delay, log.Logger)
			return w.Watch(ctx, func(ctx context.Context, libraryID string) error {
				results, err := e.orch.Sync(ctx, libraryID, target, assets.SyncOptions{})
				if err != nil && !engine.IsConflict(err) {
					return err
				}
				counts := assets.Summarize(results)
				log.Info().
					Str("library", libraryID).
					Int("created", counts[assets.ActionCreated]).
					Int("overwritten", counts[assets.ActionOverwritten]).
					Int("conflicts", counts[assets.ActionConflict]).
					Msg("Library synced")
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", ".", "target project directory")
	cmd.Flags().DurationVar(&delay, "delay", 500*time.Millisecond, "quiet period before a change is synced")

	return cmd
}
