package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sif-factory/sif/pkg/composition"
)

func newValidateCommand() *cobra.Command {
	var publish bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the catalog",
		Long: `Validate the catalog file and its content.

This command checks:
  - Catalog syntax and field values
  - Component dependencies resolve and are acyclic
  - Referenced libraries and compositions exist
  - The content DAG resolves, is acyclic and matches declared checksums
  - Every composition references existing segments and keeps required ones

With --publish the validated catalog is also stored in the state database.`,
		Example: `  # Validate the default catalog
  sif validate

  # Validate and publish
  sif validate --catalog ./catalog.yaml --publish`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx, envOptions{})
			if err != nil {
				return err
			}
			defer e.close()

			if err := e.orch.Validate(ctx); err != nil {
				for _, issue := range composition.Issues(err) {
					fmt.Printf("%s %s: %s\n", checkMark(false), issue.Code, issue.Message)
				}
				return err
			}
			fmt.Printf("%s Catalog %s is valid (%d components, %d libraries, %d compositions)\n",
				checkMark(true), e.catalog.Path, len(e.catalog.Components), len(e.catalog.Libraries), len(e.catalog.Content.Compositions))

			if publish {
				if err := e.orch.PublishCatalog(ctx); err != nil {
					return err
				}
				log.Info().Str("db", dbPath).Msg("Catalog published")
				fmt.Printf("%s Published to %s\n", checkMark(true), dbPath)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&publish, "publish", false, "store the validated catalog in the state database")

	return cmd
}
