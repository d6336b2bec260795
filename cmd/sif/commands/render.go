package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRenderCommand() *cobra.Command {
	var (
		target string
		sets   []string
		write  bool
		stored bool
	)

	cmd := &cobra.Command{
		Use:   "render <composition>",
		Short: "Render a content composition",
		Long: `Render a composition of ordered segments.

The content catalog is validated first. Without --write the rendered
content is printed; with --write it replaces the composition's target file
in the project, keeping a backup of the previous file under .sif/backups.`,
		Example: `  # Print a composition
  sif render guide --set language=go

  # Render from the catalog published to the state database
  sif render guide --stored

  # Write it into a project
  sif render guide --write --target ./myproject`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			vars, err := parseSets(sets)
			if err != nil {
				return err
			}

			e, err := openEnv(ctx, envOptions{storedContent: stored})
			if err != nil {
				return err
			}
			defer e.close()

			if write {
				out, backup, err := e.orch.RenderTo(ctx, args[0], target, vars)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(out)
				}
				fmt.Printf("Wrote %s (%d segment(s), checksum %s)\n", out.TargetFile, len(out.Segments), out.Checksum[:12])
				fmt.Printf("Backup: %s\n", backup)
				return nil
			}

			out, err := e.orch.Render(ctx, args[0], vars)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(map[string]interface{}{"rendered": out, "content": out.Content})
			}
			fmt.Print(out.Content)
			return nil
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", ".", "target project directory for --write")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "render variable (key=value, repeatable)")
	cmd.Flags().BoolVar(&write, "write", false, "write the composition into the target project")
	cmd.Flags().BoolVar(&stored, "stored", false, "render from the catalog published to the state database")

	return cmd
}
