package commands

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sif-factory/sif/pkg/engine"
	"github.com/sif-factory/sif/pkg/orchestrator"
	"github.com/sif-factory/sif/pkg/telemetry"
)

func newSubmitCommand() *cobra.Command {
	var (
		target     string
		sets       []string
		configFile string
		policy     string
		withDeps   bool
		planOnly   bool
	)

	cmd := &cobra.Command{
		Use:   "submit <component>...",
		Short: "Provision components into a project",
		Long: `Provision the given components into a target project.

The components are resolved into dependency order and expanded into steps.
Unknown components, dependency cycles and invalid compositions are rejected
before anything runs. Only one job may run per target at a time.

When a step fails, the steps that already succeeded are compensated in
reverse order. With --policy degrade only the failed step's connected
components are compensated and the rest are kept.`,
		Example: `  # Install two components into the current directory
  sif submit core lint

  # Pull in catalog dependencies automatically
  sif submit lint --with-deps --target ./myproject

  # Pass configuration used by actions and compositions
  sif submit core --set language=go --set strict=true

  # Show the plan without running it
  sif submit core lint --plan`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfigFile(configFile)
			if err != nil {
				return err
			}
			overrides, err := parseSets(sets)
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = overrides
			} else {
				for k, v := range overrides {
					cfg[k] = v
				}
			}

			e, err := openEnv(ctx, envOptions{})
			if err != nil {
				return err
			}
			defer e.close()

			req := orchestrator.Request{
				TargetPath:          target,
				Components:          args,
				Config:              cfg,
				Policy:              engine.FailurePolicy(policy),
				IncludeDependencies: withDeps,
			}

			if planOnly {
				job, err := e.orch.Plan(ctx, req)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(job)
				}
				printSteps(job)
				return nil
			}

			if !jsonOutput {
				e.tel.Events.Subscribe(printProgress, telemetry.FilterByType(telemetry.EventTypeStepTransition))
			}

			log.Info().Str("target", target).Strs("components", args).Msg("Submitting job")
			id, err := e.orch.Submit(ctx, req)
			if err != nil {
				return err
			}
			job, err := e.orch.Wait(ctx, id)
			if err != nil {
				return err
			}
			return reportJob(job)
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", ".", "target project directory")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "configuration value (key=value, repeatable)")
	cmd.Flags().StringVarP(&configFile, "config-file", "f", "", "YAML or JSON configuration file")
	cmd.Flags().StringVar(&policy, "policy", "", "failure policy: abort or degrade (default from catalog)")
	cmd.Flags().BoolVar(&withDeps, "with-deps", false, "include catalog dependencies of the selected components")
	cmd.Flags().BoolVar(&planOnly, "plan", false, "print the plan without running it")

	return cmd
}

func printProgress(ev telemetry.Event) {
	fmt.Fprintf(os.Stderr, "  %s\n", ev.Message)
}

// reportJob prints a finished job and returns its failure, if any.
func reportJob(job *engine.Job) error {
	if jsonOutput {
		if err := printJSON(job); err != nil {
			return err
		}
	} else {
		fmt.Printf("Job %s: %s\n\n", job.ID, statusText(string(job.Status)))
		printSteps(job)
		if c := job.Compensation; c != nil {
			fmt.Printf("\nCompensated: %v\n", c.Compensated)
			if c.Degraded() {
				fmt.Printf("Could not compensate: %v\n", c.Uncompensated)
			}
			if len(c.NotStarted) > 0 {
				fmt.Printf("Not started: %v\n", c.NotStarted)
			}
		}
	}
	if job.Status != engine.JobStatusSucceeded {
		return &engine.JobFailure{JobID: job.ID, Cause: errors.New(job.Error), Compensation: compensationOf(job)}
	}
	return nil
}

func compensationOf(job *engine.Job) engine.CompensationReport {
	if job.Compensation == nil {
		return engine.CompensationReport{}
	}
	return *job.Compensation
}

func printSteps(job *engine.Job) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tSTEP\tKIND\tSTATUS\tREUSED\tRETRIES")
	for _, s := range job.Steps {
		status := string(s.Status)
		if status == "" {
			status = string(engine.StepStatusPending)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%v\t%d\n", s.Sequence, s.ComponentID, s.Kind, statusText(status), s.Reused, s.Retries)
	}
	_ = w.Flush()
}
