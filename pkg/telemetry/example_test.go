package telemetry_test

import (
	"context"
	"fmt"

	"github.com/sif-factory/sif/pkg/engine"
	"github.com/sif-factory/sif/pkg/telemetry"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = "1.0.0"
	cfg.Metrics.ListenAddress = "" // collect without serving

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	logger := telemetry.FromContext(ctx)
	logger.WithJobID("job-123").Info("Application started")
}

// Example_progressEvents demonstrates printing step progress from events.
func Example_progressEvents() {
	cfg := telemetry.DefaultConfig()
	cfg.Events.EnableAsync = false
	cfg.Logging.Level = "error"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	tel.Events.Subscribe(func(e telemetry.Event) {
		fmt.Println(e.Message)
	}, telemetry.FilterByType(telemetry.EventTypeStepTransition))

	job := &engine.Job{ID: "job-1"}
	step := &engine.Step{ID: "job-1:core:install", ComponentID: "core", Kind: engine.StepKindInstall}

	observer := telemetry.NewObserver(tel)
	observer.StepTransition(job, step, engine.StepStatusPending, engine.StepStatusRunning)
	step.Reused = true
	observer.StepTransition(job, step, engine.StepStatusRunning, engine.StepStatusSucceeded)

	// Output:
	// job-1:core:install: pending -> running
	// job-1:core:install: running -> succeeded (reused)
}
