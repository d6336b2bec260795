// Package telemetry provides observability for sif: structured logging
// with zerolog, tracing with OpenTelemetry, Prometheus metrics and an
// in-process event stream.
//
// # Quick Start
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx := tel.WithContext(context.Background())
//
// # Jobs and Steps
//
// WithJobContext and EndJobContext bracket a job run. They open a job span,
// scope the logger to the job, count the job and publish job events.
//
// Observer implements engine.Observer. Attach it to the executor to count
// step transitions, fingerprint reuse and compensations:
//
//	exec := engine.NewExecutor(cfg, actions, store, store).
//	    WithObserver(telemetry.NewObserver(tel)).
//	    WithTracer(tel.Tracer)
//
// With the tracer attached, every forward action runs in a step.<kind> span
// and every compensating action in a compensate.<kind> span.
//
// The same observer also receives asset sync decisions:
//
//	sync.OnResult(observer.AssetSynced)
//
// # Events
//
// Subscribers receive events in publish order. The CLI uses this to print
// progress:
//
//	tel.Events.Subscribe(func(e telemetry.Event) {
//	    fmt.Println(e.Message)
//	}, telemetry.FilterByType(telemetry.EventTypeStepTransition))
//
// # Metrics
//
// All metrics live in a private registry under the "sif" namespace:
//
//   - sif_jobs_started_total{policy}
//   - sif_jobs_completed_total{status}
//   - sif_job_duration_seconds{status}
//   - sif_step_transitions_total{kind,status}
//   - sif_step_duration_seconds{kind,status}
//   - sif_fingerprint_hits_total{kind}
//   - sif_compensations_total{kind,outcome}
//   - sif_sync_actions_total{library,action}
//   - sif_validation_failures_total{code}
//   - sif_errors_by_class_total{class}
//   - sif_errors_by_code_total{code}
//   - sif_active_jobs
//
// They are served on Metrics.ListenAddress when it is set.
package telemetry
