package telemetry

import (
	"time"

	"github.com/sif-factory/sif/pkg/assets"
	"github.com/sif-factory/sif/pkg/composition"
	"github.com/sif-factory/sif/pkg/engine"
)

// Observer reports executor step transitions to logs, metrics and events.
type Observer struct {
	tel *Telemetry
}

var _ engine.Observer = (*Observer)(nil)

// NewObserver creates an observer backed by tel.
func NewObserver(tel *Telemetry) *Observer {
	return &Observer{tel: tel}
}

// StepTransition implements engine.Observer.
func (o *Observer) StepTransition(job *engine.Job, step *engine.Step, from, to engine.StepStatus) {
	kind := string(step.Kind)
	m := o.tel.Metrics
	m.RecordStepTransition(kind, string(to))

	switch to {
	case engine.StepStatusSucceeded:
		if step.Reused {
			m.RecordFingerprintHit(kind)
		}
		observeStepDuration(m, step, kind, string(to))
	case engine.StepStatusFailed:
		observeStepDuration(m, step, kind, string(to))
	case engine.StepStatusCompensating:
		m.RecordCompensation(kind, "started")
	case engine.StepStatusCompensated:
		m.RecordCompensation(kind, "compensated")
	}

	logger := o.tel.Logger.WithJobID(job.ID).WithStepID(step.ID).WithComponent(step.ComponentID)
	event := logger.zlog.Debug()
	switch to {
	case engine.StepStatusFailed:
		event = logger.zlog.Error().Str("error", step.Error)
	case engine.StepStatusCompensating, engine.StepStatusCompensated:
		event = logger.zlog.Warn()
	case engine.StepStatusSucceeded:
		event = logger.zlog.Info().Bool("reused", step.Reused)
	}
	event.Str("from", string(from)).Str("to", string(to)).Msg("step transition")

	if err := o.tel.Events.PublishStepTransition(job.ID, step.ID, step.ComponentID, string(from), string(to), step.Reused); err != nil {
		logger.WithError(err).Debug("step transition event dropped")
	}
}

func observeStepDuration(m *Metrics, step *engine.Step, kind, status string) {
	if step.StartedAt == nil {
		return
	}
	end := time.Now()
	if step.CompletedAt != nil {
		end = *step.CompletedAt
	}
	m.RecordStepDuration(kind, status, end.Sub(*step.StartedAt))
}

// AssetSynced reports one asset sync decision. It matches the
// assets.Synchronizer OnResult callback.
func (o *Observer) AssetSynced(libraryID string, res assets.SyncResult) {
	o.tel.Metrics.RecordSyncAction(libraryID, string(res.Action))
	reason := ""
	if res.LocalModified {
		reason = "local-modified"
	}
	if err := o.tel.Events.PublishAssetSynced(libraryID, res.Path, string(res.Action), reason); err != nil {
		o.tel.Logger.WithError(err).Debug("asset synced event dropped")
	}
}

// ValidationFailed counts every issue of a failed composition validation.
func (o *Observer) ValidationFailed(err error) {
	for _, issue := range composition.Issues(err) {
		o.tel.Metrics.RecordValidationFailure(issue.Code)
	}
}
