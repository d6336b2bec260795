package commands

import (
	"github.com/fatih/color"

	"github.com/sif-factory/sif/pkg/assets"
	"github.com/sif-factory/sif/pkg/engine"
)

var (
	styleGood    = color.New(color.FgGreen).SprintFunc()
	styleBad     = color.New(color.FgRed).SprintFunc()
	styleBusy    = color.New(color.FgYellow).SprintFunc()
	styleNeutral = color.New(color.FgHiBlack).SprintFunc()
)

// statusText colors a job or step status. Every status gets a color so
// tabwriter columns stay aligned.
func statusText(status string) string {
	switch status {
	case string(engine.StepStatusSucceeded), string(engine.JobStatusCompensated):
		return styleGood(status)
	case string(engine.StepStatusFailed):
		return styleBad(status)
	case string(engine.StepStatusRunning), string(engine.StepStatusCompensating):
		return styleBusy(status)
	default:
		return styleNeutral(status)
	}
}

func actionText(action assets.SyncAction) string {
	switch action {
	case assets.ActionCreated, assets.ActionOverwritten:
		return styleGood(string(action))
	case assets.ActionConflict:
		return styleBad(string(action))
	default:
		return styleNeutral(string(action))
	}
}

func checkMark(ok bool) string {
	if ok {
		return styleGood("✓")
	}
	return styleBad("✗")
}
