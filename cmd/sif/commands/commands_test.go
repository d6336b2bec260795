package commands

import (
	"errors"
	"testing"

	"github.com/sif-factory/sif/pkg/engine"
)

func TestParseSets(t *testing.T) {
	got, err := parseSets([]string{"language=go", "strict=true", "level=3", "name=", "path=a=b"})
	if err != nil {
		t.Fatalf("parseSets: %v", err)
	}
	if got["language"] != "go" {
		t.Errorf("language = %v, want go", got["language"])
	}
	if got["strict"] != true {
		t.Errorf("strict = %v, want true", got["strict"])
	}
	if got["level"] != 3 {
		t.Errorf("level = %v (%T), want 3", got["level"], got["level"])
	}
	if got["name"] != "" {
		t.Errorf("name = %v, want empty string", got["name"])
	}
	if got["path"] != "a=b" {
		t.Errorf("path = %v, want a=b", got["path"])
	}

	if _, err := parseSets([]string{"novalue"}); err == nil {
		t.Error("expected an error for a flag without '='")
	}
	if m, err := parseSets(nil); err != nil || m != nil {
		t.Errorf("parseSets(nil) = %v, %v", m, err)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"job failure", &engine.JobFailure{JobID: "j", Cause: errors.New("boom")}, 1},
		{"busy", engine.NewBusyError("busy", nil).WithCode(engine.ErrCodeTargetBusy), 3},
		{"structural", engine.NewStructuralError("cycle", nil).WithCode(engine.ErrCodeCycleDetected), 2},
		{"other", errors.New("io"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}
