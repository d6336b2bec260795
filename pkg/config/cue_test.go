package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sif-factory/sif/pkg/engine"
)

const sampleCUECatalog = `
version: "v1"

executor: {
	max_parallel: 2
	step_timeout: "90s"
}

_installer: {
	type: "installer"
	config: version: "6.0.0"
}

components: [
	_installer & {id: "bmad"},
	{
		id:           "standards"
		type:         "noop"
		dependencies: ["bmad"]
		library:      "standards"
	},
]

libraries: [{id: "standards", root: "libs/standards"}]

policies: ["policies"]
`

func TestLoadCUECatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sif.cue")
	if err := os.WriteFile(path, []byte(sampleCUECatalog), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(c.Components) != 2 {
		t.Fatalf("components = %d, want 2", len(c.Components))
	}
	bmad := c.Components[0]
	if bmad.ID != "bmad" || bmad.Type != "installer" || bmad.Config["version"] != "6.0.0" {
		t.Errorf("bmad = %+v", bmad)
	}
	if !bmad.Enabled {
		t.Error("components are enabled by default")
	}
	if c.Executor.MaxParallel != 2 || c.Executor.StepTimeout != 90*time.Second {
		t.Errorf("executor = %+v", c.Executor)
	}
	if got := c.Libraries["standards"].Root; got != filepath.Join(dir, "libs/standards") {
		t.Errorf("library root = %s", got)
	}
	if len(c.Policies) != 1 || c.Policies[0] != filepath.Join(dir, "policies") {
		t.Errorf("policies = %v", c.Policies)
	}
}

func TestParseCUEVersionDefaults(t *testing.T) {
	c, err := ParseCUE([]byte(`components: [{id: "a", type: "noop"}]`), "")
	if err != nil {
		t.Fatalf("ParseCUE: %v", err)
	}
	if len(c.Components) != 1 {
		t.Errorf("components = %+v", c.Components)
	}
}

func TestParseCUERejectsSchemaViolations(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   string
	}{
		{"unknown type", `components: [{id: "a", type: "shell"}]`, "components"},
		{"unknown field", `components: [{id: "a", type: "noop", owner: "x"}]`, "owner"},
		{"negative retries", `executor: max_retries: -1`, "max_retries"},
		{"wrong version", `version: "v2"`, "version"},
		{"syntax", `components: [`, "sif.cue"},
		{"incomplete", `components: [{id: "a", type: string}]`, "type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCUE([]byte(tt.source), "sif.cue")
			if err == nil {
				t.Fatal("expected an error")
			}
			if !engine.IsStructural(err) {
				t.Errorf("error should be structural: %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.want)
			}
		})
	}
}

func TestParseCUERejectsCycle(t *testing.T) {
	_, err := ParseCUE([]byte(`components: [
	{id: "a", type: "noop", dependencies: ["b"]},
	{id: "b", type: "noop", dependencies: ["a"]},
]`), "sif.cue")
	if !engine.IsStructural(err) {
		t.Fatalf("expected structural error, got %v", err)
	}
}
