package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sif-factory/sif/pkg/composition"
	"github.com/sif-factory/sif/pkg/engine"
)

const sampleCatalog = `
version: v1
executor:
  max_parallel: 2
  step_timeout: 90s
  policy: degrade
components:
  - id: bmad
    type: installer
    config:
      version: 6.0.0
  - id: standards
    type: noop
    dependencies: [bmad]
    library: standards
    composition: claude-md
  - id: legacy
    type: command
    enabled: false
    config:
      command: "true"
libraries:
  - id: standards
    root: libs/standards
    include: ["**/*.md"]
segments:
  - id: header
    content: "# Project"
  - id: enterprise
    content: Enterprise rigor.
    condition: tier == "enterprise"
compositions:
  - id: claude-md
    variant: production
    items:
      - {segment: header, position: 10, enabled: true}
      - {segment: enterprise, position: 20, enabled: true}
catalog:
  - path: header
  - path: enterprise
    dependencies: [header]
variables: |
  tier = "enterprise" if team_size > 20 else "startup"
`

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	if err := os.WriteFile(path, []byte(sampleCatalog), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(c.Components) != 3 {
		t.Fatalf("expected 3 components, got %d", len(c.Components))
	}
	bmad, ok := c.Component("bmad")
	if !ok || !bmad.Enabled || bmad.Type != "installer" {
		t.Errorf("unexpected bmad component: %+v", bmad)
	}
	legacy, _ := c.Component("legacy")
	if legacy.Enabled {
		t.Error("expected legacy to be disabled")
	}

	lib := c.Libraries["standards"]
	if lib == nil || lib.Root != filepath.Join(dir, "libs", "standards") {
		t.Errorf("library root not resolved against the catalog: %+v", lib)
	}

	if c.Executor.MaxParallel != 2 || c.Executor.StepTimeout != 90*time.Second {
		t.Errorf("executor settings not applied: %+v", c.Executor)
	}
	if c.Executor.MaxRetries != engine.DefaultExecutorConfig().MaxRetries {
		t.Errorf("expected default retries, got %d", c.Executor.MaxRetries)
	}
	if c.Policy != engine.FailurePolicyDegrade {
		t.Errorf("Policy = %s, want degrade", c.Policy)
	}

	if _, err := c.Content.Composition("claude-md"); err != nil {
		t.Errorf("composition not loaded: %v", err)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name    string
		catalog string
		want    string
		is      error
	}{
		{
			name:    "missing version",
			catalog: "components: []\n",
			want:    "Version",
		},
		{
			name:    "unknown field",
			catalog: "version: v1\nplugins: []\n",
			want:    "plugins",
		},
		{
			name:    "unknown action type",
			catalog: "version: v1\ncomponents:\n  - {id: a, type: terraform}\n",
			want:    "oneof",
		},
		{
			name:    "dependency cycle",
			catalog: "version: v1\ncomponents:\n  - {id: a, type: noop, dependencies: [b]}\n  - {id: b, type: noop, dependencies: [a]}\n",
			is:      engine.ErrCycleDetected,
		},
		{
			name:    "unknown dependency",
			catalog: "version: v1\ncomponents:\n  - {id: a, type: noop, dependencies: [ghost]}\n",
			is:      engine.ErrUnresolvedDependency,
		},
		{
			name:    "unknown library",
			catalog: "version: v1\ncomponents:\n  - {id: a, type: noop, library: ghost}\n",
			want:    "unknown library ghost",
		},
		{
			name:    "orphan catalog entry",
			catalog: "version: v1\ncatalog:\n  - {path: a, dependencies: [b]}\n",
			is:      engine.ErrOrphanReference,
		},
		{
			name: "duplicate position",
			catalog: `version: v1
segments:
  - {id: a, content: A}
  - {id: b, content: B}
compositions:
  - id: c
    items:
      - {segment: a, position: 1, enabled: true}
      - {segment: b, position: 1, enabled: true}
`,
			want: "share position 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.catalog), "")
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != "" && !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
			if tt.is != nil && !errors.Is(err, tt.is) {
				t.Errorf("expected errors.Is(%v), got %v", tt.is, err)
			}
		})
	}
}

func TestRenderVariables(t *testing.T) {
	c, err := Parse([]byte(sampleCatalog), "")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	vars, err := c.RenderVariables(context.Background(), NewStarlarkEvaluator(time.Second), map[string]interface{}{
		"team_size": 40,
	})
	if err != nil {
		t.Fatalf("RenderVariables: %v", err)
	}
	if vars["tier"] != "enterprise" || vars["team_size"] != 40 {
		t.Errorf("unexpected vars: %v", vars)
	}

	// Without an evaluator only the request configuration is used.
	vars, err = c.RenderVariables(context.Background(), nil, map[string]interface{}{"team_size": 3})
	if err != nil {
		t.Fatalf("RenderVariables: %v", err)
	}
	if _, ok := vars["tier"]; ok {
		t.Error("did not expect derived variables without an evaluator")
	}
}

func TestCompositionItemsEnabledByDefault(t *testing.T) {
	const yamlCatalog = `
version: v1
segments:
  - {id: header, content: "# Title"}
  - {id: body, content: Body}
  - {id: footer, content: Footer}
compositions:
  - id: doc
    items:
      - {segment: header, position: 1}
      - {segment: body, position: 2}
      - {segment: footer, position: 3, enabled: false}
`
	const cueCatalog = `
segments: [
	{id: "header", content: "# Title"},
	{id: "body", content: "Body"},
	{id: "footer", content: "Footer"},
]
compositions: [{
	id: "doc"
	items: [
		{segment: "header", position: 1},
		{segment: "body", position: 2},
		{segment: "footer", position: 3, enabled: false},
	]
}]
`
	parsers := map[string]func() (*Catalog, error){
		"yaml": func() (*Catalog, error) { return Parse([]byte(yamlCatalog), "") },
		"cue":  func() (*Catalog, error) { return ParseCUE([]byte(cueCatalog), "catalog.cue") },
	}
	for name, parse := range parsers {
		t.Run(name, func(t *testing.T) {
			c, err := parse()
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			out, err := composition.NewRenderer(c, nil, zerolog.Nop()).Render(context.Background(), "doc", nil)
			if err != nil {
				t.Fatalf("Render: %v", err)
			}
			if got, want := strings.Join(out.Segments, ","), "header,body"; got != want {
				t.Errorf("rendered segments = %s, want %s", got, want)
			}
			if !strings.Contains(out.Content, "# Title") || !strings.Contains(out.Content, "Body") {
				t.Errorf("content = %q", out.Content)
			}
			if strings.Contains(out.Content, "Footer") {
				t.Error("explicitly disabled item was rendered")
			}
		})
	}
}
