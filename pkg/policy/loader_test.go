package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

const sampleRego = `# Installers must come from the internal registry.
# severity: error
package sif.policies.registry

import rego.v1

deny contains msg if {
	some step in input.steps
	step.action == "installer"
	msg := "external installer"
}
`

func writePolicyFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
}

func TestLoadFromFile_Rego(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	policyFile := filepath.Join(t.TempDir(), "registry.rego")
	writePolicyFile(t, policyFile, sampleRego)

	policy, err := loader.loadFromFile(policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if policy.Name != "registry" {
		t.Errorf("Expected name 'registry', got '%s'", policy.Name)
	}
	if policy.Description != "Installers must come from the internal registry." {
		t.Errorf("Description = %q", policy.Description)
	}
	if policy.Severity != SeverityError {
		t.Errorf("Severity = %s, want error", policy.Severity)
	}
	if policy.Source != policyFile {
		t.Errorf("Source = %s, want %s", policy.Source, policyFile)
	}
	if !policy.Enabled {
		t.Error("Policy should be enabled by default")
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	data, err := json.Marshal(Policy{
		Description: "json policy",
		Rego:        sampleRego,
		Enabled:     true,
	})
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}
	policyFile := filepath.Join(t.TempDir(), "from-json.json")
	writePolicyFile(t, policyFile, string(data))

	policy, err := loader.loadFromFile(policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if policy.Name != "from-json" {
		t.Errorf("Name = %s, want from-json", policy.Name)
	}
	if policy.Severity != SeverityWarning {
		t.Errorf("Severity = %s, want default warning", policy.Severity)
	}
}

func TestLoadFromFile_Invalid(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()

	badJSON := filepath.Join(dir, "bad.json")
	writePolicyFile(t, badJSON, "{ not json")
	if _, err := loader.loadFromFile(badJSON); err == nil {
		t.Error("Expected error for invalid JSON")
	}

	noRego := filepath.Join(dir, "empty.json")
	writePolicyFile(t, noRego, `{"name": "empty"}`)
	if _, err := loader.loadFromFile(noRego); err == nil {
		t.Error("Expected error for JSON policy without rego")
	}

	txt := filepath.Join(dir, "policy.txt")
	writePolicyFile(t, txt, sampleRego)
	if _, err := loader.loadFromFile(txt); err == nil {
		t.Error("Expected error for unsupported file type")
	}
}

func TestLoadFromDirectory_Recursive(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()

	writePolicyFile(t, filepath.Join(dir, "b.rego"), sampleRego)
	writePolicyFile(t, filepath.Join(dir, "nested", "a.rego"), sampleRego)
	writePolicyFile(t, filepath.Join(dir, "README.md"), "not a policy")

	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths failed: %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("Expected 2 policies, got %d", len(policies))
	}
	if policies[0].Name != "b" || policies[1].Name != "a" {
		t.Errorf("order = %s, %s; want lexical path order b, a", policies[0].Name, policies[1].Name)
	}
}

func TestLoadFromDirectory_FailsOnBadFile(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()

	writePolicyFile(t, filepath.Join(dir, "good.rego"), sampleRego)
	writePolicyFile(t, filepath.Join(dir, "bad.json"), "[")

	if _, err := loader.LoadFromPaths(context.Background(), []string{dir}); err == nil {
		t.Error("Expected error for a directory with an unparsable policy")
	}
}

func TestLoadFromPath_NonExistent(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	if _, err := loader.LoadFromPaths(context.Background(), []string{"/nonexistent/policies"}); err == nil {
		t.Error("Expected error for missing path")
	}
}

func TestClearCache(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	policyFile := filepath.Join(t.TempDir(), "cached.rego")
	writePolicyFile(t, policyFile, sampleRego)

	if _, err := loader.loadFromFile(policyFile); err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	writePolicyFile(t, policyFile, "# changed\npackage x\n")

	cached, err := loader.loadFromFile(policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if cached.Rego != sampleRego {
		t.Error("Expected cached content before ClearCache")
	}

	loader.ClearCache()
	fresh, err := loader.loadFromFile(policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if fresh.Description != "changed" {
		t.Errorf("Description = %q, want changed", fresh.Description)
	}
}

func TestEngineLoadPolicies(t *testing.T) {
	eng := newTestEngine(t)
	dir := t.TempDir()
	writePolicyFile(t, filepath.Join(dir, "registry.rego"), sampleRego)

	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies failed: %v", err)
	}
	p, err := eng.GetPolicy("registry")
	if err != nil {
		t.Fatalf("GetPolicy failed: %v", err)
	}
	if p.Severity != SeverityError {
		t.Errorf("Severity = %s, want error", p.Severity)
	}

	writePolicyFile(t, filepath.Join(dir, "broken.rego"), "package broken\n\ndeny contains if {")
	if err := eng.LoadPolicies(context.Background(), []string{dir}); err == nil {
		t.Error("Expected compile error for broken policy")
	}
}
