package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/sif-factory/sif/pkg/engine"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func testJob(target string, policy engine.FailurePolicy, steps ...*engine.Step) *engine.Job {
	job := &engine.Job{ID: "job-1", TargetPath: target, Policy: policy, Steps: steps}
	seen := map[string]bool{}
	for _, s := range steps {
		if !seen[s.ComponentID] {
			seen[s.ComponentID] = true
			job.Components = append(job.Components, s.ComponentID)
		}
	}
	return job
}

func commandStep(component, command string) *engine.Step {
	return &engine.Step{
		ID:          component + ":install",
		ComponentID: component,
		Kind:        engine.StepKindInstall,
		Forward:     engine.ActionDescriptor{Type: "command"},
		Config:      map[string]interface{}{"command": command},
	}
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	expected := []string{"degrade-notice", "privileged-commands", "protected-targets"}
	policies := eng.ListPolicies()
	if len(policies) != len(expected) {
		t.Fatalf("Expected %d built-in policies, got %d", len(expected), len(policies))
	}
	for i, p := range policies {
		if p.Name != expected[i] {
			t.Errorf("policies[%d] = %s, want %s", i, p.Name, expected[i])
		}
	}
}

func TestEvaluatePlan_ProtectedTargets(t *testing.T) {
	eng := newTestEngine(t)

	tests := []struct {
		name    string
		target  string
		allowed bool
	}{
		{"project directory", "/home/ada/project", true},
		{"root", "/", false},
		{"etc", "/etc", false},
		{"below usr", "/usr/local/project", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := testJob(tt.target, engine.FailurePolicyAbort, commandStep("a", "make"))
			result, err := eng.EvaluatePlan(context.Background(), job, Context{Operation: "plan"})
			if err != nil {
				t.Fatalf("EvaluatePlan failed: %v", err)
			}
			if result.Allowed != tt.allowed {
				t.Errorf("Allowed = %v, want %v (violations: %+v)", result.Allowed, tt.allowed, result.Violations)
			}
			if !tt.allowed && result.Violations[0].Policy != "protected-targets" {
				t.Errorf("violation from %s, want protected-targets", result.Violations[0].Policy)
			}
		})
	}
}

func TestEvaluatePlan_PrivilegedCommands(t *testing.T) {
	eng := newTestEngine(t)

	tests := []struct {
		name    string
		command string
		allowed bool
	}{
		{"plain", "npm install", true},
		{"sudo", "sudo apt-get install jq", false},
		{"leading space", "  su -c reboot", false},
		{"sudo as argument", "echo sudo", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := testJob("/tmp/project", engine.FailurePolicyAbort, commandStep("tool", tt.command))
			result, err := eng.EvaluatePlan(context.Background(), job, Context{Operation: "plan"})
			if err != nil {
				t.Fatalf("EvaluatePlan failed: %v", err)
			}
			if result.Allowed != tt.allowed {
				t.Fatalf("Allowed = %v, want %v", result.Allowed, tt.allowed)
			}
			if !tt.allowed && result.Violations[0].Step != "tool:install" {
				t.Errorf("Step = %q, want tool:install", result.Violations[0].Step)
			}
		})
	}
}

func TestEvaluatePlan_DegradeWarns(t *testing.T) {
	eng := newTestEngine(t)

	job := testJob("/tmp/project", engine.FailurePolicyDegrade, commandStep("a", "make"), commandStep("b", "make"))
	result, err := eng.EvaluatePlan(context.Background(), job, Context{Operation: "submit"})
	if err != nil {
		t.Fatalf("EvaluatePlan failed: %v", err)
	}
	if !result.Allowed {
		t.Fatalf("degrade notice must not block: %+v", result.Violations)
	}
	if len(result.Warnings) != 1 || result.Warnings[0].Policy != "degrade-notice" {
		t.Errorf("Warnings = %+v, want one degrade-notice warning", result.Warnings)
	}
	if result.Err() != nil {
		t.Errorf("Err() = %v, want nil", result.Err())
	}
}

func TestResultErr(t *testing.T) {
	eng := newTestEngine(t)

	job := testJob("/", engine.FailurePolicyAbort, commandStep("a", "sudo make"))
	result, err := eng.EvaluatePlan(context.Background(), job, Context{})
	if err != nil {
		t.Fatalf("EvaluatePlan failed: %v", err)
	}
	if len(result.Violations) != 2 {
		t.Fatalf("Expected 2 violations, got %+v", result.Violations)
	}

	denied := result.Err()
	if !engine.IsStructural(denied) {
		t.Errorf("Err() should be structural, got %v", denied)
	}
	var ee *engine.EngineError
	if !errors.As(denied, &ee) || ee.Code != engine.ErrCodePolicyViolation {
		t.Errorf("Err() code = %v, want %s", denied, engine.ErrCodePolicyViolation)
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := newTestEngine(t)

	if err := eng.DisablePolicy("protected-targets"); err != nil {
		t.Fatalf("DisablePolicy failed: %v", err)
	}
	job := testJob("/etc", engine.FailurePolicyAbort, commandStep("a", "make"))
	result, err := eng.EvaluatePlan(context.Background(), job, Context{})
	if err != nil {
		t.Fatalf("EvaluatePlan failed: %v", err)
	}
	if !result.Allowed {
		t.Error("disabled policy still blocks")
	}
	for _, name := range result.EvaluatedPolicies {
		if name == "protected-targets" {
			t.Error("disabled policy was evaluated")
		}
	}

	if err := eng.EnablePolicy("protected-targets"); err != nil {
		t.Fatalf("EnablePolicy failed: %v", err)
	}
	result, err = eng.EvaluatePlan(context.Background(), job, Context{})
	if err != nil {
		t.Fatalf("EvaluatePlan failed: %v", err)
	}
	if result.Allowed {
		t.Error("re-enabled policy does not block")
	}

	if err := eng.DisablePolicy("missing"); err == nil {
		t.Error("Expected error for unknown policy")
	}
}

func TestAddCustomPolicy(t *testing.T) {
	eng := newTestEngine(t)

	err := eng.Add(context.Background(), Policy{
		Name:     "no-installers",
		Severity: SeverityCritical,
		Enabled:  true,
		Rego: `package sif.policies.custom

deny contains v if {
	some step in input.steps
	step.action == "installer"
	v := {"message": sprintf("%s installs a package", [step.id]), "step": step.id}
}
`,
	})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	job := testJob("/tmp/project", engine.FailurePolicyAbort, &engine.Step{
		ID:          "bmad:install",
		ComponentID: "bmad",
		Kind:        engine.StepKindInstall,
		Forward:     engine.ActionDescriptor{Type: "installer"},
	})
	result, err := eng.EvaluatePlan(context.Background(), job, Context{})
	if err != nil {
		t.Fatalf("EvaluatePlan failed: %v", err)
	}
	if result.Allowed {
		t.Fatal("custom critical policy should block")
	}
	v := result.Violations[0]
	if v.Severity != SeverityCritical || v.Step != "bmad:install" {
		t.Errorf("violation = %+v", v)
	}
}

func TestAddRejectsInvalidRego(t *testing.T) {
	eng := newTestEngine(t)

	err := eng.Add(context.Background(), Policy{Name: "broken", Enabled: true, Rego: "package x\n\ndeny contains if {"})
	if err == nil {
		t.Fatal("Expected compile error")
	}
	if _, err := eng.GetPolicy("broken"); err == nil {
		t.Error("broken policy should not be registered")
	}
}
