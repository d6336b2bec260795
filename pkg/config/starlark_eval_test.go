package config

import (
	"context"
	"testing"
	"time"
)

func TestStarlarkEvaluator_Evaluate(t *testing.T) {
	evaluator := NewStarlarkEvaluator(5 * time.Second)
	ctx := context.Background()

	tests := []struct {
		name      string
		script    string
		input     map[string]interface{}
		checkFunc func(*testing.T, *StarlarkResult)
		wantErr   bool
	}{
		{
			name: "derive from input",
			script: `
tier = "enterprise" if team_size > 20 else "startup"
`,
			input: map[string]interface{}{"team_size": 42},
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				if sr.Output["tier"] != "enterprise" {
					t.Errorf("expected tier=enterprise, got %v", sr.Output["tier"])
				}
			},
		},
		{
			name: "helper functions are not exported",
			script: `
def upper_all(items):
    return [i.upper() for i in items]

modules = upper_all(selected)
_scratch = 1
`,
			input: map[string]interface{}{"selected": []interface{}{"bmm", "cis"}},
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				if _, ok := sr.Output["upper_all"]; ok {
					t.Error("function should not be exported")
				}
				if _, ok := sr.Output["_scratch"]; ok {
					t.Error("underscore globals should not be exported")
				}
				modules, ok := sr.Output["modules"].([]interface{})
				if !ok || len(modules) != 2 || modules[0] != "BMM" {
					t.Errorf("unexpected modules: %v", sr.Output["modules"])
				}
			},
		},
		{
			name: "dict output",
			script: `
settings = {"language": lang, "strict": True}
`,
			input: map[string]interface{}{"lang": "English"},
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				settings, ok := sr.Output["settings"].(map[string]interface{})
				if !ok {
					t.Fatalf("expected settings to be a dict, got %T", sr.Output["settings"])
				}
				if settings["language"] != "English" || settings["strict"] != true {
					t.Errorf("unexpected settings: %v", settings)
				}
			},
		},
		{
			name: "struct output",
			script: `
owner = struct(name = "Ada", level = 3)
`,
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				owner, ok := sr.Output["owner"].(map[string]interface{})
				if !ok || owner["name"] != "Ada" || owner["level"] != int64(3) {
					t.Errorf("unexpected owner: %v", sr.Output["owner"])
				}
			},
		},
		{
			name:    "syntax error",
			script:  "invalid syntax here\n",
			wantErr: true,
		},
		{
			name:    "runtime error",
			script:  "result = undefined_variable\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := evaluator.Evaluate(ctx, tt.script, tt.input)

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got none")
				}
				if result.Error == "" {
					t.Error("expected error in result")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.checkFunc != nil {
				tt.checkFunc(t, result)
			}
		})
	}
}

func TestStarlarkEvaluator_Timeout(t *testing.T) {
	evaluator := NewStarlarkEvaluator(100 * time.Millisecond)

	script := `
def slow_function():
    result = 0
    for i in range(100000000):
        result = result + i
    return result

output = slow_function()
`

	start := time.Now()
	result, err := evaluator.Evaluate(context.Background(), script, nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if result.Error == "" {
		t.Error("expected timeout error in result")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("evaluation was not cancelled promptly: %v", elapsed)
	}
}

func TestStarlarkEvaluator_EvaluateCondition(t *testing.T) {
	evaluator := NewStarlarkEvaluator(time.Second)
	vars := map[string]interface{}{
		"tier":    "enterprise",
		"modules": []interface{}{"bmm", "cis"},
		"size":    12,
	}

	tests := []struct {
		expr    string
		want    bool
		wantErr bool
	}{
		{expr: `tier == "enterprise"`, want: true},
		{expr: `"cis" in modules`, want: true},
		{expr: `size > 20`, want: false},
		{expr: `vars.get("missing", "") == ""`, want: true},
		{expr: `modules`, want: true},
		{expr: `missing == 1`, wantErr: true},
		{expr: `tier ==`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := evaluator.EvaluateCondition(context.Background(), tt.expr, vars)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %q", tt.expr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("EvaluateCondition(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestStarlarkEvaluator_TypeConversion(t *testing.T) {
	evaluator := NewStarlarkEvaluator(5 * time.Second)

	tests := []struct {
		name   string
		input  map[string]interface{}
		script string
		want   interface{}
	}{
		{"bool", map[string]interface{}{"enabled": true}, "result = enabled and True", true},
		{"int", map[string]interface{}{"count": 42}, "result = count + 8", int64(50)},
		{"float", map[string]interface{}{"price": 1.5}, "result = price * 2", 3.0},
		{"string", map[string]interface{}{"name": "test"}, `result = name + "-suffix"`, "test-suffix"},
		{"string list", map[string]interface{}{"items": []string{"a", "b"}}, "result = len(items)", int64(2)},
		{
			"dict",
			map[string]interface{}{"config": map[string]interface{}{"host": "localhost", "port": 8080}},
			`result = config["host"] + ":" + str(config["port"])`,
			"localhost:8080",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := evaluator.Evaluate(context.Background(), tt.script, tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Output["result"] != tt.want {
				t.Errorf("result = %v (%T), want %v", result.Output["result"], result.Output["result"], tt.want)
			}
		})
	}
}

func TestStarlarkEvaluator_PrintSuppressed(t *testing.T) {
	evaluator := NewStarlarkEvaluator(5 * time.Second)

	result, err := evaluator.Evaluate(context.Background(), "print(\"hidden\")\nresult = \"done\"\n", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Output["result"] != "done" {
		t.Errorf("expected result='done', got %v", result.Output["result"])
	}
}
