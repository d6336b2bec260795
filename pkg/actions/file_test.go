package actions

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sif-factory/sif/pkg/engine"
)

func TestFileActionCreateAndCompensate(t *testing.T) {
	target := t.TempDir()
	step := stepFor(TypeFile, map[string]interface{}{
		"path":    "config/app.yaml",
		"content": "name: demo\n",
		"mode":    "0600",
	})
	action, err := newTestFactory().ActionFor(step)
	if err != nil {
		t.Fatalf("ActionFor: %v", err)
	}
	sc := stepContext(step, target)

	result, err := action.Execute(context.Background(), sc)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if created, _ := result.Output["created"].(bool); !created {
		t.Error("expected created to be true")
	}

	path := filepath.Join(target, "config", "app.yaml")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %o, want 600", info.Mode().Perm())
	}

	sc.Output = result.Output
	if _, err := action.Compensate(context.Background(), sc); err != nil {
		t.Fatalf("Compensate: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected created file to be removed on compensation")
	}
}

func TestFileActionRestoresPreviousContent(t *testing.T) {
	target := t.TempDir()
	path := filepath.Join(target, "README.md")
	if err := os.WriteFile(path, []byte("original"), 0o644); err != nil {
		t.Fatal(err)
	}

	step := stepFor(TypeFile, map[string]interface{}{"path": "README.md", "content": "replaced"})
	action, err := newTestFactory().ActionFor(step)
	if err != nil {
		t.Fatalf("ActionFor: %v", err)
	}
	sc := stepContext(step, target)

	// A retried attempt must not overwrite the first backup.
	for i := 0; i < 2; i++ {
		if _, err := action.Execute(context.Background(), sc); err != nil {
			t.Fatalf("Execute: %v", err)
		}
	}
	if _, err := action.Compensate(context.Background(), sc); err != nil {
		t.Fatalf("Compensate: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "original" {
		t.Errorf("content = %q, want original", data)
	}
}

func TestFileActionMustExist(t *testing.T) {
	step := stepFor(TypeFile, map[string]interface{}{"path": "missing.txt", "must_exist": true})
	action, err := newTestFactory().ActionFor(step)
	if err != nil {
		t.Fatalf("ActionFor: %v", err)
	}

	_, err = action.Execute(context.Background(), stepContext(step, t.TempDir()))
	var engErr *engine.EngineError
	if !errors.As(err, &engErr) || engErr.Code != engine.ErrCodeNotFound {
		t.Errorf("expected %s, got %v", engine.ErrCodeNotFound, err)
	}
}

func TestFileActionInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		config map[string]interface{}
	}{
		{"missing path", map[string]interface{}{"content": "x"}},
		{"bad mode", map[string]interface{}{"path": "a", "mode": "rwx"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := newTestFactory().ActionFor(stepFor(TypeFile, tt.config)); err == nil {
				t.Error("expected configuration error")
			}
		})
	}
}

func TestFileActionRejectsEscape(t *testing.T) {
	step := stepFor(TypeFile, map[string]interface{}{"path": "../escape.txt", "content": "x"})
	action, err := newTestFactory().ActionFor(step)
	if err != nil {
		t.Fatalf("ActionFor: %v", err)
	}
	if _, err := action.Execute(context.Background(), stepContext(step, t.TempDir())); err == nil {
		t.Error("expected path outside the target to be rejected")
	}
}
