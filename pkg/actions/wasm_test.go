package actions

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sif-factory/sif/pkg/engine"
)

// Hand-assembled WASI command modules. Every section is shorter than 128
// bytes, so lengths fit in a single LEB128 byte.

func wasmSection(id byte, content ...byte) []byte {
	return append([]byte{id, byte(len(content))}, content...)
}

func wasmName(s string) []byte {
	return append([]byte{byte(len(s))}, s...)
}

func wasmModule(sections ...[]byte) []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	for _, s := range sections {
		out = append(out, s...)
	}
	return out
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// startModule exports a _start function with the given body.
func startModule(body ...byte) []byte {
	code := append([]byte{0x00}, body...)
	code = append(code, 0x0b)
	return wasmModule(
		wasmSection(1, 0x01, 0x60, 0x00, 0x00),
		wasmSection(3, 0x01, 0x00),
		wasmSection(7, concat([]byte{0x01}, wasmName("_start"), []byte{0x00, 0x00})...),
		wasmSection(10, concat([]byte{0x01, byte(len(code))}, code)...),
	)
}

// exitModule calls proc_exit with code from _start.
func exitModule(code byte) []byte {
	body := []byte{0x00, 0x41, code, 0x10, 0x00, 0x0b}
	return wasmModule(
		wasmSection(1, 0x02, 0x60, 0x00, 0x00, 0x60, 0x01, 0x7f, 0x00),
		wasmSection(2, concat([]byte{0x01}, wasmName("wasi_snapshot_preview1"), wasmName("proc_exit"), []byte{0x00, 0x01})...),
		wasmSection(3, 0x01, 0x00),
		wasmSection(7, concat([]byte{0x01}, wasmName("_start"), []byte{0x00, 0x01})...),
		wasmSection(10, concat([]byte{0x01, byte(len(body))}, body)...),
	)
}

func writeModule(t *testing.T, dir, name string, bin []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, bin, 0o644); err != nil {
		t.Fatalf("write module: %v", err)
	}
	return path
}

func runWasm(t *testing.T, config map[string]interface{}, target string) (*engine.Result, error) {
	t.Helper()
	step := stepFor(TypeWasm, config)
	action, err := newTestFactory().ActionFor(step)
	if err != nil {
		t.Fatalf("ActionFor: %v", err)
	}
	return action.Execute(context.Background(), stepContext(step, target))
}

func TestWasmActionRunsModule(t *testing.T) {
	target := t.TempDir()
	writeModule(t, target, "ok.wasm", startModule())

	result, err := runWasm(t, map[string]interface{}{"module": "ok.wasm", "args": []interface{}{"--check"}}, target)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Output["exit_code"] != 0 {
		t.Errorf("exit_code = %v, want 0", result.Output["exit_code"])
	}
	if !strings.Contains(result.Message, "ok.wasm") {
		t.Errorf("Message = %q", result.Message)
	}
}

func TestWasmActionExitZero(t *testing.T) {
	target := t.TempDir()
	writeModule(t, target, "exit0.wasm", exitModule(0))

	if _, err := runWasm(t, map[string]interface{}{"module": "exit0.wasm"}, target); err != nil {
		t.Fatalf("proc_exit(0) should succeed: %v", err)
	}
}

func TestWasmActionExitCodes(t *testing.T) {
	target := t.TempDir()
	mod := writeModule(t, t.TempDir(), "exit3.wasm", exitModule(3))

	_, err := runWasm(t, map[string]interface{}{"module": mod}, target)
	if !engine.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if !strings.Contains(err.Error(), "exited with code 3") {
		t.Errorf("error = %v", err)
	}

	_, err = runWasm(t, map[string]interface{}{"module": mod, "retry_exit_codes": []interface{}{3}}, target)
	if !engine.IsTransient(err) {
		t.Errorf("expected transient error for a retry exit code, got %v", err)
	}
}

func TestWasmActionTrap(t *testing.T) {
	target := t.TempDir()
	writeModule(t, target, "trap.wasm", startModule(0x00))

	_, err := runWasm(t, map[string]interface{}{"module": "trap.wasm"}, target)
	if !engine.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestWasmActionInvalidModule(t *testing.T) {
	target := t.TempDir()
	writeModule(t, target, "junk.wasm", []byte("not wasm"))

	_, err := runWasm(t, map[string]interface{}{"module": "junk.wasm"}, target)
	if !engine.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}

	_, err = runWasm(t, map[string]interface{}{"module": "../outside.wasm"}, target)
	if !engine.IsPermanent(err) {
		t.Errorf("expected permanent error for a path outside the target, got %v", err)
	}
}

func TestWasmActionCompensate(t *testing.T) {
	target := t.TempDir()
	writeModule(t, target, "ok.wasm", startModule())
	f := newTestFactory()

	step := stepFor(TypeWasm, map[string]interface{}{"module": "ok.wasm"})
	action, err := f.ActionFor(step)
	if err != nil {
		t.Fatalf("ActionFor: %v", err)
	}
	result, err := action.Compensate(context.Background(), stepContext(step, target))
	if err != nil || !strings.Contains(result.Message, "no undo") {
		t.Errorf("Compensate without undo_args = %v, %v", result, err)
	}

	step = stepFor(TypeWasm, map[string]interface{}{"module": "ok.wasm", "undo_args": []interface{}{"--remove"}})
	action, err = f.ActionFor(step)
	if err != nil {
		t.Fatalf("ActionFor: %v", err)
	}
	if _, err := action.Compensate(context.Background(), stepContext(step, target)); err != nil {
		t.Errorf("Compensate: %v", err)
	}
}

func TestWasmActionRequiresModule(t *testing.T) {
	if _, err := newTestFactory().ActionFor(stepFor(TypeWasm, nil)); err == nil {
		t.Fatal("expected a configuration error without module")
	}
}
