package localexec

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/fentz26/conductor/internal/connectors"
)

func TestIsAllowed(t *testing.T) {
	exec := New("")

	tests := []struct {
		cmd     string
		args    []string
		allowed bool
	}{
		{"go", []string{"test", "./..."}, true},
		{"go", []string{"vet", "./..."}, true},
		{"git", []string{"status"}, true},
		{"git", []string{"diff"}, true},
		{"git", []string{"push"}, false},
		{"rm", []string{"-rf", "/"}, false},
		{"go", []string{"run", "."}, false},
		{"go", []string{}, false},
		{"unknown", []string{"cmd"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.cmd+" "+strings.Join(tt.args, " "), func(t *testing.T) {
			got := exec.IsAllowed(tt.cmd, tt.args)
			if got != tt.allowed {
				t.Errorf("IsAllowed(%s, %v) = %v, want %v", tt.cmd, tt.args, got, tt.allowed)
			}
		})
	}
}

func TestWithAllowlist(t *testing.T) {
	exec := New("", WithAllowlist(map[string][]string{"echo": {"hello"}}))

	if !exec.IsAllowed("echo", []string{"hello"}) {
		t.Error("expected custom allowlist entry to be allowed")
	}
	if exec.IsAllowed("go", []string{"test"}) {
		t.Error("custom allowlist should replace the default")
	}
}

func TestExecute_ExitCode(t *testing.T) {
	exec := New(t.TempDir(), WithAllowlist(map[string][]string{"sh": {"-c"}}))

	result, err := exec.Execute(context.Background(), "sh", []string{"-c", "echo out; echo err >&2; exit 3"})
	if err != nil {
		t.Skipf("sh unavailable: %v", err)
	}
	if result.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d", result.ExitCode)
	}
	if result.Passed() {
		t.Error("non-zero exit should not pass")
	}
	if strings.TrimSpace(result.Stdout) != "out" || strings.TrimSpace(result.Stderr) != "err" {
		t.Errorf("unexpected output: stdout=%q stderr=%q", result.Stdout, result.Stderr)
	}
}

func TestExecute_NotAllowed(t *testing.T) {
	exec := New("")

	_, err := exec.Execute(context.Background(), "rm", []string{"-rf", "/"})
	if !errors.Is(err, connectors.ErrNotAllowed) {
		t.Errorf("expected ErrNotAllowed, got %v", err)
	}
}

func TestName(t *testing.T) {
	exec := New("")
	if exec.Name() != "localexec" {
		t.Errorf("Expected name 'localexec', got %s", exec.Name())
	}
}
