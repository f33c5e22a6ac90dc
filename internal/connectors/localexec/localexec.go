// Package localexec runs allowlisted commands on the local machine.
package localexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/fentz26/conductor/internal/connectors"
)

// DefaultAllowlist permits running and inspecting Go tests only.
var DefaultAllowlist = map[string][]string{
	"go":  {"test", "vet"},
	"git": {"diff", "status"},
}

// LocalExec implements connectors.Connector for local command execution.
type LocalExec struct {
	workDir string
	allowed map[string][]string
}

// Option customises a LocalExec.
type Option func(*LocalExec)

// WithAllowlist replaces the default allowlist.
func WithAllowlist(allowed map[string][]string) Option {
	return func(l *LocalExec) { l.allowed = allowed }
}

// New creates a LocalExec rooted at workDir.
func New(workDir string, opts ...Option) *LocalExec {
	l := &LocalExec{workDir: workDir, allowed: DefaultAllowlist}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Name returns the connector identifier.
func (l *LocalExec) Name() string {
	return "localexec"
}

// IsAllowed checks the command and its subcommand against the allowlist.
func (l *LocalExec) IsAllowed(cmd string, args []string) bool {
	subcmds, ok := l.allowed[cmd]
	if !ok || len(args) == 0 {
		return false
	}
	for _, allowed := range subcmds {
		if args[0] == allowed {
			return true
		}
	}
	return false
}

// Execute runs cmd if it is allowlisted.
func (l *LocalExec) Execute(ctx context.Context, cmd string, args []string) (*connectors.ExecResult, error) {
	if !l.IsAllowed(cmd, args) {
		return nil, fmt.Errorf("%w: %s %s", connectors.ErrNotAllowed, cmd, strings.Join(args, " "))
	}

	execCmd := exec.CommandContext(ctx, cmd, args...)
	if l.workDir != "" {
		execCmd.Dir = l.workDir
	}

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	start := time.Now()
	err := execCmd.Run()
	duration := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("exec %s: %w", cmd, err)
		}
		exitCode = exitErr.ExitCode()
	}

	return &connectors.ExecResult{
		Command:  cmd,
		Args:     args,
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}, nil
}
