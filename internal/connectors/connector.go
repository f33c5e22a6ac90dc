// Package connectors defines how agents reach outside the process.
package connectors

import (
	"context"
	"errors"
	"time"
)

// ErrNotAllowed is returned for commands outside a connector's allowlist.
var ErrNotAllowed = errors.New("command not allowed")

// ExecResult holds the result of a command execution.
type ExecResult struct {
	Command  string        `json:"command"`
	Args     []string      `json:"args"`
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Duration time.Duration `json:"duration"`
}

// Passed reports whether the command exited cleanly.
func (r *ExecResult) Passed() bool {
	return r != nil && r.ExitCode == 0
}

// Connector executes commands on behalf of an agent.
type Connector interface {
	// Name returns the connector identifier.
	Name() string

	// Execute runs a command and returns the result. A non-zero exit is not
	// an error; only failures to start the command are.
	Execute(ctx context.Context, cmd string, args []string) (*ExecResult, error)

	// IsAllowed checks if a command is allowed to execute.
	IsAllowed(cmd string, args []string) bool
}
