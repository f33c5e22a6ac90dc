// Package agents defines the agent execution contract and the built-in agents.
//
// Agents are reached only through the message bus. An agent's Execute must
// not panic across the bus boundary; Host converts any panic into a failed
// Result. Requests are delivered at least once, so an agent may see the same
// correlation id twice. Host answers such retries from a reply cache while
// the original reply is still cached; side effects outside the process are
// the agent's own concern.
package agents

import (
	"context"
	"errors"

	"github.com/fentz26/conductor/internal/models"
)

// ErrUnsupportedAction is returned when a task names an action the agent
// does not declare.
var ErrUnsupportedAction = errors.New("unsupported action")

// Agent is implemented by every worker registered with the orchestrator.
type Agent interface {
	// Descriptor declares the agent's identity, capabilities and triggers.
	Descriptor() models.AgentDescriptor

	// Execute performs task. inv lets the agent call other agents; each
	// call adds one to the invocation depth.
	Execute(ctx context.Context, task models.Task, inv Invoker) models.Result
}

// Invoker sends a task to another agent and waits for its result.
type Invoker interface {
	InvokeAgent(ctx context.Context, agentID string, task models.Task) (models.Result, error)
}
