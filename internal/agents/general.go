package agents

import (
	"context"
	"fmt"

	"github.com/fentz26/conductor/internal/connectors"
	"github.com/fentz26/conductor/internal/models"
)

// GeneralAgentID identifies the fallback agent.
const GeneralAgentID = "general-purpose"

// DelegateKey is the payload field naming an action the fallback agent
// should forward to a capable agent.
const DelegateKey = "delegate"

// CapabilityFinder locates an agent able to perform an action.
type CapabilityFinder interface {
	FindByCapability(action string, exclude ...string) (models.AgentDescriptor, bool)
}

// GeneralAgent receives tasks nothing else claimed. A task carrying a
// delegated action is forwarded to the first other agent declaring it;
// anything else is acknowledged.
type GeneralAgent struct {
	finder CapabilityFinder
}

// NewGeneralAgent creates the fallback agent.
func NewGeneralAgent(finder CapabilityFinder) *GeneralAgent {
	return &GeneralAgent{finder: finder}
}

// Descriptor implements Agent.
func (a *GeneralAgent) Descriptor() models.AgentDescriptor {
	return models.AgentDescriptor{
		ID:           GeneralAgentID,
		Version:      "1.0.0",
		Capabilities: []string{"handle"},
	}
}

// Execute implements Agent.
func (a *GeneralAgent) Execute(ctx context.Context, task models.Task, inv Invoker) models.Result {
	if action := payloadString(task, DelegateKey); action != "" && a.finder != nil {
		target, ok := a.finder.FindByCapability(action, GeneralAgentID)
		if !ok {
			return models.Failure(fmt.Sprintf("no agent handles %q", action))
		}

		fwd := task
		fwd.Action = action
		fwd.Payload = models.CloneMap(task.Payload)
		delete(fwd.Payload, DelegateKey)

		res, err := inv.InvokeAgent(ctx, target.ID, fwd)
		if err != nil {
			return models.Failure(fmt.Sprintf("delegate to %s: %v", target.ID, err))
		}
		if res.Data == nil {
			res.Data = map[string]any{}
		}
		res.Data["delegated_to"] = target.ID
		return res
	}

	return models.Result{Success: true, Data: map[string]any{
		"handled_by":  GeneralAgentID,
		"description": task.Description,
	}}
}

// Builtins returns the built-in agents in registration order.
func Builtins(finder CapabilityFinder, conn connectors.Connector) []Agent {
	return []Agent{
		NewTestAgent(conn),
		NewPatternAgent(),
		NewGeneralAgent(finder),
	}
}
