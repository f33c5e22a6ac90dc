// Package controlplane exposes the orchestrator over HTTP.
package controlplane

import (
	"context"

	"github.com/fentz26/conductor/internal/classifier"
	"github.com/fentz26/conductor/internal/models"
)

// Service is the orchestrator surface served by the API. It is satisfied by
// *orchestrator.Orchestrator.
type Service interface {
	HandleTask(ctx context.Context, task models.Task) models.Result
	Classify(task models.Task) (models.RouteDecision, []classifier.Candidate)
	Cancel(ctx context.Context, id string) error
	GetWorkflow(ctx context.Context, id string) (*models.WorkflowInstance, error)
	ListWorkflows(ctx context.Context, status models.WorkflowStatus) ([]*models.WorkflowInstance, error)
	Agents() []models.AgentDescriptor
	Templates() []models.WorkflowTemplate
	Stats() map[string]interface{}
}

// Pinger reports whether the state backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}
