// Package audit writes Process Decision Records for routing decisions and
// workflow transitions.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/fentz26/conductor/internal/models"
	"go.uber.org/zap"
)

// Recorder persists decision records.
type Recorder interface {
	WritePDR(ctx context.Context, action, inputsHash, outcome, workflowID, details string) (*models.PDREntry, error)
}

// Subscriber is the part of the message bus the writer listens on.
type Subscriber interface {
	Subscribe(pattern string, handler func(ctx context.Context, msg models.Message)) (func(), error)
}

// PDRWriter writes Process Decision Records for audit trails.
type PDRWriter struct {
	rec    Recorder
	logger *zap.Logger
}

// NewPDRWriter creates a new PDR writer.
func NewPDRWriter(rec Recorder, logger *zap.Logger) *PDRWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PDRWriter{rec: rec, logger: logger}
}

// Record writes a PDR entry. inputs are hashed, not stored.
func (w *PDRWriter) Record(ctx context.Context, action string, inputs interface{}, outcome, workflowID, details string) (*models.PDREntry, error) {
	return w.rec.WritePDR(ctx, action, HashInputs(inputs), outcome, workflowID, details)
}

// RecordRoute writes the classifier's verdict for task.
func (w *PDRWriter) RecordRoute(ctx context.Context, task models.Task, route models.RouteDecision, workflowID string) {
	target := route.AgentID
	if route.Kind == models.RouteWorkflow {
		target = route.TemplateName
	}
	details := fmt.Sprintf("score=%d target=%s action=%s", route.Score, target, route.Action)
	if _, err := w.Record(ctx, "task.route", task, string(route.Kind), workflowID, details); err != nil {
		w.logger.Warn("pdr write failed", zap.String("action", "task.route"), zap.Error(err))
	}
}

var terminalTopics = map[string]bool{
	"workflow.completed": true,
	"workflow.failed":    true,
	"workflow.cancelled": true,
}

// Attach records every terminal workflow event published on sub. The
// returned func detaches the writer.
func (w *PDRWriter) Attach(sub Subscriber) (func(), error) {
	return sub.Subscribe("workflow.*", func(ctx context.Context, msg models.Message) {
		if !terminalTopics[msg.To] {
			return
		}
		workflowID, _ := msg.Payload["workflow_id"].(string)
		status, _ := msg.Payload["status"].(string)
		template, _ := msg.Payload["template"].(string)
		if _, err := w.Record(ctx, msg.To, msg.Payload, status, workflowID, "template="+template); err != nil {
			w.logger.Warn("pdr write failed",
				zap.String("action", msg.To),
				zap.String("workflow_id", workflowID),
				zap.Error(err))
		}
	})
}

// HashInputs returns the hex SHA-256 of the JSON encoding of inputs.
func HashInputs(inputs interface{}) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
