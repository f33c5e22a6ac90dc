package agents

import (
	"fmt"

	"github.com/fentz26/conductor/internal/models"
)

// Payload keys used on the wire between Host endpoints.
const (
	keyDescription = "description"
	keyAction      = "action"
	keyPayload     = "payload"
	keySuccess     = "success"
	keyError       = "error"
)

// TaskToPayload encodes a task as a REQUEST payload.
func TaskToPayload(t models.Task) map[string]any {
	p := map[string]any{
		keyDescription: t.Description,
		keyAction:      t.Action,
	}
	if t.Payload != nil {
		p[keyPayload] = models.CloneMap(t.Payload)
	}
	return p
}

// TaskFromPayload decodes a REQUEST payload.
func TaskFromPayload(p map[string]any) (models.Task, error) {
	var t models.Task

	desc, ok := p[keyDescription].(string)
	if !ok {
		return t, fmt.Errorf("request payload missing %q", keyDescription)
	}
	t.Description = desc

	if v, ok := p[keyAction]; ok && v != nil {
		action, ok := v.(string)
		if !ok {
			return t, fmt.Errorf("request %q must be a string, got %T", keyAction, v)
		}
		t.Action = action
	}

	if v, ok := p[keyPayload]; ok && v != nil {
		inner, ok := v.(map[string]any)
		if !ok {
			return t, fmt.Errorf("request %q must be an object, got %T", keyPayload, v)
		}
		t.Payload = models.CloneMap(inner)
	}
	return t, nil
}

// ResultToPayload encodes a result as a REPLY payload. Data keys are
// flattened next to success and error.
func ResultToPayload(r models.Result) map[string]any {
	p := make(map[string]any, len(r.Data)+2)
	for k, v := range r.Data {
		p[k] = v
	}
	p[keySuccess] = r.Success
	if r.Error != "" {
		p[keyError] = r.Error
	}
	return p
}

// ResultFromPayload decodes a REPLY payload. A reply without a boolean
// success field is treated as a failure.
func ResultFromPayload(p map[string]any) models.Result {
	var r models.Result

	success, ok := p[keySuccess].(bool)
	if !ok {
		return models.Failure("malformed reply: missing success flag")
	}
	r.Success = success
	if e, ok := p[keyError].(string); ok {
		r.Error = e
	}

	for k, v := range p {
		if k == keySuccess || k == keyError {
			continue
		}
		if r.Data == nil {
			r.Data = make(map[string]any, len(p))
		}
		r.Data[k] = v
	}
	return r
}
