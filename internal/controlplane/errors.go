package controlplane

import (
	"errors"
	"net/http"

	"github.com/fentz26/conductor/internal/state"
	"github.com/fentz26/conductor/internal/workflow"
)

// Sentinel errors for control plane operations.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidStatus  = errors.New("invalid status filter")
)

// statusFor maps a service error to an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, workflow.ErrInstanceNotFound):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrTerminal):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrInvalidStatus), errors.Is(err, state.ErrInvalidID):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
