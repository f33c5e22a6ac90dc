package workflow

import "errors"

// Sentinel errors for templates and execution.
var (
	ErrInvalidTemplate   = errors.New("invalid workflow template")
	ErrTemplateNotFound  = errors.New("workflow template not found")
	ErrDuplicateTemplate = errors.New("workflow template already registered")
	ErrWorkflowAborted   = errors.New("workflow aborted")
	ErrInstanceNotFound  = errors.New("workflow instance not found")
	ErrLocked            = errors.New("workflow instance is being executed")
	ErrTerminal          = errors.New("workflow instance already finished")
	ErrStopped           = errors.New("workflow executor stopped")
)
