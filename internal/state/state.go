// Package state persists workflow instances between batches so a restarted
// process can resume them.
package state

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/fentz26/conductor/internal/models"
)

// ErrPersistence marks every failed state write or read.
var ErrPersistence = errors.New("state persistence failed")

// ErrInvalidID is returned for instance ids that cannot be used as keys.
var ErrInvalidID = errors.New("invalid instance id")

// PersistenceError describes a failed store operation. Callers must assume
// the instance was not checkpointed.
type PersistenceError struct {
	Op  string
	ID  string
	Err error
}

func (e *PersistenceError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrPersistence) match.
func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// Store is a durable keyed record of workflow instances. Save is atomic with
// respect to crashes: after a crash, Load returns either the previous or the
// new record, never a mix.
type Store interface {
	Save(ctx context.Context, inst *models.WorkflowInstance) error
	// Load returns nil, nil when no instance has the id.
	Load(ctx context.Context, id string) (*models.WorkflowInstance, error)
	// ListByStatus returns instances in creation order. An empty status
	// lists all instances.
	ListByStatus(ctx context.Context, status models.WorkflowStatus) ([]*models.WorkflowInstance, error)
	Close() error
}

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

func checkID(id string) error {
	if !validID.MatchString(id) || len(id) > 128 {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

func sortInstances(list []*models.WorkflowInstance) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
}
