package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fentz26/conductor/internal/models"
)

const fileExt = ".json"

// FileStore keeps one JSON document per instance in a directory. Writes go
// to a temp file in the same directory which is fsynced and renamed over
// the target.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &PersistenceError{Op: "create state dir", Err: err}
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory holding instance files.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+fileExt)
}

// Save implements Store.
func (s *FileStore) Save(ctx context.Context, inst *models.WorkflowInstance) error {
	if err := checkID(inst.ID); err != nil {
		return &PersistenceError{Op: "save", ID: inst.ID, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return &PersistenceError{Op: "save", ID: inst.ID, Err: err}
	}

	data, err := json.MarshalIndent(inst, "", "  ")
	if err != nil {
		return &PersistenceError{Op: "encode", ID: inst.ID, Err: err}
	}
	if err := s.writeAtomic(inst.ID, data); err != nil {
		return &PersistenceError{Op: "save", ID: inst.ID, Err: err}
	}
	return nil
}

func (s *FileStore) writeAtomic(id string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, "."+id+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, s.path(id)); err != nil {
		return err
	}
	committed = true

	// Persist the rename itself. Directory sync is unsupported on some
	// platforms, so its failure is ignored.
	if d, err := os.Open(s.dir); err == nil {
		d.Sync()
		d.Close()
	}
	return nil
}

// Load implements Store.
func (s *FileStore) Load(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	if err := checkID(id); err != nil {
		return nil, &PersistenceError{Op: "load", ID: id, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, &PersistenceError{Op: "load", ID: id, Err: err}
	}

	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &PersistenceError{Op: "load", ID: id, Err: err}
	}

	var inst models.WorkflowInstance
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, &PersistenceError{Op: "decode", ID: id, Err: err}
	}
	return &inst, nil
}

// ListByStatus implements Store.
func (s *FileStore) ListByStatus(ctx context.Context, status models.WorkflowStatus) ([]*models.WorkflowInstance, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, &PersistenceError{Op: "list", Err: err}
	}

	var out []*models.WorkflowInstance
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileExt) {
			continue
		}
		inst, err := s.Load(ctx, strings.TrimSuffix(name, fileExt))
		if err != nil {
			return nil, err
		}
		if inst == nil {
			// Removed between ReadDir and Load.
			continue
		}
		if status == "" || inst.Status == status {
			out = append(out, inst)
		}
	}
	sortInstances(out)
	return out, nil
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }

// Ping checks that the state directory is still a directory.
func (s *FileStore) Ping(ctx context.Context) error {
	fi, err := os.Stat(s.dir)
	if err != nil {
		return &PersistenceError{Op: "ping", Err: err}
	}
	if !fi.IsDir() {
		return &PersistenceError{Op: "ping", Err: fmt.Errorf("%s is not a directory", s.dir)}
	}
	return nil
}

func (s *FileStore) String() string {
	return fmt.Sprintf("file:%s", s.dir)
}
