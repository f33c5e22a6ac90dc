package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fentz26/conductor/internal/models"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps instances as JSON documents in SQLite, alongside the
// audit trail.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &PersistenceError{Op: "create db directory", Err: err}
	}

	// WAL for concurrent readers while the executor writes.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)")
	if err != nil {
		return nil, &PersistenceError{Op: "open db", Err: err}
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, &PersistenceError{Op: "migrate", Err: err}
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS workflow_instances (
		id TEXT PRIMARY KEY,
		template_name TEXT NOT NULL,
		status TEXT NOT NULL,
		document TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pdr (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		workflow_id TEXT,
		details TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_instances_status ON workflow_instances(status);
	CREATE INDEX IF NOT EXISTS idx_pdr_workflow_id ON pdr(workflow_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Instance Operations ---

// Save implements Store. The whole document is replaced in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, inst *models.WorkflowInstance) error {
	if err := checkID(inst.ID); err != nil {
		return &PersistenceError{Op: "save", ID: inst.ID, Err: err}
	}

	doc, err := json.Marshal(inst)
	if err != nil {
		return &PersistenceError{Op: "encode", ID: inst.ID, Err: err}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &PersistenceError{Op: "begin", ID: inst.ID, Err: err}
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO workflow_instances (id, template_name, status, document, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   template_name = excluded.template_name,
		   status = excluded.status,
		   document = excluded.document,
		   updated_at = excluded.updated_at`,
		inst.ID, inst.TemplateName, string(inst.Status), string(doc), inst.CreatedAt.UTC(), inst.UpdatedAt.UTC(),
	)
	if err != nil {
		return &PersistenceError{Op: "save", ID: inst.ID, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &PersistenceError{Op: "commit", ID: inst.ID, Err: err}
	}
	return nil
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	if err := checkID(id); err != nil {
		return nil, &PersistenceError{Op: "load", ID: id, Err: err}
	}
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM workflow_instances WHERE id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &PersistenceError{Op: "load", ID: id, Err: err}
	}

	var inst models.WorkflowInstance
	if err := json.Unmarshal([]byte(doc), &inst); err != nil {
		return nil, &PersistenceError{Op: "decode", ID: id, Err: err}
	}
	return &inst, nil
}

// ListByStatus implements Store.
func (s *SQLiteStore) ListByStatus(ctx context.Context, status models.WorkflowStatus) ([]*models.WorkflowInstance, error) {
	query := `SELECT id, document FROM workflow_instances`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &PersistenceError{Op: "list", Err: err}
	}
	defer rows.Close()

	var out []*models.WorkflowInstance
	for rows.Next() {
		var id, doc string
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, &PersistenceError{Op: "scan", Err: err}
		}
		var inst models.WorkflowInstance
		if err := json.Unmarshal([]byte(doc), &inst); err != nil {
			return nil, &PersistenceError{Op: "decode", ID: id, Err: err}
		}
		out = append(out, &inst)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "list", Err: err}
	}
	sortInstances(out)
	return out, nil
}

// --- PDR Operations ---

// WritePDR writes a Process Decision Record.
func (s *SQLiteStore) WritePDR(ctx context.Context, action, inputsHash, outcome, workflowID, details string) (*models.PDREntry, error) {
	pdr := &models.PDREntry{
		ID:         uuid.New().String(),
		Action:     action,
		InputsHash: inputsHash,
		Outcome:    outcome,
		WorkflowID: workflowID,
		Details:    details,
		Timestamp:  time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pdr (id, action, inputs_hash, outcome, workflow_id, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		pdr.ID, pdr.Action, pdr.InputsHash, pdr.Outcome, pdr.WorkflowID, pdr.Details, pdr.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert pdr: %w", err)
	}
	return pdr, nil
}

// ListPDR returns decision records oldest first, optionally for one workflow.
func (s *SQLiteStore) ListPDR(ctx context.Context, workflowID string, limit int) ([]models.PDREntry, error) {
	query := `SELECT id, action, inputs_hash, outcome, workflow_id, details, timestamp FROM pdr`
	var args []interface{}
	if workflowID != "" {
		query += ` WHERE workflow_id = ?`
		args = append(args, workflowID)
	}
	query += ` ORDER BY timestamp ASC, rowid ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pdr: %w", err)
	}
	defer rows.Close()

	var entries []models.PDREntry
	for rows.Next() {
		var e models.PDREntry
		var wfID, details sql.NullString
		if err := rows.Scan(&e.ID, &e.Action, &e.InputsHash, &e.Outcome, &wfID, &details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan pdr: %w", err)
		}
		e.WorkflowID = wfID.String
		e.Details = details.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
