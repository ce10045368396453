// Package store persists documents, detected fields, templates and
// processing jobs in SQLite. Tagged and filled DOCX payloads are kept as
// blobs next to their metadata, which keeps the engine self-contained where
// the hosted deployment would use object storage.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Job status values. Transitions: queued -> processing -> completed|failed.
const (
	JobQueued     = "queued"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("not found")

// Document is an uploaded source document and its processing state.
type Document struct {
	ID        string
	Name      string
	Status    string
	CreatedAt time.Time
}

// Field is one detected variable of a document.
type Field struct {
	ID            int64
	DocumentID    string
	FieldName     string
	FieldValue    string
	FieldTag      string
	RunFormatting string // JSON snapshot of the run formatting, may be empty
}

// Template is a reusable tagged document.
type Template struct {
	ID          string
	Name        string
	TagMetadata map[string]string
	CreatedAt   time.Time
}

// Job is one asynchronous pipeline invocation.
type Job struct {
	ID        string
	Kind      string // "process" or "fill"
	Status    string
	Error     string
	Result    json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store wraps the SQLite handle.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'uploaded',
	original BLOB,
	tagged BLOB,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS document_fields (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id TEXT NOT NULL REFERENCES documents(id),
	field_name TEXT NOT NULL,
	field_value TEXT NOT NULL,
	field_tag TEXT NOT NULL,
	run_formatting TEXT
);
CREATE TABLE IF NOT EXISTS templates (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	storage BLOB NOT NULL,
	tag_metadata TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS processing_jobs (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'queued',
	error TEXT NOT NULL DEFAULT '',
	result TEXT,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// Open opens (and migrates) the store at path. ":memory:" works for tests.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids lock
	// contention errors under concurrent job updates.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate store: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateDocument inserts a new document with its original payload.
func (s *Store) CreateDocument(name string, original []byte) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO documents (id, name, status, original) VALUES (?, ?, 'uploaded', ?)`,
		id, name, original)
	if err != nil {
		return "", fmt.Errorf("failed to insert document: %w", err)
	}
	return id, nil
}

// SetDocumentTagged stores the tagged payload and marks the document done.
func (s *Store) SetDocumentTagged(id string, tagged []byte) error {
	res, err := s.db.Exec(
		`UPDATE documents SET tagged = ?, status = 'completed' WHERE id = ?`, tagged, id)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	return checkAffected(res)
}

// GetDocumentOriginal returns the raw uploaded payload.
func (s *Store) GetDocumentOriginal(id string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT original FROM documents WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return data, err
}

// ReplaceFields replaces the detected fields of a document.
func (s *Store) ReplaceFields(documentID string, fields []Field) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM document_fields WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("failed to clear fields: %w", err)
	}
	for _, f := range fields {
		_, err := tx.Exec(
			`INSERT INTO document_fields (document_id, field_name, field_value, field_tag, run_formatting)
			 VALUES (?, ?, ?, ?, ?)`,
			documentID, f.FieldName, f.FieldValue, f.FieldTag, f.RunFormatting)
		if err != nil {
			return fmt.Errorf("failed to insert field %s: %w", f.FieldName, err)
		}
	}
	return tx.Commit()
}

// FieldsForDocument lists a document's detected fields.
func (s *Store) FieldsForDocument(documentID string) ([]Field, error) {
	rows, err := s.db.Query(
		`SELECT id, document_id, field_name, field_value, field_tag, COALESCE(run_formatting, '')
		 FROM document_fields WHERE document_id = ? ORDER BY id`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Field
	for rows.Next() {
		var f Field
		if err := rows.Scan(&f.ID, &f.DocumentID, &f.FieldName, &f.FieldValue, &f.FieldTag, &f.RunFormatting); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// CreateTemplate stores a tagged template and its tag glossary.
func (s *Store) CreateTemplate(name string, data []byte, tagMetadata map[string]string) (string, error) {
	id := uuid.NewString()
	meta, err := json.Marshal(tagMetadata)
	if err != nil {
		return "", err
	}
	_, err = s.db.Exec(
		`INSERT INTO templates (id, name, storage, tag_metadata) VALUES (?, ?, ?, ?)`,
		id, name, data, string(meta))
	if err != nil {
		return "", fmt.Errorf("failed to insert template: %w", err)
	}
	return id, nil
}

// GetTemplate returns a template's metadata.
func (s *Store) GetTemplate(id string) (*Template, error) {
	var t Template
	var meta string
	err := s.db.QueryRow(
		`SELECT id, name, tag_metadata, created_at FROM templates WHERE id = ?`, id).
		Scan(&t.ID, &t.Name, &meta, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(meta), &t.TagMetadata); err != nil {
		return nil, fmt.Errorf("corrupt tag metadata for template %s: %w", id, err)
	}
	return &t, nil
}

// GetTemplateData returns a template's stored DOCX payload.
func (s *Store) GetTemplateData(id string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT storage FROM templates WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return data, err
}

// ListTemplates lists all templates, newest first.
func (s *Store) ListTemplates() ([]Template, error) {
	rows, err := s.db.Query(
		`SELECT id, name, tag_metadata, created_at FROM templates ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		var t Template
		var meta string
		if err := rows.Scan(&t.ID, &t.Name, &meta, &t.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(meta), &t.TagMetadata); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CreateJob inserts a queued job.
func (s *Store) CreateJob(kind string) (*Job, error) {
	j := &Job{ID: uuid.NewString(), Kind: kind, Status: JobQueued}
	_, err := s.db.Exec(
		`INSERT INTO processing_jobs (id, kind, status) VALUES (?, ?, ?)`,
		j.ID, j.Kind, j.Status)
	if err != nil {
		return nil, fmt.Errorf("failed to insert job: %w", err)
	}
	return j, nil
}

// UpdateJobStatus moves a job through its state machine.
func (s *Store) UpdateJobStatus(id, status, errMsg string) error {
	res, err := s.db.Exec(
		`UPDATE processing_jobs SET status = ?, error = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return checkAffected(res)
}

// SetJobResult stores the job's result document.
func (s *Store) SetJobResult(id string, result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(
		`UPDATE processing_jobs SET result = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		string(data), id)
	if err != nil {
		return fmt.Errorf("failed to store job result: %w", err)
	}
	return checkAffected(res)
}

// GetJob returns one job.
func (s *Store) GetJob(id string) (*Job, error) {
	var j Job
	var result sql.NullString
	err := s.db.QueryRow(
		`SELECT id, kind, status, error, result, created_at, updated_at
		 FROM processing_jobs WHERE id = ?`, id).
		Scan(&j.ID, &j.Kind, &j.Status, &j.Error, &result, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if result.Valid {
		j.Result = json.RawMessage(result.String)
	}
	return &j, nil
}

// ListJobs lists recent jobs, newest first.
func (s *Store) ListJobs(limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, kind, status, error, created_at, updated_at
		 FROM processing_jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.Kind, &j.Status, &j.Error, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
