// Package tasks is the small SQLite-backed task store behind the
// tasks.* RPC methods (spec §6.3).
package tasks

import (
	"database/sql"
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/agentctl/agentctl/internal/apperr"
)

//go:embed schema.sql
var schemaSQL string

// Image is one row of task_images.
type Image struct {
	Ordinal      int
	SourcePath   string
	AddedAtMs int64
}

// Task is one row of tasks, with its ordered images.
type Task struct {
	ID              string
	ProjectPath     string
	Body            string
	CreatedAtMs int64
	UpdatedAtMs int64
	Images          []Image
}

// DB wraps the tasks SQLite file. Writes are serialized with mu,
// matching spec §5's "single SQLite file... transactions for
// multi-row writes" contract.
type DB struct {
	conn *sql.DB
	mu   sync.Mutex
}

func makeDSN(path string) string {
	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_busy_timeout", "250")
	params.Set("_foreign_keys", "ON")
	return path + "?" + params.Encode()
}

// Open creates or opens the tasks database at path, applying the
// schema idempotently.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, apperr.WithPath(apperr.CodeCreateDir, filepath.Dir(path), err)
	}
	conn, err := sql.Open("sqlite3", makeDSN(path))
	if err != nil {
		return nil, apperr.WithPath(apperr.CodeReadFile, path, err)
	}
	conn.SetMaxOpenConns(1)
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initializing tasks schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Create inserts a new task with a fresh UUIDv7 id.
func (db *DB) Create(projectPath, body string, imagePaths []string, nowMs int64) (Task, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	id := uuid.Must(uuid.NewV7()).String()
	tx, err := db.conn.Begin()
	if err != nil {
		return Task{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(
		`INSERT INTO tasks (id, project_path, body, created_at_unix_ms, updated_at_unix_ms) VALUES (?, ?, ?, ?, ?)`,
		id, projectPath, body, nowMs, nowMs,
	); err != nil {
		return Task{}, err
	}

	images := make([]Image, 0, len(imagePaths))
	for i, p := range imagePaths {
		if _, err := tx.Exec(
			`INSERT INTO task_images (task_id, ordinal, source_path, added_at_unix_ms) VALUES (?, ?, ?, ?)`,
			id, i, p, nowMs,
		); err != nil {
			return Task{}, err
		}
		images = append(images, Image{Ordinal: i, SourcePath: p, AddedAtMs: nowMs})
	}

	if err := tx.Commit(); err != nil {
		return Task{}, err
	}

	return Task{
		ID: id, ProjectPath: projectPath, Body: body,
		CreatedAtMs: nowMs, UpdatedAtMs: nowMs, Images: images,
	}, nil
}

// Get loads a single task by id, including its images ordered by
// ordinal. Returns apperr.NotFound if no such task exists.
func (db *DB) Get(id string) (Task, error) {
	row := db.conn.QueryRow(
		`SELECT id, project_path, body, created_at_unix_ms, updated_at_unix_ms FROM tasks WHERE id = ?`, id,
	)
	var t Task
	if err := row.Scan(&t.ID, &t.ProjectPath, &t.Body, &t.CreatedAtMs, &t.UpdatedAtMs); err != nil {
		if err == sql.ErrNoRows {
			return Task{}, apperr.NotFound("task")
		}
		return Task{}, err
	}

	rows, err := db.conn.Query(
		`SELECT ordinal, source_path, added_at_unix_ms FROM task_images WHERE task_id = ? ORDER BY ordinal`, id,
	)
	if err != nil {
		return Task{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var img Image
		if err := rows.Scan(&img.Ordinal, &img.SourcePath, &img.AddedAtMs); err != nil {
			return Task{}, err
		}
		t.Images = append(t.Images, img)
	}
	return t, rows.Err()
}

// List returns every task for a project, newest-updated first. An
// empty projectPath lists every task regardless of project.
func (db *DB) List(projectPath string) ([]Task, error) {
	var rows *sql.Rows
	var err error
	if projectPath == "" {
		rows, err = db.conn.Query(
			`SELECT id, project_path, body, created_at_unix_ms, updated_at_unix_ms FROM tasks ORDER BY updated_at_unix_ms DESC`,
		)
	} else {
		rows, err = db.conn.Query(
			`SELECT id, project_path, body, created_at_unix_ms, updated_at_unix_ms FROM tasks WHERE project_path = ? ORDER BY updated_at_unix_ms DESC`,
			projectPath,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.ProjectPath, &t.Body, &t.CreatedAtMs, &t.UpdatedAtMs); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Delete removes a task and (via ON DELETE CASCADE) its images.
// Returns apperr.NotFound if no such task exists.
func (db *DB) Delete(id string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	res, err := db.conn.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound("task")
	}
	return nil
}
