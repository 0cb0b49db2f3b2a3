// Package projectdb provides SQLite-backed local project persistence.
package projectdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/beeprep/waggle/internal/apperr"
	"github.com/beeprep/waggle/internal/models"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS projects (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL DEFAULT '',
	canvas_state TEXT NOT NULL DEFAULT '{}',
	updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_projects_updated_at ON projects(updated_at);
`

// DB wraps a sql.DB with project-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("projectdb: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("projectdb: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("projectdb: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// GetProject returns the project with the given id.
func (db *DB) GetProject(ctx context.Context, id string) (*models.Project, error) {
	var p models.Project
	var state string
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, name, canvas_state, updated_at FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &state, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("projectdb: project %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("projectdb: get project: %w", err)
	}
	p.CanvasState = []byte(state)
	return &p, nil
}

// UpsertProject inserts or replaces a project. When the project has no id yet, a
// fresh UUID is assigned. Returns the persisted id.
func (db *DB) UpsertProject(ctx context.Context, p *models.Project) (string, error) {
	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}
	state := string(p.CanvasState)
	if state == "" {
		state = "{}"
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO projects (id, name, canvas_state, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name         = excluded.name,
			canvas_state = excluded.canvas_state,
			updated_at   = excluded.updated_at
	`, id, p.Name, state, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("projectdb: upsert project: %w", err)
	}
	return id, nil
}

// List returns all projects, most recently updated first.
func (db *DB) List() ([]models.ProjectSummary, error) {
	rows, err := db.conn.Query(`SELECT id, name, updated_at FROM projects ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("projectdb: list projects: %w", err)
	}
	defer rows.Close()

	var out []models.ProjectSummary
	for rows.Next() {
		var s models.ProjectSummary
		if err := rows.Scan(&s.ID, &s.Name, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("projectdb: scan project: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Delete removes a project.
func (db *DB) Delete(id string) error {
	res, err := db.conn.Exec(`DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("projectdb: delete project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("projectdb: project %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}
