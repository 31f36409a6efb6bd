package db

import (
	"database/sql"
	"fmt"
	"os"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the database connection
type DB struct {
	conn *sql.DB
}

// Open creates a new database connection
func Open(dbPath string) (*DB, error) {
	// Check if DB exists
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("database not found at %s\nRun 'tasks-tui -init' to create it", dbPath)
	}

	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db := &DB{conn: conn}

	// Run any pending migrations
	if err := db.RunMigrations(); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

const taskColumns = `
	id, title, notes, status,
	project_id, issue_id, issue_points, issue_last_updated, issue_was_updated,
	created_at, updated_at`

func scanTask(row interface{ Scan(...interface{}) error }) (Task, error) {
	var t Task
	err := row.Scan(
		&t.ID, &t.Title, &t.Notes, &t.Status,
		&t.ProjectID, &t.IssueID, &t.IssuePoints, &t.IssueLastUpdated, &t.IssueWasUpdated,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return Task{}, err
	}
	// Clean up the title field - remove newlines and trim whitespace
	t.Title = strings.TrimSpace(strings.ReplaceAll(t.Title, "\n", " "))
	return t, nil
}

// ListTasks returns all tasks, backlog last, newest first within a status
func (db *DB) ListTasks() ([]Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		ORDER BY
			CASE status WHEN 'todo' THEN 0 WHEN 'done' THEN 1 ELSE 2 END,
			created_at DESC
	`

	rows, err := db.conn.Query(query)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		tasks = append(tasks, t)
	}

	return tasks, rows.Err()
}

// GetTask retrieves a single task by ID
func (db *DB) GetTask(id int) (*Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE id = ?
	`

	t, err := scanTask(db.conn.QueryRow(query, id))
	if err != nil {
		return nil, err
	}

	return &t, nil
}

// AddTask creates a new task in the database
func (db *DB) AddTask(task Task) (int64, error) {
	if task.Status == "" {
		task.Status = StatusTodo
	}

	query := `
		INSERT INTO tasks (
			title, notes, status,
			project_id, issue_id, issue_points, issue_last_updated, issue_was_updated,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`

	result, err := db.conn.Exec(query,
		task.Title,
		task.Notes,
		task.Status,
		task.ProjectID,
		task.IssueID,
		task.IssuePoints,
		task.IssueLastUpdated,
		task.IssueWasUpdated,
	)

	if err != nil {
		return 0, fmt.Errorf("inserting task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting insert ID: %w", err)
	}

	return id, nil
}

// UpdateTask updates the user-editable fields of a task
func (db *DB) UpdateTask(task Task) error {
	query := `
		UPDATE tasks
		SET title = ?,
		    notes = ?,
		    project_id = ?,
		    issue_id = ?,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	_, err := db.conn.Exec(query,
		task.Title,
		task.Notes,
		task.ProjectID,
		task.IssueID,
		task.ID,
	)

	if err != nil {
		return fmt.Errorf("updating task: %w", err)
	}

	return nil
}

// SetStatus updates the status of a task
func (db *DB) SetStatus(taskID int, status string) error {
	query := `UPDATE tasks SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	_, err := db.conn.Exec(query, status, taskID)
	if err != nil {
		return fmt.Errorf("updating task status: %w", err)
	}
	return nil
}

// DeleteTask permanently deletes a task
func (db *DB) DeleteTask(taskID int) error {
	_, err := db.conn.Exec(`DELETE FROM tasks WHERE id = ?`, taskID)
	if err != nil {
		return fmt.Errorf("deleting task: %w", err)
	}
	return nil
}

// SyncableTasks returns the tasks for a project that are linked to a
// remote issue and not done
func (db *DB) SyncableTasks(projectID string) ([]Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE project_id = ? AND issue_id != '' AND status != 'done'
	`

	rows, err := db.conn.Query(query, projectID)
	if err != nil {
		return nil, fmt.Errorf("querying syncable tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		tasks = append(tasks, t)
	}

	return tasks, rows.Err()
}

// IssueIDsForProject returns the issue ids already linked to tasks of a project
func (db *DB) IssueIDsForProject(projectID string) (map[string]bool, error) {
	rows, err := db.conn.Query(
		`SELECT issue_id FROM tasks WHERE project_id = ? AND issue_id != ''`, projectID)
	if err != nil {
		return nil, fmt.Errorf("querying issue ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning issue id: %w", err)
		}
		ids[id] = true
	}

	return ids, rows.Err()
}

// ApplyIssueUpdate applies a sync payload to a task
func (db *DB) ApplyIssueUpdate(taskID int, update TaskUpdate) error {
	query := `
		UPDATE tasks
		SET title = ?,
		    issue_points = ?,
		    issue_last_updated = ?,
		    issue_was_updated = ?,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	_, err := db.conn.Exec(query,
		update.Title,
		update.IssuePoints,
		update.IssueLastUpdated,
		update.IssueWasUpdated,
		taskID,
	)

	if err != nil {
		return fmt.Errorf("applying issue update: %w", err)
	}

	return nil
}

// ClearIssueWasUpdated resets the change highlight for a task
func (db *DB) ClearIssueWasUpdated(taskID int) error {
	query := `UPDATE tasks SET issue_was_updated = 0 WHERE id = ?`
	_, err := db.conn.Exec(query, taskID)
	if err != nil {
		return fmt.Errorf("clearing update flag: %w", err)
	}
	return nil
}
