package db

import (
	"time"
)

// Task statuses
const (
	StatusBacklog = "backlog"
	StatusTodo    = "todo"
	StatusDone    = "done"
)

// Task represents a task in the database
type Task struct {
	ID     int
	Title  string
	Notes  string
	Status string

	// Issue sync fields. A task is linked to a remote issue when both
	// ProjectID and IssueID are non-empty.
	ProjectID        string
	IssueID          string
	IssuePoints      int
	IssueLastUpdated int64 // Unix milliseconds of last synced issue state; 0 = never
	IssueWasUpdated  bool  // set by sync, cleared when the user views the task

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsLinked reports whether the task is linked to a remote issue
func (t Task) IsLinked() bool {
	return t.ProjectID != "" && t.IssueID != ""
}

// TaskUpdate is the change payload the sync layer proposes for a task.
// The store applies it; nothing else mutates sync state.
type TaskUpdate struct {
	Title            string
	IssuePoints      int
	IssueLastUpdated int64
	IssueWasUpdated  bool
}
