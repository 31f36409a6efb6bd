package db

import (
	"fmt"
	"time"
)

// CreateFixturesDatabase creates a test database with realistic sample data
func CreateFixturesDatabase(dbPath string) error {
	// Initialize empty database
	if err := Initialize(dbPath); err != nil {
		return fmt.Errorf("initializing fixtures database: %w", err)
	}

	// Open database to add test data
	database, err := Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening fixtures database: %w", err)
	}
	defer database.Close()

	lastWeek := time.Now().AddDate(0, 0, -7).UnixMilli()

	// Add fixture tasks
	fixtures := []Task{
		// Plain local tasks
		{
			Title:  "Renew domain registration",
			Notes:  "Expires end of the month",
			Status: StatusTodo,
		},
		{
			Title:  "Write release notes for 0.4",
			Status: StatusTodo,
		},
		{
			Title:  "Clean up old branches",
			Status: StatusDone,
		},
		// Tasks linked to remote issues
		{
			Title:            "#41 Crash when config file is empty",
			Status:           StatusTodo,
			ProjectID:        "demo",
			IssueID:          "41",
			IssuePoints:      3,
			IssueLastUpdated: lastWeek,
		},
		{
			Title:            "#38 Add keyboard shortcut overview",
			Status:           StatusTodo,
			ProjectID:        "demo",
			IssueID:          "38",
			IssuePoints:      1,
			IssueLastUpdated: lastWeek,
			IssueWasUpdated:  true,
		},
		{
			Title:            "#35 Dark mode colors unreadable on light terminals",
			Status:           StatusBacklog,
			ProjectID:        "demo",
			IssueID:          "35",
			IssuePoints:      2,
			IssueLastUpdated: lastWeek,
		},
	}

	for _, task := range fixtures {
		if _, err := database.AddTask(task); err != nil {
			return fmt.Errorf("adding fixture task %q: %w", task.Title, err)
		}
	}

	return nil
}
