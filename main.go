package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pdxmph/tasks-tui/internal/config"
	"github.com/pdxmph/tasks-tui/internal/db"
	"github.com/pdxmph/tasks-tui/internal/gitlab"
	"github.com/pdxmph/tasks-tui/internal/issues"
	"github.com/pdxmph/tasks-tui/internal/poll"
	"github.com/pdxmph/tasks-tui/internal/tui"
)

func main() {
	initDB := flag.Bool("init", false, "Create a new task database")
	demo := flag.Bool("demo", false, "With -init: seed the database with sample tasks")
	configPath := flag.String("config", "", "Path to config file (default ~/.config/tasks-tui/config.toml)")
	dbPath := flag.String("db", "", "Path to database (overrides config)")
	syncOnce := flag.Bool("sync", false, "Run one sync pass for all configured projects and exit")
	flag.Parse()

	path := *configPath
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			log.Fatal(err)
		}
	}

	provider, err := config.NewProvider(path)
	if err != nil {
		log.Fatal(err)
	}
	defer provider.Close()

	dbFile := provider.DatabasePath()
	if *dbPath != "" {
		dbFile = *dbPath
	}

	// Handle database initialization
	if *initDB {
		if *demo {
			err = db.CreateFixturesDatabase(dbFile)
		} else {
			err = db.Initialize(dbFile)
		}
		if err != nil {
			log.Fatalf("Error creating database: %v", err)
		}
		fmt.Printf("Database created at %s\n", dbFile)
		return
	}

	// Open database
	database, err := db.Open(dbFile)
	if err != nil {
		log.Fatal(err)
	}
	defer database.Close()

	adapter := issues.NewAdapter(provider, gitlab.NewClient())
	poller := poll.New(database, adapter, provider)

	// One-shot sync mode for cron use
	if *syncOnce {
		ctx := context.Background()
		for _, projectID := range provider.ProjectIDs() {
			if err := poller.SyncProject(ctx, projectID); err != nil {
				log.Printf("sync %s: %v", projectID, err)
			}
		}
		return
	}

	// Background poll loop for the lifetime of the TUI
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go poller.Run(ctx)

	// Create model
	model, err := tui.New(database, adapter)
	if err != nil {
		log.Fatal(err)
	}

	// Start the program
	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}
