// Package poll drives the periodic sync loop: it refreshes tasks linked to
// remote issues and imports new remote issues into the backlog, per
// project, using whatever the config currently allows.
package poll

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/pdxmph/tasks-tui/internal/config"
	"github.com/pdxmph/tasks-tui/internal/db"
	"github.com/pdxmph/tasks-tui/internal/gitlab"
	"github.com/pdxmph/tasks-tui/internal/issues"
)

const defaultInterval = 10 * time.Minute

// checkEvery is how often due times are evaluated; actual work happens at
// each project's own interval.
const checkEvery = 30 * time.Second

// Store is the slice of the task store the poller needs
type Store interface {
	SyncableTasks(projectID string) ([]db.Task, error)
	ApplyIssueUpdate(taskID int, update db.TaskUpdate) error
	IssueIDsForProject(projectID string) (map[string]bool, error)
	AddTask(task db.Task) (int64, error)
}

// Adapter is the slice of the sync adapter the poller needs
type Adapter interface {
	IsRefreshEnabled(ctx context.Context, projectID string) bool
	IsPollingEnabled(ctx context.Context, projectID string) bool
	FetchMany(ctx context.Context, tasks []db.Task) ([]issues.BatchResult, error)
	FetchNewIssuesForBacklog(ctx context.Context, projectID string, existingIDs map[string]bool) ([]gitlab.Issue, error)
}

// Poller runs the sync loop
type Poller struct {
	store    Store
	adapter  Adapter
	provider *config.Provider

	nextRun map[string]time.Time
}

// New creates a poller
func New(store Store, adapter Adapter, provider *config.Provider) *Poller {
	return &Poller{
		store:    store,
		adapter:  adapter,
		provider: provider,
		nextRun:  make(map[string]time.Time),
	}
}

// Run polls until the context is cancelled. Each project syncs on its own
// interval; errors are logged and the loop keeps going.
func (p *Poller) Run(ctx context.Context) {
	p.tick(ctx)

	ticker := time.NewTicker(checkEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	now := time.Now()
	for _, projectID := range p.provider.ProjectIDs() {
		if due, ok := p.nextRun[projectID]; ok && now.Before(due) {
			continue
		}
		p.nextRun[projectID] = now.Add(p.interval(ctx, projectID))

		if err := p.SyncProject(ctx, projectID); err != nil {
			log.Printf("sync %s: %v", projectID, err)
		}
	}
}

func (p *Poller) interval(ctx context.Context, projectID string) time.Duration {
	ch, cancel, err := p.provider.ConfigForProject(projectID)
	if err != nil {
		return defaultInterval
	}
	defer cancel()
	select {
	case cfg := <-ch:
		if cfg.PollIntervalMinutes > 0 {
			return time.Duration(cfg.PollIntervalMinutes) * time.Minute
		}
	case <-ctx.Done():
	}
	return defaultInterval
}

// SyncProject runs one sync pass for a project: refresh linked tasks, then
// import unseen remote issues into the backlog. Either half can be disabled
// by config.
func (p *Poller) SyncProject(ctx context.Context, projectID string) error {
	if p.adapter.IsRefreshEnabled(ctx, projectID) {
		if err := p.refreshTasks(ctx, projectID); err != nil {
			return err
		}
	}

	if p.adapter.IsPollingEnabled(ctx, projectID) {
		if err := p.importBacklog(ctx, projectID); err != nil {
			return err
		}
	}

	return nil
}

func (p *Poller) refreshTasks(ctx context.Context, projectID string) error {
	tasks, err := p.store.SyncableTasks(projectID)
	if err != nil {
		return fmt.Errorf("loading syncable tasks: %w", err)
	}
	if len(tasks) == 0 {
		return nil
	}

	changed, err := p.adapter.FetchMany(ctx, tasks)
	if err != nil {
		return fmt.Errorf("fetching issue updates: %w", err)
	}

	for _, entry := range changed {
		if err := p.store.ApplyIssueUpdate(entry.Task.ID, entry.Update); err != nil {
			return fmt.Errorf("applying update to task %d: %w", entry.Task.ID, err)
		}
	}

	if len(changed) > 0 {
		log.Printf("sync %s: %d task(s) updated from remote", projectID, len(changed))
	}

	return nil
}

func (p *Poller) importBacklog(ctx context.Context, projectID string) error {
	existing, err := p.store.IssueIDsForProject(projectID)
	if err != nil {
		return fmt.Errorf("loading known issue ids: %w", err)
	}

	remote, err := p.adapter.FetchNewIssuesForBacklog(ctx, projectID, existing)
	if err != nil {
		return fmt.Errorf("fetching backlog candidates: %w", err)
	}

	// The adapter returns the page unfiltered; dropping known issues is
	// the caller's job.
	added := 0
	for _, issue := range remote {
		iid := strconv.Itoa(issue.IID)
		if existing[iid] {
			continue
		}

		task := db.Task{
			Title:            fmt.Sprintf("#%d %s", issue.IID, issue.Title),
			Status:           db.StatusBacklog,
			ProjectID:        projectID,
			IssueID:          iid,
			IssuePoints:      issue.Weight,
			IssueLastUpdated: issue.UpdatedAt.UnixMilli(),
		}
		if _, err := p.store.AddTask(task); err != nil {
			return fmt.Errorf("adding backlog task for issue #%d: %w", issue.IID, err)
		}
		added++
	}

	if added > 0 {
		log.Printf("sync %s: %d new issue(s) added to backlog", projectID, added)
	}

	return nil
}
