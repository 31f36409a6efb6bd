// Package issues decides whether tasks linked to remote GitLab issues have
// changed since they were last synced, and produces the update payloads the
// task store applies. It never mutates local state itself.
package issues

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/pdxmph/tasks-tui/internal/config"
	"github.com/pdxmph/tasks-tui/internal/db"
	"github.com/pdxmph/tasks-tui/internal/gitlab"
)

// maxBatchSize is the largest iid batch the API accepts in one request;
// anything bigger comes back as a gateway error.
const maxBatchSize = 59

// Precondition errors, raised before any network call
var (
	ErrMissingProject = errors.New("task has no project configured")
	ErrMissingIssue   = errors.New("task has no issue id")
)

// ConfigProvider yields per-project integration settings as a live stream.
// The adapter takes the first value, then cancels its subscription.
type ConfigProvider interface {
	ConfigForProject(projectID string) (<-chan config.GitLabConfig, func(), error)
}

// APIClient executes calls against the remote tracker
type APIClient interface {
	GetByID(ctx context.Context, issueID string, cfg config.GitLabConfig) (*gitlab.Issue, error)
	GetByIDs(ctx context.Context, iids []int, cfg config.GitLabConfig) ([]gitlab.Issue, error)
	SearchInProject(ctx context.Context, term string, cfg config.GitLabConfig) ([]gitlab.SearchResult, error)
	GetProjectIssues(ctx context.Context, page int, cfg config.GitLabConfig) ([]gitlab.Issue, error)
}

// Adapter is the issue sync adapter
type Adapter struct {
	cfg ConfigProvider
	api APIClient
}

// NewAdapter creates an adapter over the given collaborators
func NewAdapter(cfg ConfigProvider, api APIClient) *Adapter {
	return &Adapter{cfg: cfg, api: api}
}

// FetchResult is the outcome of a single-task fetch that found a change
type FetchResult struct {
	Update db.TaskUpdate
	Issue  *gitlab.Issue
	// IssueTitle is truncated for notification display
	IssueTitle string
}

// BatchResult is one changed entry from a batch fetch
type BatchResult struct {
	Task   db.Task
	Update db.TaskUpdate
	Issue  gitlab.Issue
}

// firstConfig performs the one-shot read from the live config stream
func (a *Adapter) firstConfig(ctx context.Context, projectID string) (config.GitLabConfig, error) {
	ch, cancel, err := a.cfg.ConfigForProject(projectID)
	if err != nil {
		return config.GitLabConfig{}, fmt.Errorf("reading project config: %w", err)
	}
	defer cancel()
	select {
	case cfg := <-ch:
		return cfg, nil
	case <-ctx.Done():
		return config.GitLabConfig{}, ctx.Err()
	}
}

// IsPollingEnabled reports whether new remote issues should be imported
// into the backlog for this project
func (a *Adapter) IsPollingEnabled(ctx context.Context, projectID string) bool {
	cfg, err := a.firstConfig(ctx, projectID)
	if err != nil {
		return false
	}
	return cfg.Enabled && cfg.AutoAddToBacklog
}

// IsRefreshEnabled reports whether linked tasks should be refreshed
// automatically for this project
func (a *Adapter) IsRefreshEnabled(ctx context.Context, projectID string) bool {
	cfg, err := a.firstConfig(ctx, projectID)
	if err != nil {
		return false
	}
	return cfg.Enabled && cfg.AutoPoll
}

// IssueLink constructs a browsable URL for an issue. With a custom base URL
// the project path is appended as configured; on the default host an
// encoded path separator is decoded back to a slash.
func (a *Adapter) IssueLink(ctx context.Context, issueID, projectID string) (string, error) {
	cfg, err := a.firstConfig(ctx, projectID)
	if err != nil {
		return "", err
	}

	if cfg.BaseURL != "" {
		base := strings.TrimRight(cfg.BaseURL, "/") + "/"
		return base + cfg.Project + "/issues/" + issueID, nil
	}

	project := strings.ReplaceAll(cfg.Project, "%2F", "/")
	return gitlab.DefaultHost + "/" + project + "/issues/" + issueID, nil
}

// FetchOne checks a single task's remote issue. It returns nil when the
// issue has not changed since the task's last sync.
func (a *Adapter) FetchOne(ctx context.Context, task db.Task) (*FetchResult, error) {
	if task.ProjectID == "" {
		return nil, ErrMissingProject
	}
	if task.IssueID == "" {
		return nil, ErrMissingIssue
	}

	cfg, err := a.firstConfig(ctx, task.ProjectID)
	if err != nil {
		return nil, err
	}

	issue, err := a.api.GetByID(ctx, task.IssueID, cfg)
	if err != nil {
		return nil, err
	}

	update, changed := detectChange(task, *issue, cfg.FilterUsername)
	if !changed {
		return nil, nil
	}

	return &FetchResult{
		Update:     update,
		Issue:      issue,
		IssueTitle: truncate(issue.Title, 40),
	}, nil
}

// FetchMany checks a batch of tasks sharing one project. Tasks are sorted
// by issue id descending to mirror the API's result order, fetched in
// sequential chunks, and matched back to issues by position. Only entries
// whose issue changed are returned.
func (a *Adapter) FetchMany(ctx context.Context, tasks []db.Task) ([]BatchResult, error) {
	if len(tasks) == 0 || tasks[0].ProjectID == "" {
		return nil, ErrMissingProject
	}
	projectID := tasks[0].ProjectID

	cfg, err := a.firstConfig(ctx, projectID)
	if err != nil {
		return nil, err
	}

	type numbered struct {
		task db.Task
		iid  int
	}
	sorted := make([]numbered, 0, len(tasks))
	for _, t := range tasks {
		if t.IssueID == "" {
			return nil, ErrMissingIssue
		}
		iid, err := strconv.Atoi(t.IssueID)
		if err != nil {
			return nil, fmt.Errorf("task %d: issue id %q is not numeric: %w", t.ID, t.IssueID, err)
		}
		sorted = append(sorted, numbered{task: t, iid: iid})
	}

	// Descending by issue id, matching the order the API returns
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].iid > sorted[j].iid
	})

	// One call per chunk, strictly sequential: results must concatenate in
	// the API's original order for the positional match below to hold.
	var issues []gitlab.Issue
	for start := 0; start < len(sorted); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(sorted) {
			end = len(sorted)
		}
		iids := make([]int, 0, end-start)
		for _, n := range sorted[start:end] {
			iids = append(iids, n.iid)
		}

		batch, err := a.api.GetByIDs(ctx, iids, cfg)
		if err != nil {
			return nil, fmt.Errorf("fetching issues for %s: %w", projectID, err)
		}
		issues = append(issues, batch...)
	}

	var results []BatchResult
	for i, n := range sorted {
		if i >= len(issues) {
			break
		}
		update, changed := detectChange(n.task, issues[i], cfg.FilterUsername)
		if !changed {
			continue
		}
		results = append(results, BatchResult{
			Task:   n.task,
			Update: update,
			Issue:  issues[i],
		})
	}

	return results, nil
}

// SearchRemoteIssues searches the remote project. Search is a convenience
// feature: when it is disabled or fails, it reports no results rather than
// an error.
func (a *Adapter) SearchRemoteIssues(ctx context.Context, term, projectID string) []gitlab.SearchResult {
	cfg, err := a.firstConfig(ctx, projectID)
	if err != nil || !cfg.Enabled || !cfg.SearchEnabled {
		return []gitlab.SearchResult{}
	}

	results, err := a.api.SearchInProject(ctx, term, cfg)
	if err != nil {
		return []gitlab.SearchResult{}
	}
	return results
}

// FetchNewIssuesForBacklog returns the first page of the project's open
// issues. existingIDs is accepted for symmetry with callers but filtering
// against local state is the caller's job.
func (a *Adapter) FetchNewIssuesForBacklog(ctx context.Context, projectID string, existingIDs map[string]bool) ([]gitlab.Issue, error) {
	if projectID == "" {
		return nil, ErrMissingProject
	}

	cfg, err := a.firstConfig(ctx, projectID)
	if err != nil {
		return nil, err
	}

	return a.api.GetProjectIssues(ctx, 1, cfg)
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	if max <= 3 {
		return "..."
	}
	return string([]rune(s)[:max-3]) + "..."
}
