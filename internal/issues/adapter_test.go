package issues

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdxmph/tasks-tui/internal/config"
	"github.com/pdxmph/tasks-tui/internal/db"
	"github.com/pdxmph/tasks-tui/internal/gitlab"
)

type fakeProvider struct {
	cfg config.GitLabConfig
	err error

	cancels   int
	cancelled int
}

func (f *fakeProvider) ConfigForProject(projectID string) (<-chan config.GitLabConfig, func(), error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	ch := make(chan config.GitLabConfig, 1)
	ch <- f.cfg
	f.cancels++
	return ch, func() { f.cancelled++ }, nil
}

type fakeAPI struct {
	issue    *gitlab.Issue
	issueErr error

	batchCalls [][]int
	batchErrAt int // fail the nth GetByIDs call (1-based); 0 = never
	makeBatch  func(iids []int) []gitlab.Issue

	searchResults []gitlab.SearchResult
	searchErr     error
	searchCalls   int

	projectIssues []gitlab.Issue
	pageCalls     []int
}

func (f *fakeAPI) GetByID(ctx context.Context, issueID string, cfg config.GitLabConfig) (*gitlab.Issue, error) {
	if f.issueErr != nil {
		return nil, f.issueErr
	}
	return f.issue, nil
}

func (f *fakeAPI) GetByIDs(ctx context.Context, iids []int, cfg config.GitLabConfig) ([]gitlab.Issue, error) {
	f.batchCalls = append(f.batchCalls, append([]int(nil), iids...))
	if f.batchErrAt > 0 && len(f.batchCalls) == f.batchErrAt {
		return nil, errors.New("gateway error")
	}
	if f.makeBatch != nil {
		return f.makeBatch(iids), nil
	}
	return nil, nil
}

func (f *fakeAPI) SearchInProject(ctx context.Context, term string, cfg config.GitLabConfig) ([]gitlab.SearchResult, error) {
	f.searchCalls++
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.searchResults, nil
}

func (f *fakeAPI) GetProjectIssues(ctx context.Context, page int, cfg config.GitLabConfig) ([]gitlab.Issue, error) {
	f.pageCalls = append(f.pageCalls, page)
	return f.projectIssues, nil
}

func enabledConfig() config.GitLabConfig {
	return config.GitLabConfig{
		Enabled: true,
		Project: "group/app",
		Token:   "secret",
	}
}

func TestDetectChange(t *testing.T) {
	comment := func(username string, ms int64) gitlab.Note {
		return gitlab.Note{
			Author:    gitlab.Author{Username: username},
			CreatedAt: time.UnixMilli(ms),
		}
	}

	tests := []struct {
		name           string
		task           db.Task
		issue          gitlab.Issue
		filterUsername string
		wantChanged    bool
		wantSyncedAt   int64
	}{
		{
			name:        "issue newer than last sync",
			task:        db.Task{IssueID: "5", IssueLastUpdated: 1000},
			issue:       gitlab.Issue{IID: 5, Title: "Fix bug", UpdatedAt: time.UnixMilli(2000)},
			wantChanged: true,
			wantSyncedAt: 2000,
		},
		{
			name:        "issue equal to last sync",
			task:        db.Task{IssueID: "5", IssueLastUpdated: 2000},
			issue:       gitlab.Issue{IID: 5, UpdatedAt: time.UnixMilli(2000)},
			wantChanged: false,
		},
		{
			name:        "issue older than last sync",
			task:        db.Task{IssueID: "5", IssueLastUpdated: 1000},
			issue:       gitlab.Issue{IID: 5, UpdatedAt: time.UnixMilli(500)},
			wantChanged: false,
		},
		{
			name:        "never synced counts as epoch",
			task:        db.Task{IssueID: "5"},
			issue:       gitlab.Issue{IID: 5, UpdatedAt: time.UnixMilli(1)},
			wantChanged: true,
			wantSyncedAt: 1,
		},
		{
			name: "comment by someone else is a change",
			task: db.Task{IssueID: "5", IssueLastUpdated: 2000},
			issue: gitlab.Issue{
				IID:       5,
				UpdatedAt: time.UnixMilli(1500),
				Comments:  []gitlab.Note{comment("alice", 3000)},
			},
			filterUsername: "mph",
			wantChanged:    true,
			// synced timestamp pins to the issue's own updated_at, not the comment
			wantSyncedAt: 1500,
		},
		{
			name: "own comment is filtered out",
			task: db.Task{IssueID: "5", IssueLastUpdated: 2000},
			issue: gitlab.Issue{
				IID:       5,
				UpdatedAt: time.UnixMilli(1500),
				Comments:  []gitlab.Note{comment("mph", 3000)},
			},
			filterUsername: "mph",
			wantChanged:    false,
		},
		{
			name: "single-character filter matches nobody",
			task: db.Task{IssueID: "5", IssueLastUpdated: 2000},
			issue: gitlab.Issue{
				IID:       5,
				UpdatedAt: time.UnixMilli(1500),
				Comments:  []gitlab.Note{comment("m", 3000)},
			},
			filterUsername: "m",
			wantChanged:    true,
			wantSyncedAt:   1500,
		},
		{
			name: "empty filter includes all comments",
			task: db.Task{IssueID: "5", IssueLastUpdated: 2000},
			issue: gitlab.Issue{
				IID:       5,
				UpdatedAt: time.UnixMilli(1500),
				Comments:  []gitlab.Note{comment("mph", 3000)},
			},
			wantChanged:  true,
			wantSyncedAt: 1500,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			update, changed := detectChange(tt.task, tt.issue, tt.filterUsername)
			assert.Equal(t, tt.wantChanged, changed)
			if tt.wantChanged {
				assert.Equal(t, tt.wantSyncedAt, update.IssueLastUpdated)
				assert.True(t, update.IssueWasUpdated)
			}
		})
	}
}

func TestFetchOne(t *testing.T) {
	task := db.Task{
		ID:               1,
		ProjectID:        "proj",
		IssueID:          "5",
		IssueLastUpdated: 1000,
	}

	t.Run("detects change", func(t *testing.T) {
		api := &fakeAPI{
			issue: &gitlab.Issue{
				IID:       5,
				Title:     "Fix bug",
				Weight:    3,
				UpdatedAt: time.UnixMilli(2000),
			},
		}
		adapter := NewAdapter(&fakeProvider{cfg: enabledConfig()}, api)

		result, err := adapter.FetchOne(context.Background(), task)
		require.NoError(t, err)
		require.NotNil(t, result)

		assert.Equal(t, "#5 Fix bug", result.Update.Title)
		assert.Equal(t, 3, result.Update.IssuePoints)
		assert.Equal(t, int64(2000), result.Update.IssueLastUpdated)
		assert.True(t, result.Update.IssueWasUpdated)
		assert.Equal(t, "Fix bug", result.IssueTitle)
	})

	t.Run("no change returns nil", func(t *testing.T) {
		api := &fakeAPI{
			issue: &gitlab.Issue{IID: 5, Title: "Fix bug", UpdatedAt: time.UnixMilli(500)},
		}
		adapter := NewAdapter(&fakeProvider{cfg: enabledConfig()}, api)

		result, err := adapter.FetchOne(context.Background(), task)
		require.NoError(t, err)
		assert.Nil(t, result)
	})

	t.Run("long titles are truncated for display", func(t *testing.T) {
		long := "A very long issue title that goes on and on well past the display limit"
		api := &fakeAPI{
			issue: &gitlab.Issue{IID: 5, Title: long, UpdatedAt: time.UnixMilli(2000)},
		}
		adapter := NewAdapter(&fakeProvider{cfg: enabledConfig()}, api)

		result, err := adapter.FetchOne(context.Background(), task)
		require.NoError(t, err)
		require.NotNil(t, result)
		assert.Len(t, result.IssueTitle, 40)
		assert.True(t, len(result.IssueTitle) < len(long))
	})

	t.Run("truncation never splits a rune", func(t *testing.T) {
		long := strings.Repeat("ü", 60)
		api := &fakeAPI{
			issue: &gitlab.Issue{IID: 5, Title: long, UpdatedAt: time.UnixMilli(2000)},
		}
		adapter := NewAdapter(&fakeProvider{cfg: enabledConfig()}, api)

		result, err := adapter.FetchOne(context.Background(), task)
		require.NoError(t, err)
		require.NotNil(t, result)
		assert.True(t, utf8.ValidString(result.IssueTitle))
		assert.Equal(t, 40, utf8.RuneCountInString(result.IssueTitle))
	})

	t.Run("config subscription is released", func(t *testing.T) {
		provider := &fakeProvider{cfg: enabledConfig()}
		api := &fakeAPI{
			issue: &gitlab.Issue{IID: 5, Title: "Fix bug", UpdatedAt: time.UnixMilli(2000)},
		}
		adapter := NewAdapter(provider, api)

		_, err := adapter.FetchOne(context.Background(), task)
		require.NoError(t, err)
		assert.Equal(t, provider.cancels, provider.cancelled)
		assert.Positive(t, provider.cancelled)
	})

	t.Run("missing project is a precondition error", func(t *testing.T) {
		api := &fakeAPI{}
		adapter := NewAdapter(&fakeProvider{cfg: enabledConfig()}, api)

		_, err := adapter.FetchOne(context.Background(), db.Task{IssueID: "5"})
		assert.ErrorIs(t, err, ErrMissingProject)
		assert.Empty(t, api.batchCalls)
	})

	t.Run("missing issue is a precondition error", func(t *testing.T) {
		adapter := NewAdapter(&fakeProvider{cfg: enabledConfig()}, &fakeAPI{})

		_, err := adapter.FetchOne(context.Background(), db.Task{ProjectID: "proj"})
		assert.ErrorIs(t, err, ErrMissingIssue)
	})

	t.Run("remote errors propagate", func(t *testing.T) {
		api := &fakeAPI{issueErr: errors.New("boom")}
		adapter := NewAdapter(&fakeProvider{cfg: enabledConfig()}, api)

		_, err := adapter.FetchOne(context.Background(), task)
		assert.Error(t, err)
	})
}

// echoBatch returns one changed issue per requested iid, in request order.
func echoBatch(iids []int) []gitlab.Issue {
	issues := make([]gitlab.Issue, 0, len(iids))
	for _, iid := range iids {
		issues = append(issues, gitlab.Issue{
			IID:       iid,
			Title:     fmt.Sprintf("Issue %d", iid),
			UpdatedAt: time.UnixMilli(5000),
		})
	}
	return issues
}

func manyTasks(n int) []db.Task {
	tasks := make([]db.Task, 0, n)
	for i := 1; i <= n; i++ {
		tasks = append(tasks, db.Task{
			ID:               i,
			ProjectID:        "proj",
			IssueID:          strconv.Itoa(i),
			IssueLastUpdated: 1000,
		})
	}
	return tasks
}

func TestFetchMany(t *testing.T) {
	t.Run("chunks at the batch limit", func(t *testing.T) {
		api := &fakeAPI{makeBatch: echoBatch}
		adapter := NewAdapter(&fakeProvider{cfg: enabledConfig()}, api)

		results, err := adapter.FetchMany(context.Background(), manyTasks(130))
		require.NoError(t, err)

		require.Len(t, api.batchCalls, 3)
		assert.Len(t, api.batchCalls[0], 59)
		assert.Len(t, api.batchCalls[1], 59)
		assert.Len(t, api.batchCalls[2], 12)

		// Tasks are sorted by issue id descending before chunking
		assert.Equal(t, 130, api.batchCalls[0][0])
		assert.Equal(t, 72, api.batchCalls[0][58])
		assert.Equal(t, 1, api.batchCalls[2][11])

		// Every task changed, and each matched its own issue by position
		require.Len(t, results, 130)
		for _, r := range results {
			assert.Equal(t, r.Task.IssueID, strconv.Itoa(r.Issue.IID))
			assert.Equal(t, fmt.Sprintf("#%d Issue %d", r.Issue.IID, r.Issue.IID), r.Update.Title)
		}
	})

	t.Run("only changed entries are returned", func(t *testing.T) {
		api := &fakeAPI{makeBatch: func(iids []int) []gitlab.Issue {
			issues := echoBatch(iids)
			for i := range issues {
				if issues[i].IID%2 == 0 {
					issues[i].UpdatedAt = time.UnixMilli(500) // older than last sync
				}
			}
			return issues
		}}
		adapter := NewAdapter(&fakeProvider{cfg: enabledConfig()}, api)

		results, err := adapter.FetchMany(context.Background(), manyTasks(10))
		require.NoError(t, err)
		require.Len(t, results, 5)
		for _, r := range results {
			assert.Equal(t, 1, r.Issue.IID%2)
		}
	})

	t.Run("empty set fails before any network call", func(t *testing.T) {
		api := &fakeAPI{}
		adapter := NewAdapter(&fakeProvider{cfg: enabledConfig()}, api)

		_, err := adapter.FetchMany(context.Background(), nil)
		assert.ErrorIs(t, err, ErrMissingProject)
		assert.Empty(t, api.batchCalls)
	})

	t.Run("missing project fails before any network call", func(t *testing.T) {
		api := &fakeAPI{}
		adapter := NewAdapter(&fakeProvider{cfg: enabledConfig()}, api)

		_, err := adapter.FetchMany(context.Background(), []db.Task{{IssueID: "5"}})
		assert.ErrorIs(t, err, ErrMissingProject)
		assert.Empty(t, api.batchCalls)
	})

	t.Run("chunk failure fails the whole batch", func(t *testing.T) {
		api := &fakeAPI{makeBatch: echoBatch, batchErrAt: 2}
		adapter := NewAdapter(&fakeProvider{cfg: enabledConfig()}, api)

		_, err := adapter.FetchMany(context.Background(), manyTasks(130))
		assert.Error(t, err)
		// The failing chunk stops the sequence; the third is never attempted
		assert.Len(t, api.batchCalls, 2)
	})
}

func TestIssueLink(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.GitLabConfig
		want string
	}{
		{
			name: "custom base url",
			cfg:  config.GitLabConfig{BaseURL: "https://git.example.com", Project: "group/app"},
			want: "https://git.example.com/group/app/issues/42",
		},
		{
			name: "custom base url with trailing slash",
			cfg:  config.GitLabConfig{BaseURL: "https://git.example.com/", Project: "group/app"},
			want: "https://git.example.com/group/app/issues/42",
		},
		{
			name: "custom base url keeps encoded separator",
			cfg:  config.GitLabConfig{BaseURL: "https://git.example.com", Project: "group%2Fapp"},
			want: "https://git.example.com/group%2Fapp/issues/42",
		},
		{
			name: "default host decodes separator",
			cfg:  config.GitLabConfig{Project: "group%2Fapp"},
			want: "https://gitlab.com/group/app/issues/42",
		},
		{
			name: "default host with plain path",
			cfg:  config.GitLabConfig{Project: "group/app"},
			want: "https://gitlab.com/group/app/issues/42",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := NewAdapter(&fakeProvider{cfg: tt.cfg}, &fakeAPI{})
			link, err := adapter.IssueLink(context.Background(), "42", "proj")
			require.NoError(t, err)
			assert.Equal(t, tt.want, link)
		})
	}
}

func TestSearchRemoteIssues(t *testing.T) {
	results := []gitlab.SearchResult{{IID: 7, Title: "Broken layout"}}

	t.Run("returns results when enabled", func(t *testing.T) {
		cfg := enabledConfig()
		cfg.SearchEnabled = true
		api := &fakeAPI{searchResults: results}
		adapter := NewAdapter(&fakeProvider{cfg: cfg}, api)

		got := adapter.SearchRemoteIssues(context.Background(), "layout", "proj")
		assert.Equal(t, results, got)
	})

	t.Run("disabled search returns empty without a call", func(t *testing.T) {
		api := &fakeAPI{searchResults: results}
		adapter := NewAdapter(&fakeProvider{cfg: enabledConfig()}, api)

		got := adapter.SearchRemoteIssues(context.Background(), "layout", "proj")
		assert.Empty(t, got)
		assert.Zero(t, api.searchCalls)
	})

	t.Run("remote failure is swallowed", func(t *testing.T) {
		cfg := enabledConfig()
		cfg.SearchEnabled = true
		api := &fakeAPI{searchErr: errors.New("boom")}
		adapter := NewAdapter(&fakeProvider{cfg: cfg}, api)

		got := adapter.SearchRemoteIssues(context.Background(), "layout", "proj")
		assert.Empty(t, got)
	})
}

func TestFetchNewIssuesForBacklog(t *testing.T) {
	t.Run("fetches page one unfiltered", func(t *testing.T) {
		remote := []gitlab.Issue{{IID: 10}, {IID: 9}}
		api := &fakeAPI{projectIssues: remote}
		adapter := NewAdapter(&fakeProvider{cfg: enabledConfig()}, api)

		// Known ids are passed through but filtering is the caller's job
		got, err := adapter.FetchNewIssuesForBacklog(context.Background(), "proj",
			map[string]bool{"10": true})
		require.NoError(t, err)
		assert.Equal(t, remote, got)
		assert.Equal(t, []int{1}, api.pageCalls)
	})

	t.Run("missing project is a precondition error", func(t *testing.T) {
		api := &fakeAPI{}
		adapter := NewAdapter(&fakeProvider{cfg: enabledConfig()}, api)

		_, err := adapter.FetchNewIssuesForBacklog(context.Background(), "", nil)
		assert.ErrorIs(t, err, ErrMissingProject)
		assert.Empty(t, api.pageCalls)
	})
}

func TestFeatureFlags(t *testing.T) {
	tests := []struct {
		name        string
		cfg         config.GitLabConfig
		wantPoll    bool
		wantRefresh bool
	}{
		{
			name:        "everything on",
			cfg:         config.GitLabConfig{Enabled: true, AutoPoll: true, AutoAddToBacklog: true},
			wantPoll:    true,
			wantRefresh: true,
		},
		{
			name: "disabled overrides feature flags",
			cfg:  config.GitLabConfig{AutoPoll: true, AutoAddToBacklog: true},
		},
		{
			name:        "refresh only",
			cfg:         config.GitLabConfig{Enabled: true, AutoPoll: true},
			wantRefresh: true,
		},
		{
			name:     "backlog import only",
			cfg:      config.GitLabConfig{Enabled: true, AutoAddToBacklog: true},
			wantPoll: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := NewAdapter(&fakeProvider{cfg: tt.cfg}, &fakeAPI{})
			assert.Equal(t, tt.wantPoll, adapter.IsPollingEnabled(context.Background(), "proj"))
			assert.Equal(t, tt.wantRefresh, adapter.IsRefreshEnabled(context.Background(), "proj"))
		})
	}
}
