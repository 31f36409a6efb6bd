package issues

import (
	"fmt"
	"sort"

	"github.com/pdxmph/tasks-tui/internal/db"
	"github.com/pdxmph/tasks-tui/internal/gitlab"
)

// detectChange compares a task's last synced state against the remote
// issue. A change counts when either the issue itself or a comment by
// somebody other than filterUsername is newer than the task's
// issue_last_updated timestamp.
//
// The returned payload pins issue_last_updated to the issue's own
// updated_at, not the newest comment time: a trailing comment keeps
// counting as "changed" until the issue itself moves past it.
func detectChange(task db.Task, issue gitlab.Issue, filterUsername string) (db.TaskUpdate, bool) {
	issueUpdate := issue.UpdatedAt.UnixMilli()

	// Single-character filters are treated as unset
	filtered := issue.Comments
	if len(filterUsername) > 1 {
		filtered = make([]gitlab.Note, 0, len(issue.Comments))
		for _, c := range issue.Comments {
			if c.Author.Username == filterUsername {
				continue
			}
			filtered = append(filtered, c)
		}
	}

	candidates := make([]int64, 0, len(filtered)+1)
	for _, c := range filtered {
		candidates = append(candidates, c.CreatedAt.UnixMilli())
	}
	candidates = append(candidates, issueUpdate)
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })
	lastRemoteUpdate := candidates[len(candidates)-1]

	if lastRemoteUpdate <= task.IssueLastUpdated {
		return db.TaskUpdate{}, false
	}

	return db.TaskUpdate{
		Title:            fmt.Sprintf("#%d %s", issue.IID, issue.Title),
		IssuePoints:      issue.Weight,
		IssueLastUpdated: issueUpdate,
		IssueWasUpdated:  true,
	}, true
}
