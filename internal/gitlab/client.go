package gitlab

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pdxmph/tasks-tui/internal/config"
)

// DefaultHost is used when no base URL override is configured
const DefaultHost = "https://gitlab.com"

// Client handles GitLab API operations
type Client struct {
	httpClient *http.Client
}

// NewClient creates a new GitLab client
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// apiBase returns the project-scoped API root for a configuration
func apiBase(cfg config.GitLabConfig) string {
	host := strings.TrimSuffix(cfg.BaseURL, "/")
	if host == "" {
		host = DefaultHost
	}
	// The project path may arrive with its separator pre-encoded; decode
	// it before escaping so it is not encoded twice.
	project := strings.ReplaceAll(cfg.Project, "%2F", "/")
	return host + "/api/v4/projects/" + url.PathEscape(project)
}

// makeRequest makes an HTTP request with proper authentication
func (c *Client) makeRequest(ctx context.Context, rawURL string, cfg config.GitLabConfig) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}

	if cfg.Token != "" {
		req.Header.Set("PRIVATE-TOKEN", cfg.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return io.ReadAll(resp.Body)
}

// GetByID fetches a single issue with its comments
func (c *Client) GetByID(ctx context.Context, issueID string, cfg config.GitLabConfig) (*Issue, error) {
	issueURL := fmt.Sprintf("%s/issues/%s", apiBase(cfg), url.PathEscape(issueID))

	body, err := c.makeRequest(ctx, issueURL, cfg)
	if err != nil {
		return nil, fmt.Errorf("error fetching issue %s: %w", issueID, err)
	}

	var issue Issue
	if err := json.Unmarshal(body, &issue); err != nil {
		return nil, fmt.Errorf("error parsing issue response: %w", err)
	}

	notes, err := c.getNotes(ctx, issueID, cfg)
	if err != nil {
		return nil, err
	}
	issue.Comments = notes

	return &issue, nil
}

// getNotes fetches the user comments on an issue, oldest first
func (c *Client) getNotes(ctx context.Context, issueID string, cfg config.GitLabConfig) ([]Note, error) {
	notesURL := fmt.Sprintf("%s/issues/%s/notes?sort=asc&order_by=created_at&per_page=100",
		apiBase(cfg), url.PathEscape(issueID))

	body, err := c.makeRequest(ctx, notesURL, cfg)
	if err != nil {
		return nil, fmt.Errorf("error fetching notes for issue %s: %w", issueID, err)
	}

	var raw []Note
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("error parsing notes response: %w", err)
	}

	// Drop system notes (label changes, milestone moves, ...)
	notes := make([]Note, 0, len(raw))
	for _, n := range raw {
		if n.System {
			continue
		}
		notes = append(notes, n)
	}

	return notes, nil
}

// GetByIDs fetches a batch of issues by iid in one call. Results are
// returned in descending iid order and do not include comments.
func (c *Client) GetByIDs(ctx context.Context, iids []int, cfg config.GitLabConfig) ([]Issue, error) {
	params := url.Values{}
	params.Set("per_page", "100")
	for _, iid := range iids {
		params.Add("iids[]", strconv.Itoa(iid))
	}
	listURL := fmt.Sprintf("%s/issues?%s", apiBase(cfg), params.Encode())

	body, err := c.makeRequest(ctx, listURL, cfg)
	if err != nil {
		return nil, fmt.Errorf("error fetching issues batch: %w", err)
	}

	var issues []Issue
	if err := json.Unmarshal(body, &issues); err != nil {
		return nil, fmt.Errorf("error parsing issues response: %w", err)
	}

	// The server orders by creation date; callers depend on descending
	// iid order, so guarantee it here.
	sort.Slice(issues, func(i, j int) bool {
		return issues[i].IID > issues[j].IID
	})

	return issues, nil
}

// SearchInProject searches issues in the project by free text
func (c *Client) SearchInProject(ctx context.Context, term string, cfg config.GitLabConfig) ([]SearchResult, error) {
	params := url.Values{}
	params.Set("search", term)
	params.Set("scope", "all")
	params.Set("per_page", "100")
	searchURL := fmt.Sprintf("%s/issues?%s", apiBase(cfg), params.Encode())

	body, err := c.makeRequest(ctx, searchURL, cfg)
	if err != nil {
		return nil, fmt.Errorf("error searching issues: %w", err)
	}

	var results []SearchResult
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("error parsing search response: %w", err)
	}

	return results, nil
}

// GetProjectIssues fetches one page of the project's open issues
func (c *Client) GetProjectIssues(ctx context.Context, page int, cfg config.GitLabConfig) ([]Issue, error) {
	params := url.Values{}
	params.Set("state", "opened")
	params.Set("per_page", "100")
	params.Set("page", strconv.Itoa(page))
	listURL := fmt.Sprintf("%s/issues?%s", apiBase(cfg), params.Encode())

	body, err := c.makeRequest(ctx, listURL, cfg)
	if err != nil {
		return nil, fmt.Errorf("error fetching project issues: %w", err)
	}

	var issues []Issue
	if err := json.Unmarshal(body, &issues); err != nil {
		return nil, fmt.Errorf("error parsing issues response: %w", err)
	}

	return issues, nil
}
