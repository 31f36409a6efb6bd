package gitlab

import "time"

// Issue represents a GitLab issue
type Issue struct {
	IID         int       `json:"iid"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	State       string    `json:"state"` // opened, closed
	WebURL      string    `json:"web_url"`
	UpdatedAt   time.Time `json:"updated_at"`
	Weight      int       `json:"weight"`
	Labels      []string  `json:"labels"`

	// Comments is populated for single-issue fetches only; the list
	// endpoints do not include notes.
	Comments []Note `json:"-"`
}

// Note represents a comment on an issue
type Note struct {
	ID        int       `json:"id"`
	Body      string    `json:"body"`
	System    bool      `json:"system"` // true for state-change noise, not user comments
	CreatedAt time.Time `json:"created_at"`
	Author    Author    `json:"author"`
}

// Author identifies the user who wrote a note
type Author struct {
	Username string `json:"username"`
	Name     string `json:"name"`
}

// SearchResult is a trimmed issue as returned by a project search
type SearchResult struct {
	IID    int    `json:"iid"`
	Title  string `json:"title"`
	WebURL string `json:"web_url"`
}
