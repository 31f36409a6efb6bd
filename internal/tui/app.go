package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/pdxmph/tasks-tui/internal/db"
	"github.com/pdxmph/tasks-tui/internal/gitlab"
	"github.com/pdxmph/tasks-tui/internal/issues"
)

// Model represents the main application state
type Model struct {
	db      *db.DB
	adapter *issues.Adapter
	tasks   []db.Task

	selected int
	width    int
	height   int

	filterMode bool
	filter     textinput.Model

	// Remote search mode
	searchMode     bool
	searchInput    textinput.Model
	searchProject  string
	searchResults  []gitlab.SearchResult
	searchSelected int
	searching      bool

	// Delete confirmation mode
	deleteConfirmMode bool
	deleteTaskID      int

	// Smart filters
	backlogOnly bool
	hideDone    bool

	refreshing bool
	status     string
	err        error
}

// Status cycle order for the toggle key
var statusCycle = []string{db.StatusTodo, db.StatusDone, db.StatusBacklog}

// Styles
var (
	selectedStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("62")).
			Foreground(lipgloss.Color("230"))

	updatedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")) // Orange for remote changes

	doneStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	issueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39"))

	statusLineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("150"))

	borderStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240"))
)

// Messages from background sync commands
type refreshOneMsg struct {
	task   db.Task
	result *issues.FetchResult
	err    error
}

type refreshAllMsg struct {
	projectID string
	changed   int
	err       error
}

type searchDoneMsg struct {
	results []gitlab.SearchResult
}

type linkIssueMsg struct {
	err error
}

// New creates a new application model
func New(database *db.DB, adapter *issues.Adapter) (*Model, error) {
	// Load initial tasks
	tasks, err := database.ListTasks()
	if err != nil {
		return nil, fmt.Errorf("loading tasks: %w", err)
	}

	// Setup filter input
	ti := textinput.New()
	ti.Placeholder = "Filter tasks..."
	ti.Width = 30
	ti.CharLimit = 50
	ti.Prompt = "> "

	// Setup remote search input
	si := textinput.New()
	si.Placeholder = "Search remote issues..."
	si.Width = 40
	si.CharLimit = 100
	si.Prompt = "? "

	return &Model{
		db:          database,
		adapter:     adapter,
		tasks:       tasks,
		filter:      ti,
		searchInput: si,
		hideDone:    true,
	}, nil
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// reloadTasks re-reads the task list, keeping the selection in bounds
func (m *Model) reloadTasks() {
	if tasks, err := m.db.ListTasks(); err == nil {
		m.tasks = tasks
		m.selected = m.ensureValidSelection()
	}
}

// refreshOneCmd checks the selected task's remote issue in the background
func (m Model) refreshOneCmd(task db.Task) tea.Cmd {
	adapter := m.adapter
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		result, err := adapter.FetchOne(ctx, task)
		return refreshOneMsg{task: task, result: result, err: err}
	}
}

// refreshAllCmd batch-checks every syncable task of a project
func (m Model) refreshAllCmd(projectID string) tea.Cmd {
	adapter := m.adapter
	database := m.db
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		tasks, err := database.SyncableTasks(projectID)
		if err != nil {
			return refreshAllMsg{projectID: projectID, err: err}
		}
		if len(tasks) == 0 {
			return refreshAllMsg{projectID: projectID}
		}

		changed, err := adapter.FetchMany(ctx, tasks)
		if err != nil {
			return refreshAllMsg{projectID: projectID, err: err}
		}

		for _, entry := range changed {
			if err := database.ApplyIssueUpdate(entry.Task.ID, entry.Update); err != nil {
				return refreshAllMsg{projectID: projectID, err: err}
			}
		}

		return refreshAllMsg{projectID: projectID, changed: len(changed)}
	}
}

// searchCmd runs a remote issue search in the background
func (m Model) searchCmd(term, projectID string) tea.Cmd {
	adapter := m.adapter
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		return searchDoneMsg{results: adapter.SearchRemoteIssues(ctx, term, projectID)}
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.width > 0 {
			listWidth := m.width / 2
			m.filter.Width = listWidth - 4
		}
		return m, nil

	case refreshOneMsg:
		m.refreshing = false
		if msg.err != nil {
			m.status = fmt.Sprintf("refresh failed: %v", msg.err)
			return m, nil
		}
		if msg.result == nil {
			m.status = fmt.Sprintf("#%s is up to date", msg.task.IssueID)
			return m, nil
		}
		if err := m.db.ApplyIssueUpdate(msg.task.ID, msg.result.Update); err != nil {
			m.err = err
			return m, nil
		}
		m.status = fmt.Sprintf("updated from remote: %s", msg.result.IssueTitle)
		m.reloadTasks()
		return m, nil

	case refreshAllMsg:
		m.refreshing = false
		if msg.err != nil {
			m.status = fmt.Sprintf("sync %s failed: %v", msg.projectID, msg.err)
			return m, nil
		}
		if msg.changed == 0 {
			m.status = fmt.Sprintf("%s: no remote changes", msg.projectID)
		} else {
			m.status = fmt.Sprintf("%s: %d task(s) updated", msg.projectID, msg.changed)
		}
		m.reloadTasks()
		return m, nil

	case searchDoneMsg:
		m.searching = false
		m.searchResults = msg.results
		m.searchSelected = 0
		if len(msg.results) == 0 {
			m.status = "no remote issues found"
		}
		return m, nil

	case linkIssueMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.reloadTasks()
		return m, nil

	case tea.KeyMsg:
		// Delete confirmation mode handling
		if m.deleteConfirmMode {
			switch msg.String() {
			case "y", "Y":
				if err := m.db.DeleteTask(m.deleteTaskID); err != nil {
					m.err = err
				} else {
					m.reloadTasks()
				}
				m.deleteConfirmMode = false
				m.deleteTaskID = 0
				return m, nil
			default:
				// Any other key cancels
				m.deleteConfirmMode = false
				m.deleteTaskID = 0
				return m, nil
			}
		}

		// Remote search mode handling
		if m.searchMode {
			switch msg.String() {
			case "esc":
				m.searchMode = false
				m.searchInput.Reset()
				m.searchResults = nil
				return m, nil
			case "enter":
				if len(m.searchResults) > 0 && m.searchSelected < len(m.searchResults) {
					// Link the selected result as a new task
					result := m.searchResults[m.searchSelected]
					task := db.Task{
						Title:     fmt.Sprintf("#%d %s", result.IID, result.Title),
						Status:    db.StatusTodo,
						ProjectID: m.searchProject,
						IssueID:   strconv.Itoa(result.IID),
					}
					m.searchMode = false
					m.searchInput.Reset()
					m.searchResults = nil
					database := m.db
					return m, func() tea.Msg {
						_, err := database.AddTask(task)
						return linkIssueMsg{err: err}
					}
				}
				// No results yet: run the search
				term := m.searchInput.Value()
				if term != "" && !m.searching {
					m.searching = true
					return m, m.searchCmd(term, m.searchProject)
				}
				return m, nil
			case "down", "ctrl+n":
				if m.searchSelected < len(m.searchResults)-1 {
					m.searchSelected++
				}
				return m, nil
			case "up", "ctrl+p":
				if m.searchSelected > 0 {
					m.searchSelected--
				}
				return m, nil
			}

			var cmd tea.Cmd
			m.searchInput, cmd = m.searchInput.Update(msg)
			return m, cmd
		}

		// Filter mode handling
		if m.filterMode {
			switch msg.String() {
			case "esc":
				m.filterMode = false
				m.filter.Reset()
				m.selected = m.ensureValidSelection()
				return m, nil
			case "enter":
				m.filterMode = false
				m.selected = m.ensureValidSelection()
				return m, nil
			case "up":
				if m.selected > 0 {
					m.selected--
				}
				return m, nil
			case "down":
				if m.selected < len(m.filteredTasks())-1 {
					m.selected++
				}
				return m, nil
			}

			var cmd tea.Cmd
			m.filter, cmd = m.filter.Update(msg)
			m.selected = m.ensureValidSelection()
			return m, cmd
		}

		// Normal mode handling
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit

		case "j", "down":
			if m.selected < len(m.filteredTasks())-1 {
				m.selected++
			}

		case "k", "up":
			if m.selected > 0 {
				m.selected--
			}

		case "/":
			m.filterMode = true
			m.filter.Reset()
			m.filter.Focus()
			return m, textinput.Blink

		case "esc":
			if m.filter.Value() != "" {
				m.filter.Reset()
				m.selected = m.ensureValidSelection()
				return m, nil
			}

		case "enter":
			// Viewing a task clears its remote-change highlight
			tasks := m.filteredTasks()
			if len(tasks) > 0 && m.selected < len(tasks) {
				task := tasks[m.selected]
				if task.IssueWasUpdated {
					if err := m.db.ClearIssueWasUpdated(task.ID); err != nil {
						m.err = err
					} else {
						m.reloadTasks()
					}
				}
			}

		case "x":
			// Cycle task status
			tasks := m.filteredTasks()
			if len(tasks) > 0 && m.selected < len(tasks) {
				task := tasks[m.selected]
				next := nextStatus(task.Status)
				if err := m.db.SetStatus(task.ID, next); err != nil {
					m.err = err
				} else {
					m.reloadTasks()
				}
			}

		case "d":
			// Delete task - enter confirmation mode
			tasks := m.filteredTasks()
			if len(tasks) > 0 && m.selected < len(tasks) {
				m.deleteConfirmMode = true
				m.deleteTaskID = tasks[m.selected].ID
			}
			return m, nil

		case "r":
			// Refresh selected task from remote
			tasks := m.filteredTasks()
			if len(tasks) > 0 && m.selected < len(tasks) && !m.refreshing {
				task := tasks[m.selected]
				if !task.IsLinked() {
					m.status = "task is not linked to an issue"
					return m, nil
				}
				m.refreshing = true
				m.status = fmt.Sprintf("checking #%s...", task.IssueID)
				return m, m.refreshOneCmd(task)
			}

		case "R":
			// Batch refresh the selected task's project
			tasks := m.filteredTasks()
			if len(tasks) > 0 && m.selected < len(tasks) && !m.refreshing {
				task := tasks[m.selected]
				if task.ProjectID == "" {
					m.status = "task has no project"
					return m, nil
				}
				m.refreshing = true
				m.status = fmt.Sprintf("syncing %s...", task.ProjectID)
				return m, m.refreshAllCmd(task.ProjectID)
			}

		case "s":
			// Enter remote search mode, scoped to the selected task's project
			tasks := m.filteredTasks()
			project := ""
			if len(tasks) > 0 && m.selected < len(tasks) {
				project = tasks[m.selected].ProjectID
			}
			if project == "" {
				m.status = "select a task with a project to search its issues"
				return m, nil
			}
			m.searchMode = true
			m.searchProject = project
			m.searchResults = nil
			m.searchInput.Reset()
			m.searchInput.Focus()
			return m, textinput.Blink

		case "o":
			// Show the issue link for the selected task
			tasks := m.filteredTasks()
			if len(tasks) > 0 && m.selected < len(tasks) {
				task := tasks[m.selected]
				if !task.IsLinked() {
					m.status = "task is not linked to an issue"
					return m, nil
				}
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				link, err := m.adapter.IssueLink(ctx, task.IssueID, task.ProjectID)
				cancel()
				if err != nil {
					m.err = err
				} else {
					m.status = link
				}
			}
			return m, nil

		case "b":
			// Toggle backlog-only view
			m.backlogOnly = !m.backlogOnly
			m.selected = m.ensureValidSelection()
			return m, nil

		case "D":
			// Toggle done visibility
			m.hideDone = !m.hideDone
			m.selected = m.ensureValidSelection()
			return m, nil
		}
	}

	return m, nil
}

func nextStatus(status string) string {
	for i, s := range statusCycle {
		if s == status {
			return statusCycle[(i+1)%len(statusCycle)]
		}
	}
	return db.StatusTodo
}

// filteredTasks returns tasks matching the current filters
func (m Model) filteredTasks() []db.Task {
	tasks := m.tasks

	if m.backlogOnly {
		var backlog []db.Task
		for _, t := range tasks {
			if t.Status == db.StatusBacklog {
				backlog = append(backlog, t)
			}
		}
		tasks = backlog
	} else if m.hideDone {
		var open []db.Task
		for _, t := range tasks {
			if t.Status != db.StatusDone {
				open = append(open, t)
			}
		}
		tasks = open
	}

	if m.filter.Value() == "" {
		return tasks
	}

	filter := strings.ToLower(m.filter.Value())
	var filtered []db.Task
	for _, t := range tasks {
		if strings.Contains(strings.ToLower(t.Title), filter) ||
			strings.Contains(strings.ToLower(t.Notes), filter) ||
			strings.Contains(strings.ToLower(t.ProjectID), filter) {
			filtered = append(filtered, t)
		}
	}

	return filtered
}

// ensureValidSelection ensures the current selection is within bounds
func (m Model) ensureValidSelection() int {
	tasks := m.filteredTasks()
	if len(tasks) == 0 {
		return 0
	}
	if m.selected >= len(tasks) {
		return len(tasks) - 1
	}
	if m.selected < 0 {
		return 0
	}
	return m.selected
}

// View renders the UI
func (m Model) View() string {
	if m.err != nil {
		return fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err)
	}

	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	// Calculate pane widths
	listWidth := m.width / 2
	detailWidth := m.width - listWidth - 3

	listView := m.renderList(listWidth, m.height-3)
	detailView := m.renderDetail(detailWidth, m.height-3)

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		borderStyle.Width(listWidth).Height(m.height-3).Render(listView),
		borderStyle.Width(detailWidth).Height(m.height-3).Render(detailView),
	)

	help := m.renderHelp()
	view := lipgloss.JoinVertical(lipgloss.Left, content, help)

	if m.searchMode {
		return m.renderSearch()
	}

	if m.deleteConfirmMode {
		return m.renderDeleteConfirmation()
	}

	return view
}

// renderList renders the task list
func (m Model) renderList(width, height int) string {
	var lines []string

	if m.filterMode {
		lines = append(lines, m.filter.View())
		lines = append(lines, "")
		height -= 2
	}

	tasks := m.filteredTasks()

	// Calculate visible range
	visibleHeight := height - 2 // account for header
	startIdx := 0
	if m.selected >= visibleHeight {
		startIdx = m.selected - visibleHeight + 1
	}

	// Header
	header := fmt.Sprintf("Tasks (%d)", len(tasks))
	if m.backlogOnly {
		header += " [backlog]"
	} else if !m.hideDone {
		header += " [all]"
	}

	lines = append(lines, header)
	lines = append(lines, strings.Repeat("─", width-2))

	for i := startIdx; i < len(tasks) && i < startIdx+visibleHeight; i++ {
		t := tasks[i]

		var line string
		switch {
		case t.IssueWasUpdated:
			line = updatedStyle.Render("!") + " "
		case t.Status == db.StatusDone:
			line = "✓ "
		case t.Status == db.StatusBacklog:
			line = "· "
		default:
			line = "  "
		}

		line += t.Title

		if t.IsLinked() && t.IssuePoints > 0 {
			line += " " + issueStyle.Render(fmt.Sprintf("(%dp)", t.IssuePoints))
		}

		if i == m.selected {
			line = selectedStyle.Render(line)
		} else if t.Status == db.StatusDone {
			line = doneStyle.Render(line)
		}

		lines = append(lines, line)
	}

	return strings.Join(lines, "\n")
}

// renderDetail renders the task detail view
func (m Model) renderDetail(width, height int) string {
	tasks := m.filteredTasks()
	if len(tasks) == 0 || m.selected >= len(tasks) {
		return "No task selected"
	}

	t := tasks[m.selected]
	var lines []string

	lines = append(lines, t.Title)
	lines = append(lines, strings.Repeat("─", width-2))
	lines = append(lines, "")

	lines = append(lines, fmt.Sprintf("Status: %s", t.Status))

	if t.IsLinked() {
		lines = append(lines, fmt.Sprintf("Project: %s", t.ProjectID))
		lines = append(lines, fmt.Sprintf("Issue: #%s", t.IssueID))
		if t.IssuePoints > 0 {
			lines = append(lines, fmt.Sprintf("Points: %d", t.IssuePoints))
		}
		if t.IssueLastUpdated > 0 {
			synced := time.UnixMilli(t.IssueLastUpdated)
			days := int(time.Since(synced).Hours() / 24)
			lines = append(lines, fmt.Sprintf("Last Synced: %s (%d days ago)",
				synced.Format("2006-01-02"), days))
		} else {
			lines = append(lines, "Last Synced: Never")
		}
		if t.IssueWasUpdated {
			lines = append(lines, updatedStyle.Render("Changed on remote since last viewed"))
		}
	}

	lines = append(lines, "")

	if t.Notes != "" {
		lines = append(lines, "Notes:")
		lines = append(lines, t.Notes)
		lines = append(lines, "")
	}

	if m.status != "" {
		lines = append(lines, "")
		lines = append(lines, statusLineStyle.Render(m.status))
	}

	return strings.Join(lines, "\n")
}

// renderHelp renders the help line
func (m Model) renderHelp() string {
	if m.deleteConfirmMode {
		return " y: confirm delete • any other key: cancel"
	}

	if m.searchMode {
		return " Type to search • Enter: search/link • ↑/↓: navigate • Esc: cancel"
	}

	if m.filterMode {
		return " Type to filter • ↑/↓: navigate • Enter: confirm • Esc: cancel"
	}

	help := " j/k: navigate • /: filter • r: refresh • R: sync project • s: search remote • o: link"
	help += " • x: status • b: backlog • D: done • d: delete"

	if m.filter.Value() != "" {
		help += " • Esc: clear filter"
	}

	help += " • q: quit"

	return help
}

// renderSearch renders the remote search overlay
func (m Model) renderSearch() string {
	var lines []string
	lines = append(lines, fmt.Sprintf("Search issues in %s:", m.searchProject))
	lines = append(lines, "")
	lines = append(lines, m.searchInput.View())
	lines = append(lines, "")

	if m.searching {
		lines = append(lines, "Searching...")
	}

	for i, r := range m.searchResults {
		line := fmt.Sprintf("  #%d %s", r.IID, r.Title)
		if i == m.searchSelected {
			line = selectedStyle.Render(line)
		}
		lines = append(lines, line)
	}

	if len(m.searchResults) > 0 {
		lines = append(lines, "")
		lines = append(lines, "Press Enter to add the selected issue as a task")
	}

	box := borderStyle.Padding(1, 2).Render(strings.Join(lines, "\n"))
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
}

// renderDeleteConfirmation renders the delete confirmation overlay
func (m Model) renderDeleteConfirmation() string {
	task, err := m.db.GetTask(m.deleteTaskID)
	title := "this task"
	if err == nil {
		title = task.Title
	}

	box := borderStyle.Padding(1, 2).Render(
		fmt.Sprintf("Delete %q?\n\ny: confirm • any other key: cancel", title))
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
}
