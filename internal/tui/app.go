// Package tui provides the interactive workflow dashboard for Conductor.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fentz26/conductor/internal/controlplane"
	"github.com/fentz26/conductor/internal/models"
)

var (
	// Colors
	primaryColor   = lipgloss.Color("#7C3AED")
	secondaryColor = lipgloss.Color("#6366F1")
	successColor   = lipgloss.Color("#10B981")
	warningColor   = lipgloss.Color("#F59E0B")
	errorColor     = lipgloss.Color("#EF4444")
	mutedColor     = lipgloss.Color("#6B7280")
	fgColor        = lipgloss.Color("#F9FAFB")
	cyanColor      = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	inputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	itemStyle = lipgloss.NewStyle().
			Padding(0, 2)

	selectedStyle = lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(fgColor).
			Bold(true).
			Padding(0, 2)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	onlineStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	offlineStyle = lipgloss.NewStyle().
			Foreground(errorColor)
)

type mode int

const (
	modeList mode = iota
	modeDetail
	modeAgents
	modeTemplates
)

const refreshInterval = 2 * time.Second

var filters = []models.WorkflowStatus{"", models.WorkflowRunning, models.WorkflowCompleted, models.WorkflowFailed, models.WorkflowCancelled}
var filterNames = []string{"ALL", "RUNNING", "DONE", "FAILED", "CANCELLED"}

// App is the main TUI application model.
type App struct {
	client       *controlplane.Client
	workflows    []*models.WorkflowInstance
	selectedIdx  int
	current      *models.WorkflowInstance
	agents       []models.AgentDescriptor
	templates    []models.WorkflowTemplate
	input        textinput.Model
	suggestions  *Suggestions
	width        int
	height       int
	mode         mode
	filterIdx    int
	message      string
	loading      bool
	daemonOnline bool
}

// New creates a dashboard for the daemon behind client.
func New(client *controlplane.Client) *App {
	ti := textinput.New()
	ti.Placeholder = "Type: submit <task> | classify <task> | cancel | / for commands | @ for workflows"
	ti.Focus()
	ti.CharLimit = 256
	ti.Width = 80

	return &App{
		client:      client,
		input:       ti,
		suggestions: NewSuggestions(),
		mode:        modeList,
		width:       80,
		height:      24,
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		a.fetchWorkflows(),
		a.fetchCatalog(),
		a.tickCmd(),
	)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if model, cmd, handled := a.handleKey(msg); handled {
			return model, cmd
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.input.Width = msg.Width - 4

	case workflowsLoadedMsg:
		a.loading = false
		a.daemonOnline = true
		a.workflows = msg.workflows
		if a.selectedIdx >= len(a.workflows) {
			a.selectedIdx = max(0, len(a.workflows)-1)
		}
		ids := make([]string, len(a.workflows))
		labels := make([]string, len(a.workflows))
		for i, w := range a.workflows {
			ids[i] = w.ID
			labels[i] = w.TemplateName
		}
		a.suggestions.SetReferences(ids, labels)

	case workflowLoadedMsg:
		a.current = msg.workflow
		a.mode = modeDetail

	case catalogLoadedMsg:
		a.agents = msg.agents
		a.templates = msg.templates

	case tickMsg:
		switch a.mode {
		case modeList:
			cmds = append(cmds, a.fetchWorkflows())
		case modeDetail:
			if a.current != nil && !a.current.Status.Terminal() {
				cmds = append(cmds, a.fetchWorkflow(a.current.ID))
			}
		}
		cmds = append(cmds, a.tickCmd())

	case commandResultMsg:
		a.message = msg.message
		if msg.openID != "" {
			return a, a.fetchWorkflow(msg.openID)
		}
		return a, a.fetchWorkflows()

	case errMsg:
		a.loading = false
		a.daemonOnline = false
		a.message = "Error: " + msg.err.Error()
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	cmds = append(cmds, cmd)
	a.suggestions.Update(a.input.Value())

	return a, tea.Batch(cmds...)
}

// handleKey processes navigation keys. Letter shortcuts only apply while
// the input is empty so they never swallow typed commands.
func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd, bool) {
	typing := a.input.Value() != ""

	switch msg.String() {
	case "ctrl+c":
		return a, tea.Quit, true

	case "esc":
		if typing {
			a.input.SetValue("")
			a.suggestions.Update("")
			return a, nil, true
		}
		if a.mode != modeList {
			a.mode = modeList
			a.current = nil
			return a, a.fetchWorkflows(), true
		}

	case "up":
		if a.suggestions.IsVisible() {
			a.suggestions.Prev()
		} else if a.mode == modeList && a.selectedIdx > 0 {
			a.selectedIdx--
		}
		return a, nil, true

	case "down":
		if a.suggestions.IsVisible() {
			a.suggestions.Next()
		} else if a.mode == modeList && a.selectedIdx < len(a.workflows)-1 {
			a.selectedIdx++
		}
		return a, nil, true

	case "tab":
		if line, ok := a.suggestions.Accept(); ok {
			a.input.SetValue(line)
			a.input.CursorEnd()
			a.suggestions.Update(line)
			return a, nil, true
		}
		if a.mode == modeList {
			a.filterIdx = (a.filterIdx + 1) % len(filters)
			return a, a.fetchWorkflows(), true
		}

	case "enter":
		if line, ok := a.suggestions.Accept(); ok {
			a.input.SetValue(line)
			a.input.CursorEnd()
			a.suggestions.Update(line)
			return a, nil, true
		}
		line := strings.TrimSpace(a.input.Value())
		if line != "" {
			a.input.SetValue("")
			a.suggestions.Update("")
			return a, a.executeCommand(line), true
		}
		if a.mode == modeList && len(a.workflows) > 0 {
			return a, a.fetchWorkflow(a.workflows[a.selectedIdx].ID), true
		}
		return a, nil, true

	case "r":
		if !typing {
			return a, tea.Batch(a.fetchWorkflows(), a.fetchCatalog()), true
		}
	case "a":
		if !typing {
			a.mode = modeAgents
			return a, nil, true
		}
	case "t":
		if !typing {
			a.mode = modeTemplates
			return a, nil, true
		}
	}
	return a, nil, false
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	daemonStatus := onlineStyle.Render("● DAEMON")
	if !a.daemonOnline {
		daemonStatus = offlineStyle.Render("○ DAEMON")
	}
	header := titleStyle.Render("CONDUCTOR")
	header += "  " + daemonStatus
	header += "  " + lipgloss.NewStyle().Foreground(cyanColor).Render(
		fmt.Sprintf("[%d agents, %d templates]", len(a.agents), len(a.templates)))
	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("─", max(a.width, 1)) + "\n")

	contentHeight := max(a.height-8, 5)

	switch a.mode {
	case modeList:
		filterLabel := fmt.Sprintf(" Filter: [%s]", filterNames[a.filterIdx])
		b.WriteString(lipgloss.NewStyle().Foreground(mutedColor).Render(filterLabel) + "\n")
		b.WriteString(a.renderWorkflowList(contentHeight - 1))
	case modeDetail:
		b.WriteString(a.renderWorkflowDetail())
	case modeAgents:
		b.WriteString(a.renderAgents())
	case modeTemplates:
		b.WriteString(a.renderTemplates())
	}

	if a.message != "" {
		msgStyle := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(a.message, "Error") {
			msgStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString("\n" + msgStyle.Render(a.message))
	} else {
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(inputBoxStyle.Render(a.input.View()))
	if a.suggestions.IsVisible() {
		b.WriteString("\n")
		b.WriteString(a.suggestions.Render(a.width))
	}
	b.WriteString("\n")

	var status string
	switch a.mode {
	case modeList:
		status = fmt.Sprintf(" Workflows: %d | ↑↓:nav | Enter:open | Tab:filter | a:agents | t:templates | r:refresh | Ctrl+C:quit", len(a.workflows))
	case modeDetail:
		status = " Esc:back | cancel:stop workflow | Ctrl+C:quit"
	default:
		status = " Esc:back | r:refresh | Ctrl+C:quit"
	}
	b.WriteString(statusBarStyle.Width(max(a.width, 1)).Render(status))

	return b.String()
}

func (a *App) renderWorkflowList(height int) string {
	if a.loading && len(a.workflows) == 0 {
		return "\n  Loading workflows...\n"
	}
	if len(a.workflows) == 0 {
		return "\n  No workflows found. Type: submit <task> to start one.\n"
	}

	lines := make([]string, 0, len(a.workflows))
	for i, w := range a.workflows {
		label := fmt.Sprintf("%s  %-18s %s", shortID(w.ID), w.TemplateName, truncate(w.Task.Description, 48))
		if i == a.selectedIdx {
			lines = append(lines, selectedStyle.Render(fmt.Sprintf("▶ %s  %s", statusIcon(w.Status), label)))
		} else {
			lines = append(lines, itemStyle.Render(fmt.Sprintf("  %s  %s", formatStatus(w.Status), label)))
		}
	}

	if len(lines) > height {
		start := max(a.selectedIdx-height/2, 0)
		end := start + height
		if end > len(lines) {
			end = len(lines)
			start = max(0, end-height)
		}
		lines = lines[start:end]
	}
	return strings.Join(lines, "\n")
}

func (a *App) renderWorkflowDetail() string {
	w := a.current
	if w == nil {
		return "\n  Loading...\n"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("\n  %s\n", lipgloss.NewStyle().Bold(true).Render(w.Task.Description)))
	b.WriteString(fmt.Sprintf("  ID: %s\n", w.ID))
	b.WriteString(fmt.Sprintf("  Template: %s\n", w.TemplateName))
	b.WriteString(fmt.Sprintf("  Status: %s   Next step: %d\n", formatStatus(w.Status), w.CurrentStepIndex))
	if w.Error != "" {
		b.WriteString("  " + lipgloss.NewStyle().Foreground(errorColor).Render("Error: "+w.Error) + "\n")
	}

	if len(w.StepResults) > 0 {
		b.WriteString("\n  Step results:\n")
		for _, r := range w.StepResults {
			line := fmt.Sprintf("    #%d %-24s attempt %d  %s", r.StepIndex, r.AgentID+"."+r.Action, r.Attempt, formatOutcome(r.Outcome))
			if r.Error != "" {
				line += "  " + lipgloss.NewStyle().Foreground(mutedColor).Render(truncate(r.Error, 60))
			}
			b.WriteString(line + "\n")
		}
	}
	return b.String()
}

func (a *App) renderAgents() string {
	var b strings.Builder
	b.WriteString("\n  Registered Agents\n")
	b.WriteString("  " + strings.Repeat("─", 40) + "\n\n")
	if len(a.agents) == 0 {
		b.WriteString("  No agents registered.\n")
		return b.String()
	}
	for _, ag := range a.agents {
		b.WriteString(fmt.Sprintf("    %s %s %s\n",
			onlineStyle.Render("●"), ag.ID,
			lipgloss.NewStyle().Foreground(mutedColor).Render("v"+ag.Version)))
		b.WriteString(fmt.Sprintf("      actions: %s\n", strings.Join(ag.Capabilities, ", ")))
		if len(ag.Dependencies) > 0 {
			b.WriteString(fmt.Sprintf("      depends on: %s\n", strings.Join(ag.Dependencies, ", ")))
		}
	}
	return b.String()
}

func (a *App) renderTemplates() string {
	var b strings.Builder
	b.WriteString("\n  Workflow Templates\n")
	b.WriteString("  " + strings.Repeat("─", 40) + "\n\n")
	if len(a.templates) == 0 {
		b.WriteString("  No templates registered.\n")
		return b.String()
	}
	for _, t := range a.templates {
		b.WriteString(fmt.Sprintf("    %s  %s\n", lipgloss.NewStyle().Bold(true).Render(t.Name), helpStyle.Render(t.Description)))
		for i, s := range t.Steps {
			group := ""
			if s.ParallelGroup != "" {
				group = fmt.Sprintf(" [%s]", s.ParallelGroup)
			}
			b.WriteString(fmt.Sprintf("      %d. %s.%s%s\n", i, s.AgentID, s.Action, group))
		}
	}
	return b.String()
}

func formatStatus(status models.WorkflowStatus) string {
	switch status {
	case models.WorkflowPending:
		return lipgloss.NewStyle().Foreground(warningColor).Render("○ PENDING")
	case models.WorkflowRunning:
		return lipgloss.NewStyle().Foreground(primaryColor).Render("◑ RUNNING")
	case models.WorkflowCompleted:
		return lipgloss.NewStyle().Foreground(successColor).Render("● DONE")
	case models.WorkflowFailed:
		return lipgloss.NewStyle().Foreground(errorColor).Render("✗ FAILED")
	case models.WorkflowCancelled:
		return lipgloss.NewStyle().Foreground(mutedColor).Render("⊘ CANCELLED")
	default:
		return string(status)
	}
}

func statusIcon(status models.WorkflowStatus) string {
	switch status {
	case models.WorkflowPending:
		return "○"
	case models.WorkflowRunning:
		return "◑"
	case models.WorkflowCompleted:
		return "●"
	case models.WorkflowFailed:
		return "✗"
	case models.WorkflowCancelled:
		return "⊘"
	default:
		return "?"
	}
}

func formatOutcome(o models.Outcome) string {
	switch o {
	case models.OutcomeSuccess:
		return lipgloss.NewStyle().Foreground(successColor).Render(string(o))
	case models.OutcomeTimeout:
		return lipgloss.NewStyle().Foreground(warningColor).Render(string(o))
	default:
		return lipgloss.NewStyle().Foreground(errorColor).Render(string(o))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}

func (a *App) fetchWorkflows() tea.Cmd {
	a.loading = true
	status := filters[a.filterIdx]
	return func() tea.Msg {
		list, err := a.client.ListWorkflows(context.Background(), status)
		if err != nil {
			return errMsg{err}
		}
		return workflowsLoadedMsg{list}
	}
}

func (a *App) fetchWorkflow(id string) tea.Cmd {
	return func() tea.Msg {
		w, err := a.client.GetWorkflow(context.Background(), id)
		if err != nil {
			return errMsg{err}
		}
		return workflowLoadedMsg{w}
	}
}

func (a *App) fetchCatalog() tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		agents, err := a.client.Agents(ctx)
		if err != nil {
			return errMsg{err}
		}
		templates, err := a.client.Templates(ctx)
		if err != nil {
			return errMsg{err}
		}
		return catalogLoadedMsg{agents, templates}
	}
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// selectedID returns the workflow the cancel command applies to.
func (a *App) selectedID() string {
	if a.mode == modeDetail && a.current != nil {
		return a.current.ID
	}
	if len(a.workflows) > 0 && a.selectedIdx < len(a.workflows) {
		return a.workflows[a.selectedIdx].ID
	}
	return ""
}

func (a *App) executeCommand(input string) tea.Cmd {
	parts := strings.Fields(strings.TrimPrefix(input, "/"))
	if len(parts) == 0 {
		return nil
	}
	cmd, args := parts[0], parts[1:]
	rest := strings.Join(args, " ")

	switch cmd {
	case "q", "quit", "exit":
		return tea.Quit
	case "agents":
		a.mode = modeAgents
		return a.fetchCatalog()
	case "templates":
		a.mode = modeTemplates
		return a.fetchCatalog()
	case "workflows", "list":
		a.mode = modeList
		return a.fetchWorkflows()
	}

	// Resolved now; the returned command runs on another goroutine.
	selected := a.selectedID()

	return func() tea.Msg {
		ctx := context.Background()
		switch cmd {
		case "submit", "add":
			if rest == "" {
				return commandResultMsg{message: "Usage: submit <task description>"}
			}
			res, err := a.client.SubmitTask(ctx, models.Task{Description: rest})
			if err != nil {
				return commandResultMsg{message: "Error: " + err.Error()}
			}
			return commandResultMsg{message: describeResult(res), openID: res.WorkflowID}

		case "classify":
			if rest == "" {
				return commandResultMsg{message: "Usage: classify <task description>"}
			}
			route, _, err := a.client.Classify(ctx, models.Task{Description: rest})
			if err != nil {
				return commandResultMsg{message: "Error: " + err.Error()}
			}
			return commandResultMsg{message: describeRoute(route)}

		case "cancel":
			id := selected
			if len(args) > 0 {
				id = args[0]
			}
			if id == "" {
				return commandResultMsg{message: "No workflow selected"}
			}
			if err := a.client.CancelWorkflow(ctx, id); err != nil {
				return commandResultMsg{message: "Error: " + err.Error()}
			}
			return commandResultMsg{message: fmt.Sprintf("✓ Cancellation requested for %s", shortID(id))}

		case "show", "open":
			if len(args) == 0 {
				return commandResultMsg{message: "Usage: show <workflow-id>"}
			}
			return commandResultMsg{openID: args[0]}

		default:
			return commandResultMsg{message: fmt.Sprintf("Unknown: %s (try: submit, classify, cancel, show, agents, templates)", cmd)}
		}
	}
}

func describeRoute(r models.RouteDecision) string {
	switch r.Kind {
	case models.RouteWorkflow:
		return fmt.Sprintf("Route: workflow %s (score %d)", r.TemplateName, r.Score)
	case models.RouteSingleAgent:
		return fmt.Sprintf("Route: %s.%s (score %d)", r.AgentID, r.Action, r.Score)
	default:
		return "Route: unroutable, handled by the fallback agent"
	}
}

func describeResult(res *models.Result) string {
	if !res.Success {
		return "Error: " + res.Error
	}
	if res.WorkflowID != "" {
		return fmt.Sprintf("✓ Workflow %s %s with %d step results", shortID(res.WorkflowID), res.Status, len(res.StepResults))
	}
	if res.Route != nil {
		return fmt.Sprintf("✓ Handled by %s", res.Route.AgentID)
	}
	return "✓ Done"
}

type commandResultMsg struct {
	message string
	openID  string
}

type errMsg struct {
	err error
}

type workflowsLoadedMsg struct {
	workflows []*models.WorkflowInstance
}

type workflowLoadedMsg struct {
	workflow *models.WorkflowInstance
}

type catalogLoadedMsg struct {
	agents    []models.AgentDescriptor
	templates []models.WorkflowTemplate
}

type tickMsg time.Time
