package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Suggestions provides autocomplete for the command input. A leading "/"
// lists commands; a leading "@" lists workflow ids.
type Suggestions struct {
	items        []SuggestionItem
	refs         []SuggestionItem
	filtered     []SuggestionItem
	selectedIdx  int
	visible      bool
	prefix       string
	currentInput string
}

// SuggestionItem represents a single autocomplete suggestion.
type SuggestionItem struct {
	Text        string
	Description string
	Type        string // "command" or "workflow"
}

var commandSuggestions = []SuggestionItem{
	{Text: "submit", Description: "Submit a task description", Type: "command"},
	{Text: "classify", Description: "Show how a task would be routed", Type: "command"},
	{Text: "cancel", Description: "Cancel the selected workflow", Type: "command"},
	{Text: "show", Description: "Open a workflow by id", Type: "command"},
	{Text: "workflows", Description: "View workflow instances", Type: "command"},
	{Text: "agents", Description: "View registered agents", Type: "command"},
	{Text: "templates", Description: "View workflow templates", Type: "command"},
	{Text: "quit", Description: "Exit the dashboard", Type: "command"},
}

// NewSuggestions creates a new suggestions handler.
func NewSuggestions() *Suggestions {
	return &Suggestions{items: commandSuggestions}
}

// Update recomputes suggestions for the current input.
func (s *Suggestions) Update(input string) {
	s.currentInput = input
	switch {
	case strings.HasPrefix(input, "/"):
		s.prefix = "/"
		s.items = commandSuggestions
	case strings.HasPrefix(input, "@"):
		s.prefix = "@"
		s.items = s.refs
	default:
		s.visible = false
		s.filtered = nil
		s.prefix = ""
		return
	}
	s.visible = true
	s.filter(strings.ToLower(input[1:]))
}

// SetReferences replaces the "@" suggestions. descriptions[i] labels
// workflowIDs[i].
func (s *Suggestions) SetReferences(workflowIDs, descriptions []string) {
	refs := make([]SuggestionItem, len(workflowIDs))
	for i, id := range workflowIDs {
		refs[i] = SuggestionItem{Text: id, Type: "workflow"}
		if i < len(descriptions) {
			refs[i].Description = descriptions[i]
		}
	}
	s.refs = refs
	if s.prefix == "@" {
		s.items = refs
		s.filter(strings.ToLower(strings.TrimPrefix(s.currentInput, "@")))
	}
}

func (s *Suggestions) filter(query string) {
	s.selectedIdx = 0
	if query == "" {
		s.filtered = s.items
		return
	}
	s.filtered = []SuggestionItem{}
	for _, item := range s.items {
		if strings.Contains(strings.ToLower(item.Text), query) {
			s.filtered = append(s.filtered, item)
		}
	}
}

// Next moves to the next suggestion.
func (s *Suggestions) Next() {
	if len(s.filtered) == 0 {
		return
	}
	s.selectedIdx = (s.selectedIdx + 1) % len(s.filtered)
}

// Prev moves to the previous suggestion.
func (s *Suggestions) Prev() {
	if len(s.filtered) == 0 {
		return
	}
	s.selectedIdx--
	if s.selectedIdx < 0 {
		s.selectedIdx = len(s.filtered) - 1
	}
}

// Selected returns the highlighted suggestion, or nil.
func (s *Suggestions) Selected() *SuggestionItem {
	if !s.IsVisible() || s.selectedIdx >= len(s.filtered) {
		return nil
	}
	return &s.filtered[s.selectedIdx]
}

// Accept returns the input line the highlighted suggestion expands to.
// A workflow reference expands to the show command for it.
func (s *Suggestions) Accept() (string, bool) {
	sel := s.Selected()
	if sel == nil {
		return "", false
	}
	if sel.Type == "workflow" {
		return "show " + sel.Text, true
	}
	return sel.Text + " ", true
}

// IsVisible reports whether the dropdown should be drawn.
func (s *Suggestions) IsVisible() bool {
	return s.visible && len(s.filtered) > 0
}

// Render renders the suggestions dropdown.
func (s *Suggestions) Render(width int) string {
	if !s.IsVisible() {
		return ""
	}

	var b strings.Builder

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(secondaryColor).
		Padding(0, 1).
		Width(max(width-4, 20))
	itemStyle := lipgloss.NewStyle().Foreground(fgColor)
	descStyle := lipgloss.NewStyle().Foreground(mutedColor).Italic(true)
	pickStyle := lipgloss.NewStyle().Background(primaryColor).Foreground(fgColor).Bold(true)

	header := "Commands"
	if s.prefix == "@" {
		header = "References"
	}
	b.WriteString(lipgloss.NewStyle().Bold(true).Foreground(primaryColor).Render(header))
	b.WriteString("\n")

	const maxVisible = 5
	for i, item := range s.filtered {
		if i >= maxVisible {
			b.WriteString(descStyle.Render(fmt.Sprintf("  ... and %d more", len(s.filtered)-maxVisible)))
			break
		}
		var line string
		if i == s.selectedIdx {
			line = pickStyle.Render("▶ " + item.Text)
			if item.Description != "" {
				line += " " + pickStyle.Render(item.Description)
			}
		} else {
			line = itemStyle.Render("  " + item.Text)
			if item.Description != "" {
				line += " " + descStyle.Render(item.Description)
			}
		}
		b.WriteString(line + "\n")
	}

	return boxStyle.Render(b.String())
}
