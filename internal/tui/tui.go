// Package tui provides the interactive week dashboard: the resolved block
// set and summary for one work week, navigable week by week.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/xolan/billable/internal/block"
	"github.com/xolan/billable/internal/event"
	"github.com/xolan/billable/internal/store"
)

// KeyMap contains the dashboard key bindings.
type KeyMap struct {
	PrevWeek key.Binding
	NextWeek key.Binding
	Refresh  key.Binding
	Quit     key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		PrevWeek: key.NewBinding(
			key.WithKeys("left", "h"),
			key.WithHelp("←/h", "previous week"),
		),
		NextWeek: key.NewBinding(
			key.WithKeys("right", "l"),
			key.WithHelp("→/l", "next week"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// Styles contains the lipgloss styles used by the dashboard.
type Styles struct {
	Title     lipgloss.Style
	Header    lipgloss.Style
	Row       lipgloss.Style
	FillRow   lipgloss.Style
	Summary   lipgloss.Style
	StatLabel lipgloss.Style
	StatValue lipgloss.Style
	Help      lipgloss.Style
	Error     lipgloss.Style
}

// DefaultStyles returns the default dashboard styles.
func DefaultStyles() Styles {
	return Styles{
		Title:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).MarginBottom(1),
		Header:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("8")),
		Row:       lipgloss.NewStyle(),
		FillRow:   lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		Summary:   lipgloss.NewStyle().MarginTop(1),
		StatLabel: lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		StatValue: lipgloss.NewStyle().Bold(true),
		Help:      lipgloss.NewStyle().Foreground(lipgloss.Color("8")).MarginTop(1),
		Error:     lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
	}
}

// weekLoadedMsg carries a freshly loaded week into the model.
type weekLoadedMsg struct {
	weekStart time.Time
	blocks    []block.TimeBlock
	summary   *block.WeekSummary
	err       error
}

// Model is the dashboard model.
type Model struct {
	store     *store.Store
	weekStart time.Time

	blocks  []block.TimeBlock
	summary *block.WeekSummary
	err     error

	keys   KeyMap
	styles Styles
	width  int
}

// New creates a dashboard anchored to the given week start.
func New(st *store.Store, weekStart time.Time) Model {
	return Model{
		store:     st,
		weekStart: weekStart,
		keys:      DefaultKeyMap(),
		styles:    DefaultStyles(),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return m.loadWeek(m.weekStart)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case weekLoadedMsg:
		m.weekStart = msg.weekStart
		m.blocks = msg.blocks
		m.summary = msg.summary
		m.err = msg.err
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.PrevWeek):
			return m, m.loadWeek(m.weekStart.AddDate(0, 0, -7))
		case key.Matches(msg, m.keys.NextWeek):
			return m, m.loadWeek(m.weekStart.AddDate(0, 0, 7))
		case key.Matches(msg, m.keys.Refresh):
			return m, m.loadWeek(m.weekStart)
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	title := fmt.Sprintf("Week of %s", m.weekStart.Format("Mon 02 Jan 2006 15:04"))
	b.WriteString(m.styles.Title.Render(title))
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(m.styles.Error.Render(fmt.Sprintf("error: %v", m.err)))
		b.WriteString("\n")
	}

	if len(m.blocks) == 0 {
		b.WriteString("No blocks for this week. Run `billable process` first.\n")
	} else {
		b.WriteString(m.styles.Header.Render(fmt.Sprintf("%-22s %-14s %6s  %s", "START", "SOURCE", "HOURS", "DESCRIPTION")))
		b.WriteString("\n")
		for _, blk := range m.blocks {
			row := fmt.Sprintf("%-22s %-14s %6.1f  %s",
				blk.Start.Local().Format("Mon 02 Jan 15:04"),
				blk.Source,
				blk.DurationHours,
				truncate(blk.Description, 48))
			style := m.styles.Row
			if blk.Source == event.SourceFill {
				style = m.styles.FillRow
			}
			b.WriteString(style.Render(row))
			b.WriteString("\n")
		}
	}

	if m.summary != nil {
		b.WriteString(m.styles.Summary.Render(m.renderSummary()))
		b.WriteString("\n")
	}

	b.WriteString(m.styles.Help.Render("←/→ change week • r refresh • q quit"))
	b.WriteString("\n")
	return b.String()
}

func (m Model) renderSummary() string {
	stat := func(label string, value string) string {
		return m.styles.StatLabel.Render(label+": ") + m.styles.StatValue.Render(value)
	}
	parts := []string{
		stat("total", fmt.Sprintf("%.1fh", m.summary.TotalHours)),
		stat("filled", fmt.Sprintf("%.1fh", m.summary.Metadata.HoursFilled)),
		stat("carry-over", fmt.Sprintf("%.1fh", m.summary.Metadata.CarryOverHours)),
	}
	if m.summary.Metadata.UnfilledHours > 0 {
		parts = append(parts, stat("unfilled", fmt.Sprintf("%.1fh", m.summary.Metadata.UnfilledHours)))
	}
	return strings.Join(parts, "  ")
}

func (m Model) loadWeek(weekStart time.Time) tea.Cmd {
	st := m.store
	return func() tea.Msg {
		ctx := context.Background()
		blocks, err := st.BlocksForWeek(ctx, weekStart)
		if err != nil {
			return weekLoadedMsg{weekStart: weekStart, err: err}
		}
		summary, err := st.Summary(ctx, weekStart)
		if err != nil {
			return weekLoadedMsg{weekStart: weekStart, err: err}
		}
		return weekLoadedMsg{weekStart: weekStart, blocks: blocks, summary: summary}
	}
}

// truncate shortens s to max runes, never splitting a multi-byte character.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max-3]) + "..."
}
