package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/nikomatsakis/cratesio-perf/cli/reader"
)

const timeLayout = "2006-01-02 15:04:05"

// InspectModel is a Bubble Tea model for inspect views.
type InspectModel struct {
	viewType string
	data     any
	width    int
	height   int
	quitting bool
}

// NewInspectModel creates a new inspect model.
func NewInspectModel(viewType string, data any) InspectModel {
	return InspectModel{
		viewType: viewType,
		data:     data,
	}
}

// Init implements tea.Model.
func (m InspectModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m InspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m InspectModel) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.viewType {
	case ViewInspectPackage:
		content = m.renderInspectPackage()
	default:
		content = fmt.Sprintf("Unknown view type: %s", m.viewType)
	}

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return content + "\n" + help
}

func (m InspectModel) renderInspectPackage() string {
	data, ok := m.data.(*reader.InspectPackageResponse)
	if !ok {
		return "Invalid data type for inspect_package"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Package " + data.Spec))
	b.WriteString("\n\n")

	row := func(label string, value string, style lipgloss.Style) {
		fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render(label+":"), style.Render(value))
	}

	row("State", string(data.State), StateStyle(string(data.State)))
	if data.Package != nil {
		row("Resolved", data.Package.String(), ValueStyle)
	}
	if data.BatchID != "" {
		row("Batch", data.BatchID, ValueStyle)
	}
	if data.Status != "" {
		row("Status", string(data.Status), StateStyle(string(data.Status)))
	}
	if data.FailureKind != "" {
		row("Failure", string(data.FailureKind), ErrorStyle)
	}
	if data.Error != "" {
		row("Error", data.Error, ErrorStyle)
	}
	row("Log", humanize.IBytes(uint64(max(data.LogBytes, 0))), ValueStyle)
	if data.Timing.OK {
		row("Timed passes", fmt.Sprintf("%d (%.3fs)", data.Timing.Passes, data.Timing.TotalSeconds), SuccessStyle)
	} else {
		row("Timed passes", "unparsed", WarningStyle)
	}
	if data.StartedAt != nil {
		row("Started", data.StartedAt.Format(timeLayout), ValueStyle)
	}
	if data.FinishedAt != nil {
		row("Finished", data.FinishedAt.Format(timeLayout), ValueStyle)
	}

	if len(data.Phases) > 0 {
		b.WriteString("\n")
		for _, p := range data.Phases {
			row(string(p.Phase), fmt.Sprintf("%s  %s", p.Status, p.Duration.Round(time.Millisecond)), StateStyle(string(p.Status)))
		}
	}

	return BoxStyle.Render(b.String())
}

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// RunInspectTUI runs the inspect TUI.
func RunInspectTUI(viewType string, data any) error {
	model := NewInspectModel(viewType, data)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderInspectStatic renders inspect data without full TUI (for fallback).
func RenderInspectStatic(viewType string, data any) string {
	model := NewInspectModel(viewType, data)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
