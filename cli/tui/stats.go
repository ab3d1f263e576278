package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nikomatsakis/cratesio-perf/cli/reader"
)

// StatsModel is a Bubble Tea model for stats views.
type StatsModel struct {
	viewType string
	data     any
	width    int
	height   int
	quitting bool
}

// NewStatsModel creates a new stats model.
func NewStatsModel(viewType string, data any) StatsModel {
	return StatsModel{
		viewType: viewType,
		data:     data,
	}
}

// Init implements tea.Model.
func (m StatsModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m StatsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
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
func (m StatsModel) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.viewType {
	case ViewStatsLedger:
		content = m.renderStatsLedger()
	case ViewStatsMetrics:
		content = m.renderStatsMetrics()
	default:
		content = fmt.Sprintf("Unknown view type: %s", m.viewType)
	}

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return content + "\n" + help
}

func (m StatsModel) renderStatsLedger() string {
	data, ok := m.data.(*reader.LedgerStats)
	if !ok {
		return "Invalid data type for stats_ledger"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Ledger"))
	b.WriteString("\n\n")

	boxes := []string{
		m.renderStatBox("Total", int64(data.Total), highlightColor),
		m.renderStatBox("Completed", int64(data.Completed), successColor),
		m.renderStatBox("Interrupted", int64(data.Interrupted), warningColor),
		m.renderStatBox("Failed", int64(data.Failed), errorColor),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("Parsed logs:"), ValueStyle.Render(fmt.Sprintf("%d", data.Parsed)))
	b.WriteString(renderCounts(data.FailuresByKind))

	return b.String()
}

func (m StatsModel) renderStatsMetrics() string {
	data, ok := m.data.(*reader.MetricsSnapshot)
	if !ok {
		return "Invalid data type for stats_metrics"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("Batch %s (%s)", data.BatchID, data.Mode)))
	b.WriteString("\n\n")

	boxes := []string{
		m.renderStatBox("Queued", data.PackagesQueued, highlightColor),
		m.renderStatBox("Skipped", data.PackagesSkipped, mutedColor),
		m.renderStatBox("Completed", data.PackagesCompleted, successColor),
		m.renderStatBox("Failed", data.PackagesFailed, errorColor),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))
	b.WriteString("\n")

	rows := [][2]string{
		{"Excluded", fmt.Sprintf("%d", data.PackagesExcluded)},
		{"Reset", fmt.Sprintf("%d", data.PackagesReset)},
		{"Worker crashes", fmt.Sprintf("%d", data.WorkerCrash)},
		{"IPC errors", fmt.Sprintf("%d", data.IPCDecodeErrors)},
		{"Store writes", fmt.Sprintf("%d ok / %d failed", data.LodeWriteSuccess, data.LodeWriteFailure)},
		{"Recorded", data.Ts},
	}
	for _, r := range rows {
		fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render(r[0]+":"), ValueStyle.Render(r[1]))
	}
	b.WriteString(renderCounts(data.FailuresByKind))

	return b.String()
}

// renderCounts lists failure kinds in name order.
func renderCounts(counts map[string]int64) string {
	if len(counts) == 0 {
		return ""
	}
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	var b strings.Builder
	b.WriteString("\n")
	for _, k := range kinds {
		fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render(k+":"), ErrorStyle.Render(fmt.Sprintf("%d", counts[k])))
	}
	return b.String()
}

func (m StatsModel) renderStatBox(label string, value int64, color lipgloss.Color) string {
	boxStyle := StatBoxStyle.BorderForeground(color)

	valueStr := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := StatLabelStyle.Render(label)

	content := lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr)

	return boxStyle.Render(content)
}

// RunStatsTUI runs the stats TUI.
func RunStatsTUI(viewType string, data any) error {
	model := NewStatsModel(viewType, data)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderStatsStatic renders stats data without full TUI (for fallback).
func RenderStatsStatic(viewType string, data any) string {
	model := NewStatsModel(viewType, data)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
