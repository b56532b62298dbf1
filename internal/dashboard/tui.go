// Package dashboard renders merge queue snapshots in the terminal, either
// as a one-shot table or as a live bubbletea view.
package dashboard

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/shunt-ci/shunt/internal/pipeline"
)

// Panel width (all panels same width)
const (
	panelTotalWidth = 69 // Total visual width including borders
	panelInnerWidth = 65 // panelTotalWidth - 4 (2 borders + 2 padding spaces)
)

// Styles (muted terminal aesthetic)
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7eb8da")) // steel blue

	borderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#3d4450")) // slate

	statusBuildingStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#7eb8da")) // steel blue

	statusBuiltStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#7ec699")) // sage green

	statusCanceledStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#d48a8a")) // dusty rose

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8b949e"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8b949e"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#c9d1d9"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#d4a054")) // amber
)

// FetchFunc returns the current queue state for rendering.
type FetchFunc func() ([]pipeline.PipelineSnapshot, error)

// Table renders one bordered panel per pipeline.
func Table(snaps []pipeline.PipelineSnapshot) string {
	if len(snaps) == 0 {
		return "No pipelines configured"
	}

	panels := make([]string, 0, len(snaps))
	for _, snap := range snaps {
		panels = append(panels, renderPipeline(snap))
	}
	return strings.Join(panels, "\n")
}

// renderPipeline builds the panel content for a single pipeline.
func renderPipeline(snap pipeline.PipelineSnapshot) string {
	title := snap.Name
	if title == "" {
		title = fmt.Sprintf("pipeline %d", snap.ID)
	}

	var content strings.Builder

	if snap.Running == nil && len(snap.Queue) == 0 {
		content.WriteString("  Queue empty")
	}

	if snap.Running != nil {
		status := "building"
		style := statusBuildingStyle
		switch {
		case snap.Running.Canceled:
			status = "canceled"
			style = statusCanceledStyle
		case snap.Running.Built:
			status = "built"
			style = statusBuiltStyle
		}
		content.WriteString(entryLine("> ", snap.Running.Pr, snap.Running.PullCommit, snap.Running.Message, status, style))
	}

	for i, item := range snap.Queue {
		if content.Len() > 0 {
			content.WriteString("\n")
		}
		content.WriteString(entryLine("  ", item.Pr, item.Commit, item.Message, fmt.Sprintf("queue %d", i+1), dimStyle))
	}

	if n := len(snap.Pending); n > 0 {
		if content.Len() > 0 {
			content.WriteString("\n")
		}
		content.WriteString(dotLeader("Pending approval", fmt.Sprintf("%d", n), panelInnerWidth))
	}

	return renderPanel(title, content.String())
}

// entryLine lays out one queue entry: marker, PR, short commit and message
// on the left, the status word right-aligned. Only the status is styled so
// truncation operates on plain text.
func entryLine(marker, pr, commit, message, status string, style lipgloss.Style) string {
	left := fmt.Sprintf("  %s#%s %s  %s", marker, pr, shortCommit(commit), message)
	leftWidth := panelInnerWidth - lipgloss.Width(status) - 2
	return padOrTruncate(left, leftWidth) + "  " + style.Render(status)
}

// shortCommit abbreviates a commit id for display.
func shortCommit(commit string) string {
	if len(commit) > 8 {
		return commit[:8]
	}
	return commit
}

// Model is the bubbletea model for `queue --watch`.
type Model struct {
	fetch    FetchFunc
	interval time.Duration
	snaps    []pipeline.PipelineSnapshot
	err      error
	updated  time.Time
	width    int
	height   int
	quitting bool
}

// tickMsg is sent periodically to refresh the display
type tickMsg time.Time

// snapshotMsg carries the result of a fetch
type snapshotMsg struct {
	snaps []pipeline.PipelineSnapshot
	err   error
}

// NewModel creates a watch model polling fetch every interval.
func NewModel(fetch FetchFunc, interval time.Duration) Model {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return Model{
		fetch:    fetch,
		interval: interval,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refresh(), tickCmd(m.interval))
}

// tickCmd creates a tick command
func tickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// refresh fetches a snapshot off the update loop.
func (m Model) refresh() tea.Cmd {
	fetch := m.fetch
	return func() tea.Msg {
		snaps, err := fetch()
		return snapshotMsg{snaps: snaps, err: err}
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, m.refresh()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		return m, tea.Batch(m.refresh(), tickCmd(m.interval))

	case snapshotMsg:
		m.err = msg.err
		if msg.err == nil {
			m.snaps = msg.snaps
			m.updated = time.Now()
		}
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.quitting {
		return "Shunt dashboard closed.\n"
	}

	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(titleStyle.Render("SHUNT"))
	b.WriteString(dimStyle.Render("  merge queue"))
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(warningStyle.Render(fmt.Sprintf("  snapshot failed: %v", m.err)))
		b.WriteString("\n\n")
	}

	b.WriteString(Table(m.snaps))
	b.WriteString("\n")

	if !m.updated.IsZero() {
		b.WriteString(dimStyle.Render(fmt.Sprintf("  updated %s", m.updated.Format("15:04:05"))))
		b.WriteString("\n")
	}

	b.WriteString(helpStyle.Render("q: quit  r: refresh"))

	return b.String()
}

// Run starts the watch program and blocks until the user quits.
func Run(fetch FetchFunc, interval time.Duration) error {
	program := tea.NewProgram(NewModel(fetch, interval), tea.WithAltScreen())
	_, err := program.Run()
	return err
}

// renderPanel builds a panel manually with guaranteed width
// Total width: panelTotalWidth (69 chars)
// Structure: ╭─ TITLE ─...─╮ / │ (space) content (space) │ / ╰─...─╯
func renderPanel(title string, content string) string {
	var lines []string

	lines = append(lines, buildTopBorder(title))
	lines = append(lines, buildEmptyLine())

	for _, line := range strings.Split(content, "\n") {
		lines = append(lines, buildContentLine(line))
	}

	lines = append(lines, buildEmptyLine())
	lines = append(lines, buildBottomBorder())

	return strings.Join(lines, "\n")
}

// buildTopBorder creates: ╭─ TITLE ─────...─────╮ with exact panelTotalWidth
func buildTopBorder(title string) string {
	titleUpper := strings.ToUpper(title)
	prefix := "╭─ "
	prefixWidth := lipgloss.Width(prefix + titleUpper + " ")

	dashCount := panelTotalWidth - prefixWidth - 1 // -1 for ╮
	if dashCount < 0 {
		dashCount = 0
	}

	// Style border chars dim, title bright
	return borderStyle.Render(prefix) + labelStyle.Render(titleUpper) + borderStyle.Render(" "+strings.Repeat("─", dashCount)+"╮")
}

// buildBottomBorder creates: ╰─────────────────────────────────────────────────╯
func buildBottomBorder() string {
	dashCount := panelTotalWidth - 2
	line := "╰" + strings.Repeat("─", dashCount) + "╯"
	return borderStyle.Render(line)
}

// buildEmptyLine creates: │                                                                 │
func buildEmptyLine() string {
	spaceCount := panelTotalWidth - 2
	border := borderStyle.Render("│")
	return border + strings.Repeat(" ", spaceCount) + border
}

// buildContentLine creates: │ (space) content padded/truncated (space) │
func buildContentLine(content string) string {
	contentWidth := panelTotalWidth - 4

	adjusted := padOrTruncate(content, contentWidth)

	// Only style borders, not content
	border := borderStyle.Render("│")
	return border + " " + adjusted + " " + border
}

// padOrTruncate adjusts s to exactly targetWidth visual chars.
func padOrTruncate(s string, targetWidth int) string {
	visualWidth := lipgloss.Width(s)

	if visualWidth == targetWidth {
		return s
	}

	if visualWidth > targetWidth {
		return truncateVisual(s, targetWidth)
	}

	return s + strings.Repeat(" ", targetWidth-visualWidth)
}

// truncateVisual truncates string to targetWidth visual chars, adding "..." only if needed
func truncateVisual(s string, targetWidth int) string {
	visualWidth := lipgloss.Width(s)

	if visualWidth <= targetWidth {
		return s
	}

	if targetWidth <= 3 {
		return strings.Repeat(".", targetWidth)
	}

	result := ""
	width := 0
	for _, r := range s {
		runeWidth := lipgloss.Width(string(r))
		if width+runeWidth > targetWidth-3 {
			break
		}
		result += string(r)
		width += runeWidth
	}

	for width < targetWidth-3 {
		result += " "
		width++
	}

	return result + "..."
}

// dotLeader creates a dot-leader line: "  Label .............. Value"
// Uses lipgloss.Width() for accurate visual width calculation
func dotLeader(label string, value string, totalWidth int) string {
	prefix := "  " + label + " "
	suffix := " " + value
	prefixWidth := lipgloss.Width(prefix)
	suffixWidth := lipgloss.Width(suffix)
	dotsNeeded := totalWidth - prefixWidth - suffixWidth
	if dotsNeeded < 3 {
		dotsNeeded = 3
	}
	return prefix + strings.Repeat(".", dotsNeeded) + suffix
}
