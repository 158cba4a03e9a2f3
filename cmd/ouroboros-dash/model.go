package main

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"ouroboros/pkg/config"
	"ouroboros/pkg/protocol"
)

// refreshInterval is how often the dashboard re-reads state from disk.
const refreshInterval = 2 * time.Second

// tickMsg is sent by Bubble Tea on every refresh interval.
type tickMsg time.Time

// snapshotMsg carries a freshly fetched Snapshot.
type snapshotMsg Snapshot

// tickCmd returns a command that sends a tickMsg after the refresh interval.
func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchCmd returns a tea.Cmd that reads a full Snapshot from disk.
func fetchCmd(cfg config.Config) tea.Cmd {
	return func() tea.Msg {
		return snapshotMsg(fetchSnapshot(context.Background(), cfg))
	}
}

// Model is the Bubble Tea model for the ouroboros dashboard.
type Model struct {
	cfg  config.Config
	snap Snapshot

	events table.Model

	width  int
	height int
}

// newModel creates the dashboard model with an empty event table.
func newModel(cfg config.Config) Model {
	columns := []table.Column{
		{Title: "Time", Width: 19},
		{Title: "Type", Width: 18},
		{Title: "Source", Width: 10},
		{Title: "Task", Width: 10},
		{Title: "Worker", Width: 10},
		{Title: "Detail", Width: 40},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(15),
	)

	theme := DefaultTheme()
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		Bold(true).
		Foreground(theme.Primary).
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true)
	styles.Selected = styles.Selected.
		Background(theme.Primary).
		Foreground(lipgloss.Color("#ffffff"))
	t.SetStyles(styles)

	return Model{cfg: cfg, events: t}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(fetchCmd(m.cfg), tickCmd())
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if h := m.height - 8; h > 3 {
			m.events.SetHeight(h)
		}

	case snapshotMsg:
		m.snap = Snapshot(msg)
		m.events.SetRows(eventRows(m.snap))

	case tickMsg:
		return m, tea.Batch(fetchCmd(m.cfg), tickCmd())
	}

	var cmd tea.Cmd
	m.events, cmd = m.events.Update(msg)
	return m, cmd
}

// eventRows converts the snapshot's events into table rows, newest first.
func eventRows(snap Snapshot) []table.Row {
	rows := make([]table.Row, 0, len(snap.Events))
	for _, e := range snap.Events {
		rows = append(rows, table.Row{
			e.CreatedAt.Format("2006-01-02 15:04:05"),
			e.Type,
			e.Source,
			shortID(e.TaskID),
			e.WorkerID,
			e.Payload,
		})
	}
	return rows
}

// View implements tea.Model.
func (m Model) View() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderStatusBar(),
		m.renderQueueBar(),
		m.events.View(),
		m.renderHelpBar(),
	)
}

// renderStatusBar renders supervisor health, session, and budget.
func (m Model) renderStatusBar() string {
	theme := DefaultTheme()

	var health string
	if m.snap.SupervisorAlive {
		health = lipgloss.NewStyle().Foreground(theme.Success).
			Render(fmt.Sprintf("supervisor: running (PID %d)", m.snap.SupervisorPID))
	} else {
		health = lipgloss.NewStyle().Foreground(theme.Error).Render("supervisor: offline")
	}

	parts := []string{health}
	if m.snap.HaveState {
		budget := fmt.Sprintf("$%.2f / $%.2f", m.snap.Runtime.SpentUSD, m.snap.Settings.TotalBudgetUSD)
		budgetStyle := lipgloss.NewStyle().Foreground(theme.Success)
		if m.snap.Runtime.SpentUSD >= m.snap.Settings.TotalBudgetUSD {
			budgetStyle = lipgloss.NewStyle().Foreground(theme.Error)
		}
		parts = append(parts,
			" | session "+shortID(m.snap.Runtime.SessionID),
			" | "+m.snap.Runtime.Branch,
			" | budget ", budgetStyle.Render(budget),
			" | evolution "+onOff(m.snap.Runtime.EvolutionEnabled),
			", background "+onOff(m.snap.Runtime.BackgroundEnabled),
		)
	}
	return lipgloss.JoinHorizontal(lipgloss.Left, parts...)
}

// renderQueueBar renders per-status task counts from the persisted queue
// snapshot.
func (m Model) renderQueueBar() string {
	theme := DefaultTheme()
	counts := queueCounts(m.snap.Queue)

	line := fmt.Sprintf("queue: %d pending, %d running",
		counts[protocol.StatusPending], counts[protocol.StatusRunning])
	if queueStale(m.snap, time.Now()) {
		line += lipgloss.NewStyle().Foreground(theme.Warning).Render("  (snapshot stale)")
	}
	return lipgloss.NewStyle().Foreground(theme.Muted).Render(line)
}

func (m Model) renderHelpBar() string {
	theme := DefaultTheme()
	return lipgloss.NewStyle().Foreground(theme.Muted).
		Render("↑↓ scroll events · q quit")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
