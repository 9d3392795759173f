package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

type healthSummary struct {
	NodeID       string `json:"node_id"`
	ServiceCount int    `json:"service_count"`
	RunningCount int    `json:"running_count"`
	Host         struct {
		CPUUsage    float64 `json:"cpu_usage"`
		MemoryUsed  uint64  `json:"memory_used"`
		MemoryTotal uint64  `json:"memory_total"`
	} `json:"host"`
}

func fetchStatus() ([]serviceRow, healthSummary, error) {
	var rows []serviceRow
	if err := apiGet("/api/services", &rows); err != nil {
		return nil, healthSummary{}, err
	}
	var health healthSummary
	_ = apiGet("/api/health", &health) // health is best-effort for the dashboard header
	return rows, health, nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show service status",
	RunE: func(cmd *cobra.Command, args []string) error {
		watch, _ := cmd.Flags().GetBool("watch")
		if watch {
			return runDashboard()
		}
		rows, _, err := fetchStatus()
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			fmt.Println("No services")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSTATE\tREADY")
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\n", r.ID, r.Name, r.State, r.Ready)
		}
		return w.Flush()
	},
}

func init() {
	statusCmd.Flags().Bool("watch", false, "launch a live-updating dashboard")
	rootCmd.AddCommand(statusCmd)
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

type dashboardModel struct {
	table  table.Model
	health healthSummary
	err    error
}

func newDashboardModel() dashboardModel {
	columns := []table.Column{
		{Title: "ID", Width: 16},
		{Title: "NAME", Width: 20},
		{Title: "STATE", Width: 10},
		{Title: "READY", Width: 6},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	style := table.DefaultStyles()
	style.Header = style.Header.Bold(true)
	t.SetStyles(style)
	return dashboardModel{table: t}
}

func (m dashboardModel) Init() tea.Cmd {
	return tea.Batch(refreshCmd(), tickCmd())
}

type refreshMsg struct {
	rows   []serviceRow
	health healthSummary
	err    error
}

func refreshCmd() tea.Cmd {
	return func() tea.Msg {
		rows, health, err := fetchStatus()
		return refreshMsg{rows: rows, health: health, err: err}
	}
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tickMsg:
		return m, tea.Batch(refreshCmd(), tickCmd())
	case refreshMsg:
		m.err = msg.err
		if msg.err == nil {
			m.health = msg.health
			rows := make([]table.Row, 0, len(msg.rows))
			for _, r := range msg.rows {
				rows = append(rows, table.Row{r.ID, r.Name, r.State, fmt.Sprintf("%v", r.Ready)})
			}
			m.table.SetRows(rows)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m dashboardModel) View() string {
	header := headerStyle.Render(fmt.Sprintf("dockless — node %s — %d/%d running",
		m.health.NodeID, m.health.RunningCount, m.health.ServiceCount))

	if m.err != nil {
		return header + "\n\n" + errorStyle.Render(m.err.Error()) + "\n\nq to quit\n"
	}

	return header + "\n\n" + m.table.View() + "\n\nq to quit\n"
}

func runDashboard() error {
	p := tea.NewProgram(newDashboardModel())
	_, err := p.Run()
	return err
}
