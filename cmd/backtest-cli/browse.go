package main

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"polyagents/internal/domain"
)

// Styles.
var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("4"))
	footerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Background(lipgloss.Color("8"))
	selStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("75")).Background(lipgloss.Color("236"))
	gainStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
)

func browseCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "browse",
		Short: "Browse stored runs interactively",
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := openBackend(opts)
			if err != nil {
				return err
			}
			defer b.Close()

			runs, err := b.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			p := tea.NewProgram(
				newBrowseModel(cmd.Context(), b, runs),
				tea.WithAltScreen(),
				tea.WithMouseCellMotion(),
				tea.WithContext(cmd.Context()),
			)
			_, err = p.Run()
			return err
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum runs to load")
	return cmd
}

type runLoadedMsg struct {
	run *domain.Run
	err error
}

type browseModel struct {
	ctx      context.Context
	backend  backend
	runs     []domain.RunSummary
	selected int
	details  map[string]*domain.Run
	loading  bool
	err      error

	viewport      viewport.Model
	ready         bool
	width, height int
}

func newBrowseModel(ctx context.Context, b backend, runs []domain.RunSummary) browseModel {
	return browseModel{
		ctx:     ctx,
		backend: b,
		runs:    runs,
		details: make(map[string]*domain.Run),
	}
}

func (m browseModel) Init() tea.Cmd {
	return m.loadSelected()
}

func (m browseModel) loadSelected() tea.Cmd {
	if len(m.runs) == 0 {
		return nil
	}
	id := m.runs[m.selected].ID
	if _, ok := m.details[id]; ok {
		return nil
	}
	ctx, b := m.ctx, m.backend
	return func() tea.Msg {
		run, err := b.GetRun(ctx, id)
		return runLoadedMsg{run: run, err: err}
	}
}

func (m browseModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "up", "k", "down", "j":
			if len(m.runs) == 0 {
				return m, nil
			}
			if msg.String() == "up" || msg.String() == "k" {
				m.selected = max(0, m.selected-1)
			} else {
				m.selected = min(len(m.runs)-1, m.selected+1)
			}
			m.err = nil
			m.refresh()
			return m, m.loadSelected()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpHeight := max(1, m.height-2)
		if !m.ready {
			m.viewport = viewport.New(m.width, vpHeight)
			m.viewport.MouseWheelEnabled = true
			m.ready = true
		} else {
			m.viewport.Width = m.width
			m.viewport.Height = vpHeight
		}
		m.refresh()
		return m, nil

	case runLoadedMsg:
		if msg.err != nil {
			m.err = msg.err
		} else if msg.run != nil {
			m.details[msg.run.ID] = msg.run
		}
		m.refresh()
		return m, nil
	}

	if m.ready {
		m.viewport, cmd = m.viewport.Update(msg)
	}
	return m, cmd
}

func (m *browseModel) refresh() {
	if m.ready {
		m.viewport.SetContent(m.renderContent())
	}
}

func (m browseModel) View() string {
	if !m.ready {
		return "loading..."
	}
	header := headerStyle.Render(padOrTrunc(fmt.Sprintf(" polyagents runs: %d", len(m.runs)), m.width))
	footer := footerStyle.Render(padOrTrunc(" q quit  up/dn select  pgup/dn scroll", m.width))
	return header + "\n" + m.viewport.View() + "\n" + footer
}

func (m browseModel) renderContent() string {
	var b strings.Builder
	if len(m.runs) == 0 {
		b.WriteString(dimStyle.Render("no stored runs"))
		return b.String()
	}

	for i, r := range m.runs {
		line := fmt.Sprintf(" %-36s  %s  %-8s  %8s  %v",
			r.ID, r.CreatedAt.Format("2006-01-02 15:04"), r.Planner, pct(r.Stats.TotalReturn), r.Universe)
		if r.Error != "" {
			line += "  " + r.Error
		}
		if i == m.selected {
			b.WriteString(selStyle.Render(padOrTrunc(line, m.width)))
		} else {
			b.WriteString(line)
		}
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	sel := m.runs[m.selected]
	run, ok := m.details[sel.ID]
	switch {
	case m.err != nil:
		b.WriteString(lossStyle.Render("error: " + m.err.Error()))
	case !ok:
		b.WriteString(dimStyle.Render("loading " + sel.ID + "..."))
	default:
		b.WriteString(renderDetail(run, max(20, m.width-4)))
	}
	return b.String()
}

func renderDetail(run *domain.Run, width int) string {
	var b strings.Builder
	b.WriteString(sectionStyle.Render(fmt.Sprintf("%s  %s  %v", run.ID, run.Planner, run.Plan.Universe)))
	b.WriteByte('\n')
	if run.Error != "" {
		b.WriteString(lossStyle.Render(run.Error))
		return b.String()
	}
	fmt.Fprintf(&b, "  total %s  cagr %s  vol %s  sharpe %.3f  maxdd %s  rebalances %d\n",
		styledPct(run.Stats.TotalReturn), styledPct(run.Stats.CAGREst), pct(run.Stats.Vol),
		run.Stats.Sharpe, lossStyle.Render(pct(run.Stats.MaxDD)), run.Rebalances)
	if n := len(run.Curve); n > 0 {
		fmt.Fprintf(&b, "  %s .. %s  %d points\n\n",
			run.Curve[0].Time.Format("2006-01-02"), run.Curve[n-1].Time.Format("2006-01-02"), n)
		b.WriteString("  " + sparkline(run.Curve, width))
	}
	return b.String()
}

var sparkRunes = []rune("▁▂▃▄▅▆▇█")

// sparkline renders curve values into at most width cells, taking the last
// value of each bucket.
func sparkline(curve []domain.EquityPoint, width int) string {
	if len(curve) == 0 || width <= 0 {
		return ""
	}
	cells := min(width, len(curve))
	vals := make([]float64, cells)
	for i := range cells {
		idx := (i+1)*len(curve)/cells - 1
		vals[i] = curve[idx].Value
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range vals {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	var b strings.Builder
	for _, v := range vals {
		k := 0
		if hi > lo {
			k = int((v - lo) / (hi - lo) * float64(len(sparkRunes)-1))
		}
		b.WriteRune(sparkRunes[k])
	}
	return b.String()
}

func pct(v float64) string { return fmt.Sprintf("%.2f%%", v*100) }

func styledPct(v float64) string {
	if v < 0 {
		return lossStyle.Render(pct(v))
	}
	return gainStyle.Render(pct(v))
}

// padOrTrunc pads s with spaces or truncates it to exactly width runes.
func padOrTrunc(s string, width int) string {
	r := []rune(s)
	if len(r) >= width {
		return string(r[:max(0, width)])
	}
	return s + strings.Repeat(" ", width-len(r))
}
