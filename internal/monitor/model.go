package monitor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"droneops-fleet/internal/dispatch"
	"droneops-fleet/internal/flightplan"
	"droneops-fleet/internal/hub"
	"droneops-fleet/internal/registry"
)

const maxLogLines = 500

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	alertStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

type model struct {
	clusterID  string
	table      table.Model
	vp         viewport.Model
	drones     map[string]registry.Drone
	plans      map[string]flightplan.Progress
	logs       []string
	stats      hub.Stats
	overrides  int
	wrap       bool
	autoscroll bool
	help       bool
	// toggleChaos flips simulator fault injection; nil disables the key.
	toggleChaos func() bool
	chaos       bool
	width       int
	height      int
}

func newModel(clusterID string, toggleChaos func() bool) model {
	cols := []table.Column{
		{Title: "Drone", Width: 12},
		{Title: "Status", Width: 10},
		{Title: "Mode", Width: 12},
		{Title: "Alt (m)", Width: 8},
		{Title: "Batt %", Width: 7},
		{Title: "Home (m)", Width: 9},
		{Title: "Plan", Width: 14},
	}
	t := table.New(table.WithColumns(cols), table.WithHeight(2))
	return model{
		clusterID:   clusterID,
		toggleChaos: toggleChaos,
		table:       t,
		vp:          viewport.New(0, 0),
		drones:      make(map[string]registry.Drone),
		plans:       make(map[string]flightplan.Progress),
		autoscroll:  true,
	}
}

func (m model) Init() tea.Cmd { return nil }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.table.SetWidth(msg.Width)
		m.vp.Width = msg.Width
		m.layout()
		m.refreshViewport()
	case tea.KeyMsg:
		if m.help {
			m.help = false
			return m, nil
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "w":
			m.wrap = !m.wrap
			m.refreshViewport()
		case "a":
			m.autoscroll = !m.autoscroll
			if m.autoscroll {
				m.vp.GotoBottom()
			}
		case "c":
			if m.toggleChaos != nil {
				m.chaos = m.toggleChaos()
			}
		case "?":
			m.help = true
		default:
			if !m.autoscroll {
				var cmd tea.Cmd
				m.vp, cmd = m.vp.Update(msg)
				return m, cmd
			}
		}
	case eventMsg:
		m.apply(msg.Event)
		m.logs = append(m.logs, FormatEvent(msg.Event))
		if len(m.logs) > maxLogLines {
			m.logs = m.logs[len(m.logs)-maxLogLines:]
		}
		m.refreshTable()
		m.layout()
		m.refreshViewport()
	case statsMsg:
		m.stats = msg.Stats
	}
	return m, nil
}

func (m *model) apply(ev hub.Event) {
	switch p := ev.Payload.(type) {
	case registry.Drone:
		m.drones[p.ID] = p
	case dispatch.Executed:
		m.drones[p.Drone.ID] = p.Drone
	case dispatch.SafetyOverride:
		if p.CommandID != "" {
			m.overrides++
		}
	case flightplan.Progress:
		m.plans[p.DroneID] = p
	}
}

func (m *model) refreshTable() {
	ids := make([]string, 0, len(m.drones))
	for id := range m.drones {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	rows := make([]table.Row, 0, len(ids))
	for _, id := range ids {
		d := m.drones[id]
		plan := "-"
		if p, ok := m.plans[id]; ok {
			plan = fmt.Sprintf("%s %d/%d", p.State, p.Index, p.Total)
		}
		rows = append(rows, table.Row{
			id,
			string(d.Status),
			string(d.FlightMode),
			fmt.Sprintf("%.1f", d.Position.Alt),
			fmt.Sprintf("%.1f", d.Battery.Percentage),
			fmt.Sprintf("%.0f", d.DistanceFromHome()),
			plan,
		})
	}
	m.table.SetRows(rows)
	m.table.SetHeight(len(rows) + 1)
}

func (m *model) layout() {
	h := m.height - lipgloss.Height(m.renderHeader()) - lipgloss.Height(m.table.View()) - lipgloss.Height(m.renderFooter()) - 2
	if h < 0 {
		h = 0
	}
	m.vp.Height = h
	if m.autoscroll {
		m.vp.GotoBottom()
	}
}

func (m *model) refreshViewport() {
	lines := make([]string, 0, len(m.logs))
	for _, l := range m.logs {
		if m.wrap && m.vp.Width > 0 {
			l = wordwrap.String(l, m.vp.Width)
		}
		lines = append(lines, l)
	}
	m.vp.SetContent(strings.Join(lines, "\n"))
	if m.autoscroll {
		m.vp.GotoBottom()
	}
}

func (m model) View() string {
	if m.help {
		return m.renderHelp()
	}
	divider := dimStyle.Render(strings.Repeat("─", m.width))
	return strings.Join([]string{
		m.renderHeader(),
		m.table.View(),
		divider,
		m.vp.View(),
		divider,
		m.renderFooter(),
	}, "\n")
}

func (m model) renderHeader() string {
	airborne, emergencies := 0, 0
	for _, d := range m.drones {
		if d.Status.Airborne() {
			airborne++
		}
		if d.Status == registry.StatusEmergency {
			emergencies++
		}
	}
	head := titleStyle.Render("droneops fleet · "+m.clusterID) +
		fmt.Sprintf("  drones=%d airborne=%d overrides=%d", len(m.drones), airborne, m.overrides)
	if emergencies > 0 {
		head += "  " + alertStyle.Render(fmt.Sprintf("EMERGENCY %d", emergencies))
	}
	if m.chaos {
		head += "  " + alertStyle.Render("CHAOS")
	}
	return head
}

func (m model) renderFooter() string {
	scroll := "on"
	if !m.autoscroll {
		scroll = "off"
	}
	return dimStyle.Render(fmt.Sprintf("events=%d dropped=%d autoscroll=%s  q quit · w wrap · a autoscroll · c chaos · ? help",
		m.stats.Delivered, m.stats.Dropped, scroll))
}

func (m model) renderHelp() string {
	return strings.Join([]string{
		titleStyle.Render("Keys"),
		" q / ctrl+c        quit",
		" w                 toggle line wrapping",
		" a                 toggle auto-scroll",
		" c                 toggle simulated faults (chaos)",
		" ?                 this help",
		"",
		"When auto-scroll is disabled:",
		" j/k or up/down    scroll one line",
		" pgdown/pgup       scroll a page",
		"",
		dimStyle.Render("press any key to return"),
	}, "\n")
}
