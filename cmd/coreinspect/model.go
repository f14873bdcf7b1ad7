package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"storagecore/pkg/concurrency/txn"
	"storagecore/pkg/storage/buffer"
	"storagecore/pkg/storage/replacer"
)

const refreshInterval = 500 * time.Millisecond

var (
	primaryColor = lipgloss.AdaptiveColor{Light: "#5B21B6", Dark: "#C4B5FD"}
	mutedColor   = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}
	errorColor   = lipgloss.AdaptiveColor{Light: "#B91C1C", Dark: "#F87171"}

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(primaryColor).Padding(0, 1)
	tabStyle   = lipgloss.NewStyle().Padding(0, 2)
	activeTab  = lipgloss.NewStyle().Padding(0, 2).Bold(true).Foreground(primaryColor).Underline(true)
	helpStyle  = lipgloss.NewStyle().Foreground(mutedColor).MarginTop(1)
	panelStyle = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(mutedColor).Padding(1, 2)
)

type tabID int

const (
	tabFrames tabID = iota
	tabReplacer
	tabHashDir
	tabLocks
	numTabs
)

func (t tabID) String() string {
	switch t {
	case tabFrames:
		return "Frames"
	case tabReplacer:
		return "Replacer"
	case tabHashDir:
		return "Hash Directory"
	case tabLocks:
		return "Wait-For Graph"
	default:
		return "?"
	}
}

type keyMap struct {
	Next key.Binding
	Prev key.Binding
	Quit key.Binding
}

var keys = keyMap{
	Next: key.NewBinding(key.WithKeys("right", "l", "tab"), key.WithHelp("tab/→", "next panel")),
	Prev: key.NewBinding(key.WithKeys("left", "h", "shift+tab"), key.WithHelp("shift+tab/←", "prev panel")),
	Quit: key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

type refreshMsg struct {
	frames   []buffer.FrameStat
	replacer []replacer.FrameStat
	poolSize int
	depth    int
	buckets  int
	waitFor  map[txn.TxnID][]txn.TxnID
}

type model struct {
	demo *demoState

	active tabID
	frames table.Model

	replacerStats            []replacer.FrameStat
	poolSize, depth, buckets int
	waitFor                  map[txn.TxnID][]txn.TxnID

	width, height int
}

func newModel(d *demoState) model {
	cols := []table.Column{
		{Title: "Frame", Width: 8},
		{Title: "Page", Width: 8},
		{Title: "Pins", Width: 6},
		{Title: "Dirty", Width: 7},
		{Title: "Evictable", Width: 10},
	}
	t := table.New(table.WithColumns(cols), table.WithRows(nil), table.WithFocused(false), table.WithHeight(15))
	st := table.DefaultStyles()
	st.Header = st.Header.BorderStyle(lipgloss.NormalBorder()).BorderForeground(primaryColor).BorderBottom(true).Bold(true)
	st.Selected = st.Selected.Foreground(lipgloss.Color("0")).Background(primaryColor)
	t.SetStyles(st)

	return model{demo: d, active: tabFrames, frames: t}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tick(), refresh(m.demo))
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg { return tickMsg{} })
}

type tickMsg struct{}

func refresh(d *demoState) tea.Cmd {
	return func() tea.Msg {
		return refreshMsg{
			frames:   d.pool.Stats(),
			replacer: d.pool.ReplacerStats(),
			poolSize: d.pool.PoolSize(),
			depth:    d.pool.DirectoryDepth(),
			buckets:  d.pool.NumBuckets(),
			waitFor:  d.lockMgr.WaitForGraph(),
		}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tickMsg:
		return m, tea.Batch(tick(), refresh(m.demo))

	case refreshMsg:
		m.poolSize, m.depth, m.buckets, m.waitFor = msg.poolSize, msg.depth, msg.buckets, msg.waitFor
		m.replacerStats = msg.replacer
		sort.Slice(msg.frames, func(i, j int) bool { return msg.frames[i].FrameID < msg.frames[j].FrameID })
		rows := make([]table.Row, 0, len(msg.frames))
		for _, f := range msg.frames {
			rows = append(rows, table.Row{
				fmt.Sprintf("%d", f.FrameID),
				fmt.Sprintf("%d", f.PageID),
				fmt.Sprintf("%d", f.PinCount),
				fmt.Sprintf("%v", f.Dirty),
				fmt.Sprintf("%v", f.Evictable),
			})
		}
		m.frames.SetRows(rows)
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Next):
			m.active = (m.active + 1) % numTabs
		case key.Matches(msg, keys.Prev):
			m.active = (m.active - 1 + numTabs) % numTabs
		}
		return m, nil
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("coreinspect — buffer pool & lock manager  [pool %s]", m.demo.poolID)) + "\n\n")

	var tabs []string
	for i := tabID(0); i < numTabs; i++ {
		if i == m.active {
			tabs = append(tabs, activeTab.Render(i.String()))
		} else {
			tabs = append(tabs, tabStyle.Render(i.String()))
		}
	}
	b.WriteString(strings.Join(tabs, " ") + "\n\n")

	switch m.active {
	case tabFrames:
		b.WriteString(panelStyle.Render(fmt.Sprintf("pool size: %d\n\n%s", m.poolSize, m.frames.View())))
	case tabReplacer:
		b.WriteString(panelStyle.Render(m.renderReplacer()))
	case tabHashDir:
		b.WriteString(panelStyle.Render(fmt.Sprintf("global depth: %d\nbucket count: %d", m.depth, m.buckets)))
	case tabLocks:
		b.WriteString(panelStyle.Render(m.renderWaitForGraph()))
	}

	b.WriteString(helpStyle.Render("\ntab/shift+tab: switch panel  •  q: quit"))
	return b.String()
}

func (m model) renderReplacer() string {
	if len(m.replacerStats) == 0 {
		return "no frame has a recorded access yet"
	}
	stats := append([]replacer.FrameStat(nil), m.replacerStats...)
	sort.Slice(stats, func(i, j int) bool { return stats[i].Frame < stats[j].Frame })

	var b strings.Builder
	evictable := 0
	for _, s := range stats {
		state := "pinned"
		if s.Evictable {
			state = "evictable"
			evictable++
		}
		b.WriteString(fmt.Sprintf("frame %-4d  samples=%-2d  %s\n", s.Frame, s.AccessCount, state))
	}
	b.WriteString(fmt.Sprintf("\n%d/%d frames evictable\n", evictable, len(stats)))
	return b.String()
}

func (m model) renderWaitForGraph() string {
	if len(m.waitFor) == 0 {
		return "no transaction is currently waiting on another"
	}
	ids := make([]txn.TxnID, 0, len(m.waitFor))
	for id := range m.waitFor {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var b strings.Builder
	for _, id := range ids {
		holders := m.waitFor[id]
		sort.Slice(holders, func(i, j int) bool { return holders[i] < holders[j] })
		parts := make([]string, len(holders))
		for i, h := range holders {
			parts[i] = fmt.Sprintf("%d", h)
		}
		b.WriteString(fmt.Sprintf("txn %d waits for: %s\n", id, strings.Join(parts, ", ")))
	}
	return b.String()
}
