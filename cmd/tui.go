// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/heliotherm/internal/entity"
	"github.com/Thermoquad/heliotherm/internal/hub"
	"github.com/Thermoquad/heliotherm/pkg/opentherm"
)

// Event log entry
type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for info
}

// eventLog keeps the most recent entries shown by the terminal UIs.
type eventLog struct {
	entries []errorLogEntry
	max     int
}

func newEventLog(max int) eventLog {
	return eventLog{entries: make([]errorLogEntry, 0), max: max}
}

func (l *eventLog) add(message string, isError bool) {
	l.entries = append(l.entries, errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})

	// Keep only last N entries
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
}

// tail returns at most n of the newest entries.
func (l *eventLog) tail(n int) []errorLogEntry {
	start := len(l.entries) - n
	if start < 0 {
		start = 0
	}
	return l.entries[start:]
}

// scheduler is the part of the hub the terminal UIs read.
type scheduler interface {
	Stats() opentherm.Statistics
	State() hub.State
	Pending() int
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type tickMsg time.Time

// batchMsg carries everything collected by the feed since the last flush.
type batchMsg struct {
	events []hub.Event
	states []entity.State
}

type linkLostMsg struct {
	info string
}

type reconnectedMsg struct {
	info string
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

//////////////////////////////////////////////////////////////
// Feed
//////////////////////////////////////////////////////////////

// feed collects hub events and entity states from the scheduling goroutines
// and hands them to the program in batches. Both callbacks drop rather than
// block when the buffers are full.
type feed struct {
	events chan hub.Event
	states chan entity.State
}

func newFeed() *feed {
	return &feed{
		events: make(chan hub.Event, 256),
		states: make(chan entity.State, 256),
	}
}

// OnEvent implements hub.Observer
func (f *feed) OnEvent(e hub.Event) {
	select {
	case f.events <- e:
	default:
	}
}

// Publish implements entity.StatePublisher
func (f *feed) Publish(s entity.State) {
	select {
	case f.states <- s:
	default:
	}
}

// drain empties both buffers into one batch.
func (f *feed) drain() batchMsg {
	var batch batchMsg
	for {
		select {
		case e := <-f.events:
			batch.events = append(batch.events, e)
		case s := <-f.states:
			batch.states = append(batch.states, s)
		default:
			return batch
		}
	}
}

// run sends batches to p at a fixed rate until ctx is done.
func (f *feed) run(ctx context.Context, p *tea.Program) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			batch := f.drain()
			if len(batch.events) > 0 || len(batch.states) > 0 {
				p.Send(batch)
			}
		}
	}
}

//////////////////////////////////////////////////////////////
// Formatting
//////////////////////////////////////////////////////////////

// describeEvent turns a hub event into a log line. Routine exchange steps
// report notable false.
func describeEvent(e hub.Event) (message string, isError, notable bool) {
	name := opentherm.FormatMessageID(e.Frame.MessageID())
	switch e.Kind {
	case hub.EventTransmitted:
		return fmt.Sprintf("TX %s %s data=0x%04X", opentherm.FormatMessageType(e.Frame.MessageType()), name, e.Frame.Data), false, false
	case hub.EventReceived:
		return fmt.Sprintf("RX %s %s (%s)", name, opentherm.FormatValue(e.Frame), e.Elapsed.Round(time.Millisecond)), false, false
	case hub.EventDataInvalid:
		return fmt.Sprintf("%s: boiler reports data invalid", name), false, true
	case hub.EventUnknownDataID:
		return fmt.Sprintf("%s: not supported by the boiler", name), false, true
	case hub.EventParityError:
		return fmt.Sprintf("%s: parity error", name), true, true
	case hub.EventDecodeError:
		return fmt.Sprintf("DECODE ERROR: %v", e.Err), true, true
	case hub.EventReceiveTimeout:
		return fmt.Sprintf("%s: no response", name), true, true
	case hub.EventMessageTimeout:
		return "Exchange exceeded the maximum message time", true, true
	case hub.EventTransmitError:
		return fmt.Sprintf("%s: transmit failed: %v", name, e.Err), true, true
	}
	return "", false, false
}

// formatEntityValue renders a state value for its kind.
func formatEntityValue(s entity.State) string {
	if !s.Valid {
		return "unavailable"
	}
	switch s.Kind {
	case entity.KindBinarySensor, entity.KindSwitch:
		if s.Value != 0 {
			return "ON"
		}
		return "OFF"
	}
	return fmt.Sprintf("%.2f", s.Value)
}

// formatUptime formats a duration as a human-friendly string
func formatUptime(d time.Duration) string {
	if d < time.Second {
		return "0 seconds"
	}

	seconds := uint64(d / time.Second)
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	plural := func(n uint64, unit string) string {
		if n == 1 {
			return "1 " + unit
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}

	parts := []string{}
	if days > 0 {
		parts = append(parts, plural(days, "day"))
	}
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, plural(seconds, "second"))
	}

	// Join with commas and "and" for last item
	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}

//////////////////////////////////////////////////////////////
// Styles
//////////////////////////////////////////////////////////////

type tuiStyles struct {
	title    lipgloss.Style
	header   lipgloss.Style
	label    lipgloss.Style
	value    lipgloss.Style
	err      lipgloss.Style
	warning  lipgloss.Style
	box      lipgloss.Style
	focused  lipgloss.Style
	button   lipgloss.Style
	buttonOn lipgloss.Style
}

func newStyles() tuiStyles {
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)
	button := lipgloss.NewStyle().
		Foreground(lipgloss.Color("0")).
		Background(lipgloss.Color("12")).
		Padding(0, 2)

	return tuiStyles{
		title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1),
		header:   lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		label:    lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true),
		value:    lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		err:      lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		warning:  lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		box:      box,
		focused:  box.BorderForeground(lipgloss.Color("12")),
		button:   button,
		buttonOn: button.Background(lipgloss.Color("10")),
	}
}

// renderStats draws the scheduler counters.
func renderStats(st tuiStyles, stats opentherm.Statistics, state hub.State, pending, width int) string {
	stats.CalculateRates()
	errors := stats.Errors()
	var okPercent float64
	if stats.Requests > 0 {
		okPercent = float64(stats.Responses) * 100.0 / float64(stats.Requests)
	}

	errorsText := st.value.Render("0")
	if errors > 0 {
		errorsText = st.err.Render(fmt.Sprintf("%d", errors))
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s   %s %s\n",
		st.label.Render("State:"), st.value.Render(state.String()),
		st.label.Render("Pending:"), st.value.Render(fmt.Sprintf("%d", pending)),
		st.label.Render("Requests:"), st.value.Render(fmt.Sprintf("%d", stats.Requests)),
		st.label.Render("Responses:"), st.value.Render(fmt.Sprintf("%d (%.1f%%)", stats.Responses, okPercent)),
	))
	b.WriteString(fmt.Sprintf("%s %s   %s %d   %s %d   %s %d   %s %d\n",
		st.label.Render("Errors:"), errorsText,
		st.header.Render("timeouts"), stats.Timeouts,
		st.header.Render("parity"), stats.ParityErrors,
		st.header.Render("decode"), stats.DecodeErrors,
		st.header.Render("deduplicated"), stats.Deduplicated,
	))

	errorRate := st.value.Render(fmt.Sprintf("%.2f err/s", stats.ErrorRate))
	if stats.ErrorRate > 0 {
		errorRate = st.err.Render(fmt.Sprintf("%.2f err/s", stats.ErrorRate))
	}
	b.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s",
		st.label.Render("Rate:"), st.value.Render(fmt.Sprintf("%.2f req/s", stats.RequestRate)),
		st.label.Render("Error Rate:"), errorRate,
		st.label.Render("Uptime:"), st.value.Render(formatUptime(time.Since(stats.StartTime))),
	))

	return st.box.Width(width - 4).Render(b.String())
}

// renderEventLog draws the newest height entries of log.
func renderEventLog(st tuiStyles, log eventLog, height, width int) string {
	if height < 5 {
		height = 5
	}

	var b strings.Builder
	if len(log.entries) == 0 {
		b.WriteString(st.header.Render("  (no events yet)"))
	} else {
		for _, entry := range log.tail(height) {
			timestamp := entry.timestamp.Format("15:04:05.000")
			if entry.isError {
				b.WriteString(fmt.Sprintf("%s %s\n", st.header.Render(timestamp), st.err.Render("✗ "+entry.message)))
			} else {
				b.WriteString(fmt.Sprintf("%s %s\n", st.header.Render(timestamp), st.warning.Render("ℹ "+entry.message)))
			}
		}
	}
	return st.box.Width(width - 4).Render(b.String())
}

//////////////////////////////////////////////////////////////
// Monitor Model
//////////////////////////////////////////////////////////////

// monitorModel shows scheduler statistics, entity states and recent events.
type monitorModel struct {
	connInfo string
	hub      scheduler
	showAll  bool

	stats   opentherm.Statistics
	state   hub.State
	pending int

	names  []string
	states map[string]entity.State

	log      eventLog
	linkLost bool
	width    int
	height   int
	quitting bool
	styles   tuiStyles
}

func initialMonitorModel(connInfo string, h scheduler, initial []entity.State, showAll bool) monitorModel {
	m := monitorModel{
		connInfo: connInfo,
		hub:      h,
		showAll:  showAll,
		stats:    h.Stats(),
		state:    h.State(),
		states:   make(map[string]entity.State, len(initial)),
		log:      newEventLog(100),
		width:    80,
		height:   24,
		styles:   newStyles(),
	}
	for _, s := range initial {
		m.names = append(m.names, s.Name)
		m.states[s.Name] = s
	}
	return m
}

func (m monitorModel) Init() tea.Cmd {
	return tickCmd()
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "a":
			m.showAll = !m.showAll
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.refresh()
		return m, tickCmd()

	case batchMsg:
		m.apply(msg)

	case linkLostMsg:
		m.linkLost = true
		m.log.add(fmt.Sprintf("Connection lost (%s), reconnecting...", msg.info), true)

	case reconnectedMsg:
		m.linkLost = false
		m.connInfo = msg.info
		m.log.add("Reconnected", false)
	}

	return m, nil
}

func (m *monitorModel) refresh() {
	m.stats = m.hub.Stats()
	m.state = m.hub.State()
	m.pending = m.hub.Pending()
}

func (m *monitorModel) apply(batch batchMsg) {
	for _, e := range batch.events {
		message, isError, notable := describeEvent(e)
		if message != "" && (notable || m.showAll) {
			m.log.add(message, isError)
		}
	}
	for _, s := range batch.states {
		if _, ok := m.states[s.Name]; !ok {
			m.names = append(m.names, s.Name)
		}
		m.states[s.Name] = s
	}
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}
	st := m.styles

	mode := "Errors only"
	if m.showAll {
		mode = "All exchanges"
	}
	conn := m.connInfo
	if m.linkLost {
		conn = st.warning.Render("RECONNECTING...")
	}

	var s strings.Builder
	s.WriteString(st.title.Render("HELIOTHERM MONITOR"))
	s.WriteString("\n")
	s.WriteString(st.header.Render(fmt.Sprintf("%s | Log: %s | a=toggle log q=quit", conn, mode)))
	s.WriteString("\n\n")

	s.WriteString(renderStats(st, m.stats, m.state, m.pending, m.width))
	s.WriteString("\n\n")

	s.WriteString(st.label.Render("Entities:"))
	s.WriteString("\n")
	var ents strings.Builder
	if len(m.names) == 0 {
		ents.WriteString(st.header.Render("  (no entities configured)"))
	}
	for i, name := range m.names {
		state := m.states[name]
		value := st.value.Render(formatEntityValue(state))
		if !state.Valid {
			value = st.warning.Render(formatEntityValue(state))
		}
		ents.WriteString(fmt.Sprintf("%-16s %s %s",
			st.label.Render(name),
			st.header.Render(fmt.Sprintf("%-14s", string(state.Kind))),
			value))
		if i < len(m.names)-1 {
			ents.WriteString("\n")
		}
	}
	s.WriteString(st.box.Width(m.width - 4).Render(ents.String()))
	s.WriteString("\n\n")

	s.WriteString(st.label.Render("Recent Events:"))
	s.WriteString("\n")
	s.WriteString(renderEventLog(st, m.log, m.height-18-len(m.names), m.width))

	return s.String()
}
