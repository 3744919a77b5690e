// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/heliotherm/internal/entity"
	"github.com/Thermoquad/heliotherm/internal/hub"
	"github.com/Thermoquad/heliotherm/internal/publish/mqtt"
	"github.com/Thermoquad/heliotherm/pkg/opentherm"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

// Focus states
const (
	focusEntityList = iota
	focusValueInput
	focusButton
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// setter changes an entity value. *entity.Registry satisfies it.
type setter interface {
	Set(name string, v float64) error
}

// entityItem is one row of the entity list.
type entityItem struct {
	state entity.State
}

// Implement list.Item interface
func (i entityItem) Title() string { return i.state.Name }
func (i entityItem) Description() string {
	return fmt.Sprintf("%s: %s", i.state.Kind, formatEntityValue(i.state))
}
func (i entityItem) FilterValue() string { return i.state.Name }

func (i entityItem) controllable() bool {
	return i.state.Kind == entity.KindSwitch || i.state.Kind == entity.KindNumber
}

// controlModel is the Bubble Tea model for the control TUI
type controlModel struct {
	connInfo string
	hub      scheduler
	ctrl     setter

	// Entity tracking
	entities   []entityItem
	entityList list.Model

	// Monitoring
	stats   opentherm.Statistics
	state   hub.State
	pending int
	log     eventLog

	// Control
	valueInput   textinput.Model
	focusedField int

	// UI state
	width    int
	height   int
	quitting bool
	linkLost bool
	styles   tuiStyles
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialControlModel(connInfo string, h scheduler, ctrl setter, initial []entity.State) controlModel {
	ti := textinput.New()
	ti.Placeholder = "value"
	ti.CharLimit = 8
	ti.Width = 10

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	entityList := list.New([]list.Item{}, delegate, 30, 10)
	entityList.Title = "Entities"
	entityList.SetShowStatusBar(false)
	entityList.SetShowHelp(false)
	entityList.SetFilteringEnabled(false)

	m := controlModel{
		connInfo:     connInfo,
		hub:          h,
		ctrl:         ctrl,
		entityList:   entityList,
		stats:        h.Stats(),
		state:        h.State(),
		log:          newEventLog(100),
		valueInput:   ti,
		focusedField: focusEntityList,
		width:        80,
		height:       24,
		styles:       newStyles(),
	}
	for _, s := range initial {
		m.entities = append(m.entities, entityItem{state: s})
	}
	m.updateEntityList()
	return m
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m controlModel) Init() tea.Cmd {
	return tickCmd()
}

func (m controlModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.MouseMsg:
		if msg.Action == tea.MouseActionRelease && msg.Button == tea.MouseButtonLeft {
			m.entityList, _ = m.entityList.Update(msg)
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateListSize()

	case tickMsg:
		m.stats = m.hub.Stats()
		m.state = m.hub.State()
		m.pending = m.hub.Pending()
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

	// Update child components
	var cmd tea.Cmd
	if m.focusedField == focusValueInput {
		m.valueInput, cmd = m.valueInput.Update(msg)
		cmds = append(cmds, cmd)
	}
	if m.focusedField == focusEntityList {
		m.entityList, cmd = m.entityList.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m controlModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "q":
		if m.focusedField != focusValueInput {
			m.quitting = true
			return m, tea.Quit
		}

	case "tab":
		m.cycleFocus(1)
		return m, nil

	case "shift+tab":
		m.cycleFocus(-1)
		return m, nil

	case "enter":
		m.handleEnter()
		return m, nil

	case "up", "k", "down", "j":
		if m.focusedField == focusEntityList {
			m.entityList, _ = m.entityList.Update(msg)
			return m, nil
		}
	}

	// Pass through to focused component
	if m.focusedField == focusValueInput {
		var cmd tea.Cmd
		m.valueInput, cmd = m.valueInput.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *controlModel) cycleFocus(delta int) {
	selected := m.getSelectedEntity()
	if selected == nil || !selected.controllable() {
		m.focusedField = focusEntityList
		m.valueInput.Blur()
		return
	}

	maxFocus := focusButton
	m.focusedField = (m.focusedField + delta + maxFocus + 1) % (maxFocus + 1)

	if m.focusedField == focusValueInput {
		m.valueInput.Focus()
	} else {
		m.valueInput.Blur()
	}
}

func (m *controlModel) handleEnter() {
	// Don't allow control commands while connection is lost
	if m.linkLost {
		m.log.add("Cannot send command: connection lost", true)
		return
	}

	selected := m.getSelectedEntity()
	if selected == nil || !selected.controllable() {
		return
	}

	switch m.focusedField {
	case focusValueInput:
		m.sendInputValue(selected)
	case focusButton:
		if selected.state.Kind == entity.KindSwitch {
			m.toggle(selected)
		} else {
			m.sendInputValue(selected)
		}
	}
}

//////////////////////////////////////////////////////////////
// Commands
//////////////////////////////////////////////////////////////

func (m *controlModel) sendInputValue(selected *entityItem) {
	raw := m.valueInput.Value()
	if raw == "" {
		m.log.add("Enter a value first", true)
		return
	}

	v, err := mqtt.ParseCommand([]byte(raw))
	if err != nil {
		m.log.add(fmt.Sprintf("Invalid value: %s", raw), true)
		return
	}
	m.set(selected.state.Name, v)
	m.valueInput.SetValue("")
}

func (m *controlModel) toggle(selected *entityItem) {
	v := 1.0
	if selected.state.Valid && selected.state.Value != 0 {
		v = 0
	}
	m.set(selected.state.Name, v)
}

func (m *controlModel) set(name string, v float64) {
	if err := m.ctrl.Set(name, v); err != nil {
		m.log.add(fmt.Sprintf("Failed to set %s: %v", name, err), true)
		return
	}
	m.log.add(fmt.Sprintf("Set %s to %g", name, v), false)
}

//////////////////////////////////////////////////////////////
// Data Processing
//////////////////////////////////////////////////////////////

func (m *controlModel) apply(batch batchMsg) {
	for _, e := range batch.events {
		if message, isError, notable := describeEvent(e); notable {
			m.log.add(message, isError)
		}
	}

	if len(batch.states) == 0 {
		return
	}
	for _, s := range batch.states {
		found := false
		for i := range m.entities {
			if m.entities[i].state.Name == s.Name {
				old := m.entities[i].state
				m.entities[i].state = s
				if old.Valid != s.Valid && !s.Valid {
					m.log.add(fmt.Sprintf("%s unavailable", s.Name), true)
				}
				found = true
				break
			}
		}
		if !found {
			m.entities = append(m.entities, entityItem{state: s})
		}
	}
	m.updateEntityList()
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

func (m controlModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}
	st := m.styles

	var s strings.Builder
	s.WriteString(st.title.Render("HELIOTHERM CONTROL"))
	s.WriteString(" ")
	conn := m.connInfo
	if m.linkLost {
		conn = st.warning.Render("RECONNECTING...")
	}
	s.WriteString(st.header.Render(fmt.Sprintf("| %s | q=quit Tab=switch Enter=apply", conn)))
	s.WriteString("\n\n")

	// Layout: left panel (entities) | right panel (control)
	leftWidth := 30
	rightWidth := m.width - leftWidth - 6

	listStyle := st.box.Width(leftWidth)
	if m.focusedField == focusEntityList {
		listStyle = st.focused.Width(leftWidth)
	}
	entityPanel := listStyle.Render(m.entityList.View())
	controlPanel := st.box.Width(rightWidth).Render(m.renderControlPanel())

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, entityPanel, " ", controlPanel))
	s.WriteString("\n\n")

	s.WriteString(renderStats(st, m.stats, m.state, m.pending, m.width))
	s.WriteString("\n\n")

	s.WriteString(st.label.Render("EVENTS"))
	s.WriteString("\n")
	s.WriteString(renderEventLog(st, m.log, 8, m.width))

	return s.String()
}

func (m controlModel) renderControlPanel() string {
	st := m.styles
	var s strings.Builder

	selected := m.getSelectedEntity()
	if selected == nil {
		s.WriteString(st.header.Render("No entity selected"))
		return s.String()
	}
	state := selected.state

	s.WriteString(fmt.Sprintf("%s %s\n", st.label.Render("Selected:"), state.Name))
	s.WriteString(fmt.Sprintf("%s %s %s\n",
		st.label.Render("Binding:"),
		opentherm.FormatMessageType(state.Type),
		opentherm.FormatMessageID(state.ID)))
	s.WriteString(fmt.Sprintf("%s %s\n\n", st.label.Render("Value:"), st.value.Render(formatEntityValue(state))))

	if !selected.controllable() {
		s.WriteString(st.header.Render(fmt.Sprintf("%s (read only)", state.Kind)))
		return s.String()
	}

	s.WriteString(st.label.Render("New value: "))
	if m.focusedField == focusValueInput {
		s.WriteString(m.valueInput.View())
	} else {
		val := m.valueInput.Value()
		if val == "" {
			val = m.valueInput.Placeholder
		}
		s.WriteString(fmt.Sprintf("[%s]", val))
	}
	s.WriteString("\n\n")

	btnText := "[ Apply ]"
	if state.Kind == entity.KindSwitch {
		btnText = "[ Turn On ]"
		if state.Valid && state.Value != 0 {
			btnText = "[ Turn Off ]"
		}
	}
	if m.focusedField == focusButton {
		s.WriteString(st.buttonOn.Render(btnText))
	} else {
		s.WriteString(st.button.Render(btnText))
	}

	return s.String()
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

func (m *controlModel) getSelectedEntity() *entityItem {
	if len(m.entities) == 0 {
		return nil
	}

	idx := m.entityList.Index()
	if idx < 0 || idx >= len(m.entities) {
		return nil
	}

	return &m.entities[idx]
}

func (m *controlModel) updateEntityList() {
	items := make([]list.Item, len(m.entities))
	for i, e := range m.entities {
		items[i] = e
	}
	m.entityList.SetItems(items)
}

func (m *controlModel) updateListSize() {
	listHeight := m.height / 3
	if listHeight < 5 {
		listHeight = 5
	}
	m.entityList.SetSize(28, listHeight)
}
