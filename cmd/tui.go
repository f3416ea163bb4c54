// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Thermoquad/dpsctl/pkg/dps"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	log "github.com/sirupsen/logrus"
)

// Time allowed for one control command
const commandTimeout = 5 * time.Second

// Focus states
const (
	focusNone = iota
	focusModeList
	focusLimits
)

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for info
}

// topology is an output mode choice in the mode list
type topology struct {
	name string
	desc string
}

// Implement list.Item interface
func (t topology) Title() string       { return t.name }
func (t topology) Description() string { return t.desc }
func (t topology) FilterValue() string { return t.name }

// monitorModel is the Bubble Tea model for the monitor TUI
type monitorModel struct {
	ctx      context.Context
	session  *dps.Session
	connInfo string

	state     dps.State
	stats     dps.StatisticsSnapshot
	anomalies map[string]bool

	eventLog      []eventLogEntry
	maxLogEntries int

	modeList    list.Model
	limitsInput textinput.Model
	focused     int
	busy        bool

	width    int
	height   int
	quitting bool
}

// Messages
type monitorTickMsg time.Time
type stateMsg dps.State
type commandResultMsg struct {
	desc string
	err  error
}
type logMsg struct {
	message string
	isError bool
}

func initialMonitorModel(ctx context.Context, s *dps.Session, connInfo string) monitorModel {
	ti := textinput.New()
	ti.Placeholder = "mv mi sv si"
	ti.CharLimit = 40
	ti.Width = 36

	items := []list.Item{
		topology{"master-slave", "Slave follows master"},
		topology{"dual", "Independent outputs"},
		topology{"series", "Outputs in series"},
	}
	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	modeList := list.New(items, delegate, 30, 9)
	modeList.Title = "Output mode"
	modeList.SetShowStatusBar(false)
	modeList.SetShowHelp(false)
	modeList.SetFilteringEnabled(false)

	return monitorModel{
		ctx:           ctx,
		session:       s,
		connInfo:      connInfo,
		state:         s.Snapshot(),
		stats:         s.Statistics(),
		anomalies:     make(map[string]bool),
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 100,
		modeList:      modeList,
		limitsInput:   ti,
		focused:       focusNone,
		width:         80,
		height:        24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m monitorModel) Init() tea.Cmd {
	return monitorTickCmd()
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case monitorTickMsg:
		m.stats = m.session.Statistics()
		return m, monitorTickCmd()

	case stateMsg:
		m.state = dps.State(msg)
		m.checkAnomalies()

	case commandResultMsg:
		m.busy = false
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("%s failed: %v", msg.desc, msg.err), true)
		} else {
			m.addLogEntry(msg.desc, false)
		}
		m.state = m.session.Snapshot()

	case logMsg:
		m.addLogEntry(msg.message, msg.isError)
	}

	return m, nil
}

func (m monitorModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		m.quitting = true
		return m, tea.Quit
	}

	switch m.focused {
	case focusModeList:
		switch msg.String() {
		case "esc":
			m.focused = focusNone
			return m, nil
		case "enter":
			m.focused = focusNone
			t, ok := m.modeList.SelectedItem().(topology)
			if !ok {
				return m, nil
			}
			return m.run("Mode "+t.name, func(ctx context.Context) error {
				return applyMode(ctx, m.session, t.name)
			})
		}
		var cmd tea.Cmd
		m.modeList, cmd = m.modeList.Update(msg)
		return m, cmd

	case focusLimits:
		switch msg.String() {
		case "esc":
			m.focused = focusNone
			m.limitsInput.Blur()
			return m, nil
		case "enter":
			limits, err := parseLimits(m.limitsInput.Value())
			if err != nil {
				m.addLogEntry(err.Error(), true)
				return m, nil
			}
			m.focused = focusNone
			m.limitsInput.Blur()
			return m.run("Limits "+formatLimitsInput(limits), func(ctx context.Context) error {
				return m.session.SetControlValues(ctx, limits)
			})
		}
		var cmd tea.Cmd
		m.limitsInput, cmd = m.limitsInput.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q":
		m.quitting = true
		return m, tea.Quit

	case "m":
		m.focused = focusModeList

	case "l":
		m.focused = focusLimits
		m.limitsInput.SetValue(formatLimitsInput(m.state.Limits))
		m.limitsInput.CursorEnd()
		return m, m.limitsInput.Focus()

	case "1":
		on := !m.state.MasterEnabled()
		return m.run("Master "+onOff(on), func(ctx context.Context) error {
			return applyOutput(ctx, m.session, "master", on)
		})

	case "2":
		on := !m.state.SlaveEnabled()
		return m.run("Slave "+onOff(on), func(ctx context.Context) error {
			return applyOutput(ctx, m.session, "slave", on)
		})
	}

	return m, nil
}

// run executes a session operation off the UI goroutine
func (m monitorModel) run(desc string, fn func(ctx context.Context) error) (tea.Model, tea.Cmd) {
	if m.busy {
		m.addLogEntry("Busy, "+desc+" ignored", true)
		return m, nil
	}
	m.busy = true

	parent := m.ctx
	return m, func() tea.Msg {
		ctx, cancel := context.WithTimeout(parent, commandTimeout)
		defer cancel()
		return commandResultMsg{desc: desc, err: fn(ctx)}
	}
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	m.eventLog = append(m.eventLog, eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

// checkAnomalies logs anomalies when they first appear
func (m *monitorModel) checkAnomalies() {
	current := make(map[string]bool)
	for _, v := range dps.ValidateState(m.state) {
		current[v.Message] = true
		if !m.anomalies[v.Message] {
			m.addLogEntry(v.Message, v.Type != dps.AnomalyCurrentLimit)
		}
	}
	m.anomalies = current
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "standby"
}

// parseLimits parses "mv mi sv si" in volts and amperes
func parseLimits(s string) (dps.Limits, error) {
	fields := strings.Fields(s)
	if len(fields) != 4 {
		return dps.Limits{}, fmt.Errorf("expected 4 limits (mv mi sv si), got %d", len(fields))
	}

	values := make([]float64, 4)
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return dps.Limits{}, fmt.Errorf("invalid limit %q", f)
		}
		values[i] = v
	}
	return dps.Limits{
		MasterVoltage: values[0],
		MasterCurrent: values[1],
		SlaveVoltage:  values[2],
		SlaveCurrent:  values[3],
	}, nil
}

func formatLimitsInput(l dps.Limits) string {
	return fmt.Sprintf("%.2f %.3f %.2f %.3f", l.MasterVoltage, l.MasterCurrent, l.SlaveVoltage, l.SlaveCurrent)
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	focusedBoxStyle := boxStyle.
		BorderForeground(lipgloss.Color("12"))

	var s strings.Builder

	// Header
	s.WriteString(titleStyle.Render("DPS5315 MONITOR"))
	s.WriteString(" ")
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | %s | q=quit m=mode 1/2=outputs l=limits",
		m.connInfo, m.session.Phase())))
	s.WriteString("\n\n")

	// Outputs panel
	outputs := m.renderOutputs(labelStyle, valueStyle, errorStyle, warningStyle, headerStyle)
	switch m.focused {
	case focusModeList:
		s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
			boxStyle.Render(outputs), " ", focusedBoxStyle.Width(32).Render(m.modeList.View())))
	default:
		s.WriteString(boxStyle.Width(m.width - 4).Render(outputs))
	}
	s.WriteString("\n")

	if m.focused == focusLimits {
		s.WriteString(focusedBoxStyle.Width(m.width - 4).Render(
			labelStyle.Render("Limits (V A V A): ") + m.limitsInput.View() +
				headerStyle.Render("  enter=apply esc=cancel")))
		s.WriteString("\n")
	}

	// Statistics bar
	s.WriteString(m.renderStatisticsBar(labelStyle, valueStyle, errorStyle, boxStyle))
	s.WriteString("\n")

	// Event log
	s.WriteString(m.renderEventLog(labelStyle, warningStyle, errorStyle, headerStyle, boxStyle))

	return s.String()
}

func (m monitorModel) renderOutputs(labelStyle, valueStyle, errorStyle, warningStyle, headerStyle lipgloss.Style) string {
	st := m.state
	var s strings.Builder

	modeStyle := valueStyle
	if st.Mode.Has(dps.ModeError) {
		modeStyle = errorStyle
	}
	s.WriteString(fmt.Sprintf("%s %s   %s %s\n\n",
		labelStyle.Render("Mode:"), modeStyle.Render(st.Mode.String()),
		labelStyle.Render("Control:"), valueStyle.Render(st.ControlMode.String())))

	channel := func(name string, v, i, vLimit, iLimit float64, enabled, cc bool) {
		status := headerStyle.Render("standby")
		if enabled {
			status = valueStyle.Render("ON")
		}
		reading := valueStyle.Render(fmt.Sprintf("%6.2f V  %6.3f A", v, i))
		if cc {
			reading = warningStyle.Render(fmt.Sprintf("%6.2f V  %6.3f A CC", v, i))
		}
		s.WriteString(fmt.Sprintf("%s %s  %s  %s\n",
			labelStyle.Render(fmt.Sprintf("%-7s", name+":")), reading,
			headerStyle.Render(fmt.Sprintf("[limit %6.2f V %6.3f A]", vLimit, iLimit)), status))
	}
	channel("Master", st.MasterVoltage, st.MasterCurrent, st.Limits.MasterVoltage, st.Limits.MasterCurrent,
		st.MasterEnabled(), st.ControlMode.Has(dps.ControlMasterCurrent))
	channel("Slave", st.SlaveVoltage, st.SlaveCurrent, st.Limits.SlaveVoltage, st.Limits.SlaveCurrent,
		st.SlaveEnabled(), st.ControlMode.Has(dps.ControlSlaveCurrent))

	s.WriteString(fmt.Sprintf("\n%s %s   %s %s\n",
		labelStyle.Render("Temp:"), valueStyle.Render(fmt.Sprintf("amp %d°C, trafo %d°C", st.TempAmplifier, st.TempTransformer)),
		labelStyle.Render("Firmware:"), valueStyle.Render(fmt.Sprintf("master %s, slave %s", st.MasterVersion, st.SlaveVersion))))

	updated := "never"
	if !st.LastUpdate.IsZero() {
		updated = st.LastUpdate.Format("15:04:05.000")
	}
	s.WriteString(headerStyle.Render("Updated: " + updated))
	if m.busy {
		s.WriteString(warningStyle.Render("  sending..."))
	}

	return s.String()
}

func (m monitorModel) renderStatisticsBar(labelStyle, valueStyle, errorStyle, boxStyle lipgloss.Style) string {
	st := m.stats
	var validPercent float64
	if st.Requests > 0 {
		validPercent = float64(st.ValidFrames) * 100.0 / float64(st.Requests)
	}

	errors := valueStyle.Render("0")
	if st.Errors() > 0 {
		errors = errorStyle.Render(fmt.Sprintf("%d (crc %d, timeout %d)", st.Errors(), st.CRCErrors, st.Timeouts))
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s  %s %s",
		labelStyle.Render("Requests:"), valueStyle.Render(fmt.Sprintf("%d", st.Requests)),
		labelStyle.Render("Valid:"), valueStyle.Render(fmt.Sprintf("%.1f%%", validPercent)),
		labelStyle.Render("Errors:"), errors,
		labelStyle.Render("Rate:"), valueStyle.Render(fmt.Sprintf("%.1f req/s", st.RequestRate)),
		labelStyle.Render("RTT:"), valueStyle.Render(st.LastRoundTrip.Round(time.Microsecond).String()),
	)

	return boxStyle.Width(m.width - 4).Render(content)
}

func (m monitorModel) renderEventLog(labelStyle, warningStyle, errorStyle, headerStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(labelStyle.Render("EVENTS"))
	s.WriteString("\n")

	// Reserve space for header, outputs and statistics
	logHeight := m.height - 20
	if logHeight < 5 {
		logHeight = 5
	}

	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.eventLog) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			icon := "i"
			style := warningStyle
			if entry.isError {
				icon = "x"
				style = errorStyle
			}
			s.WriteString(fmt.Sprintf("%s %s %s\n",
				headerStyle.Render(entry.timestamp.Format("15:04:05.000")),
				style.Render(icon),
				entry.message))
		}
	}

	return boxStyle.Width(m.width - 4).Render(s.String())
}

//////////////////////////////////////////////////////////////
// Logging
//////////////////////////////////////////////////////////////

// tuiLogHook forwards warnings and errors to the event log
type tuiLogHook struct {
	mu sync.Mutex
	p  *tea.Program
}

func (h *tuiLogHook) setProgram(p *tea.Program) {
	h.mu.Lock()
	h.p = p
	h.mu.Unlock()
}

// Levels implements log.Hook
func (h *tuiLogHook) Levels() []log.Level {
	return []log.Level{log.PanicLevel, log.FatalLevel, log.ErrorLevel, log.WarnLevel}
}

// Fire implements log.Hook
func (h *tuiLogHook) Fire(e *log.Entry) error {
	h.mu.Lock()
	p := h.p
	h.mu.Unlock()
	if p == nil {
		return nil
	}

	msg := e.Message
	if err, ok := e.Data[log.ErrorKey]; ok {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	// Send blocks until the program reads it; Fire may run on the poller
	go p.Send(logMsg{message: msg, isError: e.Level <= log.ErrorLevel})
	return nil
}
