package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/gwillem/armcollect/pkg/control"
	"github.com/gwillem/armcollect/pkg/device"
	"github.com/gwillem/armcollect/pkg/robot"
	"github.com/gwillem/armcollect/pkg/teleop"
)

const (
	headerHeight   = 2 // title + blank line
	statusHeight   = 3 // bordered status line
	legendHeight   = 2 // legend row + blank
	footerHeight   = 7 // log box height
	maxLogs        = 5 // number of log messages to show
	borderSize     = 2 // chart border
	frameCols      = 32
	frameRows      = 12
	frameRefresh   = 100 * time.Millisecond
	chartRangeHigh = 3.2
)

// Motor colors - distinct colors for each motor
var motorColors = map[robot.MotorName]string{
	robot.ShoulderPan:  "196", // red
	robot.ShoulderLift: "208", // orange
	robot.ElbowFlex:    "226", // yellow
	robot.WristFlex:    "46",  // green
	robot.WristRoll:    "51",  // cyan
	robot.Gripper:      "201", // magenta
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	statusBox     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("10")).Padding(0, 1)
	controlsStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("12")).Padding(0, 2)
	keyStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

var controlsHelp = map[control.Method]string{
	control.MethodKeyboard: `KEYBOARD CONTROLS
` + keyStyle.Render("Joint control:") + `
  Q/A  Joint 1 (shoulder pan)    W/S  Joint 2 (shoulder lift)
  E/D  Joint 3 (elbow flex)      R/F  Joint 4 (wrist flex)
  T/G  Joint 5 (wrist roll)      Y/H  Joint 6 (gripper)
` + keyStyle.Render("Special:") + `  SPACE = Reset  |  ESC = Exit`,
	control.MethodGamepad: `GAMEPAD CONTROLS
` + keyStyle.Render("Sticks:") + `
  Left stick   Joints 1 & 2 (pan/lift)
  Right stick  Joints 3 & 4 (elbow/wrist)
` + keyStyle.Render("Triggers:") + `  ZL = Close gripper  |  ZR = Open gripper
` + keyStyle.Render("Buttons:") + `   Plus = Reset  |  Minus = Exit`,
	control.MethodLeader: `LEADER ARM
` + keyStyle.Render("Move the leader arm by hand, the follower mirrors it") + `
` + keyStyle.Render("Special:") + `  SPACE = Reset  |  ESC = Exit`,
	control.MethodReplay: `REPLAY MODE
` + keyStyle.Render("Playing back recorded demonstration") + `
Replaying collected episodes automatically
Press Ctrl+C to exit`,
	control.MethodWatch: `WATCH MODE
` + keyStyle.Render("No controls active - observing random actions") + `
Press Ctrl+C to exit`,
}

type collectModel struct {
	method  control.Method
	envName string
	loop    *teleop.Loop
	logCh   <-chan string
	keys    *device.TerminalKeys
	cancel  context.CancelFunc

	chart      *streamlinechart.Model
	width      int      // terminal width
	height     int      // terminal height
	logs       []string // last N log messages
	status     string
	phase      teleop.Phase
	lastJoints robot.Joints
	hasJoints  bool
	frame      string
	frameAt    time.Time
	stopping   bool
	done       bool
}

// Messages from the loop
type stateMsg teleop.State
type logMsg string
type loopDoneMsg struct {
	result teleop.Result
	err    error
}

func waitForState(loop *teleop.Loop) tea.Cmd {
	return func() tea.Msg {
		return stateMsg(<-loop.States())
	}
}

func waitForLog(ch <-chan string) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return logMsg(msg)
	}
}

func newCollectModel(method control.Method, envName string, loop *teleop.Loop, logCh <-chan string, keys *device.TerminalKeys, cancel context.CancelFunc) collectModel {
	chart := streamlinechart.New(80, 10,
		streamlinechart.WithYRange(-chartRangeHigh, chartRangeHigh),
	)
	for _, name := range robot.AllMotors() {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(motorColors[name]))
		chart.SetDataSetStyles(string(name), runes.ThinLineStyle, style)
	}
	return collectModel{
		method:  method,
		envName: envName,
		loop:    loop,
		logCh:   logCh,
		keys:    keys,
		cancel:  cancel,
		chart:   &chart,
		status:  "Starting...",
	}
}

func (m *collectModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

// controlsHeight is the rendered height of the controls panel.
func (m *collectModel) controlsHeight() int {
	return strings.Count(controlsHelp[m.method], "\n") + 1 + borderSize
}

// chartSize calculates the size of the chart based on terminal dimensions
func (m *collectModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 10 // default size before we know terminal size
	}
	width = m.width - borderSize - 2
	if m.frame != "" {
		width -= frameCols + borderSize + 1
	}
	width = max(width, 40)
	height = m.height - headerHeight - m.controlsHeight() - statusHeight - legendHeight - footerHeight - borderSize
	height = max(height, frameRows)
	return width, height
}

func (m *collectModel) resizeChart() {
	w, h := m.chartSize()
	m.chart.Resize(w, h)
}

func (m collectModel) Init() tea.Cmd {
	return tea.Batch(
		waitForState(m.loop),
		waitForLog(m.logCh),
	)
}

func (m collectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeChart()
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || (msg.String() == "q" && m.method != control.MethodKeyboard) {
			m.stop()
			return m, nil
		}
		if m.keys != nil {
			if key := keyName(msg); key != "" {
				m.keys.Feed(key)
			}
		}
		return m, nil

	case stateMsg:
		m.applyState(teleop.State(msg))
		return m, waitForState(m.loop)

	case logMsg:
		m.addLog(string(msg))
		return m, waitForLog(m.logCh)

	case loopDoneMsg:
		m.done = true
		return m, tea.Quit
	}

	return m, nil
}

func (m *collectModel) stop() {
	if m.stopping {
		return
	}
	m.stopping = true
	m.addLog("Stopping, saving session...")
	m.cancel()
}

func (m *collectModel) applyState(state teleop.State) {
	m.phase = state.Phase
	if state.StatusText != "" {
		m.status = state.StatusText
	}
	if state.Error != nil {
		m.addLog("Error: " + state.Error.Error())
	}
	joints := state.Observation.ArmQpos
	// Only update chart if there's movement (freeze when idle)
	if !m.hasJoints || joints != m.lastJoints {
		for i, name := range robot.AllMotors() {
			m.chart.PushDataSet(string(name), joints[i])
		}
		m.chart.DrawAll()
		m.lastJoints = joints
		m.hasJoints = true
	}
	if time.Since(m.frameAt) >= frameRefresh {
		hadFrame := m.frame != ""
		if img, _, ok := frameSource(state.Observation); ok {
			m.frame = renderFrame(img, frameCols, frameRows)
		} else {
			m.frame = ""
		}
		m.frameAt = time.Now()
		if hadFrame != (m.frame != "") {
			m.resizeChart()
		}
	}
}

// keyName maps a terminal key to the names the keyboard controller binds.
func keyName(msg tea.KeyMsg) string {
	switch msg.Type {
	case tea.KeySpace:
		return device.KeySpace
	case tea.KeyEsc:
		return device.KeyEscape
	case tea.KeyRunes:
		if len(msg.Runes) == 1 {
			if msg.Runes[0] == ' ' {
				return device.KeySpace
			}
			return strings.ToLower(string(msg.Runes))
		}
	}
	return ""
}

func (m collectModel) View() string {
	if m.done {
		return ""
	}

	var sb strings.Builder

	// Header
	sb.WriteString(titleStyle.Render("armcollect"))
	sb.WriteString(fmt.Sprintf(" - %s with %s", m.envName, m.method))
	if m.width > 0 {
		sb.WriteString(statusStyle.Render(fmt.Sprintf("  [%dx%d]", m.width, m.height)))
	}
	sb.WriteString("\n\n")

	sb.WriteString(controlsStyle.Render(controlsHelp[m.method]))
	sb.WriteString("\n")

	status := m.status
	if m.phase == teleop.Resetting {
		status += "  (resetting)"
	}
	sb.WriteString(statusBox.Render(status))
	sb.WriteString("\n")

	// Chart, with the camera frame beside it
	chart := chartStyle.Render(m.chart.View())
	if m.frame != "" {
		chart = lipgloss.JoinHorizontal(lipgloss.Top, chart, " ", chartStyle.Render(m.frame))
	}
	sb.WriteString(chart)
	sb.WriteString("\n")

	sb.WriteString(renderLegend())
	sb.WriteString("\n")

	// Log box
	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(max(m.width-4, 20)).
		Foreground(lipgloss.Color("9")) // bright red

	var logLines string
	if len(m.logs) == 0 {
		logLines = statusStyle.Render("Press Ctrl+C to stop")
	} else {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func renderLegend() string {
	var items []string
	for _, name := range robot.AllMotors() {
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(motorColors[name])).Bold(true)
		items = append(items, colorStyle.Render("━━")+" "+string(name))
	}
	return strings.Join(items, "  ")
}
