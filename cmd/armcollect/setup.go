package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/hipsterbrown/feetech-servo/feetech"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/gwillem/armcollect/pkg/robot"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

const (
	roleLeader   = "leader"
	roleFollower = "follower"
	roleSkip     = "skip"

	goodRange = 500
)

type SetupCommand struct {
	LeaderCalibration   string `long:"leader-calibration" value-name:"FILE" description:"Import the leader calibration from a LeRobot JSON file"`
	FollowerCalibration string `long:"follower-calibration" value-name:"FILE" description:"Import the follower calibration from a LeRobot JSON file"`
}

func (c *SetupCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("armcollect setup"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━"))
	fmt.Println()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Println(warnStyle.Render("Ignoring unreadable configuration: " + err.Error()))
		cfg = robot.DefaultConfig()
	}

	ports, err := serialPorts()
	if err != nil {
		return fmt.Errorf("list serial ports: %w", err)
	}
	fmt.Println("Scanning for robot arms...")
	arms := findArms(ports)
	if len(arms) == 0 {
		fmt.Println("No arms found.")
		fmt.Println("Make sure your arms are connected and powered on.")
		return errors.New("no arms found")
	}
	for _, arm := range arms {
		fmt.Printf("  Found arm on %s\n", arm.port)
	}
	fmt.Printf("\nFound %d arm(s). Let's identify them...\n", len(arms))

	roles, err := identifyArms(arms)
	if err != nil {
		return err
	}
	if len(roles) == 0 {
		return errors.New("no arm was identified")
	}

	title := cases.Title(language.English)
	fmt.Println()
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━━"))
	fmt.Println(successStyle.Render("Arms identified:"))
	for _, role := range []string{roleLeader, roleFollower} {
		port, ok := roles[role]
		if !ok {
			port = dimStyle.Render("(not found)")
		}
		fmt.Printf("  %-9s %s\n", title.String(role)+":", port)
	}

	imports := map[string]string{roleLeader: c.LeaderCalibration, roleFollower: c.FollowerCalibration}
	for _, role := range []string{roleLeader, roleFollower} {
		port, ok := roles[role]
		if !ok {
			continue
		}
		arm := armConfig(cfg, role)
		arm.Port = port

		fmt.Println()
		fmt.Println(subHeaderStyle.Render(fmt.Sprintf("━━━ Calibrating %s Arm ━━━", title.String(role))))
		fmt.Println()
		if path := imports[role]; path != "" {
			cal, err := robot.LoadCalibration(path)
			if err != nil {
				return err
			}
			arm.Calibration = cal
			fmt.Printf("Imported %s calibration from %s\n", role, path)
		} else {
			cal, err := calibrateArm(port, role)
			if err != nil {
				return err
			}
			arm.Calibration = cal
		}

		// Save after each arm so a later failure keeps earlier work
		if err := cfg.SaveTo(configPath()); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
	}

	fmt.Println()
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"))
	fmt.Println(successStyle.Render("Setup complete!"))
	fmt.Printf("Configuration saved to %s\n", configPath())
	fmt.Println()
	fmt.Println("Start collecting with: " + headerStyle.Render("armcollect collect"))
	return nil
}

func configPath() string {
	if opts.Config == "" {
		return robot.DefaultConfigFile
	}
	return opts.Config
}

func armConfig(cfg *robot.Config, role string) *robot.ArmConfig {
	if role == roleLeader {
		return &cfg.Leader
	}
	return &cfg.Follower
}

// identifyArms wiggles each arm and asks which role it has. Every bus in
// arms is closed on return.
func identifyArms(arms []armInfo) (map[string]string, error) {
	roles := make(map[string]string, 2)
	for i, arm := range arms {
		if len(roles) == 2 {
			for _, rest := range arms[i:] {
				rest.bus.Close()
			}
			break
		}
		_, needLeader := roles[roleLeader]
		_, needFollower := roles[roleFollower]
		role, err := identifyArmWithWiggle(arm, !needLeader, !needFollower)
		if err != nil {
			for _, rest := range arms[i+1:] {
				rest.bus.Close()
			}
			return nil, err
		}
		if role != "" && role != roleSkip {
			roles[role] = arm.port
		}
	}
	return roles, nil
}

func identifyArmWithWiggle(arm armInfo, needLeader, needFollower bool) (string, error) {
	defer arm.bus.Close()

	ctx := context.Background()

	// Servo ID 1 (shoulder_pan) is wiggled
	var servo *feetech.Servo
	for _, s := range arm.servos {
		if s.ID == 1 {
			servo = feetech.NewServo(arm.bus, s.ID, s.Model)
			break
		}
	}
	if servo == nil {
		return "", nil
	}

	originalPos, err := servo.Position(ctx)
	if err != nil {
		fmt.Printf("  Error reading position: %v\n", err)
		return "", nil
	}
	if err := servo.Enable(ctx); err != nil {
		fmt.Printf("  Error enabling servo: %v\n", err)
		return "", nil
	}

	fmt.Printf("\n  Wiggling arm on %s...\n", arm.port)

	// single gentle, slow movement
	const wiggleAmount = 30
	const moveTimeMs = 500
	for _, pos := range []int{originalPos + wiggleAmount, originalPos - wiggleAmount, originalPos} {
		servo.SetPositionWithTime(ctx, pos, moveTimeMs)
		time.Sleep(time.Duration(moveTimeMs+100) * time.Millisecond)
	}
	servo.Disable(ctx)

	var options []huh.Option[string]
	if needLeader {
		options = append(options, huh.NewOption("Leader (the one you move by hand)", roleLeader))
	}
	if needFollower {
		options = append(options, huh.NewOption("Follower (the one that follows)", roleFollower))
	}
	options = append(options, huh.NewOption("Skip this arm", roleSkip))

	var role string
	err = runForm(huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title(fmt.Sprintf("Which arm is on %s?", arm.port)).
				Description("The arm that just wiggled").
				Options(options...).
				Value(&role),
		),
	))
	return role, err
}

// calibrateArm records the range of motion of every joint while the
// operator moves the unpowered arm.
func calibrateArm(port, role string) (robot.Calibration, error) {
	fmt.Printf("Calibrating %s arm on %s\n\n", role, port)

	bus, err := robot.OpenBus(port)
	if err != nil {
		return nil, fmt.Errorf("connect to arm: %w", err)
	}
	defer bus.Close()

	ctx, cancel := context.WithTimeout(context.Background(), scanTimeout)
	servos, err := bus.Scan(ctx, 1, robot.NumJoints)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("scan servos: %w", err)
	}
	if !isArm(servos) {
		return nil, fmt.Errorf("no arm on %s (expected servos with IDs 1-%d)", port, robot.NumJoints)
	}

	servoMap := make(map[int]*feetech.Servo, len(servos))
	for _, s := range servos {
		servoMap[s.ID] = feetech.NewServo(bus, s.ID, s.Model)
	}
	// torque off so the arm moves freely
	for _, servo := range servoMap {
		servo.Disable(context.Background())
	}

	fmt.Println(subHeaderStyle.Render("Record range of motion"))
	fmt.Println("Move each joint to its minimum AND maximum positions.")
	fmt.Println("Explore the full range of motion for all joints.")
	fmt.Println()

	model := newCalibrationModel(servoMap)
	finalModel, err := tea.NewProgram(model).Run()
	if err != nil {
		return nil, fmt.Errorf("run calibration: %w", err)
	}
	cm := finalModel.(calibrationModel)
	if cm.aborted {
		return nil, errAborted
	}

	cal := cm.calibration()
	if err := cal.Validate(); err != nil {
		return nil, fmt.Errorf("%s calibration: %w", role, err)
	}
	fmt.Printf("\n%s arm calibrated.\n", cases.Title(language.English).String(role))
	return cal, nil
}

// Calibration TUI model
type calibrationModel struct {
	motors   []robot.MotorName
	servoMap map[int]*feetech.Servo
	cur      map[robot.MotorName]int
	min      map[robot.MotorName]int
	max      map[robot.MotorName]int
	seen     map[robot.MotorName]bool
	quitting bool
	aborted  bool
}

type tickMsg time.Time

func newCalibrationModel(servoMap map[int]*feetech.Servo) calibrationModel {
	return calibrationModel{
		motors:   robot.AllMotors(),
		servoMap: servoMap,
		cur:      make(map[robot.MotorName]int),
		min:      make(map[robot.MotorName]int),
		max:      make(map[robot.MotorName]int),
		seen:     make(map[robot.MotorName]bool),
	}
}

func calibrationTick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m calibrationModel) Init() tea.Cmd {
	return calibrationTick()
}

// observe folds a position reading into the tracked range.
func (m calibrationModel) observe(name robot.MotorName, pos int) {
	m.cur[name] = pos
	if !m.seen[name] || pos < m.min[name] {
		m.min[name] = pos
	}
	if !m.seen[name] || pos > m.max[name] {
		m.max[name] = pos
	}
	m.seen[name] = true
}

func (m calibrationModel) calibration() robot.Calibration {
	cal := make(robot.Calibration, len(m.motors))
	for i, name := range m.motors {
		cal[name] = robot.MotorCalibration{
			ID:       i + 1,
			RangeMin: m.min[name],
			RangeMax: m.max[name],
		}
	}
	return cal
}

func (m calibrationModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter", "q":
			m.quitting = true
			return m, tea.Quit
		case "ctrl+c":
			m.quitting = true
			m.aborted = true
			return m, tea.Quit
		}

	case tickMsg:
		ctx := context.Background()
		for i, name := range m.motors {
			servo, ok := m.servoMap[i+1]
			if !ok {
				continue
			}
			pos, err := servo.Position(ctx)
			if err != nil {
				continue
			}
			m.observe(name, pos)
		}
		return m, calibrationTick()
	}

	return m, nil
}

func (m calibrationModel) View() string {
	if m.quitting {
		return ""
	}

	var sb strings.Builder

	tableHeaderStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	tableMotorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	tableCellStyle := lipgloss.NewStyle().Padding(0, 1)
	tableCurrentStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Padding(0, 1)
	tableRangeGoodStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Padding(0, 1)
	tableRangeLowStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Padding(0, 1)

	rows := make([][]string, 0, len(m.motors))
	ranges := make([]int, 0, len(m.motors))
	for _, name := range m.motors {
		rangeSize := m.max[name] - m.min[name]
		ranges = append(ranges, rangeSize)
		rows = append(rows, []string{
			string(name),
			strconv.Itoa(m.cur[name]),
			strconv.Itoa(m.min[name]),
			strconv.Itoa(m.max[name]),
			strconv.Itoa(rangeSize),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Motor", "Current", "Min", "Max", "Range").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			switch col {
			case 0:
				return tableMotorStyle
			case 1:
				return tableCurrentStyle
			case 4:
				if row >= 0 && row < len(ranges) && ranges[row] > goodRange {
					return tableRangeGoodStyle
				}
				return tableRangeLowStyle
			default:
				return tableCellStyle
			}
		})

	sb.WriteString(t.Render())
	sb.WriteString("\n\n")
	sb.WriteString(dimStyle.Render("Press Enter when done, Ctrl+C to abort"))

	return sb.String()
}
