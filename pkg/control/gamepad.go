package control

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gwillem/armcollect/pkg/device"
	"github.com/gwillem/armcollect/pkg/env"
	"github.com/gwillem/armcollect/pkg/logging"
	"github.com/gwillem/armcollect/pkg/robot"
)

const (
	// GamepadDelta is the joint increment per iteration at full stick deflection.
	GamepadDelta = 0.06
	// GripperStep is the gripper increment per iteration while closing or opening.
	GripperStep      = 0.1
	TriggerThreshold = 0.5
	GamepadRateHz    = 50
)

// Button and axis numbers as reported by common pads (Switch Pro, Xbox, DualShock).
const (
	buttonGripperClose    = 6
	buttonGripperOpen     = 7
	buttonAltGripperClose = 4
	buttonAltGripperOpen  = 5
	buttonExit            = 8
	buttonReset           = 9

	axisTriggerClose = 4
	axisTriggerOpen  = 5
)

// Gamepad maps stick deflection to joint velocity around the observed pose.
// Each Action starts over from the observation, so nothing accumulates
// between iterations.
type Gamepad struct {
	js     device.Joystick
	logger *slog.Logger
	delta  float64
	pacer  *ratePacer

	target    robot.Joints
	seeded    bool
	resetHeld bool
	pollErr   error
}

// OpenGamepad opens a joystick (the first one found when path is empty).
func OpenGamepad(path string, logger *slog.Logger) (*Gamepad, error) {
	js, err := device.OpenJoystick(path)
	if err != nil {
		return nil, fmt.Errorf("gamepad: %w: %w", ErrDeviceUnavailable, err)
	}
	return NewGamepad(js, logger)
}

// NewGamepad controls the arm with js. The gamepad owns js and closes it.
func NewGamepad(js device.Joystick, logger *slog.Logger) (*Gamepad, error) {
	if js == nil {
		return nil, fmt.Errorf("gamepad: %w", ErrDeviceUnavailable)
	}
	g := &Gamepad{
		js:     js,
		logger: logging.NewComponentLogger(logger, "gamepad"),
		delta:  GamepadDelta,
		pacer:  newRatePacer(GamepadRateHz),
	}
	g.logger.Info("gamepad connected",
		logging.String(logging.FieldDevice, js.Name()),
		logging.Int("axes", js.NumAxes()),
		logging.Int("buttons", js.NumButtons()),
	)
	return g, nil
}

func (g *Gamepad) Action(obs env.Observation) robot.Joints {
	if err := g.js.Poll(); err != nil {
		if g.pollErr == nil {
			g.logger.Warn("gamepad read failed", logging.Error(err))
		}
		g.pollErr = err
	} else {
		g.pollErr = nil
	}

	g.target = obs.ArmQpos
	g.seeded = true

	if g.js.NumAxes() >= 4 {
		leftX := ApplyDeadZone(g.js.Axis(0))
		leftY := ApplyDeadZone(g.js.Axis(1))
		rightX := ApplyDeadZone(g.js.Axis(2))
		rightY := ApplyDeadZone(g.js.Axis(3))

		g.target[0] += leftX * g.delta
		g.target[1] += -leftY * g.delta
		g.target[2] += -rightY * g.delta
		g.target[3] += rightX * g.delta
	}

	switch closing, opening := g.gripperInput(); {
	case closing:
		g.target[5] -= GripperStep
	case opening:
		g.target[5] += GripperStep
	}

	g.target = g.target.Clamp()
	return g.target
}

// gripperInput reads the shoulder buttons, falling back to the alternate
// buttons and then to the analog triggers.
func (g *Gamepad) gripperInput() (closing, opening bool) {
	closing = g.button(buttonGripperClose)
	opening = g.button(buttonGripperOpen)
	if !closing {
		closing = g.button(buttonAltGripperClose)
	}
	if !opening {
		opening = g.button(buttonAltGripperOpen)
	}
	if !closing && !opening && g.js.NumAxes() > axisTriggerClose {
		if g.js.Axis(axisTriggerClose) > TriggerThreshold {
			closing = true
		} else if g.js.NumAxes() > axisTriggerOpen && g.js.Axis(axisTriggerOpen) > TriggerThreshold {
			opening = true
		}
	}
	return closing, opening
}

func (g *Gamepad) button(i int) bool {
	return g.js.NumButtons() > i && g.js.Button(i)
}

// ShouldReset reports the moment the reset button goes down. Holding the
// button does not request further resets.
func (g *Gamepad) ShouldReset() bool {
	pressed := g.button(buttonReset)
	rising := pressed && !g.resetHeld
	g.resetHeld = pressed
	if rising {
		g.seeded = false
	}
	return rising
}

func (g *Gamepad) ShouldExit() bool {
	return g.button(buttonExit)
}

func (g *Gamepad) StatusText(st Status) string {
	gripper := 0.0
	if g.seeded {
		gripper = g.target[5]
	}
	return fmt.Sprintf("%s  Gripper: %.2f", st, gripper)
}

// Tick holds the loop at GamepadRateHz.
func (g *Gamepad) Tick(ctx context.Context) error {
	return g.pacer.Tick(ctx)
}

func (g *Gamepad) Close() error {
	return g.js.Close()
}
