package robot

import (
	"context"
	"fmt"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
)

// Arm represents a robot arm with multiple servos.
type Arm struct {
	bus         *feetech.Bus
	group       *feetech.ServoGroup
	calibration Calibration
}

// OpenBus opens the serial bus used by the arm servos.
func OpenBus(port string) (*feetech.Bus, error) {
	return feetech.NewBus(feetech.BusConfig{
		Port:     port,
		BaudRate: 1_000_000,
		Protocol: feetech.ProtocolSTS,
		Timeout:  100 * time.Millisecond,
	})
}

// NewArm opens the bus on port and groups the calibrated servos.
func NewArm(cfg ArmConfig) (*Arm, error) {
	if !cfg.IsCalibrated() {
		return nil, fmt.Errorf("arm on %q is not calibrated", cfg.Port)
	}
	bus, err := OpenBus(cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("open bus: %w", err)
	}

	ids := cfg.Calibration.MotorIDs()
	group := feetech.NewServoGroupByIDs(bus, ids...)

	return &Arm{
		bus:         bus,
		group:       group,
		calibration: cfg.Calibration,
	}, nil
}

// Close closes the arm's bus connection.
func (a *Arm) Close() error {
	return a.bus.Close()
}

// Enable enables torque on all servos.
func (a *Arm) Enable(ctx context.Context) error {
	return a.group.EnableAll(ctx)
}

// Disable disables torque on all servos.
func (a *Arm) Disable(ctx context.Context) error {
	return a.group.DisableAll(ctx)
}

// ReadPositions reads current positions from all motors.
// Returns normalized positions in the range [-100, 100].
func (a *Arm) ReadPositions(ctx context.Context) (map[MotorName]float64, error) {
	rawPositions, err := a.group.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("read positions: %w", err)
	}

	positions := make(map[MotorName]float64, len(rawPositions))
	for id, raw := range rawPositions {
		name, cal, ok := a.calibration.ByID(id)
		if !ok {
			continue
		}
		positions[name] = cal.Normalize(raw)
	}

	return positions, nil
}

// ReadJoints reads the arm pose in radians.
func (a *Arm) ReadJoints(ctx context.Context) (Joints, error) {
	positions, err := a.ReadPositions(ctx)
	if err != nil {
		return Joints{}, err
	}
	var j Joints
	for i, name := range AllMotors() {
		norm, ok := positions[name]
		if !ok {
			return Joints{}, fmt.Errorf("read positions: no reading for %s", name)
		}
		j[i] = NormalizedToRadians(i, norm)
	}
	return j, nil
}

// WritePositions writes target positions to all motors.
// Takes normalized positions in the range [-100, 100].
func (a *Arm) WritePositions(ctx context.Context, positions map[MotorName]float64) error {
	rawPositions := make(feetech.PositionMap, len(positions))
	for name, norm := range positions {
		cal, ok := a.calibration[name]
		if !ok {
			continue
		}
		rawPositions[cal.ID] = cal.Denormalize(norm)
	}

	if err := a.group.SetPositions(ctx, rawPositions); err != nil {
		return fmt.Errorf("write positions: %w", err)
	}

	return nil
}

// WriteJoints clamps target to the joint limits and commands the servos.
func (a *Arm) WriteJoints(ctx context.Context, target Joints) error {
	target = target.Clamp()
	positions := make(map[MotorName]float64, NumJoints)
	for i, name := range AllMotors() {
		positions[name] = RadiansToNormalized(i, target[i])
	}
	return a.WritePositions(ctx, positions)
}
