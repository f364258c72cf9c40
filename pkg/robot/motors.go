// Package robot describes the 6-joint low-cost arm: joint names, joint limits,
// servo calibration, configuration and access to the physical arm.
package robot

import "fmt"

// MotorName identifies a motor in the arm.
type MotorName string

// Motor names for the arm, in joint order.
const (
	ShoulderPan  MotorName = "shoulder_pan"
	ShoulderLift MotorName = "shoulder_lift"
	ElbowFlex    MotorName = "elbow_flex"
	WristFlex    MotorName = "wrist_flex"
	WristRoll    MotorName = "wrist_roll"
	Gripper      MotorName = "gripper"
)

// NumJoints is the number of actuated joints, gripper included.
const NumJoints = 6

// AllMotors returns all motor names in order (matching servo IDs 1-6).
func AllMotors() []MotorName {
	return []MotorName{
		ShoulderPan,
		ShoulderLift,
		ElbowFlex,
		WristFlex,
		WristRoll,
		Gripper,
	}
}

// Joints holds one value per joint in radians, ordered as AllMotors.
type Joints [NumJoints]float64

// Joint position limits in radians.
var (
	JointLimitsLow  = Joints{-3.14159, -1.5708, -1.48353, -1.91986, -2.96706, -1.74533}
	JointLimitsHigh = Joints{3.14159, 1.22173, 1.74533, 1.91986, 2.96706, 0.0523599}
)

// Clamp returns a copy of j with every joint limited to its range.
func (j Joints) Clamp() Joints {
	for i := range j {
		if j[i] < JointLimitsLow[i] {
			j[i] = JointLimitsLow[i]
		} else if j[i] > JointLimitsHigh[i] {
			j[i] = JointLimitsHigh[i]
		}
	}
	return j
}

// InLimits reports whether every joint lies within its range.
func (j Joints) InLimits() bool {
	for i := range j {
		if j[i] < JointLimitsLow[i] || j[i] > JointLimitsHigh[i] {
			return false
		}
	}
	return true
}

// ByName returns the joints keyed by motor name.
func (j Joints) ByName() map[MotorName]float64 {
	m := make(map[MotorName]float64, NumJoints)
	for i, name := range AllMotors() {
		m[name] = j[i]
	}
	return m
}

func (j Joints) String() string {
	return fmt.Sprintf("[%.2f, %.2f, %.2f, %.2f, %.2f, %.2f]", j[0], j[1], j[2], j[3], j[4], j[5])
}

// JointsFromSlice copies up to NumJoints values from s.
func JointsFromSlice(s []float64) Joints {
	var j Joints
	copy(j[:], s)
	return j
}

// JointIndex returns the position of name in joint order.
func JointIndex(name MotorName) (int, bool) {
	for i, n := range AllMotors() {
		if n == name {
			return i, true
		}
	}
	return 0, false
}
