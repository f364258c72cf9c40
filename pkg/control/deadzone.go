package control

import "math"

// DeadZoneThreshold is the stick deflection below which input is ignored.
const DeadZoneThreshold = 0.15

// ApplyDeadZone suppresses small stick deflections and rescales the rest so
// that full deflection still maps to ±1.
func ApplyDeadZone(v float64) float64 {
	if math.Abs(v) < DeadZoneThreshold {
		return 0
	}
	return math.Copysign((math.Abs(v)-DeadZoneThreshold)/(1-DeadZoneThreshold), v)
}
