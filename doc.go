// Package armcollect teleoperates a simulated or real 6-joint low-cost robot
// arm, records demonstrations into numpy-compatible .npz archives and replays
// them with their original timing.
//
// # Installation
//
//	go install github.com/gwillem/armcollect/cmd/armcollect@latest
//
// # Usage
//
// Detect and calibrate connected arms (only needed for the hardware
// follower environment and the leader controller):
//
//	armcollect setup
//
// Collect, replay or watch a session; menus pick the environment, the
// control method and the recording to replay:
//
//	armcollect collect
//	armcollect collect --env LiftCube-v0 --method keyboard
//	armcollect collect --recording collected_data/LiftCube-v0_keyboard_20260301_113000.npz
//
// Inspect recordings and devices:
//
//	armcollect list
//	armcollect devices --scan
//
// # Packages
//
//   - cmd/armcollect: CLI, menus and status screen
//   - pkg/teleop: control loop
//   - pkg/control: keyboard, gamepad, leader arm and watch controllers
//   - pkg/recording: recorder and .npz archive format
//   - pkg/replay: recording catalog, loader and replay player
//   - pkg/env, pkg/sim: environment contract, follower arm and kinematic simulator
//   - pkg/device: evdev keyboards, joysticks and input hotplug
//   - pkg/robot: joints, calibration, arm access and configuration
//   - pkg/logging: slog setup
package armcollect
