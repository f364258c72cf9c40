package main

import (
	"context"
	"strings"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
	"go.bug.st/serial"

	"github.com/gwillem/armcollect/pkg/robot"
)

const scanTimeout = 2 * time.Second

type armInfo struct {
	port   string
	servos []feetech.FoundServo
	bus    *feetech.Bus
}

// serialPorts lists candidate ports, skipping macOS Bluetooth ports.
func serialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}
	out := ports[:0]
	for _, port := range ports {
		if strings.Contains(port, "Bluetooth") {
			continue
		}
		out = append(out, port)
	}
	return out, nil
}

// findArms probes every serial port for an arm. The returned buses are open;
// the caller closes them.
func findArms(ports []string) []armInfo {
	var arms []armInfo
	for _, port := range ports {
		bus, err := robot.OpenBus(port)
		if err != nil {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), scanTimeout)
		servos, err := bus.Scan(ctx, 1, robot.NumJoints)
		cancel()
		if err != nil || !isArm(servos) {
			bus.Close()
			continue
		}
		arms = append(arms, armInfo{port: port, servos: servos, bus: bus})
	}
	return arms
}

// isArm reports whether servos are exactly IDs 1-6.
func isArm(servos []feetech.FoundServo) bool {
	if len(servos) != robot.NumJoints {
		return false
	}
	ids := make(map[int]bool, len(servos))
	for _, s := range servos {
		ids[s.ID] = true
	}
	for i := 1; i <= robot.NumJoints; i++ {
		if !ids[i] {
			return false
		}
	}
	return true
}
