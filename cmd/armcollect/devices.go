package main

import (
	"fmt"
	"strconv"

	"github.com/gwillem/armcollect/pkg/device"
)

type DevicesCommand struct {
	Scan bool `long:"scan" description:"Probe serial ports for arms"`
}

func (c *DevicesCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("Input devices"))
	inputs := device.ListInputDevices()
	if len(inputs) == 0 {
		fmt.Println(dimStyle.Render("  none found (is the user in the input group?)"))
	} else {
		rows := make([][]string, 0, len(inputs))
		for _, d := range inputs {
			rows = append(rows, []string{string(d.Kind), d.Path, d.Name})
		}
		fmt.Println(renderTable([]string{"Kind", "Path", "Name"}, rows, nil))
	}
	fmt.Println()

	fmt.Println(headerStyle.Render("Serial ports"))
	ports, err := serialPorts()
	if err != nil {
		return fmt.Errorf("list serial ports: %w", err)
	}
	if len(ports) == 0 {
		fmt.Println(dimStyle.Render("  none found"))
		return nil
	}
	if !c.Scan {
		for _, port := range ports {
			fmt.Println("  " + port)
		}
		fmt.Println(dimStyle.Render("  use --scan to probe for arms"))
		return nil
	}

	arms := findArms(ports)
	found := make(map[string]int, len(arms))
	for _, arm := range arms {
		found[arm.port] = len(arm.servos)
		arm.bus.Close()
	}
	rows := make([][]string, 0, len(ports))
	for _, port := range ports {
		servos := "-"
		if n, ok := found[port]; ok {
			servos = strconv.Itoa(n) + " (arm)"
		}
		rows = append(rows, []string{port, servos})
	}
	fmt.Println(renderTable([]string{"Port", "Servos"}, rows, []columnAlignment{alignLeft, alignRight}))
	return nil
}
