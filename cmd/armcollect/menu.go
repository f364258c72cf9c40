package main

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gwillem/armcollect/pkg/control"
	"github.com/gwillem/armcollect/pkg/env"
	"github.com/gwillem/armcollect/pkg/replay"
)

// errAborted is returned when the operator leaves a menu.
var errAborted = errors.New("aborted")

// availability records which control methods can be offered.
type availability struct {
	Keyboard   bool
	Gamepad    bool
	Leader     bool
	Recordings bool
}

var methodLabels = map[control.Method]string{
	control.MethodKeyboard: "Keyboard - QWEASD keys for joint control",
	control.MethodGamepad:  "Gamepad - Switch/Xbox/PS controller",
	control.MethodLeader:   "Leader arm - move the leader arm by hand",
	control.MethodReplay:   "Replay recording - play back collected demonstrations",
	control.MethodWatch:    "Watch only - random actions, nothing recorded",
}

// methods lists the offered control methods in menu order. Watch is
// always available.
func (a availability) methods() []control.Method {
	var out []control.Method
	if a.Keyboard {
		out = append(out, control.MethodKeyboard)
	}
	if a.Gamepad {
		out = append(out, control.MethodGamepad)
	}
	if a.Leader {
		out = append(out, control.MethodLeader)
	}
	if a.Recordings {
		out = append(out, control.MethodReplay)
	}
	return append(out, control.MethodWatch)
}

// without drops m so a failed device is not offered again.
func (a availability) without(m control.Method) availability {
	switch m {
	case control.MethodKeyboard:
		a.Keyboard = false
	case control.MethodGamepad:
		a.Gamepad = false
	case control.MethodLeader:
		a.Leader = false
	case control.MethodReplay:
		a.Recordings = false
	}
	return a
}

func (a availability) offers(m control.Method) bool {
	for _, candidate := range a.methods() {
		if candidate == m {
			return true
		}
	}
	return false
}

// defaultMethod is keyboard when present, watch otherwise.
func (a availability) defaultMethod() control.Method {
	if a.Keyboard {
		return control.MethodKeyboard
	}
	return control.MethodWatch
}

func runForm(form *huh.Form) error {
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return errAborted
		}
		return err
	}
	return nil
}

func selectEnvironment(specs []env.Spec) (string, error) {
	if len(specs) == 0 {
		return "", errors.New("no environments registered")
	}
	options := make([]huh.Option[string], 0, len(specs))
	for _, spec := range specs {
		options = append(options, huh.NewOption(fmt.Sprintf("%-18s %s", spec.Name, spec.Description), spec.Name))
	}
	name := specs[0].Name
	err := runForm(huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Select environment").
				Options(options...).
				Value(&name),
		),
	))
	return name, err
}

func selectMethod(avail availability) (control.Method, error) {
	methods := avail.methods()
	options := make([]huh.Option[control.Method], 0, len(methods))
	for _, m := range methods {
		options = append(options, huh.NewOption(methodLabels[m], m))
	}
	method := avail.defaultMethod()
	err := runForm(huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[control.Method]().
				Title("Select control method").
				Options(options...).
				Value(&method),
		),
	))
	return method, err
}

func selectRecording(recs []replay.Recording) (replay.Recording, error) {
	if len(recs) == 0 {
		return replay.Recording{}, errors.New("no recordings found")
	}
	p := message.NewPrinter(language.English)
	options := make([]huh.Option[int], 0, len(recs))
	for i, rec := range recs {
		label := p.Sprintf("%s  %-18s %3d episodes %8d steps",
			rec.Date.Format("2006-01-02 15:04"), rec.EnvName, rec.NumEpisodes, rec.TotalSteps())
		options = append(options, huh.NewOption(label, i))
	}
	idx := 0
	err := runForm(huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[int]().
				Title("Select recording").
				Options(options...).
				Value(&idx),
		),
	))
	if err != nil {
		return replay.Recording{}, err
	}
	return recs[idx], nil
}
