package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gwillem/armcollect/pkg/control"
	"github.com/gwillem/armcollect/pkg/device"
	"github.com/gwillem/armcollect/pkg/env"
	"github.com/gwillem/armcollect/pkg/logging"
	"github.com/gwillem/armcollect/pkg/recording"
	"github.com/gwillem/armcollect/pkg/replay"
	"github.com/gwillem/armcollect/pkg/robot"
	"github.com/gwillem/armcollect/pkg/sim"
	"github.com/gwillem/armcollect/pkg/teleop"
)

type CollectCommand struct {
	Env       string  `short:"e" long:"env" description:"Environment name, skips the environment menu"`
	Method    string  `short:"m" long:"method" choice:"keyboard" choice:"gamepad" choice:"leader" choice:"replay" choice:"watch" description:"Control method, skips the method menu"`
	Recording string  `short:"r" long:"recording" description:"Archive to replay, implies --method replay"`
	Speed     float64 `long:"speed" description:"Replay speed multiplier (default from config)"`
	Cameras   bool    `long:"cameras" description:"Render camera images into observations"`
	Mirror    bool    `long:"mirror" description:"Leader: invert shoulder_pan and wrist_roll"`
	NoTUI     bool    `long:"no-tui" description:"Log plainly instead of showing the status screen"`
}

func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// session is everything collect needs to start the loop.
type session struct {
	envName string
	method  control.Method
	env     env.Env
	ctrl    control.Controller
	keys    *device.TerminalKeys
	rec     *recording.Recorder
}

func (c *CollectCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	interactive := isTerminal(os.Stdin) && isTerminal(os.Stdout)
	useTUI := interactive && !c.NoTUI

	logCh := make(chan string, 100)
	var extra []slog.Handler
	if useTUI {
		level := cfg.Log.Level
		if opts.LogLevel != "" {
			level = opts.LogLevel
		}
		extra = append(extra, logging.NewChannelHandler(logCh, logging.ParseLevel(level)))
	}
	logger, closer, err := newLogger(cfg.Log, useTUI, extra...)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := c.prepare(ctx, cfg, logger, interactive, useTUI)
	if err != nil {
		if errors.Is(err, errAborted) {
			return nil
		}
		return err
	}
	if s.method == control.MethodReplay {
		fmt.Printf("%s Loading recording for %s\n", successStyle.Render("✓"), s.envName)
	} else {
		fmt.Printf("%s Starting %s with %s control...\n", successStyle.Render("✓"), s.envName, s.method)
	}

	watcher := device.NewWatcher(logger, func(ev device.HotplugEvent) {
		if ev.IsGamepad() && ev.Action == "add" && s.method != control.MethodGamepad {
			logger.Info("gamepad connected, restart collect to use it",
				logging.String(logging.FieldDevice, ev.Device))
		}
	})
	if err := watcher.Start(ctx); err != nil {
		logger.Debug("input hotplug monitoring unavailable", logging.Error(err))
	}
	defer watcher.Stop()

	cfgLoop := teleop.Config{
		Env:        s.env,
		Controller: s.ctrl,
		Method:     s.method,
		Interval:   cfg.Collect.LoopInterval(),
		Logger:     logger,
	}
	if s.rec != nil {
		cfgLoop.Recorder = s.rec
	}
	loop, err := teleop.New(cfgLoop)
	if err != nil {
		s.ctrl.Close()
		s.env.Close()
		return err
	}

	var res teleop.Result
	if useTUI {
		res, err = runWithTUI(ctx, s, loop, logCh)
	} else {
		res, err = loop.Run(ctx)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
	}
	if reportErr := report(res, s.method); reportErr != nil && err == nil {
		err = reportErr
	}
	return err
}

// prepare runs the menus and opens the environment and controller.
func (c *CollectCommand) prepare(ctx context.Context, cfg *robot.Config, logger *slog.Logger, interactive, useTUI bool) (*session, error) {
	reg := env.NewRegistry()
	if err := sim.Register(reg); err != nil {
		return nil, err
	}
	if cfg.Follower.IsConfigured() {
		if err := reg.Register(env.FollowerSpec(cfg.Follower)); err != nil {
			return nil, err
		}
	}

	recs := c.recordings(ctx, cfg, logger)
	avail := detectAvailability(cfg, useTUI, len(recs) > 0)

	s := &session{envName: c.Env}
	switch {
	case c.Recording != "":
		s.method = control.MethodReplay
	case c.Method != "":
		s.method = control.Method(c.Method)
		if !avail.offers(s.method) {
			return nil, fmt.Errorf("control method %s is not available", s.method)
		}
	}

	if s.envName == "" && c.Recording == "" {
		if !interactive {
			return nil, errors.New("no terminal for menus, pass --env and --method")
		}
		name, err := selectEnvironment(reg.Specs())
		if err != nil {
			return nil, err
		}
		s.envName = name
	}
	if s.method == "" {
		if !interactive {
			return nil, errors.New("no terminal for menus, pass --method")
		}
		m, err := selectMethod(avail)
		if err != nil {
			return nil, err
		}
		s.method = m
	}

	var replaySession *recording.Session
	if s.method == control.MethodReplay {
		path := c.Recording
		if path == "" {
			if !interactive {
				return nil, errors.New("no terminal for menus, pass --recording")
			}
			rec, err := selectRecording(recs)
			if err != nil {
				return nil, err
			}
			path = rec.Path
		}
		loaded, err := replay.Load(path)
		if err != nil {
			return nil, err
		}
		replaySession = loaded
		s.envName = loaded.EnvName
		logger.Info("loaded recording",
			logging.String(logging.FieldPath, filepath.Base(path)),
			logging.Int("episodes", len(loaded.Episodes)),
		)
	}

	e, err := reg.Make(s.envName, env.Options{
		MaxEpisodeSteps: cfg.Collect.MaxEpisodeSteps,
		Cameras:         cfg.Collect.Cameras || c.Cameras,
		Seed:            cfg.Collect.Seed,
	})
	if err != nil {
		return nil, err
	}
	s.env = e

	for {
		err := c.openController(s, cfg, replaySession, logger, useTUI)
		if err == nil {
			break
		}
		if !errors.Is(err, control.ErrDeviceUnavailable) {
			e.Close()
			return nil, err
		}
		logger.Warn("control method unavailable",
			logging.String(logging.FieldControlMethod, string(s.method)),
			logging.Error(err),
		)
		avail = avail.without(s.method)
		if interactive && c.Method == "" {
			m, err := selectMethod(avail)
			if err != nil {
				e.Close()
				return nil, err
			}
			s.method = m
		} else {
			s.method = control.MethodWatch
		}
	}

	if s.method.Records() {
		s.rec = recording.NewRecorder(recording.RecorderConfig{
			EnvName:       s.envName,
			ControlMethod: string(s.method),
			Dir:           cfg.Collect.DataDir,
			Logger:        logger,
		})
	}
	return s, nil
}

func (c *CollectCommand) recordings(ctx context.Context, cfg *robot.Config, logger *slog.Logger) []replay.Recording {
	listOpts := replay.ListOptions{Logger: logger}
	catalog, err := replay.OpenCatalog(cfg.Collect.CatalogFile())
	if err != nil {
		logger.Warn("recordings catalog unavailable", logging.Error(err))
	} else {
		defer catalog.Close()
		listOpts.Catalog = catalog
	}
	recs, err := replay.List(ctx, cfg.Collect.DataDir, listOpts)
	if err != nil {
		logger.Warn("failed to list recordings", logging.Error(err))
	}
	return recs
}

func detectAvailability(cfg *robot.Config, terminalKeys bool, hasRecordings bool) availability {
	return availability{
		Keyboard:   terminalKeys || cfg.Collect.KeyboardDevice != "" || len(device.FindKeyboards()) > 0,
		Gamepad:    cfg.Collect.GamepadDevice != "" || len(device.FindJoysticks()) > 0,
		Leader:     cfg.Leader.IsConfigured(),
		Recordings: hasRecordings,
	}
}

// openController builds the controller for s.method. The keyboard falls
// back to terminal keys when no evdev keyboard can be read and the status
// screen owns the terminal.
func (c *CollectCommand) openController(s *session, cfg *robot.Config, recorded *recording.Session, logger *slog.Logger, useTUI bool) error {
	var err error
	switch s.method {
	case control.MethodKeyboard:
		var kb *control.Keyboard
		kb, err = control.OpenKeyboard(cfg.Collect.KeyboardDevice, logger)
		if err != nil && useTUI && errors.Is(err, control.ErrDeviceUnavailable) {
			logger.Info("using terminal keys, no readable keyboard device", logging.Error(err))
			s.keys = device.NewTerminalKeys(device.DefaultKeyHold)
			kb, err = control.NewKeyboard(s.keys, logger)
		}
		if err == nil {
			s.ctrl = kb
		}
	case control.MethodGamepad:
		var pad *control.Gamepad
		pad, err = control.OpenGamepad(cfg.Collect.GamepadDevice, logger)
		if err == nil {
			s.ctrl = pad
		}
	case control.MethodLeader:
		keys := s.episodeKeys(cfg, logger, useTUI)
		var leader *control.Leader
		leader, err = control.OpenLeader(cfg.Leader, control.LeaderOptions{
			Mirror: c.Mirror,
			RateHz: cfg.Collect.ControlRateHz,
			Logger: logger,
			Keys:   keys,
		})
		if err == nil {
			s.ctrl = leader
		} else if keys != nil {
			keys.Close()
			s.keys = nil
		}
	case control.MethodReplay:
		if recorded == nil {
			return errors.New("replay: no recording loaded")
		}
		speed := cfg.Collect.PlaybackSpeed
		if c.Speed > 0 {
			speed = c.Speed
		}
		s.ctrl = replay.NewPlayer(recorded, speed)
	case control.MethodWatch:
		seed := uint64(cfg.Collect.Seed)
		if seed == 0 {
			seed = uint64(time.Now().UnixNano())
		}
		s.ctrl = control.NewWatch(s.env.ActionSpace(), seed)
	default:
		return fmt.Errorf("unknown control method %q", s.method)
	}
	return err
}

// episodeKeys returns the key source a leader arm session uses for reset
// and exit: terminal keys under the status screen, otherwise an evdev
// keyboard when one can be read.
func (s *session) episodeKeys(cfg *robot.Config, logger *slog.Logger, useTUI bool) device.KeySource {
	if useTUI {
		s.keys = device.NewTerminalKeys(device.DefaultKeyHold)
		return s.keys
	}
	src, err := device.OpenKeyboard(cfg.Collect.KeyboardDevice)
	if err != nil {
		logger.Info("no keyboard for episode reset, use Ctrl+C to stop", logging.Error(err))
		return nil
	}
	return src
}

func runWithTUI(ctx context.Context, s *session, loop *teleop.Loop, logCh <-chan string) (teleop.Result, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := newCollectModel(s.method, s.envName, loop, logCh, s.keys, cancel)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithoutSignalHandler())

	type outcome struct {
		res teleop.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := loop.Run(runCtx)
		done <- outcome{res, err}
		p.Send(loopDoneMsg{result: res, err: err})
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		out := <-done
		return out.res, errors.Join(out.err, fmt.Errorf("status screen: %w", err))
	}
	// the screen may have exited on its own
	cancel()
	out := <-done
	return out.res, out.err
}

func report(res teleop.Result, method control.Method) error {
	p := message.NewPrinter(language.English)
	fmt.Println()
	if res.Interrupted {
		fmt.Println(warnStyle.Render("Interrupted by user"))
	}
	switch {
	case res.SaveErr != nil:
		fmt.Fprintln(os.Stderr, errorStyle.Render("Failed to save data: "+res.SaveErr.Error()))
	case res.ArchivePath != "":
		fmt.Printf("%s %s\n", successStyle.Render("Data saved:"), filepath.Base(res.ArchivePath))
		fmt.Println(dimStyle.Render("Location: " + res.ArchivePath))
		fmt.Println(dimStyle.Render(p.Sprintf("Episodes: %d | Total steps: %d", res.Recorded, res.Steps)))
	case method.Records():
		fmt.Println(warnStyle.Render(p.Sprintf("No data collected (Episodes: %d, Steps: %d)", res.Recorded, res.Steps)))
	default:
		fmt.Println(dimStyle.Render(p.Sprintf("Episodes: %d | Steps: %d", res.Episodes, res.Steps)))
	}
	fmt.Println(successStyle.Render("Data collection session ended"))
	return res.SaveErr
}
