package device

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"github.com/gwillem/armcollect/pkg/logging"
)

// Watcher listens for udev netlink events about input devices so the
// operator learns when a gamepad or keyboard is plugged in or pulled out.
type Watcher struct {
	logger *slog.Logger
	notify func(HotplugEvent)

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

// NewWatcher creates a watcher. notify may be nil; events are logged either way.
func NewWatcher(logger *slog.Logger, notify func(HotplugEvent)) *Watcher {
	return &Watcher{
		logger: logging.NewComponentLogger(logger, "hotplug"),
		notify: notify,
	}
}

// Start connects to the udev netlink socket. Failure to connect is logged
// and not returned; hotplug notices are informational only.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		w.logger.Warn("failed to connect to netlink socket",
			logging.Error(err),
			logging.String(logging.FieldEventType, "hotplug_connect_failed"),
			logging.String(logging.FieldImpact, "device attach and removal will not be reported"),
		)
		return nil
	}

	w.conn = conn
	w.quit = make(chan struct{})
	w.running = true

	go w.monitorLoop(ctx, conn, w.quit)
	w.logger.Debug("hotplug watcher started")
	return nil
}

// Stop shuts down the watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	close(w.quit)
	w.quit = nil
	_ = w.conn.Close()
	w.conn = nil
	w.running = false
}

// Running reports whether the watcher is active.
func (w *Watcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) monitorLoop(ctx context.Context, conn *netlink.UEventConn, quit <-chan struct{}) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, buildMatcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-queue:
			w.handleEvent(uevent)
		case err := <-errs:
			w.logger.Debug("netlink monitor error", logging.Error(err))
		}
	}
}

// buildMatcher matches add and remove of joystick and event nodes.
func buildMatcher() netlink.Matcher {
	action := "add|remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "input",
			"DEVNAME":   "input/(js|event)[0-9]+",
		},
	})
	return rules
}

func (w *Watcher) handleEvent(uevent netlink.UEvent) {
	dev := devnamePath(uevent.Env["DEVNAME"])
	if dev == "" {
		return
	}
	ev := HotplugEvent{Action: string(uevent.Action), Device: dev}
	w.logger.Info("input device "+ev.Action,
		logging.String(logging.FieldDevice, ev.Device),
		logging.String(logging.FieldEventType, "hotplug_"+ev.Action),
	)
	if w.notify != nil {
		w.notify(ev)
	}
}
