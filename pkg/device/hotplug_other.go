//go:build !linux

package device

import (
	"context"
	"log/slog"

	"github.com/gwillem/armcollect/pkg/logging"
)

// Watcher is a no-op outside Linux.
type Watcher struct {
	logger *slog.Logger
}

func NewWatcher(logger *slog.Logger, _ func(HotplugEvent)) *Watcher {
	return &Watcher{logger: logging.NewComponentLogger(logger, "hotplug")}
}

func (w *Watcher) Start(context.Context) error {
	w.logger.Debug("hotplug notifications unavailable on this platform")
	return nil
}

func (w *Watcher) Stop() {}

func (w *Watcher) Running() bool { return false }
