package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/jessevdk/go-flags"

	"github.com/gwillem/armcollect/pkg/logging"
	"github.com/gwillem/armcollect/pkg/robot"
)

type Options struct {
	Config   string `short:"c" long:"config" default:"armcollect.toml" description:"Configuration file"`
	LogLevel string `long:"log-level" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"Override the configured log level"`

	Collect CollectCommand `command:"collect" alias:"run" description:"Teleoperate, record or replay a session"`
	List    ListCommand    `command:"list" alias:"ls" description:"List recorded sessions"`
	Devices DevicesCommand `command:"devices" description:"Show input devices, serial ports and arms"`
	Setup   SetupCommand   `command:"setup" description:"Scan for arms and calibrate them"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "armcollect - teleoperate, record and replay a 6-joint robot arm"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}

// loadConfig reads the configuration selected by --config. Only the
// default file may be missing.
func loadConfig() (*robot.Config, error) {
	if opts.Config == "" || opts.Config == robot.DefaultConfigFile {
		return robot.LoadConfig()
	}
	cfg, err := robot.LoadConfigFrom(opts.Config)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config file %s not found", opts.Config)
	}
	return cfg, err
}

// newLogger builds the process logger from the [log] section. With quiet
// set nothing is written to stderr, which the status TUI owns; a log file
// still receives everything. Extra handlers get every record as well.
func newLogger(cfg robot.LogConfig, quiet bool, extra ...slog.Handler) (*slog.Logger, io.Closer, error) {
	level := cfg.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}

	var out io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	switch {
	case strings.TrimSpace(cfg.File) != "":
		f, err := logging.OpenFile(cfg.File)
		if err != nil {
			return nil, nil, err
		}
		out, closer = f, f
	case quiet:
		out = nil
	}

	base := logging.NewNop()
	if out != nil {
		l, err := logging.New(logging.Options{Level: level, Format: cfg.Format, Output: out})
		if err != nil {
			closer.Close()
			return nil, nil, err
		}
		base = l
	}
	return logging.TeeLogger(base, extra...), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
