package proberun

import (
	"log/slog"

	"github.com/raphi011/proberun/internal/device"
	"github.com/raphi011/proberun/internal/engine"
	"github.com/raphi011/proberun/internal/hook"
)

type Option func(s *Server)

// WithPort sets the port of the HTTP API, 0 picks a random free port.
func WithPort(port int) Option {
	return func(s *Server) {
		s.port = port
	}
}

// WithDataDir sets the directory holding the database, the reports, the
// logs and the engine state.
func WithDataDir(dir string) Option {
	return func(s *Server) {
		s.dataDir = dir
	}
}

// WithDatabase sets the sqlite file name relative to the data dir. An
// empty name keeps the database in memory.
func WithDatabase(filename string) Option {
	return func(s *Server) {
		s.dbFilename = filename
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

// WithInstance sets the instance label of all metrics.
func WithInstance(instance string) Option {
	return func(s *Server) {
		s.instance = instance
	}
}

// WithEngine sets the bridge to the measurement engine.
func WithEngine(bridge engine.Bridge) Option {
	return func(s *Server) {
		s.bridge = bridge
	}
}

func WithSoftware(software engine.Software) Option {
	return func(s *Server) {
		s.software = software
	}
}

// WithDevice replaces the detection of the network type and the battery
// state.
func WithDevice(network device.NetworkTypeFinder, battery device.BatteryStateFinder) Option {
	return func(s *Server) {
		s.networkType = network
		s.battery = battery
	}
}

func WithHook(h hook.Hook) Option {
	return func(s *Server) {
		s.hooks = append(s.hooks, h)
	}
}

// WithAutoRunSchedule schedules unattended runs. Ignored unless the
// server is started with Run.
func WithAutoRunSchedule(schedule string) Option {
	return func(s *Server) {
		s.schedule = &scheduledRun{Schedule: schedule}
	}
}
