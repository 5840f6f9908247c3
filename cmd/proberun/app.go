package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/urfave/cli/v2"

	"github.com/raphi011/proberun"
	"github.com/raphi011/proberun/internal/config"
	"github.com/raphi011/proberun/internal/engine"
	"github.com/raphi011/proberun/internal/hook"
	"github.com/raphi011/proberun/internal/telemetry"
)

type app struct {
	cfg config.Config
	log *slog.Logger

	shutdownTelemetry func(context.Context) error
}

func newApp() *cli.App {
	a := &app{log: slog.Default()}

	return &cli.App{
		Name:    "proberun",
		Usage:   "run network measurements and upload them to the collector",
		Version: version,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable verbose (debug) logging",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log format, text or json",
				Value: "text",
			},
			&cli.StringFlag{
				Name:  "data-dir",
				Usage: "Directory holding the database, reports and logs (overrides PROBERUN_DATA_DIR)",
			},
			&cli.StringFlag{
				Name:  "db-file",
				Usage: "Database file relative to the data dir (overrides PROBERUN_DB_FILE)",
			},
			&cli.StringFlag{
				Name:  "engine-path",
				Usage: "Path of the measurement engine binary (overrides PROBERUN_ENGINE_PATH)",
			},
		},
		Before: a.before,
		After:  a.after,
		Commands: []*cli.Command{
			a.serveCommand(),
			a.runCommand(),
			a.uploadCommand(),
			a.descriptorsCommand(),
			a.settingsCommand(),
		},
	}
}

func (a *app) before(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if c.IsSet("data-dir") {
		cfg.DataDir = c.String("data-dir")
	}
	if c.IsSet("db-file") {
		cfg.DBFile = c.String("db-file")
	}
	if c.IsSet("engine-path") {
		cfg.EnginePath = c.String("engine-path")
	}

	a.cfg = cfg

	a.log, err = newLogger(c.String("log-format"), c.Bool("verbose"))
	if err != nil {
		return err
	}

	slog.SetDefault(a.log)

	a.shutdownTelemetry, err = telemetry.Setup(c.Context, cfg.OTLPEndpoint, cfg.SoftwareName)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}

	return nil
}

func (a *app) after(c *cli.Context) error {
	if a.shutdownTelemetry == nil {
		return nil
	}

	return a.shutdownTelemetry(context.Background())
}

func newLogger(format string, verbose bool) (*slog.Logger, error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}

	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}

	return nil, fmt.Errorf("unknown log format %q", format)
}

// server configures a proberun.Server from the configuration. Hooks are
// only registered for long running processes.
func (a *app) server(withHooks bool, opts ...proberun.Option) (*proberun.Server, error) {
	cfg := a.cfg

	options := []proberun.Option{
		proberun.WithLogger(a.log),
		proberun.WithDataDir(cfg.DataDir),
		proberun.WithDatabase(cfg.DBFile),
		proberun.WithInstance(cfg.Instance),
		proberun.WithEngine(engine.NewExecBridge(cfg.EnginePath, cfg.EngineArgs...)),
		proberun.WithSoftware(engine.Software{
			Name:     cfg.SoftwareName,
			Version:  cfg.SoftwareVersion,
			Platform: runtime.GOOS,
		}),
		proberun.WithDevice(cfg.NetworkTypeFinder(), cfg.BatteryStateFinder()),
	}

	if withHooks {
		if len(cfg.ElasticSearchAddresses) > 0 {
			h, err := hook.NewElasticSearchHook(cfg.ElasticSearchAddresses, cfg.ElasticSearchIndex, a.log)
			if err != nil {
				return nil, err
			}

			options = append(options, proberun.WithHook(h))
		}

		if cfg.SlackToken != "" {
			options = append(options, proberun.WithHook(hook.NewSlackHook(cfg.SlackChannel, cfg.SlackToken, a.log)))
		}
	}

	s := proberun.New(append(options, opts...)...)

	if err := s.Init(); err != nil {
		return nil, err
	}

	return s, nil
}
