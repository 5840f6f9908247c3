package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/raphi011/proberun"
	"github.com/raphi011/proberun/internal/descriptor"
	"github.com/raphi011/proberun/internal/model"
	"github.com/raphi011/proberun/internal/runstate"
	"github.com/raphi011/proberun/internal/settings"
)

func (a *app) serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the HTTP API and run measurements on a schedule",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port of the HTTP API (overrides PROBERUN_PORT)",
			},
			&cli.StringFlag{
				Name:  "schedule",
				Usage: "Cron schedule of unattended runs, empty disables them (overrides PROBERUN_AUTORUN_SCHEDULE)",
			},
		},
		Action: a.serve,
	}
}

func (a *app) serve(c *cli.Context) error {
	port := a.cfg.Port
	if c.IsSet("port") {
		port = c.Int("port")
	}

	schedule := a.cfg.AutoRunSchedule
	if c.IsSet("schedule") {
		schedule = c.String("schedule")
	}

	s, err := a.server(true, proberun.WithPort(port), proberun.WithAutoRunSchedule(schedule))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	stopped := make(chan struct{})

	go func() {
		<-ctx.Done()
		s.Shutdown()
		close(stopped)
	}()

	if err := s.Run(); err != nil {
		return err
	}

	<-stopped

	return nil
}

func (a *app) runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run descriptors once in the foreground",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:     "descriptor",
				Aliases:  []string{"d"},
				Usage:    "Name of a built in descriptor or id of an installed one",
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:    "input",
				Aliases: []string{"i"},
				Usage:   "URL tested by web connectivity, defaults to the test list of the probe services",
			},
			&cli.BoolFlag{
				Name:  "rerun",
				Usage: "Mark the measurements as a rerun",
			},
		},
		Action: a.run,
	}
}

func (a *app) run(c *cli.Context) error {
	s, err := a.server(false)
	if err != nil {
		return err
	}
	defer s.Shutdown()

	all, err := s.Descriptors().All(c.Context)
	if err != nil {
		return err
	}

	spec, err := runSpecification(all, c.StringSlice("descriptor"), c.StringSlice("input"))
	if err != nil {
		return err
	}

	spec.IsRerun = c.Bool("rerun")

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	observeCtx, cancelObserve := context.WithCancel(context.Background())
	defer cancelObserve()

	go printProgress(observeCtx, s.ObserveState(observeCtx))
	go printRunErrors(observeCtx, s.RunErrors(observeCtx))

	go func() {
		select {
		case <-ctx.Done():
			if s.CancelRun() {
				fmt.Fprintln(os.Stderr, "stopping after the current test")
			}
		case <-observeCtx.Done():
		}
	}()

	return s.RunTests(context.Background(), spec)
}

// runSpecification selects the descriptors by name or installed id. Inputs
// replace the inputs of web connectivity tests.
func runSpecification(all []model.Descriptor, names, inputs []string) (model.RunSpecification, error) {
	spec := model.RunSpecification{TaskOrigin: model.TaskOriginOoniRun}

	for _, name := range names {
		d, ok := findDescriptor(all, name)
		if !ok {
			return model.RunSpecification{}, fmt.Errorf("descriptor %q not found", name)
		}

		tests := d.AllTests()
		if len(inputs) > 0 {
			for i := range tests {
				if tests[i].Name == model.TestTypeWebConnectivity {
					tests[i].Inputs = inputs
				}
			}
		}

		spec.Tests = append(spec.Tests, model.RunSpecTest{Source: d.Source, NetTests: tests})
	}

	return spec, nil
}

func findDescriptor(all []model.Descriptor, name string) (model.Descriptor, bool) {
	for _, d := range all {
		if id, ok := d.InstalledID(); ok && string(id) == name {
			return d, true
		}

		if _, ok := d.Source.(model.DefaultSource); ok && d.Name == name {
			return d, true
		}
	}

	return model.Descriptor{}, false
}

func printProgress(ctx context.Context, states <-chan runstate.State) {
	last := ""

	for {
		select {
		case <-ctx.Done():
			return
		case state, ok := <-states:
			if !ok {
				return
			}

			line := progressLine(state)
			if line != "" && line != last {
				fmt.Fprintln(os.Stderr, line)
				last = line
			}
		}
	}
}

func progressLine(state runstate.State) string {
	switch state := state.(type) {
	case runstate.RunningTests:
		if state.Descriptor == nil {
			return ""
		}

		line := fmt.Sprintf("[%3.0f%%] %s: %s", state.Progress()*100, state.Descriptor.Name, state.TestType)
		if left, ok := state.EstimatedTimeLeft(); ok {
			line += fmt.Sprintf(" (%s left)", left)
		}

		return line
	case runstate.Stopping:
		return "stopping"
	case runstate.UploadingMissingResults:
		return fmt.Sprintf("uploading %d/%d", state.Upload.Uploaded+state.Upload.FailedToUpload, state.Upload.Total)
	case runstate.Idle:
	}

	return ""
}

func printRunErrors(ctx context.Context, errs <-chan model.TestRunError) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				return
			}

			fmt.Fprintln(os.Stderr, "error:", err)
		}
	}
}

func (a *app) uploadCommand() *cli.Command {
	return &cli.Command{
		Name:  "upload",
		Usage: "Upload measurements that were not submitted yet",
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:  "result-id",
				Usage: "Only upload the measurements of this result",
			},
		},
		Action: a.upload,
	}
}

func (a *app) upload(c *cli.Context) error {
	s, err := a.server(false)
	if err != nil {
		return err
	}
	defer s.Shutdown()

	var filter model.MeasurementsFilter = model.AllMeasurements{}
	if c.IsSet("result-id") {
		filter = model.ResultMeasurements{ResultID: model.ResultID(c.Int64("result-id"))}
	}

	state := s.Upload(c.Context, filter)

	fmt.Printf("uploaded %d of %d measurements\n", state.Uploaded, state.Total)

	if state.FailedToUpload > 0 {
		return fmt.Errorf("%d measurements failed to upload", state.FailedToUpload)
	}

	return nil
}

func (a *app) descriptorsCommand() *cli.Command {
	return &cli.Command{
		Name:  "descriptors",
		Usage: "Manage test descriptors",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List built in and installed descriptors",
				Action: a.listDescriptors,
			},
			{
				Name:      "import",
				Usage:     "Install a descriptor from a YAML or JSON file",
				ArgsUsage: "<file>",
				Action:    a.importDescriptor,
			},
		},
	}
}

func (a *app) listDescriptors(c *cli.Context) error {
	s, err := a.server(false)
	if err != nil {
		return err
	}
	defer s.Shutdown()

	all, err := s.Descriptors().All(c.Context)
	if err != nil {
		return err
	}

	now := time.Now()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tNAME\tREVISION\tTESTS\tEXPIRED")

	for _, d := range all {
		tests := make([]string, 0, len(d.AllTests()))
		for _, t := range d.AllTests() {
			tests = append(tests, string(t.Name))
		}

		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%t\n", d.Source, d.Name, d.Revision, strings.Join(tests, ","), d.IsExpired(now))
	}

	return w.Flush()
}

func (a *app) importDescriptor(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("expected exactly one descriptor file")
	}

	path := c.Args().First()

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	s, err := a.server(false)
	if err != nil {
		return err
	}
	defer s.Shutdown()

	d, err := s.Descriptors().Import(c.Context, data, descriptor.FormatFromFilename(path))
	if err != nil {
		return err
	}

	fmt.Printf("installed %s (%s, revision %d)\n", d.Name, d.Source, d.Revision)

	return nil
}

func (a *app) settingsCommand() *cli.Command {
	return &cli.Command{
		Name:  "settings",
		Usage: "Show and change settings",
		Subcommands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "Print one or all settings",
				ArgsUsage: "[key]",
				Action:    a.getSettings,
			},
			{
				Name:      "set",
				Usage:     "Change a setting",
				ArgsUsage: "<key> <value>",
				Action:    a.setSetting,
			},
		},
	}
}

func (a *app) getSettings(c *cli.Context) error {
	s, err := a.server(false)
	if err != nil {
		return err
	}
	defer s.Shutdown()

	if c.NArg() == 1 {
		v, err := s.Settings().Get(c.Context, c.Args().First())
		if err != nil {
			return err
		}

		fmt.Println(v)
		return nil
	}

	all, err := s.Settings().All(c.Context)
	if err != nil {
		return err
	}

	for _, key := range settings.Keys() {
		fmt.Printf("%s=%s\n", key, all[key])
	}

	return nil
}

func (a *app) setSetting(c *cli.Context) error {
	if c.NArg() != 2 {
		return errors.New("expected a key and a value")
	}

	s, err := a.server(false)
	if err != nil {
		return err
	}
	defer s.Shutdown()

	return s.Settings().Set(c.Context, c.Args().Get(0), c.Args().Get(1))
}
