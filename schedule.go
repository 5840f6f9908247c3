package proberun

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/raphi011/proberun/internal/model"
)

type scheduledRun struct {
	// Schedule defines how often an unattended run is attempted. For the
	// format see
	// https://pkg.go.dev/github.com/robfig/cron#hdr-CRON_Expression_Format
	Schedule string
	// EntryID identifies the cronjob
	EntryID cron.EntryID
}

func (s *Server) startSchedule() error {
	if s.schedule == nil || s.schedule.Schedule == "" {
		return nil
	}

	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	entryID, err := s.cron.AddFunc(s.schedule.Schedule, func() {
		s.runs.Add(1)
		defer s.runs.Done()

		s.AutoRun(context.Background())
	})
	if err != nil {
		return fmt.Errorf("adding auto-run schedule %q: %w", s.schedule.Schedule, err)
	}

	s.schedule.EntryID = entryID

	s.cron.Start()

	return nil
}

// AutoRun uploads pending measurements when uploads are enabled and then
// starts an unattended run if the device conditions allow it.
func (s *Server) AutoRun(ctx context.Context) {
	if s.isRunning() {
		s.log.Debug("skipping auto-run, tests are running")
		return
	}

	upload, err := s.settings.UploadResults(ctx)
	if err != nil {
		s.log.Warn("unable to load upload setting", "error", err)
	} else if upload {
		s.uploader.Run(ctx, model.AllMeasurements{})
	}

	if !s.gatekeeper.Allowed(ctx) {
		return
	}

	spec, err := s.autoRunSpec.Build(ctx)
	if err != nil {
		s.log.Error("unable to build auto-run specification", "error", err)
		return
	}

	s.orchestrator.Run(ctx, spec)
}
