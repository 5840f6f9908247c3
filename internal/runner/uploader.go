package runner

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/raphi011/proberun/internal/metric"
	"github.com/raphi011/proberun/internal/model"
	"github.com/raphi011/proberun/internal/runstate"
	"github.com/raphi011/proberun/internal/telemetry"
)

// Uploader submits measurements that are done but were not uploaded.
type Uploader struct {
	store    Store
	files    Files
	engine   Engine
	state    *runstate.Manager
	log      *slog.Logger
	instance string
}

func NewUploader(deps Deps) *Uploader {
	deps = deps.withDefaults()

	return &Uploader{
		store:    deps.Store,
		files:    deps.Files,
		engine:   deps.Engine,
		state:    deps.State,
		log:      deps.Log,
		instance: deps.Instance,
	}
}

// Run uploads the pending measurements selected by filter. The pending set
// is read once, failed uploads are retried by the next Run. Progress is
// published as UploadingMissingResults state and the state returns to
// Idle afterwards unless a test run took over in the meantime.
func (u *Uploader) Run(ctx context.Context, filter model.MeasurementsFilter) runstate.UploadState {
	ctx, span := telemetry.Tracer().Start(ctx, "upload", trace.WithAttributes(
		attribute.String("filter", filterName(filter)),
	))
	defer span.End()

	idle, _ := u.state.State().(runstate.Idle)

	u.publish(runstate.UploadState{Phase: runstate.UploadStarting})
	defer u.returnToIdle(idle)

	measurements, err := u.store.ListMeasurementsNotUploaded(ctx, filter)
	if err != nil {
		u.log.Error("unable to list measurements not uploaded", "error", err)
		span.RecordError(err)

		return runstate.UploadState{Phase: runstate.UploadFinished}
	}

	progress := runstate.UploadState{Phase: runstate.UploadUploading, Total: len(measurements)}

	if progress.Total > 0 {
		u.log.Info("uploading missing measurements", "total", progress.Total)
	}

	for _, m := range measurements {
		if ctx.Err() != nil {
			u.log.Info("upload cancelled")
			break
		}

		u.publish(progress)

		if u.upload(ctx, m) {
			progress.Uploaded++
		} else {
			progress.FailedToUpload++
		}
	}

	progress.Phase = runstate.UploadFinished
	u.publish(progress)

	span.SetAttributes(
		attribute.Int("uploaded", progress.Uploaded),
		attribute.Int("failed", progress.FailedToUpload),
	)

	return progress
}

func (u *Uploader) upload(ctx context.Context, m model.Measurement) bool {
	log := u.log.With("measurement-id", m.ID)
	persistCtx := context.WithoutCancel(ctx)

	report, err := u.files.ReadReport(m)
	if err != nil || strings.TrimSpace(report) == "" {
		var notFound model.NotFoundError
		if err != nil && !errors.As(err, &notFound) {
			log.Warn("unable to read measurement report", "error", err)
		} else {
			log.Warn("missing or empty measurement report")
		}

		if err := u.store.DeleteMeasurements(persistCtx, []model.MeasurementID{m.ID}); err != nil {
			log.Error("unable to delete measurement without report", "error", err)
		}

		metric.UploadsTotal.WithLabelValues(u.instance, "missing_report").Inc()

		return false
	}

	origin := model.TaskOriginOoniRun
	if m.ResultID != nil {
		if r, err := u.store.LoadResult(persistCtx, *m.ResultID); err == nil {
			origin = r.TaskOrigin
		}
	}

	result, err := u.engine.SubmitMeasurement(ctx, report, origin)
	if err != nil {
		log.Warn("failed to submit measurement", "error", err)

		m.IsUploadFailed = true
		m.UploadFailureMessage = uploadFailureMessage(err)

		if err := u.store.UpdateMeasurement(persistCtx, m); err != nil {
			log.Error("unable to update measurement", "error", err)
		}

		metric.UploadsTotal.WithLabelValues(u.instance, "failed").Inc()

		return false
	}

	m.IsUploaded = true
	m.IsUploadFailed = false
	m.UploadFailureMessage = ""
	m.ReportID = result.UpdatedReportID
	if result.MeasurementUID != "" {
		m.UID = result.MeasurementUID
	}

	if err := u.store.UpdateMeasurement(persistCtx, m); err != nil {
		log.Error("unable to update measurement", "error", err)
	}

	if err := u.files.DeleteReport(m); err != nil {
		log.Warn("unable to delete report", "error", err)
	}

	metric.UploadsTotal.WithLabelValues(u.instance, "uploaded").Inc()

	return true
}

func (u *Uploader) publish(s runstate.UploadState) {
	u.state.Update(func(current runstate.State) runstate.State {
		switch current.(type) {
		case runstate.RunningTests, runstate.Stopping:
			return nil
		case runstate.Idle, runstate.UploadingMissingResults:
		}

		return runstate.UploadingMissingResults{Upload: s}
	})
}

func (u *Uploader) returnToIdle(idle runstate.Idle) {
	u.state.Update(func(current runstate.State) runstate.State {
		if _, ok := current.(runstate.UploadingMissingResults); !ok {
			return nil
		}

		return idle
	})
}

// uploadFailureMessage prefers the innermost cause, it is the most
// readable for users.
func uploadFailureMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}

		err = next
	}
}

func filterName(filter model.MeasurementsFilter) string {
	switch filter.(type) {
	case model.ResultMeasurements:
		return "result"
	case model.SingleMeasurement:
		return "measurement"
	case model.AllMeasurements:
	}

	return "all"
}
