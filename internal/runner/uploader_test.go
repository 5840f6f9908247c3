package runner_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphi011/proberun/internal/engine"
	"github.com/raphi011/proberun/internal/engine/enginetest"
	"github.com/raphi011/proberun/internal/model"
	"github.com/raphi011/proberun/internal/runner"
	"github.com/raphi011/proberun/internal/runstate"
)

func (f *fixture) insertDoneMeasurement(t *testing.T, result model.Result, report string) model.Measurement {
	t.Helper()

	m := model.Measurement{
		TestName:  model.TestTypeSignal,
		StartTime: result.StartTime,
		IsDone:    true,
		ResultID:  &result.ID,
	}

	id, err := f.store.InsertMeasurement(context.Background(), m)
	require.NoError(t, err)

	m.ID = id

	if report != "" {
		require.NoError(t, f.files.WriteReport(m, report))
	}

	return m
}

func TestUploadIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m := f.insertDoneMeasurement(t, f.insertResult(t), `{"test_name":"signal"}`)

	uploader := runner.NewUploader(f.deps)

	f.bridge.Submit = func(string) (engine.SubmitResult, error) {
		return engine.SubmitResult{}, enginetest.ErrSubmit
	}

	summary := uploader.Run(ctx, model.AllMeasurements{})
	assert.Equal(t, runstate.UploadState{Phase: runstate.UploadFinished, FailedToUpload: 1, Total: 1}, summary)

	stored, err := f.store.LoadMeasurement(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsUploadFailed)
	assert.Equal(t, enginetest.ErrSubmit.Error(), stored.UploadFailureMessage)
	assert.True(t, f.files.ReportExists(m))

	f.bridge.Submit = func(body string) (engine.SubmitResult, error) {
		assert.Equal(t, `{"test_name":"signal"}`, body)
		return engine.SubmitResult{UpdatedReportID: "report-1", MeasurementUID: "uid-1"}, nil
	}

	summary = uploader.Run(ctx, model.AllMeasurements{})
	assert.Equal(t, runstate.UploadState{Phase: runstate.UploadFinished, Uploaded: 1, Total: 1}, summary)

	stored, err = f.store.LoadMeasurement(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsUploaded)
	assert.False(t, stored.IsUploadFailed)
	assert.Empty(t, stored.UploadFailureMessage)
	assert.Equal(t, "report-1", stored.ReportID)
	assert.Equal(t, "uid-1", stored.UID)
	assert.False(t, f.files.ReportExists(m))

	summary = uploader.Run(ctx, model.AllMeasurements{})
	assert.Equal(t, 0, summary.Total, "uploaded measurements are not uploaded again")

	assert.IsType(t, runstate.Idle{}, f.state.State())
}

func TestUploadDeletesMeasurementsWithoutReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m := f.insertDoneMeasurement(t, f.insertResult(t), "")

	summary := runner.NewUploader(f.deps).Run(ctx, model.SingleMeasurement{MeasurementID: m.ID})
	assert.Equal(t, 1, summary.FailedToUpload)

	_, err := f.store.LoadMeasurement(ctx, m.ID)
	assert.ErrorIs(t, err, model.NotFoundError{})
}

func TestUploadFiltersByResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.insertResult(t)
	second := f.insertResult(t)

	f.insertDoneMeasurement(t, first, "{}")
	f.insertDoneMeasurement(t, second, "{}")

	summary := runner.NewUploader(f.deps).Run(ctx, model.ResultMeasurements{ResultID: second.ID})
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.Uploaded)

	pending, err := f.store.ListMeasurementsNotUploaded(ctx, model.AllMeasurements{})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, first.ID, *pending[0].ResultID)
}

func TestUploadDoesNotReplaceRunningState(t *testing.T) {
	f := newFixture(t)

	f.state.Set(runstate.RunningTests{})

	runner.NewUploader(f.deps).Run(context.Background(), model.AllMeasurements{})

	assert.IsType(t, runstate.RunningTests{}, f.state.State())
}
