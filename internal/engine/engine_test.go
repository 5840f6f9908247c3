package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphi011/proberun/internal/engine"
	"github.com/raphi011/proberun/internal/engine/enginetest"
	"github.com/raphi011/proberun/internal/model"
)

func collect(events <-chan engine.Event) []engine.Event {
	all := []engine.Event{}
	for e := range events {
		all = append(all, e)
	}

	return all
}

func TestStartTaskStreamsEvents(t *testing.T) {
	bridge := enginetest.NewBridge()
	bridge.Script("signal",
		enginetest.Started(),
		enginetest.MeasurementStart(0, ""),
		enginetest.MeasurementDone(0),
		enginetest.Event{Key: "status.queued"},
	)

	e := engine.New(bridge,
		engine.WithPreferences(func(context.Context) (engine.Preferences, error) {
			return engine.Preferences{UploadResults: false, MaxRuntime: 90 * time.Second}, nil
		}),
		engine.WithSoftware(engine.Software{Name: "proberun", Version: "1.0.0", Platform: "linux"}),
	)

	id := model.DescriptorID("10004")

	events, err := e.StartTask(context.Background(), engine.TaskRequest{
		Name:         model.TestTypeSignal,
		Origin:       model.TaskOriginAutoRun,
		DescriptorID: &id,
	})
	require.NoError(t, err)

	assert.Equal(t, []engine.Event{
		engine.Started{},
		engine.MeasurementStart{Index: 0},
		engine.MeasurementDone{Index: 0},
	}, collect(events))

	started := bridge.Started()
	require.Len(t, started, 1)

	settings := started[0]
	assert.Equal(t, "signal", settings.Name)
	assert.Equal(t, []string{}, settings.Inputs)
	assert.Equal(t, 1, settings.Version)
	assert.True(t, settings.Options.NoCollector)
	assert.Equal(t, 90, settings.Options.MaxRuntime)
	assert.Equal(t, "proberun-linux-unattended", settings.Options.SoftwareName)
	assert.Equal(t, "10004", settings.Annotations.OoniRunLinkID)
	assert.Equal(t, model.TaskOriginAutoRun, settings.Annotations.Origin)
	assert.Contains(t, settings.DisabledEvents, "failure.report_close")
}

func TestStartTaskFailure(t *testing.T) {
	bridge := enginetest.NewBridge()
	bridge.FailStart(errors.New("no engine"))

	_, err := engine.New(bridge).StartTask(context.Background(), engine.TaskRequest{Name: model.TestTypeSignal})

	var engineErr engine.Error
	assert.ErrorAs(t, err, &engineErr)
}

func TestStartTaskStopsOnCancel(t *testing.T) {
	bridge := enginetest.NewBridge()
	bridge.Script("signal", enginetest.Started(), enginetest.Started(), enginetest.Started())

	ctx, cancel := context.WithCancel(context.Background())

	events, err := engine.New(bridge).StartTask(ctx, engine.TaskRequest{Name: model.TestTypeSignal})
	require.NoError(t, err)

	<-events
	cancel()

	done := make(chan struct{})
	go func() {
		for range events {
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("event stream was not closed after cancel")
	}
}

func TestSubmitAndCheckIn(t *testing.T) {
	bridge := enginetest.NewBridge()
	bridge.URLs = []engine.URLInfo{{URL: "https://example.org", CategoryCode: "NEWS", CountryCode: "IT"}}
	bridge.Submit = func(string) (engine.SubmitResult, error) {
		return engine.SubmitResult{UpdatedReportID: "r2", MeasurementUID: "uid"}, nil
	}

	e := engine.New(bridge)

	result, err := e.SubmitMeasurement(context.Background(), "{}", model.TaskOriginOoniRun)
	require.NoError(t, err)
	assert.Equal(t, "r2", result.UpdatedReportID)

	checkIn, err := e.CheckIn(context.Background(), model.TaskOriginOoniRun)
	require.NoError(t, err)
	assert.Len(t, checkIn.URLs, 1)
}
