package runstate_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphi011/proberun/internal/model"
	"github.com/raphi011/proberun/internal/runstate"
)

func TestObserveEmitsCurrentAndLatestState(t *testing.T) {
	m := runstate.NewManager(nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	states := m.Observe(ctx)

	assert.Equal(t, runstate.Idle{}, <-states)

	m.Set(runstate.Stopping{})

	select {
	case s := <-states:
		assert.Equal(t, runstate.Stopping{}, s)
	case <-time.After(time.Second):
		t.Fatal("no state update received")
	}

	cancel()

	for range states {
	}
}

func TestUpdateNilKeepsState(t *testing.T) {
	m := runstate.NewManager(runstate.Stopping{})

	s, changed := m.Update(func(runstate.State) runstate.State { return nil })

	assert.False(t, changed)
	assert.Equal(t, runstate.Stopping{}, s)
}

func TestCancelNotifiesListeners(t *testing.T) {
	m := runstate.NewManager(nil)

	called := 0
	dismiss := m.OnCancel(func() { called++ })

	assert.True(t, m.Cancel())
	assert.Equal(t, 1, called)

	dismiss()

	assert.False(t, m.Cancel())
	assert.Equal(t, 1, called)
}

func TestErrorsReceivesReportedErrors(t *testing.T) {
	m := runstate.NewManager(nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errs := m.Errors(ctx)

	m.ReportError(model.TestRunErrorDownloadURLsFailed)

	select {
	case err := <-errs:
		assert.Equal(t, model.TestRunErrorDownloadURLsFailed, err)
	case <-time.After(time.Second):
		t.Fatal("no error received")
	}
}

func TestWithTestProgressNeverMovesBackwards(t *testing.T) {
	r := runstate.RunningTests{
		EstimatedRuntimes: []time.Duration{10 * time.Second},
		TestTotal:         2,
	}

	r = r.WithTestProgress(1, 0.5)
	require.InDelta(t, 0.75, r.Progress(), 1e-9)

	r = r.WithTestProgress(1, 0.2)
	assert.InDelta(t, 0.75, r.Progress(), 1e-9)

	r = r.WithTestProgress(1, 1)
	assert.Equal(t, 1.0, r.Progress())
}
