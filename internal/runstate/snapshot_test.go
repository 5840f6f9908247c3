package runstate_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphi011/proberun/internal/model"
	"github.com/raphi011/proberun/internal/runstate"
)

func TestSnapshotOfRunningTests(t *testing.T) {
	s := runstate.SnapshotOf(runstate.RunningTests{
		Descriptor:        &model.Descriptor{Name: "websites"},
		TestType:          model.TestTypeWebConnectivity,
		EstimatedRuntimes: []time.Duration{10 * time.Second, 10 * time.Second},
		TestProgress:      0.5,
		TestTotal:         1,
		Log:               "running",
	})

	assert.Equal(t, "running", s.State)
	assert.Equal(t, "websites", s.Descriptor)
	assert.InDelta(t, 0.25, s.Progress, 0.0001)
	require.NotNil(t, s.TimeLeft)
	assert.InDelta(t, 15, *s.TimeLeft, 0.0001)
	assert.Equal(t, "running", s.Log)
}

func TestSnapshotOfRunningTestsWithoutEstimates(t *testing.T) {
	s := runstate.SnapshotOf(runstate.RunningTests{})

	assert.Nil(t, s.TimeLeft)
	assert.Zero(t, s.Progress)
}

func TestSnapshotOfIdleAndUploading(t *testing.T) {
	now := time.Now()

	idle := runstate.SnapshotOf(runstate.Idle{LastTestAt: &now, JustFinishedTest: true})
	assert.Equal(t, "idle", idle.State)
	assert.Equal(t, &now, idle.LastTestAt)
	assert.True(t, idle.JustFinishedTest)

	upload := runstate.SnapshotOf(runstate.UploadingMissingResults{
		Upload: runstate.UploadState{Phase: runstate.UploadUploading, Uploaded: 1, Total: 3},
	})
	assert.Equal(t, "uploading", upload.State)
	require.NotNil(t, upload.Upload)
	assert.Equal(t, 3, upload.Upload.Total)

	assert.Equal(t, runstate.Snapshot{State: "stopping"}, runstate.SnapshotOf(runstate.Stopping{}))
}
