package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphi011/proberun/internal/descriptor"
	"github.com/raphi011/proberun/internal/model"
	"github.com/raphi011/proberun/internal/runstate"
)

func TestRunSpecification(t *testing.T) {
	installed := model.Descriptor{
		Name:     "Messaging apps",
		Source:   model.InstalledSource{ID: "10001"},
		NetTests: []model.NetTest{{Name: model.TestTypeSignal}},
	}

	all := append(descriptor.Defaults(), installed)

	spec, err := runSpecification(all, []string{"websites", "10001"}, []string{"https://example.org"})
	require.NoError(t, err)

	assert.Equal(t, model.TaskOriginOoniRun, spec.TaskOrigin)
	require.Len(t, spec.Tests, 2)

	assert.Equal(t, model.DefaultSource{Name: "websites"}, spec.Tests[0].Source)
	assert.Equal(t, []model.NetTest{{Name: model.TestTypeWebConnectivity, Inputs: []string{"https://example.org"}}}, spec.Tests[0].NetTests)

	assert.Equal(t, model.InstalledSource{ID: "10001"}, spec.Tests[1].Source)
	assert.Equal(t, []model.NetTest{{Name: model.TestTypeSignal}}, spec.Tests[1].NetTests)
}

func TestRunSpecificationUnknownDescriptor(t *testing.T) {
	_, err := runSpecification(descriptor.Defaults(), []string{"nope"}, nil)
	assert.EqualError(t, err, `descriptor "nope" not found`)
}

func TestProgressLine(t *testing.T) {
	assert.Empty(t, progressLine(runstate.Idle{}))
	assert.Equal(t, "stopping", progressLine(runstate.Stopping{}))

	line := progressLine(runstate.RunningTests{
		Descriptor:        &model.Descriptor{Name: "websites"},
		TestType:          model.TestTypeWebConnectivity,
		EstimatedRuntimes: []time.Duration{10 * time.Second},
		TestTotal:         2,
		TestIndex:         1,
	})
	assert.Equal(t, "[ 50%] websites: web_connectivity (5s left)", line)

	assert.Equal(t, "uploading 2/3", progressLine(runstate.UploadingMissingResults{
		Upload: runstate.UploadState{Uploaded: 1, FailedToUpload: 1, Total: 3},
	}))
}
