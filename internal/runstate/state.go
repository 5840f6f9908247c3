// Package runstate holds the in-memory background state shared by the
// orchestrator and the upload pipeline.
package runstate

import (
	"time"

	"github.com/raphi011/proberun/internal/model"
	"github.com/raphi011/proberun/internal/progress"
)

// State is one of Idle, UploadingMissingResults, RunningTests or Stopping.
type State interface {
	isState()
	Name() string
}

type Idle struct {
	LastTestAt       *time.Time
	JustFinishedTest bool
}

type UploadingMissingResults struct {
	Upload UploadState
}

type RunningTests struct {
	Descriptor        *model.Descriptor
	DescriptorIndex   int
	TestType          model.TestType
	EstimatedRuntimes []time.Duration
	// TestProgress is the fraction of the current test that is done.
	TestProgress float64
	TestIndex    int
	TestTotal    int
	Log          string
}

type Stopping struct{}

func (Idle) isState()                    {}
func (UploadingMissingResults) isState() {}
func (RunningTests) isState()            {}
func (Stopping) isState()                {}

func (Idle) Name() string                    { return "idle" }
func (UploadingMissingResults) Name() string { return "uploading" }
func (RunningTests) Name() string            { return "running" }
func (Stopping) Name() string                { return "stopping" }

func (r RunningTests) estimate() progress.Estimate {
	return progress.Estimate{
		Runtimes:        r.EstimatedRuntimes,
		DescriptorIndex: r.DescriptorIndex,
		TestIndex:       r.TestIndex,
		TestTotal:       r.TestTotal,
		TestProgress:    r.TestProgress,
	}
}

// Progress is the completed fraction of the whole run.
func (r RunningTests) Progress() float64 {
	return r.estimate().Progress()
}

// EstimatedTimeLeft is false when no runtime estimates are known yet.
func (r RunningTests) EstimatedTimeLeft() (time.Duration, bool) {
	return r.estimate().TimeLeft()
}

// WithTestProgress returns a copy with the progress of the current test
// set to pct unless that would move the overall progress backwards.
func (r RunningTests) WithTestProgress(testIndex int, pct float64) RunningTests {
	next := r
	next.TestIndex = testIndex
	next.TestProgress = pct

	if next.Progress() < r.Progress() {
		return r
	}

	return next
}

// UploadPhase is the phase of an upload pass.
type UploadPhase string

const (
	UploadStarting  UploadPhase = "starting"
	UploadUploading UploadPhase = "uploading"
	UploadFinished  UploadPhase = "finished"
)

type UploadState struct {
	Phase          UploadPhase `json:"phase"`
	Uploaded       int         `json:"uploaded"`
	FailedToUpload int         `json:"failedToUpload"`
	Total          int         `json:"total"`
}
