package runstate

import (
	"time"

	"github.com/raphi011/proberun/internal/model"
)

// Snapshot is the serializable view of a State.
type Snapshot struct {
	State string `json:"state"`

	LastTestAt       *time.Time `json:"lastTestAt,omitempty"`
	JustFinishedTest bool       `json:"justFinishedTest,omitempty"`

	Upload *UploadState `json:"upload,omitempty"`

	Descriptor      string         `json:"descriptor,omitempty"`
	DescriptorIndex int            `json:"descriptorIndex,omitempty"`
	TestType        model.TestType `json:"testType,omitempty"`
	TestIndex       int            `json:"testIndex,omitempty"`
	TestTotal       int            `json:"testTotal,omitempty"`
	Progress        float64        `json:"progress,omitempty"`
	// TimeLeft is in seconds.
	TimeLeft *float64 `json:"timeLeft,omitempty"`
	Log      string   `json:"log,omitempty"`
}

func SnapshotOf(s State) Snapshot {
	snapshot := Snapshot{State: s.Name()}

	switch s := s.(type) {
	case Idle:
		snapshot.LastTestAt = s.LastTestAt
		snapshot.JustFinishedTest = s.JustFinishedTest
	case UploadingMissingResults:
		upload := s.Upload
		snapshot.Upload = &upload
	case RunningTests:
		if s.Descriptor != nil {
			snapshot.Descriptor = s.Descriptor.Name
		}

		snapshot.DescriptorIndex = s.DescriptorIndex
		snapshot.TestType = s.TestType
		snapshot.TestIndex = s.TestIndex
		snapshot.TestTotal = s.TestTotal
		snapshot.Progress = s.Progress()
		snapshot.Log = s.Log

		if left, ok := s.EstimatedTimeLeft(); ok {
			seconds := left.Seconds()
			snapshot.TimeLeft = &seconds
		}
	case Stopping:
	}

	return snapshot
}
