package engine

import (
	"encoding/json"

	"github.com/raphi011/proberun/internal/model"
)

// Event is an event emitted by a running task. The set of events is
// closed, see the types implementing it below.
type Event interface {
	isEvent()
}

type Started struct{}

type GeoIPLookup struct {
	NetworkName string
	IP          string
	ASN         string
	CountryCode string
	NetworkType model.NetworkType
}

type Log struct {
	Level   string
	Message string
}

type Measurement struct {
	Index int
	JSON  string
	// Result is nil if the measurement body could not be parsed.
	Result *MeasurementResult
}

type MeasurementStart struct {
	Index int
	URL   string
}

type MeasurementDone struct {
	Index int
}

type MeasurementSubmissionSuccessful struct {
	Index          int
	MeasurementUID string
}

type MeasurementSubmissionFailure struct {
	Index   int
	Message string
}

type Progress struct {
	// Percentage is the completed fraction of the task in [0, 1].
	Percentage float64
	Message    string
}

type ReportCreate struct {
	ReportID string
}

type ResolverLookupFailure struct {
	Message     string
	IsCancelled bool
}

type StartupFailure struct {
	Message     string
	IsCancelled bool
}

type BugJSONDump struct {
	Value json.RawMessage
}

type TaskTerminated struct {
	Index int
}

type End struct {
	DownloadedKB int64
	UploadedKB   int64
}

func (Started) isEvent()                         {}
func (GeoIPLookup) isEvent()                     {}
func (Log) isEvent()                             {}
func (Measurement) isEvent()                     {}
func (MeasurementStart) isEvent()                {}
func (MeasurementDone) isEvent()                 {}
func (MeasurementSubmissionSuccessful) isEvent() {}
func (MeasurementSubmissionFailure) isEvent()    {}
func (Progress) isEvent()                        {}
func (ReportCreate) isEvent()                    {}
func (ResolverLookupFailure) isEvent()           {}
func (StartupFailure) isEvent()                  {}
func (BugJSONDump) isEvent()                     {}
func (TaskTerminated) isEvent()                  {}
func (End) isEvent()                             {}

// AllEvents returns a zero value of every event type. It is used to check
// that event consumers handle the whole set.
func AllEvents() []Event {
	return []Event{
		Started{},
		GeoIPLookup{},
		Log{},
		Measurement{},
		MeasurementStart{},
		MeasurementDone{},
		MeasurementSubmissionSuccessful{},
		MeasurementSubmissionFailure{},
		Progress{},
		ReportCreate{},
		ResolverLookupFailure{},
		StartupFailure{},
		BugJSONDump{},
		TaskTerminated{},
		End{},
	}
}
