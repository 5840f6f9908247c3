package engine

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/raphi011/proberun/internal/classify"
)

// TaskEventResult is a single event as written by the engine.
type TaskEventResult struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value,omitempty"`
}

type TaskEventValue struct {
	Key              string          `json:"key,omitempty"`
	LogLevel         string          `json:"log_level,omitempty"`
	Message          *string         `json:"message,omitempty"`
	Percentage       *float64        `json:"percentage,omitempty"`
	JSONStr          *string         `json:"json_str,omitempty"`
	Idx              int             `json:"idx,omitempty"`
	ReportID         *string         `json:"report_id,omitempty"`
	ProbeIP          string          `json:"probe_ip,omitempty"`
	ProbeASN         string          `json:"probe_asn,omitempty"`
	ProbeCC          string          `json:"probe_cc,omitempty"`
	ProbeNetworkName string          `json:"probe_network_name,omitempty"`
	DownloadedKB     float64         `json:"downloaded_kb,omitempty"`
	UploadedKB       float64         `json:"uploaded_kb,omitempty"`
	Input            string          `json:"input,omitempty"`
	Failure          string          `json:"failure,omitempty"`
	OrigKey          string          `json:"orig_key,omitempty"`
	MeasurementUID   string          `json:"measurement_uid,omitempty"`
}

// MeasurementResult is the part of a measurement body the runner cares
// about.
type MeasurementResult struct {
	ProbeASN             string             `json:"probe_asn,omitempty"`
	ProbeCC              string             `json:"probe_cc,omitempty"`
	TestStartTime        *Time              `json:"test_start_time,omitempty"`
	MeasurementStartTime *Time              `json:"measurement_start_time,omitempty"`
	TestRuntime          *float64           `json:"test_runtime,omitempty"`
	ProbeIP              string             `json:"probe_ip,omitempty"`
	ReportID             string             `json:"report_id,omitempty"`
	Input                string             `json:"input,omitempty"`
	TestKeys             *classify.TestKeys `json:"test_keys,omitempty"`
}

// ParseMeasurementResult decodes a measurement body.
func ParseMeasurementResult(body string) (*MeasurementResult, error) {
	var raw struct {
		MeasurementResult
		TestKeys json.RawMessage `json:"test_keys"`
	}

	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, err
	}

	keys, err := classify.Parse(raw.TestKeys)
	if err != nil {
		return nil, err
	}

	result := raw.MeasurementResult
	result.TestKeys = keys

	return &result, nil
}

const timeLayout = "2006-01-02 15:04:05"

// Time is a timestamp in the engine's "2006-01-02 15:04:05" UTC format.
type Time struct {
	time.Time
}

func (t *Time) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}

	parsed, err := time.ParseInLocation(timeLayout, s, time.UTC)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return err
		}
	}

	t.Time = parsed

	return nil
}

func (t Time) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(timeLayout))
}
