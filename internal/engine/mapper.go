package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/raphi011/proberun/internal/model"
)

// Mapper translates raw engine events into typed events.
type Mapper struct {
	networkType func() model.NetworkType
	log         *slog.Logger
}

func NewMapper(networkType func() model.NetworkType, log *slog.Logger) *Mapper {
	return &Mapper{networkType: networkType, log: log}
}

// Map decodes a single raw event. It returns nil without error for events
// that are ignored or lack a required field.
func (m *Mapper) Map(raw []byte, isCancelled bool) (Event, error) {
	var result TaskEventResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding task event: %w", err)
	}

	var value *TaskEventValue
	if len(result.Value) > 0 && !bytes.Equal(result.Value, []byte("null")) {
		value = &TaskEventValue{}
		if err := json.Unmarshal(result.Value, value); err != nil {
			return nil, fmt.Errorf("decoding value of task event %s: %w", result.Key, err)
		}
	}

	key := result.Key

	switch key {
	case "bug.json_dump":
		if value == nil {
			return m.missing(key, "value")
		}
		return BugJSONDump{Value: result.Value}, nil

	case "failure.measurement_submission":
		e := MeasurementSubmissionFailure{}
		if value != nil {
			e.Index = value.Idx
			e.Message = value.Failure
		}
		return e, nil

	case "failure.resolver_lookup":
		if value == nil {
			return m.missing(key, "value")
		}
		return ResolverLookupFailure{Message: value.Failure, IsCancelled: isCancelled}, nil

	case "failure.startup":
		if value == nil {
			return m.missing(key, "value")
		}
		return StartupFailure{Message: value.Failure, IsCancelled: isCancelled}, nil

	case "log":
		if value == nil || value.Message == nil {
			return m.missing(key, "message")
		}
		return Log{Level: value.LogLevel, Message: *value.Message}, nil

	case "measurement":
		if value == nil || value.JSONStr == nil {
			return m.missing(key, "json_str")
		}

		parsed, err := ParseMeasurementResult(*value.JSONStr)
		if err != nil {
			m.log.Debug("could not decode measurement", "error", err)
			parsed = nil
		}

		return Measurement{Index: value.Idx, JSON: *value.JSONStr, Result: parsed}, nil

	case "status.end":
		e := End{}
		if value != nil {
			e.DownloadedKB = int64(value.DownloadedKB)
			e.UploadedKB = int64(value.UploadedKB)
		}
		return e, nil

	case "status.geoip_lookup":
		e := GeoIPLookup{NetworkType: m.networkType()}
		if value != nil {
			e.NetworkName = value.ProbeNetworkName
			e.ASN = value.ProbeASN
			e.IP = value.ProbeIP
			e.CountryCode = value.ProbeCC
		}
		return e, nil

	case "status.measurement_done":
		return MeasurementDone{Index: idx(value)}, nil

	case "status.measurement_start":
		e := MeasurementStart{Index: idx(value)}
		if value != nil {
			e.URL = value.Input
		}
		return e, nil

	case "status.measurement_submission":
		e := MeasurementSubmissionSuccessful{Index: idx(value)}
		if value != nil {
			e.MeasurementUID = value.MeasurementUID
		}
		return e, nil

	case "status.progress":
		if value == nil || value.Percentage == nil {
			return m.missing(key, "percentage")
		}

		e := Progress{Percentage: *value.Percentage}
		if value.Message != nil {
			e.Message = *value.Message
		}
		return e, nil

	case "status.report_create":
		if value == nil || value.ReportID == nil {
			return m.missing(key, "report_id")
		}
		return ReportCreate{ReportID: *value.ReportID}, nil

	case "status.started":
		return Started{}, nil

	case "task_terminated":
		return TaskTerminated{Index: idx(value)}, nil
	}

	m.log.Debug("task event ignored", "key", key)

	return nil, nil
}

func (m *Mapper) missing(key, field string) (Event, error) {
	m.log.Debug("task event is missing a field", "key", key, "field", field)
	return nil, nil
}

func idx(v *TaskEventValue) int {
	if v == nil {
		return 0
	}

	return v.Idx
}
