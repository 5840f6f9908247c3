// Package enginetest provides an in-memory engine bridge that replays
// scripted events.
package enginetest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/raphi011/proberun/internal/engine"
)

// Bridge replays the events registered for a task name. Unknown tasks
// finish without emitting any events.
type Bridge struct {
	mu sync.Mutex

	events   map[string][][]byte
	started  []engine.TaskSettings
	startErr error

	// Submit is called for every submitted measurement.
	Submit func(measurement string) (engine.SubmitResult, error)
	// URLs is returned on check in.
	URLs       []engine.URLInfo
	CheckInErr error
	CheckIns   int
	// OnWait is called from the reading goroutine before every event a
	// task hands out, including the final end of stream.
	OnWait func(task string)
}

func NewBridge() *Bridge {
	return &Bridge{
		events: map[string][][]byte{},
		Submit: func(string) (engine.SubmitResult, error) {
			return engine.SubmitResult{UpdatedReportID: "report"}, nil
		},
	}
}

// Script registers the events emitted when a task with the given name is
// started. Each event is given as key and value and encoded the way the
// engine writes it.
func (b *Bridge) Script(name string, events ...Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	raw := make([][]byte, 0, len(events))
	for _, e := range events {
		raw = append(raw, e.encode())
	}

	b.events[name] = raw
}

// FailStart makes every subsequent task start fail with err.
func (b *Bridge) FailStart(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.startErr = err
}

// Started returns the settings of all started tasks.
func (b *Bridge) Started() []engine.TaskSettings {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]engine.TaskSettings{}, b.started...)
}

func (b *Bridge) StartTask(settings []byte) (engine.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.startErr != nil {
		return nil, b.startErr
	}

	var s engine.TaskSettings
	if err := json.Unmarshal(settings, &s); err != nil {
		return nil, err
	}

	b.started = append(b.started, s)

	return &task{name: s.Name, events: b.events[s.Name], onWait: b.OnWait}, nil
}

func (b *Bridge) NewSession(engine.SessionConfig) (engine.Session, error) {
	return &session{bridge: b}, nil
}

// Event is a raw engine event.
type Event struct {
	Key   string
	Value map[string]any
}

func (e Event) encode() []byte {
	b, _ := json.Marshal(struct {
		Key   string         `json:"key"`
		Value map[string]any `json:"value,omitempty"`
	}{e.Key, e.Value})

	return b
}

type task struct {
	mu          sync.Mutex
	name        string
	onWait      func(string)
	events      [][]byte
	next        int
	interrupted bool
}

func (t *task) WaitForNextEvent() ([]byte, error) {
	if t.onWait != nil {
		t.onWait(t.name)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.interrupted || t.next >= len(t.events) {
		return nil, io.EOF
	}

	e := t.events[t.next]
	t.next++

	return e, nil
}

func (t *task) IsDone() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.interrupted || t.next >= len(t.events)
}

func (t *task) Interrupt() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.interrupted = true
}

type session struct {
	bridge *Bridge
}

func (s *session) SubmitMeasurement(_ context.Context, measurement string) (engine.SubmitResult, error) {
	s.bridge.mu.Lock()
	submit := s.bridge.Submit
	s.bridge.mu.Unlock()

	return submit(measurement)
}

func (s *session) CheckIn(context.Context, engine.CheckInConfig) (engine.CheckInResult, error) {
	s.bridge.mu.Lock()
	defer s.bridge.mu.Unlock()

	s.bridge.CheckIns++

	if s.bridge.CheckInErr != nil {
		return engine.CheckInResult{}, s.bridge.CheckInErr
	}

	return engine.CheckInResult{URLs: s.bridge.URLs}, nil
}

func (s *session) Close() error {
	return nil
}

// ErrSubmit is a convenience error for failing submissions.
var ErrSubmit = errors.New("collector unavailable")

// Helpers building the raw events of a task.

func Started() Event {
	return Event{Key: "status.started"}
}

func GeoIPLookup(asn, cc, networkName string) Event {
	return Event{Key: "status.geoip_lookup", Value: map[string]any{
		"probe_asn":          asn,
		"probe_cc":           cc,
		"probe_network_name": networkName,
		"probe_ip":           "127.0.0.1",
	}}
}

func ReportCreate(reportID string) Event {
	return Event{Key: "status.report_create", Value: map[string]any{"report_id": reportID}}
}

func MeasurementStart(idx int, input string) Event {
	return Event{Key: "status.measurement_start", Value: map[string]any{"idx": idx, "input": input}}
}

// Measurement emits a measurement whose body carries the given test keys.
func Measurement(idx int, input string, testKeys map[string]any) Event {
	body, _ := json.Marshal(map[string]any{
		"input":                  input,
		"probe_asn":              "AS30722",
		"probe_cc":               "IT",
		"measurement_start_time": "2024-06-01 10:00:00",
		"test_start_time":        "2024-06-01 09:59:58",
		"test_runtime":           1.5,
		"test_keys":              testKeys,
	})

	return Event{Key: "measurement", Value: map[string]any{"idx": idx, "json_str": string(body)}}
}

func MeasurementSubmission(idx int, uid string) Event {
	return Event{Key: "status.measurement_submission", Value: map[string]any{"idx": idx, "measurement_uid": uid}}
}

func MeasurementSubmissionFailure(idx int, failure string) Event {
	return Event{Key: "failure.measurement_submission", Value: map[string]any{"idx": idx, "failure": failure}}
}

func MeasurementDone(idx int) Event {
	return Event{Key: "status.measurement_done", Value: map[string]any{"idx": idx}}
}

func Progress(pct float64, msg string) Event {
	return Event{Key: "status.progress", Value: map[string]any{"percentage": pct, "message": msg}}
}

func Log(level, msg string) Event {
	return Event{Key: "log", Value: map[string]any{"log_level": level, "message": msg}}
}

func StartupFailure(failure string) Event {
	return Event{Key: "failure.startup", Value: map[string]any{"failure": failure}}
}

func End(downloadedKB, uploadedKB float64) Event {
	return Event{Key: "status.end", Value: map[string]any{"downloaded_kb": downloadedKB, "uploaded_kb": uploadedKB}}
}
