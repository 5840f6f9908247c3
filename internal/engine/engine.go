// Package engine wraps the native measurement engine. It starts tasks,
// turns their raw event stream into typed events and talks to the probe
// services through engine sessions.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/raphi011/proberun/internal/model"
)

// Error wraps failures of the native engine.
type Error struct {
	Op  string
	Err error
}

func (e Error) Error() string {
	return fmt.Sprintf("engine %s: %v", e.Op, e.Err)
}

func (e Error) Unwrap() error {
	return e.Err
}

// Software identifies this client towards the probe services.
type Software struct {
	Name     string
	Version  string
	Platform string
}

// TaskRequest describes the task to start.
type TaskRequest struct {
	Name         model.TestType
	Inputs       []string
	Origin       model.TaskOrigin
	DescriptorID *model.DescriptorID
}

type Engine struct {
	bridge           Bridge
	mapper           *Mapper
	log              *slog.Logger
	baseDir          string
	cacheDir         string
	probeServicesURL string
	software         Software
	preferences      func(ctx context.Context) (Preferences, error)
	networkType      func() model.NetworkType
	isCharging       func() bool
}

type option func(*Engine)

func WithLogger(log *slog.Logger) option {
	return func(e *Engine) {
		e.log = log
	}
}

func WithDirs(baseDir, cacheDir string) option {
	return func(e *Engine) {
		e.baseDir = baseDir
		e.cacheDir = cacheDir
	}
}

func WithSoftware(s Software) option {
	return func(e *Engine) {
		e.software = s
	}
}

func WithProbeServicesURL(url string) option {
	return func(e *Engine) {
		e.probeServicesURL = url
	}
}

func WithPreferences(fn func(ctx context.Context) (Preferences, error)) option {
	return func(e *Engine) {
		e.preferences = fn
	}
}

func WithNetworkType(fn func() model.NetworkType) option {
	return func(e *Engine) {
		e.networkType = fn
	}
}

func WithChargingState(fn func() bool) option {
	return func(e *Engine) {
		e.isCharging = fn
	}
}

func New(bridge Bridge, opts ...option) *Engine {
	e := &Engine{
		bridge:      bridge,
		log:         slog.Default(),
		baseDir:     ".",
		cacheDir:    filepath.Join(".", "cache"),
		software:    Software{Name: "proberun", Version: "dev", Platform: "linux"},
		preferences: func(context.Context) (Preferences, error) { return Preferences{UploadResults: true}, nil },
		networkType: func() model.NetworkType { return model.NetworkTypeUnknown },
		isCharging:  func() bool { return false },
	}

	for _, opt := range opts {
		opt(e)
	}

	e.mapper = NewMapper(e.networkType, e.log)

	return e
}

// StartTask starts the task and streams its events. The channel is closed
// once the task is done or ctx is cancelled, cancelling ctx interrupts the
// task.
func (e *Engine) StartTask(ctx context.Context, req TaskRequest) (<-chan Event, error) {
	prefs, err := e.preferences(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading engine preferences: %w", err)
	}

	settings, err := json.Marshal(e.taskSettings(req, prefs))
	if err != nil {
		return nil, fmt.Errorf("encoding task settings: %w", err)
	}

	task, err := e.bridge.StartTask(settings)
	if err != nil {
		return nil, Error{Op: "start task", Err: err}
	}

	events := make(chan Event)

	go e.pump(ctx, task, events)

	return events, nil
}

func (e *Engine) pump(ctx context.Context, task Task, events chan<- Event) {
	defer close(events)

	stop := context.AfterFunc(ctx, task.Interrupt)
	defer stop()

	defer func() {
		if !task.IsDone() {
			task.Interrupt()
			go drain(task)
		}
	}()

	for !task.IsDone() {
		raw, err := task.WaitForNextEvent()
		if err != nil {
			if !task.IsDone() {
				e.log.Debug("error while running task", "error", err)
			}
			return
		}

		event, err := e.mapper.Map(raw, ctx.Err() != nil)
		if err != nil {
			e.log.Debug("could not map task event", "error", err)
			continue
		}

		if event == nil {
			continue
		}

		select {
		case events <- event:
		case <-ctx.Done():
			return
		}
	}
}

// drain discards the remaining events of an interrupted task until it is
// done, which also reaps the engine process.
func drain(task Task) {
	for !task.IsDone() {
		if _, err := task.WaitForNextEvent(); err != nil {
			return
		}
	}
}

// SubmitMeasurement submits a measurement body to the collector.
func (e *Engine) SubmitMeasurement(ctx context.Context, measurement string, origin model.TaskOrigin) (SubmitResult, error) {
	session, err := e.session(ctx, origin)
	if err != nil {
		return SubmitResult{}, err
	}
	defer e.closeSession(session)

	result, err := session.SubmitMeasurement(ctx, measurement)
	if err != nil {
		return SubmitResult{}, Error{Op: "submit measurement", Err: err}
	}

	return result, nil
}

// CheckIn fetches the web targets to measure.
func (e *Engine) CheckIn(ctx context.Context, origin model.TaskOrigin) (CheckInResult, error) {
	prefs, err := e.preferences(ctx)
	if err != nil {
		return CheckInResult{}, fmt.Errorf("loading engine preferences: %w", err)
	}

	session, err := e.session(ctx, origin)
	if err != nil {
		return CheckInResult{}, err
	}
	defer e.closeSession(session)

	config := CheckInConfig{
		Charging:                  e.isCharging(),
		OnWiFi:                    e.networkType() == model.NetworkTypeWifi,
		Platform:                  e.software.Platform,
		RunType:                   runType(origin),
		SoftwareName:              e.softwareName(origin),
		SoftwareVersion:           e.software.Version,
		WebConnectivityCategories: prefs.EnabledWebCategories,
	}

	if config.WebConnectivityCategories == nil {
		config.WebConnectivityCategories = []string{}
	}

	result, err := session.CheckIn(ctx, config)
	if err != nil {
		return CheckInResult{}, Error{Op: "check in", Err: err}
	}

	return result, nil
}

func (e *Engine) session(ctx context.Context, origin model.TaskOrigin) (Session, error) {
	prefs, err := e.preferences(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading engine preferences: %w", err)
	}

	session, err := e.bridge.NewSession(SessionConfig{
		SoftwareName:     e.softwareName(origin),
		SoftwareVersion:  e.software.Version,
		Proxy:            prefs.Proxy,
		ProbeServicesURL: e.probeServicesURL,
		StateDir:         filepath.Join(e.baseDir, "state"),
		TunnelDir:        filepath.Join(e.baseDir, "tunnel"),
		TempDir:          e.cacheDir,
		AssetsDir:        filepath.Join(e.baseDir, "assets"),
	})
	if err != nil {
		return nil, Error{Op: "new session", Err: err}
	}

	return session, nil
}

func (e *Engine) closeSession(s Session) {
	if err := s.Close(); err != nil {
		e.log.Debug("closing engine session", "error", err)
	}
}

func (e *Engine) taskSettings(req TaskRequest, prefs Preferences) TaskSettings {
	maxRuntime := -1
	if prefs.MaxRuntime > 0 {
		maxRuntime = int(prefs.MaxRuntime.Seconds())
	}

	inputs := req.Inputs
	if inputs == nil {
		inputs = []string{}
	}

	linkID := ""
	if req.DescriptorID != nil {
		linkID = string(*req.DescriptorID)
	}

	logLevel := prefs.TaskLogLevel
	if logLevel == "" {
		logLevel = "INFO"
	}

	return TaskSettings{
		Name:           string(req.Name),
		Inputs:         inputs,
		Version:        1,
		LogLevel:       logLevel,
		DisabledEvents: disabledEvents,
		StateDir:       filepath.Join(e.baseDir, "state"),
		TunnelDir:      filepath.Join(e.baseDir, "tunnel"),
		TempDir:        e.cacheDir,
		AssetsDir:      filepath.Join(e.baseDir, "assets"),
		Options: Options{
			NoCollector:     !prefs.UploadResults,
			SoftwareName:    e.softwareName(req.Origin),
			SoftwareVersion: e.software.Version,
			MaxRuntime:      maxRuntime,
		},
		Annotations: Annotations{
			NetworkType:   e.networkType(),
			Flavor:        e.softwareName(req.Origin),
			Origin:        req.Origin,
			OoniRunLinkID: linkID,
		},
		Proxy: prefs.Proxy,
	}
}

func (e *Engine) softwareName(origin model.TaskOrigin) string {
	name := e.software.Name + "-" + e.software.Platform
	if origin == model.TaskOriginAutoRun {
		name += "-unattended"
	}

	return name
}

func runType(origin model.TaskOrigin) string {
	if origin == model.TaskOriginAutoRun {
		return "timed"
	}

	return "manual"
}
