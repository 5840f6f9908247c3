package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/raphi011/proberun/internal/classify"
	"github.com/raphi011/proberun/internal/engine"
	"github.com/raphi011/proberun/internal/hook"
	"github.com/raphi011/proberun/internal/metric"
	"github.com/raphi011/proberun/internal/model"
	"github.com/raphi011/proberun/internal/runstate"
	"github.com/raphi011/proberun/internal/telemetry"
)

// TestRun is a single net test of a descriptor within a run.
type TestRun struct {
	Descriptor      model.Descriptor
	DescriptorIndex int
	Test            model.NetTest
	Origin          model.TaskOrigin
	IsRerun         bool
	Result          model.Result
	TestIndex       int
	TestTotal       int
}

// NetTestExecutor runs one net test and persists what its events report.
type NetTestExecutor struct {
	store    Store
	files    Files
	engine   Engine
	state    *runstate.Manager
	hooks    *hook.Manager
	log      *slog.Logger
	instance string
	now      func() time.Time
}

func NewNetTestExecutor(deps Deps) *NetTestExecutor {
	deps = deps.withDefaults()

	return &NetTestExecutor{
		store:    deps.Store,
		files:    deps.Files,
		engine:   deps.Engine,
		state:    deps.State,
		hooks:    deps.Hooks,
		log:      deps.Log,
		instance: deps.Instance,
		now:      deps.Now,
	}
}

// execution is the state of one running net test.
type execution struct {
	*NetTestExecutor

	run          TestRun
	result       model.Result
	reportID     string
	lastNetwork  *model.Network
	measurements map[int]model.Measurement
	log          *slog.Logger
}

// Run executes the test and returns the updated result. Events are handled
// one at a time, cancellation of ctx is checked between events so the
// effects of an event are always persisted completely.
func (x *NetTestExecutor) Run(ctx context.Context, run TestRun) model.Result {
	e := &execution{
		NetTestExecutor: x,
		run:             run,
		result:          run.Result,
		measurements:    map[int]model.Measurement{},
		log:             x.log.With("result-id", run.Result.ID, "test-name", run.Test.Name),
	}

	ctx, span := telemetry.Tracer().Start(ctx, "net-test", trace.WithAttributes(
		attribute.String("test-name", string(run.Test.Name)),
		attribute.Int("inputs", len(run.Test.Inputs)),
	))
	defer span.End()

	x.updateRunning(func(r runstate.RunningTests) runstate.RunningTests {
		d := run.Descriptor
		r.Descriptor = &d
		r.DescriptorIndex = run.DescriptorIndex
		r.TestType = run.Test.Name
		r.TestIndex = run.TestIndex
		r.TestTotal = run.TestTotal
		r.TestProgress = 0

		return r
	})

	var descriptorID *model.DescriptorID
	if id, ok := run.Descriptor.InstalledID(); ok {
		descriptorID = &id
	}

	events, err := x.engine.StartTask(ctx, engine.TaskRequest{
		Name:         run.Test.Name,
		Inputs:       run.Test.Inputs,
		Origin:       run.Origin,
		DescriptorID: descriptorID,
	})
	if err != nil {
		e.log.Warn("unable to start test", "error", err)
		span.RecordError(err)

		e.updateResult(context.WithoutCancel(ctx), func(r *model.Result) {
			r.AppendFailure(err.Error())
		})

		return e.result
	}

	persistCtx := context.WithoutCancel(ctx)

	for event := range events {
		e.handle(persistCtx, event)

		if ctx.Err() != nil {
			e.log.Info("test cancelled")
			return e.result
		}
	}

	x.updateRunning(func(r runstate.RunningTests) runstate.RunningTests {
		return r.WithTestProgress(run.TestIndex, 1)
	})

	return e.result
}

func (x *NetTestExecutor) updateRunning(fn func(runstate.RunningTests) runstate.RunningTests) {
	x.state.Update(func(s runstate.State) runstate.State {
		running, ok := s.(runstate.RunningTests)
		if !ok {
			return nil
		}

		return fn(running)
	})
}

// handle applies a single event. It reports whether the event type is
// known.
func (e *execution) handle(ctx context.Context, event engine.Event) bool {
	switch ev := event.(type) {
	case engine.Started:
		// the running state is set before the task starts
	case engine.GeoIPLookup:
		e.onGeoIPLookup(ctx, ev)
	case engine.ReportCreate:
		e.reportID = ev.ReportID
	case engine.MeasurementStart:
		e.onMeasurementStart(ctx, ev)
	case engine.Log:
		e.onLog(ev)
	case engine.Progress:
		e.onProgress(ev)
	case engine.Measurement:
		e.onMeasurement(ctx, ev)
	case engine.MeasurementSubmissionSuccessful:
		e.onSubmissionSuccessful(ctx, ev)
	case engine.MeasurementSubmissionFailure:
		e.updateMeasurement(ctx, ev.Index, func(m *model.Measurement) {
			m.IsUploaded = false
			m.ReportID = ""
			m.IsUploadFailed = true
			if ev.Message != "" {
				m.UploadFailureMessage = ev.Message
			}
		})
	case engine.MeasurementDone:
		e.onMeasurementDone(ctx, ev)
	case engine.End:
		e.updateResult(ctx, func(r *model.Result) {
			r.DataUsageDown += ev.DownloadedKB
			r.DataUsageUp += ev.UploadedKB
		})
	case engine.StartupFailure:
		e.onFailure(ctx, ev.Message, ev.IsCancelled)
	case engine.ResolverLookupFailure:
		e.onFailure(ctx, ev.Message, ev.IsCancelled)
	case engine.BugJSONDump:
		e.log.Warn("engine bug report", "value", string(ev.Value))
	case engine.TaskTerminated:
		m, ok := e.measurements[ev.Index]
		if ok && m.IsUploaded {
			e.deleteReport(m)
		}
	default:
		e.log.Debug("unhandled engine event", "event", fmt.Sprintf("%T", event))
		return false
	}

	return true
}

func (e *execution) onGeoIPLookup(ctx context.Context, ev engine.GeoIPLookup) {
	network := model.Network{
		NetworkName: ev.NetworkName,
		ASN:         ev.ASN,
		CountryCode: ev.CountryCode,
		NetworkType: ev.NetworkType,
	}

	id, err := e.store.SaveNetwork(ctx, network)
	if err != nil {
		e.log.Error("unable to store network", "error", err)
		return
	}

	network.ID = id
	e.lastNetwork = &network

	e.updateResult(ctx, func(r *model.Result) {
		r.NetworkID = &id
	})
}

func (e *execution) onMeasurementStart(ctx context.Context, ev engine.MeasurementStart) {
	resultID := e.result.ID

	m := model.Measurement{
		TestName:  e.run.Test.Name,
		StartTime: e.now().UTC(),
		IsRerun:   e.run.IsRerun,
		ReportID:  e.reportID,
		ResultID:  &resultID,
		URLID:     e.urlID(ctx, ev.URL),
	}

	id, err := e.store.InsertMeasurement(ctx, m)
	if err != nil {
		e.log.Error("unable to store measurement", "index", ev.Index, "error", err)
		return
	}

	m.ID = id
	e.measurements[ev.Index] = m
}

func (e *execution) urlID(ctx context.Context, url string) *model.URLID {
	if url == "" {
		return nil
	}

	u, err := e.store.URLByURL(ctx, url)

	var notFound model.NotFoundError
	if errors.As(err, &notFound) {
		var saved []model.URL
		saved, err = e.store.SaveURLs(ctx, []model.URL{{URL: url}})
		if err == nil && len(saved) == 1 {
			u = saved[0]
		}
	}

	if err != nil {
		e.log.Warn("unable to resolve url", "url", url, "error", err)
		return nil
	}

	return &u.ID
}

func (e *execution) onLog(ev engine.Log) {
	attrs := []any{}
	if warning := engine.ClassifyWarning(ev.Message); warning != nil {
		attrs = append(attrs, "error", warning, "group", engine.WarningGroup(warning))
	}

	switch ev.Level {
	case "WARNING":
		e.log.Warn(ev.Message, attrs...)
	case "DEBUG", "DEBUG2":
		e.log.Debug(ev.Message, attrs...)
	default:
		e.log.Info(ev.Message, attrs...)
	}

	e.updateRunning(func(r runstate.RunningTests) runstate.RunningTests {
		r.Log = ev.Message
		return r
	})

	e.writeLog(ev.Message)
}

func (e *execution) onProgress(ev engine.Progress) {
	e.updateRunning(func(r runstate.RunningTests) runstate.RunningTests {
		r = r.WithTestProgress(e.run.TestIndex, ev.Percentage)
		if ev.Message != "" {
			r.Log = ev.Message
		}

		return r
	})

	if ev.Message != "" {
		e.writeLog(ev.Message)
	}
}

func (e *execution) onMeasurement(ctx context.Context, ev engine.Measurement) {
	e.updateMeasurement(ctx, ev.Index, func(m *model.Measurement) {
		if ev.Result == nil {
			m.IsFailed = true
			m.FailureMessage = "invalid measurement body"
		} else {
			res := ev.Result

			if res.TestStartTime != nil && !res.TestStartTime.IsZero() {
				e.updateResult(ctx, func(r *model.Result) {
					r.StartTime = res.TestStartTime.Time
				})
			}

			if res.MeasurementStartTime != nil && !res.MeasurementStartTime.IsZero() {
				m.StartTime = res.MeasurementStartTime.Time
			}

			if res.TestRuntime != nil {
				m.Runtime = *res.TestRuntime
			}

			if m.URLID == nil {
				m.URLID = e.urlID(ctx, res.Input)
			}

			m.TestKeys = classify.Reduce(res.TestKeys)

			outcome := classify.Evaluate(m.TestName, res.TestKeys)
			m.IsFailed = outcome.IsFailed
			m.IsAnomaly = outcome.IsAnomaly
		}

		if e.run.IsRerun && e.lastNetwork != nil {
			if network, err := json.Marshal(e.lastNetwork); err == nil {
				m.RerunNetwork = string(network)
			}
		}

		if err := e.files.WriteReport(*m, ev.JSON); err != nil {
			e.log.Error("unable to write report", "measurement-id", m.ID, "error", err)
		}
	})
}

func (e *execution) onSubmissionSuccessful(ctx context.Context, ev engine.MeasurementSubmissionSuccessful) {
	e.updateMeasurement(ctx, ev.Index, func(m *model.Measurement) {
		if e.lastNetwork == nil || !e.lastNetwork.IsValid() || ev.MeasurementUID == "" {
			m.IsUploaded = false
			m.IsUploadFailed = true
			m.UploadFailureMessage = "invalid network or missing measurement uid"
			return
		}

		m.IsUploaded = true
		m.IsUploadFailed = false
		m.UploadFailureMessage = ""
		m.UID = ev.MeasurementUID

		e.deleteReport(*m)
	})
}

func (e *execution) onMeasurementDone(ctx context.Context, ev engine.MeasurementDone) {
	m, ok := e.measurements[ev.Index]
	if !ok || m.IsDone {
		return
	}

	e.updateMeasurement(ctx, ev.Index, func(m *model.Measurement) {
		m.IsDone = true
	})

	m = e.measurements[ev.Index]

	metric.MeasurementsTotal.WithLabelValues(e.instance, string(m.TestName), metric.MeasurementOutcome(m.IsFailed, m.IsAnomaly)).Inc()

	e.hooks.NotifyMeasurementFinished(e.result, m)
}

func (e *execution) onFailure(ctx context.Context, message string, isCancelled bool) {
	if message != "" {
		e.updateResult(ctx, func(r *model.Result) {
			r.AppendFailure(message)
		})
	}

	if isCancelled {
		return
	}

	e.log.Warn("test failure", "error", message)
}

func (e *execution) updateResult(ctx context.Context, fn func(*model.Result)) {
	fn(&e.result)

	if err := e.store.UpdateResult(ctx, e.result); err != nil {
		e.log.Error("unable to update result", "error", err)
	}
}

// updateMeasurement is a no-op for indexes without a started measurement.
func (e *execution) updateMeasurement(ctx context.Context, index int, fn func(*model.Measurement)) {
	m, ok := e.measurements[index]
	if !ok {
		return
	}

	fn(&m)
	e.measurements[index] = m

	if err := e.store.UpdateMeasurement(ctx, m); err != nil {
		e.log.Error("unable to update measurement", "measurement-id", m.ID, "error", err)
	}
}

func (e *execution) deleteReport(m model.Measurement) {
	if err := e.files.DeleteReport(m); err != nil {
		e.log.Warn("unable to delete report", "measurement-id", m.ID, "error", err)
	}
}

func (e *execution) writeLog(line string) {
	if err := e.files.AppendLog(e.result.ID, e.run.Test.Name, line+"\n"); err != nil {
		e.log.Debug("unable to write log", "error", err)
	}
}
