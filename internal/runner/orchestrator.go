package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/raphi011/proberun/internal/hook"
	"github.com/raphi011/proberun/internal/metric"
	"github.com/raphi011/proberun/internal/model"
	"github.com/raphi011/proberun/internal/runstate"
	"github.com/raphi011/proberun/internal/telemetry"
)

// Catalog resolves the descriptors of a run specification.
type Catalog interface {
	BySpec(ctx context.Context, spec model.RunSpecification) ([]model.Descriptor, error)
}

// RuntimeSettings provides the maximum runtime of a single test, zero
// means unlimited.
type RuntimeSettings interface {
	MaxRuntime(ctx context.Context) (time.Duration, error)
}

// Orchestrator runs the descriptors of a run specification one test at a
// time. Only one run is active at any time.
type Orchestrator struct {
	store    Store
	state    *runstate.Manager
	hooks    *hook.Manager
	catalog  Catalog
	settings RuntimeSettings
	inputs   *InputPreparer
	executor *NetTestExecutor
	recovery *Recovery
	log      *slog.Logger
	instance string
	now      func() time.Time
}

func NewOrchestrator(deps Deps, catalog Catalog, settings RuntimeSettings) *Orchestrator {
	deps = deps.withDefaults()

	return &Orchestrator{
		store:    deps.Store,
		state:    deps.State,
		hooks:    deps.Hooks,
		catalog:  catalog,
		settings: settings,
		inputs:   NewInputPreparer(deps),
		executor: NewNetTestExecutor(deps),
		recovery: NewRecovery(deps),
		log:      deps.Log,
		instance: deps.Instance,
		now:      deps.Now,
	}
}

// Run executes spec. It is a no-op if a run is already in progress. Run
// returns once the run finished or was cancelled through the state
// manager, failures are recorded on the results and measurements.
func (o *Orchestrator) Run(ctx context.Context, spec model.RunSpecification) {
	if done, ok := o.Start(ctx, spec); ok {
		<-done
	}
}

// Start switches the state to RunningTests and executes spec in the
// background. It reports false if a run is already in progress. The
// returned channel is closed once the run finished.
func (o *Orchestrator) Start(ctx context.Context, spec model.RunSpecification) (<-chan struct{}, bool) {
	runID := uuid.NewString()
	log := o.log.With("run-id", runID, "origin", spec.TaskOrigin)

	ctx, cancel := context.WithCancel(ctx)

	// registered before switching to RunningTests so no cancel is lost
	dismiss := o.state.OnCancel(func() {
		o.state.Update(func(s runstate.State) runstate.State {
			if _, ok := s.(runstate.RunningTests); !ok {
				return nil
			}

			return runstate.Stopping{}
		})
		cancel()
	})

	_, started := o.state.Update(func(s runstate.State) runstate.State {
		switch s.(type) {
		case runstate.RunningTests, runstate.Stopping:
			return nil
		case runstate.Idle, runstate.UploadingMissingResults:
		}

		return runstate.RunningTests{}
	})
	if !started {
		dismiss()
		cancel()
		log.Info("tests are already running, ignoring run")
		return nil, false
	}

	done := make(chan struct{})

	go func() {
		defer close(done)
		defer cancel()
		defer dismiss()

		o.execute(ctx, log, runID, spec)
	}()

	return done, true
}

func (o *Orchestrator) execute(ctx context.Context, log *slog.Logger, runID string, spec model.RunSpecification) {
	ctx, span := telemetry.Tracer().Start(ctx, "run", trace.WithAttributes(
		attribute.String("run-id", runID),
		attribute.String("origin", string(spec.TaskOrigin)),
		attribute.Bool("rerun", spec.IsRerun),
	))
	defer span.End()

	running := metric.RunsInProgress.WithLabelValues(o.instance, string(spec.TaskOrigin))
	running.Inc()
	defer running.Dec()

	defer func() {
		if err := recover(); err != nil {
			log.Error("test run panicked", "error", err)
			span.SetStatus(codes.Error, fmt.Sprint(err))
		}

		o.finish(log)
	}()

	log.Info("test run started")

	descriptors, err := o.catalog.BySpec(ctx, spec)
	if err != nil {
		log.Error("unable to resolve descriptors", "error", err)
		span.RecordError(err)
		return
	}

	descriptors, err = o.inputs.Prepare(ctx, descriptors, spec.TaskOrigin)

	var runErr model.TestRunError
	if errors.As(err, &runErr) {
		o.state.ReportError(runErr)
		o.hooks.NotifyRunError(runErr)
	}

	runtimes := o.estimatedRuntimes(ctx, log, descriptors)

	o.state.Update(func(s runstate.State) runstate.State {
		running, ok := s.(runstate.RunningTests)
		if !ok {
			return nil
		}

		running.EstimatedRuntimes = runtimes
		return running
	})

	for i, d := range descriptors {
		if ctx.Err() != nil {
			log.Info("test run cancelled")
			break
		}

		o.runDescriptor(ctx, log, spec, i, d)
	}

	log.Info("test run finished")
}

func (o *Orchestrator) estimatedRuntimes(ctx context.Context, log *slog.Logger, descriptors []model.Descriptor) []time.Duration {
	maxRuntime, err := o.settings.MaxRuntime(ctx)
	if err != nil {
		log.Warn("unable to load max runtime", "error", err)
		maxRuntime = 0
	}

	runtimes := make([]time.Duration, 0, len(descriptors))
	for _, d := range descriptors {
		runtimes = append(runtimes, d.EstimatedRuntime(maxRuntime))
	}

	return runtimes
}

func (o *Orchestrator) runDescriptor(ctx context.Context, log *slog.Logger, spec model.RunSpecification, index int, d model.Descriptor) {
	persistCtx := context.WithoutCancel(ctx)

	result := model.Result{
		DescriptorName:     d.Name,
		DescriptorRevision: d.Revision,
		StartTime:          o.now().UTC(),
		TaskOrigin:         spec.TaskOrigin,
	}

	if id, ok := d.InstalledID(); ok {
		result.DescriptorID = &id
	}

	id, err := o.store.InsertResult(persistCtx, result)
	if err != nil {
		log.Error("unable to store result", "descriptor", d.Name, "error", err)
		return
	}

	result.ID = id

	log = log.With("result-id", id, "descriptor", d.Name)
	log.Info("running descriptor")

	tests := d.AllTests()

	for i, t := range tests {
		if ctx.Err() != nil {
			break
		}

		result = o.executor.Run(ctx, TestRun{
			Descriptor:      d,
			DescriptorIndex: index,
			Test:            t,
			Origin:          spec.TaskOrigin,
			IsRerun:         spec.IsRerun,
			Result:          result,
			TestIndex:       i,
			TestTotal:       len(tests),
		})
	}

	if _, err := o.store.MarkResultDone(persistCtx, id); err != nil {
		log.Error("unable to mark result as done", "error", err)
		return
	}

	result.IsDone = true

	metric.DescriptorsRun.WithLabelValues(o.instance, d.Name).Inc()

	measurements, err := o.store.LoadMeasurementsByResult(persistCtx, id)
	if err != nil {
		log.Warn("unable to load measurements of result", "error", err)
	}

	o.hooks.NotifyResultFinished(result, measurements)
}

// finish runs after every run, including cancelled and panicked ones.
func (o *Orchestrator) finish(log *slog.Logger) {
	o.recovery.Run(context.Background())

	now := o.now()
	o.state.Set(runstate.Idle{LastTestAt: &now, JustFinishedTest: true})

	log.Debug("test run state reset")
}
