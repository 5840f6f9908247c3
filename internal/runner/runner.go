// Package runner drives test runs through the measurement engine, turns
// the engine events into results and measurements and uploads
// measurements that could not be submitted during a run.
package runner

import (
	"context"
	"log/slog"
	"time"

	"github.com/raphi011/proberun/internal/engine"
	"github.com/raphi011/proberun/internal/hook"
	"github.com/raphi011/proberun/internal/model"
	"github.com/raphi011/proberun/internal/runstate"
)

// Store persists results, measurements and the data they reference.
type Store interface {
	InsertResult(ctx context.Context, r model.Result) (model.ResultID, error)
	UpdateResult(ctx context.Context, r model.Result) error
	LoadResult(ctx context.Context, id model.ResultID) (model.Result, error)
	MarkResultDone(ctx context.Context, id model.ResultID) (bool, error)
	MarkAllResultsDone(ctx context.Context) ([]model.ResultID, error)

	InsertMeasurement(ctx context.Context, m model.Measurement) (model.MeasurementID, error)
	UpdateMeasurement(ctx context.Context, m model.Measurement) error
	LoadMeasurementsByResult(ctx context.Context, id model.ResultID) ([]model.Measurement, error)
	ListMeasurementsNotUploaded(ctx context.Context, filter model.MeasurementsFilter) ([]model.Measurement, error)
	ListMeasurementsWithoutResult(ctx context.Context) ([]model.Measurement, error)
	DeleteMeasurements(ctx context.Context, ids []model.MeasurementID) error

	SaveNetwork(ctx context.Context, n model.Network) (model.NetworkID, error)
	SaveURLs(ctx context.Context, urls []model.URL) ([]model.URL, error)
	URLByURL(ctx context.Context, url string) (model.URL, error)
}

// Files stores report bodies and task logs.
type Files interface {
	WriteReport(m model.Measurement, body string) error
	ReadReport(m model.Measurement) (string, error)
	DeleteReport(m model.Measurement) error
	AppendLog(resultID model.ResultID, test model.TestType, line string) error
}

// Engine runs tasks and talks to the probe services.
type Engine interface {
	StartTask(ctx context.Context, req engine.TaskRequest) (<-chan engine.Event, error)
	SubmitMeasurement(ctx context.Context, measurement string, origin model.TaskOrigin) (engine.SubmitResult, error)
	CheckIn(ctx context.Context, origin model.TaskOrigin) (engine.CheckInResult, error)
}

// Deps are the collaborators shared by the orchestrator, the executor and
// the upload pipeline.
type Deps struct {
	Store  Store
	Files  Files
	Engine Engine
	State  *runstate.Manager
	Hooks  *hook.Manager
	Log    *slog.Logger
	// Instance labels the metrics of this process.
	Instance string
	Now      func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Log == nil {
		d.Log = slog.Default()
	}

	if d.Hooks == nil {
		d.Hooks = hook.NewManager(d.Log)
	}

	if d.Now == nil {
		d.Now = time.Now
	}

	return d
}
