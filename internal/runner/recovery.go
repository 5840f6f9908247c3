package runner

import (
	"context"
	"log/slog"

	"github.com/raphi011/proberun/internal/model"
)

// Recovery cleans up after runs that did not finish properly, for example
// because the process was killed mid run.
type Recovery struct {
	store Store
	files Files
	log   *slog.Logger
}

func NewRecovery(deps Deps) *Recovery {
	deps = deps.withDefaults()

	return &Recovery{store: deps.Store, files: deps.Files, log: deps.Log}
}

// Run marks every result that is not done as done and deletes measurements
// whose result no longer exists, along with their reports.
func (r *Recovery) Run(ctx context.Context) {
	ids, err := r.store.MarkAllResultsDone(ctx)
	if err != nil {
		r.log.Error("unable to mark results as done", "error", err)
	} else if len(ids) > 0 {
		r.log.Info("marked unfinished results as done", "results", len(ids))
	}

	r.DeleteOrphans(ctx)
}

// DeleteOrphans deletes measurements whose result no longer exists, along
// with their reports.
func (r *Recovery) DeleteOrphans(ctx context.Context) {
	orphans, err := r.store.ListMeasurementsWithoutResult(ctx)
	if err != nil {
		r.log.Error("unable to list measurements without result", "error", err)
		return
	}

	if len(orphans) == 0 {
		return
	}

	measurementIDs := make([]model.MeasurementID, 0, len(orphans))
	for _, m := range orphans {
		if err := r.files.DeleteReport(m); err != nil {
			r.log.Warn("unable to delete report", "measurement-id", m.ID, "error", err)
		}

		measurementIDs = append(measurementIDs, m.ID)
	}

	if err := r.store.DeleteMeasurements(ctx, measurementIDs); err != nil {
		r.log.Error("unable to delete measurements without result", "error", err)
		return
	}

	r.log.Info("deleted measurements without result", "measurements", len(measurementIDs))
}
