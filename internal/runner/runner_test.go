package runner_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/raphi011/proberun/internal/descriptor"
	"github.com/raphi011/proberun/internal/engine"
	"github.com/raphi011/proberun/internal/engine/enginetest"
	"github.com/raphi011/proberun/internal/model"
	"github.com/raphi011/proberun/internal/runner"
	"github.com/raphi011/proberun/internal/runstate"
	"github.com/raphi011/proberun/internal/settings"
	"github.com/raphi011/proberun/internal/storage"
)

type fixture struct {
	store  *storage.Storage
	files  *storage.Files
	bridge *enginetest.Bridge
	state  *runstate.Manager
	deps   runner.Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	s, err := storage.New("", slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	files, err := storage.NewFiles(t.TempDir())
	require.NoError(t, err)

	bridge := enginetest.NewBridge()
	state := runstate.NewManager(runstate.Idle{})

	return &fixture{
		store:  s,
		files:  files,
		bridge: bridge,
		state:  state,
		deps: runner.Deps{
			Store:  s,
			Files:  files,
			Engine: engine.New(bridge),
			State:  state,
			Log:    slog.Default(),
		},
	}
}

func (f *fixture) orchestrator() *runner.Orchestrator {
	return runner.NewOrchestrator(f.deps, descriptor.NewCatalog(f.store), settings.New(f.store))
}

func (f *fixture) insertResult(t *testing.T) model.Result {
	t.Helper()

	r := model.Result{DescriptorName: "websites", StartTime: time.Now(), TaskOrigin: model.TaskOriginOoniRun}

	id, err := f.store.InsertResult(context.Background(), r)
	require.NoError(t, err)

	r.ID = id

	return r
}

func websitesSpec(inputs ...string) model.RunSpecification {
	return model.RunSpecification{
		Tests: []model.RunSpecTest{{
			Source:   model.DefaultSource{Name: "websites"},
			NetTests: []model.NetTest{{Name: model.TestTypeWebConnectivity, Inputs: inputs}},
		}},
		TaskOrigin: model.TaskOriginOoniRun,
	}
}
