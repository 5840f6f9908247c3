package hook_test

import (
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphi011/proberun/internal/hook"
	"github.com/raphi011/proberun/internal/model"
)

type recordingHook struct {
	mu           sync.Mutex
	measurements []model.MeasurementID
	results      []model.ResultID
	errors       []model.TestRunError
}

func (h *recordingHook) Name() string { return "recording" }
func (h *recordingHook) Init() error  { return nil }

func (h *recordingHook) MeasurementFinished(_ model.Result, m model.Measurement) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.measurements = append(h.measurements, m.ID)
}

func (h *recordingHook) ResultFinishedAsync(r model.Result, _ []model.Measurement) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.results = append(h.results, r.ID)
}

func (h *recordingHook) RunErrorAsync(err model.TestRunError) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.errors = append(h.errors, err)
}

type panickingHook struct{}

func (panickingHook) Name() string { return "panicking" }
func (panickingHook) Init() error  { return nil }
func (panickingHook) ResultFinishedAsync(model.Result, []model.Measurement) {
	panic("boom")
}

type idleHook struct{ initErr error }

func (h idleHook) Name() string { return "idle" }
func (h idleHook) Init() error  { return h.initErr }

func TestManagerNotifiesListeners(t *testing.T) {
	rec := &recordingHook{}
	m := hook.NewManager(slog.Default(), rec, panickingHook{})
	require.NoError(t, m.Init())

	m.NotifyMeasurementFinished(model.Result{ID: 1}, model.Measurement{ID: 7})
	m.NotifyResultFinished(model.Result{ID: 1}, nil)
	m.NotifyRunError(model.TestRunErrorDownloadURLsFailed)

	<-m.Shutdown().Done()

	assert.Equal(t, []model.MeasurementID{7}, rec.measurements)
	assert.Equal(t, []model.ResultID{1}, rec.results)
	assert.Equal(t, []model.TestRunError{model.TestRunErrorDownloadURLsFailed}, rec.errors)
}

func TestManagerInitErrors(t *testing.T) {
	err := hook.NewManager(slog.Default(), idleHook{}).Init()
	assert.ErrorContains(t, err, "does not implement any listener")

	err = hook.NewManager(slog.Default(), idleHook{initErr: errors.New("nope")}).Init()
	assert.ErrorContains(t, err, "nope")
}

func TestResultMessage(t *testing.T) {
	result := model.Result{ID: 3, DescriptorName: "websites"}

	assert.Empty(t, hook.ResultMessage(result, []model.Measurement{{ID: 1}}))

	msg := hook.ResultMessage(result, []model.Measurement{
		{ID: 1, TestName: model.TestTypeWebConnectivity, IsAnomaly: true},
		{ID: 2, TestName: model.TestTypeWebConnectivity, IsFailed: true},
	})

	assert.Contains(t, msg, "Result 3 (websites) finished with 1 anomalies and 1 failed measurements.")
	assert.Contains(t, msg, "- web_connectivity (measurement 1)")
}
