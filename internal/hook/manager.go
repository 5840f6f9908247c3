// Package hook notifies external systems about finished measurements,
// results and run errors.
package hook

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/raphi011/proberun/internal/model"
)

type Hook interface {
	Name() string
	Init() error
}

type MeasurementFinishedListener interface {
	Hook
	MeasurementFinished(result model.Result, measurement model.Measurement)
}

type AsyncMeasurementFinishedListener interface {
	Hook
	MeasurementFinishedAsync(result model.Result, measurement model.Measurement)
}

type ResultFinishedListener interface {
	Hook
	ResultFinished(result model.Result)
}

type AsyncResultFinishedListener interface {
	Hook
	ResultFinishedAsync(result model.Result, measurements []model.Measurement)
}

type AsyncRunErrorListener interface {
	Hook
	RunErrorAsync(err model.TestRunError)
}

type Manager struct {
	all                      []Hook
	measurementFinished      []MeasurementFinishedListener
	measurementFinishedAsync []AsyncMeasurementFinishedListener
	resultFinished           []ResultFinishedListener
	resultFinishedAsync      []AsyncResultFinishedListener
	runErrorAsync            []AsyncRunErrorListener

	asyncHooksRunning sync.WaitGroup

	log *slog.Logger
}

func NewManager(log *slog.Logger, hooks ...Hook) *Manager {
	return &Manager{
		all: hooks,
		log: log,
	}
}

// Init initialises all hooks and registers them for the events they
// listen to.
func (m *Manager) Init() error {
	for _, h := range m.all {
		if err := h.Init(); err != nil {
			return fmt.Errorf("initiating hook %q: %w", h.Name(), err)
		}

		registeredHook := false

		if l, ok := h.(MeasurementFinishedListener); ok {
			m.measurementFinished = append(m.measurementFinished, l)
			registeredHook = true
		}
		if l, ok := h.(AsyncMeasurementFinishedListener); ok {
			m.measurementFinishedAsync = append(m.measurementFinishedAsync, l)
			registeredHook = true
		}
		if l, ok := h.(ResultFinishedListener); ok {
			m.resultFinished = append(m.resultFinished, l)
			registeredHook = true
		}
		if l, ok := h.(AsyncResultFinishedListener); ok {
			m.resultFinishedAsync = append(m.resultFinishedAsync, l)
			registeredHook = true
		}
		if l, ok := h.(AsyncRunErrorListener); ok {
			m.runErrorAsync = append(m.runErrorAsync, l)
			registeredHook = true
		}

		if !registeredHook {
			return fmt.Errorf("hook %q does not implement any listener", h.Name())
		}
	}

	return nil
}

// Shutdown returns a context that is done once all async hooks returned.
func (m *Manager) Shutdown() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		m.asyncHooksRunning.Wait()
		cancel()
	}()

	return ctx
}

func (m *Manager) NotifyMeasurementFinished(result model.Result, measurement model.Measurement) {
	for _, l := range m.measurementFinished {
		l.MeasurementFinished(result, measurement)
	}

	for _, l := range m.measurementFinishedAsync {
		m.async(l, func() { l.MeasurementFinishedAsync(result, measurement) })
	}
}

func (m *Manager) NotifyResultFinished(result model.Result, measurements []model.Measurement) {
	for _, l := range m.resultFinished {
		l.ResultFinished(result)
	}

	for _, l := range m.resultFinishedAsync {
		m.async(l, func() { l.ResultFinishedAsync(result, measurements) })
	}
}

func (m *Manager) NotifyRunError(err model.TestRunError) {
	for _, l := range m.runErrorAsync {
		m.async(l, func() { l.RunErrorAsync(err) })
	}
}

func (m *Manager) async(h Hook, fn func()) {
	m.asyncHooksRunning.Add(1)

	go func() {
		defer m.asyncHooksRunning.Done()
		defer func() {
			if err := recover(); err != nil {
				m.log.Error("hook panicked", "hook", h.Name(), "error", err)
			}
		}()

		fn()
	}()
}
