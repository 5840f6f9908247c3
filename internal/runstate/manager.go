package runstate

import (
	"context"
	"sync"

	"github.com/raphi011/proberun/internal/model"
)

// Manager owns the current background state. It is the only writer of the
// state, consumers observe it through subscriptions.
type Manager struct {
	mu sync.Mutex

	state State

	nextID          int
	subscribers     map[int]chan State
	errSubscribers  map[int]chan model.TestRunError
	cancelListeners map[int]func()
}

func NewManager(initial State) *Manager {
	if initial == nil {
		initial = Idle{}
	}

	return &Manager{
		state:           initial,
		subscribers:     map[int]chan State{},
		errSubscribers:  map[int]chan model.TestRunError{},
		cancelListeners: map[int]func(){},
	}
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// Set replaces the current state.
func (m *Manager) Set(s State) {
	m.Update(func(State) State { return s })
}

// Update atomically replaces the state with the value returned by fn. If
// fn returns nil the state is left unchanged. It reports the resulting
// state and whether it changed.
func (m *Manager) Update(fn func(State) State) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := fn(m.state)
	if next == nil {
		return m.state, false
	}

	m.state = next

	for _, ch := range m.subscribers {
		offerLatest(ch, next)
	}

	return next, true
}

// Observe emits the current state followed by every update until ctx is
// done. Slow consumers only see the latest state.
func (m *Manager) Observe(ctx context.Context) <-chan State {
	ch := make(chan State, 1)

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subscribers[id] = ch
	ch <- m.state
	m.mu.Unlock()

	out := make(chan State)

	go func() {
		defer close(out)
		defer func() {
			m.mu.Lock()
			delete(m.subscribers, id)
			m.mu.Unlock()
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case s := <-ch:
				select {
				case out <- s:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

// ReportError publishes a run error to all error subscribers. Errors are
// dropped for subscribers that are not ready to receive them.
func (m *Manager) ReportError(err model.TestRunError) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ch := range m.errSubscribers {
		select {
		case ch <- err:
		default:
		}
	}
}

// Errors returns a stream of run errors reported after the call.
func (m *Manager) Errors(ctx context.Context) <-chan model.TestRunError {
	ch := make(chan model.TestRunError, 8)

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.errSubscribers[id] = ch
	m.mu.Unlock()

	go func() {
		<-ctx.Done()

		m.mu.Lock()
		delete(m.errSubscribers, id)
		m.mu.Unlock()
	}()

	return ch
}

// OnCancel registers fn to be called on Cancel. The returned function
// removes the listener again.
func (m *Manager) OnCancel(fn func()) (dismiss func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.cancelListeners[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		delete(m.cancelListeners, id)
	}
}

// Cancel notifies all cancel listeners. It reports whether anybody was
// listening.
func (m *Manager) Cancel() bool {
	m.mu.Lock()
	listeners := make([]func(), 0, len(m.cancelListeners))
	for _, fn := range m.cancelListeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}

	return len(listeners) > 0
}

func offerLatest(ch chan State, s State) {
	select {
	case <-ch:
	default:
	}

	select {
	case ch <- s:
	default:
	}
}
