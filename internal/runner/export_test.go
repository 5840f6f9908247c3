package runner

import (
	"context"

	"github.com/raphi011/proberun/internal/engine"
	"github.com/raphi011/proberun/internal/model"
)

// HandleEvent applies event to a fresh execution of run and reports
// whether the event type is handled.
func HandleEvent(x *NetTestExecutor, run TestRun, event engine.Event) bool {
	e := &execution{
		NetTestExecutor: x,
		run:             run,
		result:          run.Result,
		measurements:    map[int]model.Measurement{},
		log:             x.log,
	}

	return e.handle(context.Background(), event)
}
