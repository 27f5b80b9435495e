package scheduler

import (
	"sync"

	"github.com/mailscore/core/core/symbol"
	"github.com/mailscore/core/logger"
)

// itemEmitter is the symbol.Emitter a running item's callback receives. It
// is handed out once per (task, item) invocation and detects a
// double-finalize, which is a programmer error in the callback (spec.md §9).
type itemEmitter struct {
	run  *run
	name string

	once   sync.Once
	doneCh chan string

	// deadlineKey, when non-empty, is unregistered from run.deadlines once
	// Finalize resolves normally, so a late timeout never fires against an
	// already-completed item.
	deadlineKey string
}

func newItemEmitter(r *run, name string, doneCh chan string) *itemEmitter {
	return &itemEmitter{run: r, name: name, doneCh: doneCh}
}

func (e *itemEmitter) Finalize(result symbol.Result) {
	called := false
	e.once.Do(func() {
		called = true
		e.run.recordResult(e.name, result)
	})
	if !called {
		logger.Warn("symbol callback double-finalized", "symbol", e.name)
		return
	}
	if e.deadlineKey != "" && e.run.deadlines != nil {
		e.run.deadlines.Unregister(e.deadlineKey)
	}
	e.doneCh <- e.name
}

func (e *itemEmitter) AddPassthrough(priority int, action, message, module string) {
	e.run.acc.AddPassthrough(priority, action, message, module)
}

// forceTimeout finalizes the item as TIMEOUT if the callback's
// OnContinuation did not itself call Finalize in response to the timeout
// notification (spec.md §4.1.3, §7 SchedulerTimeoutError).
func (e *itemEmitter) forceTimeout() {
	e.once.Do(func() {
		e.run.setState(e.name, StateTimeout)
		e.doneCh <- e.name
	})
}
