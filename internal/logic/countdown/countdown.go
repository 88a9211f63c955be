// Package countdown provides a cancelable, tick-per-second delay used for
// timer captures.
package countdown

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Interval is the time between two ticks.
const Interval = time.Second

// Task is a running countdown. The zero value is not usable; see Start.
type Task struct {
	cancel     chan struct{}
	done       chan struct{}
	cancelOnce sync.Once
}

// Start runs a countdown of seconds ticks on clk.
//
// onTick(seconds) is called right away, then onTick(n-1) once per Interval
// down to onTick(1); onDone is called one Interval after the last tick.
// Callbacks run on the task's goroutine, one at a time, in order.
// A non-positive duration calls onDone right away.
func Start(clk clock.Clock, seconds int, onTick func(remaining int), onDone func()) *Task {
	t := &Task{
		cancel: make(chan struct{}),
		done:   make(chan struct{}),
	}
	// The ticker is created before Start returns so a mock clock advanced
	// by the caller cannot race past it.
	ticker := clk.Ticker(Interval)
	go t.run(ticker, seconds, onTick, onDone)
	return t
}

func (t *Task) run(ticker *clock.Ticker, remaining int, onTick func(int), onDone func()) {
	defer close(t.done)
	defer ticker.Stop()

	for remaining > 0 {
		if t.canceled() {
			return
		}
		if onTick != nil {
			onTick(remaining)
		}
		select {
		case <-ticker.C:
			remaining--
		case <-t.cancel:
			return
		}
	}
	if t.canceled() {
		return
	}
	if onDone != nil {
		onDone()
	}
}

func (t *Task) canceled() bool {
	select {
	case <-t.cancel:
		return true
	default:
		return false
	}
}

// Cancel stops the countdown at its next check. A callback that already
// passed its check may still run once; callers that must never observe a
// late callback tag them (see capture.Controller). Cancel is idempotent.
func (t *Task) Cancel() {
	t.cancelOnce.Do(func() { close(t.cancel) })
}

// Done is closed when the task has finished, by completion or cancellation.
func (t *Task) Done() <-chan struct{} {
	return t.done
}
