package countdown

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

type recorder struct {
	ticks chan int
	done  chan struct{}
}

func newRecorder() *recorder {
	return &recorder{ticks: make(chan int, 16), done: make(chan struct{}, 4)}
}

func (r *recorder) onTick(n int) { r.ticks <- n }
func (r *recorder) onDone()      { r.done <- struct{}{} }

func (r *recorder) expectTick(t *testing.T, want int) {
	t.Helper()
	select {
	case got := <-r.ticks:
		if got != want {
			t.Fatalf("tick = %d, want %d", got, want)
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for tick %d", want)
	}
}

func TestStart_TicksDownThenFiresOnce(t *testing.T) {
	mock := clock.NewMock()
	r := newRecorder()
	task := Start(mock, 5, r.onTick, r.onDone)

	for want := 5; want >= 1; want-- {
		r.expectTick(t, want)
		select {
		case <-r.done:
			t.Fatalf("done fired early at tick %d", want)
		default:
		}
		mock.Add(Interval)
	}

	select {
	case <-r.done:
	case <-time.After(time.Second):
		t.Fatal("done did not fire after the last tick")
	}
	<-task.Done()

	select {
	case n := <-r.ticks:
		t.Errorf("unexpected extra tick %d", n)
	case <-r.done:
		t.Error("done fired twice")
	default:
	}
}

func TestCancel_SuppressesCompletion(t *testing.T) {
	mock := clock.NewMock()
	r := newRecorder()
	task := Start(mock, 3, r.onTick, r.onDone)

	r.expectTick(t, 3)
	mock.Add(Interval)
	r.expectTick(t, 2)

	task.Cancel()
	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("task did not finish after Cancel")
	}

	mock.Add(5 * Interval)
	select {
	case <-r.done:
		t.Error("completion fired after Cancel")
	case n := <-r.ticks:
		t.Errorf("tick %d after Cancel", n)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancel_Idempotent(t *testing.T) {
	task := Start(clock.NewMock(), 2, nil, nil)
	task.Cancel()
	task.Cancel()
	<-task.Done()
}

func TestStart_ZeroDurationFiresImmediately(t *testing.T) {
	r := newRecorder()
	task := Start(clock.NewMock(), 0, r.onTick, r.onDone)
	select {
	case <-r.done:
	case <-time.After(time.Second):
		t.Fatal("zero-length countdown did not complete")
	}
	<-task.Done()
	if len(r.ticks) != 0 {
		t.Errorf("zero-length countdown should not tick, got %d ticks", len(r.ticks))
	}
}

func TestStart_RealClock(t *testing.T) {
	if testing.Short() {
		t.Skip("uses the wall clock")
	}
	r := newRecorder()
	start := time.Now()
	task := Start(clock.New(), 1, r.onTick, r.onDone)
	r.expectTick(t, 1)
	select {
	case <-r.done:
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
	<-task.Done()
	if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
		t.Errorf("completed after %v, want about %v", elapsed, Interval)
	}
}
