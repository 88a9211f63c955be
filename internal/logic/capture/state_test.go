package capture

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestPhaseString(t *testing.T) {
	cases := map[Phase]string{
		Previewing:     "previewing",
		CountingDown:   "counting_down",
		CapturePending: "capture_pending",
		Reviewing:      "reviewing",
		Saving:         "saving",
		Phase(42):      "phase(42)",
	}
	for p, want := range cases {
		if got := p.String(); got != want {
			t.Errorf("Phase(%d).String() = %q, want %q", int(p), got, want)
		}
	}
}

func TestOutcomeKindFailed(t *testing.T) {
	for _, k := range []OutcomeKind{OutcomeNone, OutcomeCaptured, OutcomeSaved} {
		if k.Failed() {
			t.Errorf("%s should not be a failure", k)
		}
	}
	for _, k := range []OutcomeKind{OutcomePermissionDenied, OutcomeDeviceUnavailable, OutcomeCaptureFailed, OutcomeSaveFailed} {
		if !k.Failed() {
			t.Errorf("%s should be a failure", k)
		}
	}
}

func TestSnapshotJSON(t *testing.T) {
	snap := Snapshot{
		Phase:   CountingDown,
		Session: SessionRunning,
		Outcome: failure(OutcomeSaveFailed, errors.New("disk full")),
	}
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got["Phase"] != "counting_down" || got["Session"] != "running" {
		t.Errorf("enums not encoded as text: %s", data)
	}
	outcome, _ := got["Outcome"].(map[string]any)
	if outcome["kind"] != "save_failed" || outcome["message"] != "disk full" {
		t.Errorf("outcome = %v", outcome)
	}
}

func TestStore_SubscribeGetsCurrentFirst(t *testing.T) {
	s := NewStore(Snapshot{Phase: Reviewing, Version: 3})
	ch, unsub := s.Subscribe()
	defer unsub()

	first := <-ch
	if first.Phase != Reviewing || first.Version != 3 {
		t.Errorf("first snapshot = %+v", first)
	}

	s.publish(Snapshot{Phase: Saving, Version: 4})
	if got := <-ch; got.Phase != Saving {
		t.Errorf("published phase = %s, want saving", got.Phase)
	}
	if got := s.Load(); got.Version != 4 {
		t.Errorf("Load().Version = %d, want 4", got.Version)
	}
}

func TestStore_SlowSubscriberKeepsLatest(t *testing.T) {
	s := NewStore(Snapshot{})
	ch, unsub := s.Subscribe()
	defer unsub()

	const n = subscriberBuffer * 3
	for i := 1; i <= n; i++ {
		s.publish(Snapshot{Version: uint64(i)})
	}

	var last uint64
	count := 0
	for len(ch) > 0 {
		snap := <-ch
		if snap.Version <= last && count > 0 {
			t.Fatalf("snapshots out of order: %d after %d", snap.Version, last)
		}
		last = snap.Version
		count++
	}
	if last != n {
		t.Errorf("last snapshot = %d, want %d", last, n)
	}
	if count > subscriberBuffer {
		t.Errorf("received %d snapshots, buffer is %d", count, subscriberBuffer)
	}
}

func TestStore_UnsubscribeClosesOnce(t *testing.T) {
	s := NewStore(Snapshot{})
	ch, unsub := s.Subscribe()
	<-ch
	unsub()
	unsub()

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after unsubscribe")
	}
	s.publish(Snapshot{Version: 1}) // must not panic on a closed channel
}

func TestTextRoundTrip(t *testing.T) {
	var p Phase
	if err := p.UnmarshalText([]byte("capture_pending")); err != nil || p != CapturePending {
		t.Errorf("phase = %v, %v", p, err)
	}
	if err := p.UnmarshalText([]byte("bogus")); err == nil {
		t.Error("unknown phase should fail")
	}
	var s SessionStatus
	if err := s.UnmarshalText([]byte("unavailable")); err != nil || s != SessionUnavailable {
		t.Errorf("session = %v, %v", s, err)
	}
	var k OutcomeKind
	if err := k.UnmarshalText([]byte("permission_denied")); err != nil || k != OutcomePermissionDenied {
		t.Errorf("outcome = %v, %v", k, err)
	}
}
