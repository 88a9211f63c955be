package capture

import (
	"fmt"
	"sync"

	"github.com/cjeanneret/SnapGo/internal/hw/camera"
)

// Phase is the capture/review/save state. Exactly one is active at a time.
type Phase int

const (
	Previewing Phase = iota
	CountingDown
	CapturePending
	Reviewing
	Saving
)

var phaseNames = [...]string{
	Previewing:     "previewing",
	CountingDown:   "counting_down",
	CapturePending: "capture_pending",
	Reviewing:      "reviewing",
	Saving:         "saving",
}

func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Phase) UnmarshalText(b []byte) error {
	for i, name := range phaseNames {
		if name == string(b) {
			*p = Phase(i)
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", b)
}

// SessionStatus tracks the camera session.
type SessionStatus int

const (
	SessionStopped SessionStatus = iota
	SessionRunning
	SessionDenied      // camera permission refused; not retried
	SessionUnavailable // no input could be attached; terminal for this run
)

func (s SessionStatus) String() string {
	switch s {
	case SessionStopped:
		return "stopped"
	case SessionRunning:
		return "running"
	case SessionDenied:
		return "denied"
	case SessionUnavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("session(%d)", int(s))
	}
}

func (s SessionStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *SessionStatus) UnmarshalText(b []byte) error {
	for v := SessionStopped; v <= SessionUnavailable; v++ {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown session status %q", b)
}

// OutcomeKind classifies the result of the last asynchronous step.
type OutcomeKind int

const (
	OutcomeNone OutcomeKind = iota
	OutcomeCaptured
	OutcomeSaved
	OutcomePermissionDenied
	OutcomeDeviceUnavailable
	OutcomeCaptureFailed
	OutcomeSaveFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeNone:
		return "none"
	case OutcomeCaptured:
		return "captured"
	case OutcomeSaved:
		return "saved"
	case OutcomePermissionDenied:
		return "permission_denied"
	case OutcomeDeviceUnavailable:
		return "device_unavailable"
	case OutcomeCaptureFailed:
		return "capture_failed"
	case OutcomeSaveFailed:
		return "save_failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

func (k OutcomeKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *OutcomeKind) UnmarshalText(b []byte) error {
	for v := OutcomeNone; v <= OutcomeSaveFailed; v++ {
		if v.String() == string(b) {
			*k = v
			return nil
		}
	}
	return fmt.Errorf("unknown outcome %q", b)
}

// Failed reports whether the outcome is one of the failure kinds.
func (k OutcomeKind) Failed() bool {
	return k >= OutcomePermissionDenied
}

// Outcome is the typed result of a capture, save or permission step. The
// presentation layer decides how to show it.
type Outcome struct {
	Kind    OutcomeKind `json:"kind"`
	Err     error       `json:"-"`
	Message string      `json:"message,omitempty"`
	Album   string      `json:"album,omitempty"`
	AssetID string      `json:"asset_id,omitempty"`
}

func failure(kind OutcomeKind, err error) Outcome {
	return Outcome{Kind: kind, Err: err, Message: err.Error()}
}

// Snapshot is an immutable view of the controller state.
type Snapshot struct {
	Version   uint64 // increases on every published change
	Phase     Phase
	Remaining int           // seconds left, CountingDown only
	Image     *camera.Image // held image, Reviewing and Saving only
	Album     string        // album of the current or last save
	Session   SessionStatus
	Outcome   Outcome // last asynchronous result
}

// subscriberBuffer is the number of snapshots a slow subscriber may lag.
const subscriberBuffer = 16

// Store is the observable state container the presentation layer watches.
type Store struct {
	mu      sync.RWMutex
	current Snapshot
	subs    map[chan Snapshot]struct{}
}

// NewStore creates a store holding initial.
func NewStore(initial Snapshot) *Store {
	return &Store{
		current: initial,
		subs:    make(map[chan Snapshot]struct{}),
	}
}

// Load returns the latest snapshot.
func (s *Store) Load() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Subscribe returns a channel receiving every published snapshot, starting
// with the current one, and a cleanup function. A subscriber that falls
// behind loses its oldest pending snapshots, never the latest.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, subscriberBuffer)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	ch <- s.current
	s.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			s.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

func (s *Store) publish(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = snap
	for ch := range s.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		// full: drop the oldest, keep the latest
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
