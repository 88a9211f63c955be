// Package permission answers "may the booth use the camera / write to the
// photo library", the way a platform authorization service would.
package permission

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cjeanneret/SnapGo/internal/debug"
)

// ErrDenied reports that access to a resource was refused.
var ErrDenied = errors.New("permission denied")

// Kind names a protected resource.
type Kind int

const (
	Camera Kind = iota
	Library
)

func (k Kind) String() string {
	switch k {
	case Camera:
		return "camera"
	case Library:
		return "library"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Status is the authorization state of a Kind.
type Status int

const (
	Undetermined Status = iota
	Granted
	Denied
)

func (s Status) String() string {
	switch s {
	case Undetermined:
		return "undetermined"
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ParseStatus maps a config value to a Status. "ask" leaves the decision
// to the first Request.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "ask", "":
		return Undetermined, nil
	case "granted":
		return Granted, nil
	case "denied":
		return Denied, nil
	default:
		return Undetermined, fmt.Errorf("unknown permission status %q", s)
	}
}

// Provider is the authorization capability consumed by the capture controller.
type Provider interface {
	// Status returns the current decision without prompting.
	Status(kind Kind) Status
	// Request asks for access. done is called once, from another
	// goroutine, with the decision. Decided kinds answer without probing.
	Request(kind Kind, done func(granted bool))
}

// Probe checks whether access is actually possible; nil means granted.
type Probe func() error

// Policy is a Provider driven by configuration: each Kind starts granted,
// denied or undetermined. Undetermined kinds are decided once, on first
// Request, by their Probe (no probe means granted). Decisions are sticky.
type Policy struct {
	mu     sync.Mutex
	status map[Kind]Status
	probes map[Kind]Probe
}

// NewPolicy creates a policy where every kind is undetermined.
func NewPolicy() *Policy {
	return &Policy{
		status: make(map[Kind]Status),
		probes: make(map[Kind]Probe),
	}
}

// Set fixes the status of kind.
func (p *Policy) Set(kind Kind, s Status) {
	p.mu.Lock()
	p.status[kind] = s
	p.mu.Unlock()
}

// SetProbe installs the check used to decide an undetermined kind.
func (p *Policy) SetProbe(kind Kind, probe Probe) {
	p.mu.Lock()
	p.probes[kind] = probe
	p.mu.Unlock()
}

func (p *Policy) Status(kind Kind) Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status[kind]
}

func (p *Policy) Request(kind Kind, done func(granted bool)) {
	p.mu.Lock()
	s := p.status[kind]
	probe := p.probes[kind]
	p.mu.Unlock()

	go func() {
		if s != Undetermined {
			done(s == Granted)
			return
		}

		decided := Granted
		if probe != nil {
			if err := probe(); err != nil {
				debug.Error(fmt.Errorf("%s access: %w", kind, err))
				decided = Denied
			}
		}

		p.mu.Lock()
		if p.status[kind] == Undetermined {
			p.status[kind] = decided
		}
		decided = p.status[kind]
		p.mu.Unlock()

		debug.Info("Permission %s: %s", kind, decided)
		done(decided == Granted)
	}()
}
