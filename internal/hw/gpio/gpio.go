package gpio

import (
	"sync"

	"github.com/cjeanneret/SnapGo/internal/debug"
)

// Level represents the logical state of a GPIO pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l {
		return "HIGH"
	}
	return "LOW"
}

// PinMode indicates whether a GPIO is input or output.
type PinMode int

const (
	Input PinMode = iota // pulled up, so an idle button reads High
	Output
)

// Driver defines the abstract interface for controlling GPIOs.
// This allows plugging in a real Raspberry Pi implementation
// or a mock for development on PC.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)
	Close() error
}

// MockDriver keeps pin levels in memory. Inputs idle High like a pulled-up
// pin; tests press a button with Set(pin, Low).
type MockDriver struct {
	mu     sync.Mutex
	levels map[int]Level
	writes map[int]int
	ready  map[int]chan struct{}
}

// NewMockDriver returns an empty mock.
func NewMockDriver() *MockDriver {
	return &MockDriver{
		levels: make(map[int]Level),
		writes: make(map[int]int),
		ready:  make(map[int]chan struct{}),
	}
}

// NewDriver creates a GPIO driver based on the chosen mode.
// If mock is true, returns a MockDriver (for dev/test).
// If mock is false, returns a real RPiDriver (for Raspberry Pi).
func NewDriver(mock bool) (Driver, error) {
	if mock {
		debug.Info("Using MOCK GPIO driver (development mode)")
		return NewMockDriver(), nil
	}
	return NewRPiRealDriver()
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	m.mu.Lock()
	defer m.mu.Unlock()
	if mode == Input {
		m.levels[pin] = High
	} else {
		m.levels[pin] = Low
	}
	ch := m.readyLocked(pin)
	select {
	case <-ch:
	default:
		close(ch)
	}
	return nil
}

// Ready returns a channel closed once pin has been set up.
func (m *MockDriver) Ready(pin int) <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readyLocked(pin)
}

func (m *MockDriver) readyLocked(pin int) chan struct{} {
	ch, ok := m.ready[pin]
	if !ok {
		ch = make(chan struct{})
		m.ready[pin] = ch
	}
	return ch
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levels[pin] = level
	m.writes[pin]++
	return nil
}

func (m *MockDriver) ReadPin(pin int) (Level, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.levels[pin]
	if !ok {
		l = High
	}
	debug.GPIO("ReadPin", pin, l)
	return l, nil
}

// Set forces the level of pin, e.g. to simulate a button press.
func (m *MockDriver) Set(pin int, level Level) {
	m.mu.Lock()
	m.levels[pin] = level
	m.mu.Unlock()
}

// Level returns the last level of pin.
func (m *MockDriver) Level(pin int) Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels[pin]
}

// Writes returns how many times pin was written.
func (m *MockDriver) Writes(pin int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes[pin]
}

func (m *MockDriver) Close() error {
	debug.Trace("GPIO Close (mock)")
	return nil
}
