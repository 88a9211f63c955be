package gpio

import "testing"

func TestMockDriver_InputIdlesHigh(t *testing.T) {
	m := NewMockDriver()
	if err := m.SetupPin(17, Input); err != nil {
		t.Fatal(err)
	}
	l, err := m.ReadPin(17)
	if err != nil {
		t.Fatal(err)
	}
	if l != High {
		t.Errorf("idle input = %s, want HIGH", l)
	}

	m.Set(17, Low)
	if l, _ := m.ReadPin(17); l != Low {
		t.Errorf("pressed input = %s, want LOW", l)
	}
}

func TestMockDriver_OutputWrites(t *testing.T) {
	m := NewMockDriver()
	if err := m.SetupPin(27, Output); err != nil {
		t.Fatal(err)
	}
	if m.Level(27) != Low {
		t.Error("output should start LOW")
	}
	for _, l := range []Level{High, Low, High} {
		if err := m.WritePin(27, l); err != nil {
			t.Fatal(err)
		}
	}
	if m.Level(27) != High {
		t.Errorf("level = %s, want HIGH", m.Level(27))
	}
	if n := m.Writes(27); n != 3 {
		t.Errorf("writes = %d, want 3", n)
	}
}

func TestNewDriver_Mock(t *testing.T) {
	d, err := NewDriver(true)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	if _, ok := d.(*MockDriver); !ok {
		t.Errorf("NewDriver(true) = %T, want *MockDriver", d)
	}
}

func TestMockDriver_ReadyAfterSetup(t *testing.T) {
	m := NewMockDriver()
	ready := m.Ready(17)
	select {
	case <-ready:
		t.Fatal("pin ready before SetupPin")
	default:
	}

	if err := m.SetupPin(17, Input); err != nil {
		t.Fatal(err)
	}
	if err := m.SetupPin(17, Input); err != nil { // second setup must not close twice
		t.Fatal(err)
	}
	select {
	case <-ready:
	default:
		t.Error("pin not ready after SetupPin")
	}
	select {
	case <-m.Ready(17):
	default:
		t.Error("Ready after setup should already be closed")
	}
}
