package statemodel

import (
	"testing"

	"github.com/skyvane-array/mcs/mcserrors"
	"github.com/skyvane-array/mcs/types"
)

type fakeComm struct {
	starts, stops int
	startErr      error
}

func (f *fakeComm) StartCommunicating() error { f.starts++; return f.startErr }
func (f *fakeComm) StopCommunicating() error  { f.stops++; return nil }

func TestAdminModeSetModeTogglesComm(t *testing.T) {
	comm := &fakeComm{}
	m := NewAdminModel(types.AdminOffline, comm)

	if err := m.SetMode(types.AdminOnline); err != nil {
		t.Fatalf("SetMode(ONLINE): %v", err)
	}
	if comm.starts != 1 || comm.stops != 0 {
		t.Fatalf("starts=%d stops=%d, want 1,0", comm.starts, comm.stops)
	}

	if err := m.SetMode(types.AdminOffline); err != nil {
		t.Fatalf("SetMode(OFFLINE): %v", err)
	}
	if comm.stops != 1 {
		t.Fatalf("stops=%d, want 1", comm.stops)
	}
}

func TestAdminModeRejectsNoOpMove(t *testing.T) {
	m := NewAdminModel(types.AdminOnline, nil)
	err := m.SetMode(types.AdminOnline)
	if err == nil {
		t.Fatal("expected a StateModelViolation for a no-op admin move")
	}
	if _, ok := err.(*mcserrors.StateModelViolation); !ok {
		t.Fatalf("got %T, want *mcserrors.StateModelViolation", err)
	}
	if m.Current() != types.AdminOnline {
		t.Fatal("rejected transition must leave the model unchanged")
	}
}

func TestOpModelRule7ForcesDisableWhileOffline(t *testing.T) {
	admin := types.AdminOffline
	m := NewOpModel(func() types.AdminMode { return admin })

	m.OnCommStatus(types.CommEstablished)
	m.OnPowerState(types.PowerOn)
	if m.Current() != types.OpDisable {
		t.Fatalf("Current() = %v, want DISABLE while admin is OFFLINE", m.Current())
	}

	admin = types.AdminOnline
	if got := m.Refresh(); got != types.OpOn {
		t.Fatalf("Refresh() = %v, want ON once admin goes ONLINE", got)
	}
}

func TestOpModelTracksPowerState(t *testing.T) {
	m := NewOpModel(func() types.AdminMode { return types.AdminOnline })
	m.OnPowerState(types.PowerOn)
	if m.Current() != types.OpOn {
		t.Fatalf("Current() = %v, want ON", m.Current())
	}
	m.OnPowerState(types.PowerOff)
	if m.Current() != types.OpOff {
		t.Fatalf("Current() = %v, want OFF", m.Current())
	}
	m.OnCommStatus(types.CommNotEstablished)
	if m.Current() != types.OpUnknown {
		t.Fatalf("Current() = %v, want UNKNOWN once comm is lost", m.Current())
	}
}

func TestOpModelSetFault(t *testing.T) {
	m := NewOpModel(func() types.AdminMode { return types.AdminOnline })
	m.SetFault()
	if m.Current() != types.OpFault {
		t.Fatalf("Current() = %v, want FAULT", m.Current())
	}
}

func TestObsModelSubarrayLifecycle(t *testing.T) {
	m := NewObsModel(true)
	if m.Current() != types.ObsEmpty {
		t.Fatalf("Current() = %v, want EMPTY at start", m.Current())
	}
	if _, err := m.Transition(EvAddReceptors); err != nil {
		t.Fatalf("AddReceptors: %v", err)
	}
	if _, err := m.Transition(EvResourceToIdle); err != nil {
		t.Fatalf("ResourceToIdle: %v", err)
	}
	if m.Current() != types.ObsIdle {
		t.Fatalf("Current() = %v, want IDLE", m.Current())
	}
}

func TestObsModelRejectsIllegalTransition(t *testing.T) {
	m := NewObsModel(true) // starts EMPTY
	_, err := m.Transition(EvScan)
	if err == nil {
		t.Fatal("expected a StateModelViolation for Scan from EMPTY")
	}
	if m.Current() != types.ObsEmpty {
		t.Fatal("rejected transition must leave the model unchanged")
	}
}

func TestObsModelChildTableHasNoResourcing(t *testing.T) {
	m := NewObsModel(false) // VCC/FSP sub-node: starts IDLE
	if m.Current() != types.ObsIdle {
		t.Fatalf("Current() = %v, want IDLE for a non-subarray node", m.Current())
	}
	if _, err := m.Transition(EvAddReceptors); err == nil {
		t.Fatal("AddReceptors must be illegal on the child table")
	}
}

func TestObsModelForceOverridesTable(t *testing.T) {
	m := NewObsModel(true)
	m.Force(types.ObsAborted)
	if m.Current() != types.ObsAborted {
		t.Fatalf("Current() = %v, want ABORTED after Force", m.Current())
	}
}
