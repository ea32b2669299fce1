package lru

import (
	"testing"
	"time"

	"github.com/skyvane-array/mcs/drivers/power"
	"github.com/skyvane-array/mcs/drivers/provisioner"
	"github.com/skyvane-array/mcs/node/poweroutlet"
	"github.com/skyvane-array/mcs/types"
)

func newTestLRU(t *testing.T, sim *power.Simulator) (*TalonLRU, <-chan types.LongRunningCommandResult) {
	t.Helper()
	a := poweroutlet.New("test/outlet/a", "a", sim)
	b := poweroutlet.New("test/outlet/b", "b", sim)
	l := New("test/lru/1", a, b, provisioner.NewSimulator(), BoardTarget{})
	l.pollInterval = time.Hour
	ch := l.Exec.ResultBus.Subscribe(8)
	return l, ch
}

func waitLRU(t *testing.T, ch <-chan types.LongRunningCommandResult, id types.CommandID) types.CommandRes {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case r := <-ch:
			if r.CommandID == id {
				return r.Result
			}
		case <-deadline:
			t.Fatal("timed out waiting for LRU command result")
			return types.CommandRes{}
		}
	}
}

func TestOnReportsOpOnWhenBothOutletsEnergize(t *testing.T) {
	sim := power.NewSimulator("a", "b")
	l, ch := newTestLRU(t, sim)
	_ = l.Admin.SetMode(types.AdminOnline)

	id, _ := l.On()
	res := waitLRU(t, ch, id)
	if res.Code != types.ResultOK {
		t.Fatalf("On result: got %v", res)
	}
	if got := l.Op.Current(); got != types.OpOn {
		t.Fatalf("Op.Current() = %v, want ON", got)
	}
}

func TestStartupInconsistencyFaultsAndBlocksCommands(t *testing.T) {
	sim := power.NewSimulator("a", "b")
	sim.SeedState("a", power.OutletOn)
	sim.SeedState("b", power.OutletOff)
	l, ch := newTestLRU(t, sim)
	_ = l.Admin.SetMode(types.AdminOnline)

	if got := l.Op.Current(); got != types.OpFault {
		t.Fatalf("Op.Current() after startup = %v, want FAULT", got)
	}

	id, _ := l.On()
	res := waitLRU(t, ch, id)
	if res.Code != types.ResultNotAllowed {
		t.Fatalf("On while FAULT: got %v, want NOT_ALLOWED", res)
	}

	resetRes := l.Reset()
	if resetRes.Code != types.ResultFailed {
		t.Fatalf("Reset with outlets still inconsistent: got %v, want FAILED", resetRes)
	}

	sim.SeedState("a", power.OutletOff)
	resetRes = l.Reset()
	if resetRes.Code != types.ResultOK {
		t.Fatalf("Reset after reconciliation: got %v", resetRes)
	}
	if got := l.Op.Current(); got != types.OpOff {
		t.Fatalf("Op.Current() after reset = %v, want OFF", got)
	}
}
