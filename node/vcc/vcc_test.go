package vcc

import (
	"testing"
	"time"

	"github.com/skyvane-array/mcs/types"
)

func waitVCC(t *testing.T, ch <-chan types.LongRunningCommandResult, id types.CommandID) types.CommandRes {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case r := <-ch:
			if r.CommandID == id {
				return r.Result
			}
		case <-deadline:
			t.Fatal("timed out waiting for VCC command result")
			return types.CommandRes{}
		}
	}
}

func TestConfigureBandActivatesSupportedBand(t *testing.T) {
	v := New("test/vcc/1", []types.Band{types.Band1And2, types.Band3})
	if err := v.Assign(1); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	ch := v.Exec.ResultBus.Subscribe(8)
	defer v.Exec.ResultBus.Unsubscribe(ch)

	id, _ := v.ConfigureBand(BandParams{Band: types.Band1And2, DishSampleRate: 3960000000, SamplesPerFrame: 18})
	res := waitVCC(t, ch, id)
	if res.Code != types.ResultOK {
		t.Fatalf("ConfigureBand result: got %v", res)
	}
	if v.ActiveBand() != types.Band1And2 {
		t.Fatalf("ActiveBand() = %v, want 1_2", v.ActiveBand())
	}
	if v.Obs.Current() != types.ObsReady {
		t.Fatalf("Obs.Current() = %v, want READY", v.Obs.Current())
	}
}

func TestConfigureBandRejectsUnsupportedBand(t *testing.T) {
	v := New("test/vcc/2", []types.Band{types.Band1And2})
	_ = v.Assign(1)
	ch := v.Exec.ResultBus.Subscribe(8)
	defer v.Exec.ResultBus.Unsubscribe(ch)

	id, _ := v.ConfigureBand(BandParams{Band: types.Band5a})
	res := waitVCC(t, ch, id)
	if res.Code != types.ResultFailed {
		t.Fatalf("ConfigureBand result: got %v, want FAILED", res)
	}
	if v.Obs.Current() != types.ObsIdle {
		t.Fatalf("Obs.Current() = %v, want IDLE (no state change on rejection)", v.Obs.Current())
	}
}

func TestUpdateDelayModelRequiresReadyOrScanning(t *testing.T) {
	v := New("test/vcc/3", []types.Band{types.Band1And2})
	res := v.UpdateDelayModel([]float64{1, 2, 3})
	if res.Code != types.ResultNotAllowed {
		t.Fatalf("UpdateDelayModel before configure: got %v, want NOT_ALLOWED", res)
	}
}

func TestScanEndScanRoundTrip(t *testing.T) {
	v := New("test/vcc/4", []types.Band{types.Band1And2})
	_ = v.Assign(1)
	ch := v.Exec.ResultBus.Subscribe(8)
	defer v.Exec.ResultBus.Unsubscribe(ch)

	id, _ := v.ConfigureBand(BandParams{Band: types.Band1And2})
	waitVCC(t, ch, id)

	id, _ = v.Scan(42)
	res := waitVCC(t, ch, id)
	if res.Code != types.ResultOK || v.Obs.Current() != types.ObsScanning {
		t.Fatalf("Scan: result=%v state=%v", res, v.Obs.Current())
	}

	id, _ = v.EndScan()
	res = waitVCC(t, ch, id)
	if res.Code != types.ResultOK || v.Obs.Current() != types.ObsReady {
		t.Fatalf("EndScan: result=%v state=%v", res, v.Obs.Current())
	}
}
