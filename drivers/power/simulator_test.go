package power

import (
	"context"
	"testing"
)

func TestSimulatorTurnOnOffRoundTrip(t *testing.T) {
	s := NewSimulator("a", "b")
	ctx := context.Background()

	if state, err := s.GetOutletState(ctx, "a"); err != nil || state != OutletOff {
		t.Fatalf("initial state = (%v, %v), want (OFF, nil)", state, err)
	}

	res, err := s.TurnOnOutlet(ctx, "a")
	if err != nil || res != CallOK {
		t.Fatalf("TurnOnOutlet = (%v, %v), want (OK, nil)", res, err)
	}
	if state, _ := s.GetOutletState(ctx, "a"); state != OutletOn {
		t.Fatalf("state after TurnOnOutlet = %v, want ON", state)
	}

	res, err = s.TurnOffOutlet(ctx, "a")
	if err != nil || res != CallOK {
		t.Fatalf("TurnOffOutlet = (%v, %v), want (OK, nil)", res, err)
	}
	if state, _ := s.GetOutletState(ctx, "a"); state != OutletOff {
		t.Fatalf("state after TurnOffOutlet = %v, want OFF", state)
	}
}

func TestSimulatorFailOutletsForcesFailure(t *testing.T) {
	s := NewSimulator("a")
	s.FailOutlets["a"] = true

	res, err := s.TurnOnOutlet(context.Background(), "a")
	if err == nil || res != CallFail {
		t.Fatalf("TurnOnOutlet on a FailOutlets entry = (%v, %v), want (FAIL, error)", res, err)
	}
}

func TestSimulatorUnknownOutletErrors(t *testing.T) {
	s := NewSimulator("a")
	if _, err := s.GetOutletState(context.Background(), "missing"); err == nil {
		t.Fatal("expected an error for an unknown outlet id")
	}
}

func TestSimulatorSeedState(t *testing.T) {
	s := NewSimulator("a")
	s.SeedState("a", OutletOn)
	state, err := s.GetOutletState(context.Background(), "a")
	if err != nil || state != OutletOn {
		t.Fatalf("GetOutletState after SeedState = (%v, %v), want (ON, nil)", state, err)
	}
}

func TestSimulatorListOutlets(t *testing.T) {
	s := NewSimulator("a", "b")
	ids, err := s.ListOutlets(context.Background())
	if err != nil {
		t.Fatalf("ListOutlets: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("ListOutlets = %v, want 2 entries", ids)
	}
}

func TestSimulatorRespectsCancelledContext(t *testing.T) {
	s := NewSimulator("a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.TurnOnOutlet(ctx, "a"); err == nil {
		t.Fatal("expected an error for a pre-cancelled context")
	}
}
