package provisioner

import (
	"context"
	"testing"
)

func TestSimulatorConfigureBoardSucceeds(t *testing.T) {
	s := NewSimulator()
	res, err := s.ConfigureBoard(context.Background(), "10.0.0.1", "/bitstreams/v1.bit", []string{"ds1", "ds2"}, "mid/lru/1")
	if err != nil || res != CallOK {
		t.Fatalf("ConfigureBoard = (%v, %v), want (OK, nil)", res, err)
	}
}

func TestSimulatorConfigureBoardFailsForTarget(t *testing.T) {
	s := NewSimulator()
	s.FailTargets["10.0.0.9"] = true
	res, err := s.ConfigureBoard(context.Background(), "10.0.0.9", "/bitstreams/v1.bit", nil, "mid/lru/1")
	if err == nil || res != CallFail {
		t.Fatalf("ConfigureBoard on a FailTargets entry = (%v, %v), want (FAIL, error)", res, err)
	}
}

func TestSimulatorConfigureBoardRespectsCancelledContext(t *testing.T) {
	s := NewSimulator()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.ConfigureBoard(ctx, "10.0.0.1", "/bitstreams/v1.bit", nil, "mid/lru/1"); err == nil {
		t.Fatal("expected an error for a pre-cancelled context")
	}
}
