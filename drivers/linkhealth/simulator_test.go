package linkhealth

import (
	"context"
	"testing"
)

func TestSimulatorDefaultReadingIsHealthy(t *testing.T) {
	s := NewSimulator()
	r, err := s.Poll(context.Background(), "board-1/link-0")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if r.Lock != LockLocked || !r.BlockAligned {
		t.Fatalf("default reading = %+v, want locked and block-aligned", r)
	}
}

func TestSimulatorSetReadingOverridesPoll(t *testing.T) {
	s := NewSimulator()
	s.SetReading("board-1/link-0", Reading{Lock: LockUnlocked, BitErrorRate: 1e-3})

	r, err := s.Poll(context.Background(), "board-1/link-0")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if r.Lock != LockUnlocked || r.BitErrorRate != 1e-3 {
		t.Fatalf("Poll after SetReading = %+v, want the seeded reading", r)
	}
}

func TestSimulatorPollRespectsCancelledContext(t *testing.T) {
	s := NewSimulator()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Poll(ctx, "board-1/link-0"); err == nil {
		t.Fatal("expected an error for a pre-cancelled context")
	}
}
