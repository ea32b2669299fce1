package subscription

import (
	"context"
	"testing"
)

func TestSimulatorSubscribePublishDelivers(t *testing.T) {
	s := NewSimulator()
	received := make(chan Update, 1)

	h, err := s.Subscribe(context.Background(), "mid/subarray/1/delay_model", func(u Update) {
		received <- u
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	s.Publish(Update{Path: "mid/subarray/1/delay_model", Value: "0.5"})

	select {
	case u := <-received:
		if u.Value != "0.5" {
			t.Fatalf("got value %q, want 0.5", u.Value)
		}
	default:
		t.Fatal("Publish did not invoke the subscriber callback")
	}

	if err := s.Unsubscribe(h); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
}

func TestSimulatorPublishIgnoresOtherPaths(t *testing.T) {
	s := NewSimulator()
	called := false
	if _, err := s.Subscribe(context.Background(), "mid/subarray/1/jones", func(Update) { called = true }); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	s.Publish(Update{Path: "mid/subarray/1/doppler"})
	if called {
		t.Fatal("callback fired for an update on a different attribute path")
	}
}

func TestSimulatorUnsubscribeUnknownHandleErrors(t *testing.T) {
	s := NewSimulator()
	if err := s.Unsubscribe("no-such-handle"); err == nil {
		t.Fatal("expected an error for an unknown handle")
	}
}

func TestSimulatorSubscribeRejectsCancelledContext(t *testing.T) {
	s := NewSimulator()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Subscribe(ctx, "mid/subarray/1/jones", func(Update) {}); err == nil {
		t.Fatal("expected an error for a pre-cancelled context")
	}
}
