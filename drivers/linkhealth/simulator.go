package linkhealth

import (
	"context"
	"sync"
	"time"
)

// Simulator is the behaviourally-equivalent twin of SNMPProbe.
type Simulator struct {
	mu       sync.Mutex
	readings map[string]Reading
}

// NewSimulator creates a simulator with every endpoint healthy by
// default.
func NewSimulator() *Simulator {
	return &Simulator{readings: map[string]Reading{}}
}

// SetReading seeds the reading an endpoint will report on the next Poll,
// used to drive scenario tests (e.g. a link that never achieves lock).
func (s *Simulator) SetReading(endpoint string, r Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings[endpoint] = r
}

func (s *Simulator) Poll(ctx context.Context, endpoint string) (Reading, error) {
	select {
	case <-time.After(10 * time.Millisecond):
	case <-ctx.Done():
		return Reading{}, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.readings[endpoint]; ok {
		return r, nil
	}
	return Reading{BitErrorRate: 0, Lock: LockLocked, BlockAligned: true, IdleWord: 0xBEEF}, nil
}

var (
	_ Probe = (*SNMPProbe)(nil)
	_ Probe = (*Simulator)(nil)
)
