package power

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Simulator is a behaviourally-equivalent twin of HTTPDriver: same error
// classes, same timing lower bound, so the LRU and its tests exercise
// identical code paths without real hardware (spec §9).
type Simulator struct {
	mu      sync.Mutex
	outlets map[string]OutletState
	// FailOutlets forces TurnOnOutlet to report CallFail for the named
	// outlets, for exercising scenario S5 (partial power-on).
	FailOutlets map[string]bool
}

// NewSimulator creates a simulator with the given outlet ids, all
// initially OFF.
func NewSimulator(outletIDs ...string) *Simulator {
	outlets := make(map[string]OutletState, len(outletIDs))
	for _, id := range outletIDs {
		outlets[id] = OutletOff
	}
	return &Simulator{outlets: outlets, FailOutlets: map[string]bool{}}
}

// SeedState forces an outlet to a starting state, used to set up S6's
// inconsistent-outlet scenario.
func (s *Simulator) SeedState(id string, state OutletState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outlets[id] = state
}

func (s *Simulator) simulateDelay(ctx context.Context) error {
	select {
	case <-time.After(20 * time.Millisecond):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Simulator) TurnOnOutlet(ctx context.Context, id string) (CallResult, error) {
	if err := s.simulateDelay(ctx); err != nil {
		return CallFail, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.outlets[id]; !ok {
		return CallFail, fmt.Errorf("power simulator: unknown outlet %s", id)
	}
	if s.FailOutlets[id] {
		return CallFail, fmt.Errorf("power simulator: outlet %s refused to energize", id)
	}
	s.outlets[id] = OutletOn
	return CallOK, nil
}

func (s *Simulator) TurnOffOutlet(ctx context.Context, id string) (CallResult, error) {
	if err := s.simulateDelay(ctx); err != nil {
		return CallFail, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.outlets[id]; !ok {
		return CallFail, fmt.Errorf("power simulator: unknown outlet %s", id)
	}
	s.outlets[id] = OutletOff
	return CallOK, nil
}

func (s *Simulator) GetOutletState(ctx context.Context, id string) (OutletState, error) {
	if err := s.simulateDelay(ctx); err != nil {
		return OutletUnknown, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.outlets[id]
	if !ok {
		return OutletUnknown, fmt.Errorf("power simulator: unknown outlet %s", id)
	}
	return state, nil
}

func (s *Simulator) ListOutlets(ctx context.Context) ([]string, error) {
	if err := s.simulateDelay(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.outlets))
	for id := range s.outlets {
		ids = append(ids, id)
	}
	return ids, nil
}

var (
	_ Driver = (*HTTPDriver)(nil)
	_ Driver = (*Simulator)(nil)
)
