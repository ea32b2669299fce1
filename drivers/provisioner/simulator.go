package provisioner

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Simulator is the behaviourally-equivalent twin of SSHProvisioner used
// under simulationMode.
type Simulator struct {
	mu   sync.Mutex
	// FailTargets forces ConfigureBoard to fail for the named target IP.
	FailTargets map[string]bool
}

// NewSimulator creates a provisioner simulator.
func NewSimulator() *Simulator {
	return &Simulator{FailTargets: map[string]bool{}}
}

func (s *Simulator) ConfigureBoard(ctx context.Context, targetIP, bitstreamPath string, deviceServerList []string, masterFQDN string) (CallResult, error) {
	select {
	case <-time.After(50 * time.Millisecond):
	case <-ctx.Done():
		return CallFail, ctx.Err()
	}
	s.mu.Lock()
	fail := s.FailTargets[targetIP]
	s.mu.Unlock()
	if fail {
		return CallFail, fmt.Errorf("provisioner simulator: board at %s refused master boot", targetIP)
	}
	return CallOK, nil
}

var (
	_ BoardProvisioner = (*SSHProvisioner)(nil)
	_ BoardProvisioner = (*Simulator)(nil)
)
