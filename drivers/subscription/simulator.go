package subscription

import (
	"context"
	"fmt"
	"sync"
)

// Simulator is the behaviourally-equivalent twin of GNMISink: it never
// dials out, and lets tests push updates directly via Publish.
type Simulator struct {
	mu   sync.Mutex
	subs map[Handle]simSub
	seq  int
}

type simSub struct {
	attributeFQDN string
	cb            Callback
}

// NewSimulator creates an in-memory subscription sink.
func NewSimulator() *Simulator {
	return &Simulator{subs: map[Handle]simSub{}}
}

func (s *Simulator) Subscribe(ctx context.Context, attributeFQDN string, cb Callback) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	h := Handle(fmt.Sprintf("sim-sub-%s-%d", attributeFQDN, s.seq))
	s.subs[h] = simSub{attributeFQDN: attributeFQDN, cb: cb}
	return h, nil
}

func (s *Simulator) Unsubscribe(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[h]; !ok {
		return fmt.Errorf("subscription simulator: unknown handle %s", h)
	}
	delete(s.subs, h)
	return nil
}

// Publish delivers an update to every subscriber of attributeFQDN,
// used by tests to drive delay-model/jones/doppler/beam-weight updates.
func (s *Simulator) Publish(u Update) {
	s.mu.Lock()
	var cbs []Callback
	for _, sub := range s.subs {
		if sub.attributeFQDN == u.Path {
			cbs = append(cbs, sub.cb)
		}
	}
	s.mu.Unlock()
	for _, cb := range cbs {
		cb(u)
	}
}

var (
	_ Sink = (*GNMISink)(nil)
	_ Sink = (*Simulator)(nil)
)
