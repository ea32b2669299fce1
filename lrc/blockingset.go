package lrc

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/skyvane-array/mcs/types"
)

// BlockingSet is the set of in-flight child command ids a parent command
// is awaiting, per spec §4.2's "nested LRCs" primitive. A parent records
// each child command id it dispatches, then calls Wait to block until
// the set drains (via ResultBus subscriptions on each child) or the
// timeout fires.
type BlockingSet struct {
	mu      sync.Mutex
	pending map[types.CommandID]struct{}
	drain   chan struct{}
}

// NewBlockingSet creates an empty set.
func NewBlockingSet() *BlockingSet {
	return &BlockingSet{pending: make(map[types.CommandID]struct{})}
}

// Add records a dispatched child command id.
func (s *BlockingSet) Add(id types.CommandID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[id] = struct{}{}
}

// Track subscribes to a child executor's ResultBus and removes ids from
// the set as their results arrive. The subscription is torn down when
// the returned unsubscribe func is called. Call once per child executor
// a parent command fans out to.
func (s *BlockingSet) Track(child *Executor) (unsubscribe func()) {
	ch := child.ResultBus.Subscribe(DefaultQueueDepth)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case r, ok := <-ch:
				if !ok {
					return
				}
				s.remove(r.CommandID)
			case <-done:
				return
			}
		}
	}()
	return func() {
		close(done)
		child.ResultBus.Unsubscribe(ch)
	}
}

func (s *BlockingSet) remove(id types.CommandID) {
	s.mu.Lock()
	_, existed := s.pending[id]
	if existed {
		delete(s.pending, id)
	}
	empty := len(s.pending) == 0
	drain := s.drain
	s.mu.Unlock()
	if existed && empty && drain != nil {
		select {
		case <-drain:
		default:
			close(drain)
		}
	}
}

// Pending returns the still-outstanding child command ids, sorted for
// deterministic timeout messages.
func (s *BlockingSet) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.pending))
	for id := range s.pending {
		out = append(out, string(id))
	}
	sort.Strings(out)
	return out
}

// Wait blocks until the set is empty or timeout elapses. On timeout it
// returns an error enumerating the still-pending child ids, per spec
// §4.2's wait_for_blocking_lrcs contract.
func (s *BlockingSet) Wait(timeout time.Duration) error {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return nil
	}
	s.drain = make(chan struct{})
	drain := s.drain
	s.mu.Unlock()

	select {
	case <-drain:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timed out waiting on blocking lrcs: %v", s.Pending())
	}
}
