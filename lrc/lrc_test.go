package lrc

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/skyvane-array/mcs/types"
)

func alwaysAllowed() (bool, string) { return true, "" }

func TestExecutorSubmitRunsInOrder(t *testing.T) {
	e := NewExecutor("test/node/1", zap.NewNop())
	defer e.Stop()

	results := e.ResultBus.Subscribe(8)
	defer e.ResultBus.Unsubscribe(results)

	var order []int
	done := make(chan struct{})
	for i := 0; i < 3; i++ {
		i := i
		_, res := e.Submit(func(ctx context.Context, id types.CommandID) types.CommandRes {
			order = append(order, i)
			if i == 2 {
				close(done)
			}
			return types.OK("done")
		}, alwaysAllowed)
		if res.Code != types.ResultQueued {
			t.Fatalf("Submit(%d): got %v, want QUEUED", i, res.Code)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for queued commands to run")
	}
	for i := 0; i < 3; i++ {
		for len(order) <= i {
			time.Sleep(time.Millisecond)
		}
	}
	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Fatalf("order = %v, want [0 1 2]", order)
	}
}

func TestExecutorSubmitRejectsWhenQueueFull(t *testing.T) {
	e := NewExecutor("test/node/2", zap.NewNop())
	defer e.Stop()

	block := make(chan struct{})
	_, first := e.Submit(func(ctx context.Context, id types.CommandID) types.CommandRes {
		<-block
		return types.OK("unblocked")
	}, alwaysAllowed)
	if first.Code != types.ResultQueued {
		t.Fatalf("first Submit: got %v, want QUEUED", first.Code)
	}

	var lastRes types.CommandRes
	for i := 0; i < DefaultQueueDepth+1; i++ {
		_, lastRes = e.Submit(func(ctx context.Context, id types.CommandID) types.CommandRes {
			return types.OK("filler")
		}, alwaysAllowed)
	}
	close(block)

	if lastRes.Code != types.ResultRejected {
		t.Fatalf("Submit on a full queue: got %v, want REJECTED", lastRes.Code)
	}
}

func TestExecutorIsAllowedReevaluatedAtPopTime(t *testing.T) {
	e := NewExecutor("test/node/3", zap.NewNop())
	defer e.Stop()

	results := e.ResultBus.Subscribe(8)
	defer e.ResultBus.Unsubscribe(results)

	allowed := true
	gate := func() (bool, string) { return allowed, "gate closed" }

	block := make(chan struct{})
	e.Submit(func(ctx context.Context, id types.CommandID) types.CommandRes {
		<-block
		return types.OK("first")
	}, alwaysAllowed)

	allowed = false // flip before the second command is popped
	_, second := e.Submit(func(ctx context.Context, id types.CommandID) types.CommandRes {
		t.Fatal("body must not run when is_allowed_fn rejects at pop time")
		return types.OK("unreachable")
	}, gate)
	if second.Code != types.ResultQueued {
		t.Fatalf("Submit: got %v, want QUEUED (rejection happens at pop, not submit)", second.Code)
	}
	close(block)

	select {
	case r := <-results:
		if r.Result.Code != types.ResultOK {
			t.Fatalf("first result = %v, want OK", r.Result.Code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first command's result")
	}
	select {
	case r := <-results:
		if r.Result.Code != types.ResultNotAllowed {
			t.Fatalf("second result = %v, want NOT_ALLOWED", r.Result.Code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for second command's result")
	}
}

func TestExecutorRequestCancelSignalsContext(t *testing.T) {
	e := NewExecutor("test/node/4", zap.NewNop())
	defer e.Stop()

	started := make(chan struct{})
	cancelled := make(chan struct{})
	e.Submit(func(ctx context.Context, id types.CommandID) types.CommandRes {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return types.CommandRes{Code: types.ResultAborted, Message: "aborted"}
	}, alwaysAllowed)

	<-started
	if e.CancelRequested() {
		t.Fatal("CancelRequested() true before RequestCancel was ever called")
	}
	e.RequestCancel()
	if !e.CancelRequested() {
		t.Fatal("CancelRequested() false after RequestCancel")
	}

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("command body never observed ctx.Done() after RequestCancel")
	}

	e.ResetCancel()
	if e.CancelRequested() {
		t.Fatal("CancelRequested() true after ResetCancel")
	}
}

func TestPollCancellableReturnsFalseWhenUninterrupted(t *testing.T) {
	e := NewExecutor("test/node/5", zap.NewNop())
	defer e.Stop()

	cancelled := PollCancellable(context.Background(), e, 10*time.Millisecond)
	if cancelled {
		t.Fatal("PollCancellable returned true with no cancellation requested")
	}
}

func TestPollCancellableReturnsTrueOnCancelRequested(t *testing.T) {
	e := NewExecutor("test/node/6", zap.NewNop())
	defer e.Stop()
	e.RequestCancel()

	cancelled := PollCancellable(context.Background(), e, time.Second)
	if !cancelled {
		t.Fatal("PollCancellable returned false despite a pending RequestCancel")
	}
}

func TestBusPublishSubscribeUnsubscribe(t *testing.T) {
	b := NewBus[int]()
	ch := b.Subscribe(1)

	b.Publish(42)
	select {
	case v := <-ch:
		if v != 42 {
			t.Fatalf("got %d, want 42", v)
		}
	default:
		t.Fatal("expected a buffered event")
	}

	b.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after Unsubscribe")
	}
	b.Unsubscribe(ch) // idempotent
}

func TestBusDropsOnFullSubscriber(t *testing.T) {
	b := NewBus[int]()
	ch := b.Subscribe(1)
	defer b.Unsubscribe(ch)

	b.Publish(1)
	b.Publish(2) // subscriber buffer full; must drop, not block

	v := <-ch
	if v != 1 {
		t.Fatalf("got %d, want 1 (second publish should have been dropped)", v)
	}
}

func TestBusPublishOnNilIsSafe(t *testing.T) {
	var b *Bus[int]
	b.Publish(1) // must not panic
}

func TestBlockingSetWaitDrainsOnCompletion(t *testing.T) {
	e := NewExecutor("test/node/7", zap.NewNop())
	defer e.Stop()

	set := NewBlockingSet()
	unsubscribe := set.Track(e)
	defer unsubscribe()

	id, res := e.Submit(func(ctx context.Context, cid types.CommandID) types.CommandRes {
		return types.OK("child done")
	}, alwaysAllowed)
	if res.Code != types.ResultQueued {
		t.Fatalf("Submit: got %v, want QUEUED", res.Code)
	}
	set.Add(id)

	if err := set.Wait(2 * time.Second); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(set.Pending()) != 0 {
		t.Fatalf("Pending() = %v, want empty", set.Pending())
	}
}

func TestBlockingSetWaitTimesOutWithPendingList(t *testing.T) {
	set := NewBlockingSet()
	set.Add(types.CommandID("node/1_abc"))
	set.Add(types.CommandID("node/1_def"))

	err := set.Wait(20 * time.Millisecond)
	if err == nil {
		t.Fatal("expected a timeout error with unresolved children")
	}
	if len(set.Pending()) != 2 {
		t.Fatalf("Pending() = %v, want 2 entries", set.Pending())
	}
}

func TestBlockingSetWaitNoOpWhenEmpty(t *testing.T) {
	set := NewBlockingSet()
	if err := set.Wait(time.Millisecond); err != nil {
		t.Fatalf("Wait on an empty set: %v", err)
	}
}
