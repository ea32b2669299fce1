package lrc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skyvane-array/mcs/types"
)

// DefaultQueueDepth is the bounded FIFO queue depth per spec §4.2.
const DefaultQueueDepth = 32

// CommandFn is a long-running command body. It receives a context
// cancelled when the executor's cancel flag is observed (cooperative
// cancellation per spec §4.2/§5) and the command's own id for result
// correlation.
type CommandFn func(ctx context.Context, commandID types.CommandID) types.CommandRes

// IsAllowedFn is re-evaluated at pop time, not at submit time, per spec
// §4.2. Returning false completes the command NOT_ALLOWED without
// running its body.
type IsAllowedFn func() (bool, string)

type task struct {
	id        types.CommandID
	fn        CommandFn
	isAllowed IsAllowedFn
}

// Executor is a node's single-threaded LRC queue: one worker goroutine
// popping tasks strictly in submit order, per spec §4.2/§5.
type Executor struct {
	fqdn   string
	logger *zap.Logger

	queue chan task

	mu        sync.Mutex
	cancelled bool
	cancelCtx context.Context
	cancelFn  context.CancelFunc

	StatusBus *Bus[types.LongRunningCommandStatus]
	ResultBus *Bus[types.LongRunningCommandResult]

	started sync.Once
	stopCh  chan struct{}
}

// NewExecutor creates an executor bound to a node FQDN (for logging) and
// starts its worker goroutine.
func NewExecutor(fqdn string, logger *zap.Logger) *Executor {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Executor{
		fqdn:      fqdn,
		logger:    logger,
		queue:     make(chan task, DefaultQueueDepth),
		cancelCtx: ctx,
		cancelFn:  cancel,
		StatusBus: NewBus[types.LongRunningCommandStatus](),
		ResultBus: NewBus[types.LongRunningCommandResult](),
		stopCh:    make(chan struct{}),
	}
	go e.run()
	return e
}

// Stop ends the worker goroutine; commands still queued are not run.
// Used at process shutdown only, per
// spec §3 lifecycle ("destroyed only at process shutdown").
func (e *Executor) Stop() {
	close(e.stopCh)
}

// Submit enqueues a long-running command. Returns (QUEUED, commandID) on
// success, or (REJECTED, reason) if the queue is full — nothing is
// enqueued in that case, per spec §4.2.
func (e *Executor) Submit(fn CommandFn, isAllowed IsAllowedFn) (types.CommandID, types.CommandRes) {
	id := types.CommandID(fmt.Sprintf("%s_%s", e.fqdn, uuid.NewString()))
	t := task{id: id, fn: fn, isAllowed: isAllowed}

	select {
	case e.queue <- t:
		e.StatusBus.Publish(types.LongRunningCommandStatus{CommandID: id, Status: types.StatusQueued})
		return id, types.Queued(string(id))
	default:
		return "", types.Rejected("queue full (depth " + fmt.Sprint(DefaultQueueDepth) + ")")
	}
}

func (e *Executor) run() {
	for {
		select {
		case <-e.stopCh:
			return
		case t := <-e.queue:
			e.execute(t)
		}
	}
}

func (e *Executor) execute(t task) {
	if ok, reason := t.isAllowed(); !ok {
		e.logger.Warn("lrc not allowed", zap.String("command_id", string(t.id)), zap.String("reason", reason))
		e.StatusBus.Publish(types.LongRunningCommandStatus{CommandID: t.id, Status: types.StatusNotAllowed})
		e.ResultBus.Publish(types.LongRunningCommandResult{CommandID: t.id, Result: types.NotAllowed(reason)})
		return
	}

	e.StatusBus.Publish(types.LongRunningCommandStatus{CommandID: t.id, Status: types.StatusInProgress})
	e.logger.Info("lrc started", zap.String("command_id", string(t.id)))

	ctx := e.currentCancelCtx()
	res := t.fn(ctx, t.id)

	status := types.StatusCompleted
	switch res.Code {
	case types.ResultFailed:
		status = types.StatusFailed
	case types.ResultAborted:
		status = types.StatusAborted
	case types.ResultRejected:
		status = types.StatusRejected
	case types.ResultNotAllowed:
		status = types.StatusNotAllowed
	}
	e.logger.Info("lrc finished", zap.String("command_id", string(t.id)), zap.String("status", string(status)))
	e.StatusBus.Publish(types.LongRunningCommandStatus{CommandID: t.id, Status: status})
	e.ResultBus.Publish(types.LongRunningCommandResult{CommandID: t.id, Result: res})
}

func (e *Executor) currentCancelCtx() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelCtx
}

// RequestCancel sets the cooperative cancel flag an in-flight command
// body checks at its suspension points (spec §4.2/§5's Abort
// pre-emption). It also cancels the context passed to the current
// command body.
func (e *Executor) RequestCancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelled = true
	e.cancelFn()
	// Arm a fresh context for the next command once this one observes
	// cancellation; Abort itself runs to completion on the cancelled one.
}

// ResetCancel re-arms the cancel context after an Abort has completed,
// so subsequent commands are not born pre-cancelled.
func (e *Executor) ResetCancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelled = false
	e.cancelCtx, e.cancelFn = context.WithCancel(context.Background())
}

// CancelRequested reports whether Abort has pre-empted the current
// command, for cooperative polling waits that check at ≤250ms
// granularity per spec §5.
func (e *Executor) CancelRequested() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled
}

// RunFast executes a fast command synchronously on the calling
// goroutine, per spec §4.2.
func RunFast(fn func() types.CommandRes) types.CommandRes {
	return fn()
}

// PollCancellable sleeps for d or until ctx is cancelled/cancel is
// requested, whichever first, returning true if cancelled. Used for the
// SlimLink link-health waits (spec §4.8) so they remain
// cooperative-cancellation suspension points.
func PollCancellable(ctx context.Context, e *Executor, d time.Duration) bool {
	const tick = 250 * time.Millisecond
	remaining := d
	for remaining > 0 {
		step := tick
		if remaining < step {
			step = remaining
		}
		select {
		case <-ctx.Done():
			return true
		case <-time.After(step):
		}
		if e != nil && e.CancelRequested() {
			return true
		}
		remaining -= step
	}
	return false
}
