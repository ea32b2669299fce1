// Package lru implements the TalonLRU hardware-LRU node of spec §4.7: two
// outlet references on an external PDU, a desired-power indicator, and an
// observed power state derived from fixed-interval outlet polling.
package lru

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skyvane-array/mcs/drivers/provisioner"
	"github.com/skyvane-array/mcs/logging"
	"github.com/skyvane-array/mcs/lrc"
	"github.com/skyvane-array/mcs/node/poweroutlet"
	"github.com/skyvane-array/mcs/statemodel"
	"github.com/skyvane-array/mcs/types"
)

// DefaultPollInterval is the spec §4.7 default outlet-polling cadence.
const DefaultPollInterval = 20 * time.Second

// BoardTarget names the board a TalonLRU provisions on successful power-on,
// used by Controller.On step 2.
type BoardTarget struct {
	TargetIP         string
	BitstreamPath    string
	DeviceServerList []string
	MasterFQDN       string
}

// TalonLRU is one physical LRU chassis.
type TalonLRU struct {
	fqdn         types.FQDN
	outletA      *poweroutlet.PowerOutlet
	outletB      *poweroutlet.PowerOutlet
	provisioner  provisioner.BoardProvisioner
	board        BoardTarget
	pollInterval time.Duration
	logger       *zap.Logger

	mu           sync.Mutex
	desired      types.PowerState
	faultLocked  bool

	Admin *statemodel.AdminModel
	Op    *statemodel.OpModel
	Exec  *lrc.Executor

	stopPoll chan struct{}
	pollOnce sync.Once
}

// New creates a TalonLRU wrapping two outlet nodes, polling at
// DefaultPollInterval once administrative mode is ONLINE.
func New(fqdn types.FQDN, outletA, outletB *poweroutlet.PowerOutlet, prov provisioner.BoardProvisioner, board BoardTarget) *TalonLRU {
	logger := logging.ForNode(string(fqdn))
	l := &TalonLRU{
		fqdn:         fqdn,
		outletA:      outletA,
		outletB:      outletB,
		provisioner:  prov,
		board:        board,
		pollInterval: DefaultPollInterval,
		logger:       logger,
		desired:      types.PowerUnknown,
		stopPoll:     make(chan struct{}),
	}
	l.Admin = statemodel.NewAdminModel(types.AdminOffline, l)
	l.Op = statemodel.NewOpModel(l.Admin.Current)
	l.Exec = lrc.NewExecutor(string(fqdn), logger)
	return l
}

// FQDN satisfies registry.Node.
func (l *TalonLRU) FQDN() types.FQDN { return l.fqdn }

// StartCommunicating satisfies statemodel.CommCallback: it performs the
// initial consistency check of spec §4.7/S6 and starts the poll loop.
func (l *TalonLRU) StartCommunicating() error {
	l.Op.OnCommStatus(types.CommEstablished)
	a, errA := l.outletA.Poll(context.Background())
	b, errB := l.outletB.Poll(context.Background())
	if errA != nil || errB != nil {
		l.Op.OnPowerState(types.PowerUnknown)
	} else {
		if isPowered(a) != isPowered(b) {
			l.mu.Lock()
			l.faultLocked = true
			l.mu.Unlock()
			l.logger.Warn("outlet state inconsistent, entering fault", zap.String("a", string(a)), zap.String("b", string(b)))
		}
		l.evaluate(a, b)
	}
	go l.pollLoop()
	return nil
}

// StopCommunicating satisfies statemodel.CommCallback.
func (l *TalonLRU) StopCommunicating() error {
	l.pollOnce.Do(func() { close(l.stopPoll) })
	l.Op.OnCommStatus(types.CommDisabled)
	return nil
}

func isPowered(p types.PowerState) bool { return p == types.PowerOn || p == types.PowerStandby }

// evaluate applies rule 6: ON iff ≥1 outlet powered, OFF iff both
// unpowered, FAULT while the fault latched by a mixed outlet reading at
// StartCommunicating has not yet been cleared by Reset (spec §4.7, S6).
func (l *TalonLRU) evaluate(a, b types.PowerState) types.OpState {
	l.mu.Lock()
	locked := l.faultLocked
	l.mu.Unlock()
	if locked {
		l.Op.SetFault()
		return types.OpFault
	}

	switch {
	case isPowered(a) || isPowered(b):
		l.Op.OnPowerState(types.PowerOn)
		return types.OpOn
	default:
		l.Op.OnPowerState(types.PowerOff)
		return types.OpOff
	}
}

func (l *TalonLRU) pollLoop() {
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopPoll:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
			a, errA := l.outletA.Poll(ctx)
			b, errB := l.outletB.Poll(ctx)
			cancel()
			if errA != nil || errB != nil {
				l.Op.OnPowerState(types.PowerUnknown)
				continue
			}
			l.evaluate(a, b)
		}
	}
}

// On is the LRC fanning outlet-on to both outlets, provisioning the
// associated board on success, used by Controller.On's per-LRU fan-out.
func (l *TalonLRU) On() (types.CommandID, types.CommandRes) {
	l.mu.Lock()
	l.desired = types.PowerOn
	l.mu.Unlock()

	return l.Exec.Submit(func(ctx context.Context, commandID types.CommandID) types.CommandRes {
		resA := l.outletA.TurnOn(ctx)
		resB := l.outletB.TurnOn(ctx)
		if resA.Code != types.ResultOK && resB.Code != types.ResultOK {
			return types.Failed(fmt.Sprintf("both outlets failed to energize: %s / %s", resA.Message, resB.Message))
		}
		a, _ := l.outletA.Poll(ctx)
		b, _ := l.outletB.Poll(ctx)
		if op := l.evaluate(a, b); op == types.OpFault {
			return types.Failed("outlets inconsistent after On")
		}
		if l.provisioner != nil && l.board.TargetIP != "" {
			res, err := l.provisioner.ConfigureBoard(ctx, l.board.TargetIP, l.board.BitstreamPath, l.board.DeviceServerList, l.board.MasterFQDN)
			if err != nil || res != provisioner.CallOK {
				return types.Failed(fmt.Sprintf("board provisioning failed: %v", err))
			}
		}
		return types.OK("")
	}, l.isAllowed)
}

// Off is the LRC fanning outlet-off to both outlets.
func (l *TalonLRU) Off() (types.CommandID, types.CommandRes) {
	l.mu.Lock()
	l.desired = types.PowerOff
	l.mu.Unlock()

	return l.Exec.Submit(func(ctx context.Context, commandID types.CommandID) types.CommandRes {
		resA := l.outletA.TurnOff(ctx)
		resB := l.outletB.TurnOff(ctx)
		a, _ := l.outletA.Poll(ctx)
		b, _ := l.outletB.Poll(ctx)
		l.evaluate(a, b)
		if resA.Code != types.ResultOK || resB.Code != types.ResultOK {
			return types.Failed(fmt.Sprintf("outlet off did not fully confirm: %s / %s", resA.Message, resB.Message))
		}
		return types.OK("")
	}, l.isAllowed)
}

func (l *TalonLRU) isAllowed() (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.faultLocked {
		return false, "LRU is FAULT pending Reset"
	}
	return true, ""
}

// Reset is the fast command of spec's supplemented-feature list: it
// clears the FAULT entered on a startup outlet inconsistency once an
// operator has manually reconciled the outlets, re-polling once and
// re-evaluating rule 6.
func (l *TalonLRU) Reset() types.CommandRes {
	return lrc.RunFast(func() types.CommandRes {
		ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
		defer cancel()
		a, errA := l.outletA.Poll(ctx)
		b, errB := l.outletB.Poll(ctx)
		if errA != nil || errB != nil {
			return types.Failed("could not re-poll outlets for reset")
		}
		if isPowered(a) != isPowered(b) {
			return types.Failed("outlets still inconsistent, reset refused")
		}
		l.mu.Lock()
		l.faultLocked = false
		l.mu.Unlock()
		l.evaluate(a, b)
		return types.OK("outlets reconciled")
	})
}
