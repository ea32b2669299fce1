// Package slimlink implements the SlimLink logical inter-board link of
// spec §4.8: a transmitter/receiver endpoint pair configured with a
// hashed idle control word, whose health rolls up from polled
// bit-error-rate, CDR-lock and block-alignment counters.
package slimlink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skyvane-array/mcs/drivers/linkhealth"
	"github.com/skyvane-array/mcs/logging"
	"github.com/skyvane-array/mcs/lrc"
	"github.com/skyvane-array/mcs/statemodel"
	"github.com/skyvane-array/mcs/types"
)

// ConfigureDeadline is the spec §4.8 5s window for block-alignment,
// CDR-lock and idle-word agreement to be reached.
const ConfigureDeadline = 5 * time.Second

// berDegradedThreshold marks the boundary between OK and DEGRADED health;
// anything at or above berFailedThreshold, or a dropped lock, is FAILED.
const berDegradedThreshold = 1e-9
const berFailedThreshold = 1e-6

// SlimLink is one tx/rx endpoint pair.
type SlimLink struct {
	fqdn        types.FQDN
	txEndpoint  string
	rxEndpoint  string
	probe       linkhealth.Probe
	logger      *zap.Logger

	mu              sync.Mutex
	idleControlWord uint32
	health          types.HealthState

	Admin *statemodel.AdminModel
	Op    *statemodel.OpModel
	Exec  *lrc.Executor
}

// New creates a SlimLink node polling probe for health on txEndpoint and
// rxEndpoint.
func New(fqdn types.FQDN, txEndpoint, rxEndpoint string, probe linkhealth.Probe) *SlimLink {
	logger := logging.ForNode(string(fqdn))
	l := &SlimLink{
		fqdn:       fqdn,
		txEndpoint: txEndpoint,
		rxEndpoint: rxEndpoint,
		probe:      probe,
		logger:     logger,
		health:     types.HealthUnknown,
	}
	l.Admin = statemodel.NewAdminModel(types.AdminOffline, l)
	l.Op = statemodel.NewOpModel(l.Admin.Current)
	l.Exec = lrc.NewExecutor(string(fqdn), logger)
	return l
}

// FQDN satisfies registry.Node.
func (l *SlimLink) FQDN() types.FQDN { return l.fqdn }

// StartCommunicating satisfies statemodel.CommCallback.
func (l *SlimLink) StartCommunicating() error {
	l.Op.OnCommStatus(types.CommEstablished)
	l.Op.OnPowerState(types.PowerOn)
	return nil
}

// StopCommunicating satisfies statemodel.CommCallback.
func (l *SlimLink) StopCommunicating() error {
	l.Op.OnCommStatus(types.CommDisabled)
	return nil
}

// Health returns the last computed health roll-up.
func (l *SlimLink) Health() types.HealthState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.health
}

func (l *SlimLink) setHealth(h types.HealthState) {
	l.mu.Lock()
	l.health = h
	l.mu.Unlock()
}

// Configure is a long-running command: it sets the idle control word and
// polls both endpoints until block-alignment, CDR-lock and matching idle
// words are observed, or ConfigureDeadline elapses, per spec §4.8.
func (l *SlimLink) Configure(idleControlWord uint32) (types.CommandID, types.CommandRes) {
	l.mu.Lock()
	l.idleControlWord = idleControlWord
	l.mu.Unlock()

	return l.Exec.Submit(func(ctx context.Context, commandID types.CommandID) types.CommandRes {
		deadline := time.Now().Add(ConfigureDeadline)
		for {
			tx, txErr := l.probe.Poll(ctx, l.txEndpoint)
			rx, rxErr := l.probe.Poll(ctx, l.rxEndpoint)
			if txErr == nil && rxErr == nil && converged(tx, rx, idleControlWord) {
				l.setHealth(classify(worstBER(tx, rx), true))
				return types.OK(fmt.Sprintf("link converged at idle word 0x%x", idleControlWord))
			}
			if time.Now().After(deadline) {
				l.setHealth(types.HealthFailed)
				return types.Failed("link did not converge within configure deadline")
			}
			if lrc.PollCancellable(ctx, l.Exec, 200*time.Millisecond) {
				l.setHealth(types.HealthUnknown)
				return types.CommandRes{Code: types.ResultAborted, Message: "configure aborted"}
			}
		}
	}, func() (bool, string) {
		if l.Admin.Current() != types.AdminOnline {
			return false, "admin mode is not ONLINE"
		}
		return true, ""
	})
}

func converged(tx, rx linkhealth.Reading, want uint32) bool {
	return tx.Lock == linkhealth.LockLocked && rx.Lock == linkhealth.LockLocked &&
		tx.BlockAligned && rx.BlockAligned &&
		tx.IdleWord == want && rx.IdleWord == want
}

func worstBER(tx, rx linkhealth.Reading) float64 {
	if tx.BitErrorRate > rx.BitErrorRate {
		return tx.BitErrorRate
	}
	return rx.BitErrorRate
}

func classify(ber float64, locked bool) types.HealthState {
	if !locked {
		return types.HealthFailed
	}
	switch {
	case ber >= berFailedThreshold:
		return types.HealthFailed
	case ber >= berDegradedThreshold:
		return types.HealthDegraded
	default:
		return types.HealthOK
	}
}

// Sample re-polls both endpoints and refreshes the health roll-up,
// called on the ongoing BER-sampling cadence described in spec §4.8.
func (l *SlimLink) Sample(ctx context.Context) types.HealthState {
	tx, txErr := l.probe.Poll(ctx, l.txEndpoint)
	rx, rxErr := l.probe.Poll(ctx, l.rxEndpoint)
	if txErr != nil || rxErr != nil {
		l.setHealth(types.HealthUnknown)
		return types.HealthUnknown
	}
	locked := tx.Lock == linkhealth.LockLocked && rx.Lock == linkhealth.LockLocked && tx.BlockAligned && rx.BlockAligned
	h := classify(worstBER(tx, rx), locked)
	l.setHealth(h)
	return h
}

// Aggregate rolls up a parent mesh node's health from its member links,
// worst wins, per spec §4.8.
func Aggregate(links ...types.HealthState) types.HealthState {
	worst := types.HealthOK
	rank := map[types.HealthState]int{
		types.HealthOK:       0,
		types.HealthDegraded: 1,
		types.HealthUnknown:  2,
		types.HealthFailed:   3,
	}
	for _, h := range links {
		if rank[h] > rank[worst] {
			worst = h
		}
	}
	if len(links) == 0 {
		return types.HealthUnknown
	}
	return worst
}
