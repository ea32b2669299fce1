package fsp

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/skyvane-array/mcs/logging"
	"github.com/skyvane-array/mcs/lrc"
	"github.com/skyvane-array/mcs/model"
	"github.com/skyvane-array/mcs/statemodel"
	"github.com/skyvane-array/mcs/types"
)

// FuncModeNode is the command vocabulary every (FSP, subarray)
// function-mode sub-node implements, per spec §4.6: the same vocabulary
// as a VCC, dispatched by the FSP parent over the Corr/PssBf/PstBf/Vlbi
// sum type.
type FuncModeNode interface {
	FQDN() types.FQDN
	Mode() types.FunctionMode
	ConfigureScan(cfg model.FSPConfig) (types.CommandID, types.CommandRes)
	Scan(scanID int) (types.CommandID, types.CommandRes)
	EndScan() (types.CommandID, types.CommandRes)
	Abort() types.CommandRes
	ObsReset() types.CommandRes
	ObsState() types.ObsState
	Executor() *lrc.Executor
}

// funcModeBase holds the behaviour shared by every function-mode
// sub-node; concrete variants embed it and add mode-specific fields.
type funcModeBase struct {
	fqdn   types.FQDN
	mode   types.FunctionMode
	logger *zap.Logger

	mu     sync.Mutex
	cfg    model.FSPConfig

	Obs  *statemodel.ObsModel
	Exec *lrc.Executor
}

func newFuncModeBase(fqdn types.FQDN, mode types.FunctionMode) funcModeBase {
	logger := logging.ForNode(string(fqdn))
	return funcModeBase{
		fqdn:   fqdn,
		mode:   mode,
		logger: logger,
		Obs:    statemodel.NewObsModel(false),
		Exec:   lrc.NewExecutor(string(fqdn), logger),
	}
}

func (b *funcModeBase) FQDN() types.FQDN             { return b.fqdn }
func (b *funcModeBase) Mode() types.FunctionMode     { return b.mode }
func (b *funcModeBase) ObsState() types.ObsState     { return b.Obs.Current() }
func (b *funcModeBase) Executor() *lrc.Executor      { return b.Exec }

// ConfigureScan validates and stores the per-FSP scan configuration,
// transitioning IDLE/READY -> CONFIGURING -> READY.
func (b *funcModeBase) ConfigureScan(cfg model.FSPConfig) (types.CommandID, types.CommandRes) {
	return b.Exec.Submit(func(ctx context.Context, commandID types.CommandID) types.CommandRes {
		if err := cfg.Validate(); err != nil {
			return types.Failed(err.Error())
		}
		if _, err := b.Obs.Transition(statemodel.EvConfigureScan); err != nil {
			return types.Failed(err.Error())
		}
		b.mu.Lock()
		b.cfg = cfg
		b.mu.Unlock()
		if _, err := b.Obs.Transition(statemodel.EvConfigureDone); err != nil {
			_, _ = b.Obs.Transition(statemodel.EvConfigureFailed)
			return types.Failed(err.Error())
		}
		return types.OK(fmt.Sprintf("fsp %s configured for slice %d", b.mode, cfg.FrequencySliceID))
	}, func() (bool, string) {
		switch b.Obs.Current() {
		case types.ObsIdle, types.ObsReady:
			return true, ""
		default:
			return false, "function-mode sub-node is not in IDLE or READY"
		}
	})
}

func (b *funcModeBase) Scan(scanID int) (types.CommandID, types.CommandRes) {
	return b.Exec.Submit(func(ctx context.Context, commandID types.CommandID) types.CommandRes {
		if _, err := b.Obs.Transition(statemodel.EvScan); err != nil {
			return types.Failed(err.Error())
		}
		return types.OK(fmt.Sprintf("scanning %d", scanID))
	}, func() (bool, string) { return true, "" })
}

func (b *funcModeBase) EndScan() (types.CommandID, types.CommandRes) {
	return b.Exec.Submit(func(ctx context.Context, commandID types.CommandID) types.CommandRes {
		if _, err := b.Obs.Transition(statemodel.EvEndScan); err != nil {
			return types.Failed(err.Error())
		}
		return types.OK("")
	}, func() (bool, string) { return true, "" })
}

func (b *funcModeBase) Abort() types.CommandRes {
	b.Exec.RequestCancel()
	return lrc.RunFast(func() types.CommandRes {
		if _, err := b.Obs.Transition(statemodel.EvAbort); err != nil {
			b.Obs.Force(types.ObsAborting)
		}
		_, _ = b.Obs.Transition(statemodel.EvAborted)
		b.Exec.ResetCancel()
		return types.OK("")
	})
}

func (b *funcModeBase) ObsReset() types.CommandRes {
	return lrc.RunFast(func() types.CommandRes {
		if _, err := b.Obs.Transition(statemodel.EvObsReset); err != nil {
			return types.Failed(err.Error())
		}
		b.mu.Lock()
		b.cfg = model.FSPConfig{}
		b.mu.Unlock()
		_, _ = b.Obs.Transition(statemodel.EvResetDone)
		return types.OK("")
	})
}

// CorrNode is the CORR function-mode sub-node.
type CorrNode struct{ funcModeBase }

// NewCorrNode creates a CORR sub-node.
func NewCorrNode(fqdn types.FQDN) *CorrNode {
	return &CorrNode{funcModeBase: newFuncModeBase(fqdn, types.FuncModeCorr)}
}

// PssBfNode is the PSS-BF (pulsar-search beamforming) function-mode
// sub-node; it additionally tracks the search windows named in the scan
// configuration's cbf.search_window[] block.
type PssBfNode struct {
	funcModeBase
	mu            sync.Mutex
	searchWindows []model.SearchWindow
}

// NewPssBfNode creates a PSS-BF sub-node.
func NewPssBfNode(fqdn types.FQDN) *PssBfNode {
	return &PssBfNode{funcModeBase: newFuncModeBase(fqdn, types.FuncModePssBf)}
}

// SetSearchWindows records the search windows this sub-node searches,
// applied by the FSP parent alongside ConfigureScan.
func (p *PssBfNode) SetSearchWindows(windows []model.SearchWindow) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.searchWindows = windows
}

// PstBfNode is the PST-BF (pulsar-timing beamforming) function-mode
// sub-node; it tracks the timing-beam-weights subscription point.
type PstBfNode struct {
	funcModeBase
	mu                       sync.Mutex
	timingBeamWeightsSubFQDN string
}

// NewPstBfNode creates a PST-BF sub-node.
func NewPstBfNode(fqdn types.FQDN) *PstBfNode {
	return &PstBfNode{funcModeBase: newFuncModeBase(fqdn, types.FuncModePstBf)}
}

// SetTimingBeamWeightsSubscription records the subscription point FQDN
// for this sub-node's timing beam weights.
func (p *PstBfNode) SetTimingBeamWeightsSubscription(fqdn string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timingBeamWeightsSubFQDN = fqdn
}

// VlbiNode is the VLBI function-mode sub-node.
type VlbiNode struct{ funcModeBase }

// NewVlbiNode creates a VLBI sub-node.
func NewVlbiNode(fqdn types.FQDN) *VlbiNode {
	return &VlbiNode{funcModeBase: newFuncModeBase(fqdn, types.FuncModeVlbi)}
}

var (
	_ FuncModeNode = (*CorrNode)(nil)
	_ FuncModeNode = (*PssBfNode)(nil)
	_ FuncModeNode = (*PstBfNode)(nil)
	_ FuncModeNode = (*VlbiNode)(nil)
)
