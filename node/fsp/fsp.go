// Package fsp implements the FSP (frequency-slice processor) node of
// spec §4.6: a multiplexer recording subarray-id set membership and a
// shared function mode, dispatching to one function-mode sub-node per
// (FSP, subarray) pair.
package fsp

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/skyvane-array/mcs/logging"
	"github.com/skyvane-array/mcs/mcserrors"
	"github.com/skyvane-array/mcs/statemodel"
	"github.com/skyvane-array/mcs/types"
)

// FSP is one frequency-slice processor from the fixed pool (typically 4).
type FSP struct {
	fqdn   types.FQDN
	logger *zap.Logger

	mu           sync.Mutex
	mode         types.FunctionMode
	usingSubarrays map[int]bool
	subNodes       map[int]FuncModeNode // subarray id -> sub-node

	Admin *statemodel.AdminModel
	Op    *statemodel.OpModel
}

// New creates an FSP starting IDLE with no using subarrays.
func New(fqdn types.FQDN) *FSP {
	logger := logging.ForNode(string(fqdn))
	f := &FSP{
		fqdn:           fqdn,
		logger:         logger,
		mode:           types.FuncModeIdle,
		usingSubarrays: map[int]bool{},
		subNodes:       map[int]FuncModeNode{},
	}
	f.Admin = statemodel.NewAdminModel(types.AdminOffline, f)
	f.Op = statemodel.NewOpModel(f.Admin.Current)
	return f
}

// FQDN satisfies registry.Node.
func (f *FSP) FQDN() types.FQDN { return f.fqdn }

// StartCommunicating satisfies statemodel.CommCallback.
func (f *FSP) StartCommunicating() error {
	f.Op.OnCommStatus(types.CommEstablished)
	f.Op.OnPowerState(types.PowerOn)
	return nil
}

// StopCommunicating satisfies statemodel.CommCallback.
func (f *FSP) StopCommunicating() error {
	f.Op.OnCommStatus(types.CommDisabled)
	return nil
}

// Mode returns the FSP's current shared function mode.
func (f *FSP) Mode() types.FunctionMode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}

// UsingSubarrays returns the set of subarray ids currently using this FSP.
func (f *FSP) UsingSubarrays() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, 0, len(f.usingSubarrays))
	for id := range f.usingSubarrays {
		out = append(out, id)
	}
	return out
}

// SubNodeFactory builds the function-mode sub-node for an
// (FSP, subarray) pair, chosen by ConfigureScan per the requested mode.
type SubNodeFactory func(fqdn types.FQDN, mode types.FunctionMode) FuncModeNode

// DefaultSubNodeFactory dispatches to the Corr/PssBf/PstBf/Vlbi
// constructors by function mode.
func DefaultSubNodeFactory(fqdn types.FQDN, mode types.FunctionMode) FuncModeNode {
	switch mode {
	case types.FuncModeCorr:
		return NewCorrNode(fqdn)
	case types.FuncModePssBf:
		return NewPssBfNode(fqdn)
	case types.FuncModePstBf:
		return NewPstBfNode(fqdn)
	case types.FuncModeVlbi:
		return NewVlbiNode(fqdn)
	default:
		return NewCorrNode(fqdn)
	}
}

// Acquire assigns this FSP to subarrayID in the requested mode, per spec
// §4.4 step 2: if the FSP is in a different mode used by another
// subarray, fail with ConfigurationConflict; otherwise join the
// using-subarray set, setting the mode if the FSP was IDLE, and create
// (or reuse) the (FSP, subarray) function-mode sub-node.
func (f *FSP) Acquire(subarrayID int, mode types.FunctionMode, subNodeFQDN types.FQDN, factory SubNodeFactory) (FuncModeNode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.usingSubarrays) > 0 && f.mode != mode {
		return nil, &mcserrors.ConfigurationConflict{
			Resource: string(f.fqdn),
			Reason:   fmt.Sprintf("fsp is in mode %s, requested %s", f.mode, mode),
		}
	}
	f.mode = mode
	f.usingSubarrays[subarrayID] = true

	if node, ok := f.subNodes[subarrayID]; ok {
		return node, nil
	}
	if factory == nil {
		factory = DefaultSubNodeFactory
	}
	node := factory(subNodeFQDN, mode)
	f.subNodes[subarrayID] = node
	return node, nil
}

// Release removes subarrayID from the using-subarray set, resetting the
// FSP's function mode to IDLE if it was the last subarray (spec §4.6).
func (f *FSP) Release(subarrayID int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.usingSubarrays, subarrayID)
	delete(f.subNodes, subarrayID)
	if len(f.usingSubarrays) == 0 {
		f.mode = types.FuncModeIdle
	}
}

// SubNode returns the function-mode sub-node for subarrayID, if any.
func (f *FSP) SubNode(subarrayID int) (FuncModeNode, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.subNodes[subarrayID]
	return n, ok
}
