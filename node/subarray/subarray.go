// Package subarray implements the Subarray node of spec §4.4: the
// central orchestrator that holds a bounded set of assigned receptors, a
// committed scan configuration, and fans long-running commands out to
// VCC and FSP function-mode sub-nodes via nested blocking sets.
package subarray

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skyvane-array/mcs/drivers/subscription"
	"github.com/skyvane-array/mcs/logging"
	"github.com/skyvane-array/mcs/lrc"
	"github.com/skyvane-array/mcs/mcserrors"
	"github.com/skyvane-array/mcs/model"
	"github.com/skyvane-array/mcs/node/fsp"
	"github.com/skyvane-array/mcs/node/vcc"
	"github.com/skyvane-array/mcs/statemodel"
	"github.com/skyvane-array/mcs/types"
)

// ConfigureTimeout is the spec §8/S4 60s deadline on ConfigureScan's
// blocking-set wait.
const ConfigureTimeout = 60 * time.Second

// ScanTimeout bounds the Scan fan-out's blocking-set wait.
const ScanTimeout = 10 * time.Second

// AbortDeadline is the spec §4.4/§5 30s Abort escape hatch.
const AbortDeadline = 30 * time.Second

// VCCLookup resolves a channelizer id to its VCC node handle.
type VCCLookup func(vccID int) (*vcc.VCC, bool)

// FSPLookup resolves an FSP id to its node handle.
type FSPLookup func(fspID int) (*fsp.FSP, bool)

// Subarray is one logical aggregation of receptors.
type Subarray struct {
	fqdn       types.FQDN
	subarrayID int
	vccLookup  VCCLookup
	fspLookup  FSPLookup
	sysParam   func() *model.SysParam
	sink       subscription.Sink
	logger     *zap.Logger

	allocMu sync.Locker // Controller's receptor-allocation mutex, spec §5

	mu                 sync.Mutex
	assignedReceptors  map[string]bool
	assignedVCCs       map[string]*vcc.VCC          // receptor id -> VCC
	assignedFSPs       map[int]*fsp.FSP             // fsp id -> FSP
	fspSubNodes        map[int]fsp.FuncModeNode     // fsp id -> sub-node
	committed          *model.ScanConfig
	currentScan        int
	lastCompletedScan  int
	subscriptionHandles map[string]subscription.Handle

	Admin *statemodel.AdminModel
	Op    *statemodel.OpModel
	Obs   *statemodel.ObsModel
	Exec  *lrc.Executor
}

// New creates an empty, EMPTY-state subarray.
func New(fqdn types.FQDN, subarrayID int, vccLookup VCCLookup, fspLookup FSPLookup, sysParam func() *model.SysParam, sink subscription.Sink) *Subarray {
	logger := logging.ForNode(string(fqdn))
	s := &Subarray{
		fqdn:                fqdn,
		subarrayID:          subarrayID,
		vccLookup:           vccLookup,
		fspLookup:           fspLookup,
		sysParam:            sysParam,
		sink:                sink,
		logger:              logger,
		assignedReceptors:   map[string]bool{},
		assignedVCCs:        map[string]*vcc.VCC{},
		assignedFSPs:        map[int]*fsp.FSP{},
		fspSubNodes:         map[int]fsp.FuncModeNode{},
		subscriptionHandles: map[string]subscription.Handle{},
		allocMu:             &sync.Mutex{},
	}
	s.Admin = statemodel.NewAdminModel(types.AdminOffline, s)
	s.Op = statemodel.NewOpModel(s.Admin.Current)
	s.Obs = statemodel.NewObsModel(true)
	s.Exec = lrc.NewExecutor(string(fqdn), logger)
	return s
}

// FQDN satisfies registry.Node.
func (s *Subarray) FQDN() types.FQDN { return s.fqdn }

// StartCommunicating satisfies statemodel.CommCallback.
func (s *Subarray) StartCommunicating() error {
	s.Op.OnCommStatus(types.CommEstablished)
	s.Op.OnPowerState(types.PowerOn)
	return nil
}

// StopCommunicating satisfies statemodel.CommCallback.
func (s *Subarray) StopCommunicating() error {
	s.Op.OnCommStatus(types.CommDisabled)
	return nil
}

// SetAllocationMutex installs the Controller's shared receptor-allocation
// mutex, held for the duration of AddReceptors/RemoveReceptors critical
// sections per spec §5. Must be called before StartCommunicating; a
// standalone Subarray defaults to a private mutex.
func (s *Subarray) SetAllocationMutex(mu sync.Locker) {
	s.allocMu = mu
}

// AssignedReceptors returns the currently assigned receptor ids.
func (s *Subarray) AssignedReceptors() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.assignedReceptors))
	for r := range s.assignedReceptors {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// AddReceptors is the LRC of spec §4.4: resolves each receptor's VCC via
// the Controller's sysParam mapping, online's that VCC, and assigns it.
// Fails atomically: on any lookup or conflict failure, no receptor in the
// input list remains assigned.
func (s *Subarray) AddReceptors(receptorIDs []string) (types.CommandID, types.CommandRes) {
	return s.Exec.Submit(func(ctx context.Context, commandID types.CommandID) types.CommandRes {
		if len(receptorIDs) == 0 {
			return types.OK("no-op")
		}
		s.allocMu.Lock()
		defer s.allocMu.Unlock()

		if _, err := s.Obs.Transition(statemodel.EvAddReceptors); err != nil {
			return types.Failed(err.Error())
		}

		sp := s.sysParam()
		resolved := make(map[string]*vcc.VCC, len(receptorIDs))
		for _, r := range receptorIDs {
			s.mu.Lock()
			alreadyOurs := s.assignedReceptors[r]
			s.mu.Unlock()
			if alreadyOurs {
				s.rollbackResourcing()
				return types.Failed(fmt.Sprintf("receptor %s already assigned to this subarray", r))
			}
			vccID, ok := sp.VCCFor(r)
			if !ok {
				s.rollbackResourcing()
				return types.Failed(fmt.Sprintf("receptor %s has no sysParam mapping", r))
			}
			vccNode, ok := s.vccLookup(vccID)
			if !ok {
				s.rollbackResourcing()
				return types.Failed(fmt.Sprintf("receptor %s: vcc %d not found", r, vccID))
			}
			if current := vccNode.SubarrayID(); current != 0 {
				s.rollbackResourcing()
				err := &mcserrors.ConfigurationConflict{Resource: r, Reason: fmt.Sprintf("already assigned to subarray %d", current)}
				return types.Failed(err.Error())
			}
			resolved[r] = vccNode
		}

		for r, vccNode := range resolved {
			if err := vccNode.Assign(s.subarrayID); err != nil {
				s.rollbackResourcing()
				return types.Failed(err.Error())
			}
			s.mu.Lock()
			s.assignedReceptors[r] = true
			s.assignedVCCs[r] = vccNode
			s.mu.Unlock()
		}

		_, _ = s.Obs.Transition(statemodel.EvResourceToIdle)
		return types.OK(fmt.Sprintf("%d receptors assigned", len(resolved)))
	}, func() (bool, string) {
		switch s.Obs.Current() {
		case types.ObsEmpty, types.ObsIdle:
			return true, ""
		default:
			return false, "subarray is not in EMPTY or IDLE"
		}
	})
}

func (s *Subarray) rollbackResourcing() {
	s.mu.Lock()
	empty := len(s.assignedReceptors) == 0
	s.mu.Unlock()
	if empty {
		_, _ = s.Obs.Transition(statemodel.EvResourceToEmpty)
	} else {
		_, _ = s.Obs.Transition(statemodel.EvResourceToIdle)
	}
}

// RemoveReceptors removes the given receptor ids; RemoveAllReceptors
// removes every assigned receptor. Both require state IDLE.
func (s *Subarray) RemoveReceptors(receptorIDs []string) (types.CommandID, types.CommandRes) {
	return s.Exec.Submit(func(ctx context.Context, commandID types.CommandID) types.CommandRes {
		if len(receptorIDs) == 0 {
			return types.OK("no-op")
		}
		s.allocMu.Lock()
		defer s.allocMu.Unlock()

		if _, err := s.Obs.Transition(statemodel.EvRemoveReceptors); err != nil {
			return types.Failed(err.Error())
		}
		for _, r := range receptorIDs {
			s.mu.Lock()
			vccNode, ok := s.assignedVCCs[r]
			s.mu.Unlock()
			if !ok {
				continue
			}
			_ = vccNode.Unassign()
			s.mu.Lock()
			delete(s.assignedReceptors, r)
			delete(s.assignedVCCs, r)
			s.mu.Unlock()
		}
		s.rollbackResourcing()
		return types.OK("")
	}, func() (bool, string) {
		if s.Obs.Current() != types.ObsIdle {
			return false, "subarray is not IDLE"
		}
		return true, ""
	})
}

// RemoveAllReceptors removes every assigned receptor.
func (s *Subarray) RemoveAllReceptors() (types.CommandID, types.CommandRes) {
	return s.RemoveReceptors(s.AssignedReceptors())
}

// fspModeFor returns the configured function mode unchanged; it has no
// default (the mode is already validated by model.FSPConfig.Validate).
func fspModeFor(cfg model.FSPConfig) types.FunctionMode { return cfg.FunctionMode }

// ConfigureScan is the central orchestrator LRC of spec §4.4.
func (s *Subarray) ConfigureScan(jsonPayload string) (types.CommandID, types.CommandRes) {
	return s.Exec.Submit(func(ctx context.Context, commandID types.CommandID) types.CommandRes {
		var cfg model.ScanConfig
		if err := json.Unmarshal([]byte(jsonPayload), &cfg); err != nil {
			return types.Failed(fmt.Sprintf("malformed scan configuration: %v", err))
		}
		if err := cfg.Validate(); err != nil {
			return types.Failed(err.Error())
		}

		if _, err := s.Obs.Transition(statemodel.EvConfigureScan); err != nil {
			return types.Failed(err.Error())
		}

		acquiredFSPs := map[int]*fsp.FSP{}
		acquiredSubNodes := map[int]fsp.FuncModeNode{}
		fail := func(reason string) types.CommandRes {
			s.cleanupConfigure(acquiredFSPs)
			_, _ = s.Obs.Transition(statemodel.EvConfigureFailed)
			return types.Failed(reason)
		}

		// Step 2: resolve and acquire FSPs.
		for _, fspCfg := range cfg.CBF.FSP {
			fspNode, ok := s.fspLookup(fspCfg.FSPID)
			if !ok {
				return fail(fmt.Sprintf("fsp %d not found", fspCfg.FSPID))
			}
			subNodeFQDN := types.FQDN(fmt.Sprintf("%s/funcmode/%d", s.fqdn, fspCfg.FSPID))
			node, err := fspNode.Acquire(s.subarrayID, fspModeFor(fspCfg), subNodeFQDN, nil)
			if err != nil {
				return fail(err.Error())
			}
			acquiredFSPs[fspCfg.FSPID] = fspNode
			acquiredSubNodes[fspCfg.FSPID] = node
		}

		blocking := lrc.NewBlockingSet()
		var unsubs []func()
		defer func() {
			for _, u := range unsubs {
				u()
			}
		}()

		// Step 3: fan out ConfigureBand to assigned VCCs.
		s.mu.Lock()
		vccs := make(map[string]*vcc.VCC, len(s.assignedVCCs))
		for r, v := range s.assignedVCCs {
			vccs[r] = v
		}
		s.mu.Unlock()
		for _, v := range vccs {
			unsub := blocking.Track(v.Exec)
			id, res := v.ConfigureBand(vcc.BandParams{Band: cfg.Common.FrequencyBand, Tuning: cfg.Common.Band5Tuning})
			if res.Code == types.ResultQueued {
				blocking.Add(id)
				unsubs = append(unsubs, unsub)
			} else {
				unsub()
			}
		}

		// Step 4: fan out ConfigureScan to FSP function-mode sub-nodes.
		for _, fspCfg := range cfg.CBF.FSP {
			node := acquiredSubNodes[fspCfg.FSPID]
			unsub := blocking.Track(node.Executor())
			id, res := node.ConfigureScan(fspCfg)
			if res.Code == types.ResultQueued {
				blocking.Add(id)
				unsubs = append(unsubs, unsub)
			} else {
				unsub()
			}
		}

		// Step 5: wait on the blocking set.
		if err := blocking.Wait(ConfigureTimeout); err != nil {
			return fail(fmt.Sprintf("configure timed out: %v", err))
		}

		// Step 6: subscribe to external subscription points.
		if s.sink != nil {
			for name, subFQDN := range cfg.RequiredSubscriptionPoints() {
				handle, err := s.sink.Subscribe(ctx, subFQDN, s.subscriptionCallback(name))
				if err != nil {
					s.logger.Warn("subscription failed", zap.String("point", name), zap.Error(err))
					continue
				}
				s.mu.Lock()
				s.subscriptionHandles[name] = handle
				s.mu.Unlock()
			}
		}

		// Step 7: commit and transition to READY.
		s.mu.Lock()
		s.committed = &cfg
		s.assignedFSPs = acquiredFSPs
		s.fspSubNodes = acquiredSubNodes
		s.mu.Unlock()

		if _, err := s.Obs.Transition(statemodel.EvConfigureDone); err != nil {
			return fail(err.Error())
		}
		return types.OK("configured")
	}, func() (bool, string) {
		switch s.Obs.Current() {
		case types.ObsIdle, types.ObsReady:
			return true, ""
		default:
			return false, "subarray is not in IDLE or READY"
		}
	})
}

func (s *Subarray) subscriptionCallback(point string) subscription.Callback {
	return func(u subscription.Update) {
		if point != "delay_model" {
			return
		}
		s.mu.Lock()
		vccs := make([]*vcc.VCC, 0, len(s.assignedVCCs))
		for _, v := range s.assignedVCCs {
			vccs = append(vccs, v)
		}
		s.mu.Unlock()
		var coeffs []float64
		if err := json.Unmarshal([]byte(u.Value), &coeffs); err != nil {
			s.logger.Warn("dropping malformed delay-model update", zap.Error(err))
			return
		}
		for _, v := range vccs {
			_ = v.UpdateDelayModel(coeffs)
		}
	}
}

func (s *Subarray) cleanupConfigure(acquired map[int]*fsp.FSP) {
	for _, f := range acquired {
		f.Release(s.subarrayID)
	}
	s.mu.Lock()
	vccs := make([]*vcc.VCC, 0, len(s.assignedVCCs))
	for _, v := range s.assignedVCCs {
		vccs = append(vccs, v)
	}
	s.mu.Unlock()
	for _, v := range vccs {
		_ = v.ObsReset()
	}
}

// Scan is the LRC of spec §4.4: fans Scan(id) out to assigned VCCs and
// FSP sub-nodes.
func (s *Subarray) Scan(scanID int) (types.CommandID, types.CommandRes) {
	return s.Exec.Submit(func(ctx context.Context, commandID types.CommandID) types.CommandRes {
		s.mu.Lock()
		previous := s.lastCompletedScan
		s.mu.Unlock()
		if scanID == previous {
			return types.Failed(fmt.Sprintf("scan id %d repeats the previously completed scan", scanID))
		}
		s.mu.Lock()
		s.currentScan = scanID
		s.mu.Unlock()

		blocking := lrc.NewBlockingSet()
		var unsubs []func()
		defer func() {
			for _, u := range unsubs {
				u()
			}
		}()

		s.mu.Lock()
		vccs := make([]*vcc.VCC, 0, len(s.assignedVCCs))
		for _, v := range s.assignedVCCs {
			vccs = append(vccs, v)
		}
		subNodes := make([]fsp.FuncModeNode, 0, len(s.fspSubNodes))
		for _, n := range s.fspSubNodes {
			subNodes = append(subNodes, n)
		}
		s.mu.Unlock()

		for _, v := range vccs {
			unsub := blocking.Track(v.Exec)
			id, res := v.Scan(scanID)
			if res.Code == types.ResultQueued {
				blocking.Add(id)
				unsubs = append(unsubs, unsub)
			} else {
				unsub()
			}
		}
		for _, n := range subNodes {
			unsub := blocking.Track(n.Executor())
			id, res := n.Scan(scanID)
			if res.Code == types.ResultQueued {
				blocking.Add(id)
				unsubs = append(unsubs, unsub)
			} else {
				unsub()
			}
		}

		if err := blocking.Wait(ScanTimeout); err != nil {
			_, _ = s.Obs.Transition(statemodel.EvFault)
			return types.Failed(fmt.Sprintf("scan fan-out timed out: %v", err))
		}
		if _, err := s.Obs.Transition(statemodel.EvScan); err != nil {
			return types.Failed(err.Error())
		}
		return types.OK("")
	}, func() (bool, string) {
		if s.Obs.Current() != types.ObsReady {
			return false, "subarray is not READY"
		}
		return true, ""
	})
}

// EndScan fans EndScan out to children and returns to READY regardless of
// individual child errors, per spec §4.4.
func (s *Subarray) EndScan() (types.CommandID, types.CommandRes) {
	return s.Exec.Submit(func(ctx context.Context, commandID types.CommandID) types.CommandRes {
		s.mu.Lock()
		scanID := s.currentScan
		vccs := make([]*vcc.VCC, 0, len(s.assignedVCCs))
		for _, v := range s.assignedVCCs {
			vccs = append(vccs, v)
		}
		subNodes := make([]fsp.FuncModeNode, 0, len(s.fspSubNodes))
		for _, n := range s.fspSubNodes {
			subNodes = append(subNodes, n)
		}
		s.mu.Unlock()

		var errs []string
		for _, v := range vccs {
			if _, res := v.EndScan(); res.Code != types.ResultQueued {
				errs = append(errs, res.Message)
			}
		}
		for _, n := range subNodes {
			if _, res := n.EndScan(); res.Code != types.ResultQueued {
				errs = append(errs, res.Message)
			}
		}

		if _, err := s.Obs.Transition(statemodel.EvEndScan); err != nil {
			return types.Failed(err.Error())
		}
		s.mu.Lock()
		s.lastCompletedScan = scanID
		s.mu.Unlock()
		if len(errs) > 0 {
			return types.OK(fmt.Sprintf("ended with child errors: %v", errs))
		}
		return types.OK("")
	}, func() (bool, string) {
		if s.Obs.Current() != types.ObsScanning {
			return false, "subarray is not SCANNING"
		}
		return true, ""
	})
}

// Abort cancels any in-flight configuration and fans Abort out to
// children, transitioning to ABORTED within AbortDeadline regardless of
// child responsiveness, per spec §4.4/§5.
func (s *Subarray) Abort() types.CommandRes {
	s.Exec.RequestCancel()

	s.mu.Lock()
	vccs := make([]*vcc.VCC, 0, len(s.assignedVCCs))
	for _, v := range s.assignedVCCs {
		vccs = append(vccs, v)
	}
	subNodes := make([]fsp.FuncModeNode, 0, len(s.fspSubNodes))
	for _, n := range s.fspSubNodes {
		subNodes = append(subNodes, n)
	}
	s.mu.Unlock()

	if _, err := s.Obs.Transition(statemodel.EvAbort); err != nil {
		s.Obs.Force(types.ObsAborting)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for _, v := range vccs {
			wg.Add(1)
			go func(v *vcc.VCC) { defer wg.Done(); v.Abort() }(v)
		}
		for _, n := range subNodes {
			wg.Add(1)
			go func(n fsp.FuncModeNode) { defer wg.Done(); n.Abort() }(n)
		}
		wg.Wait()
	}()

	select {
	case <-done:
	case <-time.After(AbortDeadline):
		s.logger.Warn("abort deadline exceeded, forcing ABORTED with unresponsive children")
	}

	_, _ = s.Obs.Transition(statemodel.EvAborted)
	s.Exec.ResetCancel()
	return types.OK("")
}

// ObsReset clears the committed scan configuration and releases acquired
// FSPs, preserving assigned receptors, per the round-trip law of spec §8.
func (s *Subarray) ObsReset() types.CommandRes {
	return lrc.RunFast(func() types.CommandRes {
		if _, err := s.Obs.Transition(statemodel.EvObsReset); err != nil {
			return types.Failed(err.Error())
		}
		s.mu.Lock()
		fsps := s.assignedFSPs
		s.committed = nil
		s.assignedFSPs = map[int]*fsp.FSP{}
		s.fspSubNodes = map[int]fsp.FuncModeNode{}
		s.mu.Unlock()
		for _, f := range fsps {
			f.Release(s.subarrayID)
		}
		_, _ = s.Obs.Transition(statemodel.EvResetDone)
		return types.OK("")
	})
}

// Restart additionally releases every assigned receptor, returning the
// subarray to EMPTY.
func (s *Subarray) Restart() types.CommandRes {
	return lrc.RunFast(func() types.CommandRes {
		if _, err := s.Obs.Transition(statemodel.EvRestart); err != nil {
			return types.Failed(err.Error())
		}
		s.mu.Lock()
		fsps := s.assignedFSPs
		vccs := s.assignedVCCs
		s.committed = nil
		s.assignedFSPs = map[int]*fsp.FSP{}
		s.fspSubNodes = map[int]fsp.FuncModeNode{}
		s.assignedVCCs = map[string]*vcc.VCC{}
		s.assignedReceptors = map[string]bool{}
		s.mu.Unlock()
		for _, f := range fsps {
			f.Release(s.subarrayID)
		}
		for _, v := range vccs {
			_ = v.Unassign()
		}
		_, _ = s.Obs.Transition(statemodel.EvRestartDone)
		return types.OK("")
	})
}

// CommittedConfig returns the currently committed scan configuration, or
// nil if none is committed.
func (s *Subarray) CommittedConfig() *model.ScanConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed
}
