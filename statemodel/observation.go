package statemodel

import (
	"sync"

	"github.com/skyvane-array/mcs/mcserrors"
	"github.com/skyvane-array/mcs/types"
)

// ObsEvent names an observation-model transition trigger. Non-subarray
// observing nodes (VCC, FSP function-mode sub-nodes) never see
// EvAddReceptors/EvRemoveReceptors/EvRestart-to-EMPTY and simply have no
// EMPTY/RESOURCING states reachable.
type ObsEvent string

const (
	EvAddReceptors    ObsEvent = "AddReceptors"
	EvRemoveReceptors ObsEvent = "RemoveReceptors"
	EvResourceToIdle  ObsEvent = "ResourceToIdle"
	EvResourceToEmpty ObsEvent = "ResourceToEmpty"
	EvConfigureScan   ObsEvent = "ConfigureScan"
	EvConfigureDone   ObsEvent = "ConfigureDone"
	EvConfigureFailed ObsEvent = "ConfigureFailed"
	EvScan            ObsEvent = "Scan"
	EvEndScan         ObsEvent = "EndScan"
	EvAbort           ObsEvent = "Abort"
	EvAborted         ObsEvent = "Aborted"
	EvObsReset        ObsEvent = "ObsReset"
	EvResetDone       ObsEvent = "ResetDone"
	EvRestart         ObsEvent = "Restart"
	EvRestartDone     ObsEvent = "RestartDone"
	EvFault           ObsEvent = "Fault"
)

// transition is one row of the allow-list: from state + event -> to state.
type transition struct {
	from  types.ObsState
	event ObsEvent
	to    types.ObsState
}

// subarrayTable is the full table in spec §4.4, including the
// RESOURCING/EMPTY states unique to subarrays.
var subarrayTable = []transition{
	{types.ObsEmpty, EvAddReceptors, types.ObsResourcing},
	{types.ObsResourcing, EvResourceToIdle, types.ObsIdle},
	{types.ObsIdle, EvAddReceptors, types.ObsResourcing},
	{types.ObsIdle, EvRemoveReceptors, types.ObsResourcing},
	{types.ObsResourcing, EvResourceToEmpty, types.ObsEmpty},
	{types.ObsIdle, EvConfigureScan, types.ObsConfiguring},
	{types.ObsReady, EvConfigureScan, types.ObsConfiguring},
	{types.ObsConfiguring, EvConfigureDone, types.ObsReady},
	{types.ObsConfiguring, EvConfigureFailed, types.ObsFault},
	{types.ObsReady, EvScan, types.ObsScanning},
	{types.ObsScanning, EvEndScan, types.ObsReady},
	{types.ObsIdle, EvAbort, types.ObsAborting},
	{types.ObsReady, EvAbort, types.ObsAborting},
	{types.ObsScanning, EvAbort, types.ObsAborting},
	{types.ObsConfiguring, EvAbort, types.ObsAborting},
	{types.ObsResourcing, EvAbort, types.ObsAborting},
	{types.ObsAborting, EvAborted, types.ObsAborted},
	{types.ObsAborted, EvObsReset, types.ObsResetting},
	{types.ObsResetting, EvResetDone, types.ObsIdle},
	{types.ObsAborted, EvRestart, types.ObsRestarting},
	{types.ObsFault, EvObsReset, types.ObsResetting},
	{types.ObsFault, EvRestart, types.ObsRestarting},
	{types.ObsRestarting, EvRestartDone, types.ObsEmpty},
	{types.ObsIdle, EvFault, types.ObsFault},
	{types.ObsReady, EvFault, types.ObsFault},
	{types.ObsScanning, EvFault, types.ObsFault},
	{types.ObsConfiguring, EvFault, types.ObsFault},
	{types.ObsResourcing, EvFault, types.ObsFault},
}

// childTable is the reduced table for VCC and FSP function-mode
// sub-nodes: no EMPTY/RESOURCING, no receptor events.
var childTable = []transition{
	{types.ObsIdle, EvConfigureScan, types.ObsConfiguring},
	{types.ObsReady, EvConfigureScan, types.ObsConfiguring},
	{types.ObsConfiguring, EvConfigureDone, types.ObsReady},
	{types.ObsConfiguring, EvConfigureFailed, types.ObsFault},
	{types.ObsReady, EvScan, types.ObsScanning},
	{types.ObsScanning, EvEndScan, types.ObsReady},
	{types.ObsIdle, EvAbort, types.ObsAborting},
	{types.ObsReady, EvAbort, types.ObsAborting},
	{types.ObsScanning, EvAbort, types.ObsAborting},
	{types.ObsConfiguring, EvAbort, types.ObsAborting},
	{types.ObsAborting, EvAborted, types.ObsAborted},
	{types.ObsAborted, EvObsReset, types.ObsResetting},
	{types.ObsResetting, EvResetDone, types.ObsIdle},
	{types.ObsFault, EvObsReset, types.ObsResetting},
	{types.ObsIdle, EvFault, types.ObsFault},
	{types.ObsReady, EvFault, types.ObsFault},
	{types.ObsScanning, EvFault, types.ObsFault},
	{types.ObsConfiguring, EvFault, types.ObsFault},
}

// ObsModel is the observation state model. IsSubarray selects the richer
// transition table that includes EMPTY/RESOURCING.
type ObsModel struct {
	mu          sync.Mutex
	current     types.ObsState
	isSubarray  bool
}

// NewObsModel creates an observation model. Subarrays start EMPTY;
// everything else starts IDLE.
func NewObsModel(isSubarray bool) *ObsModel {
	start := types.ObsIdle
	if isSubarray {
		start = types.ObsEmpty
	}
	return &ObsModel{current: start, isSubarray: isSubarray}
}

// Current returns the current observation state.
func (m *ObsModel) Current() types.ObsState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Transition attempts to apply event, returning the new state or a
// StateModelViolation leaving the model unchanged.
func (m *ObsModel) Transition(event ObsEvent) (types.ObsState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	table := childTable
	if m.isSubarray {
		table = subarrayTable
	}
	for _, t := range table {
		if t.from == m.current && t.event == event {
			m.current = t.to
			return m.current, nil
		}
	}
	return m.current, &mcserrors.StateModelViolation{
		Model: "observation",
		From:  string(m.current),
		Event: string(event),
	}
}

// Force sets the state directly, bypassing the table. Abort uses it to
// enter ABORTING from a state with no Abort row; tests use it for
// seeding.
func (m *ObsModel) Force(state types.ObsState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = state
}
