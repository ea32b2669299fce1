package statemodel

import (
	"sync"

	"github.com/skyvane-array/mcs/types"
)

// OpModel is the operational state model, driven only by the
// communication-status and power-state callbacks described in spec
// §4.1 — never written directly by a client command.
type OpModel struct {
	mu         sync.Mutex
	current    types.OpState
	adminMode  func() types.AdminMode
	lastPower  types.PowerState
}

// NewOpModel creates an operational model that consults adminModeFn to
// enforce rule 7 ("no node may hold ON while admin mode is OFFLINE").
func NewOpModel(adminModeFn func() types.AdminMode) *OpModel {
	return &OpModel{current: types.OpInit, adminMode: adminModeFn, lastPower: types.PowerUnknown}
}

// Current returns the current operational state.
func (m *OpModel) Current() types.OpState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// OnCommStatus applies a communication-status callback.
func (m *OpModel) OnCommStatus(status types.CommStatus) types.OpState {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch status {
	case types.CommDisabled, types.CommNotEstablished:
		m.current = types.OpUnknown
	case types.CommEstablished:
		m.current = m.powerToOpLocked(m.lastPower)
	}
	return m.applyAdminRuleLocked()
}

// OnPowerState applies a power-state callback.
func (m *OpModel) OnPowerState(power types.PowerState) types.OpState {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastPower = power
	m.current = m.powerToOpLocked(power)
	return m.applyAdminRuleLocked()
}

func (m *OpModel) powerToOpLocked(power types.PowerState) types.OpState {
	switch power {
	case types.PowerOff:
		return types.OpOff
	case types.PowerOn:
		return types.OpOn
	case types.PowerStandby:
		return types.OpStandby
	default:
		return types.OpUnknown
	}
}

// applyAdminRuleLocked enforces invariant 7: a node under OFFLINE admin
// mode always reports operational DISABLE, regardless of its last known
// power/comm state.
func (m *OpModel) applyAdminRuleLocked() types.OpState {
	if m.adminMode != nil && m.adminMode() == types.AdminOffline {
		m.current = types.OpDisable
	}
	return m.current
}

// Refresh re-applies the admin rule so the operational attribute
// reflects a changed admin mode without waiting for the next comm/power
// callback.
func (m *OpModel) Refresh() types.OpState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.adminMode != nil && m.adminMode() != types.AdminOffline && m.current == types.OpDisable {
		m.current = m.powerToOpLocked(m.lastPower)
	}
	return m.applyAdminRuleLocked()
}

// SetFault forces the FAULT state, used when a node detects an
// invariant violation it cannot reverse (spec §7).
func (m *OpModel) SetFault() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = types.OpFault
}
