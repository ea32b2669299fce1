// Package statemodel implements the three transition tables shared by
// every node type: administrative, operational and observation. Each is
// guarded by its own mutex per spec §4.1/§5 and rejects illegal
// transitions with mcserrors.StateModelViolation, leaving the model
// unchanged.
package statemodel

import (
	"sync"

	"github.com/skyvane-array/mcs/mcserrors"
	"github.com/skyvane-array/mcs/types"
)

// CommCallback is invoked on ONLINE/OFFLINE admin-mode transitions to
// start or stop communication with the node's underlying component.
type CommCallback interface {
	StartCommunicating() error
	StopCommunicating() error
}

// AdminModel is the administrative state model. Writable; the model
// itself keeps its mode in memory only (the Controller persists its own
// mode via store.Store).
type AdminModel struct {
	mu      sync.Mutex
	current types.AdminMode
	comm    CommCallback
}

// NewAdminModel creates a model starting in the given mode (typically
// types.AdminOffline at process start, or the memorized value on
// restart) bound to the node's communication callback.
func NewAdminModel(initial types.AdminMode, comm CommCallback) *AdminModel {
	return &AdminModel{current: initial, comm: comm}
}

// Current returns the current administrative mode.
func (m *AdminModel) Current() types.AdminMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// adminAllowed reports whether the (from, to) admin transition is legal.
// Every mode may move to every other mode; what matters is whether ONLINE
// is entered or left, which drives the comm callback.
func adminAllowed(from, to types.AdminMode) bool {
	return from != to
}

// SetMode attempts to move to a new administrative mode. Entering ONLINE
// calls StartCommunicating; leaving ONLINE calls StopCommunicating.
func (m *AdminModel) SetMode(to types.AdminMode) error {
	m.mu.Lock()
	from := m.current
	if !adminAllowed(from, to) {
		m.mu.Unlock()
		return &mcserrors.StateModelViolation{Model: "admin", From: string(from), Event: "SetMode(" + string(to) + ")"}
	}
	m.current = to
	m.mu.Unlock()

	if m.comm == nil {
		return nil
	}
	if to == types.AdminOnline {
		return m.comm.StartCommunicating()
	}
	if from == types.AdminOnline {
		return m.comm.StopCommunicating()
	}
	return nil
}
