// Package vcc implements the VCC (receptor channelizer) node of spec
// §4.5: one per physical receptor slot, owning an exclusive frequency
// band sub-state, dish sampling parameters and the subarray id it is
// currently assigned to.
package vcc

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/skyvane-array/mcs/logging"
	"github.com/skyvane-array/mcs/lrc"
	"github.com/skyvane-array/mcs/statemodel"
	"github.com/skyvane-array/mcs/types"
)

// BandParams is the per-band configuration pushed by ConfigureBand.
type BandParams struct {
	Band            types.Band
	Tuning          [2]float64
	DishSampleRate  int
	SamplesPerFrame int
	DelayCoeffs     []float64
}

// VCC is one receptor channelizer.
type VCC struct {
	fqdn           types.FQDN
	supportedBands []types.Band
	logger         *zap.Logger

	mu         sync.Mutex
	subarrayID int
	activeBand types.Band
	bandParams BandParams

	Admin *statemodel.AdminModel
	Op    *statemodel.OpModel
	Obs   *statemodel.ObsModel
	Exec  *lrc.Executor
}

// New creates a VCC supporting the given bands (per its dish type).
func New(fqdn types.FQDN, supportedBands []types.Band) *VCC {
	logger := logging.ForNode(string(fqdn))
	v := &VCC{fqdn: fqdn, supportedBands: supportedBands, logger: logger}
	v.Admin = statemodel.NewAdminModel(types.AdminOffline, v)
	v.Op = statemodel.NewOpModel(v.Admin.Current)
	v.Obs = statemodel.NewObsModel(false)
	v.Exec = lrc.NewExecutor(string(fqdn), logger)
	return v
}

// FQDN satisfies registry.Node.
func (v *VCC) FQDN() types.FQDN { return v.fqdn }

// StartCommunicating satisfies statemodel.CommCallback.
func (v *VCC) StartCommunicating() error {
	v.Op.OnCommStatus(types.CommEstablished)
	v.Op.OnPowerState(types.PowerOn)
	return nil
}

// StopCommunicating satisfies statemodel.CommCallback.
func (v *VCC) StopCommunicating() error {
	v.Op.OnCommStatus(types.CommDisabled)
	return nil
}

// SubarrayID returns the id of the subarray this VCC is assigned to, or 0
// if unassigned.
func (v *VCC) SubarrayID() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.subarrayID
}

// Assign sets subarrayID and brings the VCC online, per spec §4.4
// AddReceptors step "set the corresponding VCC online, and assign it".
func (v *VCC) Assign(subarrayID int) error {
	if err := v.Admin.SetMode(types.AdminOnline); err != nil {
		return err
	}
	v.mu.Lock()
	v.subarrayID = subarrayID
	v.mu.Unlock()
	return nil
}

// Unassign clears subarrayID and takes the VCC offline, the inverse of
// Assign used by RemoveReceptors/Restart.
func (v *VCC) Unassign() error {
	v.mu.Lock()
	v.subarrayID = 0
	v.mu.Unlock()
	return v.Admin.SetMode(types.AdminOffline)
}

func bandSupported(bands []types.Band, b types.Band) bool {
	for _, s := range bands {
		if s == b {
			return true
		}
	}
	return false
}

// ConfigureBand is the LRC of spec §4.5: it deactivates any previously
// active band, validates the requested band against the dish type, and
// activates it, transitioning observation state to READY.
func (v *VCC) ConfigureBand(params BandParams) (types.CommandID, types.CommandRes) {
	return v.Exec.Submit(func(ctx context.Context, commandID types.CommandID) types.CommandRes {
		if !bandSupported(v.supportedBands, params.Band) {
			return types.Failed(fmt.Sprintf("band %s is not supported by this dish type", params.Band))
		}
		if _, err := v.Obs.Transition(statemodel.EvConfigureScan); err != nil {
			return types.Failed(err.Error())
		}

		v.mu.Lock()
		v.activeBand = params.Band
		v.bandParams = params
		v.mu.Unlock()

		if _, err := v.Obs.Transition(statemodel.EvConfigureDone); err != nil {
			_, _ = v.Obs.Transition(statemodel.EvConfigureFailed)
			return types.Failed(err.Error())
		}
		return types.OK(fmt.Sprintf("band %s active", params.Band))
	}, func() (bool, string) {
		switch v.Obs.Current() {
		case types.ObsIdle, types.ObsReady:
			return true, ""
		default:
			return false, "VCC is not in IDLE or READY"
		}
	})
}

// UpdateDelayModel is a fast command pushing coefficients to the active
// band sub-node, accepted only in READY or SCANNING per spec §4.5.
func (v *VCC) UpdateDelayModel(coeffs []float64) types.CommandRes {
	return lrc.RunFast(func() types.CommandRes {
		switch v.Obs.Current() {
		case types.ObsReady, types.ObsScanning:
		default:
			return types.NotAllowed("UpdateDelayModel accepted only in READY or SCANNING")
		}
		v.mu.Lock()
		v.bandParams.DelayCoeffs = coeffs
		v.mu.Unlock()
		return types.OK("")
	})
}

// Scan transitions to SCANNING, fanned out from the subarray's Scan LRC.
func (v *VCC) Scan(scanID int) (types.CommandID, types.CommandRes) {
	return v.Exec.Submit(func(ctx context.Context, commandID types.CommandID) types.CommandRes {
		if _, err := v.Obs.Transition(statemodel.EvScan); err != nil {
			return types.Failed(err.Error())
		}
		return types.OK(fmt.Sprintf("scanning %d", scanID))
	}, func() (bool, string) { return true, "" })
}

// EndScan transitions back to READY.
func (v *VCC) EndScan() (types.CommandID, types.CommandRes) {
	return v.Exec.Submit(func(ctx context.Context, commandID types.CommandID) types.CommandRes {
		if _, err := v.Obs.Transition(statemodel.EvEndScan); err != nil {
			return types.Failed(err.Error())
		}
		return types.OK("")
	}, func() (bool, string) { return true, "" })
}

// Abort cancels any in-flight command and drives the observation model to
// ABORTED.
func (v *VCC) Abort() types.CommandRes {
	v.Exec.RequestCancel()
	return lrc.RunFast(func() types.CommandRes {
		if _, err := v.Obs.Transition(statemodel.EvAbort); err != nil {
			v.Obs.Force(types.ObsAborting)
		}
		_, _ = v.Obs.Transition(statemodel.EvAborted)
		v.Exec.ResetCancel()
		return types.OK("")
	})
}

// ObsReset clears band parameters and returns the VCC to IDLE, preserving
// its subarray assignment.
func (v *VCC) ObsReset() types.CommandRes {
	return lrc.RunFast(func() types.CommandRes {
		if _, err := v.Obs.Transition(statemodel.EvObsReset); err != nil {
			return types.Failed(err.Error())
		}
		v.mu.Lock()
		v.activeBand = ""
		v.bandParams = BandParams{}
		v.mu.Unlock()
		_, _ = v.Obs.Transition(statemodel.EvResetDone)
		return types.OK("")
	})
}

// ActiveBand returns the currently active band, or "" if none.
func (v *VCC) ActiveBand() types.Band {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.activeBand
}
