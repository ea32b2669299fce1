// Package poweroutlet implements the PowerOutlet hardware leaf node of
// spec §4.7: an addressable outlet on an external PDU, driver-facing,
// with only administrative and operational state (no observation model —
// a single outlet has nothing to observe a scan against).
package poweroutlet

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/skyvane-array/mcs/drivers/power"
	"github.com/skyvane-array/mcs/logging"
	"github.com/skyvane-array/mcs/statemodel"
	"github.com/skyvane-array/mcs/types"
)

// PowerOutlet is one PDU outlet, addressed by OutletID against the
// shared power.Driver for its PDU.
type PowerOutlet struct {
	fqdn     types.FQDN
	outletID string
	driver   power.Driver
	logger   *zap.Logger

	Admin *statemodel.AdminModel
	Op    *statemodel.OpModel
}

// New creates a PowerOutlet node bound to outletID on driver.
func New(fqdn types.FQDN, outletID string, driver power.Driver) *PowerOutlet {
	logger := logging.ForNode(string(fqdn))
	p := &PowerOutlet{fqdn: fqdn, outletID: outletID, driver: driver, logger: logger}
	p.Admin = statemodel.NewAdminModel(types.AdminOffline, p)
	p.Op = statemodel.NewOpModel(p.Admin.Current)
	return p
}

// FQDN satisfies registry.Node.
func (p *PowerOutlet) FQDN() types.FQDN { return p.fqdn }

// StartCommunicating satisfies statemodel.CommCallback: an outlet's
// "communication" is simply being able to read its current state.
func (p *PowerOutlet) StartCommunicating() error {
	state, err := p.driver.GetOutletState(context.Background(), p.outletID)
	if err != nil {
		p.Op.OnCommStatus(types.CommNotEstablished)
		return fmt.Errorf("poweroutlet %s: %w", p.fqdn, err)
	}
	p.Op.OnCommStatus(types.CommEstablished)
	p.Op.OnPowerState(outletToPower(state))
	return nil
}

// StopCommunicating satisfies statemodel.CommCallback.
func (p *PowerOutlet) StopCommunicating() error {
	p.Op.OnCommStatus(types.CommDisabled)
	return nil
}

func outletToPower(s power.OutletState) types.PowerState {
	switch s {
	case power.OutletOn:
		return types.PowerOn
	case power.OutletOff:
		return types.PowerOff
	default:
		return types.PowerUnknown
	}
}

// TurnOn is a fast command issuing outlet-on against the driver.
func (p *PowerOutlet) TurnOn(ctx context.Context) types.CommandRes {
	res, err := p.driver.TurnOnOutlet(ctx, p.outletID)
	return p.applyResult(res, err)
}

// TurnOff is a fast command issuing outlet-off against the driver.
func (p *PowerOutlet) TurnOff(ctx context.Context) types.CommandRes {
	res, err := p.driver.TurnOffOutlet(ctx, p.outletID)
	return p.applyResult(res, err)
}

func (p *PowerOutlet) applyResult(res power.CallResult, err error) types.CommandRes {
	if err != nil {
		p.logger.Warn("outlet call failed", zap.String("outlet_id", p.outletID), zap.Error(err))
		p.Op.OnPowerState(types.PowerUnknown)
		return types.Failed(err.Error())
	}
	if res != power.CallOK {
		p.Op.OnPowerState(types.PowerUnknown)
		return types.Failed(fmt.Sprintf("outlet %s call returned %s", p.outletID, res))
	}
	state, err := p.driver.GetOutletState(context.Background(), p.outletID)
	if err != nil {
		p.Op.OnPowerState(types.PowerUnknown)
		return types.OK("command accepted, state unread")
	}
	p.Op.OnPowerState(outletToPower(state))
	return types.OK("")
}

// Poll refreshes the observed outlet state, used by TalonLRU's
// fixed-interval polling loop.
func (p *PowerOutlet) Poll(ctx context.Context) (types.PowerState, error) {
	state, err := p.driver.GetOutletState(ctx, p.outletID)
	if err != nil {
		p.Op.OnPowerState(types.PowerUnknown)
		return types.PowerUnknown, err
	}
	ps := outletToPower(state)
	p.Op.OnPowerState(ps)
	return ps, nil
}
