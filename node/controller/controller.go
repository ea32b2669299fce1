// Package controller implements the MCS Controller node of spec §4.3: the
// root of the device tree, owning the system-parameter mapping and
// fanning On/Off/Standby out to every admitted LRU and subarray.
package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skyvane-array/mcs/logging"
	"github.com/skyvane-array/mcs/lrc"
	"github.com/skyvane-array/mcs/mcserrors"
	"github.com/skyvane-array/mcs/model"
	"github.com/skyvane-array/mcs/node/lru"
	"github.com/skyvane-array/mcs/node/subarray"
	"github.com/skyvane-array/mcs/statemodel"
	"github.com/skyvane-array/mcs/store"
	"github.com/skyvane-array/mcs/types"
)

// Controller is the MCS root node.
type Controller struct {
	fqdn       types.FQDN
	lrus       []*lru.TalonLRU
	subarrays  []*subarray.Subarray
	persist    *store.Store
	logger     *zap.Logger

	allocMu sync.Mutex // spec §5: receptor-allocation mutex, shared with every subarray

	mu       sync.Mutex
	sysParam *model.SysParam

	Admin *statemodel.AdminModel
	Op    *statemodel.OpModel
	Exec  *lrc.Executor
}

// New creates a Controller admitting the given LRUs and subarrays, each
// subarray wired to share this Controller's receptor-allocation mutex.
// Its administrative mode is recovered from persist if previously saved,
// per spec §6's persisted-state requirement; otherwise it starts OFFLINE.
func New(fqdn types.FQDN, lrus []*lru.TalonLRU, subarrays []*subarray.Subarray, persist *store.Store) *Controller {
	logger := logging.ForNode(string(fqdn))
	c := &Controller{
		fqdn:      fqdn,
		lrus:      lrus,
		subarrays: subarrays,
		persist:   persist,
		logger:    logger,
	}
	for _, s := range subarrays {
		s.SetAllocationMutex(&c.allocMu)
	}
	initial := types.AdminOffline
	if persist != nil {
		if mode, ok := persist.LoadAdminMode(fqdn); ok {
			initial = mode
		}
	}
	c.Admin = statemodel.NewAdminModel(initial, c)
	c.Op = statemodel.NewOpModel(c.Admin.Current)
	c.Exec = lrc.NewExecutor(string(fqdn), logger)
	return c
}

// SetAdminMode moves the Controller's administrative mode, persisting the
// new value so it survives a restart.
func (c *Controller) SetAdminMode(to types.AdminMode) error {
	if err := c.Admin.SetMode(to); err != nil {
		return err
	}
	if c.persist != nil {
		if err := c.persist.SaveAdminMode(c.fqdn, to); err != nil {
			c.logger.Warn("failed to persist admin mode", zap.Error(err))
		}
	}
	return nil
}

// FQDN satisfies registry.Node.
func (c *Controller) FQDN() types.FQDN { return c.fqdn }

// StartCommunicating satisfies statemodel.CommCallback.
func (c *Controller) StartCommunicating() error {
	c.Op.OnCommStatus(types.CommEstablished)
	c.Op.OnPowerState(types.PowerOn)
	return nil
}

// StopCommunicating satisfies statemodel.CommCallback.
func (c *Controller) StopCommunicating() error {
	c.Op.OnCommStatus(types.CommDisabled)
	return nil
}

// SysParam returns the currently installed system-parameter document, or
// nil if InitSysParam has never succeeded. Subarrays close over this to
// resolve receptor-to-VCC mappings.
func (c *Controller) SysParam() *model.SysParam {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sysParam
}

// InitSysParam is the fast command of spec §4.3: validates and atomically
// replaces the receptor-id/channelizer-id mapping. Refused while any
// subarray is non-EMPTY.
func (c *Controller) InitSysParam(jsonPayload string) types.CommandRes {
	return lrc.RunFast(func() types.CommandRes {
		for _, s := range c.subarrays {
			if s.Obs.Current() != types.ObsEmpty {
				err := &mcserrors.StateModelViolation{Model: "observation", From: string(s.Obs.Current()), Event: "InitSysParam"}
				return types.Failed(err.Error())
			}
		}
		var sp model.SysParam
		if err := json.Unmarshal([]byte(jsonPayload), &sp); err != nil {
			err := &mcserrors.InvalidArgument{Field: "sysParam", Reason: err.Error()}
			return types.Failed(err.Error())
		}
		if err := sp.Validate(); err != nil {
			err := &mcserrors.InvalidArgument{Field: "sysParam", Reason: err.Error()}
			return types.Failed(err.Error())
		}
		c.mu.Lock()
		c.sysParam = &sp
		c.mu.Unlock()
		c.logger.Info("sysParam installed", zap.Int("dish_count", len(sp.DishParameters)))
		return types.OK("sysParam installed")
	})
}

// On is the LRC of spec §4.3: powers on every admitted LRU, then brings
// every subarray online. Succeeds with OK iff at least one LRU powered
// on, carrying a per-LRU status vector in the result message.
func (c *Controller) On() (types.CommandID, types.CommandRes) {
	return c.Exec.Submit(func(ctx context.Context, commandID types.CommandID) types.CommandRes {
		statuses := c.fanOutLRUs(func(l *lru.TalonLRU) (types.CommandID, types.CommandRes) { return l.On() })

		succeeded := 0
		for _, st := range statuses {
			if st.res.Code == types.ResultOK {
				succeeded++
			}
		}
		if succeeded == 0 {
			return types.Failed("no LRU powered on: " + formatLRUStatuses(statuses))
		}

		for _, s := range c.subarrays {
			if err := s.Admin.SetMode(types.AdminOnline); err != nil {
				c.logger.Warn("subarray online failed", zap.String("fqdn", string(s.FQDN())), zap.Error(err))
			}
		}
		return types.OK(fmt.Sprintf("%d/%d LRUs powered: %s", succeeded, len(statuses), formatLRUStatuses(statuses)))
	}, func() (bool, string) { return true, "" })
}

// Off is the LRC reverse of On: it aborts and resets every subarray
// (tolerating errors), sets subarrays offline, then powers off every LRU.
// Off succeeds only if every LRU confirms off.
func (c *Controller) Off() (types.CommandID, types.CommandRes) {
	return c.Exec.Submit(func(ctx context.Context, commandID types.CommandID) types.CommandRes {
		for _, s := range c.subarrays {
			if s.Obs.Current() != types.ObsEmpty {
				s.Abort()
				s.ObsReset()
			}
			if err := s.Admin.SetMode(types.AdminOffline); err != nil {
				c.logger.Warn("subarray offline failed", zap.String("fqdn", string(s.FQDN())), zap.Error(err))
			}
		}

		statuses := c.fanOutLRUs(func(l *lru.TalonLRU) (types.CommandID, types.CommandRes) { return l.Off() })
		var offending []string
		for _, st := range statuses {
			if st.res.Code != types.ResultOK {
				offending = append(offending, string(st.fqdn))
			}
		}
		if len(offending) > 0 {
			sort.Strings(offending)
			return types.Failed(fmt.Sprintf("LRUs did not confirm off: %v", offending))
		}
		return types.OK("all LRUs off")
	}, func() (bool, string) { return true, "" })
}

// Standby is currently equivalent to On, per spec §4.3.
func (c *Controller) Standby() (types.CommandID, types.CommandRes) {
	return c.On()
}

type lruStatus struct {
	fqdn types.FQDN
	res  types.CommandRes
}

// fanOutLRUTimeout bounds how long a single LRU's On/Off LRC may take to
// report a result before it is counted as failed.
const fanOutLRUTimeout = 30 * time.Second

// fanOutLRUs dispatches fn to every admitted LRU in parallel and waits for
// each to report its result, returning each LRU's final status.
func (c *Controller) fanOutLRUs(fn func(*lru.TalonLRU) (types.CommandID, types.CommandRes)) []lruStatus {
	out := make([]lruStatus, len(c.lrus))
	var wg sync.WaitGroup
	for i, l := range c.lrus {
		wg.Add(1)
		go func(i int, l *lru.TalonLRU) {
			defer wg.Done()
			ch := l.Exec.ResultBus.Subscribe(lrc.DefaultQueueDepth)
			defer l.Exec.ResultBus.Unsubscribe(ch)

			id, res := fn(l)
			if res.Code != types.ResultQueued {
				out[i] = lruStatus{fqdn: l.FQDN(), res: res}
				return
			}
			deadline := time.After(fanOutLRUTimeout)
			for {
				select {
				case r, ok := <-ch:
					if !ok {
						out[i] = lruStatus{fqdn: l.FQDN(), res: types.Failed("result bus closed")}
						return
					}
					if r.CommandID == id {
						out[i] = lruStatus{fqdn: l.FQDN(), res: r.Result}
						return
					}
				case <-deadline:
					out[i] = lruStatus{fqdn: l.FQDN(), res: types.Failed("timed out waiting for LRU result")}
					return
				}
			}
		}(i, l)
	}
	wg.Wait()
	return out
}

func formatLRUStatuses(statuses []lruStatus) string {
	parts := make([]string, 0, len(statuses))
	for _, st := range statuses {
		parts = append(parts, fmt.Sprintf("%s=%s", st.fqdn, st.res.Code))
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}
