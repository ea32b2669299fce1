// Package power implements the power-switch driver contract of spec §6:
// a uniform interface to an external PDU's outlets, with a production
// HTTP-driven implementation and a behaviourally-equivalent simulator
// twin, selected by a node's simulationMode attribute (spec §9).
package power

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// OutletState is the state reported by get_outlet_state.
type OutletState string

const (
	OutletOn      OutletState = "ON"
	OutletOff     OutletState = "OFF"
	OutletUnknown OutletState = "UNKNOWN"
)

// CallResult is the {OK, FAIL} result of a turn-on/turn-off call.
type CallResult string

const (
	CallOK   CallResult = "OK"
	CallFail CallResult = "FAIL"
)

// CallTimeout is the per-call timeout budget of spec §6 ("4s per call").
const CallTimeout = 4 * time.Second

// Driver is the power-switch driver contract consumed by TalonLRU.
type Driver interface {
	TurnOnOutlet(ctx context.Context, id string) (CallResult, error)
	TurnOffOutlet(ctx context.Context, id string) (CallResult, error)
	GetOutletState(ctx context.Context, id string) (OutletState, error)
	ListOutlets(ctx context.Context) ([]string, error)
}

// HTTPDriver is the production driver: a thin client over the external
// power-switch HTTP API (spec §1, "the power-switch HTTP driver ... leaf
// adapter consumed by the core through a narrow driver interface").
type HTTPDriver struct {
	baseURL string
	client  *http.Client

	mu         sync.Mutex
	inFlight   bool
}

// NewHTTPDriver creates a production driver against baseURL. Calls are
// serialised per spec §6 ("calls serialised").
func NewHTTPDriver(baseURL string) *HTTPDriver {
	return &HTTPDriver{
		baseURL: baseURL,
		client:  &http.Client{Timeout: CallTimeout},
	}
}

func (d *HTTPDriver) serialize(ctx context.Context, fn func(ctx context.Context) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()
	return fn(ctx)
}

func (d *HTTPDriver) TurnOnOutlet(ctx context.Context, id string) (CallResult, error) {
	var result CallResult
	err := d.serialize(ctx, func(ctx context.Context) error {
		r, err := d.post(ctx, "/outlet/"+id+"/on")
		result = r
		return err
	})
	return result, err
}

func (d *HTTPDriver) TurnOffOutlet(ctx context.Context, id string) (CallResult, error) {
	var result CallResult
	err := d.serialize(ctx, func(ctx context.Context) error {
		r, err := d.post(ctx, "/outlet/"+id+"/off")
		result = r
		return err
	})
	return result, err
}

func (d *HTTPDriver) post(ctx context.Context, path string) (CallResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+path, bytes.NewReader(nil))
	if err != nil {
		return CallFail, fmt.Errorf("power: build request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return CallFail, fmt.Errorf("power: request %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return CallFail, fmt.Errorf("power: %s returned %d", path, resp.StatusCode)
	}
	return CallOK, nil
}

func (d *HTTPDriver) GetOutletState(ctx context.Context, id string) (OutletState, error) {
	var state OutletState
	err := d.serialize(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/outlet/"+id, nil)
		if err != nil {
			return err
		}
		resp, err := d.client.Do(req)
		if err != nil {
			return fmt.Errorf("power: get outlet %s: %w", id, err)
		}
		defer resp.Body.Close()
		var body struct {
			State OutletState `json:"state"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return fmt.Errorf("power: decode outlet %s: %w", id, err)
		}
		state = body.State
		return nil
	})
	return state, err
}

func (d *HTTPDriver) ListOutlets(ctx context.Context) ([]string, error) {
	var ids []string
	err := d.serialize(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/outlets", nil)
		if err != nil {
			return err
		}
		resp, err := d.client.Do(req)
		if err != nil {
			return fmt.Errorf("power: list outlets: %w", err)
		}
		defer resp.Body.Close()
		return json.NewDecoder(resp.Body).Decode(&ids)
	})
	return ids, err
}
