// Package model holds the two JSON documents that cross the external
// interface boundary (spec §6): the scan configuration document consumed
// by Subarray.ConfigureScan, and the system-parameter document consumed
// by Controller.InitSysParam. JSON schema validation is out of scope
// (spec §1); Validate here enforces only the semantic checks spec §6
// enumerates, following the teacher's LineProfile/ONUProfile.Validate
// style.
package model

import (
	"fmt"
	"strings"

	"github.com/skyvane-array/mcs/types"
)

// ScanConfig is the top-level ConfigureScan payload.
type ScanConfig struct {
	Interface string           `json:"interface"`
	Common    ScanConfigCommon `json:"common"`
	CBF       ScanConfigCBF    `json:"cbf"`
	Pointing  map[string]any   `json:"pointing,omitempty"`
}

// ScanConfigCommon is the "common" block.
type ScanConfigCommon struct {
	ConfigID      string     `json:"config_id"`
	FrequencyBand types.Band `json:"frequency_band"`
	Band5Tuning   [2]float64 `json:"band_5_tuning,omitempty"`
	SubarrayID    int        `json:"subarray_id"`
}

// ScanConfigCBF is the "cbf" block.
type ScanConfigCBF struct {
	FrequencyBandOffsetStream1 int                  `json:"frequency_band_offset_stream_1,omitempty"`
	FrequencyBandOffsetStream2 int                  `json:"frequency_band_offset_stream_2,omitempty"`
	DelayModelSubscriptionPoint   string            `json:"delay_model_subscription_point,omitempty"`
	JonesSubscriptionPoint        string            `json:"jones_subscription_point,omitempty"`
	DopplerSubscriptionPoint      string            `json:"doppler_phase_correction_subscription_point,omitempty"`
	TimingBeamWeightsSubscription string            `json:"timing_beam_weights_subscription_point,omitempty"`
	SearchWindow                  []SearchWindow    `json:"search_window,omitempty"`
	FSP                           []FSPConfig       `json:"fsp"`
	VLBI                          map[string]any    `json:"vlbi,omitempty"`
}

// SearchWindow is one PSS-BF search-window definition.
type SearchWindow struct {
	SearchWindowID      int     `json:"search_window_id"`
	SearchWindowTuning  int     `json:"search_window_tuning"`
	TDCEnable           bool    `json:"tdc_enable,omitempty"`
}

// FSPConfig is one element of cbf.fsp[].
type FSPConfig struct {
	FSPID                int                `json:"fsp_id"`
	FunctionMode         types.FunctionMode `json:"function_mode"`
	ReceptorIDs          []string           `json:"receptor_ids"`
	FrequencySliceID     int                `json:"frequency_slice_id"`
	ZoomFactor           int                `json:"zoom_factor,omitempty"`
	IntegrationFactor    int                `json:"integration_factor"`
	ChannelAveragingMap  [][2]int           `json:"channel_averaging_map,omitempty"`
	OutputLinkMap        [][2]int           `json:"output_link_map,omitempty"`
	OutputHost           string             `json:"output_host,omitempty"`
	OutputPort           int                `json:"output_port,omitempty"`
}

const channelMapEntries = 20

// Validate enforces the semantic checks spec §6 names: function_mode is
// one of the configurable modes (IDLE is not requestable),
// integration_factor is in the closed set, and the two 20-entry maps are
// present with monotonic first columns when given.
func (c *ScanConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("scan config is required")
	}
	if c.Common.SubarrayID <= 0 {
		return fmt.Errorf("common.subarray_id must be positive")
	}
	if !bandSupported(c.Common.FrequencyBand) {
		return fmt.Errorf("common.frequency_band %q is not a supported band", c.Common.FrequencyBand)
	}
	for i := range c.CBF.FSP {
		if err := c.CBF.FSP[i].Validate(); err != nil {
			return fmt.Errorf("cbf.fsp[%d]: %w", i, err)
		}
	}
	return nil
}

func bandSupported(b types.Band) bool {
	for _, valid := range types.ValidBands {
		if valid == b {
			return true
		}
	}
	return false
}

// Validate checks one fsp[] element per spec §6.
func (f *FSPConfig) Validate() error {
	if f == nil {
		return fmt.Errorf("fsp entry is required")
	}
	switch f.FunctionMode {
	case types.FuncModeCorr, types.FuncModePssBf, types.FuncModePstBf, types.FuncModeVlbi:
	default:
		return fmt.Errorf("function_mode %q must be one of CORR, PSS-BF, PST-BF, VLBI", f.FunctionMode)
	}
	if !types.ValidIntegrationFactors[f.IntegrationFactor] {
		return fmt.Errorf("integration_factor %d must be one of {1,2,3,4,6,8,10}", f.IntegrationFactor)
	}
	if len(f.ReceptorIDs) == 0 {
		return fmt.Errorf("receptor_ids is required")
	}
	if f.FunctionMode == types.FuncModeCorr && f.ChannelAveragingMap == nil {
		return fmt.Errorf("channel_averaging_map is required for CORR")
	}
	if f.ChannelAveragingMap != nil {
		if err := validateMapEntries("channel_averaging_map", f.ChannelAveragingMap); err != nil {
			return err
		}
	}
	if f.FunctionMode == types.FuncModeCorr && f.OutputLinkMap == nil {
		return fmt.Errorf("output_link_map is required for CORR")
	}
	if f.OutputLinkMap != nil {
		if err := validateMapEntries("output_link_map", f.OutputLinkMap); err != nil {
			return err
		}
	}
	return nil
}

func validateMapEntries(field string, m [][2]int) error {
	if len(m) != channelMapEntries {
		return fmt.Errorf("%s must have exactly %d entries, got %d", field, channelMapEntries, len(m))
	}
	for i := 1; i < len(m); i++ {
		if m[i][0] <= m[i-1][0] {
			return fmt.Errorf("%s first-column values must be strictly monotonic (entry %d)", field, i)
		}
	}
	return nil
}

// RequiredSubscriptionPoints returns the non-empty subscription point
// names from the cbf block, for Subarray.ConfigureScan step 6.
func (c *ScanConfig) RequiredSubscriptionPoints() map[string]string {
	points := map[string]string{}
	add := func(name, fqdn string) {
		if strings.TrimSpace(fqdn) != "" {
			points[name] = fqdn
		}
	}
	add("delay_model", c.CBF.DelayModelSubscriptionPoint)
	add("jones", c.CBF.JonesSubscriptionPoint)
	add("doppler", c.CBF.DopplerSubscriptionPoint)
	add("timing_beam_weights", c.CBF.TimingBeamWeightsSubscription)
	return points
}
