package model

import (
	"testing"

	"github.com/skyvane-array/mcs/types"
)

func validChannelMap() [][2]int {
	m := make([][2]int, channelMapEntries)
	for i := range m {
		m[i] = [2]int{i + 1, 0}
	}
	return m
}

func validFSP() FSPConfig {
	return FSPConfig{
		FSPID:               1,
		FunctionMode:        types.FuncModeCorr,
		ReceptorIDs:         []string{"100"},
		FrequencySliceID:    1,
		IntegrationFactor:   1,
		ChannelAveragingMap: validChannelMap(),
		OutputLinkMap:       validChannelMap(),
	}
}

func TestScanConfigValidate(t *testing.T) {
	cfg := &ScanConfig{
		Common: ScanConfigCommon{SubarrayID: 1, FrequencyBand: types.Band1And2},
		CBF:    ScanConfigCBF{FSP: []FSPConfig{validFSP()}},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestScanConfigValidateZeroFSP(t *testing.T) {
	cfg := &ScanConfig{
		Common: ScanConfigCommon{SubarrayID: 1, FrequencyBand: types.Band1And2},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("zero-fsp config must be valid (IDLE->READY boundary behaviour), got %v", err)
	}
}

func TestScanConfigValidateBadIntegrationFactor(t *testing.T) {
	fsp := validFSP()
	fsp.IntegrationFactor = 5
	cfg := &ScanConfig{
		Common: ScanConfigCommon{SubarrayID: 1, FrequencyBand: types.Band1And2},
		CBF:    ScanConfigCBF{FSP: []FSPConfig{fsp}},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for integration_factor=5")
	}
}

func TestScanConfigValidateBadFunctionMode(t *testing.T) {
	fsp := validFSP()
	fsp.FunctionMode = types.FuncModeIdle
	cfg := &ScanConfig{
		Common: ScanConfigCommon{SubarrayID: 1, FrequencyBand: types.Band1And2},
		CBF:    ScanConfigCBF{FSP: []FSPConfig{fsp}},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for function_mode=IDLE")
	}
}

func TestValidateMapEntriesWrongCount(t *testing.T) {
	fsp := validFSP()
	fsp.ChannelAveragingMap = [][2]int{{1, 1}, {2, 1}}
	if err := fsp.Validate(); err == nil {
		t.Fatalf("expected error for channel_averaging_map with != 20 entries")
	}
}

func TestValidateMapEntriesNonMonotonic(t *testing.T) {
	fsp := validFSP()
	m := make([][2]int, 20)
	for i := range m {
		m[i] = [2]int{i + 1, 1}
	}
	m[5][0] = m[4][0] // break monotonicity
	fsp.ChannelAveragingMap = m
	if err := fsp.Validate(); err == nil {
		t.Fatalf("expected error for non-monotonic channel_averaging_map")
	}
}

func TestValidateCorrRequiresChannelAveragingMap(t *testing.T) {
	fsp := validFSP()
	fsp.ChannelAveragingMap = nil
	if err := fsp.Validate(); err == nil {
		t.Fatal("expected an error for CORR without channel_averaging_map")
	}
}

func TestValidateCorrRequiresOutputLinkMap(t *testing.T) {
	fsp := validFSP()
	fsp.OutputLinkMap = nil
	if err := fsp.Validate(); err == nil {
		t.Fatal("expected an error for CORR without output_link_map")
	}
}

func TestValidateBeamformingModeDoesNotRequireMaps(t *testing.T) {
	fsp := validFSP()
	fsp.FunctionMode = types.FuncModePstBf
	fsp.ChannelAveragingMap = nil
	fsp.OutputLinkMap = nil
	if err := fsp.Validate(); err != nil {
		t.Fatalf("PST-BF without channel/output maps should be valid, got %v", err)
	}
}

func TestRequiredSubscriptionPoints(t *testing.T) {
	cfg := &ScanConfig{
		CBF: ScanConfigCBF{
			DelayModelSubscriptionPoint: "talondx/delaymodel/1",
		},
	}
	points := cfg.RequiredSubscriptionPoints()
	if len(points) != 1 || points["delay_model"] == "" {
		t.Fatalf("expected one subscription point, got %v", points)
	}
}
