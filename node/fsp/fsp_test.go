package fsp

import (
	"testing"
	"time"

	"github.com/skyvane-array/mcs/model"
	"github.com/skyvane-array/mcs/types"
)

func waitFSP(t *testing.T, n FuncModeNode, ch <-chan types.LongRunningCommandResult, id types.CommandID) types.CommandRes {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case r := <-ch:
			if r.CommandID == id {
				return r.Result
			}
		case <-deadline:
			t.Fatal("timed out waiting for sub-node command result")
			return types.CommandRes{}
		}
	}
}

func TestAcquireCreatesCorrSubNode(t *testing.T) {
	f := New("test/fsp/1")
	node, err := f.Acquire(1, types.FuncModeCorr, "test/fsp/1/corr/1", nil)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, ok := node.(*CorrNode); !ok {
		t.Fatalf("Acquire returned %T, want *CorrNode", node)
	}
	if f.Mode() != types.FuncModeCorr {
		t.Fatalf("Mode() = %v, want CORR", f.Mode())
	}
}

func TestAcquireConflictingModeFails(t *testing.T) {
	f := New("test/fsp/2")
	if _, err := f.Acquire(1, types.FuncModeCorr, "test/fsp/2/corr/1", nil); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	if _, err := f.Acquire(2, types.FuncModePssBf, "test/fsp/2/pss/2", nil); err == nil {
		t.Fatal("second Acquire with conflicting mode: got nil error, want ConfigurationConflict")
	}
}

func TestReleaseLastSubarrayResetsToIdle(t *testing.T) {
	f := New("test/fsp/3")
	_, _ = f.Acquire(1, types.FuncModeCorr, "test/fsp/3/corr/1", nil)
	f.Release(1)
	if f.Mode() != types.FuncModeIdle {
		t.Fatalf("Mode() after last release = %v, want IDLE", f.Mode())
	}
}

func TestCorrNodeConfigureScan(t *testing.T) {
	node := NewCorrNode("test/fsp/4/corr/1")
	ch := node.Exec.ResultBus.Subscribe(8)
	defer node.Exec.ResultBus.Unsubscribe(ch)

	channelMap := make([][2]int, 20)
	for i := range channelMap {
		channelMap[i] = [2]int{i + 1, 0}
	}
	cfg := model.FSPConfig{
		FSPID:               1,
		FunctionMode:        types.FuncModeCorr,
		ReceptorIDs:         []string{"100"},
		FrequencySliceID:    1,
		IntegrationFactor:   1,
		ChannelAveragingMap: channelMap,
		OutputLinkMap:       channelMap,
	}
	id, _ := node.ConfigureScan(cfg)
	res := waitFSP(t, node, ch, id)
	if res.Code != types.ResultOK {
		t.Fatalf("ConfigureScan: got %v", res)
	}
	if node.ObsState() != types.ObsReady {
		t.Fatalf("ObsState() = %v, want READY", node.ObsState())
	}
}
