package chain

import (
	"testing"
	"time"
)

func TestPerformanceRating(t *testing.T) {
	tests := []struct {
		ms   float64
		want string
	}{
		{0, "excellent"},
		{1000, "excellent"},
		{1001, "good"},
		{2500, "good"},
		{5000, "acceptable"},
		{5000.5, "slow"},
	}
	for _, tt := range tests {
		if got := PerformanceRating(tt.ms); got != tt.want {
			t.Errorf("PerformanceRating(%v) = %q, want %q", tt.ms, got, tt.want)
		}
	}
}

func TestComplexityRating(t *testing.T) {
	tests := []struct {
		name string
		s    Summary
		want string
	}{
		{"deep", Summary{MaxNestingDepth: 4, TotalChainsDetected: 1, TotalDevices: 100}, "high"},
		{"dense", Summary{TotalChainsDetected: 6, TotalDevices: 10}, "high"},
		{"medium_depth", Summary{MaxNestingDepth: 2, TotalChainsDetected: 1, TotalDevices: 100}, "medium"},
		{"medium_ratio", Summary{TotalChainsDetected: 3, TotalDevices: 10}, "medium"},
		{"flat", Summary{TotalChainsDetected: 1, TotalDevices: 10}, "low"},
		{"no_devices", Summary{}, "low"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComplexityRating(&tt.s); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func sampleChains() []Chain {
	return []Chain{
		{ID: "root", DeviceCount: 2, Metadata: Metadata{NodeName: "DeviceChain"}},
		{ID: "mid", ParentChainID: "root", DepthLevel: 1, DeviceCount: 1},
		{ID: "leaf", ParentChainID: "mid", DepthLevel: 2, DeviceCount: 3},
		{ID: "other", ParentChainID: "root", DepthLevel: 1},
	}
}

func TestIndex_HierarchicalPath(t *testing.T) {
	chains := sampleChains()
	idx := NewIndex(chains)
	leaf, _ := idx.Get("leaf")

	got := idx.HierarchicalPath(leaf)
	want := "DeviceChain[root] > mid > leaf"
	if got != want {
		t.Errorf("HierarchicalPath = %q, want %q", got, want)
	}
	if n := len(idx.Children("root")); n != 2 {
		t.Errorf("root children = %d, want 2", n)
	}
}

func TestIndex_TotalDeviceCount(t *testing.T) {
	idx := NewIndex(sampleChains())
	root, _ := idx.Get("root")
	if got := idx.TotalDeviceCount(root); got != 6 {
		t.Errorf("TotalDeviceCount(root) = %d, want 6", got)
	}
}

func TestIndex_AncestorsStopsOnCycle(t *testing.T) {
	chains := []Chain{
		{ID: "a", ParentChainID: "b"},
		{ID: "b", ParentChainID: "a"},
	}
	idx := NewIndex(chains)
	a, _ := idx.Get("a")
	if got := idx.Ancestors(a); len(got) != 1 {
		t.Errorf("Ancestors on cycle = %d entries, want 1", len(got))
	}
}

func TestChain_Compliant(t *testing.T) {
	c := Chain{ID: "x", XMLPath: "/a[1]", AnalyzedAt: time.Now()}
	if !c.Compliant() {
		t.Error("expected compliant chain")
	}
	c.XMLPath = ""
	if c.Compliant() {
		t.Error("chain without path should not be compliant")
	}
}
