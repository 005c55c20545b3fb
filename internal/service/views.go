package service

import (
	"context"
	"fmt"
	"math"

	"github.com/efebarandurmaz/rackscan/internal/chain"
	"github.com/efebarandurmaz/rackscan/internal/store"
)

// Node is one chain in a hierarchy tree.
type Node struct {
	ChainID     string         `json:"chain_id"`
	ChainType   chain.Type     `json:"chain_type"`
	DepthLevel  int            `json:"depth_level"`
	DeviceCount int            `json:"device_count"`
	XMLPath     string         `json:"xml_path"`
	Devices     []chain.Device `json:"devices,omitempty"`
	Children    []*Node        `json:"children,omitempty"`
}

// Hierarchy returns the rack's chains as a forest of root chains. Chains
// whose parent is missing are treated as roots, and every chain appears
// exactly once even when parent references form a cycle.
func (a *Analyzer) Hierarchy(ctx context.Context, rackID string, includeDevices bool) ([]*Node, error) {
	if _, err := a.store.GetRack(ctx, rackID); err != nil {
		return nil, err
	}
	chains, err := a.store.LoadChains(ctx, rackID)
	if err != nil {
		return nil, fmt.Errorf("load chains: %w", err)
	}
	idx := chain.NewIndex(chains)
	seen := make(map[string]bool, len(chains))

	var build func(c *chain.Chain) *Node
	build = func(c *chain.Chain) *Node {
		seen[c.ID] = true
		n := &Node{
			ChainID:     c.ID,
			ChainType:   c.Type,
			DepthLevel:  c.DepthLevel,
			DeviceCount: c.DeviceCount,
			XMLPath:     c.XMLPath,
		}
		if includeDevices {
			n.Devices = c.Devices
		}
		for _, child := range idx.Children(c.ID) {
			if !seen[child.ID] {
				n.Children = append(n.Children, build(child))
			}
		}
		return n
	}

	var roots []*Node
	for i := range chains {
		c := &chains[i]
		if _, ok := idx.Parent(c); ok || seen[c.ID] {
			continue
		}
		roots = append(roots, build(c))
	}
	// Chains on a parent cycle never reach a root; surface them as roots.
	for i := range chains {
		if c := &chains[i]; !seen[c.ID] {
			roots = append(roots, build(c))
		}
	}
	return roots, nil
}

// ChainDetail describes one chain in the context of its rack.
type ChainDetail struct {
	Chain            chain.Chain   `json:"chain"`
	Parent           *chain.Chain  `json:"parent,omitempty"`
	Children         []chain.Chain `json:"children"`
	Descendants      []string      `json:"descendants"`
	HierarchicalPath string        `json:"hierarchical_path"`
	TotalDevices     int           `json:"total_device_count"`
	Compliant        bool          `json:"constitutional_compliant"`
}

// ChainDetails returns a single chain with its parent, children and
// position in the hierarchy.
func (a *Analyzer) ChainDetails(ctx context.Context, rackID, chainID string) (*ChainDetail, error) {
	chains, err := a.store.LoadChains(ctx, rackID)
	if err != nil {
		return nil, fmt.Errorf("load chains: %w", err)
	}
	idx := chain.NewIndex(chains)
	c, ok := idx.Get(chainID)
	if !ok {
		return nil, fmt.Errorf("chain %s in rack %s: %w", chainID, rackID, store.ErrNotFound)
	}

	d := &ChainDetail{
		Chain:            *c,
		Children:         []chain.Chain{},
		HierarchicalPath: idx.HierarchicalPath(c),
		TotalDevices:     idx.TotalDeviceCount(c),
		Compliant:        c.Compliant(),
	}
	if p, ok := idx.Parent(c); ok {
		parent := *p
		d.Parent = &parent
	}
	for _, child := range idx.Children(c.ID) {
		d.Children = append(d.Children, *child)
	}

	if a.graph != nil {
		if ids, err := a.graph.Descendants(ctx, rackID, chainID); err == nil {
			d.Descendants = ids
		} else {
			a.logger.Warn("graph descendants query failed", "rack_id", rackID, "chain_id", chainID, "error", err)
		}
	}
	if d.Descendants == nil {
		d.Descendants = descendants(idx, c)
	}
	return d, nil
}

func descendants(idx *chain.Index, c *chain.Chain) []string {
	out := []string{}
	seen := map[string]bool{c.ID: true}
	queue := []*chain.Chain{c}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, child := range idx.Children(cur.ID) {
			if seen[child.ID] {
				continue
			}
			seen[child.ID] = true
			out = append(out, child.ID)
			queue = append(queue, child)
		}
	}
	return out
}

// Stats summarizes every stored analysis.
type Stats struct {
	TotalRacks         int            `json:"total_racks"`
	AnalyzedRacks      int            `json:"analyzed_racks"`
	FailedAnalyses     int            `json:"failed_analyses"`
	TotalChains        int            `json:"total_chains"`
	TotalDevices       int            `json:"total_devices"`
	AverageChains      float64        `json:"average_chains_per_rack"`
	AverageDepth       float64        `json:"average_max_depth"`
	AverageDevices     float64        `json:"average_devices_per_rack"`
	AverageDurationMS  float64        `json:"average_duration_ms"`
	ComplianceRate     float64        `json:"compliance_rate"`
	Complexity         map[string]int `json:"complexity_distribution"`
	PerformanceRatings map[string]int `json:"performance_ratings"`
	DeviceTypes        map[string]int `json:"device_type_totals"`
}

// Statistics aggregates totals and averages over completed analyses.
func (a *Analyzer) Statistics(ctx context.Context) (*Stats, error) {
	total, err := a.store.CountRacks(ctx)
	if err != nil {
		return nil, fmt.Errorf("count racks: %w", err)
	}
	summaries, err := a.store.ListSummaries(ctx)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}

	st := &Stats{
		TotalRacks:         total,
		Complexity:         map[string]int{"low": 0, "medium": 0, "high": 0},
		PerformanceRatings: map[string]int{},
		DeviceTypes:        map[string]int{},
	}
	var depth, duration float64
	compliant := 0
	for i := range summaries {
		s := &summaries[i]
		if !s.AnalysisComplete {
			st.FailedAnalyses++
			continue
		}
		st.AnalyzedRacks++
		st.TotalChains += s.TotalChainsDetected
		st.TotalDevices += s.TotalDevices
		depth += float64(s.MaxNestingDepth)
		duration += s.AnalysisDurationMS
		if s.ConstitutionalCompliant {
			compliant++
		}
		st.Complexity[chain.ComplexityRating(s)]++
		st.PerformanceRatings[chain.PerformanceRating(s.AnalysisDurationMS)]++
		for t, n := range s.DeviceTypeBreakdown {
			st.DeviceTypes[string(t)] += n
		}
	}
	if n := float64(st.AnalyzedRacks); n > 0 {
		st.AverageChains = round2(float64(st.TotalChains) / n)
		st.AverageDepth = round2(depth / n)
		st.AverageDevices = round2(float64(st.TotalDevices) / n)
		st.AverageDurationMS = round2(duration / n)
		st.ComplianceRate = math.Round(float64(compliant)/n*1000) / 10
	}
	return st, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
