package chain

import "strings"

// PerformanceRating buckets an analysis duration.
func PerformanceRating(durationMS float64) string {
	switch {
	case durationMS <= 1000:
		return "excellent"
	case durationMS <= 2500:
		return "good"
	case durationMS <= MaxAnalysisDurationMS:
		return "acceptable"
	default:
		return "slow"
	}
}

// ComplexityRating rates a rack's structure from its depth and chain density.
func ComplexityRating(s *Summary) string {
	var ratio float64
	if s.TotalDevices > 0 {
		ratio = float64(s.TotalChainsDetected) / float64(s.TotalDevices)
	}
	switch {
	case s.MaxNestingDepth >= 4 || ratio > 0.5:
		return "high"
	case s.MaxNestingDepth >= 2 || ratio > 0.2:
		return "medium"
	default:
		return "low"
	}
}

// Index gives parent/child lookups over one rack's chains.
type Index struct {
	byID     map[string]*Chain
	children map[string][]*Chain
}

// NewIndex builds an Index. Children keep the order of the input slice.
func NewIndex(chains []Chain) *Index {
	idx := &Index{
		byID:     make(map[string]*Chain, len(chains)),
		children: make(map[string][]*Chain),
	}
	for i := range chains {
		c := &chains[i]
		idx.byID[c.ID] = c
		if c.ParentChainID != "" {
			idx.children[c.ParentChainID] = append(idx.children[c.ParentChainID], c)
		}
	}
	return idx
}

func (idx *Index) Get(id string) (*Chain, bool) {
	c, ok := idx.byID[id]
	return c, ok
}

func (idx *Index) Children(id string) []*Chain {
	return idx.children[id]
}

func (idx *Index) Parent(c *Chain) (*Chain, bool) {
	if c.ParentChainID == "" {
		return nil, false
	}
	return idx.Get(c.ParentChainID)
}

// Ancestors returns the chain's ancestors from the root down. The walk stops
// at a missing parent or a repeated id.
func (idx *Index) Ancestors(c *Chain) []*Chain {
	var out []*Chain
	seen := map[string]bool{c.ID: true}
	cur := c
	for {
		p, ok := idx.Parent(cur)
		if !ok || seen[p.ID] {
			break
		}
		seen[p.ID] = true
		out = append(out, p)
		cur = p
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// HierarchicalPath renders the chain's position as "root > ... > chain".
func (idx *Index) HierarchicalPath(c *Chain) string {
	parts := make([]string, 0, c.DepthLevel+1)
	for _, a := range idx.Ancestors(c) {
		parts = append(parts, a.DisplayName())
	}
	parts = append(parts, c.DisplayName())
	return strings.Join(parts, " > ")
}

// TotalDeviceCount counts the chain's devices plus those of every descendant.
func (idx *Index) TotalDeviceCount(c *Chain) int {
	seen := map[string]bool{}
	var walk func(*Chain) int
	walk = func(n *Chain) int {
		if seen[n.ID] {
			return 0
		}
		seen[n.ID] = true
		total := n.DeviceCount
		for _, child := range idx.children[n.ID] {
			total += walk(child)
		}
		return total
	}
	return walk(c)
}
