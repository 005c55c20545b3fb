package discovery

import "github.com/efebarandurmaz/rackscan/internal/chain"

// MaxPreviewChains caps the number of root chains in a hierarchy preview.
const MaxPreviewChains = 10

// PreviewEntry is a compact view of one root chain.
type PreviewEntry struct {
	ChainID     string     `json:"chain_id"`
	DeviceCount int        `json:"device_count"`
	DepthLevel  int        `json:"depth_level"`
	ChainType   chain.Type `json:"chain_type"`
	HasChildren bool       `json:"has_children"`
}

// HierarchyPreview lists up to MaxPreviewChains root chains in discovery order.
func HierarchyPreview(chains []chain.Chain) []PreviewEntry {
	hasChildren := make(map[string]bool)
	for _, c := range chains {
		if c.ParentChainID != "" {
			hasChildren[c.ParentChainID] = true
		}
	}

	preview := []PreviewEntry{}
	for _, c := range chains {
		if c.DepthLevel != 0 {
			continue
		}
		preview = append(preview, PreviewEntry{
			ChainID:     c.ID,
			DeviceCount: c.DeviceCount,
			DepthLevel:  c.DepthLevel,
			ChainType:   c.Type,
			HasChildren: hasChildren[c.ID],
		})
		if len(preview) == MaxPreviewChains {
			break
		}
	}
	return preview
}
