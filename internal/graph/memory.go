package graph

import (
	"context"
	"sort"
	"sync"

	"github.com/efebarandurmaz/rackscan/internal/chain"
)

// Memory is an in-process Repository used when no graph database is configured.
type Memory struct {
	mu    sync.RWMutex
	racks map[string][]chain.Chain
}

func NewMemory() *Memory {
	return &Memory{racks: make(map[string][]chain.Chain)}
}

func (m *Memory) StoreHierarchy(_ context.Context, rack chain.Rack, chains []chain.Chain) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := make([]chain.Chain, len(chains))
	copy(cp, chains)
	m.racks[rack.ID] = cp
	return nil
}

func (m *Memory) Descendants(_ context.Context, rackID, chainID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx := chain.NewIndex(m.racks[rackID])
	if _, ok := idx.Get(chainID); !ok {
		return nil, nil
	}

	seen := map[string]bool{chainID: true}
	var found []*chain.Chain
	queue := []string{chainID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, c := range idx.Children(id) {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			found = append(found, c)
			queue = append(queue, c.ID)
		}
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].DepthLevel < found[j].DepthLevel })

	out := make([]string, len(found))
	for i, c := range found {
		out[i] = c.ID
	}
	return out, nil
}

func (m *Memory) Ancestors(_ context.Context, rackID, chainID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx := chain.NewIndex(m.racks[rackID])
	c, ok := idx.Get(chainID)
	if !ok {
		return nil, nil
	}
	var out []string
	for _, a := range idx.Ancestors(c) {
		out = append(out, a.ID)
	}
	return out, nil
}

func (m *Memory) DeleteRack(_ context.Context, rackID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.racks, rackID)
	return nil
}

func (m *Memory) Close(context.Context) error { return nil }

var _ Repository = (*Memory)(nil)
