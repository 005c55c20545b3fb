package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/efebarandurmaz/rackscan/internal/chain"
)

// Memory provides thread-safe in-memory storage for racks and analyses.
type Memory struct {
	mu        sync.RWMutex
	racks     map[string]chain.Rack
	summaries map[string]chain.Summary
	chains    map[string][]chain.Chain
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		racks:     make(map[string]chain.Rack),
		summaries: make(map[string]chain.Summary),
		chains:    make(map[string][]chain.Chain),
	}
}

func (m *Memory) PutRack(_ context.Context, rack chain.Rack) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.racks[rack.ID] = rack
	return nil
}

func (m *Memory) GetRack(_ context.Context, rackID string) (*chain.Rack, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rack, ok := m.racks[rackID]
	if !ok {
		return nil, fmt.Errorf("rack %s: %w", rackID, ErrNotFound)
	}
	return &rack, nil
}

// ListRacks returns all racks sorted by ImportedAt descending.
func (m *Memory) ListRacks(_ context.Context) ([]chain.Rack, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	racks := make([]chain.Rack, 0, len(m.racks))
	for _, r := range m.racks {
		racks = append(racks, r)
	}
	sort.Slice(racks, func(i, j int) bool {
		if racks[i].ImportedAt.Equal(racks[j].ImportedAt) {
			return racks[i].ID < racks[j].ID
		}
		return racks[i].ImportedAt.After(racks[j].ImportedAt)
	})
	return racks, nil
}

func (m *Memory) CountRacks(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.racks), nil
}

func (m *Memory) LoadSummary(_ context.Context, rackID string) (*chain.Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.summaries[rackID]
	if !ok {
		return nil, nil
	}
	clone := CloneSummary(s)
	return &clone, nil
}

func (m *Memory) LoadChains(_ context.Context, rackID string) ([]chain.Chain, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return CloneChains(m.chains[rackID]), nil
}

// ListSummaries returns every stored summary ordered by rack id.
func (m *Memory) ListSummaries(ctx context.Context) ([]chain.Summary, error) {
	return m.SummariesSince(ctx, time.Time{})
}

func (m *Memory) SummariesSince(_ context.Context, since time.Time) ([]chain.Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]chain.Summary, 0, len(m.summaries))
	for _, s := range m.summaries {
		if s.ProcessedAt.Before(since) {
			continue
		}
		out = append(out, CloneSummary(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RackID < out[j].RackID })
	return out, nil
}

func (m *Memory) ReplaceAnalysis(_ context.Context, rackID string, summary chain.Summary, chains []chain.Chain) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.racks[rackID]; !ok {
		return fmt.Errorf("rack %s: %w", rackID, ErrNotFound)
	}
	m.summaries[rackID] = CloneSummary(summary)
	m.chains[rackID] = CloneChains(chains)
	return nil
}

func (m *Memory) DeleteAnalysis(_ context.Context, rackID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.summaries, rackID)
	delete(m.chains, rackID)
	return nil
}

func (m *Memory) Close() error { return nil }

var _ Store = (*Memory)(nil)
