package vector

import (
	"context"
	"sort"
	"sync"
)

// Memory is a brute-force in-process Repository.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]Document
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[string]Document)}
}

func (m *Memory) Upsert(_ context.Context, docs []Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range docs {
		m.docs[d.ID] = d
	}
	return nil
}

func (m *Memory) Search(_ context.Context, vec []float32, topK int) ([]SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]SearchResult, 0, len(m.docs))
	for _, d := range m.docs {
		results = append(results, SearchResult{
			ID:       d.ID,
			RackID:   d.RackID,
			Score:    Cosine(vec, d.Vector),
			Metadata: d.Metadata,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].RackID < results[j].RackID
		}
		return results[i].Score > results[j].Score
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (m *Memory) Close() error { return nil }

var _ Repository = (*Memory)(nil)
