package vector

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/efebarandurmaz/rackscan/internal/chain"
)

// rackNamespace scopes point ids so each rack maps to one stable id.
var rackNamespace = uuid.MustParse("6f1c2a52-2f0e-4d8e-9a43-7a5c3f0b9e21")

// PointID returns the stable index id for a rack.
func PointID(rackID string) string {
	return uuid.NewSHA1(rackNamespace, []byte(rackID)).String()
}

// Indexer turns analyses into fingerprints and answers similar-rack queries.
type Indexer struct {
	repo Repository
}

func NewIndexer(repo Repository) *Indexer {
	return &Indexer{repo: repo}
}

// IndexRack upserts the rack's fingerprint. Re-indexing replaces the old one.
func (ix *Indexer) IndexRack(ctx context.Context, rack chain.Rack, summary *chain.Summary, chains []chain.Chain) error {
	doc := Document{
		ID:     PointID(rack.ID),
		RackID: rack.ID,
		Vector: Fingerprint(summary, chains),
		Metadata: map[string]string{
			"name":   rack.Name,
			"chains": strconv.Itoa(len(chains)),
		},
	}
	if err := ix.repo.Upsert(ctx, []Document{doc}); err != nil {
		return fmt.Errorf("index rack %s: %w", rack.ID, err)
	}
	return nil
}

// Similar returns up to topK racks structurally closest to the given
// analysis, excluding the rack itself.
func (ix *Indexer) Similar(ctx context.Context, rackID string, summary *chain.Summary, chains []chain.Chain, topK int) ([]SearchResult, error) {
	results, err := ix.repo.Search(ctx, Fingerprint(summary, chains), topK+1)
	if err != nil {
		return nil, fmt.Errorf("similar racks for %s: %w", rackID, err)
	}
	out := make([]SearchResult, 0, topK)
	for _, r := range results {
		if r.RackID == rackID {
			continue
		}
		out = append(out, r)
		if len(out) == topK {
			break
		}
	}
	return out, nil
}
