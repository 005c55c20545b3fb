// Package graph mirrors rack chain hierarchies into a graph store for
// traversal queries.
package graph

import (
	"context"

	"github.com/efebarandurmaz/rackscan/internal/chain"
)

// Repository provides graph storage for chain hierarchies.
type Repository interface {
	// StoreHierarchy replaces the rack's chain subgraph.
	StoreHierarchy(ctx context.Context, rack chain.Rack, chains []chain.Chain) error
	// Descendants returns ids of every chain nested below chainID, shallowest first.
	Descendants(ctx context.Context, rackID, chainID string) ([]string, error)
	// Ancestors returns ids from the root chain down to chainID's parent.
	Ancestors(ctx context.Context, rackID, chainID string) ([]string, error)
	// DeleteRack removes the rack and its chains.
	DeleteRack(ctx context.Context, rackID string) error
	// Close releases resources.
	Close(ctx context.Context) error
}
