package neo4j

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/efebarandurmaz/rackscan/internal/chain"
	"github.com/efebarandurmaz/rackscan/internal/graph"
)

// Repository implements graph.Repository using Neo4j.
//
//	(:Rack)-[:HAS_CHAIN]->(:Chain)-[:PARENT_OF]->(:Chain)
//
// Chain nodes are keyed by (rack_id, chain_id) since chain ids are derived
// from XML paths and repeat across racks with the same layout.
type Repository struct {
	driver neo4j.DriverWithContext
}

// New creates a Neo4j-backed repository.
func New(ctx context.Context, uri, username, password string) (*Repository, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}
	return &Repository{driver: driver}, nil
}

func (r *Repository) StoreHierarchy(ctx context.Context, rack chain.Rack, chains []chain.Chain) error {
	rows := make([]map[string]any, 0, len(chains))
	for _, c := range chains {
		devices, err := json.Marshal(c.Devices)
		if err != nil {
			return fmt.Errorf("encode devices for %s: %w", c.ID, err)
		}
		rows = append(rows, map[string]any{
			"chain_id":     c.ID,
			"parent_id":    c.ParentChainID,
			"xml_path":     c.XMLPath,
			"depth":        c.DepthLevel,
			"device_count": c.DeviceCount,
			"chain_type":   string(c.Type),
			"is_empty":     c.IsEmpty,
			"devices":      string(devices),
		})
	}

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx,
			"MERGE (r:Rack {id: $id}) SET r.name = $name, r.path = $path",
			map[string]any{"id": rack.ID, "name": rack.Name, "path": rack.Path}); err != nil {
			return nil, err
		}
		if _, err := tx.Run(ctx,
			"MATCH (:Rack {id: $id})-[:HAS_CHAIN]->(c:Chain) DETACH DELETE c",
			map[string]any{"id": rack.ID}); err != nil {
			return nil, err
		}
		if _, err := tx.Run(ctx,
			"MATCH (r:Rack {id: $id}) "+
				"UNWIND $rows AS row "+
				"CREATE (r)-[:HAS_CHAIN]->(c:Chain {rack_id: $id, chain_id: row.chain_id}) "+
				"SET c.xml_path = row.xml_path, c.depth = row.depth, c.device_count = row.device_count, "+
				"c.chain_type = row.chain_type, c.is_empty = row.is_empty, c.devices = row.devices",
			map[string]any{"id": rack.ID, "rows": rows}); err != nil {
			return nil, err
		}
		_, err := tx.Run(ctx,
			"UNWIND $rows AS row "+
				"WITH row WHERE row.parent_id <> '' "+
				"MATCH (p:Chain {rack_id: $id, chain_id: row.parent_id}) "+
				"MATCH (c:Chain {rack_id: $id, chain_id: row.chain_id}) "+
				"MERGE (p)-[:PARENT_OF]->(c)",
			map[string]any{"id": rack.ID, "rows": rows})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("store hierarchy %s: %w", rack.ID, err)
	}
	return nil
}

func (r *Repository) Descendants(ctx context.Context, rackID, chainID string) ([]string, error) {
	return r.queryIDs(ctx,
		"MATCH (:Chain {rack_id: $rack, chain_id: $chain})-[:PARENT_OF*1..]->(d:Chain) "+
			"RETURN DISTINCT d.chain_id AS id, d.depth AS depth ORDER BY depth, id",
		rackID, chainID)
}

func (r *Repository) Ancestors(ctx context.Context, rackID, chainID string) ([]string, error) {
	return r.queryIDs(ctx,
		"MATCH (a:Chain {rack_id: $rack})-[:PARENT_OF*1..]->(:Chain {rack_id: $rack, chain_id: $chain}) "+
			"RETURN DISTINCT a.chain_id AS id, a.depth AS depth ORDER BY depth, id",
		rackID, chainID)
}

func (r *Repository) queryIDs(ctx context.Context, cypher, rackID, chainID string) ([]string, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := tx.Run(ctx, cypher, map[string]any{"rack": rackID, "chain": chainID})
		if err != nil {
			return nil, err
		}
		var ids []string
		for records.Next(ctx) {
			id, _ := records.Record().Get("id")
			if s, ok := id.(string); ok {
				ids = append(ids, s)
			}
		}
		return ids, records.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

func (r *Repository) DeleteRack(ctx context.Context, rackID string) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx,
			"MATCH (r:Rack {id: $id}) OPTIONAL MATCH (r)-[:HAS_CHAIN]->(c:Chain) DETACH DELETE c, r",
			map[string]any{"id": rackID})
		return nil, err
	})
	return err
}

func (r *Repository) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

var _ graph.Repository = (*Repository)(nil)
