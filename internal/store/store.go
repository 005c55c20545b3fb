// Package store persists racks, analysis summaries and chain sets.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/efebarandurmaz/rackscan/internal/chain"
)

// ErrNotFound is returned when a rack does not exist.
var ErrNotFound = errors.New("not found")

// Reader is the read side used by the compliance validator and reports.
type Reader interface {
	GetRack(ctx context.Context, rackID string) (*chain.Rack, error)
	ListRacks(ctx context.Context) ([]chain.Rack, error)
	CountRacks(ctx context.Context) (int, error)

	// LoadSummary returns nil, nil when the rack has never been analyzed.
	LoadSummary(ctx context.Context, rackID string) (*chain.Summary, error)
	LoadChains(ctx context.Context, rackID string) ([]chain.Chain, error)
	ListSummaries(ctx context.Context) ([]chain.Summary, error)
	// SummariesSince returns summaries processed at or after since.
	SummariesSince(ctx context.Context, since time.Time) ([]chain.Summary, error)
}

// Writer is the write side used by the analysis service.
type Writer interface {
	PutRack(ctx context.Context, rack chain.Rack) error
	// ReplaceAnalysis swaps the rack's summary and whole chain set in one step.
	// Readers observe either the old set or the new one, never a mix.
	ReplaceAnalysis(ctx context.Context, rackID string, summary chain.Summary, chains []chain.Chain) error
	DeleteAnalysis(ctx context.Context, rackID string) error
}

// Store is a complete persistence backend.
type Store interface {
	Reader
	Writer
	Close() error
}

// CloneChains deep-copies a chain set so callers cannot alias stored data.
func CloneChains(in []chain.Chain) []chain.Chain {
	if in == nil {
		return nil
	}
	out := make([]chain.Chain, len(in))
	for i, c := range in {
		c.Parameters = cloneMap(c.Parameters)
		c.Metadata.Attributes = cloneMap(c.Metadata.Attributes)
		devices := make([]chain.Device, len(c.Devices))
		for j, d := range c.Devices {
			d.Parameters = cloneMap(d.Parameters)
			devices[j] = d
		}
		c.Devices = devices
		out[i] = c
	}
	return out
}

// CloneSummary deep-copies a summary.
func CloneSummary(s chain.Summary) chain.Summary {
	if s.DeviceTypeBreakdown != nil {
		b := make(map[chain.DeviceType]int, len(s.DeviceTypeBreakdown))
		for k, v := range s.DeviceTypeBreakdown {
			b[k] = v
		}
		s.DeviceTypeBreakdown = b
	}
	if s.ComplianceIssues != nil {
		s.ComplianceIssues = append([]string(nil), s.ComplianceIssues...)
	}
	return s
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
