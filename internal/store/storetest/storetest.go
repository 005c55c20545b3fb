// Package storetest holds a behavioural suite every store backend must pass.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efebarandurmaz/rackscan/internal/chain"
	"github.com/efebarandurmaz/rackscan/internal/store"
)

// Run exercises a fresh store produced by open for each subtest.
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	t.Helper()

	t.Run("rack_roundtrip", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

		require.NoError(t, s.PutRack(ctx, chain.Rack{ID: "a", Name: "Bass", ImportedAt: now}))
		require.NoError(t, s.PutRack(ctx, chain.Rack{ID: "b", Name: "Drums", ImportedAt: now.Add(time.Hour)}))

		got, err := s.GetRack(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "Bass", got.Name)

		racks, err := s.ListRacks(ctx)
		require.NoError(t, err)
		require.Len(t, racks, 2)
		assert.Equal(t, "b", racks[0].ID, "newest import first")

		n, err := s.CountRacks(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		_, err = s.GetRack(ctx, "missing")
		assert.True(t, errors.Is(err, store.ErrNotFound))
	})

	t.Run("summary_absent", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		require.NoError(t, s.PutRack(ctx, chain.Rack{ID: "a"}))

		sum, err := s.LoadSummary(ctx, "a")
		require.NoError(t, err)
		assert.Nil(t, sum)

		chains, err := s.LoadChains(ctx, "a")
		require.NoError(t, err)
		assert.Empty(t, chains)
	})

	t.Run("replace_analysis", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		require.NoError(t, s.PutRack(ctx, chain.Rack{ID: "a"}))

		first := []chain.Chain{sampleChain("chain_00_aaaaaaaa", ""), sampleChain("chain_01_bbbbbbbb", "chain_00_aaaaaaaa")}
		require.NoError(t, s.ReplaceAnalysis(ctx, "a", sampleSummary("a", 2), first))

		second := []chain.Chain{sampleChain("chain_00_cccccccc", "")}
		require.NoError(t, s.ReplaceAnalysis(ctx, "a", sampleSummary("a", 1), second))

		chains, err := s.LoadChains(ctx, "a")
		require.NoError(t, err)
		require.Len(t, chains, 1, "previous chain set must be fully replaced")
		assert.Equal(t, "chain_00_cccccccc", chains[0].ID)
		assert.Equal(t, "bar", chains[0].Devices[0].Parameters["foo"])

		sum, err := s.LoadSummary(ctx, "a")
		require.NoError(t, err)
		require.NotNil(t, sum)
		assert.Equal(t, 1, sum.TotalChainsDetected)
		assert.Equal(t, 3, sum.DeviceTypeBreakdown[chain.DevicePlugin])
	})

	t.Run("replace_unknown_rack", func(t *testing.T) {
		s := open(t)
		err := s.ReplaceAnalysis(context.Background(), "ghost", sampleSummary("ghost", 0), nil)
		assert.True(t, errors.Is(err, store.ErrNotFound))
	})

	t.Run("delete_analysis", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		require.NoError(t, s.PutRack(ctx, chain.Rack{ID: "a"}))
		require.NoError(t, s.ReplaceAnalysis(ctx, "a", sampleSummary("a", 1), []chain.Chain{sampleChain("c", "")}))
		require.NoError(t, s.DeleteAnalysis(ctx, "a"))

		sum, err := s.LoadSummary(ctx, "a")
		require.NoError(t, err)
		assert.Nil(t, sum)
		_, err = s.GetRack(ctx, "a")
		assert.NoError(t, err, "rack survives analysis deletion")
	})

	t.Run("summaries_since", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		for i, id := range []string{"c", "a", "b"} {
			require.NoError(t, s.PutRack(ctx, chain.Rack{ID: id}))
			sum := sampleSummary(id, 1)
			sum.ProcessedAt = base.Add(time.Duration(i) * 24 * time.Hour)
			require.NoError(t, s.ReplaceAnalysis(ctx, id, sum, nil))
		}

		all, err := s.ListSummaries(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []string{"a", "b", "c"}, []string{all[0].RackID, all[1].RackID, all[2].RackID})

		recent, err := s.SummariesSince(ctx, base.Add(24*time.Hour))
		require.NoError(t, err)
		require.Len(t, recent, 2)
		assert.Equal(t, "a", recent[0].RackID)
		assert.Equal(t, "b", recent[1].RackID)
	})
}

func sampleChain(id, parent string) chain.Chain {
	depth := 0
	if parent != "" {
		depth = 1
	}
	return chain.Chain{
		ID:            id,
		RackID:        "a",
		XMLPath:       "/Ableton/DeviceChain",
		ParentChainID: parent,
		DepthLevel:    depth,
		DeviceCount:   1,
		Type:          chain.TypeAudioEffect,
		Devices: []chain.Device{{
			Name:       "Reverb",
			Type:       chain.DevicePlugin,
			NodeName:   "PluginDevice",
			Parameters: map[string]string{"foo": "bar"},
		}},
		Metadata: chain.Metadata{NodeName: "DeviceChain"},
	}
}

func sampleSummary(rackID string, chains int) chain.Summary {
	return chain.Summary{
		RackID:                  rackID,
		TotalChainsDetected:     chains,
		TotalDevices:            3,
		DeviceTypeBreakdown:     map[chain.DeviceType]int{chain.DevicePlugin: 3},
		AnalysisDurationMS:      12.5,
		ConstitutionalCompliant: true,
		AnalysisComplete:        true,
		AnalyzerVersion:         chain.AnalyzerVersion,
		ProcessedAt:             time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}
