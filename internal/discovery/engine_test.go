package discovery

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/efebarandurmaz/rackscan/internal/chain"
)

const nestedRack = `<?xml version="1.0" encoding="UTF-8"?>
<Ableton>
  <DeviceChain>
    <Devices>
      <PluginDevice><UserName Value="A"/></PluginDevice>
      <GroupDevice>
        <UserName Value="B"/>
        <DeviceChain>
          <Devices>
            <AuDevice><UserName Value="C"/></AuDevice>
          </Devices>
        </DeviceChain>
      </GroupDevice>
    </Devices>
  </DeviceChain>
</Ableton>`

func newTestEngine(opts ...Option) *Engine {
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return NewEngine(opts...)
}

func TestAnalyze_NestedScenario(t *testing.T) {
	res, err := newTestEngine().Analyze("rack-1", []byte(nestedRack))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if len(res.Chains) != 2 {
		t.Fatalf("expected 2 chains, got %d: %+v", len(res.Chains), res.Chains)
	}
	root, nested := res.Chains[0], res.Chains[1]

	if root.ID != "chain_00_2898bd3b" {
		t.Errorf("root id = %s", root.ID)
	}
	if root.DepthLevel != 0 || root.ParentChainID != "" || root.DeviceCount != 2 {
		t.Errorf("root = depth %d parent %q devices %d", root.DepthLevel, root.ParentChainID, root.DeviceCount)
	}
	if root.Devices[0].Name != "A" || root.Devices[1].Name != "B" {
		t.Errorf("root devices = %+v", root.Devices)
	}
	if root.Devices[1].Type != chain.DeviceGroup || root.Devices[1].Index != 1 {
		t.Errorf("group device = %+v", root.Devices[1])
	}

	if nested.ID != "chain_01_25825770" {
		t.Errorf("nested id = %s", nested.ID)
	}
	if nested.DepthLevel != 1 || nested.ParentChainID != root.ID || nested.DeviceCount != 1 {
		t.Errorf("nested = depth %d parent %q devices %d", nested.DepthLevel, nested.ParentChainID, nested.DeviceCount)
	}
	if nested.Devices[0].Name != "C" || nested.Devices[0].Type != chain.DeviceAudioUnit {
		t.Errorf("nested device = %+v", nested.Devices[0])
	}

	s := res.Summary
	if s.TotalDevices != 3 || s.TotalChainsDetected != 2 || s.MaxNestingDepth != 1 || !s.HasNestedChains {
		t.Errorf("summary = %+v", s)
	}
	if !s.AnalysisComplete || !s.ConstitutionalCompliant || len(s.ComplianceIssues) != 0 {
		t.Errorf("expected clean compliant analysis, got issues %v", s.ComplianceIssues)
	}
	if s.AnalyzerVersion != chain.AnalyzerVersion || s.ProcessedAt.IsZero() {
		t.Errorf("summary metadata = %+v", s)
	}
	want := map[chain.DeviceType]int{chain.DevicePlugin: 1, chain.DeviceGroup: 1, chain.DeviceAudioUnit: 1}
	for k, v := range want {
		if s.DeviceTypeBreakdown[k] != v {
			t.Errorf("breakdown[%s] = %d, want %d", k, s.DeviceTypeBreakdown[k], v)
		}
	}
}

func TestAnalyze_DepthCorrectness(t *testing.T) {
	res, err := newTestEngine().Analyze("rack-1", []byte(nestedRack))
	if err != nil {
		t.Fatal(err)
	}
	byID := map[string]chain.Chain{}
	for _, c := range res.Chains {
		byID[c.ID] = c
	}
	for _, c := range res.Chains {
		if c.ParentChainID == "" {
			if c.DepthLevel != 0 {
				t.Errorf("root %s has depth %d", c.ID, c.DepthLevel)
			}
			continue
		}
		parent, ok := byID[c.ParentChainID]
		if !ok {
			t.Fatalf("parent %s of %s not found", c.ParentChainID, c.ID)
		}
		if c.DepthLevel != parent.DepthLevel+1 {
			t.Errorf("%s depth %d, parent depth %d", c.ID, c.DepthLevel, parent.DepthLevel)
		}
	}
}

func TestAnalyze_Idempotent(t *testing.T) {
	e := newTestEngine()
	first, err := e.Analyze("rack-1", []byte(nestedRack))
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.Analyze("rack-1", []byte(nestedRack))
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Chains) != len(second.Chains) {
		t.Fatalf("chain counts differ: %d vs %d", len(first.Chains), len(second.Chains))
	}
	for i := range first.Chains {
		a, b := first.Chains[i], second.Chains[i]
		if a.ID != b.ID || a.Type != b.Type || a.DeviceCount != b.DeviceCount {
			t.Errorf("chain %d differs: %+v vs %+v", i, a, b)
		}
	}
}

func TestAnalyze_RescanRecoversMissedChain(t *testing.T) {
	xml := `<Ableton><Tracks><AudioTrack><MixerChain><Devices><PluginDevice/></Devices></MixerChain></AudioTrack></Tracks></Ableton>`

	res, err := newTestEngine().Analyze("rack-1", []byte(xml))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Chains) != 1 {
		t.Fatalf("expected recovered chain, got %d", len(res.Chains))
	}
	c := res.Chains[0]
	if c.XMLPath != "/Ableton/Tracks/AudioTrack/MixerChain" || c.DeviceCount != 1 {
		t.Errorf("recovered chain = %+v", c)
	}
	// PluginDevice has no name fields, so the node name is used.
	if c.Devices[0].Name != "PluginDevice" {
		t.Errorf("device name fallback = %q", c.Devices[0].Name)
	}

	issues := strings.Join(res.Summary.ComplianceIssues, "\n")
	if !strings.Contains(issues, "Comprehensive scan detected 1 potentially missed chains") {
		t.Errorf("missing rescan issue: %v", res.Summary.ComplianceIssues)
	}
	if !strings.Contains(issues, "Recovered chain at /Ableton/Tracks/AudioTrack/MixerChain") {
		t.Errorf("missing recovered chain issue: %v", res.Summary.ComplianceIssues)
	}
	if res.Summary.ConstitutionalCompliant {
		t.Error("rescan recovery should mark the summary non-compliant")
	}
}

func TestAnalyze_RescanAttachesToEnclosingChain(t *testing.T) {
	xml := `<Ableton><DeviceChain><Devices><SideChain><Devices><AuDevice/></Devices></SideChain></Devices></DeviceChain></Ableton>`

	res, err := newTestEngine().Analyze("rack-1", []byte(xml))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Chains) != 2 {
		t.Fatalf("expected 2 chains, got %d", len(res.Chains))
	}
	side := res.Chains[1]
	if side.ParentChainID != res.Chains[0].ID || side.DepthLevel != 1 {
		t.Errorf("recovered chain not attached to enclosing chain: %+v", side)
	}
	if res.Chains[0].DeviceCount != 0 || side.DeviceCount != 1 {
		t.Errorf("device ownership: root %d, side %d", res.Chains[0].DeviceCount, side.DeviceCount)
	}
}

func TestAnalyze_DepthLimitHaltsBranch(t *testing.T) {
	const levels = 13
	xml := "<Ableton>" + strings.Repeat("<DeviceChain>", levels) + strings.Repeat("</DeviceChain>", levels) +
		"<EffectChain/></Ableton>"

	res, err := newTestEngine().Analyze("rack-1", []byte(xml))
	if err != nil {
		t.Fatal(err)
	}

	// Depths 0..10 are kept, plus the sibling effect chain.
	if len(res.Chains) != chain.MaxNestingDepth+2 {
		t.Fatalf("expected %d chains, got %d", chain.MaxNestingDepth+2, len(res.Chains))
	}
	if res.Summary.MaxNestingDepth != chain.MaxNestingDepth {
		t.Errorf("max depth = %d", res.Summary.MaxNestingDepth)
	}
	var depthIssues int
	for _, issue := range res.Summary.ComplianceIssues {
		if issue == "Chain nesting depth exceeded maximum limit (11 > 10)" {
			depthIssues++
		}
	}
	if depthIssues != 1 {
		t.Errorf("expected exactly one depth issue, got %v", res.Summary.ComplianceIssues)
	}
	if !res.Summary.AnalysisComplete {
		t.Error("depth limit must not fail the analysis")
	}
}

func TestAnalyze_ParseFailures(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"whitespace", "   \n"},
		{"mismatched", "<Ableton><DeviceChain></Ableton>"},
		{"unclosed", "<Ableton><DeviceChain>"},
		{"no_root", `<?xml version="1.0"?>`},
		{"two_roots", "<Ableton/><Other/>"},
		{"trailing_text", "<Ableton/>trailing junk"},
		{"leading_text", "junk<Ableton/>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := newTestEngine().Analyze("rack-1", []byte(tt.in))
			var pe *XMLParseError
			if !errors.As(err, &pe) {
				t.Fatalf("expected XMLParseError, got %v", err)
			}
			if !strings.HasPrefix(pe.Error(), "Failed to parse XML content: ") {
				t.Errorf("message = %q", pe.Error())
			}
			if res == nil || res.Summary.AnalysisComplete || res.Summary.Error == "" {
				t.Fatalf("expected failure summary, got %+v", res)
			}
			if len(res.Chains) != 0 {
				t.Errorf("no chains expected on failure, got %d", len(res.Chains))
			}
		})
	}
}

func TestParse_RootElement(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr string
	}{
		{"single_root", "<Ableton/>", ""},
		{"whitespace_and_comments", "<?xml version=\"1.0\"?>\n<!-- saved -->\n<Ableton/>\n<!-- end -->\n", ""},
		{"two_roots", "<Ableton/><Other/>", "Extra content at the end of the document"},
		{"trailing_text", "<Ableton/>trailing junk", "Extra content at the end of the document"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse([]byte(tt.in))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var pe *XMLParseError
			if !errors.As(err, &pe) {
				t.Fatalf("expected XMLParseError, got %v", err)
			}
			if !strings.Contains(pe.Error(), tt.wantErr) {
				t.Errorf("message = %q, want %q", pe.Error(), tt.wantErr)
			}
		})
	}
}

func TestAnalyze_BudgetOverrun(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := 0
	clock := func() time.Time {
		calls++
		return base.Add(time.Duration(calls-1) * 6 * time.Second)
	}

	res, err := newTestEngine(WithClock(clock)).Analyze("rack-1", []byte(nestedRack))
	if err != nil {
		t.Fatal(err)
	}
	if res.Summary.AnalysisDurationMS != 6000 {
		t.Errorf("duration = %v", res.Summary.AnalysisDurationMS)
	}
	if res.Summary.ConstitutionalCompliant {
		t.Error("overrun must clear constitutional_compliant")
	}
	want := "Analysis duration (6000ms) exceeded constitutional limit (5000ms)"
	last := res.Summary.ComplianceIssues[len(res.Summary.ComplianceIssues)-1]
	if last != want {
		t.Errorf("last issue = %q, want %q", last, want)
	}
	if len(res.Chains) != 2 {
		t.Errorf("overrun must still return a complete result, got %d chains", len(res.Chains))
	}
}

func TestAnalyze_NoChains(t *testing.T) {
	res, err := newTestEngine().Analyze("rack-1", []byte(`<Ableton><Tracks/></Ableton>`))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Summary.ComplianceIssues) != 1 ||
		res.Summary.ComplianceIssues[0] != "No chains detected - verify this is expected for this rack type" {
		t.Errorf("issues = %v", res.Summary.ComplianceIssues)
	}
	if res.Summary.ConstitutionalCompliant {
		t.Error("empty rack should not be constitutionally compliant")
	}
}

func TestAnalyze_DeviceAndChainDetails(t *testing.T) {
	xml := `<Ableton>
  <DeviceChain Id="7">
    <Sends/>
    <AutomationEnvelopes/>
    <MacroControls><MacroControl Id="0"><Manual Value="0.5"/></MacroControl></MacroControls>
    <Devices>
      <MxDeviceAudioEffect>
        <FileName Value="  Delay.amxd "/>
        <UserName Value="ignored"/>
        <Parameter Id="3"><Manual Value="1"/></Parameter>
      </MxDeviceAudioEffect>
      <DeviceSlot><Device><Name Value="Slotted"/></Device></DeviceSlot>
    </Devices>
  </DeviceChain>
</Ableton>`

	res, err := newTestEngine().Analyze("rack-1", []byte(xml))
	if err != nil {
		t.Fatal(err)
	}
	c := res.Chains[0]

	if len(c.Devices) != 2 {
		t.Fatalf("devices = %+v", c.Devices)
	}
	slot, mx := c.Devices[0], c.Devices[1]
	if slot.Name != "Slotted" || slot.Type != chain.DeviceUnknown || slot.Index != 0 {
		t.Errorf("slot device = %+v", slot)
	}
	if mx.Name != "Delay.amxd" || mx.Type != chain.DeviceMaxForLiveAudio || !mx.IsPluginLike || mx.Index != 1 {
		t.Errorf("max device = %+v", mx)
	}
	if mx.Parameters["3"] != "1" {
		t.Errorf("device parameters = %v", mx.Parameters)
	}
	if c.Parameters["macro_0"] != "0.5" {
		t.Errorf("chain parameters = %v", c.Parameters)
	}
	if !c.Metadata.HasSends || c.Metadata.HasReturns || !c.Metadata.HasAutomation {
		t.Errorf("metadata flags = %+v", c.Metadata)
	}
	if c.Metadata.Attributes["Id"] != "7" || c.Metadata.NodeName != "DeviceChain" {
		t.Errorf("metadata = %+v", c.Metadata)
	}
	if c.Type != chain.TypeAudioEffect {
		t.Errorf("chain type = %s", c.Type)
	}
}

func TestAnalyze_SiblingPathsAreDistinct(t *testing.T) {
	xml := `<Ableton><Branches><InstrumentBranch><DeviceChain/></InstrumentBranch><InstrumentBranch><DeviceChain/></InstrumentBranch></Branches></Ableton>`

	res, err := newTestEngine().Analyze("rack-1", []byte(xml))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Chains) != 2 {
		t.Fatalf("expected 2 chains, got %d", len(res.Chains))
	}
	if res.Chains[0].XMLPath != "/Ableton/Branches/InstrumentBranch[1]/DeviceChain" ||
		res.Chains[1].XMLPath != "/Ableton/Branches/InstrumentBranch[2]/DeviceChain" {
		t.Errorf("paths = %s, %s", res.Chains[0].XMLPath, res.Chains[1].XMLPath)
	}
	for _, c := range res.Chains {
		if c.Type != chain.TypeInstrument {
			t.Errorf("chain %s type = %s, want instrument", c.ID, c.Type)
		}
	}
}

func TestAnalyze_CustomRegistry(t *testing.T) {
	reg := DefaultRegistry()
	p, err := NewPattern("mixer_chain", "//MixerChain")
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(p); err != nil {
		t.Fatal(err)
	}

	xml := `<Ableton><MixerChain/></Ableton>`
	res, err := newTestEngine(WithRegistry(reg)).Analyze("rack-1", []byte(xml))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Chains) != 1 {
		t.Fatalf("expected 1 chain, got %d", len(res.Chains))
	}
	for _, issue := range res.Summary.ComplianceIssues {
		if strings.Contains(issue, "Comprehensive scan") {
			t.Errorf("registered pattern should make the rescan clean: %v", res.Summary.ComplianceIssues)
		}
	}
}

func TestChainID(t *testing.T) {
	id := ChainID("/Ableton/DeviceChain", 3)
	if id != "chain_03_2898bd3b" {
		t.Errorf("ChainID = %s", id)
	}
	if !regexp.MustCompile(`^chain_\d{2}_[0-9a-f]{8}$`).MatchString(ChainID("/x", 10)) {
		t.Errorf("unexpected id format")
	}
}

func TestHierarchyPreview(t *testing.T) {
	var chains []chain.Chain
	for i := 0; i < 12; i++ {
		chains = append(chains, chain.Chain{ID: fmt.Sprintf("root-%d", i)})
	}
	chains = append(chains, chain.Chain{ID: "child", ParentChainID: "root-0", DepthLevel: 1})

	preview := HierarchyPreview(chains)
	if len(preview) != MaxPreviewChains {
		t.Fatalf("preview length = %d", len(preview))
	}
	if !preview[0].HasChildren || preview[1].HasChildren {
		t.Errorf("has_children flags wrong: %+v", preview[:2])
	}
}
