package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/efebarandurmaz/rackscan/internal/chain"
	"github.com/efebarandurmaz/rackscan/internal/compliance"
	"github.com/efebarandurmaz/rackscan/internal/discovery"
	"github.com/efebarandurmaz/rackscan/internal/service"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatText, false},
		{"TEXT", FormatText, false},
		{"json", FormatJSON, false},
		{"yml", FormatYAML, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestEncode_YAMLKeepsJSONNames(t *testing.T) {
	r := &compliance.Report{RackID: "r1", Compliant: true, Issues: []string{}}
	var buf bytes.Buffer
	if err := Encode(&buf, FormatYAML, r); err != nil {
		t.Fatal(err)
	}

	var got map[string]any
	if err := yaml.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not YAML: %v\n%s", err, buf.String())
	}
	if got["rack_id"] != "r1" || got["compliant"] != true {
		t.Errorf("unexpected yaml document: %v", got)
	}
}

func TestEncode_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, FormatJSON, map[string]int{"racks": 3}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"racks": 3`) {
		t.Errorf("expected indented json, got %s", buf.String())
	}
	if err := Encode(&buf, FormatText, nil); err == nil {
		t.Error("text is not a data encoding")
	}
}

func TestAnalysis_Text(t *testing.T) {
	out := &service.Outcome{
		Rack: chain.Rack{ID: "r1", Name: "Drums"},
		Summary: chain.Summary{
			TotalChainsDetected: 2,
			TotalDevices:        3,
			DeviceTypeBreakdown: map[chain.DeviceType]int{chain.DevicePlugin: 1, chain.DeviceGroup: 2},
			AnalysisComplete:    true,
		},
		Preview: []discovery.PreviewEntry{{ChainID: "chain_00_aaaa", ChainType: chain.TypeInstrument, DeviceCount: 2, HasChildren: true}},
		Report:  &compliance.Report{Issues: []string{"Missing processing timestamp"}},
	}
	var buf bytes.Buffer
	Analysis(&buf, out)
	s := buf.String()
	for _, want := range []string{"RACK ANALYSIS", "Drums", "chain_00_aaaa", "plugin", "Missing processing timestamp"} {
		if !strings.Contains(s, want) {
			t.Errorf("missing %q in:\n%s", want, s)
		}
	}
	if strings.Index(s, "group") > strings.Index(s, "plugin") {
		t.Error("device types should be sorted")
	}
}

func TestPlatform_Text(t *testing.T) {
	r := &compliance.PlatformReport{
		GeneratedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Platform:    compliance.PlatformSummary{TotalRacks: 10, AnalyzedRacks: 4, CoveragePercent: 40},
		Trends:      compliance.Trends{Direction: "improving"},
		Breakdown:   compliance.Breakdown{CommonIssues: []compliance.IssueCount{{Issue: "Chain count mismatch", Count: 2}}},
	}
	var buf bytes.Buffer
	Platform(&buf, r)
	s := buf.String()
	for _, want := range []string{"PLATFORM COMPLIANCE", "4 (40.0%)", "improving", "Chain count mismatch"} {
		if !strings.Contains(s, want) {
			t.Errorf("missing %q in:\n%s", want, s)
		}
	}
}

func TestHierarchy_Text(t *testing.T) {
	roots := []*service.Node{{
		ChainID: "root", ChainType: chain.TypeAudioEffect, DeviceCount: 1,
		Devices:  []chain.Device{{Name: "EQ", Type: chain.DevicePlugin}},
		Children: []*service.Node{{ChainID: "child", ChainType: chain.TypeUnknown}},
	}}
	var buf bytes.Buffer
	Hierarchy(&buf, roots)
	want := "└── root [audio_effect] 1 devices\n    · EQ (plugin)\n    └── child [unknown] 0 devices\n"
	if buf.String() != want {
		t.Errorf("got:\n%s\nwant:\n%s", buf.String(), want)
	}

	buf.Reset()
	Hierarchy(&buf, nil)
	if buf.String() != "(no chains)\n" {
		t.Errorf("empty hierarchy = %q", buf.String())
	}
}
