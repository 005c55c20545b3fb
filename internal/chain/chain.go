package chain

import (
	"time"
)

// Fixed limits embedded in every analysis. They are not runtime-tunable.
const (
	MaxAnalysisDurationMS = 5000
	MaxNestingDepth       = 10
	AnalyzerVersion       = "1.0.0"
	ConstitutionalVersion = "1.1.0"
)

// Rack is one analyzed document.
type Rack struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	ImportedAt time.Time `json:"imported_at"`
}

// Type classifies a chain by its structural role.
type Type string

const (
	TypeInstrument  Type = "instrument"
	TypeDrumPad     Type = "drum_pad"
	TypeAudioEffect Type = "audio_effect"
	TypeMidiEffect  Type = "midi_effect"
	TypeUnknown     Type = "unknown"
)

// DeviceType classifies a device by the XML node kind that declared it.
type DeviceType string

const (
	DeviceMaxForLiveAudio DeviceType = "max_for_live_audio"
	DeviceMaxForLiveMidi  DeviceType = "max_for_live_midi"
	DevicePlugin          DeviceType = "plugin"
	DeviceGroup           DeviceType = "group"
	DeviceAudioUnit       DeviceType = "audio_unit"
	DeviceSlot            DeviceType = "device_slot"
	DeviceUnknown         DeviceType = "unknown"
)

// Chain represents one chain-shaped node in a rack document.
type Chain struct {
	ID            string            `json:"chain_id"`
	RackID        string            `json:"rack_id"`
	XMLPath       string            `json:"xml_path"`
	ParentChainID string            `json:"parent_chain_id,omitempty"`
	DepthLevel    int               `json:"depth_level"`
	DeviceCount   int               `json:"device_count"`
	IsEmpty       bool              `json:"is_empty"`
	Type          Type              `json:"chain_type"`
	Devices       []Device          `json:"devices"`
	Parameters    map[string]string `json:"parameters,omitempty"`
	Metadata      Metadata          `json:"metadata"`
	AnalyzedAt    time.Time         `json:"analyzed_at"`
}

// IsRoot reports whether the chain has no parent.
func (c *Chain) IsRoot() bool {
	return c.ParentChainID == ""
}

// Compliant reports whether the chain carries the identification data
// required for traceability.
func (c *Chain) Compliant() bool {
	return !c.AnalyzedAt.IsZero() && c.XMLPath != "" && c.ID != ""
}

// DisplayName is the label used in hierarchical paths.
func (c *Chain) DisplayName() string {
	if c.Metadata.NodeName != "" {
		return c.Metadata.NodeName + "[" + c.ID + "]"
	}
	return c.ID
}

// Metadata holds structural flags of a chain node.
type Metadata struct {
	NodeName      string            `json:"node_name"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	HasSends      bool              `json:"has_sends"`
	HasReturns    bool              `json:"has_returns"`
	HasAutomation bool              `json:"has_automation"`
}

// Device is a processing unit within a chain.
type Device struct {
	Name         string            `json:"name"`
	Type         DeviceType        `json:"device_type"`
	Index        int               `json:"index"`
	IsPluginLike bool              `json:"is_plugin_like"`
	NodeName     string            `json:"node_name"`
	Parameters   map[string]string `json:"parameters,omitempty"`
}

// Summary is produced once per rack per analysis run.
type Summary struct {
	RackID                  string             `json:"rack_id"`
	TotalChainsDetected     int                `json:"total_chains_detected"`
	MaxNestingDepth         int                `json:"max_nesting_depth"`
	TotalDevices            int                `json:"total_devices"`
	DeviceTypeBreakdown     map[DeviceType]int `json:"device_type_breakdown"`
	HasNestedChains         bool               `json:"has_nested_chains"`
	AnalysisDurationMS      float64            `json:"analysis_duration_ms"`
	ComplianceIssues        []string           `json:"compliance_issues"`
	ConstitutionalCompliant bool               `json:"constitutional_compliant"`
	ProcessedAt             time.Time          `json:"processed_at"`
	AnalyzerVersion         string             `json:"analyzer_version"`
	AnalysisComplete        bool               `json:"analysis_complete"`
	Error                   string             `json:"error,omitempty"`
}
