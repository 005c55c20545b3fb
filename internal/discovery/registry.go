package discovery

import (
	"fmt"
	"sync"

	"github.com/antchfx/xpath"
)

// Pattern is a named structural matcher for chain or device nodes.
type Pattern struct {
	Name string
	Expr string

	compiled *xpath.Expr
}

// NewPattern compiles expr and returns a Pattern.
func NewPattern(name, expr string) (Pattern, error) {
	compiled, err := xpath.Compile(expr)
	if err != nil {
		return Pattern{}, fmt.Errorf("compile pattern %q: %w", name, err)
	}
	return Pattern{Name: name, Expr: expr, compiled: compiled}, nil
}

func mustPattern(name, expr string) Pattern {
	p, err := NewPattern(name, expr)
	if err != nil {
		panic(err)
	}
	return p
}

// Chain patterns evaluated from the document root. Order matters: the first
// pattern that matches a node is the one recorded for it.
var defaultChainPatterns = []Pattern{
	mustPattern("direct_device_chain", `//DeviceChain`),
	mustPattern("midi_controller_chain", `//MidiControllers//*[contains(name(), "Chain")]`),
	mustPattern("group_device_chain", `//GroupDevice//DeviceChain`),
	mustPattern("instrument_chain", `//InstrumentVector//DeviceChain`),
	mustPattern("drum_pad_chain", `//DrumPadVector//DeviceChain`),
	mustPattern("effect_chain", `//EffectChain`),
	mustPattern("send_chain", `//SendsListWrapper//DeviceChain`),
	mustPattern("return_chain", `//ReturnVectorCluster//DeviceChain`),
	mustPattern("input_routing_chain", `//InputRouting//DeviceChain`),
	mustPattern("output_routing_chain", `//OutputRouting//DeviceChain`),
}

// Nested patterns are evaluated relative to a chain node and never match the node itself.
var nestedChainPatterns = []Pattern{
	mustPattern("nested_device_chain", `.//DeviceChain`),
	mustPattern("nested_group_chain", `.//GroupDevice//DeviceChain`),
	mustPattern("nested_instrument_chain", `.//InstrumentVector//DeviceChain`),
	mustPattern("nested_drum_pad_chain", `.//DrumPadVector//DeviceChain`),
}

var devicePatterns = []Pattern{
	mustPattern("slot_device", `.//DeviceSlot//Device`),
	mustPattern("bare_device", `.//Device[not(ancestor::DeviceSlot)]`),
	mustPattern("max_audio_effect", `.//MxDeviceAudioEffect`),
	mustPattern("max_midi_effect", `.//MxDeviceMidiEffect`),
	mustPattern("plugin_device", `.//PluginDevice`),
	mustPattern("group_device", `.//GroupDevice`),
	mustPattern("audio_unit_device", `.//AuDevice`),
}

// rescanPattern finds every node whose name suggests a chain.
var rescanPattern = mustPattern("comprehensive_scan", `//*[contains(name(), "Chain")]`)

var (
	parameterPattern = mustPattern("device_parameter", `.//Parameter`)
	macroPattern     = mustPattern("macro_control", `.//MacroControls//MacroControl`)
)

// Registry stores the ordered list of chain patterns used by an Engine.
type Registry struct {
	mu       sync.RWMutex
	patterns []Pattern
	names    map[string]struct{}
}

// NewRegistry creates an empty pattern registry.
func NewRegistry() *Registry {
	return &Registry{names: make(map[string]struct{})}
}

// DefaultRegistry returns a registry holding the built-in chain patterns.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, p := range defaultChainPatterns {
		if err := r.Register(p); err != nil {
			panic(err)
		}
	}
	return r
}

// Register appends a pattern. Names must be unique.
func (r *Registry) Register(p Pattern) error {
	if p.compiled == nil {
		compiled, err := NewPattern(p.Name, p.Expr)
		if err != nil {
			return err
		}
		p = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.names[p.Name]; ok {
		return fmt.Errorf("pattern %q already registered", p.Name)
	}
	r.names[p.Name] = struct{}{}
	r.patterns = append(r.patterns, p)
	return nil
}

// Patterns returns a copy of the registered patterns in registration order.
func (r *Registry) Patterns() []Pattern {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Pattern, len(r.patterns))
	copy(out, r.patterns)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.patterns)
}
