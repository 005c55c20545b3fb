package discovery

import (
	"strings"

	"github.com/efebarandurmaz/rackscan/internal/chain"
)

// deviceTypes maps the XML node kind of a device to its type.
var deviceTypes = map[string]chain.DeviceType{
	"MxDeviceAudioEffect": chain.DeviceMaxForLiveAudio,
	"MxDeviceMidiEffect":  chain.DeviceMaxForLiveMidi,
	"PluginDevice":        chain.DevicePlugin,
	"GroupDevice":         chain.DeviceGroup,
	"AuDevice":            chain.DeviceAudioUnit,
	"DeviceSlot":          chain.DeviceSlot,
}

// DeviceTypeFor resolves a node name through the device type table.
func DeviceTypeFor(nodeName string) chain.DeviceType {
	if t, ok := deviceTypes[nodeName]; ok {
		return t
	}
	return chain.DeviceUnknown
}

// IsPluginLike reports whether devices of this node kind are Max for Live devices.
func IsPluginLike(nodeName string) bool {
	return nodeName == "MxDeviceAudioEffect" || nodeName == "MxDeviceMidiEffect"
}

// deviceNameFields are tried in order; the first non-empty @Value wins.
var deviceNameFields = []string{"OriginalName", "FileName", "Name", "UserName", "DeviceName"}

type hint struct {
	substr string
	typ    chain.Type
}

// containerHints classify a chain from its parent node name. Checked in order.
var containerHints = []hint{
	{"Instrument", chain.TypeInstrument},
	{"DrumPad", chain.TypeDrumPad},
	{"Effect", chain.TypeAudioEffect},
	{"Midi", chain.TypeMidiEffect},
}

// deviceHints classify a chain from the lowercased type of its devices.
var deviceHints = []hint{
	{"instrument", chain.TypeInstrument},
	{"midi", chain.TypeMidiEffect},
}

// ClassifyChain picks a chain type: container hints first, then device hints,
// then audio_effect for non-empty chains and unknown otherwise.
func ClassifyChain(parentName string, devices []chain.Device) chain.Type {
	for _, h := range containerHints {
		if strings.Contains(parentName, h.substr) {
			return h.typ
		}
	}
	for _, d := range devices {
		dt := strings.ToLower(string(d.Type))
		for _, h := range deviceHints {
			if strings.Contains(dt, h.substr) {
				return h.typ
			}
		}
	}
	if len(devices) > 0 {
		return chain.TypeAudioEffect
	}
	return chain.TypeUnknown
}
