package vector

import (
	"math"

	"github.com/efebarandurmaz/rackscan/internal/chain"
)

var (
	chainTypes = []chain.Type{
		chain.TypeInstrument, chain.TypeDrumPad, chain.TypeAudioEffect,
		chain.TypeMidiEffect, chain.TypeUnknown,
	}
	deviceTypes = []chain.DeviceType{
		chain.DeviceMaxForLiveAudio, chain.DeviceMaxForLiveMidi, chain.DevicePlugin,
		chain.DeviceGroup, chain.DeviceAudioUnit, chain.DeviceSlot, chain.DeviceUnknown,
	}
)

// depthBuckets covers depths 0..4 individually and 5+ together.
const depthBuckets = 6

// Dimensions is the length of every fingerprint.
var Dimensions = len(chainTypes) + len(deviceTypes) + depthBuckets + 7

// Fingerprint encodes a rack's chain structure as a fixed-length vector.
// The type and depth sections are distributions, so racks of different
// sizes with the same layout score close together.
func Fingerprint(summary *chain.Summary, chains []chain.Chain) []float32 {
	v := make([]float32, 0, Dimensions)

	n := float32(len(chains))
	frac := func(k int) float32 {
		if n == 0 {
			return 0
		}
		return float32(k) / n
	}

	byType := map[chain.Type]int{}
	depth := make([]int, depthBuckets)
	var empty, sends, returns, automation int
	for _, c := range chains {
		byType[c.Type]++
		d := c.DepthLevel
		if d >= depthBuckets {
			d = depthBuckets - 1
		}
		if d >= 0 {
			depth[d]++
		}
		if c.IsEmpty {
			empty++
		}
		if c.Metadata.HasSends {
			sends++
		}
		if c.Metadata.HasReturns {
			returns++
		}
		if c.Metadata.HasAutomation {
			automation++
		}
	}
	for _, t := range chainTypes {
		v = append(v, frac(byType[t]))
	}

	var devTotal int
	if summary != nil {
		for _, c := range summary.DeviceTypeBreakdown {
			devTotal += c
		}
	}
	for _, t := range deviceTypes {
		if devTotal == 0 {
			v = append(v, 0)
			continue
		}
		v = append(v, float32(summary.DeviceTypeBreakdown[t])/float32(devTotal))
	}

	for _, c := range depth {
		v = append(v, frac(c))
	}

	var totalDevices, maxDepth int
	if summary != nil {
		totalDevices = summary.TotalDevices
		maxDepth = summary.MaxNestingDepth
	}
	v = append(v,
		float32(math.Log1p(float64(len(chains)))/math.Log1p(100)),
		float32(math.Log1p(float64(totalDevices))/math.Log1p(500)),
		float32(maxDepth)/float32(chain.MaxNestingDepth),
		frac(empty),
		frac(sends),
		frac(returns),
		frac(automation),
	)
	return v
}

// Cosine returns the cosine similarity of a and b, or 0 if either is zero.
func Cosine(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
