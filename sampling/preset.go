package sampling

import "sort"

// Capture geometries of common hardware. The 13.5 MHz presets match
// ITU-R BT.601 luma sampling, the 27 MHz ones the oversampled VBI mode of
// many capture chips.
var presets = map[string]Parameters{
	"pal-13.5": {
		Scanning: 625, Format: YUV420, SamplingRate: 13_500_000,
		BytesPerLine: 720, Offset: 128,
		Start: [2]int{6, 318}, Count: [2]int{17, 17},
		Synchronous: true,
	},
	"pal-27": {
		Scanning: 625, Format: YUYV, SamplingRate: 27_000_000,
		BytesPerLine: 2 * 1440, Offset: 256,
		Start: [2]int{6, 318}, Count: [2]int{17, 17},
		Synchronous: true,
	},
	"ntsc-13.5": {
		Scanning: 525, Format: YUV420, SamplingRate: 13_500_000,
		BytesPerLine: 720, Offset: 128,
		Start: [2]int{10, 272}, Count: [2]int{12, 12},
		Synchronous: true,
	},
	"ntsc-27": {
		Scanning: 525, Format: YUYV, SamplingRate: 27_000_000,
		BytesPerLine: 2 * 1440, Offset: 256,
		Start: [2]int{10, 272}, Count: [2]int{12, 12},
		Synchronous: true,
	},
	// Line 21 of both fields, interlaced, as carried in MPEG user data
	// by some DVD and broadcast encoders.
	"line21": {
		Scanning: 525, Format: YUV420, SamplingRate: 13_500_000,
		BytesPerLine: 720, Offset: 130,
		Start: [2]int{21, 284}, Count: [2]int{1, 1},
		Interlaced: true, Synchronous: true,
	},
}

// Preset returns a named capture geometry.
func Preset(name string) (Parameters, bool) {
	p, ok := presets[name]
	return p, ok
}

// PresetNames lists the known preset names in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
