// Package sampling describes the geometry of a raw VBI capture and checks it
// against the line numbering rules of the 525- and 625-line video standards.
package sampling

import "fmt"

// StandardSet is a bit set of video standards.
type StandardSet uint64

// Video standard sets. PAL B/G is the only 625-line standard the service
// catalog distinguishes, so it shares the 625/50 bit.
const (
	Set625_50 StandardSet = 1 << 0
	Set525_60 StandardSet = 1 << 1
	SetPAL_BG             = Set625_50
)

func (s StandardSet) String() string {
	switch s {
	case Set625_50:
		return "625/50"
	case Set525_60:
		return "525/60"
	case Set625_50 | Set525_60:
		return "525/60+625/50"
	case 0:
		return "none"
	}
	return fmt.Sprintf("StandardSet(%#x)", uint64(s))
}

// Line bounds of each field, inclusive, by scanning system.
var fieldBounds = map[int][2][2]int{
	525: {{1, 262}, {263, 525}},
	625: {{1, 311}, {312, 625}},
}

// Parameters describes how raw VBI lines were sampled.
//
// Start holds the first broadcast line number captured in each field, or 0
// when unknown. Count holds the number of lines captured per field. When
// Interlaced is set the lines of both fields alternate in the frame buffer,
// otherwise all field 1 lines precede the field 2 lines.
type Parameters struct {
	Scanning     int
	Format       PixelFormat
	SamplingRate int
	BytesPerLine int
	Offset       int
	Start        [2]int
	Count        [2]int
	Interlaced   bool
	Synchronous  bool
}

// Standards derives the video standard set from the scanning system.
func (p Parameters) Standards() StandardSet {
	switch p.Scanning {
	case 525:
		return Set525_60
	case 625:
		return Set625_50
	}
	return 0
}

// SamplesPerLine returns the number of samples in one captured line.
func (p Parameters) SamplesPerLine() int {
	bps := p.Format.BytesPerSample()
	if bps == 0 {
		return 0
	}
	return p.BytesPerLine / bps
}

// LineCount returns the number of lines in one frame.
func (p Parameters) LineCount() int {
	return p.Count[0] + p.Count[1]
}

// FrameSize returns the number of bytes Decode expects per frame.
func (p Parameters) FrameSize() int {
	return p.BytesPerLine * p.LineCount()
}

// LineNumber returns the broadcast line number of the i-th line of a frame,
// counting field 1 lines first, or 0 when line numbers are not known.
func (p Parameters) LineNumber(i int) int {
	if !p.Synchronous {
		return 0
	}
	if i < p.Count[0] {
		if p.Start[0] == 0 {
			return 0
		}
		return p.Start[0] + i
	}
	if p.Start[1] == 0 {
		return 0
	}
	return p.Start[1] + i - p.Count[0]
}

// Validate checks the parameters and returns the video standard set they
// describe. Failures are reported as *ValidationError.
func Validate(p Parameters) (StandardSet, error) {
	bps := p.Format.BytesPerSample()
	if bps == 0 {
		return 0, &ValidationError{Field: "format", Detail: p.Format.String(), Err: ErrFormat}
	}
	if p.Format != YUV420 && p.BytesPerLine%bps != 0 {
		return 0, &ValidationError{
			Field:  "bytes_per_line",
			Detail: fmt.Sprintf("%d is no multiple of the sample size %d", p.BytesPerLine, bps),
			Err:    ErrBytesPerLine,
		}
	}
	if p.BytesPerLine <= 0 {
		return 0, &ValidationError{Field: "bytes_per_line", Detail: "zero samples per line", Err: ErrBytesPerLine}
	}
	if p.SamplingRate <= 0 {
		return 0, &ValidationError{Field: "sampling_rate", Detail: fmt.Sprintf("%d Hz", p.SamplingRate), Err: ErrSamplingRate}
	}
	if p.Count[0] < 0 || p.Count[1] < 0 || p.Start[0] < 0 || p.Start[1] < 0 {
		return 0, &ValidationError{Field: "count", Detail: p.rangeString(), Err: ErrLineRange}
	}
	if p.Count[0] == 0 && p.Count[1] == 0 {
		return 0, &ValidationError{Field: "count", Detail: p.rangeString(), Err: ErrNoLines}
	}

	set := p.Standards()
	bounds, ok := fieldBounds[p.Scanning]
	if set == 0 || !ok {
		return 0, &ValidationError{Field: "scanning", Detail: fmt.Sprintf("%d lines", p.Scanning), Err: ErrScanning}
	}
	for f := 0; f < 2; f++ {
		if lines := bounds[f][1] - bounds[f][0] + 1; p.Count[f] > lines {
			return 0, &ValidationError{
				Field:  fmt.Sprintf("count[%d]", f),
				Detail: fmt.Sprintf("%d lines in a field of %d", p.Count[f], lines),
				Err:    ErrLineRange,
			}
		}
		if p.Start[f] == 0 {
			continue
		}
		if !inRange(p.Start[f], p.Count[f], bounds[f][0], bounds[f][1]) {
			return 0, &ValidationError{
				Field:  fmt.Sprintf("start[%d]", f),
				Detail: p.rangeString(),
				Err:    ErrLineRange,
			}
		}
	}

	if p.Interlaced && (p.Count[0] != p.Count[1] || p.Count[0] == 0) {
		return 0, &ValidationError{
			Field:  "count",
			Detail: fmt.Sprintf("line counts %d, %d", p.Count[0], p.Count[1]),
			Err:    ErrInterlace,
		}
	}
	return set, nil
}

// inRange reports whether lines start..start+count-1 lie within min..max.
func inRange(start, count, min, max int) bool {
	return start >= min && start+count-1 <= max
}

func (p Parameters) rangeString() string {
	return fmt.Sprintf("%d-%d (%d lines), %d-%d (%d lines)",
		p.Start[0], p.Start[0]+p.Count[0]-1, p.Count[0],
		p.Start[1], p.Start[1]+p.Count[1]-1, p.Count[1])
}
