package slicer

import "github.com/zsiec/rawvbi/sampling"

// layout is the rule for reading the sliced channel out of a raw line.
type layout int

const (
	layoutY8 layout = iota
	layoutYUYV
	layoutUYVY
	layoutRGB24
	layoutRGBA32LE
	layoutRGBA32BE
	layoutRGB16LE
	layoutRGB16BE
)

func (l layout) String() string {
	switch l {
	case layoutY8:
		return "y8"
	case layoutYUYV:
		return "yuyv"
	case layoutUYVY:
		return "uyvy"
	case layoutRGB24:
		return "rgb24"
	case layoutRGBA32LE:
		return "rgba32le"
	case layoutRGBA32BE:
		return "rgba32be"
	case layoutRGB16LE:
		return "rgb16le"
	case layoutRGB16BE:
		return "rgb16be"
	}
	return "unknown"
}

func layoutOf(f sampling.PixelFormat) (layout, bool) {
	switch f {
	case sampling.YUV420:
		return layoutY8, true
	case sampling.YUYV, sampling.YVYU:
		return layoutYUYV, true
	case sampling.UYVY, sampling.VYUY:
		return layoutUYVY, true
	case sampling.RGB24, sampling.BGR24:
		return layoutRGB24, true
	case sampling.RGBA32LE, sampling.BGRA32LE:
		return layoutRGBA32LE, true
	case sampling.RGBA32BE, sampling.BGRA32BE:
		return layoutRGBA32BE, true
	}
	if f.Packed16() {
		if f.BigEndian() {
			return layoutRGB16BE, true
		}
		return layoutRGB16LE, true
	}
	return 0, false
}

// line reads channel values of one raw line. Reads past the last sample
// return the last sample.
type line struct {
	raw  []byte
	n    int
	bps  int
	off  int
	lay  layout
	mask int
}

func (l *line) at(k int) int {
	if k >= l.n {
		k = l.n - 1
	}
	i := l.off + k*l.bps
	switch l.lay {
	case layoutRGB16LE:
		return (int(l.raw[i]) | int(l.raw[i+1])<<8) & l.mask
	case layoutRGB16BE:
		return (int(l.raw[i])<<8 | int(l.raw[i+1])) & l.mask
	default:
		return int(l.raw[i])
	}
}

// sum returns the sum of width samples starting at k.
func (l *line) sum(k, width int) int {
	s := 0
	for m := 0; m < width; m++ {
		s += l.at(k + m)
	}
	return s
}
