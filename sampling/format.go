package sampling

import (
	"fmt"
	"strings"
)

// PixelFormat identifies the memory layout of one raw VBI sample.
type PixelFormat int

// Supported sample formats. YUV420 means the luma plane only, one byte per
// sample; the packed YUV formats carry luma in every other byte; for RGB
// formats the green channel is sliced.
const (
	FormatUnknown PixelFormat = iota
	YUV420
	YUYV
	YVYU
	UYVY
	VYUY
	RGBA32LE
	RGBA32BE
	BGRA32LE
	BGRA32BE
	RGB24
	BGR24
	RGB16LE
	RGB16BE
	BGR16LE
	BGR16BE
	RGBA15LE
	RGBA15BE
	BGRA15LE
	BGRA15BE
	ARGB15LE
	ARGB15BE
	ABGR15LE
	ABGR15BE
)

var formatNames = map[PixelFormat]string{
	YUV420:   "yuv420",
	YUYV:     "yuyv",
	YVYU:     "yvyu",
	UYVY:     "uyvy",
	VYUY:     "vyuy",
	RGBA32LE: "rgba32le",
	RGBA32BE: "rgba32be",
	BGRA32LE: "bgra32le",
	BGRA32BE: "bgra32be",
	RGB24:    "rgb24",
	BGR24:    "bgr24",
	RGB16LE:  "rgb16le",
	RGB16BE:  "rgb16be",
	BGR16LE:  "bgr16le",
	BGR16BE:  "bgr16be",
	RGBA15LE: "rgba15le",
	RGBA15BE: "rgba15be",
	BGRA15LE: "bgra15le",
	BGRA15BE: "bgra15be",
	ARGB15LE: "argb15le",
	ARGB15BE: "argb15be",
	ABGR15LE: "abgr15le",
	ABGR15BE: "abgr15be",
}

func (f PixelFormat) String() string {
	if s, ok := formatNames[f]; ok {
		return s
	}
	return fmt.Sprintf("PixelFormat(%d)", int(f))
}

// ParsePixelFormat maps a lower-case format name such as "yuyv" or
// "rgb16le" to its PixelFormat.
func ParsePixelFormat(s string) (PixelFormat, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for f, name := range formatNames {
		if name == s {
			return f, nil
		}
	}
	return FormatUnknown, fmt.Errorf("%w: %q", ErrFormat, s)
}

// BytesPerSample returns the size of one sample in bytes, or 0 for an
// unknown format.
func (f PixelFormat) BytesPerSample() int {
	switch f {
	case YUV420:
		return 1
	case YUYV, YVYU, UYVY, VYUY:
		return 2
	case RGB24, BGR24:
		return 3
	case RGBA32LE, RGBA32BE, BGRA32LE, BGRA32BE:
		return 4
	case RGB16LE, RGB16BE, BGR16LE, BGR16BE,
		RGBA15LE, RGBA15BE, BGRA15LE, BGRA15BE,
		ARGB15LE, ARGB15BE, ABGR15LE, ABGR15BE:
		return 2
	}
	return 0
}

// Packed16 reports whether samples are 16-bit words whose green bits must
// be masked out rather than read as a byte.
func (f PixelFormat) Packed16() bool {
	switch f {
	case RGB16LE, RGB16BE, BGR16LE, BGR16BE,
		RGBA15LE, RGBA15BE, BGRA15LE, BGRA15BE,
		ARGB15LE, ARGB15BE, ABGR15LE, ABGR15BE:
		return true
	}
	return false
}

// BigEndian reports whether a 16-bit or 32-bit packed sample is stored
// most significant byte first.
func (f PixelFormat) BigEndian() bool {
	switch f {
	case RGBA32BE, BGRA32BE, RGB16BE, BGR16BE,
		RGBA15BE, BGRA15BE, ARGB15BE, ABGR15BE:
		return true
	}
	return false
}

// GreenMask returns the bits of a 16-bit sample holding the green channel,
// or 0 for formats with a byte-wide channel.
func (f PixelFormat) GreenMask() uint16 {
	switch f {
	case RGB16LE, RGB16BE, BGR16LE, BGR16BE:
		return 0x07E0
	case RGBA15LE, RGBA15BE, BGRA15LE, BGRA15BE:
		return 0x03E0
	case ARGB15LE, ARGB15BE, ABGR15LE, ABGR15BE:
		return 0x07C0
	}
	return 0
}

// ChannelOffset returns the byte offset of the sliced channel within a
// sample for byte-wide formats.
func (f PixelFormat) ChannelOffset() int {
	switch f {
	case UYVY, VYUY:
		return 1
	case RGBA32LE, BGRA32LE:
		return 1
	case RGBA32BE, BGRA32BE:
		return 2
	case RGB24, BGR24:
		return 1
	}
	return 0
}
