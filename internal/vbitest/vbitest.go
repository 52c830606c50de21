// Package vbitest synthesizes raw VBI lines for tests.
package vbitest

import (
	"math"

	"github.com/zsiec/rawvbi/sampling"
	"github.com/zsiec/rawvbi/service"
)

// Cell is one constant-level stretch of a transmitted signal.
type Cell struct {
	Dur  float64 // seconds
	High bool
}

// Bits returns the n low bits of v, most significant first.
func Bits(v uint64, n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = v>>(n-1-i)&1 != 0
	}
	return out
}

// PayloadBits returns the first n bits of data in transmission order. With
// msbFirst each byte is sent from its most significant bit; a trailing
// partial byte is sent from bit n%8-1 down.
func PayloadBits(data []byte, n int, msbFirst bool) []bool {
	out := make([]bool, n)
	for j := range out {
		q, r := j/8, j%8
		if msbFirst {
			w := 8
			if q == n/8 {
				w = n % 8
			}
			out[j] = data[q]>>(w-1-r)&1 != 0
		} else {
			out[j] = data[q]>>r&1 != 0
		}
	}
	return out
}

// NRZ returns one cell per bit at rate bits per second.
func NRZ(rate int, bits []bool) []Cell {
	d := 1 / float64(rate)
	cells := make([]Cell, len(bits))
	for i, b := range bits {
		cells[i] = Cell{Dur: d, High: b}
	}
	return cells
}

// Biphase returns two half cells per bit at rate bits per second, the bit
// followed by its complement.
func Biphase(rate int, bits []bool) []Cell {
	d := 0.5 / float64(rate)
	cells := make([]Cell, 0, 2*len(bits))
	for _, b := range bits {
		cells = append(cells, Cell{Dur: d, High: b}, Cell{Dur: d, High: !b})
	}
	return cells
}

// Service returns the cells of one transmission of service d carrying
// payload: the clock run-in and framing code followed by the payload bits.
// payload must hold at least d.PayloadBytes() bytes.
func Service(d *service.Descriptor, payload []byte) []Cell {
	cells := NRZ(d.CRIRate, Bits(uint64(d.CRIFRC>>d.FRCBits), d.CRIBits))
	cells = append(cells, NRZ(d.BitRate, Bits(uint64(d.FRC()), d.FRCBits))...)
	bits := PayloadBits(payload, d.PayloadBits, d.Modulation.MSBFirst())
	if d.Modulation.Biphase() {
		return append(cells, Biphase(d.BitRate, bits)...)
	}
	return append(cells, NRZ(d.BitRate, bits)...)
}

// Signal describes the analog rendition of a cell sequence.
type Signal struct {
	Rate  int     // samples per second
	Start float64 // seconds from the first sample to the first cell
	Low   float64
	High  float64
	Ramp  float64 // share of each cell spent in transitions, 0 for square edges
	Drift float64 // level added per sample
	// Invert swaps the low and high levels.
	Invert bool
}

// Levels renders cells into n sample levels. The line idles at the low
// level before and after the signal.
func (s Signal) Levels(cells []Cell, n int) []float64 {
	starts := make([]float64, len(cells))
	t := s.Start
	for i, c := range cells {
		starts[i] = t
		t += c.Dur
	}
	val := func(i int) float64 {
		if i >= 0 && i < len(cells) && cells[i].High {
			return 1
		}
		return 0
	}

	out := make([]float64, n)
	j := 0
	for k := range out {
		tt := float64(k) / float64(s.Rate)
		for j < len(cells) && starts[j]+cells[j].Dur <= tt {
			j++
		}
		var v float64
		switch {
		case j >= len(cells):
		case tt < starts[j]:
			w := s.Ramp * cells[0].Dur / 2
			if w > 0 && starts[0]-tt < w {
				v = val(0) * (0.5 - 0.5*(starts[0]-tt)/w)
			}
		default:
			c0, d, cv := starts[j], cells[j].Dur, val(j)
			w := s.Ramp * d / 2
			v = cv
			if w > 0 {
				if tt-c0 < w {
					pv := val(j - 1)
					v = pv + (cv-pv)*(0.5+0.5*(tt-c0)/w)
				} else if c0+d-tt < w {
					nv := val(j + 1)
					v = nv + (cv-nv)*(0.5+0.5*(c0+d-tt)/w)
				}
			}
		}
		level := s.Low + s.Drift*float64(k) + (s.High-s.Low)*v
		if s.Invert {
			level = s.Low + s.High - level
		}
		out[k] = level
	}
	return out
}

// Line renders cells as one raw line of n samples in format f.
func (s Signal) Line(f sampling.PixelFormat, cells []Cell, n int) []byte {
	return Encode(f, s.Levels(cells, n))
}

// Encode stores levels as raw samples. The sliced channel carries the
// level, other channels a constant.
func Encode(f sampling.PixelFormat, levels []float64) []byte {
	bps := f.BytesPerSample()
	out := make([]byte, len(levels)*bps)
	for k, l := range levels {
		y := clamp(l)
		s := out[k*bps : (k+1)*bps]
		if f.Packed16() {
			mask := f.GreenMask()
			var g uint16
			switch mask {
			case 0x07E0:
				g = uint16(y>>2) << 5
			case 0x03E0:
				g = uint16(y>>3) << 5
			case 0x07C0:
				g = uint16(y>>3) << 6
			}
			w := g | ^mask
			if f.BigEndian() {
				s[0], s[1] = byte(w>>8), byte(w)
			} else {
				s[0], s[1] = byte(w), byte(w>>8)
			}
			continue
		}
		for i := range s {
			s[i] = 0x80
		}
		s[f.ChannelOffset()] = y
	}
	return out
}

func clamp(l float64) byte {
	r := math.Round(l)
	switch {
	case r < 0:
		return 0
	case r > 255:
		return 255
	}
	return byte(r)
}

// Fill returns a line of n samples at one level.
func Fill(f sampling.PixelFormat, level float64, n int) []byte {
	levels := make([]float64, n)
	for i := range levels {
		levels[i] = level
	}
	return Encode(f, levels)
}
