// Package slicer recovers the bit clock of a VBI data service from one raw
// scan line and extracts its payload.
//
// A Slicer searches the start of the line for the service's clock run-in
// (CRI) using an adaptive threshold and a software clock, then samples the
// framing code and payload at the nominal bit rate. Lines sampled at more
// than 24 samples per bit are low-pass filtered with a 16-sample moving sum;
// otherwise every sample is linearly interpolated to four sub-samples.
package slicer

import (
	"errors"
	"fmt"
	"log/slog"
)

// Sentinel errors for slicing.
var (
	// ErrNoSync means the line holds no recognizable signal of the service.
	// It is the normal outcome on lines without data.
	ErrNoSync = errors.New("slicer: no sync")
	// ErrConfig is wrapped by the error of a slicer that could not be
	// configured. Such a slicer fails every call.
	ErrConfig = errors.New("slicer: invalid configuration")
	// ErrShortLine means the raw line is shorter than configured.
	ErrShortLine = errors.New("slicer: raw line too short")
	// ErrShortBuffer means the output buffer cannot hold the payload.
	ErrShortBuffer = errors.New("slicer: output buffer too short")
)

const (
	// LowPassAvg is log2 of the moving sum width of the low-pass strategy.
	LowPassAvg = 4

	defaultThreshold  = 105
	defaultThreshFrac = 9
	oversampling      = 4

	maxPayloadBits    = 32767
	maxSamplesPerLine = 32767
)

// packing selects how payload bits are stored in bytes.
type packing int

const (
	octetMSB packing = iota
	octetLSB
	bitwiseMSB
	bitwiseLSB
)

// Slicer demodulates one service. It keeps an adaptive threshold between
// calls and is not safe for concurrent use.
type Slicer struct {
	err error

	cfg  Config
	lay  layout
	bps  int
	off  int
	mask int

	lowPass      bool
	oversampling int
	osRate       int

	thresh     int
	threshFrac int

	cri        uint32
	criMask    uint32
	criSamples int
	criRate    int

	frc     uint32
	frcBits int

	payloadBits int
	pack        packing
	step        int
	phaseShift  int
}

// Configure builds a slicer for c. An invalid configuration does not fail
// here: it yields a slicer whose Err and Slice report the problem, logged
// once at warn level. If log is nil, slog.Default() is used.
func Configure(c Config, log *slog.Logger) *Slicer {
	if log == nil {
		log = slog.Default()
	}
	s, err := configure(c)
	if err != nil {
		log.With("component", "slicer").Warn("slicer disabled", "error", err)
		return &Slicer{err: err, cfg: c}
	}
	return s
}

func configure(c Config) (*Slicer, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	lay, ok := layoutOf(c.Format)
	if !ok {
		return nil, fmt.Errorf("%w: pixel format %v", ErrConfig, c.Format)
	}

	rate := int64(c.SamplingRate)
	criSamples := int(rate * int64(c.CRIBits) / int64(c.CRIRate))
	dataSamples := int(rate * int64(c.FRCBits+c.PayloadBits) / int64(c.PayloadRate))
	if c.SampleOffset > c.SamplesPerLine ||
		criSamples+dataSamples > c.SamplesPerLine-c.SampleOffset {
		return nil, fmt.Errorf("%w: %d samples per line too small for offset %d + %d CRI samples + %d data samples",
			ErrConfig, c.SamplesPerLine, c.SampleOffset, criSamples, dataSamples)
	}

	s := &Slicer{
		cfg:         c,
		lay:         lay,
		bps:         c.Format.BytesPerSample(),
		off:         c.Format.ChannelOffset(),
		mask:        int(c.Format.GreenMask()),
		criRate:     c.CRIRate,
		frcBits:     c.FRCBits,
		payloadBits: c.PayloadBits,
	}

	s.thresh = defaultThreshold << defaultThreshFrac
	s.threshFrac = defaultThreshFrac
	// 16-bit samples keep green in place, so the threshold is scaled to
	// the width and position of the green bits.
	switch c.Format.GreenMask() {
	case 0x07E0:
		s.thresh, s.threshFrac = defaultThreshold<<(5-2+12), 12
	case 0x03E0:
		s.thresh, s.threshFrac = defaultThreshold<<(5-3+11), 11
	case 0x07C0:
		s.thresh, s.threshFrac = defaultThreshold<<(6-3+12), 12
	}

	minSamplesPerBit := c.SamplingRate / max(c.CRIRate, c.PayloadRate)
	s.lowPass = s.mask == 0 && minSamplesPerBit > 3<<(LowPassAvg-1)
	s.oversampling = oversampling
	if s.lowPass {
		s.oversampling = 1
		s.threshFrac = defaultThreshFrac + LowPassAvg - 2
		s.thresh = (defaultThreshold << LowPassAvg) << s.threshFrac
	}
	s.osRate = c.SamplingRate * s.oversampling

	s.criMask = c.CRIMask
	if c.CRIBits < 32 {
		s.criMask &= 1<<c.CRIBits - 1
	}
	s.cri = c.CRI & s.criMask
	s.frc = c.FRC
	if c.FRCBits < 32 {
		s.frc &= 1<<c.FRCBits - 1
	}

	criEnd := c.SamplesPerLine - dataSamples
	if c.CRIEnd > 0 && c.CRIEnd < criEnd {
		criEnd = c.CRIEnd
	}
	s.criSamples = criEnd - c.SampleOffset
	if s.criSamples <= 0 {
		return nil, fmt.Errorf("%w: CRI search ends at sample %d before offset %d", ErrConfig, criEnd, c.SampleOffset)
	}

	s.step = int(rate * 256 / int64(c.PayloadRate))
	switch {
	case c.PayloadBits&7 != 0 && c.Modulation.MSBFirst():
		s.pack = bitwiseMSB
	case c.PayloadBits&7 != 0:
		s.pack = bitwiseLSB
	case c.Modulation.MSBFirst():
		s.pack = octetMSB
	default:
		s.pack = octetLSB
	}

	// First sampling instant: half a CRI bit past the last CRI decision,
	// then into the first payload cell, plus half a sample of rounding.
	cell := 0.5
	if c.Modulation.Biphase() {
		cell = 0.25
	}
	s.phaseShift = int(float64(c.SamplingRate)*256/float64(c.CRIRate)*0.5 +
		float64(s.step)*cell + 128)

	return s, nil
}

// Err returns the configuration error of a disabled slicer, or nil.
func (s *Slicer) Err() error { return s.err }

// Config returns the configuration the slicer was built from.
func (s *Slicer) Config() Config { return s.cfg }

// LowPass reports whether the low-pass strategy is used.
func (s *Slicer) LowPass() bool { return s.lowPass }

// Threshold returns the current adaptive threshold in sample units.
func (s *Slicer) Threshold() int { return s.thresh >> s.threshFrac }

// PayloadBytes returns the number of bytes Slice produces.
func (s *Slicer) PayloadBytes() int { return (s.payloadBits + 7) / 8 }

// Slice decodes one raw line and returns the payload.
func (s *Slicer) Slice(raw []byte) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	buf := make([]byte, s.PayloadBytes())
	n, err := s.SliceInto(buf, raw)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// SliceInto decodes one raw line into dst and returns the number of bytes
// written. The adaptive threshold is kept on success and restored to its
// previous value on failure.
func (s *Slicer) SliceInto(dst, raw []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	if len(dst) < s.PayloadBytes() {
		return 0, ErrShortBuffer
	}
	if len(raw) < s.cfg.SamplesPerLine*s.bps {
		return 0, ErrShortLine
	}

	l := line{
		raw:  raw,
		n:    (len(raw) - s.off) / s.bps,
		bps:  s.bps,
		off:  s.off,
		lay:  s.lay,
		mask: s.mask,
	}

	saved := s.thresh
	var n int
	var err error
	if s.lowPass {
		n, err = s.sliceLowPass(dst, &l)
	} else {
		n, err = s.sliceDirect(dst, &l)
	}
	if err != nil {
		s.thresh = saved
	}
	return n, err
}

func (s *Slicer) sliceDirect(dst []byte, l *line) (int, error) {
	var c uint32
	cl := 0
	b1 := false
	os := s.oversampling

	for n := 0; n < s.criSamples; n++ {
		k := s.cfg.SampleOffset + n
		tr := s.thresh >> s.threshFrac
		raw0 := l.at(k)
		raw1 := l.at(k+1) - raw0
		s.thresh += (raw0 - tr) * abs(raw1)

		t := raw0 * os
		for j := 0; j < os; j++ {
			b := (t+os/2)/os >= tr
			if b != b1 {
				cl = s.osRate >> 1
			} else {
				cl += s.criRate
				if cl >= s.osRate {
					cl -= s.osRate
					c = c<<1 | bit(b)
					if c&s.criMask == s.cri {
						return s.payload(dst, l, k, tr<<8)
					}
				}
			}
			b1 = b
			t += raw1
		}
	}
	return 0, ErrNoSync
}

func (s *Slicer) sliceLowPass(dst []byte, l *line) (int, error) {
	const width = 1 << LowPassAvg

	c := ^uint32(0)
	cl := 0
	b1 := false

	k := s.cfg.SampleOffset
	sum := l.sum(k, width)
	for n := 0; n < s.criSamples; n++ {
		tr := s.thresh >> s.threshFrac
		raw0 := sum
		sum += l.at(k+width) - l.at(k)
		k++
		s.thresh += (raw0 - tr) * abs(sum-raw0)

		b := raw0 >= tr
		if b != b1 {
			cl = s.osRate >> 1
		} else {
			cl += s.criRate
			if cl >= s.osRate {
				cl -= s.osRate
				c = c<<1 | bit(b)
				if c&s.criMask == s.cri {
					return s.payload(dst, l, k, tr)
				}
			}
		}
		b1 = b
	}
	return 0, ErrNoSync
}

// sample reports whether the signal at base + i/256 samples is at or above
// tr, where tr is scaled like the sample level of the strategy in use.
func (s *Slicer) sample(l *line, base, i, tr int) bool {
	k := base + i>>8
	if s.lowPass {
		return l.sum(k, 1<<LowPassAvg) >= tr
	}
	r0 := l.at(k)
	r1 := l.at(k + 1)
	return (r1-r0)*(i&255)+r0<<8 >= tr
}

func (s *Slicer) payload(dst []byte, l *line, base, tr int) (int, error) {
	i := s.phaseShift

	var c uint32
	for j := 0; j < s.frcBits; j++ {
		c = c<<1 | bit(s.sample(l, base, i, tr))
		i += s.step
	}
	if c != s.frc {
		return 0, ErrNoSync
	}

	n := 0
	switch s.pack {
	case bitwiseLSB:
		c = 0
		for j := 0; j < s.payloadBits; j++ {
			c = c>>1 | bit(s.sample(l, base, i, tr))<<7
			i += s.step
			if j&7 == 7 {
				dst[n] = byte(c)
				n++
			}
		}
		dst[n] = byte(c >> ((8 - s.payloadBits) & 7))
		n++
	case bitwiseMSB:
		c = 0
		for j := 0; j < s.payloadBits; j++ {
			c = c<<1 | bit(s.sample(l, base, i, tr))
			i += s.step
			if j&7 == 7 {
				dst[n] = byte(c)
				n++
			}
		}
		dst[n] = byte(c & (1<<(s.payloadBits&7) - 1))
		n++
	case octetLSB:
		for j := 0; j < s.payloadBits/8; j++ {
			var b byte
			for k := 0; k < 8; k++ {
				b |= byte(bit(s.sample(l, base, i, tr))) << k
				i += s.step
			}
			dst[n] = b
			n++
		}
	case octetMSB:
		for j := 0; j < s.payloadBits/8; j++ {
			var b byte
			for k := 0; k < 8; k++ {
				b = b<<1 | byte(bit(s.sample(l, base, i, tr)))
				i += s.step
			}
			dst[n] = b
			n++
		}
	}
	return n, nil
}

func bit(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// String summarizes the slicer configuration for diagnostics.
func (s *Slicer) String() string {
	if s.err != nil {
		return fmt.Sprintf("disabled (%v)", s.err)
	}
	strategy := "direct"
	if s.lowPass {
		strategy = "low-pass"
	}
	return fmt.Sprintf("%s %s cri=%#x/%#x in %d samples, step %d/256, phase %d/256",
		s.lay, strategy, s.cri, s.criMask, s.criSamples, s.step, s.phaseShift)
}
