package slicer

import (
	"fmt"

	"github.com/zsiec/rawvbi/sampling"
	"github.com/zsiec/rawvbi/service"
)

// Config describes the signal a Slicer searches for and the layout of the
// raw line it reads.
//
// CRI holds the last CRIBits bits of the clock run-in, most recent bit in
// the least significant position, and CRIMask selects the bits that must
// match. FRC holds FRCBits bits of framing code sent at PayloadRate after
// the run-in. CRIEnd bounds the run-in search to samples before it; 0
// searches as far as the payload still fits on the line.
type Config struct {
	Format         sampling.PixelFormat
	SamplingRate   int
	SampleOffset   int
	SamplesPerLine int

	CRI     uint32
	CRIMask uint32
	CRIBits int
	CRIRate int
	CRIEnd  int

	FRC     uint32
	FRCBits int

	PayloadBits int
	PayloadRate int
	Modulation  service.Modulation
}

// ConfigFor derives a slicer configuration for service d on lines sampled
// as described by p, starting the search sampleOffset samples into a line.
func ConfigFor(d *service.Descriptor, p sampling.Parameters, sampleOffset int) Config {
	cri, mask := d.CRI()
	return Config{
		Format:         p.Format,
		SamplingRate:   p.SamplingRate,
		SampleOffset:   sampleOffset,
		SamplesPerLine: p.SamplesPerLine(),
		CRI:            cri,
		CRIMask:        mask,
		CRIBits:        d.CRIBits,
		CRIRate:        d.CRIRate,
		FRC:            d.FRC(),
		FRCBits:        d.FRCBits,
		PayloadBits:    d.PayloadBits,
		PayloadRate:    d.BitRate,
		Modulation:     d.Modulation,
	}
}

func (c Config) validate() error {
	switch {
	case c.CRIBits < 0 || c.CRIBits > 32:
		return fmt.Errorf("%w: %d CRI bits, at most 32", ErrConfig, c.CRIBits)
	case c.FRCBits < 0 || c.FRCBits > 32:
		return fmt.Errorf("%w: %d FRC bits, at most 32", ErrConfig, c.FRCBits)
	case c.PayloadBits <= 0 || c.PayloadBits > maxPayloadBits:
		return fmt.Errorf("%w: %d payload bits, want 1-%d", ErrConfig, c.PayloadBits, maxPayloadBits)
	case c.SamplesPerLine <= 0 || c.SamplesPerLine > maxSamplesPerLine:
		return fmt.Errorf("%w: %d samples per line, want 1-%d", ErrConfig, c.SamplesPerLine, maxSamplesPerLine)
	case c.SampleOffset < 0:
		return fmt.Errorf("%w: negative sample offset %d", ErrConfig, c.SampleOffset)
	case c.SamplingRate <= 0:
		return fmt.Errorf("%w: sampling rate %d Hz", ErrConfig, c.SamplingRate)
	case c.CRIRate <= 0 || c.CRIRate > c.SamplingRate:
		return fmt.Errorf("%w: CRI rate %d Hz exceeds sampling rate %d Hz", ErrConfig, c.CRIRate, c.SamplingRate)
	case c.PayloadRate <= 0 || c.PayloadRate > c.SamplingRate:
		return fmt.Errorf("%w: payload rate %d Hz exceeds sampling rate %d Hz", ErrConfig, c.PayloadRate, c.SamplingRate)
	}
	return nil
}
