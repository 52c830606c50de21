package service

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/zsiec/rawvbi/sampling"
)

// ErrNotPermitted is wrapped by Check when a capture cannot carry a service.
var ErrNotPermitted = errors.New("service: not supported by sampling parameters")

// Strictness levels for matching.
const (
	Lenient = 0
	// Relaxed accepts a service whose own line range is inverted even when
	// the capture does not cover it.
	Relaxed = 1
	Strict  = 2
)

// Check reports why the capture described by p cannot carry service d, or
// nil when it can. With strict > 0 the timing and line ranges of the
// capture must cover the service completely.
func Check(p sampling.Parameters, d *Descriptor, strict int) error {
	if d.Standards&p.Standards() == 0 {
		return notPermitted(d, "video standard %v, need %v", p.Standards(), d.Standards)
	}

	if d.Flags&FlagLineNum != 0 &&
		((d.First[0] > 0 && p.Start[0] == 0) || (d.First[1] > 0 && p.Start[1] == 0)) {
		return notPermitted(d, "line numbers are unknown")
	}

	rate := max(d.CRIRate, d.BitRate)
	if d.ID != WSS625 {
		// Nyquist plus margin for the clock recovery.
		rate = rate * 3 / 2
	}
	if rate > p.SamplingRate {
		return notPermitted(d, "sampling rate %.2f MHz too low, need %.2f MHz",
			float64(p.SamplingRate)/1e6, float64(rate)/1e6)
	}

	sr := float64(p.SamplingRate)
	signal := float64(d.CRIBits)/float64(d.CRIRate) +
		float64(d.FRCBits+d.PayloadBits)/float64(d.BitRate)
	if p.Offset > 0 && strict > 0 {
		start := float64(p.Offset) / sr
		end := float64(p.Offset+p.SamplesPerLine()) / sr
		want := float64(d.Offset) / 1e9
		if start > want-0.5e-6 {
			return notPermitted(d, "sampling starts at 0H + %.2f us, too late for 0H + %.2f us",
				start*1e6, want*1e6)
		}
		if end < want+signal+0.5e-6 {
			return notPermitted(d, "sampling ends at 0H + %.2f us, too early for 0H + %.2f us",
				end*1e6, (want+signal)*1e6)
		}
	} else {
		window := float64(p.SamplesPerLine()) / sr
		if strict > 0 {
			window -= 1e-6
		}
		if window < signal {
			return notPermitted(d, "%.2f us of samples cannot hold a %.2f us signal",
				window*1e6, signal*1e6)
		}
	}

	if d.Flags&FlagFieldNum != 0 && !p.Synchronous {
		return notPermitted(d, "field order is unknown")
	}

	for f := 0; f < 2; f++ {
		if !d.UsesField(f) {
			continue
		}
		if p.Count[f] == 0 {
			return notPermitted(d, "field %d is not captured", f+1)
		}
		if strict <= 0 || p.Start[f] == 0 {
			continue
		}
		if strict == Relaxed && d.First[f] > d.Last[f] {
			continue
		}
		last := p.Start[f] + p.Count[f] - 1
		if d.First[f] < p.Start[f] || d.Last[f] > last {
			return notPermitted(d, "lines %d-%d not fully covered by %d-%d",
				d.First[f], d.Last[f], p.Start[f], last)
		}
	}
	return nil
}

func notPermitted(d *Descriptor, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrNotPermitted, d.Label, fmt.Sprintf(format, args...))
}

// Permits reports whether the capture described by p can carry service d.
// Rejections are logged at debug level.
func Permits(p sampling.Parameters, d *Descriptor, strict int, log *slog.Logger) bool {
	err := Check(p, d, strict)
	if err != nil && log != nil {
		log.Debug("service rejected", "service", d.Label, "reason", err)
	}
	return err == nil
}

// Filter returns the subset of the requested services that p can carry,
// walking the catalog in order.
func Filter(p sampling.Parameters, requested ID, strict int, log *slog.Logger) ID {
	var set ID
	for i := range catalog {
		d := &catalog[i]
		if d.ID&requested == 0 {
			continue
		}
		if Permits(p, d, strict, log) {
			set |= d.ID
		}
	}
	return set
}
