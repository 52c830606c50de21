// Package captions turns sliced closed caption lines into CEA-608 caption
// text.
//
// Each Caption 525 or Caption 625 record carries one byte pair of the EIA-608
// stream of its field. Field 1 carries caption channels 1 and 2, field 2
// channels 3 and 4. Pairs are parity checked, stripped and fed to a
// ccx.CEA608Decoder per channel.
package captions

import (
	"log/slog"
	"math/bits"
	"sync/atomic"

	"github.com/zsiec/ccx"

	"github.com/zsiec/rawvbi/rawdec"
	"github.com/zsiec/rawvbi/service"
)

// cc_data marker bytes, cc_valid set, cc_type NTSC field 1 or 2.
const (
	ccField1 = 0x04
	ccField2 = 0x05
)

// Field returns the video field, 1 or 2, that carried a caption record.
// Records without a line number count as field 1.
func Field(r rawdec.Record) int {
	first2 := 263
	if r.ID&service.Caption625 != 0 {
		first2 = 312
	}
	if r.Line >= first2 {
		return 2
	}
	return 1
}

// IsCaption reports whether a record carries closed caption bytes.
func IsCaption(r rawdec.Record) bool {
	return r.ID&(service.Caption525|service.Caption625) != 0 && len(r.Data) >= 2
}

// OddParity reports whether b has an odd number of bits set.
func OddParity(b byte) bool {
	return bits.OnesCount8(b)&1 == 1
}

// CCData returns the caption records as cc_data triplets, the form used by
// ATSC A/53 user data: a marker byte with the field followed by the byte
// pair as transmitted.
func CCData(recs []rawdec.Record) []byte {
	var out []byte
	for _, r := range recs {
		if !IsCaption(r) {
			continue
		}
		marker := byte(ccField1)
		if Field(r) == 2 {
			marker = ccField2
		}
		out = append(out, marker, r.Data[0], r.Data[1])
	}
	return out
}

// Stats counts what a Bridge consumed.
type Stats struct {
	Pairs        int64
	ParityErrors int64
	Padding      int64
	Duplicates   int64
	Frames       int64
}

// Bridge decodes caption records into caption frames. It is not safe for
// concurrent use.
type Bridge struct {
	log  *slog.Logger
	decs map[int]*ccx.CEA608Decoder

	// Per field: the data channel selected by the last control code and
	// the last control pair, which broadcasters send twice.
	channel     [2]int
	lastCtrl    [2][2]byte
	lastWasCtrl [2]bool

	pairs        atomic.Int64
	parityErrors atomic.Int64
	padding      atomic.Int64
	duplicates   atomic.Int64
	frames       atomic.Int64
}

// NewBridge returns a bridge with one decoder per caption channel. If log
// is nil, slog.Default() is used.
func NewBridge(log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{
		log: log.With("component", "captions"),
		decs: map[int]*ccx.CEA608Decoder{
			1: ccx.NewCEA608Decoder(),
			2: ccx.NewCEA608Decoder(),
			3: ccx.NewCEA608Decoder(),
			4: ccx.NewCEA608Decoder(),
		},
		channel: [2]int{1, 3},
	}
}

// Feed decodes the caption records of one frame presented at pts and
// returns a caption frame for every channel whose text changed.
func (b *Bridge) Feed(pts int64, recs []rawdec.Record) []*ccx.CaptionFrame {
	var out []*ccx.CaptionFrame
	for _, r := range recs {
		if !IsCaption(r) {
			continue
		}
		if f := b.pair(pts, Field(r)-1, r.Data[0], r.Data[1]); f != nil {
			out = append(out, f)
		}
	}
	return out
}

func (b *Bridge) pair(pts int64, f int, b1, b2 byte) *ccx.CaptionFrame {
	b.pairs.Add(1)
	if !OddParity(b1) || !OddParity(b2) {
		b.parityErrors.Add(1)
		return nil
	}
	cc1, cc2 := b1&0x7F, b2&0x7F
	if cc1 == 0 && cc2 == 0 {
		b.padding.Add(1)
		return nil
	}

	if cc1 >= 0x10 && cc1 <= 0x1F {
		cp := [2]byte{cc1, cc2}
		if b.lastWasCtrl[f] && b.lastCtrl[f] == cp {
			b.lastWasCtrl[f] = false
			b.duplicates.Add(1)
			return nil
		}
		b.lastCtrl[f] = cp
		b.lastWasCtrl[f] = true
		// Bit 3 of the first control byte selects the second data channel.
		b.channel[f] = 1 + 2*f + int(cc1>>3&1)
	} else {
		b.lastWasCtrl[f] = false
	}

	ch := b.channel[f]
	dec := b.decs[ch]
	text := dec.Decode(cc1, cc2)
	if text == "" {
		return nil
	}
	b.frames.Add(1)
	frame := &ccx.CaptionFrame{PTS: pts, Text: text, Channel: ch}
	frame.Regions = dec.StyledRegions()
	b.log.Debug("caption", "channel", ch, "text", text)
	return frame
}

// Channel returns the caption channel currently selected in field 1 or 2.
func (b *Bridge) Channel(field int) int {
	return b.channel[field-1]
}

// Stats returns a snapshot of the bridge counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Pairs:        b.pairs.Load(),
		ParityErrors: b.parityErrors.Load(),
		Padding:      b.padding.Load(),
		Duplicates:   b.duplicates.Load(),
		Frames:       b.frames.Load(),
	}
}
