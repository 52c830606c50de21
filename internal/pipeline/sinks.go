package pipeline

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zsiec/ccx"

	"github.com/zsiec/rawvbi/captions"
	"github.com/zsiec/rawvbi/rawdec"
)

// Frame durations in 90 kHz ticks.
const (
	frameTicks525 = 3003
	frameTicks625 = 3600
)

// FrameTicks returns the duration of one frame of the given scanning
// system in 90 kHz ticks.
func FrameTicks(scanning int) int64 {
	if scanning == 525 {
		return frameTicks525
	}
	return frameTicks625
}

// TextSink prints one line per record: frame number, scan line, service
// and payload in hex.
type TextSink struct {
	w *bufio.Writer
}

// NewTextSink returns a TextSink writing to w.
func NewTextSink(w io.Writer) *TextSink {
	return &TextSink{w: bufio.NewWriter(w)}
}

// WriteFrame prints the records of one frame and flushes.
func (s *TextSink) WriteFrame(seq uint64, recs []rawdec.Record) error {
	for _, r := range recs {
		fmt.Fprintf(s.w, "%6d %3d %-28s %s\n", seq, r.Line, r.ID, hex.EncodeToString(r.Data))
	}
	return s.w.Flush()
}

// CaptionSink feeds caption records to a captions.Bridge and passes every
// caption frame it produces to Emit. Presentation times count frames
// from zero in 90 kHz ticks.
type CaptionSink struct {
	Bridge     *captions.Bridge
	FrameTicks int64
	Emit       func(*ccx.CaptionFrame) error
}

// WriteFrame decodes the caption records of one frame.
func (s *CaptionSink) WriteFrame(seq uint64, recs []rawdec.Record) error {
	for _, f := range s.Bridge.Feed(int64(seq)*s.FrameTicks, recs) {
		if s.Emit == nil {
			continue
		}
		if err := s.Emit(f); err != nil {
			return err
		}
	}
	return nil
}
