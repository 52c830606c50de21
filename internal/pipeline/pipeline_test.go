package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zsiec/ccx"

	"github.com/zsiec/rawvbi/captions"
	"github.com/zsiec/rawvbi/internal/recordio"
	"github.com/zsiec/rawvbi/internal/vbitest"
	"github.com/zsiec/rawvbi/rawdec"
	"github.com/zsiec/rawvbi/sampling"
	"github.com/zsiec/rawvbi/service"
)

func palParams() sampling.Parameters {
	return sampling.Parameters{
		Scanning:     625,
		Format:       sampling.YUV420,
		SamplingRate: 13_500_000,
		BytesPerLine: 720,
		Start:        [2]int{7, 320},
		Count:        [2]int{17, 17},
		Synchronous:  true,
	}
}

func teletextFrame(t testing.TB, p sampling.Parameters, page byte) []byte {
	t.Helper()
	payload := bytes.Repeat([]byte{page}, 42)
	frame, err := vbitest.Frame(p, []vbitest.Transmission{
		{Row: 0, Service: service.TeletextBL10_625, Payload: payload, Start: 0.6e-6},
		{Row: 17, Service: service.TeletextBL10_625, Payload: payload, Start: 0.6e-6},
	})
	if err != nil {
		t.Fatal(err)
	}
	return frame
}

func newTeletextDecoder(t testing.TB, p sampling.Parameters) *rawdec.Decoder {
	t.Helper()
	d, err := rawdec.New(p, rawdec.WithServices(service.TeletextB))
	if err != nil {
		t.Fatal(err)
	}
	return d
}

type collector struct {
	mu     sync.Mutex
	seqs   []uint64
	frames [][]rawdec.Record
}

func (c *collector) WriteFrame(seq uint64, recs []rawdec.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seqs = append(c.seqs, seq)
	c.frames = append(c.frames, recs)
	return nil
}

func TestRunDecodesFrames(t *testing.T) {
	t.Parallel()

	p := palParams()
	var input bytes.Buffer
	for i := range 3 {
		input.Write(teletextFrame(t, p, byte(0x10+i)))
	}

	var c collector
	pl := New("vtr", &input, newTeletextDecoder(t, p), &c)
	if err := pl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(c.frames) != 3 {
		t.Fatalf("sink got %d frames, want 3", len(c.frames))
	}
	for i, recs := range c.frames {
		if c.seqs[i] != uint64(i) {
			t.Errorf("frame %d has seq %d", i, c.seqs[i])
		}
		if len(recs) != 2 || recs[0].Line != 7 || recs[1].Line != 320 {
			t.Fatalf("frame %d records = %+v", i, recs)
		}
		if recs[0].Data[0] != byte(0x10+i) {
			t.Errorf("frame %d payload %#x", i, recs[0].Data[0])
		}
	}

	st := pl.Stats()
	if st.Frames != 3 || st.Records != 6 || st.ShortReads != 0 || st.Empty != 0 {
		t.Errorf("Stats = %+v", st)
	}
	if n := st.Services[service.TeletextB.String()]; n != 6 {
		t.Errorf("teletext total = %d, want 6 (%v)", n, st.Services)
	}
}

func TestRunShortRead(t *testing.T) {
	t.Parallel()

	p := palParams()
	frame := teletextFrame(t, p, 0x20)
	input := append(append([]byte{}, frame...), frame[:100]...)

	var c collector
	pl := New("vtr", bytes.NewReader(input), newTeletextDecoder(t, p), &c)
	if err := pl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	st := pl.Stats()
	if st.Frames != 1 || st.ShortReads != 1 {
		t.Errorf("Stats = %+v, want 1 frame and 1 short read", st)
	}
}

func TestRunWithEOFReader(t *testing.T) {
	t.Parallel()

	p := palParams()
	pl := New("empty", strings.NewReader(""), newTeletextDecoder(t, p))
	if err := pl.Run(context.Background()); err != nil {
		t.Errorf("Run with EOF reader: %v", err)
	}
	if st := pl.Stats(); st.Frames != 0 {
		t.Errorf("Frames = %d, want 0", st.Frames)
	}
}

func TestRunRecordRelay(t *testing.T) {
	t.Parallel()

	recs := []rawdec.Record{
		{ID: service.VPS, Line: 16, Data: make([]byte, 13)},
		{ID: service.Caption625, Line: 22, Data: []byte{0x94, 0x2C}},
	}
	var input bytes.Buffer
	w := recordio.NewWriter(&input)
	for seq := range uint64(4) {
		if err := w.WriteFrame(seq+100, recs[:seq%2+1]); err != nil {
			t.Fatal(err)
		}
	}

	var c collector
	pl := NewRelay("relay", &input, &c)
	if err := pl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(c.frames) != 4 {
		t.Fatalf("sink got %d frames, want 4", len(c.frames))
	}
	if c.seqs[3] != 103 || len(c.frames[3]) != 2 {
		t.Errorf("last frame seq %d with %d records", c.seqs[3], len(c.frames[3]))
	}
	if st := pl.Stats(); st.Records != 6 || st.Services[service.VPS.String()] != 4 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestRunRecordRelayTruncated(t *testing.T) {
	t.Parallel()

	full := recordio.AppendFrame(nil, 1, []rawdec.Record{{ID: service.VPS, Line: 16, Data: make([]byte, 13)}})
	pl := NewRelay("relay", bytes.NewReader(full[:len(full)-3]))
	if err := pl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st := pl.Stats(); st.ShortReads != 1 || st.Frames != 0 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestRunSinkError(t *testing.T) {
	t.Parallel()

	p := palParams()
	errFull := errors.New("disk full")
	sink := SinkFunc(func(uint64, []rawdec.Record) error { return errFull })

	pl := New("vtr", bytes.NewReader(teletextFrame(t, p, 1)), newTeletextDecoder(t, p), sink)
	if err := pl.Run(context.Background()); !errors.Is(err, errFull) {
		t.Errorf("Run = %v, want sink error", err)
	}
}

func TestRunDecodeError(t *testing.T) {
	t.Parallel()

	p := palParams()
	dec, err := rawdec.New(p)
	if err != nil {
		t.Fatal(err)
	}
	pl := New("vtr", bytes.NewReader(make([]byte, p.FrameSize())), dec)
	if err := pl.Run(context.Background()); !errors.Is(err, rawdec.ErrNoServices) {
		t.Errorf("Run = %v, want ErrNoServices", err)
	}
}

func TestRunCancelClosesInput(t *testing.T) {
	t.Parallel()

	p := palParams()
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	pl := New("live", pr, newTeletextDecoder(t, p))
	go func() { done <- pl.Run(ctx) }()

	if _, err := pw.Write(teletextFrame(t, p, 1)); err != nil {
		t.Fatal(err)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run after cancel = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestTextSink(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	s := NewTextSink(&buf)
	err := s.WriteFrame(12, []rawdec.Record{
		{ID: service.Caption525, Line: 21, Data: []byte{0x94, 0x2C}},
	})
	if err != nil {
		t.Fatal(err)
	}
	line := buf.String()
	if !strings.HasPrefix(line, "    12  21 ") || !strings.HasSuffix(line, " 942c\n") {
		t.Errorf("TextSink wrote %q", line)
	}
	if !strings.Contains(line, service.Caption525.String()) {
		t.Errorf("TextSink line %q lacks the service name", line)
	}
}

func TestCaptionSink(t *testing.T) {
	t.Parallel()

	bridge := captions.NewBridge(nil)
	var got []*ccx.CaptionFrame
	s := &CaptionSink{
		Bridge:     bridge,
		FrameTicks: FrameTicks(525),
		Emit: func(f *ccx.CaptionFrame) error {
			got = append(got, f)
			return nil
		},
	}

	// Pop-on "HI": resume caption loading, two characters, end of caption.
	pairs := [][2]byte{{0x94, 0x20}, {0xC8, 0x49}, {0x94, 0x2F}}
	for i, pair := range pairs {
		rec := rawdec.Record{ID: service.Caption525, Line: 21, Data: pair[:]}
		if err := s.WriteFrame(uint64(i), []rawdec.Record{rec}); err != nil {
			t.Fatal(err)
		}
	}

	if st := bridge.Stats(); st.Pairs != 3 || st.ParityErrors != 0 {
		t.Errorf("bridge stats = %+v", st)
	}
	for _, f := range got {
		if f.Channel != 1 {
			t.Errorf("caption on channel %d", f.Channel)
		}
		if f.PTS%FrameTicks(525) != 0 || f.PTS > 2*FrameTicks(525) {
			t.Errorf("caption PTS %d not on a frame boundary", f.PTS)
		}
	}
}

func TestFrameTicks(t *testing.T) {
	t.Parallel()

	if FrameTicks(525) != 3003 || FrameTicks(625) != 3600 {
		t.Errorf("FrameTicks = %d/%d", FrameTicks(525), FrameTicks(625))
	}
}

func BenchmarkPipelinePAL(b *testing.B) {
	p := palParams()
	frame := teletextFrame(b, p, 0x55)

	for b.Loop() {
		pl := New("bench", bytes.NewReader(frame), newTeletextDecoder(b, p))
		pl.Run(context.Background())
	}
}

func TestDumpAndServices(t *testing.T) {
	t.Parallel()

	p := palParams()
	pl := New("vtr", strings.NewReader(""), newTeletextDecoder(t, p))
	var buf bytes.Buffer
	if err := pl.Dump(&buf); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "committed") {
		t.Errorf("Dump = %q", buf.String())
	}
	if pl.Services() != service.TeletextB {
		t.Errorf("Services = %v", pl.Services())
	}

	relay := NewRelay("relay", strings.NewReader(""))
	buf.Reset()
	if err := relay.Dump(&buf); err != nil || !strings.Contains(buf.String(), "no decoder") {
		t.Errorf("relay Dump = %q, %v", buf.String(), err)
	}
	if relay.Services() != 0 {
		t.Errorf("relay Services = %v", relay.Services())
	}
}
