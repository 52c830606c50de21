// Package pipeline runs the decode data flow for a single stream: it reads
// raw VBI frames (or an already decoded record stream) from an ingest
// input, slices them with a rawdec.Decoder and hands each frame's records
// to a set of sinks while collecting counters.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/rawvbi/internal/recordio"
	"github.com/zsiec/rawvbi/rawdec"
	"github.com/zsiec/rawvbi/service"
)

// frameQueueDepth is the number of frames buffered between the reader
// and the decoder.
const frameQueueDepth = 4

// Sink consumes the records decoded from one frame. seq counts frames
// from zero.
type Sink interface {
	WriteFrame(seq uint64, recs []rawdec.Record) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(seq uint64, recs []rawdec.Record) error

// WriteFrame calls f.
func (f SinkFunc) WriteFrame(seq uint64, recs []rawdec.Record) error {
	return f(seq, recs)
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	Frames     int64            `json:"frames"`
	Records    int64            `json:"records"`
	Empty      int64            `json:"emptyFrames"`
	ShortReads int64            `json:"shortReads"`
	Services   map[string]int64 `json:"services"`
	UptimeMs   int64            `json:"uptimeMs"`
}

type frame struct {
	seq  uint64
	recs []rawdec.Record
}

// Pipeline bridges a single stream's input and its sinks.
type Pipeline struct {
	log       *slog.Logger
	streamKey string
	input     io.Reader
	decMu     sync.Mutex
	dec       *rawdec.Decoder
	sinks     []Sink
	startTime time.Time

	frames     atomic.Int64
	records    atomic.Int64
	empty      atomic.Int64
	shortReads atomic.Int64

	mu         sync.Mutex
	perService map[service.ID]int64
}

// New creates a Pipeline that reads raw frames of dec's geometry from
// input, decodes them with dec and writes the records to sinks. The
// decoder is owned by the pipeline from then on.
func New(streamKey string, input io.Reader, dec *rawdec.Decoder, sinks ...Sink) *Pipeline {
	return &Pipeline{
		log:        slog.With("stream", streamKey),
		streamKey:  streamKey,
		input:      input,
		dec:        dec,
		sinks:      sinks,
		startTime:  time.Now(),
		perService: make(map[service.ID]int64),
	}
}

// NewRelay creates a Pipeline whose input is a recordio stream of records
// decoded elsewhere. The records are passed to sinks unchanged.
func NewRelay(streamKey string, input io.Reader, sinks ...Sink) *Pipeline {
	return New(streamKey, input, nil, sinks...)
}

// SetLogger replaces the pipeline logger.
func (p *Pipeline) SetLogger(log *slog.Logger) {
	p.log = log.With("stream", p.streamKey)
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	services := make(map[string]int64, len(p.perService))
	for id, n := range p.perService {
		services[id.String()] += n
	}
	p.mu.Unlock()

	return Stats{
		Frames:     p.frames.Load(),
		Records:    p.records.Load(),
		Empty:      p.empty.Load(),
		ShortReads: p.shortReads.Load(),
		Services:   services,
		UptimeMs:   time.Since(p.startTime).Milliseconds(),
	}
}

// Dump writes the decoder's job and line tables. A relay pipeline has no
// decoder.
func (p *Pipeline) Dump(w io.Writer) error {
	if p.dec == nil {
		_, err := fmt.Fprintf(w, "relay %s: no decoder\n", p.streamKey)
		return err
	}
	p.decMu.Lock()
	defer p.decMu.Unlock()
	return p.dec.Dump(w)
}

// Services returns the services the pipeline decodes, or 0 for a relay.
func (p *Pipeline) Services() service.ID {
	if p.dec == nil {
		return 0
	}
	p.decMu.Lock()
	defer p.decMu.Unlock()
	return p.dec.Services()
}

// Run reads and decodes frames until the input ends or ctx is cancelled.
// The end of the input and cancellation are not errors; a trailing partial
// frame is counted as a short read and dropped. Inputs that implement
// io.Closer are closed when Run stops, unblocking a pending read.
func (p *Pipeline) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	if c, ok := p.input.(io.Closer); ok {
		stop := context.AfterFunc(gctx, func() { c.Close() })
		defer stop()
	}
	frames := make(chan frame, frameQueueDepth)

	g.Go(func() error {
		defer close(frames)
		var err error
		if p.dec != nil {
			err = p.readRaw(gctx, frames)
		} else {
			err = p.readRecords(gctx, frames)
		}
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	g.Go(func() error {
		for f := range frames {
			if err := p.forward(f); err != nil {
				return err
			}
		}
		return nil
	})

	err := g.Wait()
	st := p.Stats()
	p.log.Info("pipeline finished", "frames", st.Frames, "records", st.Records,
		"short_reads", st.ShortReads, "error", err)
	return err
}

// readRaw cuts the input into frames of the decoder's frame size and
// decodes each.
func (p *Pipeline) readRaw(ctx context.Context, out chan<- frame) error {
	params := p.dec.Parameters()
	size := params.FrameSize()
	limit := params.LineCount()

	buf := make([]byte, size)
	for seq := uint64(0); ; seq++ {
		_, err := io.ReadFull(p.input, buf)
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case errors.Is(err, io.ErrUnexpectedEOF):
			p.shortReads.Add(1)
			p.log.Warn("partial frame at end of input", "seq", seq)
			return nil
		case err != nil:
			return fmt.Errorf("read frame %d: %w", seq, err)
		}

		p.decMu.Lock()
		recs, err := p.dec.Decode(buf, limit)
		p.decMu.Unlock()
		if err != nil {
			return fmt.Errorf("decode frame %d: %w", seq, err)
		}
		select {
		case out <- frame{seq: seq, recs: recs}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Pipeline) readRecords(ctx context.Context, out chan<- frame) error {
	r := recordio.NewReader(p.input)
	for {
		f, err := r.ReadFrame()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			var pe *recordio.ParseError
			if errors.As(err, &pe) && errors.Is(err, io.ErrUnexpectedEOF) {
				p.shortReads.Add(1)
				p.log.Warn("partial record frame at end of input", "field", pe.Field)
				return nil
			}
			return err
		}
		select {
		case out <- frame{seq: f.Seq, recs: f.Records}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Pipeline) forward(f frame) error {
	p.frames.Add(1)
	if len(f.recs) == 0 {
		p.empty.Add(1)
	}
	p.records.Add(int64(len(f.recs)))
	p.mu.Lock()
	for _, r := range f.recs {
		p.perService[r.ID]++
	}
	p.mu.Unlock()

	for _, s := range p.sinks {
		if err := s.WriteFrame(f.seq, f.recs); err != nil {
			return fmt.Errorf("sink: frame %d: %w", f.seq, err)
		}
	}
	return nil
}
