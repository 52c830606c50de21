package vbitest

import (
	"fmt"

	"github.com/zsiec/rawvbi/sampling"
	"github.com/zsiec/rawvbi/service"
)

// Levels of a synthetic frame.
const (
	BlackLevel = 20
	WhiteLevel = 200
)

// Transmission is one service transmission placed on a frame row.
type Transmission struct {
	Row     int // row in frame memory order
	Service service.ID
	Payload []byte
	// RunIn is the number of extra alternating bits sent before the
	// clock run-in, as closed caption encoders do.
	RunIn int
	// Start is the time in seconds from the first captured sample to the
	// first cell. Zero places the transmission at the nominal service
	// offset from 0H.
	Start float64
}

// StartFor returns the nominal start of service d on lines captured with
// geometry p, relative to the first captured sample.
func StartFor(p sampling.Parameters, d *service.Descriptor) float64 {
	s := float64(d.Offset)*1e-9 - float64(p.Offset)/float64(p.SamplingRate)
	return max(s, 0)
}

// Frame renders transmissions into a raw frame of geometry p. Rows without
// a transmission are black.
func Frame(p sampling.Parameters, txs []Transmission) ([]byte, error) {
	n := p.SamplesPerLine()
	rows := p.LineCount()
	frame := make([]byte, p.FrameSize())
	black := Fill(p.Format, BlackLevel, n)
	for r := 0; r < rows; r++ {
		copy(frame[r*p.BytesPerLine:], black)
	}

	for _, tx := range txs {
		if tx.Row < 0 || tx.Row >= rows {
			return nil, fmt.Errorf("vbitest: row %d outside frame of %d rows", tx.Row, rows)
		}
		d := service.Find(tx.Service)
		if d == nil {
			return nil, fmt.Errorf("vbitest: no descriptor for %v", tx.Service)
		}
		if len(tx.Payload) < d.PayloadBytes() {
			return nil, fmt.Errorf("vbitest: %v payload of %d bytes, need %d", tx.Service, len(tx.Payload), d.PayloadBytes())
		}
		start := tx.Start
		if start == 0 {
			start = StartFor(p, d)
		}
		cells := append(NRZ(d.CRIRate, Bits(0x2AAAAAAA, tx.RunIn)), Service(d, tx.Payload)...)
		sig := Signal{Rate: p.SamplingRate, Start: start, Low: BlackLevel, High: WhiteLevel, Ramp: 0.5}
		copy(frame[tx.Row*p.BytesPerLine:], sig.Line(p.Format, cells, n))
	}
	return frame, nil
}

// Row returns the frame memory row holding broadcast line, or false when
// p does not capture it.
func Row(p sampling.Parameters, line int) (int, bool) {
	for f := range 2 {
		if p.Start[f] == 0 || line < p.Start[f] || line >= p.Start[f]+p.Count[f] {
			continue
		}
		i := line - p.Start[f]
		if p.Interlaced {
			return 2*i + f, true
		}
		return f*p.Count[0] + i, true
	}
	return 0, false
}

// captionRunIn is the number of run-in bits a 525-line caption encoder
// sends ahead of the part of the run-in the slicer locks on.
const captionRunIn = 14

// Generator produces a sequence of synthetic frames carrying a set of
// services on the first line of each field they occupy.
type Generator struct {
	params sampling.Parameters
	lines  []genLine
	// Caption pairs sent on field 1, one per frame, repeating.
	captions [][2]byte
	seq      int
}

type genLine struct {
	tx    Transmission
	field int
}

// NewGenerator returns a Generator for the services of ids that captures
// with geometry p can carry. Caption lines carry pairs in turn, field 2
// caption lines and field 1 lines without pairs carry padding.
func NewGenerator(p sampling.Parameters, ids service.ID, pairs [][2]byte) (*Generator, error) {
	if _, err := sampling.Validate(p); err != nil {
		return nil, err
	}
	g := &Generator{params: p, captions: pairs}
	used := make(map[int]bool)
	for _, d := range service.Catalog() {
		if d.ID&ids == 0 || d.ID&(service.VBI525|service.VBI625) != 0 {
			continue
		}
		if service.Check(p, &d, service.Lenient) != nil {
			continue
		}
		for f := range 2 {
			if d.First[f] == 0 {
				continue
			}
			row, ok := Row(p, d.First[f])
			if !ok || used[row] {
				continue
			}
			used[row] = true
			tx := Transmission{Row: row, Service: d.ID, Payload: make([]byte, d.PayloadBytes())}
			if isCaption(d.ID) {
				tx.Payload = []byte{0x80, 0x80}
			}
			if d.ID&service.Caption525 != 0 {
				tx.RunIn = captionRunIn
			}
			g.lines = append(g.lines, genLine{tx: tx, field: f})
		}
	}
	if len(g.lines) == 0 {
		return nil, fmt.Errorf("vbitest: geometry carries none of %v", ids)
	}
	return g, nil
}

func isCaption(id service.ID) bool {
	return id&(service.Caption525|service.Caption625) != 0
}

// Services returns the services the generator transmits.
func (g *Generator) Services() service.ID {
	var ids service.ID
	for _, l := range g.lines {
		ids |= l.tx.Service
	}
	return ids
}

// Next renders the next frame.
func (g *Generator) Next() ([]byte, error) {
	txs := make([]Transmission, len(g.lines))
	for i, l := range g.lines {
		tx := l.tx
		switch {
		case isCaption(tx.Service):
			if l.field == 0 && len(g.captions) > 0 {
				pair := g.captions[g.seq%len(g.captions)]
				tx.Payload = pair[:]
			}
		default:
			payload := make([]byte, len(tx.Payload))
			for k := range payload {
				payload[k] = byte(g.seq + 7*k + i)
			}
			tx.Payload = payload
		}
		txs[i] = tx
	}
	g.seq++
	return Frame(g.params, txs)
}
