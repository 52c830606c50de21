package rawdec

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/zsiec/rawvbi/slicer"
)

// Decode slices one frame and returns a record for every line on which a
// scheduled service matched, in frame line order. limit bounds the number
// of records; limit <= 0 means no bound.
//
// The frame holds BytesPerLine bytes per line, field 1 lines first or, with
// interlaced sampling, the lines of both fields alternating.
func (d *Decoder) Decode(frame []byte, limit int) ([]Record, error) {
	if d.state != StateCommitted {
		return nil, ErrNoServices
	}
	p := d.params
	if len(frame) != p.FrameSize() {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrFrameSize, len(frame), p.FrameSize())
	}

	bpl := p.BytesPerLine
	pitch := bpl
	if p.Interlaced {
		pitch = 2 * bpl
	}

	var records []Record
	pos := 0
	for i := 0; i < p.LineCount(); i++ {
		if limit > 0 && len(records) >= limit {
			break
		}
		if p.Interlaced && i == p.Count[0] {
			pos = bpl
		}
		if r, ok := d.decodeLine(i, frame[pos:pos+bpl]); ok {
			records = append(records, r)
		}
		pos += pitch
	}

	d.readjust = (d.readjust + 1) & 15
	return records, nil
}

// decodeLine probes the jobs of frame line i. The job that matched moves to
// the first way. When no job matched, every sixteenth frame the ways rotate
// so that a job failing first does not hide the others for long.
func (d *Decoder) decodeLine(i int, raw []byte) (Record, bool) {
	row := d.row(i)
	n := 0
	for n < len(row) && row[n].used {
		n++
	}
	for w := 0; w < n; w++ {
		j := &d.jobs[row[w].job]
		data, err := j.slicer.Slice(raw)
		if err != nil {
			if !errors.Is(err, slicer.ErrNoSync) {
				d.log.Debug("slice failed", "line", i, "services", j.id, "error", err)
			}
			continue
		}
		row[0], row[w] = row[w], row[0]
		return Record{ID: j.id, Line: d.params.LineNumber(i), Data: data}, true
	}
	if d.readjust == 0 && n > 1 {
		first := row[0]
		copy(row, row[1:n])
		row[n-1] = first
	}
	return Record{}, false
}

// Dump writes the job table and the ways of every scheduled line to w.
func (d *Decoder) Dump(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "state\t%v\n", d.state)
	fmt.Fprintf(tw, "services\t%v\n", d.services)
	fmt.Fprintln(tw, "JOB\tID\tSERVICES\tSLICER")
	for i, j := range d.jobs {
		fmt.Fprintf(tw, "%d\t0x%08x\t%v\t%v\n", i, uint32(j.id), j.id, j.slicer)
	}
	if d.pattern != nil {
		fmt.Fprintln(tw, "LINE\tINDEX\tWAYS")
		for i := 0; i < d.params.LineCount(); i++ {
			row := d.row(i)
			if !row[0].used {
				continue
			}
			ways := ""
			for _, s := range row {
				if s.used {
					ways += fmt.Sprintf("%d ", s.job)
				} else {
					ways += "- "
				}
			}
			fmt.Fprintf(tw, "%d\t%d\t%s\n", d.params.LineNumber(i), i, ways)
		}
	}
	return tw.Flush()
}
