package rawdec

import (
	"errors"
	"fmt"

	"github.com/zsiec/rawvbi/service"
	"github.com/zsiec/rawvbi/slicer"
)

// lineRange is a half-open range of frame line indices.
type lineRange struct{ lo, hi int }

// AddServices schedules the requested services with the given strictness
// (service.Lenient, service.Relaxed or service.Strict) and returns the set
// of services decoded afterwards. Services the sampling parameters cannot
// carry are skipped. Services that find no free way on their lines fail
// with ErrPatternFull without affecting others. Running out of jobs fails
// with ErrTooManyJobs and stops the batch. Failures are joined into the
// returned error.
func (d *Decoder) AddServices(ids service.ID, strict int) (service.ID, error) {
	ids &^= service.VBI525 | service.VBI625
	if dup := ids & d.services; dup != 0 {
		d.log.Debug("already decoding services", "services", dup)
		ids &^= dup
	}
	if ids == 0 {
		return d.services, nil
	}

	if d.pattern == nil {
		d.pattern = make([]slot, d.params.LineCount()*d.maxWays)
	}

	d.state = StateConfiguring
	defer d.commit()

	var errs []error
	for _, desc := range service.Catalog() {
		if desc.ID&ids == 0 {
			continue
		}

		j := d.findJob(desc.ID)
		if j < 0 {
			if len(d.jobs) >= d.maxJobs {
				err := fmt.Errorf("%w: %s: at most %d jobs", ErrTooManyJobs, desc.Label, d.maxJobs)
				d.log.Error("service not scheduled", "service", desc.Label, "error", err)
				errs = append(errs, err)
				break
			}
			j = len(d.jobs)
		}

		if !service.Permits(d.params, &desc, strict, d.log) {
			continue
		}

		s := slicer.Configure(slicer.ConfigFor(&desc, d.params, d.sampleOffset(strict)), d.log)
		if err := s.Err(); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %w", ErrSlicer, desc.Label, err))
			continue
		}

		ranges := d.linesContainingData(&desc)
		if !d.addJobToPattern(j, ranges) {
			err := fmt.Errorf("%w: %s", ErrPatternFull, desc.Label)
			d.log.Warn("service not scheduled", "service", desc.Label, "error", err)
			errs = append(errs, err)
			continue
		}

		if j == len(d.jobs) {
			d.jobs = append(d.jobs, job{})
		}
		d.jobs[j].id |= desc.ID
		d.jobs[j].slicer = s
		d.services |= desc.ID
		d.log.Debug("service scheduled", "service", desc.Label, "job", j)
	}
	return d.services, errors.Join(errs...)
}

func (d *Decoder) commit() {
	if d.services != 0 {
		d.state = StateCommitted
	} else {
		d.state = StateEmpty
	}
}

// findJob returns the index of the job that may handle id, or -1.
func (d *Decoder) findJob(id service.ID) int {
	for i, j := range d.jobs {
		if service.SharesJob(j.id, id) {
			return i
		}
	}
	return -1
}

// sampleOffset returns where the slicer starts searching when strict
// matching placed the capture relative to 0H and the capture begins before
// any service can start.
func (d *Decoder) sampleOffset(strict int) int {
	p := d.params
	if p.Offset <= 0 || strict <= 0 {
		return 0
	}
	minOffset := 8.0e-6
	if p.Scanning == 525 {
		minOffset = 7.9e-6
	}
	if float64(p.Offset)/float64(p.SamplingRate) < minOffset {
		return int(minOffset * float64(p.SamplingRate))
	}
	return 0
}

// linesContainingData returns the frame lines of each field that may carry
// service desc. Without synchronous capture every captured line may.
func (d *Decoder) linesContainingData(desc *service.Descriptor) [2]lineRange {
	p := d.params
	r := [2]lineRange{
		{0, p.Count[0]},
		{p.Count[0], p.Count[0] + p.Count[1]},
	}
	if !p.Synchronous {
		return r
	}
	for f := range r {
		if desc.First[f] == 0 || desc.Last[f] == 0 {
			r[f].hi = r[f].lo
			continue
		}
		if p.Start[f] == 0 || p.Count[f] == 0 {
			continue
		}
		first, last := p.Start[f], p.Start[f]+p.Count[f]-1
		if desc.First[f] > last || desc.Last[f] < first {
			r[f].hi = r[f].lo
			continue
		}
		lo, hi := max(first, desc.First[f]), min(last, desc.Last[f])
		r[f].lo += lo - first
		r[f].hi = r[f].lo + hi + 1 - lo
	}
	return r
}

// addJobToPattern adds job j to the ways of every line in ranges. When any
// of those lines would be left without a free way nothing is changed.
func (d *Decoder) addJobToPattern(j int, ranges [2]lineRange) bool {
	for _, r := range ranges {
		for i := r.lo; i < r.hi; i++ {
			free := 0
			for _, s := range d.row(i) {
				if !s.used || int(s.job) == j {
					free++
				}
			}
			if free <= 1 {
				return false
			}
		}
	}

	for _, r := range ranges {
		for i := r.lo; i < r.hi; i++ {
			row := d.row(i)
			compact(row)
			for w := range row {
				if !row[w].used {
					row[w] = slot{job: uint8(j), used: true}
					break
				}
				if int(row[w].job) == j {
					break
				}
			}
		}
	}
	return true
}

// compact moves used slots to the front of row, keeping their order.
func compact(row []slot) {
	n := 0
	for _, s := range row {
		if s.used {
			row[n] = s
			n++
		}
	}
	clear(row[n:])
}

// RemoveServices stops decoding the given services and returns the set of
// services decoded afterwards. Jobs left without services are dropped.
func (d *Decoder) RemoveServices(ids service.ID) service.ID {
	if d.services&ids == 0 {
		return d.services
	}

	remap := make([]int, len(d.jobs))
	kept := d.jobs[:0]
	for i, j := range d.jobs {
		j.id &^= ids
		if j.id == 0 {
			remap[i] = -1
			continue
		}
		remap[i] = len(kept)
		kept = append(kept, j)
	}
	clear(d.jobs[len(kept):])
	d.jobs = kept

	for i := 0; i < d.params.LineCount(); i++ {
		row := d.row(i)
		for w, s := range row {
			if !s.used {
				continue
			}
			if n := remap[s.job]; n >= 0 {
				row[w].job = uint8(n)
			} else {
				row[w] = slot{}
			}
		}
		compact(row)
	}

	d.services &^= ids
	d.commit()
	return d.services
}

// Permits reports whether the decoder's sampling parameters can carry the
// service with the given id.
func (d *Decoder) Permits(id service.ID, strict int) bool {
	desc := service.Find(id)
	if desc == nil {
		return false
	}
	return service.Permits(d.params, desc, strict, d.log)
}
