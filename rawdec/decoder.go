// Package rawdec decodes the data services of whole raw VBI frames.
//
// A Decoder schedules the requested services onto the scan lines that can
// carry them. Each scheduled service, or group of services that never share
// a line, becomes a job with its own bit slicer. Decode probes the jobs of
// every line in turn and returns one Record per line that matched.
package rawdec

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/zsiec/rawvbi/sampling"
	"github.com/zsiec/rawvbi/service"
	"github.com/zsiec/rawvbi/slicer"
)

const (
	// MaxJobs is the largest number of jobs a decoder runs at once.
	MaxJobs = 8
	// DefaultMaxWays is the default number of jobs probed per scan line.
	// One way always stays free.
	DefaultMaxWays = 8
)

// Sentinel errors returned by Decoder methods.
var (
	ErrTooManyJobs = errors.New("rawdec: too many simultaneously decoded services")
	ErrPatternFull = errors.New("rawdec: out of decoder ways on scan line")
	ErrFrameSize   = errors.New("rawdec: frame size does not match sampling parameters")
	ErrNoServices  = errors.New("rawdec: no services scheduled")
	ErrSlicer      = errors.New("rawdec: service cannot be sliced")
)

// State is the scheduling state of a Decoder.
type State int

// Decoder states.
const (
	StateEmpty State = iota
	StateConfiguring
	StateCommitted
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateConfiguring:
		return "configuring"
	case StateCommitted:
		return "committed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Record is one decoded line.
type Record struct {
	// ID is the set of services of the job that matched.
	ID service.ID
	// Line is the broadcast line number, or 0 when unknown.
	Line int
	Data []byte
}

type job struct {
	id     service.ID
	slicer *slicer.Slicer
}

// slot is one way of a scan line: empty or the index of a job.
type slot struct {
	job  uint8
	used bool
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithLogger sets the logger. If nil, slog.Default() is used.
func WithLogger(log *slog.Logger) Option {
	return func(d *Decoder) {
		if log != nil {
			d.log = log
		}
	}
}

// WithMaxWays sets the number of ways per scan line, between 2 and
// DefaultMaxWays.
func WithMaxWays(n int) Option {
	return func(d *Decoder) {
		d.maxWays = min(max(n, 2), DefaultMaxWays)
	}
}

// WithMaxJobs lowers the number of jobs the decoder may run below MaxJobs.
func WithMaxJobs(n int) Option {
	return func(d *Decoder) {
		d.maxJobs = min(max(n, 1), MaxJobs)
	}
}

// WithServices schedules services when the decoder is created.
func WithServices(ids service.ID) Option {
	return func(d *Decoder) {
		d.initial = ids
	}
}

// WithStrict sets the strictness used for the services of WithServices.
func WithStrict(strict int) Option {
	return func(d *Decoder) {
		d.strict = strict
	}
}

// Decoder decodes raw VBI frames. It is not safe for concurrent use; run
// one Decoder per source.
type Decoder struct {
	log *slog.Logger

	params    sampling.Parameters
	standards sampling.StandardSet

	maxJobs int
	maxWays int
	initial service.ID
	strict  int

	state    State
	services service.ID
	jobs     []job
	// pattern holds maxWays slots per frame line, field 1 lines first.
	// Used slots precede empty ones.
	pattern  []slot
	readjust int
}

// New returns a decoder for frames sampled as described by p. If the
// WithServices option is given and none of the services can be scheduled,
// New fails.
func New(p sampling.Parameters, opts ...Option) (*Decoder, error) {
	d := &Decoder{
		log:     slog.Default(),
		maxJobs: MaxJobs,
		maxWays: DefaultMaxWays,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.With("component", "rawdec")

	if _, err := d.SetSampling(p); err != nil {
		return nil, err
	}
	if d.initial != 0 {
		active, err := d.AddServices(d.initial, d.strict)
		if active == 0 {
			return nil, errors.Join(ErrNoServices, err)
		}
		if err != nil {
			d.log.Warn("some services not scheduled", "requested", d.initial, "active", active, "error", err)
		}
	}
	return d, nil
}

// SetSampling validates p and, if valid, replaces the sampling parameters
// and discards all scheduled services.
func (d *Decoder) SetSampling(p sampling.Parameters) (sampling.StandardSet, error) {
	set, err := sampling.Validate(p)
	if err != nil {
		return 0, err
	}
	d.params = p
	d.standards = set
	d.Reset()
	return set, nil
}

// Reset discards all scheduled services.
func (d *Decoder) Reset() {
	d.jobs = nil
	d.pattern = nil
	d.services = 0
	d.readjust = 1
	d.state = StateEmpty
}

// Parameters returns the sampling parameters of the decoder.
func (d *Decoder) Parameters() sampling.Parameters { return d.params }

// Services returns the services currently decoded.
func (d *Decoder) Services() service.ID { return d.services }

// State returns the scheduling state.
func (d *Decoder) State() State { return d.state }

// Lines returns, per frame line with field 1 lines first, the services
// probed on that line.
func (d *Decoder) Lines() []service.ID {
	lines := make([]service.ID, d.params.LineCount())
	if d.pattern == nil {
		return lines
	}
	for i := range lines {
		for _, s := range d.row(i) {
			if !s.used {
				break
			}
			lines[i] |= d.jobs[s.job].id
		}
	}
	return lines
}

func (d *Decoder) row(i int) []slot {
	return d.pattern[i*d.maxWays : (i+1)*d.maxWays]
}
