package distribution

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/zsiec/ccx"

	"github.com/zsiec/rawvbi/internal/recordio"
	"github.com/zsiec/rawvbi/rawdec"
)

// Viewer is the interface a subscriber must implement to receive decoded
// frames and captions from a Relay.
type Viewer interface {
	ID() string
	SendFrame(f recordio.Frame)
	SendCaption(f *ccx.CaptionFrame)
	Stats() ViewerStats
}

// frameCacheSize is the number of recent non-empty frames replayed to a
// late-joining viewer, about two seconds of 625-line video.
const frameCacheSize = 50

// Relay is the fan-out hub for a single stream. It distributes the frames
// and captions the pipeline produces to all connected viewers and caches
// the most recent frames so that new viewers start with context.
type Relay struct {
	log      *slog.Logger
	mu       sync.RWMutex
	sessions map[string]Viewer

	cacheMu sync.RWMutex
	cache   []recordio.Frame

	frames   atomic.Int64
	captions atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
}

// NewRelay creates a Relay with no viewers.
func NewRelay() *Relay {
	return &Relay{
		log:      slog.With("component", "relay"),
		sessions: make(map[string]Viewer),
		done:     make(chan struct{}),
	}
}

// Close marks the stream as ended. Feeds reading from the relay return.
func (r *Relay) Close() {
	r.closeOnce.Do(func() { close(r.done) })
}

// Done is closed by Close.
func (r *Relay) Done() <-chan struct{} {
	return r.done
}

// WriteFrame broadcasts the records of one frame. Frames without records
// are not forwarded. It implements pipeline.Sink and never fails.
func (r *Relay) WriteFrame(seq uint64, recs []rawdec.Record) error {
	if len(recs) == 0 {
		return nil
	}
	f := recordio.Frame{Seq: seq, Records: recs}
	r.frames.Add(1)

	r.cacheMu.Lock()
	if len(r.cache) >= frameCacheSize {
		copy(r.cache, r.cache[1:])
		r.cache[len(r.cache)-1] = f
	} else {
		r.cache = append(r.cache, f)
	}
	r.cacheMu.Unlock()

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		s.SendFrame(f)
	}
	return nil
}

// BroadcastCaption sends a caption frame to all connected viewers. Its
// signature matches pipeline.CaptionSink.Emit.
func (r *Relay) BroadcastCaption(f *ccx.CaptionFrame) error {
	r.captions.Add(1)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		s.SendCaption(f)
	}
	return nil
}

// AddViewer replays the cached frames to the viewer, then registers it
// for live delivery.
func (r *Relay) AddViewer(v Viewer) {
	r.cacheMu.RLock()
	for _, f := range r.cache {
		v.SendFrame(f)
	}
	r.cacheMu.RUnlock()

	r.mu.Lock()
	r.sessions[v.ID()] = v
	r.mu.Unlock()

	r.log.Info("viewer added", "session", v.ID(), "viewers", r.ViewerCount())
}

// RemoveViewer unregisters a viewer by ID.
func (r *Relay) RemoveViewer(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()

	r.log.Info("viewer removed", "session", id, "viewers", r.ViewerCount())
}

// ViewerCount returns the number of currently connected viewers.
func (r *Relay) ViewerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ViewerStatsAll returns delivery metrics for every connected viewer.
func (r *Relay) ViewerStatsAll() []ViewerStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := make([]ViewerStats, 0, len(r.sessions))
	for _, s := range r.sessions {
		stats = append(stats, s.Stats())
	}
	return stats
}

// Counts returns the number of frames and caption frames broadcast.
func (r *Relay) Counts() (frames, captions int64) {
	return r.frames.Load(), r.captions.Load()
}
