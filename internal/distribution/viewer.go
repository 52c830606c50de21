package distribution

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/zsiec/ccx"

	"github.com/zsiec/rawvbi/internal/recordio"
)

// viewerQueueDepth bounds the frames or captions queued for one viewer.
// Further items are dropped until the viewer catches up.
const viewerQueueDepth = 256

// ViewerStats captures delivery metrics for one viewer.
type ViewerStats struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	ConnectedAt int64  `json:"connectedAt"`
	Sent        int64  `json:"sent"`
	Dropped     int64  `json:"dropped"`
}

// Viewer kinds.
const (
	kindRecords  = "records"
	kindCaptions = "captions"
)

// chanViewer queues frames or captions for an HTTP response handler.
type chanViewer struct {
	id          string
	kind        string
	connectedAt time.Time

	frames   chan recordio.Frame
	captions chan *ccx.CaptionFrame

	sent    atomic.Int64
	dropped atomic.Int64
}

func newViewer(kind string) *chanViewer {
	v := &chanViewer{
		id:          uuid.NewString(),
		kind:        kind,
		connectedAt: time.Now(),
	}
	if kind == kindCaptions {
		v.captions = make(chan *ccx.CaptionFrame, viewerQueueDepth)
	} else {
		v.frames = make(chan recordio.Frame, viewerQueueDepth)
	}
	return v
}

func (v *chanViewer) ID() string { return v.id }

func (v *chanViewer) SendFrame(f recordio.Frame) {
	if v.frames == nil {
		return
	}
	select {
	case v.frames <- f:
		v.sent.Add(1)
	default:
		v.dropped.Add(1)
	}
}

func (v *chanViewer) SendCaption(f *ccx.CaptionFrame) {
	if v.captions == nil {
		return
	}
	select {
	case v.captions <- f:
		v.sent.Add(1)
	default:
		v.dropped.Add(1)
	}
}

func (v *chanViewer) Stats() ViewerStats {
	return ViewerStats{
		ID:          v.id,
		Kind:        v.kind,
		ConnectedAt: v.connectedAt.UnixMilli(),
		Sent:        v.sent.Load(),
		Dropped:     v.dropped.Load(),
	}
}
