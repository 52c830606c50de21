package distribution

import (
	"testing"

	"github.com/zsiec/ccx"

	"github.com/zsiec/rawvbi/rawdec"
	"github.com/zsiec/rawvbi/service"
)

func vpsRecords() []rawdec.Record {
	return []rawdec.Record{{ID: service.VPS, Line: 16, Data: make([]byte, 13)}}
}

func TestRelayBroadcast(t *testing.T) {
	t.Parallel()

	r := NewRelay()
	records := newViewer(kindRecords)
	caps := newViewer(kindCaptions)
	r.AddViewer(records)
	r.AddViewer(caps)

	if err := r.WriteFrame(1, vpsRecords()); err != nil {
		t.Fatal(err)
	}
	r.WriteFrame(2, nil)
	r.BroadcastCaption(&ccx.CaptionFrame{Text: "A", Channel: 1})

	if len(records.frames) != 1 {
		t.Errorf("records viewer queued %d frames, want 1", len(records.frames))
	}
	if len(caps.captions) != 1 {
		t.Errorf("captions viewer queued %d captions, want 1", len(caps.captions))
	}
	if frames, captions := r.Counts(); frames != 1 || captions != 1 {
		t.Errorf("Counts = %d, %d", frames, captions)
	}
	if r.ViewerCount() != 2 {
		t.Errorf("ViewerCount = %d", r.ViewerCount())
	}

	r.RemoveViewer(records.ID())
	r.WriteFrame(3, vpsRecords())
	if len(records.frames) != 1 {
		t.Error("removed viewer still receives frames")
	}
}

func TestRelayReplaysCache(t *testing.T) {
	t.Parallel()

	r := NewRelay()
	for seq := range uint64(frameCacheSize + 10) {
		r.WriteFrame(seq, vpsRecords())
	}

	v := newViewer(kindRecords)
	r.AddViewer(v)
	if len(v.frames) != frameCacheSize {
		t.Fatalf("replayed %d frames, want %d", len(v.frames), frameCacheSize)
	}
	if first := <-v.frames; first.Seq != 10 {
		t.Errorf("oldest replayed frame seq = %d, want 10", first.Seq)
	}
}

func TestViewerDropsWhenFull(t *testing.T) {
	t.Parallel()

	r := NewRelay()
	v := newViewer(kindRecords)
	r.AddViewer(v)
	for seq := range uint64(viewerQueueDepth + 5) {
		r.WriteFrame(seq, vpsRecords())
	}

	st := r.ViewerStatsAll()
	if len(st) != 1 {
		t.Fatalf("got %d viewer stats", len(st))
	}
	if st[0].Sent != viewerQueueDepth || st[0].Dropped != 5 || st[0].Kind != kindRecords {
		t.Errorf("stats = %+v", st[0])
	}
}

func TestRelayClose(t *testing.T) {
	t.Parallel()

	r := NewRelay()
	select {
	case <-r.Done():
		t.Fatal("Done closed before Close")
	default:
	}
	r.Close()
	r.Close()
	select {
	case <-r.Done():
	default:
		t.Fatal("Done not closed after Close")
	}
}
