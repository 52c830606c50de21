// Package ingest manages active ingest connections, coupling SRT byte
// readers with metadata, lifecycle signaling, and pipeline dispatch.
package ingest

import (
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// InputFormat identifies what the bytes of an ingested stream carry.
type InputFormat int

// Supported ingest formats.
const (
	// FormatRawVBI is a sequence of raw VBI frames, each
	// sampling.Parameters.FrameSize bytes long, in the geometry the
	// pipeline was configured with.
	FormatRawVBI InputFormat = iota
	// FormatRecords is a recordio stream of already decoded records,
	// relayed from another slicer.
	FormatRecords
)

func (f InputFormat) String() string {
	switch f {
	case FormatRawVBI:
		return "raw"
	case FormatRecords:
		return "records"
	default:
		return "unknown"
	}
}

// IngestStats captures connection-level metrics for an ingest stream.
type IngestStats struct {
	BytesReceived int64  `json:"bytesReceived"`
	ReadCount     int64  `json:"readCount"`
	ConnectedAt   int64  `json:"connectedAt"`
	UptimeMs      int64  `json:"uptimeMs"`
	RemoteAddr    string `json:"remoteAddr"`
}

// Stream represents an active ingest connection. Bytes written to the
// internal pipe by the SRT receiver are read by the decode pipeline.
type Stream struct {
	Key       string
	StartedAt time.Time
	Format    InputFormat
	input     io.ReadCloser
	pw        io.WriteCloser
	done      chan struct{}

	bytesReceived atomic.Int64
	readCount     atomic.Int64
	remoteAddr    atomic.Value
}

// RecordRead increments the byte and read counters, called by the SRT
// receiver after each successful socket read.
func (s *Stream) RecordRead(n int) {
	s.bytesReceived.Add(int64(n))
	s.readCount.Add(1)
}

// SetRemoteAddr stores the remote address of the ingest connection.
func (s *Stream) SetRemoteAddr(addr string) {
	s.remoteAddr.Store(addr)
}

// Done is closed when the stream is unregistered.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// IngestStats returns a snapshot of ingest connection metrics.
func (s *Stream) IngestStats() IngestStats {
	addr, _ := s.remoteAddr.Load().(string)
	return IngestStats{
		BytesReceived: s.bytesReceived.Load(),
		ReadCount:     s.readCount.Load(),
		ConnectedAt:   s.StartedAt.UnixMilli(),
		UptimeMs:      time.Since(s.StartedAt).Milliseconds(),
		RemoteAddr:    addr,
	}
}

// Registry tracks active ingest streams by key and dispatches new streams
// to the onStream callback for pipeline setup.
type Registry struct {
	mu      sync.RWMutex
	streams map[string]*Stream

	onStream func(key string, input io.Reader, format InputFormat)
}

// NewRegistry creates a Registry. The onStream callback is invoked
// asynchronously whenever a new stream is registered.
func NewRegistry(onStream func(key string, input io.Reader, format InputFormat)) *Registry {
	return &Registry{
		streams:  make(map[string]*Stream),
		onStream: onStream,
	}
}

// Register creates a new ingest stream with the given key and format,
// returning the Stream and a Writer that the SRT receiver should write into.
// A stream already registered under key is unregistered first.
func (r *Registry) Register(key string, format InputFormat) (*Stream, io.Writer) {
	pr, pw := io.Pipe()

	stream := &Stream{
		Key:       key,
		StartedAt: time.Now(),
		Format:    format,
		input:     pr,
		pw:        pw,
		done:      make(chan struct{}),
	}

	r.mu.Lock()
	old := r.streams[key]
	r.streams[key] = stream
	r.mu.Unlock()

	if old != nil {
		old.close()
	}
	if r.onStream != nil {
		go r.onStream(key, pr, format)
	}

	return stream, pw
}

// Unregister removes a stream by key, closing its pipe and signaling Done.
func (r *Registry) Unregister(key string) {
	r.UnregisterStream(key, nil)
}

// UnregisterStream removes the stream registered under key if it is s, or
// any stream under key when s is nil. A publisher that was replaced by a
// newer connection on the same key leaves the newer one in place.
func (r *Registry) UnregisterStream(key string, s *Stream) {
	r.mu.Lock()
	stream, ok := r.streams[key]
	if ok && (s == nil || s == stream) {
		delete(r.streams, key)
	} else {
		ok = false
	}
	r.mu.Unlock()

	if ok {
		stream.close()
	}
}

func (s *Stream) close() {
	s.pw.Close()
	close(s.done)
}

// Get returns the Stream for the given key, or false if not found.
func (r *Registry) Get(key string) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[key]
	return s, ok
}

// Keys returns the keys of all registered streams.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.streams))
	for k := range r.streams {
		keys = append(keys, k)
	}
	return keys
}
