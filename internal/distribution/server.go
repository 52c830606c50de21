// Package distribution serves decoded VBI data to remote clients: a REST
// API over HTTPS and HTTP/3 listing streams and their counters, SRT pull
// management, and live feeds of each stream's records and captions.
package distribution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"

	"github.com/zsiec/rawvbi/internal/certs"
	"github.com/zsiec/rawvbi/internal/pipeline"
	"github.com/zsiec/rawvbi/internal/recordio"
)

// StatsProvider is implemented by pipeline.Pipeline to supply stream
// counters for the REST API.
type StatsProvider interface {
	Stats() pipeline.Stats
}

// DebugProvider extends StatsProvider with the decoder's job and line
// tables, exposed via the /api/streams/{key}/debug endpoint.
type DebugProvider interface {
	StatsProvider
	Dump(w io.Writer) error
}

// DebugSnapshot is the JSON response for /api/streams/{key}/debug.
type DebugSnapshot struct {
	Ingest   *IngestDebugStats `json:"ingest,omitempty"`
	Pipeline pipeline.Stats    `json:"pipeline"`
	Decoder  string            `json:"decoder,omitempty"`
	Viewers  []ViewerStats     `json:"viewers"`
}

// IngestDebugStats captures SRT ingest connection metrics for the debug API.
type IngestDebugStats struct {
	BytesReceived int64  `json:"bytesReceived"`
	ReadCount     int64  `json:"readCount"`
	ConnectedAt   int64  `json:"connectedAt"`
	UptimeMs      int64  `json:"uptimeMs"`
	RemoteAddr    string `json:"remoteAddr"`
}

// StreamInfo is the JSON-serializable summary of a stream, returned by the
// /api/streams list endpoint.
type StreamInfo struct {
	Key         string   `json:"key"`
	Session     string   `json:"session"`
	Format      string   `json:"format"`
	Viewers     int      `json:"viewers"`
	Frames      int64    `json:"frames"`
	Records     int64    `json:"records"`
	Services    []string `json:"services,omitempty"`
	Description string   `json:"description,omitempty"`
	UptimeMs    int64    `json:"uptimeMs,omitempty"`
}

// StreamLister is a callback that returns the current list of streams.
type StreamLister func() []StreamInfo

// IngestLookup resolves a stream key to its ingest debug stats, or nil
// if the stream is not currently being ingested.
type IngestLookup func(key string) *IngestDebugStats

// SRTPullFunc initiates an SRT caller-mode pull from a remote address.
type SRTPullFunc func(req SRTPullInfo) error

// SRTStopFunc stops an active SRT pull by stream key.
type SRTStopFunc func(streamKey string) error

// SRTListFunc returns all active SRT pulls.
type SRTListFunc func() []SRTPullInfo

// SRTPullInfo describes an SRT caller-mode pull, as accepted and returned
// by the /api/srt-pull endpoints. Records selects a recordio source over
// raw VBI frames.
type SRTPullInfo struct {
	Address   string `json:"address"`
	StreamKey string `json:"streamKey"`
	StreamID  string `json:"streamId,omitempty"`
	Records   bool   `json:"records,omitempty"`
}

// ServerConfig holds the configuration for the distribution Server.
type ServerConfig struct {
	// Addr is the UDP address of the HTTP/3 listener.
	Addr         string
	Cert         *certs.CertInfo
	Logger       *slog.Logger
	StreamLister StreamLister
	IngestLookup IngestLookup
	SRTPull      SRTPullFunc
	SRTStop      SRTStopFunc
	SRTList      SRTListFunc
}

// streamResources bundles the relay and stats provider for a single
// stream, ensuring both are registered and torn down as a unit.
type streamResources struct {
	relay    *Relay
	pipeline StatsProvider
}

// Server is the HTTP/3 distribution server. It manages relays and
// pipelines and serves the REST API and live feeds.
type Server struct {
	config ServerConfig
	log    *slog.Logger
	h3     atomic.Pointer[http3.Server]

	mu      sync.RWMutex
	streams map[string]*streamResources
}

// NewServer creates a distribution Server with the given configuration.
// It returns an error if required fields are missing.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Cert == nil {
		return nil, errors.New("distribution: Cert is required")
	}
	if config.Addr == "" {
		return nil, errors.New("distribution: Addr is required")
	}
	log := config.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		config:  config,
		log:     log.With("component", "distribution"),
		streams: make(map[string]*streamResources),
	}, nil
}

// RegisterStream creates a Relay for the given stream key and returns it.
// If the stream already has a relay, the existing one is returned.
func (s *Server) RegisterStream(streamKey string) *Relay {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sr, ok := s.streams[streamKey]; ok {
		return sr.relay
	}
	r := NewRelay()
	s.streams[streamKey] = &streamResources{relay: r}
	return r
}

// UnregisterStream removes the relay and pipeline for a stream key and
// ends the live feeds of the stream.
func (s *Server) UnregisterStream(streamKey string) {
	s.mu.Lock()
	sr, ok := s.streams[streamKey]
	delete(s.streams, streamKey)
	s.mu.Unlock()
	if ok {
		sr.relay.Close()
	}
}

// SetPipeline associates a StatsProvider with a stream key. The stream
// must already be registered via RegisterStream.
func (s *Server) SetPipeline(streamKey string, p StatsProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sr, ok := s.streams[streamKey]; ok {
		sr.pipeline = p
	}
}

// GetPipeline returns the StatsProvider for a stream key, or nil if not found.
func (s *Server) GetPipeline(streamKey string) StatsProvider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sr, ok := s.streams[streamKey]; ok {
		return sr.pipeline
	}
	return nil
}

// GetRelay returns the Relay for a stream key, or nil if not found.
func (s *Server) GetRelay(streamKey string) *Relay {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sr, ok := s.streams[streamKey]; ok {
		return sr.relay
	}
	return nil
}

// registerAPIRoutes registers the REST API endpoints on the given mux.
func (s *Server) registerAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/streams", s.handleListStreams)
	mux.HandleFunc("GET /api/streams/{key}/debug", s.handleStreamDebug)
	mux.HandleFunc("GET /api/streams/{key}/records", s.handleRecords)
	mux.HandleFunc("GET /api/streams/{key}/captions", s.handleCaptions)
	mux.HandleFunc("GET /api/cert-hash", s.handleCertHash)
	mux.HandleFunc("GET /api/srt-pull", s.handleSRTPullList)
	mux.HandleFunc("POST /api/srt-pull", s.handleSRTPullCreate)
	mux.HandleFunc("DELETE /api/srt-pull", s.handleSRTPullStop)
	mux.HandleFunc("OPTIONS /api/srt-pull", s.handleSRTPullOptions)
}

// APIHandler returns an http.Handler for the HTTPS REST API.
func (s *Server) APIHandler() http.Handler {
	mux := http.NewServeMux()
	s.registerAPIRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

// altSvcMiddleware advertises the HTTP/3 listener to HTTPS clients.
func (s *Server) altSvcMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h3 := s.h3.Load(); h3 != nil {
			h3.SetQUICHeaders(w.Header())
		}
		next.ServeHTTP(w, r)
	})
}

// HTTPSHandler returns the API handler for the TCP listener, advertising
// the HTTP/3 endpoint once Start is running.
func (s *Server) HTTPSHandler() http.Handler {
	return s.altSvcMiddleware(s.APIHandler())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// Start launches the HTTP/3 server and blocks until the context is
// cancelled or a fatal error occurs.
func (s *Server) Start(ctx context.Context) error {
	h3 := &http3.Server{
		Addr:      s.config.Addr,
		Handler:   s.APIHandler(),
		TLSConfig: http3.ConfigureTLSConfig(s.config.Cert.TLSConfig()),
		QUICConfig: &quic.Config{
			MaxIdleTimeout: 30 * time.Second,
		},
	}
	s.h3.Store(h3)

	s.log.Info("HTTP/3 server listening", "addr", s.config.Addr)

	stop := context.AfterFunc(ctx, func() { h3.Close() })
	defer stop()

	err := h3.ListenAndServe()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

type certHashResponse struct {
	Hash string `json:"hash"`
	Addr string `json:"addr"`
}

func (s *Server) handleListStreams(w http.ResponseWriter, _ *http.Request) {
	var resp []StreamInfo

	if s.config.StreamLister != nil {
		resp = s.config.StreamLister()
	}

	if resp == nil {
		resp = make([]StreamInfo, 0)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStreamDebug(w http.ResponseWriter, r *http.Request) {
	streamKey := r.PathValue("key")

	s.mu.RLock()
	sr := s.streams[streamKey]
	s.mu.RUnlock()

	if sr == nil || sr.pipeline == nil {
		writeError(w, http.StatusNotFound, "stream not found")
		return
	}

	snap := DebugSnapshot{Pipeline: sr.pipeline.Stats()}
	if dp, ok := sr.pipeline.(DebugProvider); ok {
		var buf bytes.Buffer
		if err := dp.Dump(&buf); err == nil {
			snap.Decoder = buf.String()
		}
	}
	snap.Viewers = sr.relay.ViewerStatsAll()

	if s.config.IngestLookup != nil {
		snap.Ingest = s.config.IngestLookup(streamKey)
	}

	writeJSON(w, http.StatusOK, snap)
}

// handleRecords streams a stream's decoded frames in recordio framing
// until the client goes away or the stream ends. Frames still queued when
// the stream ends are not sent.
func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	relay := s.GetRelay(r.PathValue("key"))
	if relay == nil {
		writeError(w, http.StatusNotFound, "stream not found")
		return
	}

	v := newViewer(kindRecords)
	relay.AddViewer(v)
	defer relay.RemoveViewer(v.ID())

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		return
	}
	rw := recordio.NewWriter(w)

	for {
		select {
		case <-r.Context().Done():
			return
		case <-relay.Done():
			return
		case f := <-v.frames:
			if err := rw.WriteFrame(f.Seq, f.Records); err != nil {
				s.log.Debug("records feed ended", "viewer", v.ID(), "error", err)
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

type captionMessage struct {
	PTS     int64  `json:"pts"`
	Channel int    `json:"channel"`
	Text    string `json:"text"`
}

// handleCaptions streams a stream's caption text as newline-delimited
// JSON.
func (s *Server) handleCaptions(w http.ResponseWriter, r *http.Request) {
	relay := s.GetRelay(r.PathValue("key"))
	if relay == nil {
		writeError(w, http.StatusNotFound, "stream not found")
		return
	}

	v := newViewer(kindCaptions)
	relay.AddViewer(v)
	defer relay.RemoveViewer(v.ID())

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		return
	}
	enc := json.NewEncoder(w)

	for {
		select {
		case <-r.Context().Done():
			return
		case <-relay.Done():
			return
		case f := <-v.captions:
			msg := captionMessage{PTS: f.PTS, Channel: f.Channel, Text: f.Text}
			if err := enc.Encode(msg); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleCertHash(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, certHashResponse{
		Hash: s.config.Cert.FingerprintBase64(),
		Addr: s.config.Addr,
	})
}

func (s *Server) handleSRTPullOptions(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.WriteHeader(http.StatusNoContent)
}

// SECURITY: The SRT pull endpoint accepts arbitrary addresses, which could be
// used for SSRF if exposed to untrusted clients. In production, this endpoint
// should be restricted to authenticated operators or internal networks.
func (s *Server) handleSRTPullList(w http.ResponseWriter, _ *http.Request) {
	if s.config.SRTList == nil {
		writeJSON(w, http.StatusOK, []SRTPullInfo{})
		return
	}
	writeJSON(w, http.StatusOK, s.config.SRTList())
}

func (s *Server) handleSRTPullCreate(w http.ResponseWriter, r *http.Request) {
	if s.config.SRTPull == nil {
		writeError(w, http.StatusNotImplemented, "SRT pull not configured")
		return
	}
	var req SRTPullInfo
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Address == "" || req.StreamKey == "" {
		writeError(w, http.StatusBadRequest, "address and streamKey are required")
		return
	}
	if err := s.config.SRTPull(req); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "pulling", "streamKey": req.StreamKey})
}

func (s *Server) handleSRTPullStop(w http.ResponseWriter, r *http.Request) {
	if s.config.SRTStop == nil {
		writeError(w, http.StatusNotImplemented, "SRT pull not configured")
		return
	}
	streamKey := r.URL.Query().Get("streamKey")
	if streamKey == "" {
		writeError(w, http.StatusBadRequest, "streamKey query parameter required")
		return
	}
	if err := s.config.SRTStop(streamKey); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped", "streamKey": streamKey})
}
