package srt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/rawvbi/internal/ingest"
)

// srtReadBufferSize is the read buffer for SRT socket reads, ten times the
// standard SRT payload size.
const srtReadBufferSize = 1316 * 10

// srtLatencyNs is the SRT latency setting in nanoseconds (120ms).
const srtLatencyNs = 120_000_000

// recordsPrefix marks a stream id whose payload is a recordio stream
// rather than raw VBI frames.
const recordsPrefix = "records/"

// Server accepts incoming SRT publish connections and registers them
// with the ingest registry for decoding.
type Server struct {
	log      *slog.Logger
	addr     string
	registry *ingest.Registry
}

// NewServer creates an SRT server that listens on addr and registers
// incoming streams with the given registry. If log is nil, slog.Default() is used.
func NewServer(addr string, registry *ingest.Registry, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:      log.With("component", "srt-server"),
		addr:     addr,
		registry: registry,
	}
}

// Start begins accepting SRT publish connections. It blocks until the
// context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs

	l, err := srtgo.Listen(s.addr, cfg)
	if err != nil {
		return fmt.Errorf("SRT listen on %s: %w", s.addr, err)
	}
	s.log.Info("listening", "addr", s.addr)

	l.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
		if req.StreamID == "" {
			return srtgo.RejPeer
		}
		return 0
	})

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("accept error", "error", err)
			continue
		}

		key, format := parseStreamID(conn.StreamID())
		s.log.Info("publish", "stream_key", key, "format", format, "remote", conn.RemoteAddr())

		go s.handleConnection(ctx, conn, key, format)
	}
}

func (s *Server) handleConnection(ctx context.Context, conn *srtgo.Conn, key string, format ingest.InputFormat) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	stream, writer := s.registry.Register(key, format)
	stream.SetRemoteAddr(conn.RemoteAddr().String())

	copyInto(ctx, s.log, conn, stream, writer)

	stats := stream.IngestStats()
	s.registry.UnregisterStream(key, stream)
	s.log.Info("connection closed", "stream_key", key,
		"bytes", stats.BytesReceived, "reads", stats.ReadCount,
		"uptime_ms", stats.UptimeMs)
}

// copyInto moves bytes from an SRT connection into a registered stream
// until either side fails or ctx is cancelled.
func copyInto(ctx context.Context, log *slog.Logger, conn io.Reader, stream *ingest.Stream, w io.Writer) {
	buf := make([]byte, srtReadBufferSize)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := conn.Read(buf)
		if n > 0 {
			stream.RecordRead(n)
			if _, werr := w.Write(buf[:n]); werr != nil {
				log.Debug("pipe write error", "stream_key", stream.Key, "error", werr)
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug("read error", "stream_key", stream.Key, "error", err)
			}
			return
		}
	}
}

// parseStreamID maps an SRT stream id to a stream key and the format of
// the published bytes. "records/<key>" publishes decoded records,
// anything else raw VBI frames.
func parseStreamID(streamID string) (string, ingest.InputFormat) {
	trimmed := strings.TrimPrefix(streamID, "/")
	if rest, ok := strings.CutPrefix(trimmed, recordsPrefix); ok {
		return extractStreamKey(rest), ingest.FormatRecords
	}
	return extractStreamKey(streamID), ingest.FormatRawVBI
}

func extractStreamKey(streamID string) string {
	streamID = strings.TrimPrefix(streamID, "/")
	streamID = strings.TrimPrefix(streamID, "live/")
	if streamID == "" {
		return "default"
	}
	return streamID
}

// StreamID returns the SRT stream id a publisher uses for key and format.
func StreamID(key string, format ingest.InputFormat) string {
	if format == ingest.FormatRecords {
		return recordsPrefix + key
	}
	return "live/" + key
}
