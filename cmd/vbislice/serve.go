package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/rawvbi/captions"
	"github.com/zsiec/rawvbi/internal/certs"
	"github.com/zsiec/rawvbi/internal/distribution"
	"github.com/zsiec/rawvbi/internal/ingest"
	srtingest "github.com/zsiec/rawvbi/internal/ingest/srt"
	"github.com/zsiec/rawvbi/internal/pipeline"
	"github.com/zsiec/rawvbi/internal/stream"
	"github.com/zsiec/rawvbi/rawdec"
	"github.com/zsiec/rawvbi/sampling"
)

var serveOpts struct {
	geometry geometryFlags
	services string
	strict   int
	srtAddr  string
	apiAddr  string
	h3Addr   string
	hosts    []string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Decode SRT ingest streams and serve the results",
	Long: `Accept raw VBI frames over SRT, decode them, and serve stream status,
record feeds and caption feeds over HTTPS and HTTP/3.

Publishers connect with stream id "live/<key>" for raw frames or
"records/<key>" for an already decoded recordio stream. Remote listeners
can be pulled with POST /api/srt-pull.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	serveOpts.geometry.bind(f)
	f.StringVarP(&serveOpts.services, "services", "s", envOr("VBI_SERVICES", defaultServices), "comma separated services to decode")
	f.IntVar(&serveOpts.strict, "strict", envIntOr("VBI_STRICT", 0), "service matching strictness, 0 to 2")
	f.StringVar(&serveOpts.srtAddr, "srt-addr", envOr("VBI_SRT_ADDR", ":6000"), "SRT listen address")
	f.StringVar(&serveOpts.apiAddr, "api-addr", envOr("VBI_API_ADDR", ":4444"), "HTTPS API listen address")
	f.StringVar(&serveOpts.h3Addr, "h3-addr", envOr("VBI_H3_ADDR", ":4443"), "HTTP/3 listen address")
	f.StringSliceVar(&serveOpts.hosts, "host", nil, "extra host names or addresses for the certificate")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	params, err := serveOpts.geometry.params()
	if err != nil {
		return err
	}
	// Fail early on a service list the geometry cannot carry at all.
	if _, err := newDecoder(params, serveOpts.services, serveOpts.strict, rawdec.DefaultMaxWays, rawdec.MaxJobs); err != nil {
		return err
	}

	slog.Info("generating self-signed certificate")
	cert, err := certs.Generate(14*24*time.Hour, serveOpts.hosts...)
	if err != nil {
		return fmt.Errorf("generate cert: %w", err)
	}
	slog.Info("certificate generated",
		"fingerprint", cert.FingerprintBase64(),
		"expires", cert.NotAfter.Format(time.RFC3339),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{
		mgr:    stream.NewManager(nil),
		params: params,
	}

	slog.Info("vbislice starting",
		"version", version,
		"srt", serveOpts.srtAddr,
		"api", serveOpts.apiAddr,
		"h3", serveOpts.h3Addr,
		"preset", serveOpts.geometry.preset,
		"cert_hash", cert.FingerprintBase64(),
	)

	g, ctx := errgroup.WithContext(ctx)

	// Created after the errgroup so that streams end when any component
	// fails.
	a.registry = ingest.NewRegistry(func(key string, input io.Reader, format ingest.InputFormat) {
		a.handleNewStream(ctx, key, input, format)
	})
	a.srtCaller = srtingest.NewCaller(a.registry, nil)

	a.distSrv, err = distribution.NewServer(distribution.ServerConfig{
		Addr: serveOpts.h3Addr,
		Cert: cert,
		SRTPull: func(req distribution.SRTPullInfo) error {
			format := ingest.FormatRawVBI
			if req.Records {
				format = ingest.FormatRecords
			}
			return a.srtCaller.Pull(ctx, srtingest.PullRequest{
				Address:   req.Address,
				StreamKey: req.StreamKey,
				StreamID:  req.StreamID,
				Format:    format,
			})
		},
		SRTStop:      a.srtCaller.Stop,
		SRTList:      a.listSRTPulls,
		StreamLister: a.listStreams,
		IngestLookup: a.lookupIngest,
	})
	if err != nil {
		return fmt.Errorf("create distribution server: %w", err)
	}

	srtSrv := srtingest.NewServer(serveOpts.srtAddr, a.registry, nil)

	apiSrv := &http.Server{
		Addr:              serveOpts.apiAddr,
		Handler:           a.distSrv.HTTPSHandler(),
		TLSConfig:         cert.TLSConfig(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		return srtSrv.Start(ctx)
	})

	g.Go(func() error {
		slog.Info("HTTPS API server listening", "addr", serveOpts.apiAddr)
		if err := apiSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return apiSrv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return a.distSrv.Start(ctx)
	})

	return g.Wait()
}

type app struct {
	params    sampling.Parameters
	mgr       *stream.Manager
	registry  *ingest.Registry
	srtCaller *srtingest.Caller
	distSrv   *distribution.Server
}

func (a *app) listSRTPulls() []distribution.SRTPullInfo {
	pulls := a.srtCaller.ActivePulls()
	out := make([]distribution.SRTPullInfo, len(pulls))
	for i, p := range pulls {
		out[i] = distribution.SRTPullInfo{
			Address:   p.Address,
			StreamKey: p.StreamKey,
			StreamID:  p.StreamID,
			Records:   p.Format == ingest.FormatRecords,
		}
	}
	return out
}

func (a *app) listStreams() []distribution.StreamInfo {
	streams := a.mgr.List()
	infos := make([]distribution.StreamInfo, len(streams))
	for i, s := range streams {
		info := distribution.StreamInfo{
			Key:     s.Key,
			Session: s.ID.String(),
		}
		if relay := a.distSrv.GetRelay(s.Key); relay != nil {
			info.Viewers = relay.ViewerCount()
		}
		if in, ok := a.registry.Get(s.Key); ok {
			info.Format = in.Format.String()
		}
		if p := a.distSrv.GetPipeline(s.Key); p != nil {
			st := p.Stats()
			info.Frames = st.Frames
			info.Records = st.Records
			info.UptimeMs = st.UptimeMs
			for name := range st.Services {
				info.Services = append(info.Services, name)
			}
			sort.Strings(info.Services)
			info.Description = buildStreamDescription(info)
		}
		infos[i] = info
	}
	return infos
}

func (a *app) lookupIngest(key string) *distribution.IngestDebugStats {
	in, ok := a.registry.Get(key)
	if !ok {
		return nil
	}
	s := in.IngestStats()
	return &distribution.IngestDebugStats{
		BytesReceived: s.BytesReceived,
		ReadCount:     s.ReadCount,
		ConnectedAt:   s.ConnectedAt,
		UptimeMs:      s.UptimeMs,
		RemoteAddr:    s.RemoteAddr,
	}
}

func (a *app) handleNewStream(ctx context.Context, key string, input io.Reader, format ingest.InputFormat) {
	log := slog.With("stream", key)
	log.Info("new stream from ingest", "format", format)

	// A publisher reconnecting under the same key waits for the previous
	// session to wind down.
	sess, err := a.mgr.Acquire(ctx, key)
	if err != nil {
		log.Warn("stream not started", "error", err)
		closeInput(input)
		return
	}
	defer a.teardownStream(key)

	var p *pipeline.Pipeline
	relay := a.distSrv.RegisterStream(key)
	sinks := []pipeline.Sink{
		relay,
		&pipeline.CaptionSink{
			Bridge:     captions.NewBridge(log),
			FrameTicks: pipeline.FrameTicks(a.params.Scanning),
			Emit:       relay.BroadcastCaption,
		},
	}
	if format == ingest.FormatRecords {
		p = pipeline.NewRelay(key, input, sinks...)
	} else {
		dec, err := newDecoder(a.params, serveOpts.services, serveOpts.strict, rawdec.DefaultMaxWays, rawdec.MaxJobs)
		if err != nil {
			log.Error("decoder setup failed", "error", err)
			closeInput(input)
			return
		}
		p = pipeline.New(key, input, dec, sinks...)
	}
	a.distSrv.SetPipeline(key, p)

	log.Info("stream started", "session", sess.ID)
	if err := p.Run(ctx); err != nil {
		log.Error("pipeline error", "error", err)
	}
	log.Info("stream ended", "session", sess.ID)
}

// teardownStream removes all resources for a stream across the distribution
// server and stream manager in a single call.
func (a *app) teardownStream(key string) {
	a.distSrv.UnregisterStream(key)
	a.mgr.Remove(key)
}

func closeInput(input io.Reader) {
	if c, ok := input.(io.Closer); ok {
		c.Close()
	}
}

func buildStreamDescription(info distribution.StreamInfo) string {
	var parts []string
	if info.Format != "" {
		parts = append(parts, info.Format)
	}
	if len(info.Services) > 0 {
		parts = append(parts, strings.Join(info.Services, ", "))
	}
	if info.Frames > 0 {
		parts = append(parts, fmt.Sprintf("%d frames", info.Frames))
	}
	return strings.Join(parts, " · ")
}
