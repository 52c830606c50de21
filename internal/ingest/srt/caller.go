package srt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/rawvbi/internal/ingest"
)

// dialTimeout bounds how long Pull and Dial wait for the handshake.
const dialTimeout = 10 * time.Second

// Errors returned by Caller.
var (
	ErrPullActive = errors.New("srt: pull already active")
	ErrNoPull     = errors.New("srt: no active pull")
)

// PullRequest describes a remote SRT source to pull from.
type PullRequest struct {
	Address   string             `json:"address"`
	StreamKey string             `json:"streamKey"`
	StreamID  string             `json:"streamId,omitempty"`
	Format    ingest.InputFormat `json:"format"`
}

func (r PullRequest) validate() error {
	if r.Address == "" {
		return fmt.Errorf("address is required")
	}
	if r.StreamKey == "" {
		return fmt.Errorf("streamKey is required")
	}
	return nil
}

type activePull struct {
	req    PullRequest
	cancel context.CancelFunc
}

// Caller manages SRT pull connections, dialing remote SRT sources
// and streaming their data into the ingest registry.
type Caller struct {
	log      *slog.Logger
	registry *ingest.Registry

	mu    sync.Mutex
	pulls map[string]*activePull
}

// NewCaller creates a Caller that uses the given registry to register
// pulled streams. If log is nil, slog.Default() is used.
func NewCaller(registry *ingest.Registry, log *slog.Logger) *Caller {
	if log == nil {
		log = slog.Default()
	}
	return &Caller{
		log:      log.With("component", "srt-caller"),
		registry: registry,
		pulls:    make(map[string]*activePull),
	}
}

// Pull dials the remote SRT listener synchronously (with a timeout),
// returning an error if the connection fails. On success, streaming
// continues in a background goroutine.
func (c *Caller) Pull(ctx context.Context, req PullRequest) error {
	if err := req.validate(); err != nil {
		return err
	}
	if c.active(req.StreamKey) {
		return fmt.Errorf("%w for stream key %q", ErrPullActive, req.StreamKey)
	}

	c.log.Info("dialing", "address", req.Address, "stream_key", req.StreamKey)

	streamID := req.StreamID
	if streamID == "" {
		streamID = StreamID(req.StreamKey, req.Format)
	}
	conn, err := Dial(ctx, req.Address, streamID)
	if err != nil {
		return err
	}
	return c.startStreaming(ctx, req, conn)
}

// Dial connects to an SRT listener with the given stream id. It gives up
// after a fixed timeout or when ctx is cancelled; a connection that
// completes after that is closed.
func Dial(ctx context.Context, addr, streamID string) (*srtgo.Conn, error) {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs
	cfg.StreamID = streamID

	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(addr, cfg)
		ch <- dialResult{conn, err}
	}()

	timer := time.NewTimer(dialTimeout)
	defer timer.Stop()

	drain := func() {
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("SRT dial failed: %w", res.err)
		}
		return res.conn, nil
	case <-timer.C:
		drain()
		return nil, fmt.Errorf("SRT dial timed out after %s", dialTimeout)
	case <-ctx.Done():
		drain()
		return nil, ctx.Err()
	}
}

func (c *Caller) active(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pulls[key]
	return ok
}

func (c *Caller) startStreaming(ctx context.Context, req PullRequest, conn *srtgo.Conn) error {
	pullCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if _, exists := c.pulls[req.StreamKey]; exists {
		c.mu.Unlock()
		cancel()
		conn.Close()
		return fmt.Errorf("%w for stream key %q", ErrPullActive, req.StreamKey)
	}
	c.pulls[req.StreamKey] = &activePull{req: req, cancel: cancel}
	c.mu.Unlock()

	c.log.Info("connected", "address", req.Address, "stream_key", req.StreamKey, "format", req.Format)

	stream, writer := c.registry.Register(req.StreamKey, req.Format)
	stream.SetRemoteAddr(req.Address)

	closeConn := sync.OnceFunc(func() { conn.Close() })

	go func() {
		defer func() {
			closeConn()
			stats := stream.IngestStats()
			c.registry.UnregisterStream(req.StreamKey, stream)
			c.mu.Lock()
			delete(c.pulls, req.StreamKey)
			c.mu.Unlock()
			c.log.Info("pull ended", "stream_key", req.StreamKey,
				"bytes", stats.BytesReceived, "reads", stats.ReadCount,
				"uptime_ms", stats.UptimeMs)
		}()

		// Closing the connection unblocks a pending Read on cancellation.
		go func() {
			<-pullCtx.Done()
			closeConn()
		}()
		copyInto(pullCtx, c.log, conn, stream, writer)
		cancel()
	}()

	return nil
}

// Stop cancels the pull for streamKey.
func (c *Caller) Stop(streamKey string) error {
	c.mu.Lock()
	ap, ok := c.pulls[streamKey]
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w for stream key %q", ErrNoPull, streamKey)
	}

	ap.cancel()
	return nil
}

// ActivePulls returns the requests of all running pulls, ordered by
// stream key.
func (c *Caller) ActivePulls() []PullRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]PullRequest, 0, len(c.pulls))
	for _, ap := range c.pulls {
		out = append(out, ap.req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StreamKey < out[j].StreamKey })
	return out
}
