package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zsiec/rawvbi/internal/ingest"
	srtingest "github.com/zsiec/rawvbi/internal/ingest/srt"
	"github.com/zsiec/rawvbi/internal/pipeline"
	"github.com/zsiec/rawvbi/internal/recordio"
)

var pushOpts struct {
	geometry geometryFlags
	addr     string
	key      string
	records  bool
	loop     bool
}

var pushCmd = &cobra.Command{
	Use:   "push [file]",
	Short: "Publish raw VBI frames or records to an SRT listener",
	Long: `Send a raw VBI capture, or a recordio stream with --records, to an SRT
listener such as "vbislice serve", one frame per frame period of the
capture geometry.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPush,
}

func init() {
	f := pushCmd.Flags()
	pushOpts.geometry.bind(f)
	f.StringVar(&pushOpts.addr, "addr", envOr("VBI_SRT_ADDR", "127.0.0.1:6000"), "SRT listener address")
	f.StringVarP(&pushOpts.key, "key", "k", "", "stream key")
	f.BoolVar(&pushOpts.records, "records", false, "input is a recordio stream")
	f.BoolVar(&pushOpts.loop, "loop", false, "restart at the end of the input file")
	pushCmd.MarkFlagRequired("key")
	rootCmd.AddCommand(pushCmd)
}

// srtChunkSize is the largest message sent in SRT live mode.
const srtChunkSize = 1316

// frameReader returns successive frames of an input as they are sent.
type frameReader func() ([]byte, error)

func rawFrames(r io.Reader, size int) frameReader {
	buf := make([]byte, size)
	return func() ([]byte, error) {
		if _, err := io.ReadFull(r, buf); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				slog.Warn("dropping partial frame at end of input")
				return nil, io.EOF
			}
			return nil, err
		}
		return buf, nil
	}
}

func recordFrames(r io.Reader) frameReader {
	rr := recordio.NewReader(r)
	var buf []byte
	return func() ([]byte, error) {
		f, err := rr.ReadFrame()
		if err != nil {
			return nil, err
		}
		buf = recordio.AppendFrame(buf[:0], f.Seq, f.Records)
		return buf, nil
	}
}

func runPush(cmd *cobra.Command, args []string) error {
	p, err := pushOpts.geometry.params()
	if err != nil {
		return err
	}
	in, err := openInput(args)
	if err != nil {
		return err
	}
	defer in.Close()
	if pushOpts.loop && in == os.Stdin {
		return errors.New("--loop needs an input file")
	}

	format := ingest.FormatRawVBI
	if pushOpts.records {
		format = ingest.FormatRecords
	}
	open := func() frameReader {
		if pushOpts.records {
			return recordFrames(in)
		}
		return rawFrames(in, p.FrameSize())
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	streamID := srtingest.StreamID(pushOpts.key, format)
	conn, err := srtingest.Dial(ctx, pushOpts.addr, streamID)
	if err != nil {
		return err
	}
	defer conn.Close()
	slog.Info("publishing", "addr", pushOpts.addr, "stream_id", streamID, "format", format)

	period := time.Duration(pipeline.FrameTicks(p.Scanning)) * time.Second / 90000
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	next := open()
	var sent, pass int64
	for {
		frame, err := next()
		if err == io.EOF && pushOpts.loop {
			if pass == 0 {
				return errors.New("input holds no complete frame")
			}
			pass = 0
			if _, err := in.Seek(0, io.SeekStart); err != nil {
				return fmt.Errorf("rewind input: %w", err)
			}
			next = open()
			continue
		}
		if err == io.EOF {
			slog.Info("input finished", "frames", sent)
			return nil
		}
		if err != nil {
			return err
		}
		for len(frame) > 0 {
			n := min(len(frame), srtChunkSize)
			if _, err := conn.Write(frame[:n]); err != nil {
				return fmt.Errorf("SRT write: %w", err)
			}
			frame = frame[n:]
		}
		sent++
		pass++

		select {
		case <-ctx.Done():
			slog.Info("stopped", "frames", sent)
			return nil
		case <-ticker.C:
		}
	}
}
