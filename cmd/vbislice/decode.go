package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zsiec/ccx"

	"github.com/zsiec/rawvbi/captions"
	"github.com/zsiec/rawvbi/internal/pipeline"
	"github.com/zsiec/rawvbi/internal/recordio"
	"github.com/zsiec/rawvbi/rawdec"
	"github.com/zsiec/rawvbi/sampling"
)

var decodeOpts struct {
	geometry geometryFlags
	services string
	strict   int
	maxWays  int
	maxJobs  int
	output   string
	records  bool
	dump     bool
}

var decodeCmd = &cobra.Command{
	Use:   "decode [file]",
	Short: "Decode raw VBI frames from a file or stdin",
	Long: `Decode raw VBI frames, each one frame of the capture geometry in size,
and write what was found to stdout.

Output formats:
  text      one line per record: frame, line, service, payload in hex
  records   the recordio wire format, for relaying with push --records
  captions  decoded caption text with presentation time and channel`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDecode,
}

func init() {
	f := decodeCmd.Flags()
	decodeOpts.geometry.bind(f)
	f.StringVarP(&decodeOpts.services, "services", "s", envOr("VBI_SERVICES", defaultServices), "comma separated services to decode")
	f.IntVar(&decodeOpts.strict, "strict", envIntOr("VBI_STRICT", 0), "service matching strictness, 0 to 2")
	f.IntVar(&decodeOpts.maxWays, "max-ways", rawdec.DefaultMaxWays, "services probed per line")
	f.IntVar(&decodeOpts.maxJobs, "max-jobs", rawdec.MaxJobs, "distinct service jobs")
	f.StringVarP(&decodeOpts.output, "output", "o", "text", "output format: text, records or captions")
	f.BoolVar(&decodeOpts.records, "records", false, "input is a recordio stream instead of raw frames")
	f.BoolVar(&decodeOpts.dump, "dump", false, "print the decoder job and line tables to stderr")
	rootCmd.AddCommand(decodeCmd)
}

func runDecode(cmd *cobra.Command, args []string) error {
	p, err := decodeOpts.geometry.params()
	if err != nil {
		return err
	}

	sink, err := outputSink(os.Stdout, decodeOpts.output, p)
	if err != nil {
		return err
	}

	in, err := openInput(args)
	if err != nil {
		return err
	}
	defer in.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var pl *pipeline.Pipeline
	if decodeOpts.records {
		pl = pipeline.NewRelay("stdin", in, sink)
	} else {
		dec, err := newDecoder(p, decodeOpts.services, decodeOpts.strict, decodeOpts.maxWays, decodeOpts.maxJobs)
		if err != nil {
			return err
		}
		slog.Info("decoding", "services", dec.Services(), "frame_size", p.FrameSize())
		pl = pipeline.New("stdin", in, dec, sink)
	}
	pl.SetLogger(slog.Default())

	if decodeOpts.dump {
		if err := pl.Dump(os.Stderr); err != nil {
			return err
		}
	}

	err = pl.Run(ctx)
	st := pl.Stats()
	slog.Info("decode finished", "frames", st.Frames, "records", st.Records, "empty", st.Empty, "short_reads", st.ShortReads)
	return err
}

func newDecoder(p sampling.Parameters, services string, strict, maxWays, maxJobs int) (*rawdec.Decoder, error) {
	ids, err := parseServices(services)
	if err != nil {
		return nil, err
	}
	return rawdec.New(p,
		rawdec.WithLogger(slog.Default()),
		rawdec.WithServices(ids),
		rawdec.WithStrict(strict),
		rawdec.WithMaxWays(maxWays),
		rawdec.WithMaxJobs(maxJobs),
	)
}

func outputSink(w io.Writer, format string, p sampling.Parameters) (pipeline.Sink, error) {
	switch format {
	case "text":
		return pipeline.NewTextSink(w), nil
	case "records":
		return recordio.NewWriter(w), nil
	case "captions":
		return &pipeline.CaptionSink{
			Bridge:     captions.NewBridge(slog.Default()),
			FrameTicks: pipeline.FrameTicks(p.Scanning),
			Emit: func(f *ccx.CaptionFrame) error {
				_, err := fmt.Fprintf(w, "%10d cc%d %q\n", f.PTS, f.Channel, f.Text)
				return err
			},
		}, nil
	}
	return nil, fmt.Errorf("unknown output format %q", format)
}

// openInput opens the named file, or stdin when no file or "-" is given.
func openInput(args []string) (*os.File, error) {
	if len(args) == 0 || args[0] == "-" {
		return os.Stdin, nil
	}
	return os.Open(args[0])
}
