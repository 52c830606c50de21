package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/zsiec/rawvbi/sampling"
	"github.com/zsiec/rawvbi/service"
)

var version = "dev"

var debug bool

var rootCmd = &cobra.Command{
	Use:   "vbislice",
	Short: "Decode teletext, captions, VPS and WSS from raw VBI captures",
	Long: `vbislice slices the data services carried in the vertical blanking
interval of analog video out of raw captured lines.

Examples:
  vbislice services                                  # List the service catalog
  vbislice decode --preset pal-13.5 capture.raw      # Print decoded records
  vbislice gen --preset ntsc-13.5 --caption HELLO | vbislice decode --preset ntsc-13.5 -o captions
  vbislice serve                                     # SRT ingest with HTTPS and HTTP/3 feeds`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if debug || os.Getenv("DEBUG") != "" {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "debug logging (also enabled by DEBUG)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "vbislice:", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

// geometryFlags describes a capture geometry as a preset with optional
// per-field overrides.
type geometryFlags struct {
	fs *pflag.FlagSet

	preset      string
	scanning    int
	format      string
	rate        int
	bytes       int
	offset      int
	start       []int
	count       []int
	interlaced  bool
	synchronous bool
}

func (g *geometryFlags) bind(fs *pflag.FlagSet) {
	g.fs = fs
	fs.StringVar(&g.preset, "preset", envOr("VBI_PRESET", "pal-13.5"), "capture geometry preset")
	fs.IntVar(&g.scanning, "scanning", 0, "scanning system, 525 or 625")
	fs.StringVar(&g.format, "format", "", "sample format")
	fs.IntVar(&g.rate, "rate", 0, "sampling rate in Hz")
	fs.IntVar(&g.bytes, "bytes-per-line", 0, "bytes per captured line")
	fs.IntVar(&g.offset, "offset", 0, "samples between 0H and the first captured sample")
	fs.IntSliceVar(&g.start, "start", nil, "first captured line of field 1 and field 2")
	fs.IntSliceVar(&g.count, "count", nil, "captured lines of field 1 and field 2")
	fs.BoolVar(&g.interlaced, "interlaced", false, "lines of both fields alternate")
	fs.BoolVar(&g.synchronous, "synchronous", true, "capture knows the field order")
}

// params resolves the preset and applies the flags set on the command
// line.
func (g *geometryFlags) params() (sampling.Parameters, error) {
	p, ok := sampling.Preset(g.preset)
	if !ok {
		return p, fmt.Errorf("unknown preset %q, have %v", g.preset, sampling.PresetNames())
	}
	changed := g.fs.Changed
	if changed("scanning") {
		p.Scanning = g.scanning
	}
	if changed("format") {
		f, err := sampling.ParsePixelFormat(g.format)
		if err != nil {
			return p, err
		}
		p.Format = f
	}
	if changed("rate") {
		p.SamplingRate = g.rate
	}
	if changed("bytes-per-line") {
		p.BytesPerLine = g.bytes
	}
	if changed("offset") {
		p.Offset = g.offset
	}
	if changed("start") {
		if len(g.start) != 2 {
			return p, fmt.Errorf("--start needs two lines, got %v", g.start)
		}
		p.Start = [2]int{g.start[0], g.start[1]}
	}
	if changed("count") {
		if len(g.count) != 2 {
			return p, fmt.Errorf("--count needs two counts, got %v", g.count)
		}
		p.Count = [2]int{g.count[0], g.count[1]}
	}
	if changed("interlaced") {
		p.Interlaced = g.interlaced
	}
	if changed("synchronous") {
		p.Synchronous = g.synchronous
	}
	if _, err := sampling.Validate(p); err != nil {
		return p, err
	}
	return p, nil
}

const defaultServices = "teletext,vps,wss,caption-525,caption-625"

func parseServices(s string) (service.ID, error) {
	ids, err := service.ParseList(s)
	if err != nil {
		return 0, err
	}
	if ids == 0 {
		return 0, fmt.Errorf("no services in %q", s)
	}
	return ids, nil
}
