package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/zsiec/rawvbi/captions"
	"github.com/zsiec/rawvbi/internal/vbitest"
)

var genOpts struct {
	geometry geometryFlags
	services string
	frames   int
	caption  string
	output   string
}

var genCmd = &cobra.Command{
	Use:   "gen",
	Short: "Write synthetic raw VBI frames",
	Long: `Write raw VBI frames carrying the requested services on the first line
of each field they may occupy. Caption lines repeat --caption as a pop-on
caption that is shown for two seconds and then erased. Other services
carry a counting pattern.`,
	Args: cobra.NoArgs,
	RunE: runGen,
}

func init() {
	f := genCmd.Flags()
	genOpts.geometry.bind(f)
	f.StringVarP(&genOpts.services, "services", "s", envOr("VBI_SERVICES", defaultServices), "comma separated services to transmit")
	f.IntVarP(&genOpts.frames, "frames", "n", 250, "number of frames")
	f.StringVar(&genOpts.caption, "caption", "", "caption text")
	f.StringVarP(&genOpts.output, "output", "o", "-", "output file")
	rootCmd.AddCommand(genCmd)
}

// captionLoop returns the pairs of one caption cycle: the caption, two
// seconds on screen, the erase and one second blank.
func captionLoop(text string, fps int) [][2]byte {
	if text == "" {
		return nil
	}
	pairs := captions.PopOn(text)
	for range 2 * fps {
		pairs = append(pairs, captions.Padding)
	}
	pairs = append(pairs, captions.Clear()...)
	for range fps {
		pairs = append(pairs, captions.Padding)
	}
	return pairs
}

func runGen(cmd *cobra.Command, args []string) error {
	p, err := genOpts.geometry.params()
	if err != nil {
		return err
	}
	ids, err := parseServices(genOpts.services)
	if err != nil {
		return err
	}
	fps := 25
	if p.Scanning == 525 {
		fps = 30
	}
	g, err := vbitest.NewGenerator(p, ids, captionLoop(genOpts.caption, fps))
	if err != nil {
		return err
	}

	out := os.Stdout
	if genOpts.output != "-" {
		if out, err = os.Create(genOpts.output); err != nil {
			return err
		}
		defer out.Close()
	}
	w := bufio.NewWriter(out)

	slog.Info("generating", "services", g.Services(), "frames", genOpts.frames, "frame_size", p.FrameSize())
	for i := 0; i < genOpts.frames; i++ {
		frame, err := g.Next()
		if err != nil {
			return err
		}
		if _, err := w.Write(frame); err != nil {
			return fmt.Errorf("write frame %d: %w", i, err)
		}
	}
	return w.Flush()
}
