package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zsiec/rawvbi/sampling"
	"github.com/zsiec/rawvbi/service"
)

var servicesPreset string

var servicesCmd = &cobra.Command{
	Use:   "services",
	Short: "List the data services the decoder knows",
	Long: `List the service catalog: timing, line ranges and coding of every
service. With --preset, also report whether that capture geometry can
carry each service.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var geom *sampling.Parameters
		if servicesPreset != "" {
			p, ok := sampling.Preset(servicesPreset)
			if !ok {
				return fmt.Errorf("unknown preset %q, have %v", servicesPreset, sampling.PresetNames())
			}
			geom = &p
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		header := "ID\tSERVICE\tSTANDARDS\tLINES\tOFFSET\tRATE\tBITS\tCODING"
		if geom != nil {
			header += "\t" + servicesPreset
		}
		fmt.Fprintln(tw, header)
		for _, d := range service.Catalog() {
			fmt.Fprintf(tw, "%#08x\t%s\t%v\t%s\t%.2fus\t%.4fMbit/s\t%d\t%v",
				uint32(d.ID), d.Label, d.Standards, lineRanges(d),
				float64(d.Offset)/1000, float64(d.BitRate)/1e6, d.PayloadBits, d.Modulation)
			if geom != nil {
				status := "yes"
				if err := service.Check(*geom, &d, service.Lenient); err != nil {
					status = err.Error()
				}
				fmt.Fprintf(tw, "\t%s", status)
			}
			fmt.Fprintln(tw)
		}
		return tw.Flush()
	},
}

func lineRanges(d service.Descriptor) string {
	var s string
	for f := range 2 {
		if !d.UsesField(f) {
			continue
		}
		if s != "" {
			s += ","
		}
		if d.First[f] == d.Last[f] {
			s += fmt.Sprint(d.First[f])
		} else {
			s += fmt.Sprintf("%d-%d", d.First[f], d.Last[f])
		}
	}
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	servicesCmd.Flags().StringVar(&servicesPreset, "preset", "", "check services against a capture geometry preset")
	rootCmd.AddCommand(servicesCmd)
}
