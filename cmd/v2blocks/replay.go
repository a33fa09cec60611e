package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/resident-x/go-v2blocks/internal/parser"
	"github.com/resident-x/go-v2blocks/internal/replay"
	"github.com/spf13/cobra"
)

func newReplayCmd(o *rootOptions) *cobra.Command {
	var (
		asJSON bool
		strict bool
	)

	cmd := &cobra.Command{
		Use:   "replay <file>",
		Short: "Decode every capture of a YAML or CBOR capture file",
		Long: `Decode the captures of a file in order and report the outcome of each.

Files ending in .cbor hold a CBOR array of captures; anything else is read as
YAML. A capture without a version uses the version reported by the latest
protocol info block before it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			captures, err := replay.Load(args[0])
			if err != nil {
				return err
			}
			if o.versionOverride > 0 {
				for i := range captures {
					captures[i].Version = o.versionOverride
				}
			}
			reg, err := o.registry()
			if err != nil {
				return err
			}

			report := replay.Run(parser.NewParser(reg), captures)

			if asJSON {
				if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
			} else {
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "#\tNAME\tBLOCK\tVERSION\tRESULT\tERROR")
				for _, r := range report.Results {
					fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%s\t%s\n", r.Index, r.Name, r.Block, r.Version, r.Kind, r.Error)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "\n%d captures, %d decoded, %d failed\n", report.Total, report.Decoded, report.Failed)
				for _, kind := range report.Kinds() {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s: %d\n", kind, report.ByKind[kind])
				}
			}

			if strict && report.Failed > 0 {
				return fmt.Errorf("%d of %d captures failed to decode", report.Failed, report.Total)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full report as JSON")
	cmd.Flags().BoolVar(&strict, "strict", false, "Exit with an error when any capture fails")
	return cmd
}
