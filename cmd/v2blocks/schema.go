package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newSchemaCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema [block]",
		Short: "List registered blocks or show one block's layouts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := o.registry()
			if err != nil {
				return err
			}

			if len(args) == 1 {
				id, err := parseBlockID(args[0])
				if err != nil {
					return err
				}
				sel, ok := reg.Selector(id)
				if !ok {
					return fmt.Errorf("block %d is not registered", id)
				}
				return writeJSON(cmd.OutOrStdout(), sel.Block)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "BLOCK\tNAME\tWRITABLE\tVERSIONS\tDESCRIPTION")
			for _, id := range reg.Blocks() {
				sel, _ := reg.Selector(id)
				fmt.Fprintf(tw, "%d\t%s\t%t\t%v\t%s\n",
					id, sel.Block.Name, sel.Block.Writable, sel.Versions(), sel.Block.Description)
			}
			return tw.Flush()
		},
	}
}
