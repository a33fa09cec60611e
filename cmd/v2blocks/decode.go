package main

import (
	"fmt"
	"strings"

	"github.com/resident-x/go-v2blocks/internal/codec"
	"github.com/resident-x/go-v2blocks/internal/parser"
	"github.com/spf13/cobra"
)

func newDecodeCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "decode <block> <hex>...",
		Short: "Decode one block payload",
		Long: `Decode a hex payload of a block and print the record as JSON.

Hex may be split over several arguments, e.g.
  v2blocks decode 1 07d5 0002`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseBlockID(args[0])
			if err != nil {
				return err
			}
			reg, err := o.registry()
			if err != nil {
				return err
			}

			version := o.protocolVersion()
			rec, err := parser.NewParser(reg).DecodeHex(id, version, strings.Join(args[1:], ""))
			if err != nil {
				return fmt.Errorf("block %d v%d (%s): %w", id, version, codec.Kind(err), err)
			}
			return writeJSON(cmd.OutOrStdout(), rec)
		},
	}
}
