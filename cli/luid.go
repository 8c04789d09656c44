package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"syncevo/luid"
)

func newLUIDCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "luid",
		Short: "Encode and decode LUIDs",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "encode MAIN [SUB]",
		Short: "Join a main id and an optional sub id into a LUID",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sub := ""
			if len(args) == 2 {
				sub = args[1]
			}
			fmt.Fprintln(cmd.OutOrStdout(), luid.Encode(args[0], sub))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "decode LUID",
		Short: "Split a LUID into main id and sub id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mainID, subID := luid.Decode(args[0])
			fmt.Fprintf(cmd.OutOrStdout(), "main: %q\nsub:  %q\n", mainID, subID)
			return nil
		},
	})

	return cmd
}
