package cli

import (
	"fmt"
	"strings"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
	"github.com/spf13/cobra"

	"syncevo/config"
	"syncevo/luid"
	"syncevo/revstore"
)

func newDumpCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Print the persisted revision map",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := revstore.Open(cfg.StoreOptions())
			if err != nil {
				return serr.Wrap(err, "failed to open revision store")
			}
			defer func() {
				if err := store.Close(); err != nil {
					logger.LogErr(err, "failed to close revision store")
				}
			}()

			revs, dbRevision, err := store.Load()
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if dbRevision == "" {
				dbRevision = mutedStyle.Render("(none)")
			}
			fmt.Fprintf(w, "%s %s\n", headerStyle.Render("database revision:"), dbRevision)

			codec := luid.Default()
			for _, mainID := range revs.MainIDs() {
				entry := revs[mainID]
				fmt.Fprintf(w, "%s  %s %s  %s %s\n",
					headerStyle.Render(codec.Encode(mainID, "")),
					mutedStyle.Render("rev"), entry.Revision,
					mutedStyle.Render("uid"), entry.UID,
				)
				subs := make([]string, 0, len(entry.SubIDs))
				for _, subID := range entry.SubIDs.Sorted() {
					subs = append(subs, "    "+codec.Encode(mainID, subID))
				}
				fmt.Fprintln(w, strings.Join(subs, "\n"))
			}
			fmt.Fprintf(w, "%s %d\n", headerStyle.Render("items:"), len(revs))
			return nil
		},
	}
}
