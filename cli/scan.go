package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
	"github.com/spf13/cobra"

	"syncevo/config"
	"syncevo/dirsource"
	"syncevo/luid"
	"syncevo/mapsync"
	"syncevo/revstore"
)

// anchorSlot keeps the continuation token between scan runs.
const anchorSlot = "anchor"

func newScanCmd(cfg *config.Config) *cobra.Command {
	var (
		dir    string
		slow   bool
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one sync session against a directory",
		Long: `Run one map sync session against the items in a directory and list what
changed since the last successful scan.

Top-level files are plain items; top-level directories are merged items whose
files are the sub-items. With --dry-run the session ends as failed, so the
revision store is left untouched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				return serr.New("--dir is required")
			}
			return runScan(cmd, cfg, dir, slow, dryRun)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "directory holding the items")
	cmd.Flags().BoolVar(&slow, "slow", false, "force a slow sync")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "do not update the revision store")
	return cmd
}

func runScan(cmd *cobra.Command, cfg *config.Config, dir string, slow, dryRun bool) error {
	ctx := cmd.Context()

	// A missing directory would look like "every item deleted"
	info, err := os.Stat(dir)
	if err != nil {
		return serr.Wrap(err, "cannot scan "+dir)
	}
	if !info.IsDir() {
		return serr.New(dir + " is not a directory")
	}

	store, err := revstore.Open(cfg.StoreOptions())
	if err != nil {
		return serr.Wrap(err, "failed to open revision store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.LogErr(err, "failed to close revision store")
		}
	}()

	anchor := store.Slot(anchorSlot)
	lastToken := ""
	if !slow {
		if lastToken, err = anchor.Read(); err != nil {
			return serr.Wrap(err, "failed to read continuation token")
		}
	}

	src := mapsync.New(cfg.SourceName, dirsource.New(osfs.New(dir)), store, luid.Default())
	if err := src.BeginSync(ctx, lastToken, ""); err != nil {
		if src.IsOpen() {
			if _, endErr := src.EndSync(ctx, false); endErr != nil {
				logger.LogErr(endErr, "failed to abort session")
			}
		}
		return err
	}

	printSession(cmd.OutOrStdout(), src, func(l string) string {
		desc, err := src.Description(ctx, l)
		if err != nil {
			return ""
		}
		return desc
	})

	token, err := src.EndSync(ctx, !dryRun)
	if err != nil {
		return err
	}
	if dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("dry run: revision store not updated"))
		return nil
	}

	anchor.Write(token)
	if err := anchor.Flush(); err != nil {
		return serr.Wrap(err, "failed to store continuation token")
	}
	return nil
}

// printSession lists the detection mode and every annotated LUID. Deleted
// items no longer exist, so only the others get a description.
func printSession(w io.Writer, src *mapsync.MapSyncSource, describe func(string) string) {
	fmt.Fprintf(w, "%s %s\n", headerStyle.Render("mode:"), modeStyle.Render(src.Mode().String()))

	groups := []struct {
		kind  mapsync.ChangeKind
		luids []string
	}{
		{mapsync.ChangeNew, src.NewItems()},
		{mapsync.ChangeUpdated, src.UpdatedItems()},
		{mapsync.ChangeDeleted, src.DeletedItems()},
	}
	for _, g := range groups {
		for _, l := range g.luids {
			line := fmt.Sprintf("%-8s %s", g.kind.String(), l)
			if g.kind != mapsync.ChangeDeleted {
				if desc := describe(l); desc != "" {
					line += "  " + mutedStyle.Render(desc)
				}
			}
			fmt.Fprintln(w, changeStyle(g.kind).Render(line))
		}
	}

	fmt.Fprintf(w, "%s %d items, %d new, %d updated, %d deleted\n",
		headerStyle.Render("total:"),
		len(src.AllItems()),
		len(groups[0].luids), len(groups[1].luids), len(groups[2].luids),
	)
}
