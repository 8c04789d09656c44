// Package cli is the syncevo command line: it runs map sync sessions
// against a directory and inspects revision stores.
package cli

import (
	"github.com/rohanthewiz/logger"
	"github.com/spf13/cobra"

	"syncevo/config"
)

// storeFlags override the environment configuration.
type storeFlags struct {
	driver   string
	path     string
	format   string
	source   string
	logLevel string
}

// NewRootCmd builds the command tree on top of cfg. Flags given on the
// command line replace the corresponding cfg values.
func NewRootCmd(cfg *config.Config) *cobra.Command {
	var flags storeFlags

	root := &cobra.Command{
		Use:   "syncevo",
		Short: "Map sync source tooling",
		Long: `Run change detection sessions of a map sync source and inspect the
revision store it keeps between sessions.

Settings come from SYNCEVO_* environment variables; flags override them.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			applyFlags(cmd, cfg, flags)
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger.SetLogLevel(cfg.LogLevel)
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.driver, "driver", cfg.StoreDriver, "store driver: file, duckdb or sqlite3")
	pf.StringVar(&flags.path, "store", cfg.StorePath, "store directory (file) or database file")
	pf.StringVar(&flags.format, "format", cfg.RecordFormat, "record format: slash or msgpack")
	pf.StringVar(&flags.source, "source", cfg.SourceName, "sync source name")
	pf.StringVar(&flags.logLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn or error")

	root.AddCommand(newScanCmd(cfg), newDumpCmd(cfg), newLUIDCmd())
	return root
}

func applyFlags(cmd *cobra.Command, cfg *config.Config, flags storeFlags) {
	pf := cmd.Flags()
	if pf.Changed("driver") {
		cfg.StoreDriver = flags.driver
	}
	if pf.Changed("store") {
		cfg.StorePath = flags.path
	}
	if pf.Changed("format") {
		cfg.RecordFormat = flags.format
	}
	if pf.Changed("source") {
		cfg.SourceName = flags.source
	}
	if pf.Changed("log-level") {
		cfg.LogLevel = flags.logLevel
	}
}

// Execute runs the command line with the process arguments.
func Execute(cfg *config.Config) error {
	return NewRootCmd(cfg).Execute()
}
