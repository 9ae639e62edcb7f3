package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pedeee/ticketwatch/internal/config"
	"github.com/pedeee/ticketwatch/internal/logging"
)

// rootFlags holds the persistent flags shared by every subcommand.
type rootFlags struct {
	ConfigPath string
	Dev        bool
}

// app carries the loaded configuration and logger. It is populated by
// the root command's PersistentPreRunE, so subcommand RunE bodies can
// assume both fields are set.
type app struct {
	cfg config.Config
	log *zap.Logger
}

func (a *app) close() {
	if a.log != nil {
		_ = a.log.Sync()
	}
}

// newRootCmd builds the CLI tree. Configuration is loaded once, before
// any subcommand runs, so `--config` and environment overrides apply
// uniformly.
func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	a := &app{}

	root := &cobra.Command{
		Use:   "ticketwatch",
		Short: "Watch ticket-sale event pages for status changes",
		Long: `ticketwatch polls a list of event pages, extracts each event's ticket
status (price, sold out, date), diffs it against the previous run, and
reports what changed.

Examples:
  ticketwatch run                      # watch the configured URL file
  ticketwatch run --batch extra.txt    # fetch every URL in extra.txt
  ticketwatch urls add <url>           # grow the watch list
  ticketwatch batch init --size 75     # split the list into batch files`,

		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.ConfigPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("dev") {
				cfg.Logging.Development = flags.Dev
			}
			log, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			a.cfg = cfg
			a.log = log
			return nil
		},

		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			a.close()
		},
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to config file (optional)")
	root.PersistentFlags().BoolVar(&flags.Dev, "dev", false, "force development (console) logging")

	root.AddCommand(
		newRunCmd(a),
		newURLsCmd(a),
		newBatchCmd(a),
	)

	return root
}
